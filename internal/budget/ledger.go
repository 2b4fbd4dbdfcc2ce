// Package budget tracks daily API spend and gates paid operations against a
// daily limit.
package budget

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/notify"
	"github.com/kcmetrolive/metro-agent/internal/state"
	"github.com/kcmetrolive/metro-agent/internal/store"
)

const dayLayout = "2006-01-02"

// BatchEventCost is the per-event rate for batch sizes missing from the
// operation cost table.
const BatchEventCost = 0.50

// DefaultOperationCosts are the estimated unit costs per operation kind.
func DefaultOperationCosts() map[string]float64 {
	return map[string]float64{
		"api_call_basic":         0.02,
		"api_call_research":      0.15,
		"api_call_comprehensive": 0.50,
		"image_generation":       0.07,
		"live_search_source":     0.025,
		"daily_batch_5_events":   2.50,
		"daily_batch_10_events":  5.00,
		"daily_batch_20_events":  10.00,
		"test_run_2_events":      0.50,
		"monthly_update":         1.00,
	}
}

// BatchOperation names the operation kind for a batch of limit events.
func BatchOperation(limit int) string {
	return fmt.Sprintf("daily_batch_%d_events", limit)
}

// batchSize returns the event count encoded in a batch operation kind.
func batchSize(kind string) (int, bool) {
	rest, ok := strings.CutPrefix(kind, "daily_batch_")
	if !ok {
		return 0, false
	}
	rest, ok = strings.CutSuffix(rest, "_events")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(rest)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

// Config holds ledger settings.
type Config struct {
	DailyLimit      float64            `yaml:"daily_limit" mapstructure:"daily_limit"`
	WarningRatio    float64            `yaml:"warning_ratio" mapstructure:"warning_ratio"`
	LogCap          int                `yaml:"log_cap" mapstructure:"log_cap"`
	DefaultUnitCost float64            `yaml:"default_unit_cost" mapstructure:"default_unit_cost"`
	OperationCosts  map[string]float64 `yaml:"operation_costs" mapstructure:"operation_costs"`
	Timezone        string             `yaml:"timezone" mapstructure:"timezone"`
}

// AutoRunController turns off scheduled execution and clears any pending
// trigger.
type AutoRunController interface {
	DisableAutoRun(ctx context.Context, reason string) error
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithNotifier sets the notification sink for warnings and exhaustion.
func WithNotifier(n notify.Notifier) Option {
	return func(l *Ledger) { l.notifier = n }
}

// WithAutoRun sets the controller disabled when the budget is exhausted.
func WithAutoRun(c AutoRunController) Option {
	return func(l *Ledger) { l.autorun = c }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Ledger tracks per-day spend.
type Ledger struct {
	days     store.Ledger
	st       state.State
	cfg      Config
	loc      *time.Location
	notifier notify.Notifier
	autorun  AutoRunController
	now      func() time.Time

	logMu sync.Mutex
}

// New creates a Ledger. An invalid timezone falls back to UTC.
func New(days store.Ledger, st state.State, cfg Config, opts ...Option) *Ledger {
	if cfg.WarningRatio <= 0 {
		cfg.WarningRatio = 0.8
	}
	if cfg.LogCap <= 0 {
		cfg.LogCap = 100
	}
	if cfg.DefaultUnitCost <= 0 {
		cfg.DefaultUnitCost = 0.10
	}
	if cfg.OperationCosts == nil {
		cfg.OperationCosts = DefaultOperationCosts()
	}

	loc := time.UTC
	if cfg.Timezone != "" {
		if l, err := time.LoadLocation(cfg.Timezone); err == nil {
			loc = l
		} else {
			zap.L().Warn("budget: unknown timezone, using UTC", zap.String("timezone", cfg.Timezone))
		}
	}

	l := &Ledger{
		days:     days,
		st:       st,
		cfg:      cfg,
		loc:      loc,
		notifier: notify.Log{},
		now:      time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Today returns the current day key in the ledger's time zone.
func (l *Ledger) Today() string {
	return l.now().In(l.loc).Format(dayLayout)
}

// UnitCost returns the estimated cost of one operation of kind. A batch size
// missing from the table is priced per event; other unknown kinds get the
// default.
func (l *Ledger) UnitCost(kind string) float64 {
	if c, ok := l.cfg.OperationCosts[kind]; ok {
		return c
	}
	if n, ok := batchSize(kind); ok {
		return BatchEventCost * float64(n)
	}
	return l.cfg.DefaultUnitCost
}

// Estimate returns the estimated cost of quantity operations of kind.
func (l *Ledger) Estimate(kind string, quantity int) float64 {
	return l.UnitCost(kind) * float64(quantity)
}

// DailyLimit returns the effective limit: a persisted override, else config.
func (l *Ledger) DailyLimit(ctx context.Context) float64 {
	limit, err := state.DailyLimit.GetOr(ctx, l.st, l.cfg.DailyLimit)
	if err != nil {
		zap.L().Warn("budget: read daily limit", zap.Error(err))
		return l.cfg.DailyLimit
	}
	return limit
}

// SetDailyLimit persists a new daily limit.
func (l *Ledger) SetDailyLimit(ctx context.Context, limit float64) error {
	if limit < 0 || math.IsNaN(limit) {
		return eris.Errorf("budget: daily limit must be non-negative, got %v", limit)
	}
	if err := state.DailyLimit.Set(ctx, l.st, limit); err != nil {
		return eris.Wrap(err, "budget: set daily limit")
	}
	zap.L().Info("budget: daily limit updated", zap.Float64("limit", limit))
	return nil
}

// CanAfford reports whether quantity operations of kind fit in today's
// remaining budget. A cost equal to the remainder is affordable. Storage
// failures deny.
func (l *Ledger) CanAfford(ctx context.Context, kind string, quantity int) bool {
	estimated := l.Estimate(kind, quantity)
	status, err := l.Status(ctx)
	if err != nil {
		zap.L().Error("budget: status unavailable, denying", zap.String("kind", kind), zap.Error(err))
		return false
	}
	ok := micros(estimated) <= micros(status.Remaining)
	if !ok {
		zap.L().Warn("budget: operation denied",
			zap.String("kind", kind),
			zap.Int("quantity", quantity),
			zap.Float64("estimated", estimated),
			zap.Float64("remaining", status.Remaining),
		)
	}
	return ok
}

// Status returns today's budget position.
func (l *Ledger) Status(ctx context.Context) (*model.BudgetStatus, error) {
	date := l.Today()
	rec, err := l.days.GetDay(ctx, date)
	if err != nil {
		return nil, eris.Wrap(err, "budget: get today")
	}
	spent := 0.0
	if rec != nil {
		spent = rec.TotalCostUSD
	}
	return l.statusFor(date, spent, l.DailyLimit(ctx)), nil
}

func (l *Ledger) statusFor(date string, spent, limit float64) *model.BudgetStatus {
	remaining := math.Max(0, limit-spent)
	pct := 0.0
	if limit > 0 {
		pct = spent / limit * 100
	}
	return &model.BudgetStatus{
		Date:           date,
		DailyLimit:     limit,
		SpentToday:     spent,
		Remaining:      remaining,
		PercentageUsed: pct,
		Exhausted:      micros(spent) >= micros(limit),
		Warning:        limit > 0 && micros(spent) >= micros(limit*l.cfg.WarningRatio),
	}
}

// RecordSpending adds amount to today's aggregate, appends to the rolling
// log and evaluates the warning and exhaustion thresholds.
func (l *Ledger) RecordSpending(ctx context.Context, amount float64, kind string, details model.SpendDetails) (*model.BudgetStatus, error) {
	if amount < 0 || math.IsNaN(amount) {
		return nil, eris.Errorf("budget: spend amount must be non-negative, got %v", amount)
	}

	date := l.Today()
	rec, err := l.days.AddSpend(ctx, details.Delta(date, amount))
	if err != nil {
		return nil, eris.Wrap(err, "budget: add spend")
	}

	l.appendLog(ctx, model.SpendEntry{
		Amount:  amount,
		Kind:    kind,
		Details: details,
		Date:    date,
		At:      l.now().UTC(),
	})

	status := l.statusFor(date, rec.TotalCostUSD, l.DailyLimit(ctx))
	zap.L().Info("budget: spending recorded",
		zap.String("kind", kind),
		zap.Float64("amount", amount),
		zap.Float64("spent_today", status.SpentToday),
		zap.Float64("percentage_used", status.PercentageUsed),
	)

	switch {
	case status.Exhausted:
		l.handleExhausted(ctx, status)
	case status.Warning:
		l.handleWarning(ctx, status)
	}
	return status, nil
}

func (l *Ledger) appendLog(ctx context.Context, entry model.SpendEntry) {
	l.logMu.Lock()
	defer l.logMu.Unlock()

	entries, err := state.SpendingLog.GetOr(ctx, l.st, nil)
	if err != nil {
		zap.L().Warn("budget: read spending log", zap.Error(err))
	}
	entries = append(entries, entry)
	if over := len(entries) - l.cfg.LogCap; over > 0 {
		entries = entries[over:]
	}
	if err := state.SpendingLog.Set(ctx, l.st, entries); err != nil {
		zap.L().Warn("budget: write spending log", zap.Error(err))
	}
}

// SpendingLog returns the rolling log, oldest first.
func (l *Ledger) SpendingLog(ctx context.Context) ([]model.SpendEntry, error) {
	entries, err := state.SpendingLog.GetOr(ctx, l.st, nil)
	return entries, eris.Wrap(err, "budget: read spending log")
}

func (l *Ledger) handleExhausted(ctx context.Context, status *model.BudgetStatus) {
	enabled, err := state.AgentEnabled.GetOr(ctx, l.st, false)
	if err != nil {
		zap.L().Warn("budget: read agent flag", zap.Error(err))
	}
	if enabled {
		if err := state.AutoDisabledBudget.Set(ctx, l.st, true); err != nil {
			zap.L().Warn("budget: mark auto-disabled", zap.Error(err))
		}
	}
	if err := l.disableAutoRun(ctx); err != nil {
		zap.L().Error("budget: disable automatic runs", zap.Error(err))
	}

	first, err := state.BudgetExceededSent(status.Date).SetIfAbsent(ctx, l.st, true)
	if err != nil {
		zap.L().Warn("budget: exceeded marker", zap.Error(err))
		return
	}
	if !first {
		return
	}
	zap.L().Warn("budget: daily limit exhausted",
		zap.Float64("limit", status.DailyLimit),
		zap.Float64("spent", status.SpentToday),
	)
	l.send(ctx, ExceededMessage(status))
}

func (l *Ledger) handleWarning(ctx context.Context, status *model.BudgetStatus) {
	first, err := state.BudgetWarningSent(status.Date).SetIfAbsent(ctx, l.st, true)
	if err != nil {
		zap.L().Warn("budget: warning marker", zap.Error(err))
		return
	}
	if !first {
		return
	}
	l.send(ctx, WarningMessage(status))
}

func (l *Ledger) disableAutoRun(ctx context.Context) error {
	if l.autorun != nil {
		return l.autorun.DisableAutoRun(ctx, "budget exhausted")
	}
	if err := state.AgentEnabled.Set(ctx, l.st, false); err != nil {
		return err
	}
	return state.ScheduleNextRun.Delete(ctx, l.st)
}

func (l *Ledger) send(ctx context.Context, msg notify.Message) {
	if err := l.notifier.Notify(ctx, msg); err != nil {
		zap.L().Error("budget: notification failed", zap.String("subject", msg.Subject), zap.Error(err))
	}
}

// Reset deletes a day's aggregate and its notification markers.
func (l *Ledger) Reset(ctx context.Context, date string) error {
	if date == "" {
		date = l.Today()
	}
	if _, err := time.Parse(dayLayout, date); err != nil {
		return eris.Wrapf(err, "budget: invalid date %q", date)
	}
	if err := l.days.DeleteDay(ctx, date); err != nil {
		return eris.Wrap(err, "budget: reset day")
	}
	for _, k := range []state.Key[bool]{state.BudgetWarningSent(date), state.BudgetExceededSent(date)} {
		if err := k.Delete(ctx, l.st); err != nil {
			return eris.Wrap(err, "budget: clear markers")
		}
	}
	zap.L().Info("budget: daily spending reset", zap.String("date", date))
	return nil
}

// ExceededMessage builds the exhaustion notice.
func ExceededMessage(s *model.BudgetStatus) notify.Message {
	return notify.Message{
		Subject:  "Daily Budget Exceeded",
		Severity: "high",
		Body: fmt.Sprintf("KC Metro Live daily budget exceeded.\n\n"+
			"Daily Limit: $%.2f\nAmount Spent: $%.2f\nDate: %s\n\n"+
			"Automatic runs have been auto-disabled to prevent further charges. "+
			"Re-enable them manually once the budget resets.",
			s.DailyLimit, s.SpentToday, s.Date),
	}
}

// WarningMessage builds the threshold warning.
func WarningMessage(s *model.BudgetStatus) notify.Message {
	return notify.Message{
		Subject:  "Budget Warning",
		Severity: "warning",
		Body: fmt.Sprintf("KC Metro Live has used %.1f%% of its daily budget.\n\n"+
			"Daily Limit: $%.2f\nAmount Spent: $%.2f\nRemaining: $%.2f\nDate: %s",
			s.PercentageUsed, s.DailyLimit, s.SpentToday, s.Remaining, s.Date),
	}
}

// micros compares money at micro-dollar precision.
func micros(v float64) int64 {
	return int64(math.Round(v * 1e6))
}
