// Package pipeline runs the three-stage discovery batch: events, then
// venues, then performers and notes. Stages are chained by StageCompleted
// signals and share a persisted scratch state.
package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/analytics"
	"github.com/kcmetrolive/metro-agent/internal/metrics"
	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/normalize"
	"github.com/kcmetrolive/metro-agent/internal/research"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
	"github.com/kcmetrolive/metro-agent/internal/signal"
	"github.com/kcmetrolive/metro-agent/internal/state"
	"github.com/kcmetrolive/metro-agent/internal/store"
)

// Budget is the subset of the ledger the orchestrator needs.
type Budget interface {
	CanAfford(ctx context.Context, kind string, quantity int) bool
	Estimate(kind string, quantity int) float64
	Status(ctx context.Context) (*model.BudgetStatus, error)
	RecordSpending(ctx context.Context, amount float64, kind string, details model.SpendDetails) (*model.BudgetStatus, error)
}

// Config holds orchestrator settings.
type Config struct {
	EventsTimeout time.Duration `yaml:"events_timeout" mapstructure:"events_timeout"`
	MaxLimit      int           `yaml:"max_limit" mapstructure:"max_limit"`
	RunLogCap     int           `yaml:"run_log_cap" mapstructure:"run_log_cap"`
}

func (c Config) withDefaults() Config {
	if c.EventsTimeout <= 0 {
		c.EventsTimeout = 300 * time.Second
	}
	if c.MaxLimit <= 0 {
		c.MaxLimit = 10
	}
	if c.RunLogCap <= 0 {
		c.RunLogCap = 100
	}
	return c
}

// Deps are the collaborators of an Orchestrator. Metrics may be nil.
type Deps struct {
	Records    store.Records
	State      state.State
	Budget     Budget
	Research   research.Client
	Normalizer *normalize.Normalizer
	Analytics  *analytics.Recorder
	Bus        signal.Bus
	Metrics    *metrics.Metrics
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// Orchestrator runs pipeline stages one at a time.
type Orchestrator struct {
	records    store.Records
	st         state.State
	budget     Budget
	research   research.Client
	normalizer *normalize.Normalizer
	analytics  *analytics.Recorder
	bus        signal.Bus
	metrics    *metrics.Metrics
	cfg        Config
	now        func() time.Time

	// mu serializes stages within the process.
	mu sync.Mutex
}

// New creates an Orchestrator.
func New(d Deps, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		records:    d.Records,
		st:         d.State,
		budget:     d.Budget,
		research:   d.Research,
		normalizer: d.Normalizer,
		analytics:  d.Analytics,
		bus:        d.Bus,
		metrics:    d.Metrics,
		cfg:        cfg.withDefaults(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.analytics == nil {
		o.analytics = analytics.NewRecorder(nil)
	}
	return o
}

// Subscribe registers the stage chain on router: events -> venues ->
// performers. The performers signal is terminal and only logged.
func (o *Orchestrator) Subscribe(router *signal.Router) {
	router.Subscribe(model.StageEvents, func(ctx context.Context, sig signal.StageCompleted) error {
		o.RunVenues(ctx, sig.SessionID)
		return nil
	})
	router.Subscribe(model.StageVenues, func(ctx context.Context, sig signal.StageCompleted) error {
		o.RunPerformers(ctx, sig.SessionID)
		return nil
	})
}

// Status returns the persisted state machine snapshot.
func (o *Orchestrator) Status(ctx context.Context) (model.PipelineStatus, error) {
	return state.PipelineStatus.GetOr(ctx, o.st, model.PipelineStatus{State: model.RunStateIdle})
}

func (o *Orchestrator) setStatus(ctx context.Context, s model.PipelineStatus) {
	s.UpdatedAt = o.now().UTC()
	if err := state.PipelineStatus.Set(ctx, o.st, s); err != nil {
		zap.L().Warn("pipeline: persist status failed", zap.Error(err))
	}
}

// stageRun tracks one stage execution and builds its result.
type stageRun struct {
	o         *Orchestrator
	stage     model.Stage
	sessionID string
	start     time.Time
	result    *model.StageResult
}

func (o *Orchestrator) begin(ctx context.Context, stage model.Stage, sessionID string) *stageRun {
	o.setStatus(ctx, model.PipelineStatus{State: model.StateFor(stage), SessionID: sessionID})
	zap.L().Info("pipeline: stage started", zap.String("stage", string(stage)), zap.String("session_id", sessionID))
	return &stageRun{
		o:         o,
		stage:     stage,
		sessionID: sessionID,
		start:     o.now(),
		result:    &model.StageResult{Stage: stage, SessionID: sessionID},
	}
}

func (r *stageRun) elapsed() float64 {
	return r.o.now().Sub(r.start).Seconds()
}

// fail finishes the stage unsuccessfully. The error never leaves the stage
// boundary; it is reported through the result.
func (r *stageRun) fail(ctx context.Context, err error) *model.StageResult {
	res := r.result
	res.Success = false
	res.Message = err.Error()
	res.ErrorKind = string(resilience.KindOf(err))
	res.SessionID = r.sessionID
	res.DurationSeconds = r.elapsed()

	r.o.setStatus(ctx, model.PipelineStatus{
		State:       model.RunStateFailed,
		FailedStage: r.stage,
		SessionID:   r.sessionID,
		Message:     res.Message,
	})
	r.o.metrics.ObserveStage(string(r.stage), false, res.DurationSeconds)
	zap.L().Warn("pipeline: stage failed",
		zap.String("stage", string(r.stage)),
		zap.String("session_id", r.sessionID),
		zap.String("kind", res.ErrorKind),
		zap.Error(err),
	)
	return res
}

// succeed finishes the stage and publishes its completion signal.
func (r *stageRun) succeed(ctx context.Context, message string) *model.StageResult {
	res := r.result
	res.Success = true
	res.Message = message
	res.SessionID = r.sessionID
	res.DurationSeconds = r.elapsed()

	next := model.PipelineStatus{State: model.StateFor(r.stage), SessionID: r.sessionID, Message: message}
	if r.stage == model.StagePerformers {
		next.State = model.RunStateDone
	}
	r.o.setStatus(ctx, next)
	r.o.metrics.ObserveStage(string(r.stage), true, res.DurationSeconds)
	zap.L().Info("pipeline: stage complete",
		zap.String("stage", string(r.stage)),
		zap.String("session_id", r.sessionID),
		zap.Int("processed", res.Processed),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
		zap.Float64("cost_usd", res.Cost),
		zap.Float64("duration_s", res.DurationSeconds),
	)

	if r.o.bus != nil {
		sig := signal.StageCompleted{Stage: r.stage, SessionID: r.sessionID}
		if err := r.o.bus.Publish(ctx, sig); err != nil {
			zap.L().Error("pipeline: publish stage completed failed", zap.String("stage", string(r.stage)), zap.Error(err))
		} else {
			r.o.metrics.ObserveSignal(string(r.stage))
		}
	}
	return res
}

// logOperation writes the stage's operation row under its session.
func (r *stageRun) logOperation(ctx context.Context, opType, itemType, itemName string, tokens int, err error) {
	op := model.Operation{
		SessionID:     r.sessionID,
		OperationType: opType,
		ItemType:      itemType,
		ItemName:      itemName,
		Duration:      r.elapsed(),
		CostUSD:       r.result.Cost,
		TokensUsed:    tokens,
		Success:       err == nil,
	}
	if err != nil {
		op.ErrorMessage = err.Error()
	}
	r.o.analytics.LogOperation(ctx, op)
}

// recordSpend adds the stage's cost and counts to today's budget record.
func (o *Orchestrator) recordSpend(ctx context.Context, amount float64, kind string, details model.SpendDetails) {
	status, err := o.budget.RecordSpending(ctx, amount, kind, details)
	if err != nil {
		zap.L().Error("pipeline: record spending failed", zap.String("kind", kind), zap.Float64("amount", amount), zap.Error(err))
		return
	}
	o.metrics.ObserveSpend(amount, status.Remaining)
}

func (o *Orchestrator) loadScratch(ctx context.Context) (*model.Scratch, error) {
	s, found, err := state.Scratch.Get(ctx, o.st)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return &s, nil
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asList(v any) []any {
	l, _ := v.([]any)
	return l
}
