// Package schedule fires the daily pipeline run on a cron expression, gated
// by the persisted agent_enabled flag.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/state"
)

// Config holds scheduler settings.
type Config struct {
	Cron     string        `yaml:"cron" mapstructure:"cron"`
	Limit    int           `yaml:"limit" mapstructure:"limit"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	Timezone string        `yaml:"timezone" mapstructure:"timezone"`
}

// RunFunc executes one scheduled pipeline run.
type RunFunc func(ctx context.Context, limit int) error

// Status is the scheduler's persisted view.
type Status struct {
	Enabled            bool       `json:"enabled"`
	AutoDisabledBudget bool       `json:"auto_disabled_budget"`
	Cron               string     `json:"cron"`
	Limit              int        `json:"limit"`
	NextRun            *time.Time `json:"next_run,omitempty"`
	LastRun            *time.Time `json:"last_run,omitempty"`
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler owns the schedule_next_run and agent_enabled state keys.
type Scheduler struct {
	st   state.State
	cfg  Config
	expr *cronexpr.Expression
	loc  *time.Location
	now  func() time.Time

	mu sync.Mutex
}

// New parses cfg.Cron and returns a Scheduler.
func New(st state.State, cfg Config, opts ...Option) (*Scheduler, error) {
	if cfg.Cron == "" {
		cfg.Cron = "0 6 * * *"
	}
	if cfg.Limit <= 0 {
		cfg.Limit = 10
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	expr, err := cronexpr.Parse(cfg.Cron)
	if err != nil {
		return nil, eris.Wrapf(err, "schedule: parse cron %q", cfg.Cron)
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, eris.Wrapf(err, "schedule: load timezone %q", cfg.Timezone)
		}
	}

	s := &Scheduler{st: st, cfg: cfg, expr: expr, loc: loc, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s, nil
}

// Limit is the batch size used by scheduled runs.
func (s *Scheduler) Limit() int { return s.cfg.Limit }

// Next returns the first fire time strictly after t.
func (s *Scheduler) Next(t time.Time) time.Time {
	return s.expr.Next(t.In(s.loc))
}

// Enable turns scheduled runs on, clears the budget auto-disable marker and
// schedules the next run.
func (s *Scheduler) Enable(ctx context.Context) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := state.AgentEnabled.Set(ctx, s.st, true); err != nil {
		return time.Time{}, eris.Wrap(err, "schedule: enable")
	}
	if err := state.AutoDisabledBudget.Delete(ctx, s.st); err != nil {
		return time.Time{}, eris.Wrap(err, "schedule: clear auto-disable")
	}
	next := s.Next(s.now())
	if err := state.ScheduleNextRun.Set(ctx, s.st, next); err != nil {
		return time.Time{}, eris.Wrap(err, "schedule: set next run")
	}
	zap.L().Info("schedule: enabled", zap.Time("next_run", next))
	return next, nil
}

// Disable turns scheduled runs off and removes the pending trigger.
func (s *Scheduler) Disable(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.disable(ctx)
}

func (s *Scheduler) disable(ctx context.Context) error {
	if err := state.AgentEnabled.Set(ctx, s.st, false); err != nil {
		return eris.Wrap(err, "schedule: disable")
	}
	if err := state.ScheduleNextRun.Delete(ctx, s.st); err != nil {
		return eris.Wrap(err, "schedule: clear next run")
	}
	return nil
}

// DisableAutoRun is called by the budget ledger when the daily limit is hit.
func (s *Scheduler) DisableAutoRun(ctx context.Context, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	zap.L().Warn("schedule: auto-run disabled", zap.String("reason", reason))
	return s.disable(ctx)
}

// Status reads the persisted schedule state.
func (s *Scheduler) Status(ctx context.Context) (*Status, error) {
	enabled, err := state.AgentEnabled.GetOr(ctx, s.st, false)
	if err != nil {
		return nil, eris.Wrap(err, "schedule: read enabled")
	}
	auto, err := state.AutoDisabledBudget.GetOr(ctx, s.st, false)
	if err != nil {
		return nil, eris.Wrap(err, "schedule: read auto-disable")
	}
	out := &Status{Enabled: enabled, AutoDisabledBudget: auto, Cron: s.cfg.Cron, Limit: s.cfg.Limit}
	if next, ok, err := state.ScheduleNextRun.Get(ctx, s.st); err != nil {
		return nil, eris.Wrap(err, "schedule: read next run")
	} else if ok {
		out.NextRun = &next
	}
	if last, ok, err := state.ScheduleLastRun.Get(ctx, s.st); err != nil {
		return nil, eris.Wrap(err, "schedule: read last run")
	} else if ok {
		out.LastRun = &last
	}
	return out, nil
}

// Tick fires run when the agent is enabled and the next run time has
// passed. The next run is advanced before run is called so a failing run
// is not retried until the following slot. It reports whether run fired.
func (s *Scheduler) Tick(ctx context.Context, run RunFunc) (bool, error) {
	s.mu.Lock()
	enabled, err := state.AgentEnabled.GetOr(ctx, s.st, false)
	if err != nil || !enabled {
		s.mu.Unlock()
		return false, err
	}

	now := s.now()
	next, ok, err := state.ScheduleNextRun.Get(ctx, s.st)
	if err != nil {
		s.mu.Unlock()
		return false, err
	}
	if !ok {
		err = state.ScheduleNextRun.Set(ctx, s.st, s.Next(now))
		s.mu.Unlock()
		return false, err
	}
	if now.Before(next) {
		s.mu.Unlock()
		return false, nil
	}

	if err := state.ScheduleLastRun.Set(ctx, s.st, now); err != nil {
		s.mu.Unlock()
		return false, err
	}
	if err := state.ScheduleNextRun.Set(ctx, s.st, s.Next(now)); err != nil {
		s.mu.Unlock()
		return false, err
	}
	s.mu.Unlock()

	zap.L().Info("schedule: firing run", zap.Time("scheduled_for", next), zap.Int("limit", s.cfg.Limit))
	if err := run(ctx, s.cfg.Limit); err != nil {
		zap.L().Error("schedule: run failed", zap.Error(err))
	}
	return true, nil
}

// Start ticks every Interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context, run RunFunc) error {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	zap.L().Info("schedule: started", zap.String("cron", s.cfg.Cron), zap.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.Tick(ctx, run); err != nil {
				zap.L().Warn("schedule: tick failed", zap.Error(err))
			}
		}
	}
}
