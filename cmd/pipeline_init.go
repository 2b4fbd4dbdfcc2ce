package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/analytics"
	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/metrics"
	"github.com/kcmetrolive/metro-agent/internal/normalize"
	"github.com/kcmetrolive/metro-agent/internal/notify"
	"github.com/kcmetrolive/metro-agent/internal/pipeline"
	"github.com/kcmetrolive/metro-agent/internal/research"
	"github.com/kcmetrolive/metro-agent/internal/schedule"
	"github.com/kcmetrolive/metro-agent/internal/signal"
	"github.com/kcmetrolive/metro-agent/internal/state"
	"github.com/kcmetrolive/metro-agent/internal/store"
)

// Signal bus kinds.
const (
	busInline = "inline"
	busQueue  = "queue"
	busRedis  = "redis"
)

// pipelineEnv holds everything the run, stage, budget, schedule and serve
// commands need.
type pipelineEnv struct {
	Store        store.Store
	State        state.State
	Ledger       *budget.Ledger
	Scheduler    *schedule.Scheduler
	Research     research.Client
	Recorder     *analytics.Recorder
	Router       *signal.Router
	Bus          signal.Bus
	Metrics      *metrics.Metrics
	Orchestrator *pipeline.Orchestrator

	inline   *signal.Inline
	queue    *signal.Queue
	redisBus *signal.RedisBus
	redis    redis.UniversalClient
}

// Close releases resources held by the pipeline environment.
func (pe *pipelineEnv) Close() {
	if pe.redis != nil {
		_ = pe.redis.Close()
	}
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// Drain delivers queued stage signals when the bus is inline. Other buses
// deliver on their own worker.
func (pe *pipelineEnv) Drain(ctx context.Context) error {
	if pe.inline == nil {
		return nil
	}
	return pe.inline.Drain(ctx)
}

// Workers returns the long-running bus consumer, or nil for the inline bus.
func (pe *pipelineEnv) Workers() func(context.Context) error {
	switch {
	case pe.queue != nil:
		return pe.queue.Run
	case pe.redisBus != nil:
		return pe.redisBus.Run
	}
	return nil
}

// initPipeline sets up the store, state, clients and orchestrator. busKind
// overrides the configured signal bus when non-empty. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, busKind string) (*pipelineEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	rdb, err := initRedis(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	cleanup := func() {
		if rdb != nil {
			_ = rdb.Close()
		}
		_ = st.Close()
	}

	rc, err := initResearch()
	if err != nil {
		cleanup()
		return nil, err
	}

	sink, err := initAnalytics(ctx, st)
	if err != nil {
		cleanup()
		return nil, err
	}

	if busKind == "" {
		busKind = cfg.Signals.Bus
	}
	env, err := newPipelineEnv(st, initState(st, rdb), rc, sink, busKind, rdb)
	if err != nil {
		cleanup()
		return nil, err
	}

	zap.L().Debug("pipeline environment ready",
		zap.String("store", cfg.Store.Driver),
		zap.String("research", cfg.Research.Provider),
		zap.String("analytics", cfg.Analytics.Sink),
		zap.String("bus", busKind),
		zap.Bool("redis_state", rdb != nil),
	)
	return env, nil
}

// newPipelineEnv wires the budget ledger, scheduler, signal bus and
// orchestrator over already-open backends.
func newPipelineEnv(st store.Store, stt state.State, rc research.Client, sink analytics.Sink, busKind string, rdb redis.UniversalClient) (*pipelineEnv, error) {
	sched, err := schedule.New(stt, cfg.Schedule)
	if err != nil {
		return nil, err
	}

	notifiers := notify.Multi{notify.Log{}}
	if cfg.Notify.WebhookURL != "" {
		notifiers = append(notifiers, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.Prefix))
	}
	ledger := budget.New(st, stt, cfg.Budget, budget.WithNotifier(notifiers), budget.WithAutoRun(sched))

	env := &pipelineEnv{
		Store:     st,
		State:     stt,
		Ledger:    ledger,
		Scheduler: sched,
		Research:  rc,
		Recorder:  analytics.NewRecorder(sink),
		Router:    signal.NewRouter(),
		Metrics:   metrics.New(),
		redis:     rdb,
	}

	switch busKind {
	case busInline:
		env.inline = signal.NewInline(env.Router)
		env.Bus = env.inline
	case busQueue, "":
		env.queue = signal.NewQueue(env.Router, cfg.Signals.QueueSize)
		env.Bus = env.queue
	case busRedis:
		if rdb == nil {
			return nil, eris.New("redis signal bus requires redis.addr")
		}
		env.redisBus = signal.NewRedisBus(rdb, env.Router, cfg.Signals.Redis)
		env.Bus = env.redisBus
	default:
		return nil, eris.Errorf("unsupported signal bus: %s", busKind)
	}

	env.Orchestrator = pipeline.New(pipeline.Deps{
		Records:    st,
		State:      stt,
		Budget:     ledger,
		Research:   rc,
		Normalizer: normalize.New(ledger.Today),
		Analytics:  env.Recorder,
		Bus:        env.Bus,
		Metrics:    env.Metrics,
	}, cfg.Pipeline)
	env.Orchestrator.Subscribe(env.Router)

	return env, nil
}
