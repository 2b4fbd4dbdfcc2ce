// Package signal delivers stage-completed notifications from one pipeline
// stage to the next.
package signal

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

// StageCompleted is published when a stage finishes successfully.
type StageCompleted struct {
	Stage     model.Stage `json:"stage"`
	SessionID string      `json:"session_id"`
}

// Handler reacts to a completed stage.
type Handler func(ctx context.Context, sig StageCompleted) error

// Bus publishes signals.
type Bus interface {
	Publish(ctx context.Context, sig StageCompleted) error
}

// Router is the subscription table: completed stage -> handlers.
type Router struct {
	mu     sync.RWMutex
	routes map[model.Stage][]Handler
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[model.Stage][]Handler)}
}

// Subscribe registers h for signals from stage.
func (r *Router) Subscribe(stage model.Stage, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[stage] = append(r.routes[stage], h)
}

// Dispatch runs every handler for sig.Stage in registration order. A signal
// with no subscribers is logged and dropped. Handler errors are logged and
// the first one is returned.
func (r *Router) Dispatch(ctx context.Context, sig StageCompleted) error {
	r.mu.RLock()
	handlers := append([]Handler(nil), r.routes[sig.Stage]...)
	r.mu.RUnlock()

	if len(handlers) == 0 {
		zap.L().Info("signal: stage completed",
			zap.String("stage", string(sig.Stage)),
			zap.String("session_id", sig.SessionID),
		)
		return nil
	}

	var first error
	for _, h := range handlers {
		if err := h(ctx, sig); err != nil {
			zap.L().Error("signal: handler failed",
				zap.String("stage", string(sig.Stage)),
				zap.String("session_id", sig.SessionID),
				zap.Error(err),
			)
			if first == nil {
				first = eris.Wrapf(err, "signal: handle %s", sig.Stage)
			}
		}
	}
	return first
}

// Inline defers delivery until Drain. A manual run publishes, returns its
// summary, and the caller drains afterwards.
type Inline struct {
	router  *Router
	mu      sync.Mutex
	pending []StageCompleted
}

// NewInline creates an Inline bus over router.
func NewInline(router *Router) *Inline {
	return &Inline{router: router}
}

func (b *Inline) Publish(_ context.Context, sig StageCompleted) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.pending = append(b.pending, sig)
	return nil
}

// Pending returns the number of undelivered signals.
func (b *Inline) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Drain delivers queued signals in FIFO order, including any published by
// the handlers themselves, until none remain.
func (b *Inline) Drain(ctx context.Context) error {
	var first error
	for {
		b.mu.Lock()
		if len(b.pending) == 0 {
			b.mu.Unlock()
			return first
		}
		sig := b.pending[0]
		b.pending = b.pending[1:]
		b.mu.Unlock()

		if err := ctx.Err(); err != nil {
			return eris.Wrap(err, "signal: drain")
		}
		if err := b.router.Dispatch(ctx, sig); err != nil && first == nil {
			first = err
		}
	}
}

// Queue delivers signals on a single worker goroutine. Publish never blocks,
// so handlers running on the worker may publish the next stage.
type Queue struct {
	router  *Router
	mu      sync.Mutex
	pending []StageCompleted
	wake    chan struct{}
}

// NewQueue creates a Queue. size preallocates the pending list.
func NewQueue(router *Router, size int) *Queue {
	if size < 1 {
		size = 16
	}
	return &Queue{
		router:  router,
		pending: make([]StageCompleted, 0, size),
		wake:    make(chan struct{}, 1),
	}
}

func (q *Queue) Publish(ctx context.Context, sig StageCompleted) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "signal: publish")
	}
	q.mu.Lock()
	q.pending = append(q.pending, sig)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Pending returns the number of undelivered signals.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

func (q *Queue) next() (StageCompleted, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return StageCompleted{}, false
	}
	sig := q.pending[0]
	q.pending[0] = StageCompleted{}
	q.pending = q.pending[1:]
	return sig, true
}

// Run processes signals in FIFO order until ctx is done. Handler errors are
// logged by the router and do not stop the worker.
func (q *Queue) Run(ctx context.Context) error {
	for {
		for {
			if ctx.Err() != nil {
				return nil
			}
			sig, ok := q.next()
			if !ok {
				break
			}
			_ = q.router.Dispatch(ctx, sig)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-q.wake:
		}
	}
}
