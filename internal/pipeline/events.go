package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/budget"
	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/prompt"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

// Operation names logged by the events stage.
const (
	opEventsResearch = "events_research"
	opVenuesBatch    = "venues_batch"
	opPerformers     = "performers_batch"
)

// Run opens a session, gates on the daily budget and runs the events stage.
// It returns the events stage summary; later stages run when the completion
// signal is delivered.
func (o *Orchestrator) Run(ctx context.Context, limit int, trigger model.Trigger) *model.StageResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	res := o.runEvents(ctx, limit, trigger)
	o.appendRunLog(ctx, model.RunLogEntry{
		At:        o.now().UTC(),
		Trigger:   trigger,
		Limit:     limit,
		SessionID: res.SessionID,
		Success:   res.Success,
		Message:   res.Message,
		Processed: res.Processed,
		Skipped:   res.Skipped,
		Cost:      res.Cost,
	})
	o.metrics.ObserveRun(string(trigger), res.Success)
	return res
}

// RunEvents runs only the events stage under a new session. It is Run
// without the run log, for tests and tooling.
func (o *Orchestrator) RunEvents(ctx context.Context, limit int) *model.StageResult {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runEvents(ctx, limit, model.TriggerManual)
}

func (o *Orchestrator) runEvents(ctx context.Context, limit int, trigger model.Trigger) *model.StageResult {
	if limit < 1 || limit > o.cfg.MaxLimit {
		run := o.begin(ctx, model.StageEvents, "")
		return run.fail(ctx, resilience.NewValidationError("limit", fmt.Sprintf("limit must be between 1 and %d", o.cfg.MaxLimit)))
	}

	sessionID := o.analytics.StartSession(ctx, string(trigger), limit)
	run := o.begin(ctx, model.StageEvents, sessionID)
	log := zap.L().With(zap.String("session_id", sessionID), zap.Int("limit", limit))

	failSession := func(err error) *model.StageResult {
		o.analytics.CompleteSession(ctx, sessionID, false, err.Error())
		return run.fail(ctx, err)
	}

	kind := budget.BatchOperation(limit)
	if !o.budget.CanAfford(ctx, kind, 1) {
		remaining := 0.0
		if status, err := o.budget.Status(ctx); err == nil {
			remaining = status.Remaining
		}
		return failSession(resilience.NewBudgetExceededError(kind, o.budget.Estimate(kind, 1), remaining))
	}

	scratch := model.Scratch{SessionID: sessionID, CreatedAt: o.now().UTC()}
	if err := state.Scratch.Set(ctx, o.st, scratch); err != nil {
		return failSession(eris.Wrap(err, "pipeline: reset scratch"))
	}

	text, err := prompt.BuildPrompt(prompt.OpEvents, limit, o.now())
	if err != nil {
		return failSession(resilience.NewConfigError(err.Error()))
	}

	log.Info("pipeline: requesting events")
	result, err := o.research.Research(ctx, text, prompt.OpEvents, o.cfg.EventsTimeout)
	if err != nil {
		run.logOperation(ctx, opEventsResearch, "batch", "Events Batch", 0, err)
		return failSession(err)
	}
	run.result.Cost = result.Cost
	tokens := result.Usage.Total()

	entries := asList(result.Data["events"])
	if len(entries) == 0 {
		// The call was paid for even though it produced nothing usable.
		o.recordSpend(ctx, result.Cost, kind, model.SpendDetails{APICalls: 1, Tokens: tokens})
		err := eris.New("no events found in research response")
		run.logOperation(ctx, opEventsResearch, "batch", "Events Batch", tokens, err)
		return failSession(err)
	}

	for i, raw := range entries {
		o.processEventEntry(ctx, run, &scratch, i, asMap(raw))
	}

	if err := state.Scratch.Set(ctx, o.st, scratch); err != nil {
		o.recordSpend(ctx, result.Cost, kind, model.SpendDetails{APICalls: 1, Tokens: tokens, Events: run.result.Processed})
		err = eris.Wrap(err, "pipeline: persist scratch")
		run.logOperation(ctx, opEventsResearch, "batch", "Events Batch", tokens, err)
		return failSession(err)
	}

	o.recordSpend(ctx, result.Cost, kind, model.SpendDetails{APICalls: 1, Tokens: tokens, Events: run.result.Processed})
	run.logOperation(ctx, opEventsResearch, "batch", "Events Batch", tokens, nil)
	o.metrics.AddEntities(string(model.KindEvent), "created", run.result.Processed)
	o.metrics.AddEntities(string(model.KindEvent), "skipped", run.result.Skipped)
	o.metrics.AddEntities(string(model.KindEvent), "failed", run.result.Failed)

	msg := fmt.Sprintf("Processed %d events, skipped %d duplicates", run.result.Processed, run.result.Skipped)
	if run.result.Failed > 0 {
		msg += fmt.Sprintf(", %d failed", run.result.Failed)
	}
	o.analytics.CompleteSession(ctx, sessionID, true, msg)
	return run.succeed(ctx, msg)
}

// processEventEntry creates one event unless its identity already exists and
// queues its venue, performers and notes. Failures are counted and skipped.
func (o *Orchestrator) processEventEntry(ctx context.Context, run *stageRun, scratch *model.Scratch, index int, entry map[string]any) {
	log := zap.L().With(zap.String("session_id", run.sessionID), zap.Int("entry", index))
	if entry == nil {
		run.result.Failed++
		log.Warn("pipeline: event entry is not an object")
		return
	}

	raw := asMap(entry["event"])
	if raw == nil {
		raw = entry
	}
	ev, err := o.normalizer.Event(raw)
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: skipping invalid event", zap.Error(err))
		return
	}
	log = log.With(zap.String("event", ev.Name), zap.String("start_date", ev.StartDate))

	existing, err := o.records.FindOne(ctx, model.KindEvent, ev.IdentityFilter())
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: event existence check failed", zap.Error(err))
		return
	}
	if existing != nil {
		run.result.Skipped++
		log.Debug("pipeline: event already exists", zap.String("event_id", existing.ID))
		return
	}

	for _, f := range ev.Flagged() {
		log.Info("pipeline: event field flagged", zap.String("field", f.Field), zap.String("value", f.Value), zap.String("reason", f.Reason))
	}

	fields, err := model.Fields(ev)
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: encode event failed", zap.Error(err))
		return
	}
	id, err := o.records.Create(ctx, model.KindEvent, fields)
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: create event failed", zap.Error(err))
		return
	}
	o.analytics.EventMeta(ctx, id, ev.Name, raw)

	if venue := asMap(entry["venue"]); len(venue) > 0 {
		scratch.Venues = append(scratch.Venues, model.Payload{EventID: id, Data: venue})
	}
	for _, p := range asList(entry["performers"]) {
		if performer := asMap(p); len(performer) > 0 {
			scratch.Performers = append(scratch.Performers, model.Payload{EventID: id, Data: performer})
		}
	}
	for _, n := range asList(entry["notes"]) {
		if note := asMap(n); len(note) > 0 {
			scratch.Notes = append(scratch.Notes, model.Payload{EventID: id, Data: note})
		}
	}
	run.result.Processed++
}
