package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

// ErrNoPerformerData is reported when the scratch state holds neither
// performer nor note payloads for the session.
var ErrNoPerformerData = eris.New("no performer data")

// RunPerformers creates performers grouped by event, links each event to
// its performer list in one update, then attaches the queued notes. The
// session's scratch state is deleted whatever the outcome.
func (o *Orchestrator) RunPerformers(ctx context.Context, sessionID string) *model.StageResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	scratch, err := o.loadScratch(ctx)
	if scratch != nil && sessionID == "" {
		sessionID = scratch.SessionID
	}
	run := o.begin(ctx, model.StagePerformers, sessionID)
	defer o.clearScratch(ctx)

	// A scratch state written by another session is stale and is discarded
	// without being processed.
	foreign := scratch != nil && scratch.SessionID != sessionID

	if err != nil {
		err = eris.Wrap(err, "pipeline: load scratch")
		run.logOperation(ctx, opPerformers, "performer", "Performers Batch", 0, err)
		return run.fail(ctx, err)
	}
	if scratch == nil || foreign || (len(scratch.Performers) == 0 && len(scratch.Notes) == 0) {
		run.logOperation(ctx, opPerformers, "performer", "Performers Batch", 0, ErrNoPerformerData)
		return run.fail(ctx, ErrNoPerformerData)
	}

	order, groups := scratch.GroupPerformers()
	for _, eventID := range order {
		o.processPerformerGroup(ctx, run, eventID, groups[eventID])
	}

	notes, notesFailed := 0, 0
	for _, p := range scratch.Notes {
		if o.processNote(ctx, run, p) {
			notes++
		} else {
			notesFailed++
		}
	}

	o.recordSpend(ctx, 0, "performers_stage", model.SpendDetails{Performers: run.result.Processed})
	run.logOperation(ctx, opPerformers, "performer", "Performers Batch", 0, nil)
	o.metrics.AddEntities(string(model.KindPerformer), "created", run.result.Processed)
	o.metrics.AddEntities(string(model.KindPerformer), "failed", run.result.Failed)
	o.metrics.AddEntities(string(model.KindNote), "created", notes)
	o.metrics.AddEntities(string(model.KindNote), "failed", notesFailed)

	return run.succeed(ctx, fmt.Sprintf("Created %d performers and %d notes", run.result.Processed, notes))
}

func (o *Orchestrator) clearScratch(ctx context.Context) {
	if err := state.Scratch.Delete(ctx, o.st); err != nil {
		zap.L().Error("pipeline: delete scratch failed", zap.Error(err))
	}
}

func (o *Orchestrator) processPerformerGroup(ctx context.Context, run *stageRun, eventID string, payloads []model.Payload) {
	log := zap.L().With(zap.String("session_id", run.sessionID), zap.String("event_id", eventID))

	var ids []string
	for _, p := range payloads {
		perf, err := o.normalizer.Performer(p.Data)
		if err != nil {
			run.result.Failed++
			log.Warn("pipeline: skipping invalid performer", zap.Error(err))
			continue
		}
		fields, err := model.Fields(perf)
		if err != nil {
			run.result.Failed++
			log.Warn("pipeline: encode performer failed", zap.Error(err))
			continue
		}
		id, err := o.records.Create(ctx, model.KindPerformer, fields)
		if err != nil {
			run.result.Failed++
			log.Warn("pipeline: create performer failed", zap.String("performer", perf.Name), zap.Error(err))
			continue
		}
		run.result.Processed++
		ids = append(ids, id)
		o.analytics.PerformerMeta(ctx, id, perf.Name, p.Data)
	}
	if len(ids) == 0 {
		return
	}

	if err := o.records.Update(ctx, eventID, map[string]any{"performer_ids": ids}); err != nil {
		log.Warn("pipeline: set event performers failed", zap.Error(err))
	}
	for _, id := range ids {
		if err := o.records.Link(ctx, model.RelEventPerformers, eventID, id); err != nil {
			log.Warn("pipeline: link event performer failed", zap.String("performer_id", id), zap.Error(err))
		}
	}
}

// processNote creates a note and links it to the entity it concerns. It
// reports whether the note was created.
func (o *Orchestrator) processNote(ctx context.Context, run *stageRun, p model.Payload) bool {
	log := zap.L().With(zap.String("session_id", run.sessionID), zap.String("event_id", p.EventID))

	note, err := o.normalizer.Note(p.Data)
	if err != nil {
		log.Warn("pipeline: skipping invalid note", zap.Error(err))
		return false
	}
	note.RelatedTo, note.RelatedID = o.resolveNoteTarget(ctx, note.RelatedTo, p.EventID)

	fields, err := model.Fields(note)
	if err != nil {
		log.Warn("pipeline: encode note failed", zap.Error(err))
		return false
	}
	id, err := o.records.Create(ctx, model.KindNote, fields)
	if err != nil {
		log.Warn("pipeline: create note failed", zap.Error(err))
		return false
	}
	if err := o.records.Link(ctx, model.NoteRelation(note.RelatedTo), note.RelatedID, id); err != nil {
		log.Warn("pipeline: link note failed", zap.String("note_id", id), zap.Error(err))
	}
	o.analytics.NoteMeta(ctx, id, note.RelatedTo, note.RelatedID, p.Data)
	return true
}

// resolveNoteTarget maps a note's subject to a concrete record: the event's
// venue when one is linked, the event's sole performer when it has exactly
// one, and the event itself otherwise.
func (o *Orchestrator) resolveNoteTarget(ctx context.Context, subject model.Kind, eventID string) (model.Kind, string) {
	if subject == model.KindEvent {
		return model.KindEvent, eventID
	}
	ev, err := o.records.Get(ctx, eventID)
	if err != nil || ev == nil {
		return model.KindEvent, eventID
	}
	switch subject {
	case model.KindVenue:
		if id := ev.String("venue_id"); id != "" {
			return model.KindVenue, id
		}
	case model.KindPerformer:
		if ids := ev.Strings("performer_ids"); len(ids) == 1 {
			return model.KindPerformer, ids[0]
		}
	}
	return model.KindEvent, eventID
}
