package pipeline

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

// ErrNoVenueData is reported when the scratch state holds no venue payloads
// for the session.
var ErrNoVenueData = eris.New("no venue data")

// RunVenues creates a venue for every queued venue payload and links it to
// its event. An empty sessionID accepts whatever run the scratch state
// belongs to.
func (o *Orchestrator) RunVenues(ctx context.Context, sessionID string) *model.StageResult {
	o.mu.Lock()
	defer o.mu.Unlock()

	scratch, err := o.loadScratch(ctx)
	if scratch != nil && sessionID == "" {
		sessionID = scratch.SessionID
	}
	run := o.begin(ctx, model.StageVenues, sessionID)
	if err != nil {
		err = eris.Wrap(err, "pipeline: load scratch")
		run.logOperation(ctx, opVenuesBatch, "venue", "Venues Batch", 0, err)
		return run.fail(ctx, err)
	}
	if scratch == nil || scratch.SessionID != sessionID || len(scratch.Venues) == 0 {
		run.logOperation(ctx, opVenuesBatch, "venue", "Venues Batch", 0, ErrNoVenueData)
		return run.fail(ctx, ErrNoVenueData)
	}

	for _, p := range scratch.Venues {
		o.processVenue(ctx, run, p)
	}

	// Venue payloads belong to this stage only.
	scratch.Venues = nil
	if err := state.Scratch.Set(ctx, o.st, *scratch); err != nil {
		err = eris.Wrap(err, "pipeline: persist scratch")
		run.logOperation(ctx, opVenuesBatch, "venue", "Venues Batch", 0, err)
		return run.fail(ctx, err)
	}

	o.recordSpend(ctx, 0, "venues_stage", model.SpendDetails{Venues: run.result.Processed})
	run.logOperation(ctx, opVenuesBatch, "venue", "Venues Batch", 0, nil)
	o.metrics.AddEntities(string(model.KindVenue), "created", run.result.Processed)
	o.metrics.AddEntities(string(model.KindVenue), "failed", run.result.Failed)

	return run.succeed(ctx, fmt.Sprintf("Created %d venues", run.result.Processed))
}

func (o *Orchestrator) processVenue(ctx context.Context, run *stageRun, p model.Payload) {
	log := zap.L().With(zap.String("session_id", run.sessionID), zap.String("event_id", p.EventID))

	v, err := o.normalizer.Venue(p.Data)
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: skipping invalid venue", zap.Error(err))
		return
	}
	fields, err := model.Fields(v)
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: encode venue failed", zap.Error(err))
		return
	}
	id, err := o.records.Create(ctx, model.KindVenue, fields)
	if err != nil {
		run.result.Failed++
		log.Warn("pipeline: create venue failed", zap.String("venue", v.Name), zap.Error(err))
		return
	}
	run.result.Processed++
	o.analytics.VenueMeta(ctx, id, v.Name, p.Data)

	if err := o.records.Update(ctx, p.EventID, map[string]any{"venue_id": id, "venue_name": v.Name}); err != nil {
		log.Warn("pipeline: set event venue failed", zap.String("venue_id", id), zap.Error(err))
	}
	if err := o.records.Link(ctx, model.RelEventVenues, p.EventID, id); err != nil {
		log.Warn("pipeline: link event venue failed", zap.String("venue_id", id), zap.Error(err))
	}
}
