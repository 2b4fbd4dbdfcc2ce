package analytics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

// Default metadata scores.
const (
	EventConfidence  = 0.85
	DefaultSentiment = 0.5
)

// Recorder writes sessions, operations and metadata rows. Sink failures are
// logged and never returned.
type Recorder struct {
	sink Sink
	now  func() time.Time
}

// NewRecorder creates a Recorder over sink. A nil sink discards everything.
func NewRecorder(sink Sink) *Recorder {
	if sink == nil {
		sink = NopSink{}
	}
	return &Recorder{sink: sink, now: time.Now}
}

// Sink returns the underlying sink.
func (r *Recorder) Sink() Sink { return r.sink }

// StartSession opens a running session and returns its id. When the sink
// fails a local id is returned so the run can still be correlated in logs.
func (r *Recorder) StartSession(ctx context.Context, sessionType string, batchSize int) string {
	id, err := r.sink.Insert(ctx, TableSessions, Row{
		"session_type": sessionType,
		"batch_size":   batchSize,
		"status":       string(model.SessionRunning),
		"started_at":   r.now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		id = uuid.NewString()
		zap.L().Warn("analytics: start session failed", zap.String("session_id", id), zap.Error(err))
	}
	return id
}

// CompleteSession marks the session completed or failed.
func (r *Recorder) CompleteSession(ctx context.Context, sessionID string, success bool, message string) {
	status := model.SessionCompleted
	if !success {
		status = model.SessionFailed
	}
	err := r.sink.Update(ctx, TableSessions, sessionID, Row{
		"status":       string(status),
		"completed_at": r.now().UTC().Format(time.RFC3339),
		"message":      message,
	})
	if err != nil {
		zap.L().Warn("analytics: complete session failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// LogOperation records one operation row.
func (r *Recorder) LogOperation(ctx context.Context, op model.Operation) {
	row := Row{
		"session_id":       op.SessionID,
		"operation_type":   op.OperationType,
		"item_type":        op.ItemType,
		"item_id":          op.ItemID,
		"item_name":        op.ItemName,
		"duration_seconds": op.Duration,
		"cost_usd":         op.CostUSD,
		"tokens_used":      op.TokensUsed,
		"success":          op.Success,
	}
	if op.ErrorMessage != "" {
		row["error_message"] = op.ErrorMessage
	}
	if _, err := r.sink.Insert(ctx, TableOperations, row); err != nil {
		zap.L().Warn("analytics: log operation failed",
			zap.String("session_id", op.SessionID),
			zap.String("operation_type", op.OperationType),
			zap.Error(err),
		)
	}
}

// EventMeta stores the raw event payload with the default confidence score.
func (r *Recorder) EventMeta(ctx context.Context, eventID, name string, payload map[string]any) {
	r.insert(ctx, TableEventsMeta, Row{
		"event_wp_id":         eventID,
		"event_name":          name,
		"metadata_json":       payload,
		"ai_confidence_score": EventConfidence,
	})
}

// VenueMeta stores the raw venue payload.
func (r *Recorder) VenueMeta(ctx context.Context, venueID, name string, payload map[string]any) {
	r.insert(ctx, TableVenuesMeta, Row{
		"venue_cct_id":    venueID,
		"venue_name":      name,
		"metadata_json":   payload,
		"sentiment_score": DefaultSentiment,
	})
}

// PerformerMeta stores the raw performer payload.
func (r *Recorder) PerformerMeta(ctx context.Context, performerID, name string, payload map[string]any) {
	r.insert(ctx, TablePerformersMeta, Row{
		"performer_cct_id": performerID,
		"performer_name":   name,
		"metadata_json":    payload,
		"sentiment_score":  DefaultSentiment,
	})
}

// NoteMeta stores the raw note payload and what it was attached to.
func (r *Recorder) NoteMeta(ctx context.Context, noteID string, relatedTo model.Kind, relatedID string, payload map[string]any) {
	r.insert(ctx, TableNotesMeta, Row{
		"note_cct_id":   noteID,
		"related_type":  string(relatedTo),
		"related_id":    relatedID,
		"metadata_json": payload,
	})
}

// Sessions returns up to limit sessions, oldest first.
func (r *Recorder) Sessions(ctx context.Context, limit int) ([]Row, error) {
	return r.sink.Select(ctx, TableSessions, nil, limit)
}

// Operations returns the operations logged under sessionID.
func (r *Recorder) Operations(ctx context.Context, sessionID string) ([]Row, error) {
	return r.sink.Select(ctx, TableOperations, map[string]string{"session_id": sessionID}, 0)
}

func (r *Recorder) insert(ctx context.Context, table string, row Row) {
	if _, err := r.sink.Insert(ctx, table, row); err != nil {
		zap.L().Warn("analytics: insert failed", zap.String("table", table), zap.Error(err))
	}
}
