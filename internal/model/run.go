package model

import "time"

// Stage names a pipeline stage.
type Stage string

const (
	StageEvents     Stage = "events"
	StageVenues     Stage = "venues"
	StagePerformers Stage = "performers"
)

// RunState is the orchestrator's position in the pipeline.
type RunState string

const (
	RunStateIdle       RunState = "idle"
	RunStateEvents     RunState = "events_stage"
	RunStateVenues     RunState = "venues_stage"
	RunStatePerformers RunState = "performers_stage"
	RunStateDone       RunState = "done"
	RunStateFailed     RunState = "failed"
)

// StateFor returns the running state that corresponds to a stage.
func StateFor(s Stage) RunState {
	switch s {
	case StageEvents:
		return RunStateEvents
	case StageVenues:
		return RunStateVenues
	case StagePerformers:
		return RunStatePerformers
	}
	return RunStateIdle
}

// PipelineStatus is the persisted state machine snapshot.
type PipelineStatus struct {
	State       RunState  `json:"state"`
	FailedStage Stage     `json:"failed_stage,omitempty"`
	SessionID   string    `json:"session_id,omitempty"`
	Message     string    `json:"message,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Trigger identifies what started a run.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
	TriggerAPI       Trigger = "api"
)

// StageResult is the structured outcome of one stage. Stage failures are
// reported through it rather than returned as errors.
type StageResult struct {
	Stage           Stage   `json:"stage"`
	Success         bool    `json:"success"`
	Message         string  `json:"message"`
	SessionID       string  `json:"session_id,omitempty"`
	DurationSeconds float64 `json:"duration_seconds"`
	Cost            float64 `json:"cost"`
	Processed       int     `json:"processed"`
	Skipped         int     `json:"skipped"`
	Failed          int     `json:"failed"`
	ErrorKind       string  `json:"error_kind,omitempty"`
}

// RunLogEntry is one row of the rolling run log.
type RunLogEntry struct {
	At        time.Time `json:"at"`
	Trigger   Trigger   `json:"trigger"`
	Limit     int       `json:"limit"`
	SessionID string    `json:"session_id,omitempty"`
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	Processed int       `json:"processed"`
	Skipped   int       `json:"skipped"`
	Cost      float64   `json:"cost"`
}

// RunStats aggregates run log entries over a window.
type RunStats struct {
	Window          string  `json:"window"`
	Runs            int     `json:"runs"`
	Successful      int     `json:"successful"`
	EventsProcessed int     `json:"events_processed"`
	TotalCost       float64 `json:"total_cost"`
}

// SessionStatus is the lifecycle state of a research session.
type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
	SessionFailed    SessionStatus = "failed"
)

// Operation is a per-call log row owned by a session.
type Operation struct {
	SessionID     string  `json:"session_id"`
	OperationType string  `json:"operation_type"`
	ItemType      string  `json:"item_type"`
	ItemID        string  `json:"item_id,omitempty"`
	ItemName      string  `json:"item_name"`
	Duration      float64 `json:"duration_seconds"`
	CostUSD       float64 `json:"cost_usd"`
	TokensUsed    int     `json:"tokens_used"`
	Success       bool    `json:"success"`
	ErrorMessage  string  `json:"error_message,omitempty"`
}

// Session groups the operations of one pipeline run.
type Session struct {
	ID          string        `json:"id"`
	SessionType string        `json:"session_type"`
	BatchSize   int           `json:"batch_size"`
	Status      SessionStatus `json:"status"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
}
