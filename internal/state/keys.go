package state

import (
	"time"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

// Well-known keys.
var (
	AgentEnabled       = NewKey[bool]("agent_enabled")
	AutoDisabledBudget = NewKey[bool]("auto_disabled_budget")
	DailyLimit         = NewKey[float64]("daily_budget_limit")
	SpendingLog        = NewKey[[]model.SpendEntry]("spending_log")
	ScheduleNextRun    = NewKey[time.Time]("schedule_next_run")
	ScheduleLastRun    = NewKey[time.Time]("schedule_last_run")
	Scratch            = NewKey[model.Scratch]("batch_scratch")
	PipelineStatus     = NewKey[model.PipelineStatus]("pipeline_status")
	RunLog             = NewKey[[]model.RunLogEntry]("run_log")
)

// BudgetWarningSent is the once-per-day marker for the 80% warning.
func BudgetWarningSent(date string) Key[bool] {
	return NewKey[bool]("budget_warning_sent_" + date)
}

// BudgetExceededSent is the once-per-day marker for the exhausted notice.
func BudgetExceededSent(date string) Key[bool] {
	return NewKey[bool]("budget_exceeded_sent_" + date)
}
