package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/state"
)

// StatsWindows are the run-log aggregation windows.
var StatsWindows = []struct {
	Name string
	Span time.Duration
}{
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
	{"90d", 90 * 24 * time.Hour},
}

func (o *Orchestrator) appendRunLog(ctx context.Context, entry model.RunLogEntry) {
	entries, err := state.RunLog.GetOr(ctx, o.st, nil)
	if err != nil {
		zap.L().Warn("pipeline: read run log failed", zap.Error(err))
		return
	}
	entries = append(entries, entry)
	if over := len(entries) - o.cfg.RunLogCap; over > 0 {
		entries = entries[over:]
	}
	if err := state.RunLog.Set(ctx, o.st, entries); err != nil {
		zap.L().Warn("pipeline: write run log failed", zap.Error(err))
	}
}

// RunLog returns the retained run log, oldest first.
func (o *Orchestrator) RunLog(ctx context.Context) ([]model.RunLogEntry, error) {
	return state.RunLog.GetOr(ctx, o.st, nil)
}

// RunStats aggregates the run log over each of StatsWindows.
func (o *Orchestrator) RunStats(ctx context.Context) ([]model.RunStats, error) {
	entries, err := o.RunLog(ctx)
	if err != nil {
		return nil, err
	}
	now := o.now()
	out := make([]model.RunStats, 0, len(StatsWindows))
	for _, w := range StatsWindows {
		s := model.RunStats{Window: w.Name}
		cutoff := now.Add(-w.Span)
		for _, e := range entries {
			if e.At.Before(cutoff) {
				continue
			}
			s.Runs++
			if e.Success {
				s.Successful++
			}
			s.EventsProcessed += e.Processed
			s.TotalCost += e.Cost
		}
		out = append(out, s)
	}
	return out, nil
}
