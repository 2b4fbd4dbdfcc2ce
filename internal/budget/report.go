package budget

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

// History returns one record per day for the last n days ending today,
// oldest first. Days with no spend are zero-filled.
func (l *Ledger) History(ctx context.Context, n int) ([]model.BudgetRecord, error) {
	if n <= 0 {
		n = 7
	}
	end := l.now().In(l.loc)
	start := end.AddDate(0, 0, -(n - 1))
	return l.rangeDays(ctx, start, end)
}

func (l *Ledger) rangeDays(ctx context.Context, start, end time.Time) ([]model.BudgetRecord, error) {
	from, to := start.Format(dayLayout), end.Format(dayLayout)
	stored, err := l.days.ListDays(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "budget: list days")
	}
	byDate := make(map[string]model.BudgetRecord, len(stored))
	for _, r := range stored {
		byDate[r.Date] = r
	}

	var out []model.BudgetRecord
	for d := start; d.Format(dayLayout) <= to; d = d.AddDate(0, 0, 1) {
		key := d.Format(dayLayout)
		if r, ok := byDate[key]; ok {
			out = append(out, r)
			continue
		}
		out = append(out, model.BudgetRecord{Date: key})
	}
	return out, nil
}

// MonthlySummary aggregates a calendar month.
type MonthlySummary struct {
	Month         string  `json:"month" yaml:"month"`
	TotalCost     float64 `json:"total_cost" yaml:"total_cost"`
	DaysActive    int     `json:"days_active" yaml:"days_active"`
	AveragePerDay float64 `json:"average_per_day" yaml:"average_per_day"`
	PeakDate      string  `json:"peak_date,omitempty" yaml:"peak_date,omitempty"`
	PeakCost      float64 `json:"peak_cost" yaml:"peak_cost"`
	DaysOverLimit int     `json:"days_over_limit" yaml:"days_over_limit"`
	APICalls      int     `json:"api_calls" yaml:"api_calls"`
	Events        int     `json:"events_processed" yaml:"events_processed"`
}

// MonthlySummary summarizes the month containing t.
func (l *Ledger) MonthlySummary(ctx context.Context, t time.Time) (*MonthlySummary, error) {
	t = t.In(l.loc)
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, l.loc)
	last := first.AddDate(0, 1, -1)

	stored, err := l.days.ListDays(ctx, first.Format(dayLayout), last.Format(dayLayout))
	if err != nil {
		return nil, eris.Wrap(err, "budget: list month")
	}

	limit := l.DailyLimit(ctx)
	s := &MonthlySummary{Month: first.Format("2006-01")}
	for _, r := range stored {
		s.TotalCost += r.TotalCostUSD
		s.APICalls += r.APICalls
		s.Events += r.EventsProcessed
		if r.TotalCostUSD > 0 {
			s.DaysActive++
		}
		if r.TotalCostUSD > s.PeakCost {
			s.PeakCost = r.TotalCostUSD
			s.PeakDate = r.Date
		}
		if micros(r.TotalCostUSD) >= micros(limit) && limit > 0 {
			s.DaysOverLimit++
		}
	}
	if s.DaysActive > 0 {
		s.AveragePerDay = s.TotalCost / float64(s.DaysActive)
	}
	return s, nil
}

// Suggestion is one budget optimization hint.
type Suggestion struct {
	Type    string `json:"type" yaml:"type"`
	Message string `json:"message" yaml:"message"`
}

// Suggestions analyzes the last n days and returns optimization hints.
func (l *Ledger) Suggestions(ctx context.Context, n int) ([]Suggestion, error) {
	days, err := l.History(ctx, n)
	if err != nil {
		return nil, err
	}
	limit := l.DailyLimit(ctx)

	var total float64
	active, over := 0, 0
	for _, d := range days {
		if d.TotalCostUSD <= 0 {
			continue
		}
		active++
		total += d.TotalCostUSD
		if limit > 0 && micros(d.TotalCostUSD) >= micros(limit) {
			over++
		}
	}

	if active == 0 {
		return []Suggestion{{
			Type:    "no_activity",
			Message: "No spending recorded recently. Enable scheduled runs or start a manual run.",
		}}, nil
	}

	var out []Suggestion
	avg := total / float64(active)
	switch {
	case limit > 0 && avg > limit*0.8:
		out = append(out, Suggestion{
			Type:    "high_usage",
			Message: "Average daily spend is above 80% of the limit. Consider raising the limit or reducing batch sizes.",
		})
	case limit > 0 && avg < limit*0.3:
		out = append(out, Suggestion{
			Type:    "underutilized",
			Message: "Average daily spend is below 30% of the limit. Larger batches would discover more events.",
		})
	}
	if over >= 3 {
		out = append(out, Suggestion{
			Type:    "frequent_overruns",
			Message: "The daily limit was reached on " + strconv.Itoa(over) + " days. Consider fewer runs per day.",
		})
	}
	return out, nil
}

// Report is a spend summary over a reporting period.
type Report struct {
	Period        string               `json:"period" yaml:"period"`
	From          string               `json:"from" yaml:"from"`
	To            string               `json:"to" yaml:"to"`
	GeneratedAt   time.Time            `json:"generated_at" yaml:"generated_at"`
	DailyLimit    float64              `json:"daily_limit" yaml:"daily_limit"`
	TotalCost     float64              `json:"total_cost" yaml:"total_cost"`
	AveragePerDay float64              `json:"average_per_day" yaml:"average_per_day"`
	DaysOverLimit int                  `json:"days_over_limit" yaml:"days_over_limit"`
	APICalls      int                  `json:"api_calls" yaml:"api_calls"`
	Tokens        int                  `json:"tokens_used" yaml:"tokens_used"`
	Images        int                  `json:"images_generated" yaml:"images_generated"`
	Events        int                  `json:"events_processed" yaml:"events_processed"`
	Venues        int                  `json:"venues_processed" yaml:"venues_processed"`
	Performers    int                  `json:"performers_processed" yaml:"performers_processed"`
	Days          []model.BudgetRecord `json:"days" yaml:"days"`
}

var periodDays = map[string]int{
	"week":    7,
	"month":   30,
	"quarter": 90,
}

// Report builds a report for period: week, month or quarter.
func (l *Ledger) Report(ctx context.Context, period string) (*Report, error) {
	n, ok := periodDays[period]
	if !ok {
		return nil, resilience.NewValidationError("period", "must be week, month or quarter, got "+strconv.Quote(period))
	}
	days, err := l.History(ctx, n)
	if err != nil {
		return nil, err
	}

	r := &Report{
		Period:      period,
		From:        days[0].Date,
		To:          days[len(days)-1].Date,
		GeneratedAt: l.now().UTC(),
		DailyLimit:  l.DailyLimit(ctx),
		Days:        days,
	}
	for _, d := range days {
		r.TotalCost += d.TotalCostUSD
		r.APICalls += d.APICalls
		r.Tokens += d.TokensUsed
		r.Images += d.ImagesGenerated
		r.Events += d.EventsProcessed
		r.Venues += d.VenuesProcessed
		r.Performers += d.PerformersProcessed
		if r.DailyLimit > 0 && micros(d.TotalCostUSD) >= micros(r.DailyLimit) {
			r.DaysOverLimit++
		}
	}
	r.AveragePerDay = r.TotalCost / float64(len(days))
	return r, nil
}

// Export formats.
const (
	FormatJSON = "json"
	FormatCSV  = "csv"
	FormatYAML = "yaml"
)

// ExportReport writes r to w as json, csv or yaml. CSV carries one row per day.
func ExportReport(w io.Writer, r *Report, format string) error {
	switch format {
	case FormatJSON, "":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(r), "budget: encode json report")
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return eris.Wrap(err, "budget: encode yaml report")
		}
		return eris.Wrap(enc.Close(), "budget: close yaml encoder")
	case FormatCSV:
		return writeCSV(w, r)
	default:
		return resilience.NewValidationError("format", "must be json, csv or yaml, got "+strconv.Quote(format))
	}
}

func writeCSV(w io.Writer, r *Report) error {
	cw := csv.NewWriter(w)
	header := []string{
		"date", "total_cost_usd", "api_calls", "tokens_used", "images_generated",
		"events_processed", "venues_processed", "performers_processed",
	}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "budget: write csv header")
	}
	for _, d := range r.Days {
		row := []string{
			d.Date,
			strconv.FormatFloat(d.TotalCostUSD, 'f', 4, 64),
			strconv.Itoa(d.APICalls),
			strconv.Itoa(d.TokensUsed),
			strconv.Itoa(d.ImagesGenerated),
			strconv.Itoa(d.EventsProcessed),
			strconv.Itoa(d.VenuesProcessed),
			strconv.Itoa(d.PerformersProcessed),
		}
		if err := cw.Write(row); err != nil {
			return eris.Wrap(err, "budget: write csv row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "budget: flush csv")
}
