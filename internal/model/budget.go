package model

import "time"

// BudgetRecord is the per-day spend aggregate. Totals only ever grow.
type BudgetRecord struct {
	Date                string    `json:"date" yaml:"date"`
	TotalCostUSD        float64   `json:"total_cost_usd" yaml:"total_cost_usd"`
	APICalls            int       `json:"api_calls" yaml:"api_calls"`
	TokensUsed          int       `json:"tokens_used" yaml:"tokens_used"`
	ImagesGenerated     int       `json:"images_generated" yaml:"images_generated"`
	EventsProcessed     int       `json:"events_processed" yaml:"events_processed"`
	VenuesProcessed     int       `json:"venues_processed" yaml:"venues_processed"`
	PerformersProcessed int       `json:"performers_processed" yaml:"performers_processed"`
	UpdatedAt           time.Time `json:"updated_at" yaml:"updated_at"`
}

// SpendDetails carries the non-monetary counters of a spend.
type SpendDetails struct {
	APICalls   int `json:"api_calls,omitempty"`
	Tokens     int `json:"tokens,omitempty"`
	Images     int `json:"images,omitempty"`
	Events     int `json:"events,omitempty"`
	Venues     int `json:"venues,omitempty"`
	Performers int `json:"performers,omitempty"`
}

// Delta builds the additive increment for the given day.
func (d SpendDetails) Delta(date string, amount float64) BudgetRecord {
	return BudgetRecord{
		Date:                date,
		TotalCostUSD:        amount,
		APICalls:            d.APICalls,
		TokensUsed:          d.Tokens,
		ImagesGenerated:     d.Images,
		EventsProcessed:     d.Events,
		VenuesProcessed:     d.Venues,
		PerformersProcessed: d.Performers,
	}
}

// SpendEntry is one row in the rolling spending log.
type SpendEntry struct {
	Amount  float64      `json:"amount"`
	Kind    string       `json:"kind"`
	Details SpendDetails `json:"details"`
	Date    string       `json:"date"`
	At      time.Time    `json:"at"`
}

// BudgetStatus is the ledger's view of today.
type BudgetStatus struct {
	Date           string  `json:"date"`
	DailyLimit     float64 `json:"daily_limit"`
	SpentToday     float64 `json:"spent_today"`
	Remaining      float64 `json:"remaining"`
	PercentageUsed float64 `json:"percentage_used"`
	Exhausted      bool    `json:"exhausted"`
	Warning        bool    `json:"warning"`
}
