package prompt

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

var today = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

func TestBuildPrompt_Events(t *testing.T) {
	t.Parallel()

	p, err := BuildPrompt(OpEvents, 5, today)
	require.NoError(t, err)

	for _, want := range []string{
		"Find 5 NEW upcoming",
		"within 50 miles of 39.0997°N, 94.5786°W",
		"2026-10-16 to 2027-01-14",
		"https://kclive411.com/",
		"https://kansascitymusic.com/",
		"bars, restaurants, breweries, wineries, distilleries",
		"EXCLUDE: arenas, amphitheaters, stadiums",
		"ugh (<2 stars), meh (2-3 stars), good (4 stars), great (5 stars)",
		"amazing, fun, great, love",
		"bad, dirty, boring",
		"Season: Fall",
		"Halloween events",
		"Provide exactly 5 unique events",
	} {
		assert.Contains(t, p, want)
	}
}

func TestBuildPrompt_Deterministic(t *testing.T) {
	t.Parallel()

	a, err := BuildPrompt(OpEvents, 10, today)
	require.NoError(t, err)
	b, err := BuildPrompt(OpEvents, 10, today)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := BuildPrompt(OpEvents, 10, today.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestBuild_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		req  Request
	}{
		{name: "unknown operation", req: Request{Operation: "lyrics", Limit: 1, Today: today}},
		{name: "zero limit", req: Request{Operation: OpEvents, Limit: 0, Today: today}},
		{name: "venue without name", req: Request{Operation: OpVenueResearch, Subject: "  ", Today: today}},
		{name: "performer without name", req: Request{Operation: OpPerformerResearch, Today: today}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Build(tt.req)
			require.Error(t, err)
		})
	}

	_, err := System("lyrics")
	require.Error(t, err)
}

func TestBuild_TargetedResearch(t *testing.T) {
	t.Parallel()

	v, err := Build(Request{Operation: OpVenueResearch, Subject: "Knuckleheads", Hint: "2715 Rochester St", Today: today})
	require.NoError(t, err)
	assert.Contains(t, v, "VENUE RESEARCH: Knuckleheads")
	assert.Contains(t, v, "- Address: 2715 Rochester St")
	assert.Contains(t, v, "Research date: 2026-10-16")

	p, err := Build(Request{Operation: OpPerformerResearch, Subject: "The Grisly Hand", Today: today})
	require.NoError(t, err)
	assert.Contains(t, p, "PERFORMER RESEARCH: The Grisly Hand")
	assert.NotContains(t, p, "Suspected genre")

	m, err := Build(Request{Operation: OpMonthlyUpdate, Today: today})
	require.NoError(t, err)
	assert.Contains(t, m, "Date: 2026-10-16")

	probe, err := Build(Request{Operation: OpTest})
	require.NoError(t, err)
	assert.Contains(t, probe, "connectivity test")
}

func TestSystem_SchemasAreValidShape(t *testing.T) {
	t.Parallel()

	tests := []struct {
		op      Operation
		topKeys []string
	}{
		{op: OpEvents, topKeys: []string{`"events"`, `"research_summary"`, `"research_citations"`, `"event_name"`}},
		{op: OpVenueResearch, topKeys: []string{`"venue_data"`, `"citations"`}},
		{op: OpPerformerResearch, topKeys: []string{`"performer_data"`, `"citations"`}},
	}
	for _, tt := range tests {
		t.Run(string(tt.op), func(t *testing.T) {
			t.Parallel()
			sys, err := System(tt.op)
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(sys, "You are the KC Metro Live research agent."))
			assert.Contains(t, sys, "Return valid JSON only.")
			for _, k := range tt.topKeys {
				assert.Contains(t, sys, k)
			}
		})
	}
}

// The schemas use "true|false" placeholders, so they are not strict JSON;
// substituting them must yield a parseable document.
func TestEventsSchema_ParsesWithPlaceholdersFilled(t *testing.T) {
	t.Parallel()

	doc := strings.ReplaceAll(eventsSchema, "true|false", "true")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(doc), &out))
	events, ok := out["events"].([]any)
	require.True(t, ok)
	require.Len(t, events, 1)
}

func TestSeason(t *testing.T) {
	t.Parallel()

	tests := []struct {
		month time.Month
		want  string
	}{
		{time.January, "Winter"},
		{time.March, "Spring"},
		{time.July, "Summer"},
		{time.October, "Fall"},
		{time.December, "Winter"},
	}
	for _, tt := range tests {
		got := Season(time.Date(2026, tt.month, 10, 0, 0, 0, 0, time.UTC))
		assert.Equal(t, tt.want, got, tt.month.String())
	}

	assert.Equal(t,
		"Summer outdoor concerts, patio events and festival season, Outdoor venue opportunities and patio events",
		SeasonalConsiderations(time.Date(2026, time.July, 4, 0, 0, 0, 0, time.UTC)))
}

func TestImagePrompt(t *testing.T) {
	t.Parallel()

	ev := ImagePrompt(model.KindEvent, "Blues Night", map[string]any{"event_type": "karaoke", "theme": "80s"})
	assert.Contains(t, ev, "fun and casual with microphone focus, incorporating 80s theme elements")
	assert.Contains(t, ev, "No text, no copyrighted logos")

	v := ImagePrompt(model.KindVenue, "Westport Saloon", map[string]any{"venue_type": "brewery", "outdoor_indoor": "both"})
	assert.Contains(t, v, "a brewery in Kansas City")
	assert.Contains(t, v, "mix of indoor and outdoor spaces")

	p := ImagePrompt(model.KindPerformer, "Hot Club", map[string]any{
		"performer_type": "solo_artist",
		"style_of_music": []any{"Jazz", "swing"},
	})
	assert.Contains(t, p, "a solo artist playing Jazz, swing")
	assert.Contains(t, p, "sophisticated and moody")

	fallback := ImagePrompt(model.KindPerformer, "Unknown", nil)
	assert.Contains(t, fallback, "a band playing general music")

	n := ImagePrompt(model.KindNote, "x", nil)
	assert.Contains(t, n, "Musical themed image for 'x'")
}
