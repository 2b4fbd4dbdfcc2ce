package prompt

import (
	"strings"
	"time"

	"github.com/kcmetrolive/metro-agent/internal/model"
)

// Season returns the meteorological season for t.
func Season(t time.Time) string {
	switch t.Month() {
	case time.December, time.January, time.February:
		return "Winter"
	case time.March, time.April, time.May:
		return "Spring"
	case time.June, time.July, time.August:
		return "Summer"
	default:
		return "Fall"
	}
}

var monthlyConsiderations = map[time.Month]string{
	time.January:   "New Year celebrations and winter indoor events",
	time.February:  "Valentine's Day events and winter music series",
	time.March:     "St. Patrick's Day celebrations and spring music festivals",
	time.April:     "Spring outdoor events and festival season beginning",
	time.May:       "Spring outdoor events and festival season beginning",
	time.June:      "Summer outdoor concerts, patio events and festival season",
	time.July:      "Summer outdoor concerts, patio events and festival season",
	time.August:    "Summer outdoor concerts, patio events and festival season",
	time.September: "Back-to-school events and fall festival season",
	time.October:   "Halloween events and harvest celebrations",
	time.November:  "Thanksgiving events and holiday season beginning",
	time.December:  "Holiday parties and New Year events",
}

// SeasonalConsiderations returns month-specific search hints for t.
func SeasonalConsiderations(t time.Time) string {
	parts := []string{monthlyConsiderations[t.Month()]}
	switch Season(t) {
	case "Winter", "Fall":
		parts = append(parts, "Indoor venue preference due to weather")
	default:
		parts = append(parts, "Outdoor venue opportunities and patio events")
	}
	return strings.Join(parts, ", ")
}

const imageBase = "Create a vibrant, engaging image. High quality, professional appearance. No text, no copyrighted logos. "

var eventImageStyles = map[string]string{
	"concert":     "dramatic stage lighting with silhouettes",
	"festival":    "colorful and energetic outdoor festival atmosphere",
	"karaoke":     "fun and casual with microphone focus",
	"open_mic":    "intimate and supportive community atmosphere",
	"jam_session": "relaxed and collaborative musical setting",
}

var venueAtmospheres = map[string]string{
	"bar":        "cozy and social with warm lighting",
	"restaurant": "welcoming and comfortable dining atmosphere",
	"brewery":    "industrial-chic with beer-focused decor",
	"winery":     "elegant and sophisticated wine country feel",
	"distillery": "rustic and artisanal craft spirit atmosphere",
}

var genreStyles = map[string]string{
	"rock":       "bold and energetic with dramatic lighting",
	"jazz":       "sophisticated and moody with warm tones",
	"blues":      "soulful and atmospheric with deep colors",
	"country":    "rustic and authentic with natural elements",
	"folk":       "organic and intimate with acoustic instruments",
	"reggae":     "colorful and laid-back with tropical vibes",
	"electronic": "futuristic and dynamic with neon elements",
	"indie":      "artistic and alternative with creative composition",
	"pop":        "bright and polished with contemporary style",
	"classical":  "elegant and refined with formal presentation",
}

// ImagePrompt builds an image generation prompt for an entity. attrs carries
// the entity's normalized fields.
func ImagePrompt(kind model.Kind, name string, attrs map[string]any) string {
	switch kind {
	case model.KindEvent:
		style, ok := eventImageStyles[attrString(attrs, "event_type")]
		if !ok {
			style = "vibrant musical performance"
		}
		theme := attrString(attrs, "theme")
		if theme != "" {
			style += ", incorporating " + theme + " theme elements"
		}
		return imageBase + "Event image for '" + name + "'. Style: " + style + ". " +
			"Show the energy and atmosphere of a live music performance with stage lighting, audience engagement and musical instruments. " +
			"Make it feel exciting and inviting."

	case model.KindVenue:
		venueType := attrString(attrs, "venue_type")
		if venueType == "" {
			venueType = "bar"
		}
		atmosphere, ok := venueAtmospheres[venueType]
		if !ok {
			atmosphere = "welcoming and musical"
		}
		switch attrString(attrs, "outdoor_indoor") {
		case "outdoor":
			atmosphere += ", outdoor seating with natural lighting"
		case "both":
			atmosphere += ", mix of indoor and outdoor spaces"
		}
		return imageBase + "Venue image for '" + name + "', a " + venueType + " in Kansas City. Atmosphere: " + atmosphere + ". " +
			"Show the interior character with seating, lighting and architectural details. Make it look inviting for live music."

	case model.KindPerformer:
		genres := attrStrings(attrs, "style_of_music")
		music := "general music"
		artistic := "dynamic and musical with performance energy"
		if len(genres) > 0 {
			music = strings.Join(genres, ", ")
			if s, ok := genreStyles[strings.ToLower(genres[0])]; ok {
				artistic = s
			}
		}
		performerType := strings.ReplaceAll(attrString(attrs, "performer_type"), "_", " ")
		if performerType == "" {
			performerType = "band"
		}
		return imageBase + "Performer image for '" + name + "', a " + performerType + " playing " + music + ". " +
			"Artistic style: " + artistic + ". Show instruments and performance elements that reflect their genre."

	default:
		return imageBase + "Musical themed image for '" + name + "'. Make it vibrant and engaging with musical elements."
	}
}

func attrString(attrs map[string]any, key string) string {
	s, _ := attrs[key].(string)
	return s
}

func attrStrings(attrs map[string]any, key string) []string {
	switch v := attrs[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
