// Package normalize turns loosely typed research payloads into canonical
// entities with defaults applied.
package normalize

import (
	"github.com/rotisserie/eris"

	"github.com/kcmetrolive/metro-agent/internal/model"
	"github.com/kcmetrolive/metro-agent/internal/resilience"
)

var unverified = []string{"unverified"}

// Normalizer builds canonical entities. today supplies the default note date.
type Normalizer struct {
	today func() string
}

// New creates a Normalizer.
func New(today func() string) *Normalizer {
	return &Normalizer{today: today}
}

// Normalize dispatches on kind. It fails only when the mandatory name is
// missing; every other irregularity is defaulted or flagged.
func (n *Normalizer) Normalize(raw map[string]any, kind model.Kind) (model.Entity, error) {
	switch kind {
	case model.KindEvent:
		return n.Event(raw)
	case model.KindVenue:
		return n.Venue(raw)
	case model.KindPerformer:
		return n.Performer(raw)
	case model.KindNote:
		return n.Note(raw)
	default:
		return nil, eris.Errorf("normalize: unknown kind %q", kind)
	}
}

// Event normalizes an event payload.
func (n *Normalizer) Event(raw map[string]any) (*model.Event, error) {
	r := &reader{raw: raw}
	name := r.str("event_name", "name")
	if name == "" {
		return nil, resilience.NewValidationError("event_name", "event name is required")
	}

	e := &model.Event{
		Name:              name,
		Type:              r.enum(model.EventTypes, "live_music", "event_type", "type"),
		StartDate:         r.str("start_date"),
		EndDate:           r.str("end_date"),
		StartTime:         r.str("start_time"),
		EndTime:           r.str("end_time"),
		Description:       r.str("description"),
		RequiresTickets:   r.boolPtr("requires_tickets"),
		TicketLink:        r.str("ticket_link"),
		Cost:              r.str("cost"),
		AgeRestriction:    r.str("age_restriction"),
		EventLink:         r.str("event_link"),
		Theme:             r.str("theme"),
		Stage:             r.str("stage"),
		Recurrence:        r.str("recurrence"),
		SpansMultipleDays: r.boolPtr("spans_multiple_days"),
		WeatherDependent:  r.boolPtr("weather_dependent"),
		CrowdSizeExpected: r.str("crowd_size_expected"),
		Verified:          r.list("verified"),
	}
	if len(e.Verified) == 0 {
		e.Verified = unverified
	}
	e.Flags = r.flags
	return e, nil
}

// Venue normalizes a venue payload.
func (n *Normalizer) Venue(raw map[string]any) (*model.Venue, error) {
	r := &reader{raw: raw}
	name := r.str("name", "venue_name")
	if name == "" {
		return nil, resilience.NewValidationError("name", "venue name is required")
	}

	accessibility, _ := r.boolean("accessibility")
	petFriendly, _ := r.boolean("pet_friendly")
	v := &model.Venue{
		Name:            name,
		Type:            r.enum(model.VenueTypes, "bar", "venue_type", "type"),
		Address:         r.str("address"),
		City:            r.str("city"),
		State:           r.strOr("MO", "state"),
		Zip:             r.str("zip"),
		Description:     r.str("description"),
		WebsiteLink:     r.str("website_link"),
		FacebookPage:    r.str("facebook_page_link"),
		PhoneNumber:     r.str("phone_number"),
		Email:           r.str("email"),
		Capacity:        r.str("capacity"),
		ParkingInfo:     r.str("parking_info"),
		Accessibility:   accessibility,
		OutdoorIndoor:   r.enum(model.OutdoorIndoor, "indoor", "outdoor_indoor"),
		PetFriendly:     petFriendly,
		RatingSentiment: r.rating("rating_sentiment"),
		SentimentWords:  r.list("sentiment_words"),
		MapLink:         r.str("map_link"),
		AlternativeName: r.str("alternative_name"),
		Verified:        r.list("verified"),
	}
	if len(v.Verified) == 0 {
		v.Verified = unverified
	}
	v.Flags = r.flags
	return v, nil
}

// Performer normalizes a performer payload.
func (n *Normalizer) Performer(raw map[string]any) (*model.Performer, error) {
	r := &reader{raw: raw}
	name := r.str("name", "performer_name")
	if name == "" {
		return nil, resilience.NewValidationError("name", "performer name is required")
	}

	p := &model.Performer{
		Name:             name,
		Description:      r.str("description"),
		StyleOfMusic:     r.list("style_of_music", "genre"),
		Type:             r.enum(model.PerformerTypes, "band", "performer_type", "type"),
		LocalTouring:     r.enum(model.LocalTouring, "local", "local_touring"),
		WebsiteLink:      r.str("website_link"),
		SocialMediaLinks: r.list("social_media_links"),
		Members:          r.str("members"),
		Location:         r.strOr("Kansas City, MO", "location"),
		RatingSentiment:  r.rating("rating_sentiment"),
		SentimentWords:   r.list("sentiment_words"),
		AdditionalNotes:  r.str("additional_notes"),
	}
	p.Flags = r.flags
	return p, nil
}

// Note normalizes a note payload. An unknown related_to subject is flagged
// and attaches to the event.
func (n *Normalizer) Note(raw map[string]any) (*model.Note, error) {
	r := &reader{raw: raw}
	text := r.str("note_text", "text")
	if text == "" {
		return nil, resilience.NewValidationError("note_text", "note text is required")
	}

	related := r.enum(model.NoteSubjects, string(model.KindEvent), "related_to")
	if !model.NoteSubjects.Contains(related) {
		related = string(model.KindEvent)
	}

	date := r.str("date")
	if date == "" && n.today != nil {
		date = n.today()
	}

	note := &model.Note{
		Text:      text,
		Source:    r.strOr("Unknown", "source"),
		Date:      date,
		RelatedTo: model.Kind(related),
		RelatedID: r.str("related_id"),
	}
	note.Flags = r.flags
	return note, nil
}
