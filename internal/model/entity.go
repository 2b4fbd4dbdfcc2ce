package model

import (
	"encoding/json"
	"slices"
)

// Kind tags an entity variant.
type Kind string

const (
	KindEvent     Kind = "event"
	KindVenue     Kind = "venue"
	KindPerformer Kind = "performer"
	KindNote      Kind = "note"
)

// Relation names used when linking records.
const (
	RelEventVenues     = "events-to-venues"
	RelEventPerformers = "events-to-performers"
	RelEventNotes      = "events-to-notes"
	RelVenueNotes      = "venues-to-notes"
	RelPerformerNotes  = "performers-to-notes"
)

// NoteRelation returns the relation used to link a note to an entity of kind k.
func NoteRelation(k Kind) string {
	switch k {
	case KindVenue:
		return RelVenueNotes
	case KindPerformer:
		return RelPerformerNotes
	default:
		return RelEventNotes
	}
}

// Enum is a closed set of canonical string values.
type Enum []string

// Contains reports whether v is a member of the set.
func (e Enum) Contains(v string) bool {
	return slices.Contains(e, v)
}

var (
	EventTypes     = Enum{"live_music", "karaoke", "open_mic", "jam_session", "concert", "festival", "other"}
	VenueTypes     = Enum{"bar", "restaurant", "brewery", "winery", "distillery", "other"}
	PerformerTypes = Enum{"solo_artist", "duo", "trio", "band", "group", "orchestra", "other"}
	Ratings        = Enum{"ugh", "meh", "good", "great"}
	LocalTouring   = Enum{"local", "touring"}
	OutdoorIndoor  = Enum{"indoor", "outdoor", "both"}
	NoteSubjects   = Enum{string(KindVenue), string(KindPerformer), string(KindEvent)}
)

// Flag marks a value that was kept verbatim but fell outside its allowed set.
type Flag struct {
	Field  string `json:"field"`
	Value  string `json:"value"`
	Reason string `json:"reason"`
}

// Entity is implemented by every canonical record the normalizer produces.
type Entity interface {
	Kind() Kind
	DisplayName() string
	Flagged() []Flag
}

// Fields flattens an entity into the generic field map the record store persists.
func Fields(e Entity) (map[string]any, error) {
	b, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Event is a single live-music happening. Its identity is (Name, StartDate).
type Event struct {
	Name              string   `json:"name"`
	Type              string   `json:"event_type"`
	StartDate         string   `json:"start_date"`
	EndDate           string   `json:"end_date,omitempty"`
	StartTime         string   `json:"start_time,omitempty"`
	EndTime           string   `json:"end_time,omitempty"`
	Description       string   `json:"description,omitempty"`
	RequiresTickets   *bool    `json:"requires_tickets,omitempty"`
	TicketLink        string   `json:"ticket_link,omitempty"`
	Cost              string   `json:"cost,omitempty"`
	AgeRestriction    string   `json:"age_restriction,omitempty"`
	EventLink         string   `json:"event_link,omitempty"`
	Theme             string   `json:"theme,omitempty"`
	Stage             string   `json:"stage,omitempty"`
	Recurrence        string   `json:"recurrence,omitempty"`
	SpansMultipleDays *bool    `json:"spans_multiple_days,omitempty"`
	WeatherDependent  *bool    `json:"weather_dependent,omitempty"`
	CrowdSizeExpected string   `json:"crowd_size_expected,omitempty"`
	Verified          []string `json:"verified,omitempty"`
	Flags             []Flag   `json:"flags,omitempty"`
}

func (e *Event) Kind() Kind          { return KindEvent }
func (e *Event) DisplayName() string { return e.Name }
func (e *Event) Flagged() []Flag     { return e.Flags }

// IdentityFilter returns the store filter for the event identity key.
func (e *Event) IdentityFilter() map[string]any {
	return map[string]any{"name": e.Name, "start_date": e.StartDate}
}

// Venue is a small live-music venue.
type Venue struct {
	Name             string   `json:"name"`
	Type             string   `json:"venue_type"`
	Address          string   `json:"address,omitempty"`
	City             string   `json:"city,omitempty"`
	State            string   `json:"state"`
	Zip              string   `json:"zip,omitempty"`
	Description      string   `json:"description,omitempty"`
	WebsiteLink      string   `json:"website_link,omitempty"`
	FacebookPage     string   `json:"facebook_page_link,omitempty"`
	PhoneNumber      string   `json:"phone_number,omitempty"`
	Email            string   `json:"email,omitempty"`
	Capacity         string   `json:"capacity,omitempty"`
	ParkingInfo      string   `json:"parking_info,omitempty"`
	Accessibility    bool     `json:"accessibility"`
	OutdoorIndoor    string   `json:"outdoor_indoor"`
	PetFriendly      bool     `json:"pet_friendly"`
	RatingSentiment  string   `json:"rating_sentiment"`
	SentimentWords   []string `json:"sentiment_words,omitempty"`
	MapLink          string   `json:"map_link,omitempty"`
	AlternativeName  string   `json:"alternative_name,omitempty"`
	Verified         []string `json:"verified,omitempty"`
	Flags            []Flag   `json:"flags,omitempty"`
}

func (v *Venue) Kind() Kind          { return KindVenue }
func (v *Venue) DisplayName() string { return v.Name }
func (v *Venue) Flagged() []Flag     { return v.Flags }

// Performer is a solo artist, band or other act.
type Performer struct {
	Name             string   `json:"name"`
	Description      string   `json:"description,omitempty"`
	StyleOfMusic     []string `json:"style_of_music,omitempty"`
	Type             string   `json:"performer_type"`
	LocalTouring     string   `json:"local_touring"`
	WebsiteLink      string   `json:"website_link,omitempty"`
	SocialMediaLinks []string `json:"social_media_links,omitempty"`
	Members          string   `json:"members,omitempty"`
	Location         string   `json:"location"`
	RatingSentiment  string   `json:"rating_sentiment"`
	SentimentWords   []string `json:"sentiment_words,omitempty"`
	AdditionalNotes  string   `json:"additional_notes,omitempty"`
	Flags            []Flag   `json:"flags,omitempty"`
}

func (p *Performer) Kind() Kind          { return KindPerformer }
func (p *Performer) DisplayName() string { return p.Name }
func (p *Performer) Flagged() []Flag     { return p.Flags }

// Note records a conflicting or uncertain research finding about one entity.
type Note struct {
	Text      string `json:"note_text"`
	Source    string `json:"source"`
	Date      string `json:"date"`
	RelatedTo Kind   `json:"related_to"`
	RelatedID string `json:"related_id,omitempty"`
	Flags     []Flag `json:"flags,omitempty"`
}

func (n *Note) Kind() Kind { return KindNote }

// DisplayName returns at most the first 60 characters of the note text.
func (n *Note) DisplayName() string {
	r := []rune(n.Text)
	if len(r) > 60 {
		return string(r[:60])
	}
	return n.Text
}

func (n *Note) Flagged() []Flag { return n.Flags }
