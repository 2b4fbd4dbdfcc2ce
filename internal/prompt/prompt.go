// Package prompt compiles research prompts and system instructions. Every
// builder is a pure function of its inputs.
package prompt

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// Operation names a research operation.
type Operation string

const (
	OpEvents            Operation = "events"
	OpVenueResearch     Operation = "venue_research"
	OpPerformerResearch Operation = "performer_research"
	OpMonthlyUpdate     Operation = "monthly_update"
	OpTest              Operation = "test"
)

// Search area and window.
const (
	CenterLat    = 39.0997
	CenterLng    = -94.5786
	RadiusMiles  = 50
	WindowDays   = 90
	dateLayout   = "2006-01-02"
	DefaultLimit = 10
)

// Venue classes that are in and out of scope.
var (
	VenueAllowlist = []string{"bars", "restaurants", "breweries", "wineries", "distilleries", "small music venues"}
	VenueDenylist  = []string{"arenas", "amphitheaters", "stadiums", "large theaters", "large concert halls", "Ticketmaster-ticketed events"}
)

// Sentiment vocabulary used in review analysis.
var (
	PositiveWords = []string{
		"amazing", "fun", "great", "love", "awesome", "excellent", "fantastic", "wonderful",
		"best", "incredible", "outstanding", "perfect", "brilliant", "superb",
	}
	NegativeWords = []string{
		"bad", "dirty", "boring", "terrible", "awful", "poor", "disappointing", "horrible",
		"worst", "rude", "slow", "expensive", "crowded", "loud",
	}
)

// Request describes one prompt to compile.
type Request struct {
	Operation Operation
	Limit     int
	Today     time.Time
	// Subject is the venue or performer name for targeted research.
	Subject string
	// Hint is an address for venue research or a genre for performer research.
	Hint string
}

// BuildPrompt compiles the user prompt for op.
func BuildPrompt(op Operation, limit int, today time.Time) (string, error) {
	return Build(Request{Operation: op, Limit: limit, Today: today})
}

// Build compiles the user prompt for r.
func Build(r Request) (string, error) {
	switch r.Operation {
	case OpEvents:
		if r.Limit < 1 {
			return "", eris.Errorf("prompt: limit must be positive, got %d", r.Limit)
		}
		return eventsPrompt(r.Limit, r.Today), nil
	case OpVenueResearch:
		if strings.TrimSpace(r.Subject) == "" {
			return "", eris.New("prompt: venue research requires a venue name")
		}
		return venuePrompt(r.Subject, r.Hint, r.Today), nil
	case OpPerformerResearch:
		if strings.TrimSpace(r.Subject) == "" {
			return "", eris.New("prompt: performer research requires a performer name")
		}
		return performerPrompt(r.Subject, r.Hint, r.Today), nil
	case OpMonthlyUpdate:
		return monthlyPrompt(r.Today), nil
	case OpTest:
		return testPrompt, nil
	default:
		return "", eris.Errorf("prompt: unknown operation %q", r.Operation)
	}
}

// System returns the system instruction bundle for op, including the exact
// JSON schema the response must follow.
func System(op Operation) (string, error) {
	switch op {
	case OpEvents, OpTest, OpMonthlyUpdate:
		return baseSystem + "\n\nFind upcoming events and return them in this exact JSON format:\n" + eventsSchema, nil
	case OpVenueResearch:
		return baseSystem + "\n\nResearch specific venue details and return them in this JSON format:\n" + venueResearchSchema, nil
	case OpPerformerResearch:
		return baseSystem + "\n\nResearch specific performer details and return them in this JSON format:\n" + performerResearchSchema, nil
	default:
		return "", eris.Errorf("prompt: unknown operation %q", op)
	}
}

const testPrompt = "Test prompt for KC Metro Live. Find 1 upcoming live music event in the Kansas City area. " +
	"Return it in JSON format with event, venue and performer data as specified in the system prompt. " +
	"This is a connectivity test."

func eventsPrompt(limit int, today time.Time) string {
	start := today.Format(dateLayout)
	end := today.AddDate(0, 0, WindowDays).Format(dateLayout)

	var sb strings.Builder
	sb.WriteString("KANSAS CITY LIVE MUSIC EVENTS RESEARCH\n\n")
	fmt.Fprintf(&sb, "MISSION: Find %d NEW upcoming live music events in the Kansas City metro area.\n\n", limit)

	sb.WriteString("SEARCH PARAMETERS:\n")
	fmt.Fprintf(&sb, "- Geographic area: Kansas City, MO and KS within %d miles of %.4f°N, %.4f°W\n", RadiusMiles, CenterLat, -CenterLng)
	fmt.Fprintf(&sb, "- Date range: %s to %s (up to %d days ahead)\n", start, end, WindowDays)
	sb.WriteString("- Event types: live music, karaoke, open mic nights, jam sessions, acoustic performances\n")
	fmt.Fprintf(&sb, "- Venue types: %s\n", strings.Join(VenueAllowlist, ", "))
	fmt.Fprintf(&sb, "- EXCLUDE: %s\n\n", strings.Join(VenueDenylist, ", "))

	sb.WriteString(`SOURCES (search at least 20):
Primary:
1. Individual venue websites with event calendars
2. Venue Facebook pages and events
3. Venue Instagram posts
4. Performer websites and tour dates
5. Performer social media announcements
Secondary:
6. https://kclive411.com/ (Kansas City live music directory)
7. https://kansascitymusic.com/ (local music community site)
8. Kansas City tourism and newspaper event calendars
9. Meetup, Eventbrite and Facebook Events searches
10. Community groups, local radio and college calendars

SEARCH STRATEGY:
- Start with venue-specific searches
- Cross-reference events across multiple sources
- Verify event details from at least 2 sources when possible
- Look for recurring weekly or monthly shows
- Check for themed nights and seasonal events

`)

	sb.WriteString(sentimentInstructions())

	sb.WriteString(`
CONFLICT HANDLING:
When sources disagree, add an entry to the notes array that names the conflicting sources, the date of discovery and which source appears more reliable. Set related_to to the entity the conflict is about.

DATA QUALITY:
- Verify dates and times from multiple sources
- Confirm venue addresses
- Spell performer names consistently
- Flag suspicious or unverified information

`)

	sb.WriteString("CURRENT CONTEXT:\n")
	fmt.Fprintf(&sb, "Today's date: %s\n", start)
	fmt.Fprintf(&sb, "Season: %s\n", Season(today))
	fmt.Fprintf(&sb, "Local events to consider: %s\n\n", SeasonalConsiderations(today))

	sb.WriteString("RETURN FORMAT:\n")
	fmt.Fprintf(&sb, "Provide exactly %d unique events in the specified JSON format. ", limit)
	sb.WriteString("Each event needs complete venue information with sentiment analysis, every performer with genre classification, accurate dates and times, source citations, and notes for any conflicts or uncertainties.\n")
	return sb.String()
}

func sentimentInstructions() string {
	var sb strings.Builder
	sb.WriteString("SENTIMENT ANALYSIS:\n")
	sb.WriteString("Rate venues and performers from Google, Yelp and Facebook reviews.\n")
	fmt.Fprintf(&sb, "- Count positive words: %s\n", strings.Join(PositiveWords, ", "))
	fmt.Fprintf(&sb, "- Count negative words: %s\n", strings.Join(NegativeWords, ", "))
	sb.WriteString("- Base rating: ugh (<2 stars), meh (2-3 stars), good (4 stars), great (5 stars)\n")
	sb.WriteString("- Adjust one level up if positive words outnumber negative 2:1, one level down if negative words dominate\n")
	return sb.String()
}

func venuePrompt(name, address string, today time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "VENUE RESEARCH: %s\n\n", name)
	sb.WriteString("MISSION: Gather complete, accurate information about this Kansas City area venue.\n\n")
	sb.WriteString("TARGET VENUE:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", name)
	if address != "" {
		fmt.Fprintf(&sb, "- Address: %s\n", address)
	}
	sb.WriteString(`
SOURCES:
Official website, Facebook page, Instagram profile, Google Business listing, Yelp, TripAdvisor, local tourism and newspaper listings.

GATHER:
- Legal name and alternative names
- Full street address, city, state and ZIP
- Business phone, email, website and social links
- Venue type, approximate capacity, indoor and outdoor areas
- Parking, accessibility and pet policy
- Live music frequency, stage and sound setup

`)
	sb.WriteString(sentimentInstructions())
	fmt.Fprintf(&sb, "\nResearch date: %s\n", today.Format(dateLayout))
	sb.WriteString("Return the venue data in the specified JSON format with citations for every fact.\n")
	return sb.String()
}

func performerPrompt(name, genre string, today time.Time) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "PERFORMER RESEARCH: %s\n\n", name)
	sb.WriteString("MISSION: Gather complete, accurate information about this Kansas City area musical act.\n\n")
	sb.WriteString("TARGET PERFORMER:\n")
	fmt.Fprintf(&sb, "- Name: %s\n", name)
	if genre != "" {
		fmt.Fprintf(&sb, "- Suspected genre: %s\n", genre)
	}
	sb.WriteString(`
SOURCES:
Official website, Facebook artist page, Instagram, Bandcamp, YouTube, Spotify, local music blogs, venue sites and festival lineups.

GATHER:
- Official name and stage names
- Type: solo artist, duo, trio, band, group or orchestra
- Home base, years active, website and social links
- Genres, originals vs covers, notable releases
- Public member names and instruments
- Local vs touring status and regular venues

`)
	sb.WriteString(sentimentInstructions())
	fmt.Fprintf(&sb, "\nResearch date: %s\n", today.Format(dateLayout))
	sb.WriteString("Prefer official sources over fan content. Return the performer data in the specified JSON format with citations for every fact.\n")
	return sb.String()
}

func monthlyPrompt(today time.Time) string {
	return fmt.Sprintf(`MONTHLY UPDATE SCAN: Kansas City live music scene

MISSION: Review and update existing venue and performer information.

PRIORITY UPDATES:
1. Venue hours and contact information
2. New social media accounts or website changes
3. Recent reviews and sentiment ratings
4. Performer lineup changes or new acts
5. Venue renovations or capacity changes

Date: %s

Return findings in the standard JSON format with source citations.`, today.Format(dateLayout))
}
