package prompt

// baseSystem is the shared system instruction for every research operation.
const baseSystem = `You are the KC Metro Live research agent. You find live music events in the Kansas City, MO and KS metro area (within 50 miles of 39.0997° N, 94.5786° W). Focus on small venues: bars, restaurants, breweries, wineries, distilleries. Avoid arenas, amphitheaters, stadiums, large theaters and Ticketmaster events.

RESEARCH REQUIREMENTS:
- Research comprehensively using web search capabilities
- Search venue websites, social media and community calendars
- Use https://kclive411.com/ and https://kansascitymusic.com/ as secondary sources
- Priority: venue and performer websites with date stamps, then their social media
- Look for events up to 90 days ahead only
- Focus on live music, karaoke, open mic nights and jam sessions

DATA ACCURACY:
- Verify information from multiple sources when possible
- Note conflicts in addresses, times or details
- Use sentiment analysis on reviews from Google and Yelp for ratings
- Count positive vs negative words in reviews
- Generate appropriate confidence scores for data quality

RESPONSE FORMAT:
Return valid JSON only. No markdown, no text outside the JSON structure.`

const venueSchema = `{
    "name": "string",
    "type": "bar|restaurant|brewery|winery|distillery|other",
    "address": "string",
    "city": "string",
    "state": "MO|KS",
    "zip": "string",
    "description": "string",
    "website_link": "url",
    "facebook_page_link": "url",
    "phone_number": "string",
    "email": "string",
    "capacity": 0,
    "parking_info": "string",
    "accessibility": true|false,
    "outdoor_indoor": "outdoor|indoor|both",
    "pet_friendly": true|false,
    "rating_sentiment": "ugh|meh|good|great",
    "sentiment_words": ["positive", "negative", "words"],
    "map_link": "url",
    "alternative_name": "string"
  }`

const performerSchema = `{
    "name": "string",
    "description": "string",
    "style_of_music": ["rock", "jazz", "blues"],
    "performer_type": "solo artist|duo|trio|band|group|orchestra|other",
    "local_touring": "local|touring",
    "website_link": "url",
    "social_media_links": ["url1", "url2"],
    "members": "string",
    "location": "string",
    "rating_sentiment": "ugh|meh|good|great",
    "sentiment_words": ["positive", "negative", "words"],
    "additional_notes": "string"
  }`

const citationsSchema = `[
    {
      "source_url": "string",
      "source_type": "official_website|social_media|review_site|directory",
      "information_found": "string",
      "reliability_score": "high|medium|low"
    }
  ]`

const eventsSchema = `{
  "events": [
    {
      "event": {
        "event_name": "string",
        "event_type": "live music|karaoke|open mic|jam session|concert|festival|other",
        "start_date": "YYYY-MM-DD",
        "end_date": "YYYY-MM-DD",
        "start_time": "HH:MM",
        "end_time": "HH:MM",
        "description": "string",
        "requires_tickets": true|false,
        "ticket_link": "url",
        "cost": 0,
        "age_restriction": "all ages|18+|21+",
        "event_link": "url",
        "theme": "string",
        "stage": "string",
        "recurrence": "one-time|daily|weekly|monthly|yearly",
        "spans_multiple_days": true|false,
        "weather_dependent": true|false,
        "crowd_size_expected": "string"
      },
      "venue": ` + venueSchema + `,
      "performers": [` + performerSchema + `],
      "notes": [
        {
          "note_text": "string",
          "source": "string",
          "date": "YYYY-MM-DD",
          "related_to": "venue|performer|event"
        }
      ],
      "research_citations": ` + citationsSchema + `
    }
  ],
  "research_summary": {
    "total_sources_searched": 0,
    "sources_with_events": 0,
    "confidence_level": "high|medium|low",
    "search_challenges": "string"
  }
}`

const venueResearchSchema = `{
  "venue_data": ` + venueSchema + `,
  "citations": ` + citationsSchema + `
}`

const performerResearchSchema = `{
  "performer_data": ` + performerSchema + `,
  "citations": ` + citationsSchema + `
}`
