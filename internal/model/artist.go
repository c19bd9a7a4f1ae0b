package model

import "time"

// Artist is the local artist record assembled by the import pipeline.
type Artist struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	CatalogID  string    `json:"catalogId,omitempty"` // unset when enrichment failed or artist has no catalog presence
	Name       string    `json:"name"`
	Slug       string    `json:"slug"`
	ImageURL   string    `json:"imageUrl,omitempty"`
	Genres     []string  `json:"genres,omitempty"`
	SongCount  int       `json:"songCount"`
	ShowCount  int       `json:"showCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Venue is a concert venue discovered through the ticketing provider.
type Venue struct {
	ID         string `json:"id"`
	ExternalID string `json:"externalId"`
	Name       string `json:"name"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Show is one concert, upcoming or recent, linked to an artist and venue.
type Show struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"externalId"`
	ArtistID   string    `json:"artistId"`
	VenueID    string    `json:"venueId"`
	Date       time.Time `json:"date"`
	TicketURL  string    `json:"ticketUrl,omitempty"`
	MinPrice   float64   `json:"minPrice,omitempty"`
	MaxPrice   float64   `json:"maxPrice,omitempty"`
	Upcoming   bool      `json:"upcoming"`
}

// Song is one catalog entry after live/alternate deduplication.
type Song struct {
	ID              string `json:"id"`
	ArtistID        string `json:"artistId"`
	Title           string `json:"title"`
	NormalizedTitle string `json:"normalizedTitle"`
	Album           string `json:"album,omitempty"`
	Popularity      int    `json:"popularity,omitempty"`
	DurationMs      int    `json:"durationMs,omitempty"`
}

// Setlist is a placeholder prediction created ahead of an upcoming show.
// Editable by users once the show page goes live.
type Setlist struct {
	ID        string    `json:"id"`
	ShowID    string    `json:"showId"`
	ArtistID  string    `json:"artistId"`
	SongIDs   []string  `json:"songIds"`
	Editable  bool      `json:"editable"`
	CreatedAt time.Time `json:"createdAt"`
}
