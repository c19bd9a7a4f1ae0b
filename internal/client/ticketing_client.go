package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/setlistvote/api/internal/config"
)

// Event is one show as the ticketing service reports it.
type Event struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Date         time.Time `json:"date"`
	VenueName    string    `json:"venueName"`
	VenueCity    string    `json:"venueCity"`
	VenueState   string    `json:"venueState,omitempty"`
	VenueCountry string    `json:"venueCountry,omitempty"`
	TicketURL    string    `json:"ticketUrl,omitempty"`
	MinPrice     float64   `json:"minPrice,omitempty"`
	MaxPrice     float64   `json:"maxPrice,omitempty"`
	Upcoming     bool      `json:"upcoming"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

// TicketingClient implements EventProvider for the ticketing API.
type TicketingClient struct {
	rc      *Resilient
	baseURL string
	apiKey  string
}

func NewTicketingClient(cfg *config.ProviderConfig, cc config.ClientConfig) *TicketingClient {
	return &TicketingClient{
		rc:      NewResilient("ticketing", resilientFrom(cc)),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// ArtistEvents returns the artist's upcoming and recent shows with
// venue and price metadata.
func (c *TicketingClient) ArtistEvents(ctx context.Context, artistQuery string) ([]Event, error) {
	endpoint := fmt.Sprintf("%s/v2/events?artist=%s&apikey=%s",
		c.baseURL, url.QueryEscape(artistQuery), url.QueryEscape(c.apiKey))
	req, err := jsonRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var result eventsResponse
	if err := doJSON(c.rc, req, "ticketing", &result); err != nil {
		return nil, err
	}
	return result.Events, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *TicketingClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Stats exposes the underlying resilient wrapper's health snapshot.
func (c *TicketingClient) Stats() Stats {
	return c.rc.Stats()
}
