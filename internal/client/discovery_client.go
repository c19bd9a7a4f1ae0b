package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/setlistvote/api/internal/config"
)

// IdentityResult is the discovery service's view of an artist.
type IdentityResult struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Images []string `json:"images,omitempty"`
	Genres []string `json:"genres,omitempty"`
}

// DiscoveryClient implements IdentityProvider for the discovery API.
type DiscoveryClient struct {
	rc      *Resilient
	baseURL string
	apiKey  string
}

// NewDiscoveryClient creates a discovery adapter with its own resilient
// wrapper, so its rate budget and breaker are independent of the other
// providers.
func NewDiscoveryClient(cfg *config.ProviderConfig, cc config.ClientConfig) *DiscoveryClient {
	return &DiscoveryClient{
		rc:      NewResilient("discovery", resilientFrom(cc)),
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
	}
}

// ResolveIdentity looks up an artist by name or external id.
func (c *DiscoveryClient) ResolveIdentity(ctx context.Context, query string) (*IdentityResult, error) {
	endpoint := fmt.Sprintf("%s/v1/artists/%s", c.baseURL, url.PathEscape(query))
	req, err := jsonRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var result IdentityResult
	if err := doJSON(c.rc, req, "discovery", &result); err != nil {
		return nil, err
	}
	if result.Name == "" {
		return nil, fmt.Errorf("discovery returned no artist for %q", query)
	}
	return &result, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *DiscoveryClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Stats exposes the underlying resilient wrapper's health snapshot.
func (c *DiscoveryClient) Stats() Stats {
	return c.rc.Stats()
}
