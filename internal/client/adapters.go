package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"github.com/setlistvote/api/internal/config"
)

// IdentityProvider resolves an artist's canonical identity from the
// primary discovery service.
type IdentityProvider interface {
	ResolveIdentity(ctx context.Context, query string) (*IdentityResult, error)
}

// EventProvider lists an artist's upcoming and recent shows from the
// ticketing service.
type EventProvider interface {
	ArtistEvents(ctx context.Context, artistQuery string) ([]Event, error)
}

// CatalogProvider exposes the music catalog service: artist search for
// enrichment, then albums and tracks for the song import.
type CatalogProvider interface {
	SearchArtist(ctx context.Context, query string) (*CatalogArtist, error)
	ArtistAlbums(ctx context.Context, catalogID string) ([]Album, error)
	AlbumTracks(ctx context.Context, albumID string) ([]Track, error)
}

// resilientFrom maps the config section onto the client tuning struct.
func resilientFrom(cc config.ClientConfig) Config {
	return Config{
		Tries:             cc.Tries,
		BaseDelay:         cc.BaseDelay,
		MaxDelay:          cc.MaxDelay,
		Timeout:           cc.Timeout,
		FailureThreshold:  cc.FailureThreshold,
		RecoveryTimeout:   cc.RecoveryTimeout,
		RequestsPerSecond: cc.RequestsPerSecond,
		BurstSize:         cc.BurstSize,
	}
}

// doJSON runs a request through the resilient wrapper and decodes the
// JSON response, treating any non-2xx status as an error.
func doJSON(rc *Resilient, req *http.Request, provider string, result interface{}) error {
	req.Header.Set("Accept", "application/json")

	log.Printf("[%s API] → %s %s", provider, req.Method, req.URL.Path)

	resp, err := rc.Do(req)
	if err != nil {
		log.Printf("[%s API] ✗ %s %s: %v", provider, req.Method, req.URL.Path, err)
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s API error (status %d): %s", provider, resp.StatusCode, string(respBody))
	}

	if result == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func jsonRequest(ctx context.Context, method, url string, body interface{}) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(bodyBytes)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}
