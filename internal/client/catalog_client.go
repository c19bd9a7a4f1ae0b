package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/setlistvote/api/internal/config"
)

// CatalogArtist is the catalog service's artist entry, used to enrich
// the local record with a catalog identifier.
type CatalogArtist struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Genres     []string `json:"genres,omitempty"`
	ImageURL   string   `json:"imageUrl,omitempty"`
	Popularity int      `json:"popularity,omitempty"`
}

// Album is one catalog album.
type Album struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"releaseDate,omitempty"`
	TotalTracks int    `json:"totalTracks,omitempty"`
}

// Track is one catalog track with its per-track signal.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Album      string `json:"album,omitempty"`
	Popularity int    `json:"popularity,omitempty"`
	DurationMs int    `json:"durationMs,omitempty"`
}

type searchResponse struct {
	Artists []CatalogArtist `json:"artists"`
}

type albumsResponse struct {
	Albums []Album `json:"albums"`
}

type tracksResponse struct {
	Tracks []Track `json:"tracks"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// tokenCache holds the catalog access token with explicit expiry. One
// per client instance; nothing here is package-global.
type tokenCache struct {
	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// expirySlack refreshes tokens slightly before the provider's deadline
// so an in-flight request never carries a just-expired token.
const expirySlack = 30 * time.Second

func (t *tokenCache) get(now time.Time) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == "" || now.After(t.expiresAt.Add(-expirySlack)) {
		return "", false
	}
	return t.token, true
}

func (t *tokenCache) set(token string, expiresIn int, now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.expiresAt = now.Add(time.Duration(expiresIn) * time.Second)
}

// CatalogClient implements CatalogProvider for the catalog API.
type CatalogClient struct {
	rc           *Resilient
	baseURL      string
	clientID     string
	clientSecret string
	tokens       *tokenCache
}

func NewCatalogClient(cfg *config.ProviderConfig, cc config.ClientConfig) *CatalogClient {
	return &CatalogClient{
		rc:           NewResilient("catalog", resilientFrom(cc)),
		baseURL:      cfg.BaseURL,
		clientID:     cfg.ClientID,
		clientSecret: cfg.ClientSecret,
		tokens:       &tokenCache{},
	}
}

// SearchArtist finds the catalog entry best matching the query.
func (c *CatalogClient) SearchArtist(ctx context.Context, query string) (*CatalogArtist, error) {
	endpoint := fmt.Sprintf("%s/v1/search?type=artist&q=%s", c.baseURL, url.QueryEscape(query))
	var result searchResponse
	if err := c.getAuthed(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	if len(result.Artists) == 0 {
		return nil, fmt.Errorf("catalog has no artist matching %q", query)
	}
	return &result.Artists[0], nil
}

// ArtistAlbums lists the artist's albums.
func (c *CatalogClient) ArtistAlbums(ctx context.Context, catalogID string) ([]Album, error) {
	endpoint := fmt.Sprintf("%s/v1/artists/%s/albums", c.baseURL, url.PathEscape(catalogID))
	var result albumsResponse
	if err := c.getAuthed(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return result.Albums, nil
}

// AlbumTracks lists the tracks of one album.
func (c *CatalogClient) AlbumTracks(ctx context.Context, albumID string) ([]Track, error) {
	endpoint := fmt.Sprintf("%s/v1/albums/%s/tracks", c.baseURL, url.PathEscape(albumID))
	var result tracksResponse
	if err := c.getAuthed(ctx, endpoint, &result); err != nil {
		return nil, err
	}
	return result.Tracks, nil
}

func (c *CatalogClient) getAuthed(ctx context.Context, endpoint string, result interface{}) error {
	token, err := c.accessToken(ctx)
	if err != nil {
		return err
	}

	req, err := jsonRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)

	return doJSON(c.rc, req, "catalog", result)
}

// accessToken returns the cached client-credentials token, refreshing
// it through the resilient wrapper when missing or near expiry.
func (c *CatalogClient) accessToken(ctx context.Context) (string, error) {
	if token, ok := c.tokens.get(time.Now()); ok {
		return token, nil
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", c.clientID)
	form.Set("client_secret", c.clientSecret)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/oauth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var tok tokenResponse
	if err := doJSON(c.rc, req, "catalog", &tok); err != nil {
		return "", fmt.Errorf("catalog token refresh: %w", err)
	}
	if tok.AccessToken == "" {
		return "", fmt.Errorf("catalog token refresh: empty access token")
	}

	c.tokens.set(tok.AccessToken, tok.ExpiresIn, time.Now())
	return tok.AccessToken, nil
}

// IsConfigured returns true if the client has valid configuration
func (c *CatalogClient) IsConfigured() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// Stats exposes the underlying resilient wrapper's health snapshot.
func (c *CatalogClient) Stats() Stats {
	return c.rc.Stats()
}
