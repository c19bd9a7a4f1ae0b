package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/setlistvote/api/internal/config"
)

func newCatalogTestServer(t *testing.T, tokenCalls *int32, expiresIn int) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("bad token form: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "client_credentials" {
			t.Errorf("unexpected grant_type %q", got)
		}
		n := atomic.AddInt32(tokenCalls, 1)
		json.NewEncoder(w).Encode(tokenResponse{
			AccessToken: "token-" + string(rune('0'+n)),
			ExpiresIn:   expiresIn,
		})
	})
	mux.HandleFunc("/v1/search", func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); auth == "" || auth == "Bearer " {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		json.NewEncoder(w).Encode(searchResponse{
			Artists: []CatalogArtist{{ID: "cat-1", Name: "Test Artist"}},
		})
	})
	return httptest.NewServer(mux)
}

func newTestCatalogClient(baseURL string) *CatalogClient {
	return NewCatalogClient(
		&config.ProviderConfig{BaseURL: baseURL, ClientID: "id", ClientSecret: "secret"},
		config.ClientConfig{
			Tries:             1,
			BaseDelay:         time.Millisecond,
			MaxDelay:          10 * time.Millisecond,
			Timeout:           2 * time.Second,
			FailureThreshold:  5,
			RecoveryTimeout:   time.Minute,
			RequestsPerSecond: 1000,
			BurstSize:         1000,
		},
	)
}

func TestCatalogClient_TokenReused(t *testing.T) {
	var tokenCalls int32
	srv := newCatalogTestServer(t, &tokenCalls, 3600)
	defer srv.Close()

	c := newTestCatalogClient(srv.URL)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		artist, err := c.SearchArtist(ctx, "test artist")
		if err != nil {
			t.Fatalf("search %d failed: %v", i, err)
		}
		if artist.ID != "cat-1" {
			t.Fatalf("search %d: unexpected artist %+v", i, artist)
		}
	}

	if got := atomic.LoadInt32(&tokenCalls); got != 1 {
		t.Errorf("expected a single token fetch across calls, got %d", got)
	}
}

func TestCatalogClient_TokenRefreshedNearExpiry(t *testing.T) {
	var tokenCalls int32
	// expires_in of 1s is inside the refresh slack, so every call
	// treats the cached token as stale.
	srv := newCatalogTestServer(t, &tokenCalls, 1)
	defer srv.Close()

	c := newTestCatalogClient(srv.URL)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := c.SearchArtist(ctx, "test artist"); err != nil {
			t.Fatalf("search %d failed: %v", i, err)
		}
	}

	if got := atomic.LoadInt32(&tokenCalls); got != 2 {
		t.Errorf("expected token refresh on each call, got %d fetches", got)
	}
}

func TestCatalogClient_IsConfigured(t *testing.T) {
	c := NewCatalogClient(&config.ProviderConfig{}, config.ClientConfig{})
	if c.IsConfigured() {
		t.Error("client without credentials must report unconfigured")
	}
	if !newTestCatalogClient("http://example.invalid").IsConfigured() {
		t.Error("client with credentials must report configured")
	}
}
