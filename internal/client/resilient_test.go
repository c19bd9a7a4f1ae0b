package client

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func fastConfig() Config {
	return Config{
		Tries:             3,
		BaseDelay:         1 * time.Millisecond,
		MaxDelay:          50 * time.Millisecond,
		Timeout:           2 * time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		RequestsPerSecond: 1000,
		BurstSize:         1000,
	}
}

func doGet(t *testing.T, rc *Resilient, url string) (*http.Response, error) {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("failed to build request: %v", err)
	}
	return rc.Do(req)
}

func TestDo_RetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewResilient("test-retry", fastConfig())
	resp, err := doGet(t, rc, srv.URL)
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, server saw %d", got)
	}
	stats := rc.Stats()
	if stats.Successful != 1 || stats.Failed != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestDo_Retries429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	rc := NewResilient("test-429", fastConfig())
	resp, err := doGet(t, rc, srv.URL)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	resp.Body.Close()

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 attempts, server saw %d", got)
	}
}

func TestDo_DoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	rc := NewResilient("test-4xx", fastConfig())
	resp, err := doGet(t, rc, srv.URL)
	if err != nil {
		t.Fatalf("a 4xx is a definitive response, not an error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 passed through, got %d", resp.StatusCode)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected exactly 1 attempt, server saw %d", got)
	}
}

func TestDo_ExhaustedRetriesFail(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	rc := NewResilient("test-exhaust", fastConfig())
	if _, err := doGet(t, rc, srv.URL); err == nil {
		t.Fatal("expected failure after exhausting retries")
	}

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Errorf("expected 3 attempts, server saw %d", got)
	}
	stats := rc.Stats()
	if stats.Failed != 1 {
		t.Errorf("expected 1 failed request in stats, got %+v", stats)
	}
}

func TestBreaker_OpensAfterThresholdAndFailsFast(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Tries = 1
	cfg.FailureThreshold = 2
	cfg.RecoveryTimeout = time.Hour
	rc := NewResilient("test-breaker-open", cfg)

	for i := 0; i < 2; i++ {
		if _, err := doGet(t, rc, srv.URL); err == nil {
			t.Fatalf("request %d: expected failure", i)
		}
	}
	if state := rc.Stats().BreakerState; state != BreakerOpen {
		t.Fatalf("expected breaker OPEN after threshold, got %s", state)
	}

	before := atomic.LoadInt32(&calls)
	_, err := doGet(t, rc, srv.URL)
	var openErr *CircuitOpenError
	if !errors.As(err, &openErr) {
		t.Fatalf("expected CircuitOpenError, got %v", err)
	}
	if after := atomic.LoadInt32(&calls); after != before {
		t.Errorf("open breaker must not make network calls: %d -> %d", before, after)
	}
	if rc.Stats().Rejected != 1 {
		t.Errorf("expected 1 rejected request, got %+v", rc.Stats())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Tries = 1
	cfg.FailureThreshold = 2
	cfg.RecoveryTimeout = 30 * time.Millisecond
	rc := NewResilient("test-breaker-recover", cfg)

	for i := 0; i < 2; i++ {
		doGet(t, rc, srv.URL)
	}
	if state := rc.Stats().BreakerState; state != BreakerOpen {
		t.Fatalf("expected breaker OPEN, got %s", state)
	}

	// Past the recovery deadline the single trial request goes through
	// and a success closes the breaker with the failure count reset.
	healthy.Store(true)
	time.Sleep(50 * time.Millisecond)

	resp, err := doGet(t, rc, srv.URL)
	if err != nil {
		t.Fatalf("expected trial request to succeed: %v", err)
	}
	resp.Body.Close()

	stats := rc.Stats()
	if stats.BreakerState != BreakerClosed {
		t.Errorf("expected breaker CLOSED after trial success, got %s", stats.BreakerState)
	}
	if stats.BreakerFailures != 0 {
		t.Errorf("expected failure count reset, got %d", stats.BreakerFailures)
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	cfg := fastConfig()
	cfg.Tries = 1
	cfg.FailureThreshold = 1
	cfg.RecoveryTimeout = 20 * time.Millisecond
	rc := NewResilient("test-breaker-reopen", cfg)

	doGet(t, rc, srv.URL)
	if state := rc.Stats().BreakerState; state != BreakerOpen {
		t.Fatalf("expected breaker OPEN, got %s", state)
	}

	time.Sleep(30 * time.Millisecond)
	if _, err := doGet(t, rc, srv.URL); err == nil {
		t.Fatal("expected trial request to fail")
	}
	if state := rc.Stats().BreakerState; state != BreakerOpen {
		t.Errorf("expected breaker back OPEN after failed trial, got %s", state)
	}
}

func TestBackoffDelay_Bounds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BaseDelay = 1000 * time.Millisecond
	cfg.MaxDelay = 30000 * time.Millisecond
	rc := NewResilient("test-backoff", cfg)

	for attempt := 0; attempt <= 8; attempt++ {
		base := 1000 * time.Millisecond << uint(attempt)
		lo := base
		hi := base + base/4
		if lo > cfg.MaxDelay {
			lo = cfg.MaxDelay
		}
		if hi > cfg.MaxDelay {
			hi = cfg.MaxDelay
		}

		for i := 0; i < 50; i++ {
			d := rc.backoffDelay(attempt)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", attempt, d, lo, hi)
			}
		}
	}
}
