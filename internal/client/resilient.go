package client

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// Resilient wraps outbound HTTP calls with a token-bucket rate limiter,
// a circuit breaker and retry with capped exponential backoff. One
// instance per external provider; safe for concurrent use, so every
// import contends for the same bucket and observes the same breaker.
type Resilient struct {
	provider   string
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	breaker    *circuitBreaker
	stats      *rollingStats
}

// NewResilient creates a wrapper for the named provider. Zero-valued
// config fields fall back to DefaultConfig.
func NewResilient(provider string, cfg Config) *Resilient {
	cfg = cfg.withDefaults()
	return &Resilient{
		provider: provider,
		cfg:      cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.BurstSize),
		breaker: newCircuitBreaker(provider, cfg.FailureThreshold, cfg.RecoveryTimeout),
		stats:   &rollingStats{},
	}
}

// Do executes the request with the full resilience policy. It returns
// the response for any non-transient status (including 4xx; the
// adapter decides what that means); it retries 429, 5xx and network
// failures, and fails fast with *CircuitOpenError while the breaker is
// open. Requests with a body must have GetBody set, which
// http.NewRequestWithContext does for the readers the adapters use.
func (r *Resilient) Do(req *http.Request) (*http.Response, error) {
	if err := r.breaker.allow(time.Now()); err != nil {
		r.stats.recordRejected()
		outboundRequests.WithLabelValues(r.provider, "rejected").Inc()
		r.updateBreakerGauge()
		return nil, err
	}

	start := time.Now()

	waitCtx, cancel := context.WithTimeout(req.Context(), r.cfg.Timeout)
	err := r.limiter.Wait(waitCtx)
	cancel()
	if err != nil {
		r.fail(start)
		return nil, fmt.Errorf("%s rate limit wait: %w", r.provider, err)
	}

	var lastErr error
	for attempt := 0; attempt < r.cfg.Tries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(req.Context(), r.backoffDelay(attempt-1)); err != nil {
				r.fail(start)
				return nil, fmt.Errorf("%s retry wait: %w", r.provider, err)
			}
		}

		attemptReq := req.Clone(req.Context())
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				r.fail(start)
				return nil, fmt.Errorf("%s request body: %w", r.provider, err)
			}
			attemptReq.Body = body
		}

		resp, err := r.httpClient.Do(attemptReq)
		if err != nil {
			// Timeouts and transport errors are transient.
			lastErr = err
			continue
		}

		if transientStatus(resp.StatusCode) {
			lastErr = fmt.Errorf("%s returned status %d", r.provider, resp.StatusCode)
			resp.Body.Close()
			continue
		}

		r.breaker.recordSuccess()
		elapsed := time.Since(start)
		r.stats.recordSuccess(elapsed)
		outboundRequests.WithLabelValues(r.provider, "success").Inc()
		outboundDuration.WithLabelValues(r.provider).Observe(elapsed.Seconds())
		r.updateBreakerGauge()
		return resp, nil
	}

	r.fail(start)
	return nil, fmt.Errorf("%s request failed after %d attempts: %w", r.provider, r.cfg.Tries, lastErr)
}

func (r *Resilient) fail(start time.Time) {
	r.breaker.recordFailure(time.Now())
	elapsed := time.Since(start)
	r.stats.recordFailure(elapsed)
	outboundRequests.WithLabelValues(r.provider, "failed").Inc()
	outboundDuration.WithLabelValues(r.provider).Observe(elapsed.Seconds())
	r.updateBreakerGauge()
}

func (r *Resilient) updateBreakerGauge() {
	state, _ := r.breaker.snapshot()
	breakerStateGauge.WithLabelValues(r.provider).Set(breakerStateValue(state))
}

// backoffDelay returns min(maxDelay, baseDelay*2^attempt) plus up to
// 25% random jitter, still capped at maxDelay.
func (r *Resilient) backoffDelay(attempt int) time.Duration {
	d := r.cfg.BaseDelay << uint(attempt)
	if d <= 0 || d > r.cfg.MaxDelay {
		d = r.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Float64() * 0.25 * float64(d))
	if d+jitter > r.cfg.MaxDelay {
		return r.cfg.MaxDelay
	}
	return d + jitter
}

func (r *Resilient) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a health snapshot of counters and breaker state.
func (r *Resilient) Stats() Stats {
	total, success, failed, rejected, avgMs := r.stats.snapshot()
	state, failures := r.breaker.snapshot()
	return Stats{
		Provider:        r.provider,
		TotalRequests:   total,
		Successful:      success,
		Failed:          failed,
		Rejected:        rejected,
		AvgResponseMs:   avgMs,
		BreakerState:    state,
		BreakerFailures: failures,
	}
}

func transientStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= 500
}
