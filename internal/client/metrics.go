package client

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	outboundRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "outbound_requests_total",
		Help: "Outbound provider requests by final outcome.",
	}, []string{"provider", "outcome"}) // outcome: success, failed, rejected

	outboundDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "outbound_request_duration_seconds",
		Help:    "Duration of outbound provider requests, retries included.",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
	}, []string{"provider"})

	breakerStateGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "outbound_breaker_state",
		Help: "Circuit breaker state per provider (0=closed, 1=half-open, 2=open).",
	}, []string{"provider"})
)

func breakerStateValue(s BreakerState) float64 {
	switch s {
	case BreakerHalfOpen:
		return 1
	case BreakerOpen:
		return 2
	default:
		return 0
	}
}

// Stats is a point-in-time health snapshot of one Resilient instance.
type Stats struct {
	Provider        string       `json:"provider"`
	TotalRequests   int64        `json:"totalRequests"`
	Successful      int64        `json:"successful"`
	Failed          int64        `json:"failed"`
	Rejected        int64        `json:"rejected"`
	AvgResponseMs   float64      `json:"avgResponseMs"`
	BreakerState    BreakerState `json:"breakerState"`
	BreakerFailures int          `json:"breakerFailures"`
}

// rollingStats keeps the counters behind Stats. The moving average is
// an EWMA so a burst of slow responses shows up quickly in health checks.
type rollingStats struct {
	mu        sync.Mutex
	total     int64
	success   int64
	failed    int64
	rejected  int64
	avgMs     float64
	hasSample bool
}

const ewmaWeight = 0.2

func (s *rollingStats) recordSuccess(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.success++
	s.observe(d)
}

func (s *rollingStats) recordFailure(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.total++
	s.failed++
	s.observe(d)
}

func (s *rollingStats) recordRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejected++
}

func (s *rollingStats) observe(d time.Duration) {
	ms := float64(d.Milliseconds())
	if !s.hasSample {
		s.avgMs = ms
		s.hasSample = true
		return
	}
	s.avgMs = s.avgMs*(1-ewmaWeight) + ms*ewmaWeight
}

func (s *rollingStats) snapshot() (total, success, failed, rejected int64, avgMs float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total, s.success, s.failed, s.rejected, s.avgMs
}
