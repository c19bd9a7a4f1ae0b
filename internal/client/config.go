package client

import "time"

// Config tunes one Resilient instance. Each provider adapter owns its
// own instance, so rate and breaker state are per external service and
// shared across every concurrent import using that service.
type Config struct {
	// Tries is the total number of attempts per request, including the first.
	Tries int
	// BaseDelay is the backoff before the first retry; doubles each attempt.
	BaseDelay time.Duration
	// MaxDelay caps the backoff regardless of attempt count.
	MaxDelay time.Duration
	// Timeout bounds a single attempt, and the wait for a rate-limit token.
	Timeout time.Duration
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold int
	// RecoveryTimeout is how long the breaker stays open before probing.
	RecoveryTimeout time.Duration
	// RequestsPerSecond is the token refill rate.
	RequestsPerSecond float64
	// BurstSize is the token bucket capacity.
	BurstSize int
}

// DefaultConfig returns the tuning used when a provider section leaves
// a knob unset.
func DefaultConfig() Config {
	return Config{
		Tries:             3,
		BaseDelay:         1 * time.Second,
		MaxDelay:          30 * time.Second,
		Timeout:           10 * time.Second,
		FailureThreshold:  5,
		RecoveryTimeout:   30 * time.Second,
		RequestsPerSecond: 5,
		BurstSize:         10,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.Tries <= 0 {
		c.Tries = def.Tries
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = def.BaseDelay
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = def.MaxDelay
	}
	if c.Timeout <= 0 {
		c.Timeout = def.Timeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = def.FailureThreshold
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = def.RecoveryTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.BurstSize <= 0 {
		c.BurstSize = def.BurstSize
	}
	return c
}
