package klaviyo

import (
	"math"
	"math/rand/v2"
	"time"
)

// RandSource abstracts randomness for deterministic testing.
type RandSource interface {
	// Float64 returns a pseudo-random float64 in the half-open interval [0.0, 1.0).
	Float64() float64
}

// defaultRand uses math/rand/v2's global source.
type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// retryJitter is the +/- fraction applied to every computed delay so
// synchronized clients do not retry in lockstep.
const retryJitter = 0.2

// RetryConfig controls the rate-limit retry loop.
type RetryConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	MaxRetries   int
}

// DefaultRetryConfig returns the retry settings used when the config
// file does not override them.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
		MaxRetries:   3,
	}
}

// Delay computes the backoff before retry number attempt (first retry is
// attempt 1): InitialDelay*Factor^attempt capped at MaxDelay, then
// jittered by +/-20%. No side effects beyond drawing from rng; never
// zero or negative for attempt >= 1.
func (c RetryConfig) Delay(attempt int, rng RandSource) time.Duration {
	if rng == nil {
		rng = defaultRand{}
	}
	base := float64(c.InitialDelay) * math.Pow(c.Factor, float64(attempt))
	if ceiling := float64(c.MaxDelay); base > ceiling {
		base = ceiling
	}
	factor := 1.0 + retryJitter*(2*rng.Float64()-1)
	d := time.Duration(base * factor)
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}
