package realtime

import (
	"math"
	"math/rand/v2"
	"time"
)

// Backoff computes reconnect delays: Initial * Factor^attempt, capped at Max,
// then reduced by up to Jitter (a fraction in [0,1)).
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

// DefaultBackoff is 0.5s doubling to 30s with 20% jitter.
func DefaultBackoff() Backoff {
	return Backoff{Initial: backoffInitial, Max: backoffMax, Factor: backoffFactor, Jitter: backoffJitter}
}

// Delay returns the wait before reconnect attempt number attempt (0-based).
func (b Backoff) Delay(attempt int) time.Duration {
	b = b.normalized()
	if attempt < 0 {
		attempt = 0
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt))
	if d > float64(b.Max) || math.IsInf(d, 0) || math.IsNaN(d) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d -= d * b.Jitter * rand.Float64()
	}
	return time.Duration(d)
}

func (b Backoff) normalized() Backoff {
	if b.Initial <= 0 {
		b.Initial = backoffInitial
	}
	if b.Max < b.Initial {
		b.Max = b.Initial
	}
	if b.Factor < 1 {
		b.Factor = backoffFactor
	}
	if b.Jitter < 0 || b.Jitter >= 1 {
		b.Jitter = 0
	}
	return b
}
