package syncer

import (
	"math/rand"
	"time"
)

// Policy controls per-item retry behavior: an exponential backoff curve with
// a hard attempt cap.
type Policy struct {
	Initial     time.Duration
	Max         time.Duration
	Factor      float64
	Jitter      float64 // fraction of the delay randomized in both directions
	MaxAttempts int     // 0 disables the cap
}

// DefaultPolicy returns the retry policy used when configuration is silent.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     2 * time.Second,
		Max:         5 * time.Minute,
		Factor:      2.0,
		Jitter:      0.2,
		MaxAttempts: 5,
	}
}

// Delay returns the backoff before the next attempt, given the number of
// attempts already made (>= 1). The result is always within
// [delay*(1-Jitter), delay*(1+Jitter)] and never exceeds Max by more than
// the jitter margin.
func (p Policy) Delay(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	initial := p.Initial
	if initial <= 0 {
		initial = 2 * time.Second
	}
	factor := p.Factor
	if factor < 1 {
		factor = 2.0
	}

	delay := float64(initial)
	for i := 1; i < attempts; i++ {
		delay *= factor
		if p.Max > 0 && delay >= float64(p.Max) {
			delay = float64(p.Max)
			break
		}
	}
	if p.Max > 0 && delay > float64(p.Max) {
		delay = float64(p.Max)
	}

	if p.Jitter > 0 {
		// Random in [-jitter, +jitter] around the computed delay.
		delta := delay * p.Jitter
		delay = delay - delta + rand.Float64()*2*delta
	}
	return time.Duration(delay)
}

// Exhausted reports whether the attempt count has hit the configured cap.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}
