package backoff

import (
	"errors"
	"math/rand/v2"
	"time"
)

// Default bounds.
const (
	DefaultInitial = 100 * time.Millisecond
	DefaultMax     = 16 * time.Second
)

// Errors
var (
	ErrInvalidInitial = errors.New("backoff: initial delay must be > 0")
	ErrInvalidMax     = errors.New("backoff: max delay must be >= initial delay")
)

// Policy computes retry delays from a retry count.
type Policy struct {
	Initial time.Duration // Delay for retry 0 (before jitter)
	Max     time.Duration // Upper bound for the un-jittered delay

	// Rand returns a uniform value in [0, 1). Nil uses math/rand/v2.
	Rand func() float64
}

// Default returns the policy used when none is configured.
func Default() Policy {
	return Policy{
		Initial: DefaultInitial,
		Max:     DefaultMax,
	}
}

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	if p.Initial <= 0 {
		return ErrInvalidInitial
	}
	if p.Max < p.Initial {
		return ErrInvalidMax
	}
	return nil
}

// Capped returns min(Initial * 2^retry, Max). Negative retry counts are
// treated as 0.
func (p Policy) Capped(retry int) time.Duration {
	if retry < 0 {
		retry = 0
	}

	d := p.Initial
	for i := 0; i < retry; i++ {
		// Saturate before doubling past Max (or overflowing).
		if d >= p.Max || d > p.Max/2 {
			return p.Max
		}
		d *= 2
	}

	if d > p.Max {
		return p.Max
	}
	return d
}

// NextDelay returns the jittered delay for the given retry count. The result
// lies in [0.5*Capped(retry), 1.5*Capped(retry)].
func (p Policy) NextDelay(retry int) time.Duration {
	capped := p.Capped(retry)

	u := p.random()
	jitter := time.Duration(float64(capped) * (u - 0.5))
	return capped + jitter
}

func (p Policy) random() float64 {
	if p.Rand != nil {
		return p.Rand()
	}
	return rand.Float64()
}
