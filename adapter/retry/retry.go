// Package retry runs a publish attempt under an exponential backoff
// policy with a capped delay, shared by every adapter that retries a
// transient failure against a downstream system.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Policy controls attempt count and backoff shape. Unset fields take the
// defaults below.
type Policy struct {
	// MaxAttempts is the total number of calls to fn, including the
	// first. Must be >= 1.
	MaxAttempts int
	// InitialDelay is the backoff before the second attempt.
	InitialDelay time.Duration
	// MaxDelay caps the backoff; it stops growing once reached.
	MaxDelay time.Duration
	// Multiplier scales the delay after each failed attempt.
	Multiplier float64
}

const (
	defaultInitialDelay = 500 * time.Millisecond
	defaultMaxDelay     = 30 * time.Second
	defaultMultiplier   = 2.0
)

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = defaultInitialDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = defaultMaxDelay
	}
	if p.Multiplier <= 1 {
		p.Multiplier = defaultMultiplier
	}
	if p.InitialDelay > p.MaxDelay {
		p.InitialDelay = p.MaxDelay
	}
	return p
}

// terminal wraps an error that Do must not retry past.
type terminal struct{ err error }

func (t *terminal) Error() string { return t.err.Error() }
func (t *terminal) Unwrap() error { return t.err }

// Terminal marks err as non-retriable: Do returns it immediately instead
// of continuing through the policy's remaining attempts.
func Terminal(err error) error {
	return &terminal{err: err}
}

// Do calls fn until it succeeds, returns a Terminal error, or the policy's
// attempt budget is exhausted. attempt is zero-based. Do honors ctx
// cancellation both between calls and during backoff sleeps.
func Do(ctx context.Context, p Policy, fn func(attempt int) error) error {
	p = p.withDefaults()

	delay := p.InitialDelay
	var lastErr error

	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry: context canceled: %w", err)
		}

		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("retry: context canceled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * p.Multiplier)
			if delay > p.MaxDelay {
				delay = p.MaxDelay
			}
		}

		err := fn(attempt)
		if err == nil {
			return nil
		}

		var term *terminal
		if errors.As(err, &term) {
			return term.err
		}
		lastErr = err
	}

	return fmt.Errorf("retry: exhausted %d attempt(s): %w", p.MaxAttempts, lastErr)
}
