// Package backoff provides bounded exponential retry for transient failures.
package backoff

import (
	"context"
	"fmt"
	"time"

	"github.com/capstack/origination/common/clock"
)

// Policy describes a bounded exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultPolicy suits short reads that race replica propagation.
var DefaultPolicy = Policy{
	MaxAttempts: 4,
	BaseDelay:   250 * time.Millisecond,
	MaxDelay:    2 * time.Second,
}

// Delay returns the pause before the given retry attempt.
// Attempt numbering starts at 1 for the first retry.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

// Retry runs fn up to p.MaxAttempts times, sleeping per the schedule
// between attempts. It returns nil on the first success. The clock is
// injectable so callers can test schedules without real timers.
func Retry(ctx context.Context, clk clock.Clock, p Policy, fn func(ctx context.Context) error) error {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := fn(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}

		if attempt == p.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(p.Delay(attempt)):
		}
	}

	return fmt.Errorf("gave up after %d attempts: %w", p.MaxAttempts, lastErr)
}
