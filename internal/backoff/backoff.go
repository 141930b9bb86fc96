// Package backoff retries an operation with capped exponential delays.
package backoff

import (
	"context"
	"fmt"
	"time"
)

// Policy describes how often and how patiently to retry.
type Policy struct {
	Attempts int           // total tries, including the first
	Initial  time.Duration // delay after the first failure
	Max      time.Duration // cap for any single delay
}

// Storage is the retry policy used for sink writes: 4 tries, 0.5s doubling
// up to 6s.
var Storage = Policy{Attempts: 4, Initial: 500 * time.Millisecond, Max: 6 * time.Second}

// Delay returns the wait before retry number attempt (1-based):
// Initial * 2^(attempt-1), capped at Max.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := p.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.Max > 0 && delay >= p.Max {
			return p.Max
		}
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay
}

// Retry calls fn until it succeeds, the attempts are used up or ctx is done.
// The last error is returned wrapped with the attempt count.
func (p Policy) Retry(ctx context.Context, fn func(context.Context) error) error {
	return p.RetryWith(ctx, Sleep, fn)
}

// RetryWith is Retry with an explicit sleep function.
func (p Policy) RetryWith(ctx context.Context, sleep func(context.Context, time.Duration) error, fn func(context.Context) error) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if serr := sleep(ctx, p.Delay(attempt)); serr != nil {
			return serr
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", attempts, err)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
