package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const initialBackoff = 100 * time.Millisecond

// Limiter wraps rate.Limiter with 429 backoff
type Limiter struct {
	limiter *rate.Limiter
	name    string
	mu      sync.Mutex
	backoff time.Duration
	limited bool
	maxWait time.Duration
}

// NewLimiter creates a new rate limiter
// perMinute specifies the number of requests allowed per minute
func NewLimiter(name string, perMinute int) *Limiter {
	if perMinute < 1 {
		perMinute = 1
	}
	rps := float64(perMinute) / 60.0
	// Allow burst of up to 5 requests or 1/10th of per-minute limit
	burst := perMinute / 10
	if burst < 1 {
		burst = 1
	}
	if burst > 5 {
		burst = 5
	}

	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		name:    name,
		backoff: initialBackoff,
		maxWait: 2 * time.Minute,
	}
}

// Wait blocks until a token is available or context is cancelled. After a
// rate-limit signal it first sleeps the current backoff.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	pause := time.Duration(0)
	if l.limited {
		pause = l.backoff
	}
	l.mu.Unlock()

	if pause > 0 {
		timer := time.NewTimer(pause)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}
	return l.limiter.Wait(ctx)
}

// Allow reports whether an event may happen now
func (l *Limiter) Allow() bool {
	return l.limiter.Allow()
}

// SignalRateLimited should be called when a 429 response is received
// It applies exponential backoff
func (l *Limiter) SignalRateLimited() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.limited {
		l.backoff *= 2
	}
	l.limited = true
	if l.backoff > l.maxWait {
		l.backoff = l.maxWait
	}
}

// ResetBackoff resets the backoff duration after successful request
func (l *Limiter) ResetBackoff() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.backoff = initialBackoff
	l.limited = false
}

// GetBackoff returns the pause Wait will apply before the next request
func (l *Limiter) GetBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.limited {
		return 0
	}
	return l.backoff
}

// Name returns the limiter name
func (l *Limiter) Name() string {
	return l.name
}

// Retry calls fn up to maxAttempts times with exponential backoff starting at
// baseDelay, stopping early when retryable reports false for an error.
func Retry(ctx context.Context, maxAttempts int, baseDelay time.Duration, retryable func(error) bool, fn func() error) error {
	var err error
	delay := baseDelay

	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if retryable != nil && !retryable(err) {
			return err
		}

		// Don't sleep after the last failed attempt.
		if attempt < maxAttempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
			delay *= 2
		}
	}

	return err
}
