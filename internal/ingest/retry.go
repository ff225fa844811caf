package ingest

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"
)

// RetryPolicy bounds media fetches: every attempt gets its own timeout and a
// failed attempt is retried after a backoff delay.
type RetryPolicy struct {
	MaxAttempts    int
	AttemptTimeout time.Duration
	InitialDelay   time.Duration
	Multiplier     float64
	MaxDelay       time.Duration

	sleep func(context.Context, time.Duration) error
}

// DefaultRetryPolicy returns 3 attempts of 30s each, 2s apart.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:    3,
		AttemptTimeout: 30 * time.Second,
		InitialDelay:   2 * time.Second,
		Multiplier:     1.0,
		MaxDelay:       30 * time.Second,
	}
}

// ShouldRetry returns true if the error is retryable and the attempt count
// has not reached MaxAttempts.
func (p *RetryPolicy) ShouldRetry(err error, attempt int) bool {
	if attempt >= p.MaxAttempts {
		return false
	}
	return p.isRetryable(err)
}

// isRetryable treats timeouts and transport errors as transient; canceled
// work and bad references are permanent. Unknown errors default to
// retryable.
func (p *RetryPolicy) isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())

	if strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "temporary failure") {
		return true
	}

	if strings.Contains(msg, "invalid") ||
		strings.Contains(msg, "not found") ||
		strings.Contains(msg, "gone") {
		return false
	}

	return true
}

// NextDelay returns the delay after the given attempt (1-indexed):
// InitialDelay * Multiplier^(attempt-1), capped at MaxDelay.
func (p *RetryPolicy) NextDelay(attempt int) time.Duration {
	mult := p.Multiplier
	if mult <= 0 {
		mult = 1
	}
	delay := float64(p.InitialDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(delay)
}

// Execute runs fn up to MaxAttempts times. Each call gets a context bounded
// by AttemptTimeout. Returns nil on success or the last error once attempts
// are exhausted, the error is permanent, or ctx ends.
func (p *RetryPolicy) Execute(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		err := p.attempt(ctx, fn)
		if err == nil {
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !p.ShouldRetry(err, attempt) {
			return err
		}
		if err := p.wait(ctx, p.NextDelay(attempt)); err != nil {
			return lastErr
		}
	}
	return lastErr
}

func (p *RetryPolicy) attempt(ctx context.Context, fn func(context.Context) error) error {
	if p.AttemptTimeout <= 0 {
		return fn(ctx)
	}
	actx, cancel := context.WithTimeout(ctx, p.AttemptTimeout)
	defer cancel()
	return fn(actx)
}

func (p *RetryPolicy) wait(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

// sleepCtx waits for d or until ctx ends.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
