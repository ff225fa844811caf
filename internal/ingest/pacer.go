package ingest

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"
)

// PacingPolicy spaces out history items: a jittered gap after each item and
// a longer fixed pause after every BatchSize items.
type PacingPolicy struct {
	MinDelay   time.Duration
	MaxDelay   time.Duration
	BatchSize  int
	BatchDelay time.Duration
}

func DefaultPacingPolicy() PacingPolicy {
	return PacingPolicy{
		MinDelay:   1 * time.Second,
		MaxDelay:   3 * time.Second,
		BatchSize:  20,
		BatchDelay: 60 * time.Second,
	}
}

func (p PacingPolicy) Validate() error {
	if p.MinDelay < 0 {
		return fmt.Errorf("min delay must not be negative")
	}
	if p.MaxDelay < p.MinDelay {
		return fmt.Errorf("max delay %s is below min delay %s", p.MaxDelay, p.MinDelay)
	}
	if p.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if p.BatchDelay < 0 {
		return fmt.Errorf("batch delay must not be negative")
	}
	return nil
}

// Pacer computes and waits out the gaps of one drain.
type Pacer struct {
	policy PacingPolicy

	mu    sync.Mutex
	rng   *rand.Rand
	sleep func(context.Context, time.Duration) error
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// WithSleeper replaces the real timer, for tests.
func WithSleeper(fn func(context.Context, time.Duration) error) PacerOption {
	return func(p *Pacer) { p.sleep = fn }
}

// WithRand fixes the jitter source.
func WithRand(r *rand.Rand) PacerOption {
	return func(p *Pacer) { p.rng = r }
}

func NewPacer(policy PacingPolicy, opts ...PacerOption) *Pacer {
	if policy.BatchSize < 1 {
		policy.BatchSize = 1
	}
	if policy.MaxDelay < policy.MinDelay {
		policy.MaxDelay = policy.MinDelay
	}
	p := &Pacer{
		policy: policy,
		rng:    rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pacer) Policy() PacingPolicy { return p.policy }

// Gap returns the pause that follows the completed-th item (1-based).
func (p *Pacer) Gap(completed int) time.Duration {
	if completed > 0 && completed%p.policy.BatchSize == 0 {
		return p.policy.BatchDelay
	}
	return p.jitter()
}

// Wait sleeps for Gap(completed) or until ctx ends.
func (p *Pacer) Wait(ctx context.Context, completed int) error {
	return p.sleep(ctx, p.Gap(completed))
}

func (p *Pacer) jitter() time.Duration {
	span := p.policy.MaxDelay - p.policy.MinDelay
	if span <= 0 {
		return p.policy.MinDelay
	}
	p.mu.Lock()
	n := p.rng.Int64N(int64(span) + 1)
	p.mu.Unlock()
	return p.policy.MinDelay + time.Duration(n)
}
