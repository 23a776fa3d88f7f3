package llm

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

// RetryPolicy retries transient provider failures with exponential backoff
// and randomized jitter.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	Jitter      float64 // fraction of the delay, 0..1

	mu  sync.Mutex
	rnd *rand.Rand
}

// DefaultRetryPolicy returns the policy used when none is configured
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
		Multiplier:  2,
		Jitter:      0.2,
	}
}

// Do calls fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. The last error is returned unchanged.
func (p *RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx, attempt)
		if err == nil {
			return nil
		}
		if !errx.IsTransient(err) || attempt == attempts || ctx.Err() != nil {
			return err
		}

		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
	}
	return err
}

// Backoff returns the delay before the attempt following the given one.
func (p *RetryPolicy) Backoff(attempt int) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(mult, float64(attempt-1))
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	if p.Jitter > 0 {
		delay += delay * p.Jitter * (2*p.random() - 1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

func (p *RetryPolicy) random() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.rnd == nil {
		p.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return p.rnd.Float64()
}
