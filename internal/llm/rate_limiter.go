package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

// RateLimiter interface for rate limiting
type RateLimiter interface {
	Allow(key string) bool
	Acquire(ctx context.Context, key string) error
	Reset(key string)
}

// TokenBucketLimiter implements token bucket rate limiting keyed by provider.
// Tokens refill continuously at the configured requests per minute.
type TokenBucketLimiter struct {
	buckets  map[string]*TokenBucket
	limits   map[string]bucketLimit
	rate     int // default tokens per interval
	capacity int // default max tokens
	interval time.Duration
	maxWait  time.Duration
	now      func() time.Time
	mu       sync.RWMutex
}

type bucketLimit struct {
	rate     int
	capacity int
}

// TokenBucket represents a single token bucket
type TokenBucket struct {
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
	mu         sync.Mutex
}

// NewTokenBucketLimiter creates a new token bucket limiter. Acquire fails
// fast when a token would not be available within maxWait.
func NewTokenBucketLimiter(rate, capacity int, maxWait time.Duration) *TokenBucketLimiter {
	if rate <= 0 {
		rate = 60
	}
	if capacity <= 0 {
		capacity = rate
	}
	return &TokenBucketLimiter{
		buckets:  make(map[string]*TokenBucket),
		limits:   make(map[string]bucketLimit),
		rate:     rate,
		capacity: capacity,
		interval: time.Minute, // tokens per minute
		maxWait:  maxWait,
		now:      time.Now,
	}
}

// Configure sets the limit for a key. It must be called before the key's
// first use; later calls reset the bucket.
func (l *TokenBucketLimiter) Configure(key string, rpm, burst int) {
	if rpm <= 0 {
		return
	}
	if burst <= 0 {
		burst = rpm
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limits[key] = bucketLimit{rate: rpm, capacity: burst}
	delete(l.buckets, key)
}

// Allow checks if a request is allowed without waiting
func (l *TokenBucketLimiter) Allow(key string) bool {
	bucket := l.getOrCreateBucket(key)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	bucket.refill(l.now())
	if bucket.tokens >= 1 {
		bucket.tokens--
		return true
	}
	return false
}

// Acquire reserves a token for key, waiting until it is available. If the
// wait would exceed the limiter's max wait it returns RateLimited without
// consuming anything.
func (l *TokenBucketLimiter) Acquire(ctx context.Context, key string) error {
	bucket := l.getOrCreateBucket(key)

	bucket.mu.Lock()
	bucket.refill(l.now())
	if bucket.tokens >= 1 {
		bucket.tokens--
		bucket.mu.Unlock()
		return nil
	}

	deficit := 1 - bucket.tokens
	wait := time.Duration(deficit / bucket.perSecond * float64(time.Second))
	if wait > l.maxWait {
		bucket.mu.Unlock()
		return errx.Provider(errx.RateLimited, key, "local rate limit reached",
			fmt.Errorf("next token in %s exceeds max wait %s", wait, l.maxWait))
	}
	// Reserve now so concurrent callers queue behind us.
	bucket.tokens--
	bucket.mu.Unlock()

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		bucket.mu.Lock()
		bucket.tokens++
		bucket.mu.Unlock()
		return ctx.Err()
	}
}

// Reset resets the rate limit for a key
func (l *TokenBucketLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.buckets, key)
}

// Tokens returns the tokens currently available for key.
func (l *TokenBucketLimiter) Tokens(key string) float64 {
	bucket := l.getOrCreateBucket(key)
	bucket.mu.Lock()
	defer bucket.mu.Unlock()
	bucket.refill(l.now())
	return bucket.tokens
}

func (b *TokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill)
	if elapsed <= 0 {
		return
	}
	b.tokens += elapsed.Seconds() * b.perSecond
	if b.tokens > b.capacity {
		b.tokens = b.capacity
	}
	b.lastRefill = now
}

// getOrCreateBucket gets or creates a bucket for a key
func (l *TokenBucketLimiter) getOrCreateBucket(key string) *TokenBucket {
	l.mu.RLock()
	bucket, exists := l.buckets[key]
	l.mu.RUnlock()

	if exists {
		return bucket
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Double-check after acquiring write lock
	if bucket, exists := l.buckets[key]; exists {
		return bucket
	}

	limit, ok := l.limits[key]
	if !ok {
		limit = bucketLimit{rate: l.rate, capacity: l.capacity}
	}
	bucket = &TokenBucket{
		tokens:     float64(limit.capacity),
		capacity:   float64(limit.capacity),
		perSecond:  float64(limit.rate) / l.interval.Seconds(),
		lastRefill: l.now(),
	}

	l.buckets[key] = bucket
	return bucket
}
