package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

func TestTokenBucketLimiter_Allow(t *testing.T) {
	clock := time.Unix(0, 0)
	l := NewTokenBucketLimiter(60, 2, 0)
	l.now = func() time.Time { return clock }

	assert.True(t, l.Allow("openai"))
	assert.True(t, l.Allow("openai"))
	assert.False(t, l.Allow("openai"))

	// Other keys have their own bucket
	assert.True(t, l.Allow("anthropic"))

	// 60 rpm refills one token per second
	clock = clock.Add(time.Second)
	assert.True(t, l.Allow("openai"))
	assert.False(t, l.Allow("openai"))

	l.Reset("openai")
	assert.True(t, l.Allow("openai"))
}

func TestTokenBucketLimiter_AcquireFailsFastBeyondMaxWait(t *testing.T) {
	clock := time.Unix(0, 0)
	l := NewTokenBucketLimiter(60, 1, 100*time.Millisecond)
	l.now = func() time.Time { return clock }

	require.NoError(t, l.Acquire(context.Background(), "openai"))

	start := time.Now()
	err := l.Acquire(context.Background(), "openai")
	assert.ErrorIs(t, err, errx.ErrRateLimited)
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	// Failing fast does not consume a token
	assert.InDelta(t, 0, l.Tokens("openai"), 0.001)
}

func TestTokenBucketLimiter_AcquireWaitsForRefill(t *testing.T) {
	// 6000 rpm is one token every 10ms
	l := NewTokenBucketLimiter(6000, 1, time.Second)

	require.NoError(t, l.Acquire(context.Background(), "local"))
	start := time.Now()
	require.NoError(t, l.Acquire(context.Background(), "local"))
	assert.GreaterOrEqual(t, time.Since(start), 5*time.Millisecond)
}

func TestTokenBucketLimiter_AcquireHonoursCancellation(t *testing.T) {
	l := NewTokenBucketLimiter(1, 1, time.Hour)
	require.NoError(t, l.Acquire(context.Background(), "openai"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Acquire(ctx, "openai")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenBucketLimiter_Configure(t *testing.T) {
	clock := time.Unix(0, 0)
	l := NewTokenBucketLimiter(60, 60, 0)
	l.now = func() time.Time { return clock }
	l.Configure("gemini", 10, 1)

	assert.True(t, l.Allow("gemini"))
	assert.False(t, l.Allow("gemini"))
	assert.True(t, l.Allow("openai"))
}

func TestTokenBucketLimiter_ConcurrentAcquire(t *testing.T) {
	clock := time.Unix(0, 0)
	l := NewTokenBucketLimiter(1, 10, 0)
	l.now = func() time.Time { return clock }

	const callers = 50
	var (
		wg      sync.WaitGroup
		granted atomic.Int64
		limited atomic.Int64
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Acquire(context.Background(), "openai")
			switch {
			case err == nil:
				granted.Add(1)
			case errors.Is(err, errx.ErrRateLimited):
				limited.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(10), granted.Load(), "exactly the burst is handed out")
	assert.Equal(t, int64(callers-10), limited.Load())
	assert.InDelta(t, 0, l.Tokens("openai"), 1e-9)
}
