package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

func TestRetryPolicy_Do(t *testing.T) {
	tests := []struct {
		name      string
		errs      []error
		wantCalls int
		wantErr   error
	}{
		{
			name:      "success first time",
			errs:      []error{nil},
			wantCalls: 1,
		},
		{
			name:      "transient then success",
			errs:      []error{errx.New(errx.Unavailable, "down"), nil},
			wantCalls: 2,
		},
		{
			name:      "rate limited on every attempt",
			errs:      []error{errx.New(errx.RateLimited, "slow down")},
			wantCalls: 3,
			wantErr:   errx.ErrRateLimited,
		},
		{
			name:      "timeout retried",
			errs:      []error{errx.New(errx.Timeout, "t"), errx.New(errx.Timeout, "t"), nil},
			wantCalls: 3,
		},
		{
			name:      "auth failure not retried",
			errs:      []error{errx.New(errx.AuthFailure, "bad key")},
			wantCalls: 1,
			wantErr:   errx.ErrAuthFailure,
		},
		{
			name:      "invalid response not retried",
			errs:      []error{errx.New(errx.InvalidResponse, "garbage")},
			wantCalls: 1,
			wantErr:   errx.ErrInvalidResponse,
		},
		{
			name:      "untyped error not retried",
			errs:      []error{errors.New("boom")},
			wantCalls: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &RetryPolicy{MaxAttempts: 3}
			calls := 0
			err := p.Do(context.Background(), func(ctx context.Context, attempt int) error {
				calls++
				assert.Equal(t, calls, attempt)
				i := calls - 1
				if i >= len(tt.errs) {
					i = len(tt.errs) - 1
				}
				return tt.errs[i]
			})

			assert.Equal(t, tt.wantCalls, calls)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else if tt.errs[len(tt.errs)-1] == nil {
				assert.NoError(t, err)
			}
		})
	}
}

func TestRetryPolicy_StopsWhenContextDone(t *testing.T) {
	p := &RetryPolicy{MaxAttempts: 5, BaseDelay: time.Hour}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	calls := 0
	err := p.Do(ctx, func(ctx context.Context, attempt int) error {
		calls++
		return errx.New(errx.Unavailable, "down")
	})
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, errx.ErrUnavailable)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := &RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond, Multiplier: 2}

	assert.Equal(t, 100*time.Millisecond, p.Backoff(1))
	assert.Equal(t, 200*time.Millisecond, p.Backoff(2))
	assert.Equal(t, 300*time.Millisecond, p.Backoff(3))

	p.Jitter = 0.5
	for i := 0; i < 50; i++ {
		d := p.Backoff(1)
		assert.GreaterOrEqual(t, d, 50*time.Millisecond)
		assert.LessOrEqual(t, d, 150*time.Millisecond)
	}
}
