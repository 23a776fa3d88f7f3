package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

// BreakerConfig holds the thresholds shared by every per-provider breaker.
type BreakerConfig struct {
	Window       time.Duration // rolling window for samples
	MaxSamples   int           // most recent samples kept
	MinRequests  int           // samples needed before the breaker may open
	FailureRatio float64       // opens when failures/total exceeds this
	ResetTimeout time.Duration // open duration before a half-open trial
}

// DefaultBreakerConfig returns the standard thresholds
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Window:       60 * time.Second,
		MaxSamples:   20,
		MinRequests:  5,
		FailureRatio: 0.5,
		ResetTimeout: 30 * time.Second,
	}
}

// CircuitBreaker implements the circuit breaker pattern, one breaker per key
type CircuitBreaker struct {
	breakers map[string]*Breaker
	config   BreakerConfig
	logger   logrus.FieldLogger
	now      func() time.Time
	mu       sync.RWMutex
}

// Breaker represents a single circuit breaker
type Breaker struct {
	key      string
	samples  []sample
	state    BreakerState
	openedAt time.Time
	trial    bool // a half-open trial is in flight
	mu       sync.Mutex
}

type sample struct {
	at     time.Time
	failed bool
}

// BreakerState represents the circuit breaker state
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(config BreakerConfig, logger logrus.FieldLogger) *CircuitBreaker {
	def := DefaultBreakerConfig()
	if config.Window <= 0 {
		config.Window = def.Window
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = def.MaxSamples
	}
	if config.MinRequests <= 0 {
		config.MinRequests = def.MinRequests
	}
	if config.FailureRatio <= 0 {
		config.FailureRatio = def.FailureRatio
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = def.ResetTimeout
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &CircuitBreaker{
		breakers: make(map[string]*Breaker),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Execute executes a function with circuit breaker protection. While the
// breaker is open fn is not called and Unavailable is returned.
func (cb *CircuitBreaker) Execute(key string, fn func() error) error {
	breaker := cb.getOrCreateBreaker(key)

	if !cb.allow(breaker) {
		return errx.Provider(errx.Unavailable, key, "circuit open", nil)
	}

	err := fn()
	cb.record(breaker, err)
	return err
}

func (cb *CircuitBreaker) allow(b *Breaker) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if cb.now().Sub(b.openedAt) < cb.config.ResetTimeout {
			return false
		}
		b.state = StateHalfOpen
		b.trial = true
		cb.logger.WithField("provider", b.key).Info("Circuit breaker half-open, allowing trial request")
		return true
	case StateHalfOpen:
		if b.trial {
			return false
		}
		b.trial = true
		return true
	default:
		return true
	}
}

func (cb *CircuitBreaker) record(b *Breaker, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// A caller walking away says nothing about provider health.
	if errors.Is(err, context.Canceled) {
		if b.state == StateHalfOpen {
			b.trial = false
		}
		return
	}
	failed := err != nil
	now := cb.now()

	if b.state == StateHalfOpen {
		b.trial = false
		if failed {
			b.open(now)
			cb.logger.WithField("provider", b.key).Warn("Circuit breaker re-opened after failed trial")
			return
		}
		b.state = StateClosed
		b.samples = b.samples[:0]
		cb.logger.WithField("provider", b.key).Info("Circuit breaker closed")
		return
	}

	b.samples = append(b.samples, sample{at: now, failed: failed})
	b.prune(now, cb.config)

	if !failed || b.state != StateClosed {
		return
	}
	total, failures := b.counts()
	if total >= cb.config.MinRequests && float64(failures)/float64(total) > cb.config.FailureRatio {
		b.open(now)
		cb.logger.WithFields(logrus.Fields{
			"provider": b.key,
			"failures": failures,
			"total":    total,
		}).Warn("Circuit breaker opened")
	}
}

func (b *Breaker) open(now time.Time) {
	b.state = StateOpen
	b.openedAt = now
	b.samples = b.samples[:0]
}

func (b *Breaker) prune(now time.Time, cfg BreakerConfig) {
	cutoff := now.Add(-cfg.Window)
	start := 0
	for start < len(b.samples) && b.samples[start].at.Before(cutoff) {
		start++
	}
	if over := len(b.samples) - start - cfg.MaxSamples; over > 0 {
		start += over
	}
	if start > 0 {
		b.samples = append(b.samples[:0], b.samples[start:]...)
	}
}

func (b *Breaker) counts() (total, failures int) {
	for _, s := range b.samples {
		total++
		if s.failed {
			failures++
		}
	}
	return total, failures
}

// getOrCreateBreaker gets or creates a breaker for a key
func (cb *CircuitBreaker) getOrCreateBreaker(key string) *Breaker {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if exists {
		return breaker
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Double-check after acquiring write lock
	if breaker, exists := cb.breakers[key]; exists {
		return breaker
	}

	breaker = &Breaker{key: key, state: StateClosed}
	cb.breakers[key] = breaker
	return breaker
}

// GetState returns the state of a specific breaker. An open breaker whose
// reset timeout has elapsed reports half-open.
func (cb *CircuitBreaker) GetState(key string) BreakerState {
	cb.mu.RLock()
	breaker, exists := cb.breakers[key]
	cb.mu.RUnlock()

	if !exists {
		return StateClosed
	}

	breaker.mu.Lock()
	defer breaker.mu.Unlock()
	if breaker.state == StateOpen && cb.now().Sub(breaker.openedAt) >= cb.config.ResetTimeout {
		return StateHalfOpen
	}
	return breaker.state
}

// States returns the state of every breaker seen so far
func (cb *CircuitBreaker) States() map[string]string {
	cb.mu.RLock()
	keys := make([]string, 0, len(cb.breakers))
	for k := range cb.breakers {
		keys = append(keys, k)
	}
	cb.mu.RUnlock()

	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = cb.GetState(k).String()
	}
	return out
}

// Reset resets a specific breaker
func (cb *CircuitBreaker) Reset(key string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if breaker, exists := cb.breakers[key]; exists {
		breaker.mu.Lock()
		breaker.state = StateClosed
		breaker.samples = nil
		breaker.trial = false
		breaker.mu.Unlock()
	}
}
