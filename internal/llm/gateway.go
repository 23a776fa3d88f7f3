package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
)

const defaultProviderTimeout = 30 * time.Second

// Gateway is the single path through which providers are invoked. It owns
// the limiter and breaker shared by every turn.
type Gateway struct {
	limiter        *TokenBucketLimiter
	circuitBreaker *CircuitBreaker
	retry          *RetryPolicy
	metrics        *MetricsCollector
	logger         logrus.FieldLogger
	timeout        time.Duration
}

// GatewayOption is a functional option for configuring the Gateway
type GatewayOption func(*Gateway)

// WithRateLimiter configures the limiter
func WithRateLimiter(l *TokenBucketLimiter) GatewayOption {
	return func(g *Gateway) {
		g.limiter = l
	}
}

// WithCircuitBreaker configures the circuit breaker
func WithCircuitBreaker(cb *CircuitBreaker) GatewayOption {
	return func(g *Gateway) {
		g.circuitBreaker = cb
	}
}

// WithRetryPolicy configures retries
func WithRetryPolicy(p *RetryPolicy) GatewayOption {
	return func(g *Gateway) {
		g.retry = p
	}
}

// WithMetrics configures metrics collection
func WithMetrics(m *MetricsCollector) GatewayOption {
	return func(g *Gateway) {
		g.metrics = m
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// WithDefaultTimeout sets the per-call timeout for providers that do not
// configure one.
func WithDefaultTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.timeout = d
	}
}

// NewGateway creates a new LLM Gateway
func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{
		retry:   DefaultRetryPolicy(),
		metrics: NewMetricsCollector(),
		timeout: defaultProviderTimeout,
	}

	for _, opt := range opts {
		opt(g)
	}

	if g.logger == nil {
		g.logger = logrus.StandardLogger()
	}
	if g.limiter == nil {
		g.limiter = NewTokenBucketLimiter(60, 60, 10*time.Second)
	}
	if g.circuitBreaker == nil {
		g.circuitBreaker = NewCircuitBreaker(DefaultBreakerConfig(), g.logger)
	}

	return g
}

// Register applies a provider's rate limit to the shared limiter.
func (g *Gateway) Register(p Provider) {
	cfg := p.Config()
	g.limiter.Configure(p.Name(), cfg.RPMLimit, cfg.Burst)
}

// Invoke sends req to p through the limiter, breaker and retry policy. Any
// returned error is an *errx.Error of the provider category. The returned
// response has passed Validate.
func (g *Gateway) Invoke(ctx context.Context, p Provider, req *Request) (*Response, error) {
	if err := req.Validate(); err != nil {
		return nil, errx.Provider(errx.InvalidResponse, p.Name(), "invalid request", err)
	}
	name := p.Name()

	if err := g.limiter.Acquire(ctx, name); err != nil {
		return nil, g.normalize(ctx, name, err)
	}

	var resp *Response
	attempts := 0
	err := g.circuitBreaker.Execute(name, func() error {
		return g.retry.Do(ctx, func(ctx context.Context, attempt int) error {
			attempts = attempt
			if attempt > 1 {
				if err := g.limiter.Acquire(ctx, name); err != nil {
					return g.normalize(ctx, name, err)
				}
			}
			var callErr error
			resp, callErr = g.call(ctx, p, req)
			if callErr != nil {
				g.logger.WithFields(logrus.Fields{
					"provider": name,
					"attempt":  attempt,
					"kind":     errx.KindOf(callErr),
				}).WithError(callErr).Warn("Provider call failed")
			}
			return callErr
		})
	})
	if err != nil {
		err = g.normalize(ctx, name, err)
		if attempts > 1 && attempts >= g.retry.MaxAttempts && errx.IsTransient(err) {
			g.logger.WithFields(logrus.Fields{
				"provider": name,
				"attempts": attempts,
				"kind":     errx.KindOf(err),
			}).Warn("Provider retries exhausted")
		}
		return nil, err
	}
	return resp, nil
}

// call performs one attempt under the provider timeout.
func (g *Gateway) call(ctx context.Context, p Provider, req *Request) (*Response, error) {
	cfg := p.Config()
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = g.timeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := p.Complete(callCtx, req)
	if err == nil {
		if resp == nil {
			err = errx.Provider(errx.InvalidResponse, p.Name(), "provider returned no response", nil)
		} else if verr := resp.Validate(); verr != nil {
			err = errx.Provider(errx.InvalidResponse, p.Name(), "malformed provider response", verr)
		}
	}
	if err != nil {
		err = g.normalize(callCtx, p.Name(), err)
	}

	if g.metrics != nil {
		model := cfg.Model
		if resp != nil && resp.Model != "" {
			model = resp.Model
		}
		g.metrics.RecordRequest(p.Name(), model, string(errx.KindOf(err)), time.Since(start))
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// normalize turns any error into a provider *errx.Error.
func (g *Gateway) normalize(ctx context.Context, provider string, err error) error {
	if e, ok := errx.As(err); ok {
		if e.Provider != "" {
			return e
		}
		cp := *e
		cp.Provider = provider
		return &cp
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return errx.Provider(errx.Timeout, provider, "provider request timed out", err)
	case errors.Is(err, context.Canceled):
		return errx.Provider(errx.Timeout, provider, "provider request cancelled", err)
	default:
		return errx.Provider(errx.Unavailable, provider, "provider unavailable", fmt.Errorf("complete: %w", err))
	}
}

// RecordUsage feeds accounted usage into the metrics collector.
func (g *Gateway) RecordUsage(provider, model string, usage Usage, cost float64) {
	if g.metrics != nil {
		g.metrics.RecordUsage(provider, model, usage, cost)
	}
}

// GetMetrics returns gateway metrics
func (g *Gateway) GetMetrics() MetricsSnapshot {
	if g.metrics == nil {
		return MetricsSnapshot{}
	}
	return g.metrics.GetSnapshot()
}

// BreakerStates returns the circuit state per provider
func (g *Gateway) BreakerStates() map[string]string {
	return g.circuitBreaker.States()
}
