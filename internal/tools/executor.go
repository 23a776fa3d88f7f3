package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

const (
	DefaultTimeout     = 5 * time.Second
	DefaultParallelism = 4
)

// Executor runs tool calls against a registry. Every call yields exactly one
// result; failures are reported in the result, never as a Go error.
type Executor struct {
	registry    *Registry
	timeout     time.Duration
	parallelism int
	logger      logrus.FieldLogger
}

// ExecutorOption configures an Executor
type ExecutorOption func(*Executor)

// WithTimeout sets the per-call timeout
func WithTimeout(d time.Duration) ExecutorOption {
	return func(e *Executor) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithParallelism bounds how many calls of a batch run at once
func WithParallelism(n int) ExecutorOption {
	return func(e *Executor) {
		if n > 0 {
			e.parallelism = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logrus.FieldLogger) ExecutorOption {
	return func(e *Executor) {
		e.logger = l
	}
}

// NewExecutor creates an executor
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:    registry,
		timeout:     DefaultTimeout,
		parallelism: DefaultParallelism,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}
	return e
}

// Registry returns the registry the executor runs against
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs one tool call.
func (e *Executor) Execute(ctx context.Context, call llm.ToolCall) llm.ToolResult {
	result := llm.ToolResult{ToolCallID: call.ID, Name: call.Name}
	log := e.logger.WithFields(logrus.Fields{"tool": call.Name, "tool_call_id": call.ID})

	tool, ok := e.registry.Get(call.Name)
	if !ok {
		result.Failure = failure(errx.UnknownTool, fmt.Sprintf("unknown tool %q", call.Name))
		return result
	}

	if err := tool.Validate(call.Arguments); err != nil {
		log.WithError(err).Info("Tool arguments rejected")
		result.Failure = failure(errx.InvalidArguments, fmt.Sprintf("invalid arguments: %v", err))
		return result
	}

	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	start := time.Now()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"panic": r,
					"stack": string(debug.Stack()),
				}).Error("Tool panicked")
				done <- outcome{err: errPanic}
			}
		}()
		v, err := tool.Handler(callCtx, call.ArgumentsOrEmpty())
		done <- outcome{value: v, err: err}
	}()

	select {
	case out := <-done:
		switch {
		case out.err == nil:
			result.Value = out.value
		case errors.Is(out.err, errPanic):
			result.Failure = failure(errx.ToolExecutionFailed, "tool failed unexpectedly")
		case errors.Is(out.err, context.DeadlineExceeded) && callCtx.Err() != nil && ctx.Err() == nil:
			result.Failure = failure(errx.ToolTimeout, fmt.Sprintf("tool did not finish within %s", e.timeout))
		default:
			log.WithError(out.err).Info("Tool returned an error")
			result.Failure = failure(errx.ToolExecutionFailed, out.err.Error())
		}
	case <-callCtx.Done():
		if ctx.Err() != nil {
			result.Failure = failure(errx.ToolExecutionFailed, "tool call cancelled")
		} else {
			log.WithField("timeout", e.timeout).Warn("Tool timed out")
			result.Failure = failure(errx.ToolTimeout, fmt.Sprintf("tool did not finish within %s", e.timeout))
		}
	}

	log.WithFields(logrus.Fields{
		"ok":          result.OK(),
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("Tool call finished")
	return result
}

// ExecuteAll runs a batch with bounded parallelism. Results keep the order
// of calls.
func (e *Executor) ExecuteAll(ctx context.Context, calls []llm.ToolCall) []llm.ToolResult {
	results := make([]llm.ToolResult, len(calls))
	if len(calls) == 0 {
		return results
	}

	p := pool.New().WithMaxGoroutines(e.parallelism)
	for i, call := range calls {
		i, call := i, call
		p.Go(func() {
			results[i] = e.Execute(ctx, call)
		})
	}
	p.Wait()
	return results
}

var errPanic = errors.New("tool panicked")

func failure(kind errx.Kind, message string) *llm.ToolFailure {
	return &llm.ToolFailure{Kind: string(kind), Message: message}
}
