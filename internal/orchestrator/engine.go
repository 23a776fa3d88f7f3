// Package orchestrator runs one user turn: it assembles context, calls the
// selected provider through the reliability layer and executes the tools
// the model asks for until the model replies with text.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/memory"
	"github.com/guiofsaints/procureflow-sub000/internal/safety"
	"github.com/guiofsaints/procureflow-sub000/internal/tools"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// ProviderSelector resolves the provider for a turn
type ProviderSelector interface {
	Select(override string) (llm.Provider, error)
}

// Dependencies are the collaborators an Engine is built from. Ledger is
// optional.
type Dependencies struct {
	Providers  ProviderSelector
	Gateway    *llm.Gateway
	Executor   *tools.Executor
	Memory     *memory.Manager
	Gate       *safety.Gate
	Accountant *usage.Accountant
	Ledger     usage.Ledger
	Logger     logrus.FieldLogger
}

// Engine executes turns. It holds no per-turn state and is safe for
// concurrent use.
type Engine struct {
	deps   Dependencies
	config Config
	logger logrus.FieldLogger
}

// NewEngine creates an engine
func NewEngine(deps Dependencies, config Config) (*Engine, error) {
	switch {
	case deps.Providers == nil:
		return nil, errors.New("orchestrator: provider selector is required")
	case deps.Gateway == nil:
		return nil, errors.New("orchestrator: gateway is required")
	case deps.Executor == nil:
		return nil, errors.New("orchestrator: tool executor is required")
	case deps.Memory == nil:
		return nil, errors.New("orchestrator: memory manager is required")
	case deps.Gate == nil:
		return nil, errors.New("orchestrator: safety gate is required")
	case deps.Accountant == nil:
		return nil, errors.New("orchestrator: accountant is required")
	}
	if config.MaxToolCallsPerTurn <= 0 {
		config.MaxToolCallsPerTurn = DefaultMaxToolCallsPerTurn
	}
	logger := deps.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Engine{deps: deps, config: config, logger: logger}, nil
}

// turn is the state of one RunTurn call
type turn struct {
	id            string
	state         State
	provider      llm.Provider
	window        *memory.Window
	userMessage   llm.Message
	results       []llm.ToolResult
	records       []usage.Record
	toolCalls     int
	providerCalls int
	model         string
	log           logrus.FieldLogger
}

func (t *turn) transition(s State) {
	t.log.WithFields(logrus.Fields{"from": t.state.String(), "to": s.String()}).Debug("Turn state changed")
	t.state = s
}

// RunTurn processes one user message. On success the response carries the
// reply, every tool result of the turn and its usage records. Any returned
// error is an *errx.Error.
func (e *Engine) RunTurn(ctx context.Context, req TurnRequest) (*TurnResponse, error) {
	start := time.Now()
	t := &turn{
		id:    req.ConversationID,
		state: StateStart,
	}
	if t.id == "" {
		t.id = uuid.NewString()
	}
	t.log = e.logger.WithFields(logrus.Fields{
		"conversation_id": t.id,
		"user_id":         req.UserID,
	})

	resp, err := e.run(ctx, t, req)
	if err != nil {
		failure := errx.Ensure(err, errx.Unavailable, "the assistant could not complete the request")
		t.transition(StateFailed)
		t.log.WithFields(logrus.Fields{
			"kind":           failure.Kind,
			"provider":       failure.Provider,
			"tool_calls":     t.toolCalls,
			"provider_calls": t.providerCalls,
		}).WithError(err).Warn("Turn failed")
		return nil, failure
	}

	resp.Duration = time.Since(start)
	t.log.WithFields(logrus.Fields{
		"provider":       resp.Provider,
		"model":          resp.Model,
		"tool_calls":     t.toolCalls,
		"provider_calls": t.providerCalls,
		"duration_ms":    resp.Duration.Milliseconds(),
	}).Info("Turn completed")
	return resp, nil
}

func (e *Engine) run(ctx context.Context, t *turn, req TurnRequest) (*TurnResponse, error) {
	text, err := e.deps.Gate.Sanitize(ctx, req.Message)
	if err != nil {
		return nil, err
	}
	t.userMessage = llm.UserMessage(text)

	t.provider, err = e.deps.Providers.Select(req.Provider)
	if err != nil {
		return nil, err
	}
	t.model = t.provider.Config().Model
	t.log = t.log.WithField("provider", t.provider.Name())

	t.window, err = e.deps.Memory.BuildContext(memory.Conversation{
		ID:      t.id,
		History: req.PriorHistory,
	}, text, req.SideChannel)
	if err != nil {
		return nil, err
	}

	if e.config.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.TurnTimeout)
		defer cancel()
	}
	ctx = tools.WithUser(ctx, req.UserID)

	definitions := e.deps.Executor.Registry().Definitions()
	for {
		t.transition(StateAwaitingProvider)
		resp, err := e.complete(ctx, t, definitions)
		if err != nil {
			return nil, err
		}

		if !resp.HasToolCalls() {
			t.window.Append(llm.AssistantMessage(resp.Text, nil))
			t.transition(StateDone)
			return e.done(t, resp.Text), nil
		}

		t.transition(StateToolCallsPending)
		if err := e.dispatch(ctx, t, resp); err != nil {
			return nil, err
		}
	}
}

// complete makes one provider call with the current window and accounts
// for its usage.
func (e *Engine) complete(ctx context.Context, t *turn, definitions []llm.ToolSchema) (*llm.Response, error) {
	if err := e.deps.Memory.Refit(t.window); err != nil {
		return nil, err
	}

	req := llm.NewRequest(t.window.Messages(), definitions)
	if e.config.MaxTokens > 0 {
		req.WithMaxTokens(e.config.MaxTokens)
	}
	if e.config.Temperature != nil {
		req.WithTemperature(*e.config.Temperature)
	}

	t.providerCalls++
	resp, err := e.deps.Gateway.Invoke(ctx, t.provider, req)
	if err != nil {
		return nil, err
	}
	if resp.Model != "" {
		t.model = resp.Model
	}

	e.account(ctx, t, req.Messages, resp)
	return resp, nil
}

// account records the usage of a successful provider response. Ledger
// failures are logged and never fail the turn.
func (e *Engine) account(ctx context.Context, t *turn, prompt []llm.Message, resp *llm.Response) {
	u := e.deps.Accountant.Reconcile(prompt, resp)
	record := e.deps.Accountant.NewRecord(t.id, t.provider.Name(), t.model, u)
	t.records = append(t.records, record)
	e.deps.Gateway.RecordUsage(record.Provider, record.Model, u, record.EstimatedCostUSD)

	if e.deps.Ledger == nil {
		return
	}
	if err := e.deps.Ledger.Append(context.WithoutCancel(ctx), record); err != nil {
		t.log.WithError(err).Warn("Failed to record usage")
	}
}

// dispatch executes one batch of tool calls and appends the call and its
// results to the window. Unknown tools and budget overruns fail the turn
// before any tool of the batch runs.
func (e *Engine) dispatch(ctx context.Context, t *turn, resp *llm.Response) error {
	registry := e.deps.Executor.Registry()
	for _, call := range resp.ToolCalls {
		if !registry.Has(call.Name) {
			return errx.New(errx.UnknownTool, fmt.Sprintf("the model requested an unknown tool %q", call.Name))
		}
	}

	if t.toolCalls+len(resp.ToolCalls) > e.config.MaxToolCallsPerTurn {
		return errx.New(errx.ToolBudgetExceeded, fmt.Sprintf(
			"the request needed more than %d tool calls", e.config.MaxToolCallsPerTurn))
	}

	calls := make([]llm.ToolCall, len(resp.ToolCalls))
	for i, call := range resp.ToolCalls {
		call.Arguments = e.deps.Gate.SanitizeArguments(call.Arguments)
		calls[i] = call
	}
	t.window.Append(llm.AssistantMessage(resp.Text, calls))

	results := e.deps.Executor.ExecuteAll(ctx, calls)
	t.toolCalls += len(calls)
	for _, r := range results {
		t.window.Append(llm.ToolMessage(r))
		if !r.OK() {
			t.log.WithFields(logrus.Fields{
				"tool":         r.Name,
				"tool_call_id": r.ToolCallID,
				"kind":         r.Failure.Kind,
			}).Info("Tool call failed")
		}
	}
	t.results = append(t.results, results...)

	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return errx.Wrap(err, errx.Timeout, "the request took too long to complete")
		}
		return errx.Wrap(err, errx.Timeout, "the request was cancelled")
	}
	return nil
}

func (e *Engine) done(t *turn, reply string) *TurnResponse {
	messages := make([]llm.Message, 0, len(t.window.Turn))
	messages = append(messages, t.userMessage)
	messages = append(messages, t.window.Turn[1:]...)

	results := t.results
	if results == nil {
		results = []llm.ToolResult{}
	}
	return &TurnResponse{
		ConversationID: t.id,
		ReplyText:      reply,
		ToolResults:    results,
		Usage:          t.records,
		Provider:       t.provider.Name(),
		Model:          t.model,
		ProviderCalls:  t.providerCalls,
		Messages:       messages,
	}
}
