package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiofsaints/procureflow-sub000/internal/api/middleware"
	"github.com/guiofsaints/procureflow-sub000/internal/auth"
	"github.com/guiofsaints/procureflow-sub000/internal/commerce"
	"github.com/guiofsaints/procureflow-sub000/internal/config"
	"github.com/guiofsaints/procureflow-sub000/internal/errx"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/orchestrator"
	"github.com/guiofsaints/procureflow-sub000/internal/providers"
	"github.com/guiofsaints/procureflow-sub000/internal/repository"
	"github.com/guiofsaints/procureflow-sub000/internal/tools"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// fakeRunner answers every turn with an echo unless err or panics is set.
type fakeRunner struct {
	mu       sync.Mutex
	requests []orchestrator.TurnRequest
	err      error
	panics   bool
}

func (r *fakeRunner) RunTurn(_ context.Context, req orchestrator.TurnRequest) (*orchestrator.TurnResponse, error) {
	r.mu.Lock()
	r.requests = append(r.requests, req)
	r.mu.Unlock()
	if r.panics {
		panic("boom")
	}
	if r.err != nil {
		return nil, r.err
	}
	id := req.ConversationID
	if id == "" {
		id = "conv-new"
	}
	reply := "You said: " + req.Message
	return &orchestrator.TurnResponse{
		ConversationID: id,
		ReplyText:      reply,
		Provider:       "stub",
		Model:          "stub-1",
		ProviderCalls:  1,
		Messages:       []llm.Message{llm.UserMessage(req.Message), llm.AssistantMessage(reply, nil)},
	}, nil
}

func (r *fakeRunner) last() orchestrator.TurnRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[len(r.requests)-1]
}

type stubProvider struct{ cfg llm.ProviderConfig }

func (p *stubProvider) Name() string               { return p.cfg.Name }
func (p *stubProvider) Config() llm.ProviderConfig { return p.cfg }
func (p *stubProvider) Complete(context.Context, *llm.Request) (*llm.Response, error) {
	return &llm.Response{Text: "ok"}, nil
}

type testServer struct {
	app           *fiber.App
	runner        *fakeRunner
	shop          *commerce.MemoryService
	ledger        *usage.MemoryLedger
	conversations *repository.MemoryConversationRepository
	tokens        *auth.TokenService
}

func newTestServer(t *testing.T, configure ...func(*config.Config)) *testServer {
	t.Helper()
	logger, _ := test.NewNullLogger()

	cfg := &config.Config{}
	for _, fn := range configure {
		fn(cfg)
	}

	registry := providers.NewRegistry()
	require.NoError(t, registry.Register(&stubProvider{cfg: llm.ProviderConfig{
		Name: "stub", Type: "openai", APIKey: "k", Model: "stub-1", SupportsToolCalling: true,
	}}))
	registry.Declare(llm.ProviderConfig{Name: "gemini", Type: "gemini", Model: "gemini-2.0-flash", SupportsToolCalling: true})

	shop := commerce.NewMemoryService(commerce.DefaultCatalog())
	toolRegistry := tools.NewRegistry()
	require.NoError(t, commerce.RegisterTools(toolRegistry, shop))

	s := &testServer{
		runner:        &fakeRunner{},
		shop:          shop,
		ledger:        usage.NewMemoryLedger(),
		conversations: repository.NewMemoryConversationRepository(),
		tokens:        auth.NewTokenService("test-secret"),
	}
	s.app = NewApp(Dependencies{
		Runner:        s.runner,
		Providers:     registry,
		Gateway:       llm.NewGateway(llm.WithLogger(logger)),
		Tools:         toolRegistry,
		Ledger:        s.ledger,
		Conversations: s.conversations,
		Carts:         shop,
		Tokens:        s.tokens,
		Logger:        logger,
	}, cfg)
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers map[string]string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	out, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, out
}

func decodeError(t *testing.T, body []byte) middleware.ErrorDetail {
	t.Helper()
	var out middleware.ErrorBody
	require.NoError(t, json.Unmarshal(body, &out), string(body))
	return out.Error
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Auth.Required = true })

	status, body := s.do(t, http.MethodGet, "/api/v1/health", nil, nil)
	assert.Equal(t, http.StatusOK, status)
	assert.JSONEq(t, `{"status":"healthy","service":"procureflow"}`, string(body))
}

func TestCreateTurn(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{middleware.UserIDHeader: "user-7"}

	_, err := s.shop.AddToCart(context.Background(), "user-7", "itm-007", 2)
	require.NoError(t, err)

	status, body := s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hello", ""), headers)
	require.Equal(t, http.StatusOK, status, string(body))

	var resp orchestrator.TurnResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	assert.Equal(t, "conv-new", resp.ConversationID)
	assert.Equal(t, "You said: hello", resp.ReplyText)

	req := s.runner.last()
	assert.Equal(t, "user-7", req.UserID)
	cart, ok := req.SideChannel.(*commerce.Cart)
	require.True(t, ok, "cart snapshot is the default side channel")
	assert.Equal(t, 2, cart.ItemCount)

	stored, err := s.conversations.Load(context.Background(), "user-7", "conv-new")
	require.NoError(t, err)
	assert.Len(t, stored, 2)

	// A follow-up with the conversation ID gets the stored history.
	status, _ = s.do(t, http.MethodPost, "/api/v1/turns", turnBody("and then?", "conv-new"), headers)
	require.Equal(t, http.StatusOK, status)
	req = s.runner.last()
	assert.Equal(t, "conv-new", req.ConversationID)
	require.Len(t, req.PriorHistory, 2)
	assert.Equal(t, "hello", req.PriorHistory[0].Content)

	stored, err = s.conversations.Load(context.Background(), "user-7", "conv-new")
	require.NoError(t, err)
	assert.Len(t, stored, 4)
}

func TestCreateTurn_ExplicitInputsWin(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, s.conversations.Append(context.Background(), "user-3", "conv-1", llm.UserMessage("stored")))
	_, err := s.shop.AddToCart(context.Background(), "user-3", "itm-001", 1)
	require.NoError(t, err)

	status, _ := s.do(t, http.MethodPost, "/api/v1/turns", map[string]any{
		"conversation_id": "conv-1",
		"message":         "hi",
		"prior_history":   []llm.Message{llm.UserMessage("from client")},
		"side_channel":    map[string]any{"budget": 500},
		"provider":        "gemini",
	}, map[string]string{middleware.UserIDHeader: "user-3"})
	require.Equal(t, http.StatusOK, status)

	req := s.runner.last()
	assert.Equal(t, "user-3", req.UserID)
	assert.Equal(t, "gemini", req.Provider)
	require.Len(t, req.PriorHistory, 1)
	assert.Equal(t, "from client", req.PriorHistory[0].Content)
	assert.Equal(t, map[string]any{"budget": float64(500)}, req.SideChannel)
}

func TestCreateTurn_Errors(t *testing.T) {
	tests := []struct {
		name       string
		runnerErr  error
		body       any
		wantStatus int
		wantKind   string
		wantCat    string
	}{
		{
			name:       "rate limited",
			runnerErr:  errx.Provider(errx.RateLimited, "stub", "the provider is busy, try again shortly", nil),
			body:       turnBody("hi", ""),
			wantStatus: http.StatusTooManyRequests,
			wantKind:   "rate_limited",
			wantCat:    "provider",
		},
		{
			name:       "budget exceeded",
			runnerErr:  errx.New(errx.ToolBudgetExceeded, "too many tool calls"),
			body:       turnBody("hi", ""),
			wantStatus: http.StatusUnprocessableEntity,
			wantKind:   "tool_budget_exceeded",
			wantCat:    "orchestration",
		},
		{
			name:       "injection",
			runnerErr:  errx.New(errx.InjectionSuspected, "message rejected"),
			body:       turnBody("hi", ""),
			wantStatus: http.StatusBadRequest,
			wantKind:   "injection_suspected",
			wantCat:    "orchestration",
		},
		{
			name:       "empty message",
			body:       turnBody("   ", ""),
			wantStatus: http.StatusBadRequest,
			wantKind:   "bad_request",
			wantCat:    "http",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t)
			s.runner.err = tt.runnerErr

			status, body := s.do(t, http.MethodPost, "/api/v1/turns", tt.body, nil)
			assert.Equal(t, tt.wantStatus, status)
			detail := decodeError(t, body)
			assert.Equal(t, tt.wantKind, detail.Kind)
			assert.Equal(t, tt.wantCat, detail.Category)
			assert.NotEmpty(t, detail.Message)
		})
	}
}

func TestCreateTurn_CauseNotLeaked(t *testing.T) {
	s := newTestServer(t)
	s.runner.err = errx.Provider(errx.AuthFailure, "stub", "provider rejected the credentials", assert.AnError)

	status, body := s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hi", ""), nil)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.NotContains(t, string(body), assert.AnError.Error())

	_, err := s.conversations.Owner(context.Background(), "conv-new")
	assert.ErrorIs(t, err, repository.ErrConversationNotFound, "failed turns are not stored")
}

func TestCreateTurn_Panic(t *testing.T) {
	s := newTestServer(t)
	s.runner.panics = true

	status, body := s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hi", ""), nil)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, "internal", decodeError(t, body).Kind)
}

func TestCreateTurn_InvalidBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Auth.Required = true })

	status, body := s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hi", ""), nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, "unauthorized", decodeError(t, body).Kind)

	status, _ = s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hi", ""), map[string]string{
		"Authorization": "Bearer garbage",
	})
	assert.Equal(t, http.StatusUnauthorized, status)

	token, err := s.tokens.Issue("user-99", time.Hour)
	require.NoError(t, err)
	status, _ = s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hi", ""), map[string]string{
		"Authorization":         "Bearer " + token,
		middleware.UserIDHeader: "someone-else",
	})
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "user-99", s.runner.last().UserID, "token wins over the header")
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Server.RequestsPerMin = 2 })
	headers := map[string]string{middleware.UserIDHeader: "user-1"}

	for i := 0; i < 2; i++ {
		status, _ := s.do(t, http.MethodGet, "/api/v1/tools", nil, headers)
		require.Equal(t, http.StatusOK, status)
	}
	status, body := s.do(t, http.MethodGet, "/api/v1/tools", nil, headers)
	assert.Equal(t, http.StatusTooManyRequests, status)
	assert.Equal(t, "too_many_requests", decodeError(t, body).Kind)

	status, _ = s.do(t, http.MethodGet, "/api/v1/health", nil, headers)
	assert.Equal(t, http.StatusOK, status, "health is not limited")
}

func TestGetUsage(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()
	headers := map[string]string{middleware.UserIDHeader: "user-1"}
	require.NoError(t, s.conversations.Append(ctx, "user-1", "conv-1", llm.UserMessage("hi")))
	require.NoError(t, s.conversations.Append(ctx, "user-2", "conv-2", llm.UserMessage("hi")))
	require.NoError(t, s.ledger.Append(ctx, usage.Record{ID: "r1", ConversationID: "conv-1", Provider: "stub", PromptTokens: 100, CompletionTokens: 10, EstimatedCostUSD: 0.01}))
	require.NoError(t, s.ledger.Append(ctx, usage.Record{ID: "r2", ConversationID: "conv-1", Provider: "stub", PromptTokens: 50, CompletionTokens: 5, EstimatedCostUSD: 0.02}))
	require.NoError(t, s.ledger.Append(ctx, usage.Record{ID: "r3", ConversationID: "conv-2", Provider: "stub", PromptTokens: 1}))

	status, body := s.do(t, http.MethodGet, "/api/v1/conversations/conv-1/usage", nil, headers)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		ConversationID string         `json:"conversation_id"`
		Records        []usage.Record `json:"records"`
		Totals         usage.Totals   `json:"totals"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Equal(t, "conv-1", out.ConversationID)
	assert.Len(t, out.Records, 2)
	assert.Equal(t, 2, out.Totals.Calls)
	assert.Equal(t, 150, out.Totals.PromptTokens)
	assert.InDelta(t, 0.03, out.Totals.EstimatedCostUSD, 1e-9)

	for _, id := range []string{"conv-2", "conv-unknown"} {
		status, body = s.do(t, http.MethodGet, "/api/v1/conversations/"+id+"/usage", nil, headers)
		assert.Equal(t, http.StatusNotFound, status, id)
		assert.Equal(t, "not_found", decodeError(t, body).Kind)
	}
}

func TestGetProviders(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/providers", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		Providers []struct {
			Name    string `json:"name"`
			Ready   bool   `json:"ready"`
			Breaker string `json:"breaker"`
		} `json:"providers"`
		Metrics llm.MetricsSnapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.Len(t, out.Providers, 2)
	assert.Equal(t, "stub", out.Providers[0].Name)
	assert.True(t, out.Providers[0].Ready)
	assert.Equal(t, "closed", out.Providers[0].Breaker)
	assert.Equal(t, "gemini", out.Providers[1].Name)
	assert.False(t, out.Providers[1].Ready, "declared without credentials")
}

func TestGetTools(t *testing.T) {
	s := newTestServer(t)

	status, body := s.do(t, http.MethodGet, "/api/v1/tools", nil, nil)
	require.Equal(t, http.StatusOK, status)

	var out struct {
		Tools []llm.ToolSchema `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	names := make([]string, len(out.Tools))
	for i, tool := range out.Tools {
		names[i] = tool.Name
	}
	assert.ElementsMatch(t, []string{
		commerce.ToolSearchCatalog, commerce.ToolAddToCart, commerce.ToolUpdateCartQuantity,
		commerce.ToolViewCart, commerce.ToolAnalyzeCart, commerce.ToolRemoveFromCart, commerce.ToolCheckout,
	}, names)
}

func TestConversationMessages(t *testing.T) {
	s := newTestServer(t)
	headers := map[string]string{middleware.UserIDHeader: "user-1"}
	require.NoError(t, s.conversations.Append(context.Background(), "user-1", "conv-1",
		llm.UserMessage("hi"), llm.AssistantMessage("hello", nil)))

	status, body := s.do(t, http.MethodGet, "/api/v1/conversations/conv-1/messages", nil, headers)
	require.Equal(t, http.StatusOK, status)
	var out struct {
		Messages []llm.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	assert.Len(t, out.Messages, 2)

	status, _ = s.do(t, http.MethodDelete, "/api/v1/conversations/conv-1", nil, headers)
	assert.Equal(t, http.StatusNoContent, status)

	history, err := s.conversations.Load(context.Background(), "user-1", "conv-1")
	require.NoError(t, err)
	assert.Empty(t, history)

	status, _ = s.do(t, http.MethodGet, "/api/v1/conversations/conv-1/messages", nil, headers)
	assert.Equal(t, http.StatusNotFound, status, "deleted conversations are gone")
}

func TestConversationOwnership(t *testing.T) {
	s := newTestServer(t, func(c *config.Config) { c.Auth.Required = true })
	bearer := func(userID string) map[string]string {
		token, err := s.tokens.Issue(userID, time.Hour)
		require.NoError(t, err)
		return map[string]string{"Authorization": "Bearer " + token}
	}
	alice, bob := bearer("alice"), bearer("bob")

	status, _ := s.do(t, http.MethodPost, "/api/v1/turns", turnBody("my secret PO", "conv-a"), alice)
	require.Equal(t, http.StatusOK, status)

	status, body := s.do(t, http.MethodGet, "/api/v1/conversations/conv-a/messages", nil, bob)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NotContains(t, string(body), "my secret PO")

	status, _ = s.do(t, http.MethodGet, "/api/v1/conversations/conv-a/usage", nil, bob)
	assert.Equal(t, http.StatusNotFound, status)

	calls := len(s.runner.requests)
	status, _ = s.do(t, http.MethodPost, "/api/v1/turns", turnBody("show me", "conv-a"), bob)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Len(t, s.runner.requests, calls, "no turn runs on another user's conversation")

	status, _ = s.do(t, http.MethodPost, "/api/v1/turns", map[string]any{
		"conversation_id": "conv-a",
		"message":         "append this",
		"prior_history":   []llm.Message{llm.UserMessage("forged")},
	}, bob)
	assert.Equal(t, http.StatusNotFound, status, "client history does not bypass ownership")

	status, _ = s.do(t, http.MethodDelete, "/api/v1/conversations/conv-a", nil, bob)
	assert.Equal(t, http.StatusNotFound, status)

	history, err := s.conversations.Load(context.Background(), "alice", "conv-a")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "my secret PO", history[0].Content)

	status, body = s.do(t, http.MethodGet, "/api/v1/conversations/conv-a/messages", nil, alice)
	assert.Equal(t, http.StatusOK, status)
	assert.Contains(t, string(body), "my secret PO")
}

func TestAnonymousTurnsAreNotStored(t *testing.T) {
	s := newTestServer(t)

	status, _ := s.do(t, http.MethodPost, "/api/v1/turns", turnBody("hi", "conv-anon"), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, middleware.AnonymousUser, s.runner.last().UserID)

	_, err := s.conversations.Owner(context.Background(), "conv-anon")
	assert.ErrorIs(t, err, repository.ErrConversationNotFound)

	status, _ = s.do(t, http.MethodGet, "/api/v1/conversations/conv-anon/messages", nil, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

// turnBody builds a POST /turns payload
func turnBody(message, conversationID string) map[string]any {
	body := map[string]any{"message": message}
	if conversationID != "" {
		body["conversation_id"] = conversationID
	}
	return body
}
