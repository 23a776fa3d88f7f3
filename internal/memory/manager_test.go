package memory

import (
	"fmt"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// flatCounter charges every message the same
type flatCounter int

func (f flatCounter) CountMessage(llm.Message) int { return int(f) }

func history(n int) []llm.Message {
	out := make([]llm.Message, 0, n)
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			out = append(out, llm.UserMessage(fmt.Sprintf("user %d", i)))
		} else {
			out = append(out, llm.AssistantMessage(fmt.Sprintf("assistant %d", i), nil))
		}
	}
	return out
}

func TestBuildContext_KeepsEverythingWithinBudget(t *testing.T) {
	logger, hook := test.NewNullLogger()
	m := NewManager(Config{SystemPrompt: "sys", TokenBudget: 100}, flatCounter(10), logger)

	w, err := m.BuildContext(Conversation{ID: "c1", History: history(4)}, "hello", nil)
	require.NoError(t, err)

	msgs := w.Messages()
	require.Len(t, msgs, 6)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, "sys", msgs[0].Content)
	assert.Equal(t, "hello", msgs[5].Content)
	assert.Zero(t, w.Dropped)
	assert.Empty(t, hook.AllEntries())
}

func TestBuildContext_DropsOldestFirst(t *testing.T) {
	logger, hook := test.NewNullLogger()
	// system + user turn = 20, leaving room for 3 history messages
	m := NewManager(Config{SystemPrompt: "sys", TokenBudget: 50}, flatCounter(10), logger)

	w, err := m.BuildContext(Conversation{ID: "c1", History: history(6)}, "hello", nil)
	require.NoError(t, err)

	require.Len(t, w.History, 3)
	assert.Equal(t, "assistant 3", w.History[0].Content)
	assert.Equal(t, "assistant 5", w.History[2].Content)
	assert.Equal(t, 3, w.Dropped)

	entry := hook.LastEntry()
	require.NotNil(t, entry)
	assert.Equal(t, "Truncated conversation history", entry.Message)
	assert.Equal(t, 3, entry.Data["dropped"])
	assert.Equal(t, "c1", entry.Data["conversation_id"])
}

func TestBuildContext_MaxMessages(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{TokenBudget: 1000, MaxMessages: 2}, flatCounter(1), logger)

	w, err := m.BuildContext(Conversation{History: history(10)}, "hi", nil)
	require.NoError(t, err)
	require.Len(t, w.History, 2)
	assert.Equal(t, "user 8", w.History[0].Content)
}

func TestBuildContext_DropsOrphanToolResults(t *testing.T) {
	logger, _ := test.NewNullLogger()
	hist := []llm.Message{
		llm.UserMessage("add two"),
		llm.AssistantMessage("", []llm.ToolCall{{ID: "a", Name: "add_to_cart"}, {ID: "b", Name: "add_to_cart"}}),
		llm.ToolMessage(llm.ToolResult{ToolCallID: "a", Name: "add_to_cart", Value: "ok"}),
		llm.ToolMessage(llm.ToolResult{ToolCallID: "b", Name: "add_to_cart", Value: "ok"}),
		llm.AssistantMessage("done", nil),
	}
	// Room for three history messages: the cut lands between the call and its results
	m := NewManager(Config{TokenBudget: 50}, flatCounter(10), logger)

	w, err := m.BuildContext(Conversation{History: hist}, "next", nil)
	require.NoError(t, err)
	require.Len(t, w.History, 1)
	assert.Equal(t, "done", w.History[0].Content)
	assert.Equal(t, 4, w.Dropped)
}

func TestBuildContext_FiltersSystemMessagesFromHistory(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{SystemPrompt: "current", TokenBudget: 100}, flatCounter(1), logger)

	w, err := m.BuildContext(Conversation{History: []llm.Message{llm.SystemMessage("stale"), llm.UserMessage("hi")}}, "again", nil)
	require.NoError(t, err)
	require.Len(t, w.Messages(), 3)
	assert.Equal(t, "current", w.Messages()[0].Content)
}

func TestBuildContext_SideChannel(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{TokenBudget: 1000}, flatCounter(1), logger)

	cart := map[string]any{"items": []string{"laptop-01"}, "total": 1299.0}
	w, err := m.BuildContext(Conversation{}, "what's in my cart?", cart)
	require.NoError(t, err)

	user := w.Turn[0]
	assert.Contains(t, user.Content, "what's in my cart?\n\n<context>\n")
	assert.Contains(t, user.Content, `"laptop-01"`)
	assert.Contains(t, user.Content, "</context>")

	plain, err := m.BuildContext(Conversation{}, "hi", "  ")
	require.NoError(t, err)
	assert.Equal(t, "hi", plain.Turn[0].Content)
}

func TestRefit_TurnGrowth(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{TokenBudget: 50}, flatCounter(10), logger)

	w, err := m.BuildContext(Conversation{History: history(3)}, "hi", nil)
	require.NoError(t, err)
	require.Len(t, w.History, 3)

	// Tool traffic inside the turn pushes history out
	w.Append(llm.AssistantMessage("", []llm.ToolCall{{ID: "1", Name: "view_cart"}}))
	w.Append(llm.ToolMessage(llm.ToolResult{ToolCallID: "1", Name: "view_cart", Value: "empty"}))
	require.NoError(t, m.Refit(w))
	assert.Len(t, w.History, 1)
	assert.LessOrEqual(t, len(w.Messages())*10, 50)

	// The turn alone no longer fits
	w.Append(llm.AssistantMessage("", []llm.ToolCall{{ID: "2", Name: "view_cart"}}))
	w.Append(llm.ToolMessage(llm.ToolResult{ToolCallID: "2", Name: "view_cart", Value: "empty"}))
	err = m.Refit(w)
	assert.ErrorIs(t, err, errx.ErrContextTooLarge)
}

func TestBuildContext_SystemAndTurnExceedBudget(t *testing.T) {
	logger, _ := test.NewNullLogger()
	m := NewManager(Config{SystemPrompt: "sys", TokenBudget: 15}, flatCounter(10), logger)

	_, err := m.BuildContext(Conversation{}, "hello", nil)
	assert.ErrorIs(t, err, errx.ErrContextTooLarge)
}

func TestBuildContext_WithAccountant(t *testing.T) {
	logger, _ := test.NewNullLogger()
	acct := usage.NewAccountant(nil)
	budget := 60
	m := NewManager(Config{SystemPrompt: "You are a procurement assistant.", TokenBudget: budget}, acct, logger)

	w, err := m.BuildContext(Conversation{History: history(20)}, "show me monitors", nil)
	require.NoError(t, err)
	total := 0
	for _, msg := range w.Messages() {
		total += acct.CountMessage(msg)
	}
	assert.LessOrEqual(t, total, budget)
	assert.Positive(t, w.Dropped)
}
