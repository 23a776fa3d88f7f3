// Package memory assembles the message window sent to a provider, keeping
// it inside the configured token budget.
package memory

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/guiofsaints/procureflow-sub000/internal/errx"
	"github.com/guiofsaints/procureflow-sub000/internal/llm"
)

// TokenCounter estimates prompt tokens
type TokenCounter interface {
	CountMessage(msg llm.Message) int
}

// Conversation is the prior state of a conversation owned by the caller.
type Conversation struct {
	ID      string
	History []llm.Message
}

// Config holds the window limits
type Config struct {
	SystemPrompt string
	TokenBudget  int
	MaxMessages  int // history messages kept, 0 for no limit
}

// Window is the context of one turn: the system instruction, the retained
// part of prior history, and the messages of the turn in progress.
type Window struct {
	ConversationID string
	System         llm.Message
	History        []llm.Message
	Turn           []llm.Message
	Dropped        int
}

// Messages returns the full message list in provider order.
func (w *Window) Messages() []llm.Message {
	out := make([]llm.Message, 0, 1+len(w.History)+len(w.Turn))
	out = append(out, w.System)
	out = append(out, w.History...)
	out = append(out, w.Turn...)
	return out
}

// Append adds messages produced during the turn.
func (w *Window) Append(msgs ...llm.Message) {
	w.Turn = append(w.Turn, msgs...)
}

// Manager builds and refits context windows
type Manager struct {
	config  Config
	counter TokenCounter
	logger  logrus.FieldLogger
}

// NewManager creates a memory manager
func NewManager(config Config, counter TokenCounter, logger logrus.FieldLogger) *Manager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Manager{config: config, counter: counter, logger: logger}
}

// BuildContext assembles the window for a new user message. The side
// channel, when present, is appended to the user message content.
func (m *Manager) BuildContext(conv Conversation, userText string, sideChannel any) (*Window, error) {
	content := userText
	if rendered := RenderSideChannel(sideChannel); rendered != "" {
		content += "\n\n<context>\n" + rendered + "\n</context>"
	}

	history := make([]llm.Message, 0, len(conv.History))
	for _, msg := range conv.History {
		if msg.Role == llm.RoleSystem {
			continue
		}
		history = append(history, msg)
	}

	w := &Window{
		ConversationID: conv.ID,
		System:         llm.SystemMessage(m.config.SystemPrompt),
		History:        history,
		Turn:           []llm.Message{llm.UserMessage(content)},
	}
	if err := m.Refit(w); err != nil {
		return nil, err
	}
	return w, nil
}

// Refit drops the oldest history until the window fits the token budget and
// message limit. The system message and the current turn are never dropped;
// if they alone exceed the budget the window cannot be sent.
func (m *Manager) Refit(w *Window) error {
	budget := m.config.TokenBudget
	fixed := m.counter.CountMessage(w.System)
	for _, msg := range w.Turn {
		fixed += m.counter.CountMessage(msg)
	}
	if budget > 0 && fixed > budget {
		return errx.New(errx.ContextTooLarge,
			fmt.Sprintf("conversation needs %d tokens, budget is %d", fixed, budget))
	}

	start := len(w.History)
	used := fixed
	for i := len(w.History) - 1; i >= 0; i-- {
		if m.config.MaxMessages > 0 && len(w.History)-i > m.config.MaxMessages {
			break
		}
		cost := m.counter.CountMessage(w.History[i])
		if budget > 0 && used+cost > budget {
			break
		}
		used += cost
		start = i
	}

	// A tool result is meaningless without the call that requested it.
	for start < len(w.History) && w.History[start].Role == llm.RoleTool {
		start++
	}

	if start == 0 {
		return nil
	}
	w.History = append([]llm.Message(nil), w.History[start:]...)
	w.Dropped += start
	m.logger.WithFields(logrus.Fields{
		"conversation_id": w.ConversationID,
		"dropped":         start,
		"kept":            len(w.History),
		"tokens":          used,
		"budget":          budget,
	}).Info("Truncated conversation history")
	return nil
}

// RenderSideChannel turns a side-channel value into prompt text.
func RenderSideChannel(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	case json.RawMessage:
		return strings.TrimSpace(string(t))
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(b)
}
