package orchestrator

import (
	"time"

	"github.com/guiofsaints/procureflow-sub000/internal/llm"
	"github.com/guiofsaints/procureflow-sub000/internal/usage"
)

// State is a step of the turn state machine
type State int

const (
	StateStart State = iota
	StateAwaitingProvider
	StateToolCallsPending
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAwaitingProvider:
		return "awaiting_provider"
	case StateToolCallsPending:
		return "tool_calls_pending"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// TurnRequest is one inbound user message
type TurnRequest struct {
	ConversationID string        `json:"conversation_id,omitempty"`
	UserID         string        `json:"user_id"`
	Message        string        `json:"message"`
	PriorHistory   []llm.Message `json:"prior_history,omitempty"`
	SideChannel    any           `json:"side_channel,omitempty"`
	Provider       string        `json:"provider,omitempty"`
}

// TurnResponse is the outcome of a successful turn
type TurnResponse struct {
	ConversationID string           `json:"conversation_id"`
	ReplyText      string           `json:"reply_text"`
	ToolResults    []llm.ToolResult `json:"tool_results"`
	Usage          []usage.Record   `json:"usage"`
	Provider       string           `json:"provider"`
	Model          string           `json:"model"`
	ProviderCalls  int              `json:"provider_calls"`
	Duration       time.Duration    `json:"duration_ns"`

	// Messages are the messages the turn added to the conversation: the
	// user message as sent, tool requests and results, and the reply.
	Messages []llm.Message `json:"-"`
}

// Config holds the turn limits
type Config struct {
	MaxToolCallsPerTurn int
	TurnTimeout         time.Duration
	MaxTokens           int
	Temperature         *float32
}

// DefaultMaxToolCallsPerTurn is used when the config leaves it unset.
const DefaultMaxToolCallsPerTurn = 8
