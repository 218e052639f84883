// Package llm implements LlmGateway (spec.md §4.3, C3): a stateless
// completion contract in front of a CLI-subprocess model backend, shaped
// after an Invoker/Request/Response pattern (CLI-arg construction,
// ParseResponse JSON extraction) and generalized with a typed error
// taxonomy, bounded retry/backoff, and a streaming event channel a plain
// synchronous Invoke never needed.
package llm

import (
	"context"
	"time"
)

// StopReason is why the model stopped generating.
type StopReason string

const (
	StopEndTurn      StopReason = "end_turn"
	StopToolUse      StopReason = "tool_use"
	StopMaxTokens    StopReason = "max_tokens"
	StopStopSequence StopReason = "stop_sequence"
)

// ToolSchema describes one tool the model may call, scoped to the loop kind
// issuing the request (spec.md §4.6 step 3 "tool schema set is determined
// by kind per a static catalog").
type ToolSchema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// ToolCall is one invocation the model asked for.
type ToolCall struct {
	ID    string
	Name  string
	Input map[string]any
}

// ToolResultInput is a tool's outcome fed back to the model on a follow-up
// completion within the same iteration (spec.md §4.6 step 4).
type ToolResultInput struct {
	ToolCallID string
	Content    string
	IsError    bool
}

// Usage is the token accounting recorded per completion.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheCreateTokens int
}

// Request is one LlmGateway completion request: a rendered system prompt, a
// single user message, the tool schemas visible to this loop kind, and a
// max-output-tokens cap (spec.md §4.3).
type Request struct {
	SystemPrompt string
	UserMessage  string
	Tools        []ToolSchema
	ToolResults  []ToolResultInput
	MaxTokens    int
}

// Response is the result of a completion: optional text, an ordered list of
// tool calls, the stop reason, and token usage.
type Response struct {
	Text       string
	ToolCalls  []ToolCall
	StopReason StopReason
	Usage      Usage
	SessionID  string
}

// StreamEventType tags the kind of incremental event pushed to a Sink.
type StreamEventType string

const (
	EventTextDelta    StreamEventType = "text_delta"
	EventToolUseStart StreamEventType = "tool_use_start"
	EventToolUseDelta StreamEventType = "tool_use_delta"
	EventToolUseEnd   StreamEventType = "tool_use_end"
	EventDone         StreamEventType = "done"
)

// StreamEvent is one incremental update during Stream.
type StreamEvent struct {
	Type      StreamEventType
	TextDelta string
	ToolCall  *ToolCall
}

// Sink receives StreamEvents in order. Closing the channel underlying a Sink
// implementation does not abort the upstream call (spec.md §4.3).
type Sink func(StreamEvent)

// RetryPolicy is the exponential backoff schedule for transient errors
// (spec.md §4.3 "initial 1s, doubling, capped at 3 attempts").
type RetryPolicy struct {
	InitialDelay time.Duration
	MaxAttempts  int
}

// DefaultRetryPolicy returns the fixed retry schedule (spec.md §4.3).
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{InitialDelay: time.Second, MaxAttempts: 3}
}

// Gateway is the LlmGateway contract (spec.md §4.3, C3).
type Gateway interface {
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request, sink Sink) (Response, error)
}
