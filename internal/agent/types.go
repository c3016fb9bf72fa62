package agent

import (
	"context"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/tools"
)

// Streamer produces one streamed model completion over the running transcript.
type Streamer interface {
	StreamChat(ctx context.Context, messages []llm.Message, toolSet []llm.Tool, fn func(llm.Delta) error) error
}

// ToolRunner executes a parsed tool call and returns the normalized envelope.
type ToolRunner interface {
	Execute(ctx context.Context, name string, args map[string]any) tools.Result
}

// EventKind discriminates engine output events.
type EventKind string

const (
	// EventToken streams reply text. The closing token of a turn has Last
	// set and carries the assembled Reply.
	EventToken EventKind = "token"
	// EventDigits asks the caller leg to press touch-tones.
	EventDigits EventKind = "digits"
	// EventEnd terminates the call with handoff data.
	EventEnd EventKind = "end"
	// EventError reports a turn-local failure; the conversation continues
	// on the next inbound event.
	EventError EventKind = "error"
)

// Event is one normalized engine output.
type Event struct {
	Kind    EventKind
	Token   string
	Last    bool
	Reply   string
	Digits  string
	Handoff *tools.HandoffData
	Message string
}
