package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/tools"
)

// Session owns the conversation transcript for a single call and drives the
// model turn loop: append the inbound message, stream a completion, execute
// any tool calls the model requests, and surface everything as typed events
// on a single ordered channel.
type Session struct {
	llm      Streamer
	tools    ToolRunner
	manifest []llm.Tool
	log      *zap.Logger

	mu      sync.Mutex
	history []llm.Message

	// turnMu serializes turns so concurrent inbound events cannot interleave
	// transcript writes mid-stream.
	turnMu sync.Mutex

	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
}

func NewSession(streamer Streamer, runner ToolRunner, manifest []llm.Tool, log *zap.Logger) *Session {
	return &Session{
		llm:      streamer,
		tools:    runner,
		manifest: manifest,
		log:      log,
		events:   make(chan Event, 64),
		done:     make(chan struct{}),
	}
}

// Events is the ordered output stream. Consumers must subscribe before the
// first turn is generated so no event is missed.
func (s *Session) Events() <-chan Event { return s.events }

// Close detaches event consumers. Safe to call repeatedly.
func (s *Session) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// History returns a copy of the transcript so far.
func (s *Session) History() []llm.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Message(nil), s.history...)
}

func (s *Session) append(msg llm.Message) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	s.mu.Unlock()
}

// AppendSystemContext inserts a system-role entry without triggering
// generation. Used for call setup context and live-agent overrides.
func (s *Session) AppendSystemContext(text string) {
	s.append(llm.Message{Role: "system", Content: text})
}

func (s *Session) emit(ev Event) {
	select {
	case s.events <- ev:
	case <-s.done:
	}
}

// GenerateTurn appends the given message and streams one model reply,
// executing any tool calls the model requests. Failures are surfaced as
// error events, never panics; the conversation remains continuable.
func (s *Session) GenerateTurn(ctx context.Context, role, text string) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	s.append(llm.Message{Role: role, Content: text})
	s.runCompletion(ctx, 0)
}

// runCompletion streams a single completion. depth counts follow-up rounds
// after a non-terminal tool result; a tool call arriving at depth > 0 is
// treated as malformed so a single turn can never chain tools unboundedly.
func (s *Session) runCompletion(ctx context.Context, depth int) {
	acc := newToolCallAccumulator()
	var reply strings.Builder
	var finish string

	err := s.llm.StreamChat(ctx, s.History(), s.manifest, func(d llm.Delta) error {
		if d.Content != "" {
			reply.WriteString(d.Content)
			s.emit(Event{Kind: EventToken, Token: d.Content})
		}
		for _, tc := range d.ToolCalls {
			acc.add(tc)
		}
		if d.FinishReason != "" {
			finish = d.FinishReason
		}
		return nil
	})
	if err != nil {
		s.log.Error("completion stream failed", zap.Error(err))
		s.emit(Event{Kind: EventError, Message: err.Error()})
		return
	}

	if finish == "tool_calls" || !acc.empty() {
		if depth > 0 {
			s.emit(Event{Kind: EventError, Message: "tool call requested in follow-up reply"})
			return
		}
		s.executeToolCalls(ctx, reply.String(), acc.calls())
		return
	}

	full := reply.String()
	s.append(llm.Message{Role: "assistant", Content: full})
	s.emit(Event{Kind: EventToken, Token: "", Last: true, Reply: full})
}

// executeToolCalls validates every accumulated call before executing any:
// a malformed name or unparsable argument payload is a terminal error for
// the whole turn, and nothing is appended to the transcript.
func (s *Session) executeToolCalls(ctx context.Context, content string, calls []llm.ToolCall) {
	parsed := make([]map[string]any, len(calls))
	for i, call := range calls {
		if call.Function.Name == "" {
			s.emit(Event{Kind: EventError, Message: "tool call missing function name"})
			return
		}
		var args map[string]any
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			s.emit(Event{Kind: EventError, Message: fmt.Sprintf("malformed arguments for %s: %v", call.Function.Name, err)})
			return
		}
		parsed[i] = args
	}

	// The assistant entry carrying the call identifiers must precede every
	// tool-role result for the completion API's pairing contract.
	s.append(llm.Message{Role: "assistant", Content: content, ToolCalls: calls})

	for i, call := range calls {
		res := s.tools.Execute(ctx, call.Function.Name, parsed[i])
		switch res.Type {
		case tools.ResultEnd:
			s.append(llm.Message{Role: "tool", ToolCallID: call.ID, Content: "call ended: " + res.Handoff.ReasonCode})
			s.emit(Event{Kind: EventEnd, Handoff: res.Handoff})
			return
		case tools.ResultSendDigits:
			s.append(llm.Message{Role: "tool", ToolCallID: call.ID, Content: "sent digits " + res.Digits})
			s.emit(Event{Kind: EventDigits, Digits: res.Digits})
			return
		case tools.ResultError:
			s.log.Warn("tool returned error envelope",
				zap.String("tool", call.Function.Name),
				zap.String("error", res.Token))
			// Fed back to the model so it can acknowledge the failure to
			// the caller in its own words.
			s.append(llm.Message{Role: "tool", ToolCallID: call.ID, Content: "error: " + res.Token})
		default:
			s.append(llm.Message{Role: "tool", ToolCallID: call.ID, Content: res.Token})
		}
	}
	s.runCompletion(ctx, 1)
}
