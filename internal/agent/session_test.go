package agent

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/deshartman/conversation-relay-flex-dialler/internal/llm"
	"github.com/deshartman/conversation-relay-flex-dialler/internal/tools"
)

// scriptedStreamer replays one canned delta sequence per completion.
type scriptedStreamer struct {
	scripts  [][]llm.Delta
	failWith error
	calls    int
	seen     [][]llm.Message
}

func (s *scriptedStreamer) StreamChat(ctx context.Context, messages []llm.Message, toolSet []llm.Tool, fn func(llm.Delta) error) error {
	s.seen = append(s.seen, messages)
	if s.failWith != nil {
		return s.failWith
	}
	if s.calls >= len(s.scripts) {
		return errors.New("unexpected extra completion")
	}
	script := s.scripts[s.calls]
	s.calls++
	for _, d := range script {
		if err := fn(d); err != nil {
			return err
		}
	}
	return nil
}

type recordingRunner struct {
	results map[string]tools.Result
	named   []string
	args    []map[string]any
}

func (r *recordingRunner) Execute(ctx context.Context, name string, args map[string]any) tools.Result {
	r.named = append(r.named, name)
	r.args = append(r.args, args)
	if res, ok := r.results[name]; ok {
		return res
	}
	return tools.Result{Type: tools.ResultText, Token: "ok"}
}

func drain(s *Session) []Event {
	var out []Event
	for {
		select {
		case ev := <-s.Events():
			out = append(out, ev)
		default:
			return out
		}
	}
}

func textDeltas(parts ...string) []llm.Delta {
	ds := make([]llm.Delta, 0, len(parts)+1)
	for _, p := range parts {
		ds = append(ds, llm.Delta{Content: p})
	}
	return append(ds, llm.Delta{FinishReason: "stop"})
}

func toolDeltas(id, name, args string) []llm.Delta {
	return []llm.Delta{
		{ToolCalls: []llm.ToolCallDelta{{Index: 0, ID: id, Name: name}}},
		{ToolCalls: []llm.ToolCallDelta{{Index: 0, Arguments: args}}},
		{FinishReason: "tool_calls"},
	}
}

func TestGenerateTurn_StreamsAndAssembles(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{textDeltas("Hel", "lo there")}}
	s := NewSession(streamer, &recordingRunner{}, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "hi")
	events := drain(s)

	if len(events) != 3 {
		t.Fatalf("expected two token fragments plus closer, got %d: %+v", len(events), events)
	}
	if events[0].Token != "Hel" || events[0].Last {
		t.Fatalf("unexpected first fragment: %+v", events[0])
	}
	closer := events[2]
	if !closer.Last || closer.Reply != "Hello there" || closer.Token != "" {
		t.Fatalf("unexpected closing event: %+v", closer)
	}

	hist := s.History()
	if len(hist) != 2 || hist[1].Role != "assistant" || hist[1].Content != "Hello there" {
		t.Fatalf("assistant reply not recorded: %+v", hist)
	}
}

func TestGenerateTurn_ToolPairingAndFollowUp(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{
		toolDeltas("call_1", "status-update", `{"status":"ready"}`),
		textDeltas("Your order is ready."),
	}}
	runner := &recordingRunner{results: map[string]tools.Result{
		"status-update": {Type: tools.ResultText, Token: `{"recorded":true}`},
	}}
	s := NewSession(streamer, runner, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "is it ready?")
	events := drain(s)

	last := events[len(events)-1]
	if !last.Last || last.Reply != "Your order is ready." {
		t.Fatalf("follow-up reply missing: %+v", last)
	}
	if len(runner.named) != 1 || runner.named[0] != "status-update" {
		t.Fatalf("tool not executed once: %v", runner.named)
	}
	if runner.args[0]["status"] != "ready" {
		t.Fatalf("arguments not parsed: %v", runner.args[0])
	}

	hist := s.History()
	// user, assistant-with-calls, tool result, assistant follow-up.
	if len(hist) != 4 {
		t.Fatalf("unexpected transcript length %d: %+v", len(hist), hist)
	}
	withCalls := hist[1]
	if withCalls.Role != "assistant" || len(withCalls.ToolCalls) != 1 || withCalls.ToolCalls[0].ID != "call_1" {
		t.Fatalf("assistant entry does not carry the tool call: %+v", withCalls)
	}
	result := hist[2]
	if result.Role != "tool" || result.ToolCallID != "call_1" {
		t.Fatalf("tool result not paired with its call: %+v", result)
	}
	if streamer.calls != 2 {
		t.Fatalf("expected exactly one follow-up completion, got %d", streamer.calls)
	}
}

func TestGenerateTurn_MalformedArgumentsIsTurnLocal(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{
		toolDeltas("call_1", "status-update", `{"status":`),
		textDeltas("Still here."),
	}}
	runner := &recordingRunner{}
	s := NewSession(streamer, runner, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "update it")
	events := drain(s)
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if len(runner.named) != 0 {
		t.Fatalf("no tool may run when validation fails: %v", runner.named)
	}
	if len(s.History()) != 1 {
		t.Fatalf("failed turn must not pollute the transcript: %+v", s.History())
	}

	// The session remains usable on the next inbound event.
	s.GenerateTurn(context.Background(), "user", "hello?")
	events = drain(s)
	last := events[len(events)-1]
	if !last.Last || last.Reply != "Still here." {
		t.Fatalf("session not continuable after error: %+v", events)
	}
}

func TestGenerateTurn_TerminalEndShortCircuits(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{
		toolDeltas("call_1", tools.ToolEndCall, `{"callSid":"CA1","summary":"done"}`),
	}}
	runner := &recordingRunner{results: map[string]tools.Result{
		tools.ToolEndCall: {Type: tools.ResultEnd, Handoff: &tools.HandoffData{ReasonCode: "end-call", ConversationSummary: "done"}},
	}}
	s := NewSession(streamer, runner, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "bye")
	events := drain(s)

	last := events[len(events)-1]
	if last.Kind != EventEnd || last.Handoff == nil || last.Handoff.ReasonCode != "end-call" {
		t.Fatalf("expected end event with handoff, got %+v", last)
	}
	if streamer.calls != 1 {
		t.Fatalf("terminal result must not trigger a follow-up completion, got %d calls", streamer.calls)
	}
}

func TestGenerateTurn_SendDigits(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{
		toolDeltas("call_1", tools.ToolSendDTMF, `{"dtmfDigit":"5"}`),
	}}
	runner := &recordingRunner{results: map[string]tools.Result{
		tools.ToolSendDTMF: {Type: tools.ResultSendDigits, Digits: "5"},
	}}
	s := NewSession(streamer, runner, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "press 5")
	events := drain(s)
	last := events[len(events)-1]
	if last.Kind != EventDigits || last.Digits != "5" {
		t.Fatalf("expected digits event, got %+v", last)
	}
}

func TestGenerateTurn_ToolErrorFedBackToModel(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{
		toolDeltas("call_1", "verify-send", `{"from":"+1555"}`),
		textDeltas("I could not send the code just now."),
	}}
	runner := &recordingRunner{results: map[string]tools.Result{
		"verify-send": {Type: tools.ResultError, Token: "upstream unavailable"},
	}}
	s := NewSession(streamer, runner, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "send the code")
	events := drain(s)
	for _, ev := range events {
		if ev.Kind == EventError {
			t.Fatalf("tool failure must be narrated, not surfaced as error: %+v", ev)
		}
	}
	last := events[len(events)-1]
	if !last.Last || last.Reply != "I could not send the code just now." {
		t.Fatalf("expected narrated failure, got %+v", last)
	}
}

func TestGenerateTurn_FollowUpToolCallRejected(t *testing.T) {
	streamer := &scriptedStreamer{scripts: [][]llm.Delta{
		toolDeltas("call_1", "status-update", `{"status":"ready"}`),
		toolDeltas("call_2", "status-update", `{"status":"ready"}`),
	}}
	runner := &recordingRunner{results: map[string]tools.Result{
		"status-update": {Type: tools.ResultText, Token: "ok"},
	}}
	s := NewSession(streamer, runner, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "go")
	events := drain(s)
	last := events[len(events)-1]
	if last.Kind != EventError {
		t.Fatalf("chained tool call must be rejected, got %+v", last)
	}
	if streamer.calls != 2 {
		t.Fatalf("expected exactly two completions, got %d", streamer.calls)
	}
}

func TestGenerateTurn_StreamFailure(t *testing.T) {
	streamer := &scriptedStreamer{failWith: errors.New("connection reset")}
	s := NewSession(streamer, &recordingRunner{}, nil, zap.NewNop())
	defer s.Close()

	s.GenerateTurn(context.Background(), "user", "hi")
	events := drain(s)
	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("expected error event, got %+v", events)
	}
}

func TestAccumulator_MergesFragmentsByIndex(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(llm.ToolCallDelta{Index: 0, ID: "call_9", Name: "end-call"})
	acc.add(llm.ToolCallDelta{Index: 0, Arguments: `{"summa`})
	acc.add(llm.ToolCallDelta{Index: 0, Arguments: `ry":"done"}`})

	calls := acc.calls()
	if len(calls) != 1 {
		t.Fatalf("expected one call, got %d", len(calls))
	}
	if calls[0].ID != "call_9" || calls[0].Function.Name != "end-call" {
		t.Fatalf("identity lost: %+v", calls[0])
	}
	if calls[0].Function.Arguments != `{"summary":"done"}` {
		t.Fatalf("arguments not concatenated: %q", calls[0].Function.Arguments)
	}
}

func TestAccumulator_GeneratesMissingIdentifier(t *testing.T) {
	acc := newToolCallAccumulator()
	acc.add(llm.ToolCallDelta{Index: 0, Name: "send-dtmf", Arguments: `{"dtmfDigit":"1"}`})
	calls := acc.calls()
	if len(calls) != 1 || calls[0].ID == "" {
		t.Fatalf("expected generated identifier: %+v", calls)
	}
}
