package tools

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func TestExecute_EndCall(t *testing.T) {
	e := NewExecutor("http://unused", zap.NewNop())
	res := e.Execute(context.Background(), ToolEndCall, map[string]any{"summary": "order confirmed"})
	if res.Type != ResultEnd {
		t.Fatalf("expected end result, got %s", res.Type)
	}
	if res.Handoff == nil || res.Handoff.ReasonCode != ToolEndCall {
		t.Fatalf("expected end-call reason code, got %+v", res.Handoff)
	}
	if res.Handoff.ConversationSummary != "order confirmed" {
		t.Fatalf("expected summary carried through, got %q", res.Handoff.ConversationSummary)
	}
}

func TestExecute_LiveAgentHandoff(t *testing.T) {
	e := NewExecutor("http://unused", zap.NewNop())
	res := e.Execute(context.Background(), ToolLiveAgentHandoff, map[string]any{"summary": "caller asked for a human"})
	if res.Type != ResultEnd {
		t.Fatalf("expected end result, got %s", res.Type)
	}
	if res.Handoff.ReasonCode != ToolLiveAgentHandoff {
		t.Fatalf("unexpected reason code %q", res.Handoff.ReasonCode)
	}
	if res.Handoff.Reason != "caller asked for a human" {
		t.Fatalf("unexpected reason %q", res.Handoff.Reason)
	}
}

func TestExecute_SendDTMF(t *testing.T) {
	e := NewExecutor("http://unused", zap.NewNop())
	res := e.Execute(context.Background(), ToolSendDTMF, map[string]any{"dtmfDigit": "5"})
	if res.Type != ResultSendDigits || res.Digits != "5" {
		t.Fatalf("expected sendDigits 5, got %+v", res)
	}
}

func TestExecute_BusinessToolSuccess(t *testing.T) {
	var gotPath string
	var gotArgs map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotArgs)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, zap.NewNop())
	res := e.Execute(context.Background(), "status-update", map[string]any{
		"customerReference": "AC123",
		"status":            "ready",
	})
	if res.Type != ResultText {
		t.Fatalf("expected text result, got %s (%s)", res.Type, res.Token)
	}
	if gotPath != "/tools/status-update" {
		t.Fatalf("expected POST to /tools/status-update, got %s", gotPath)
	}
	if gotArgs["customerReference"] != "AC123" || gotArgs["status"] != "ready" {
		t.Fatalf("arguments not forwarded: %+v", gotArgs)
	}
	if res.Token != `{"ok":true}` {
		t.Fatalf("expected serialized result, got %q", res.Token)
	}
}

func TestExecute_BusinessToolHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	e := NewExecutor(srv.URL, zap.NewNop())
	res := e.Execute(context.Background(), "status-update", map[string]any{"status": "ready"})
	if res.Type != ResultError {
		t.Fatalf("expected error envelope on 500, got %s", res.Type)
	}
	if res.Token == "" {
		t.Fatalf("expected error message in token")
	}
}

func TestExecute_BusinessToolUnreachable(t *testing.T) {
	e := NewExecutor("http://127.0.0.1:1", zap.NewNop())
	res := e.Execute(context.Background(), "status-update", nil)
	if res.Type != ResultError {
		t.Fatalf("expected error envelope on transport failure, got %s", res.Type)
	}
}

func TestManifest_DeclaresBuiltins(t *testing.T) {
	names := map[string]bool{}
	for _, tool := range Manifest() {
		names[tool.Function.Name] = true
		if tool.Type != "function" {
			t.Fatalf("tool %s has type %q", tool.Function.Name, tool.Type)
		}
		if tool.Function.Parameters["type"] != "object" {
			t.Fatalf("tool %s parameters are not an object schema", tool.Function.Name)
		}
	}
	for _, want := range []string{"status-update", "send-dtmf", "verify-code", "verify-send", "live-agent-handoff", "end-call"} {
		if !names[want] {
			t.Fatalf("manifest missing tool %s", want)
		}
	}
}
