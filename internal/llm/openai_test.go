package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sseServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/event-stream")
		for _, l := range lines {
			fmt.Fprintf(w, "data: %s\n\n", l)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamChat_TextDeltas(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"content":"Hello"},"finish_reason":null}]}`,
		`{"choices":[{"delta":{"content":" there."},"finish_reason":null}]}`,
		`{"choices":[{"delta":{},"finish_reason":"stop"}]}`,
	})
	defer srv.Close()

	c := NewClient("key", "test-model", srv.URL)
	var got strings.Builder
	var finish string
	err := c.StreamChat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, func(d Delta) error {
		got.WriteString(d.Content)
		if d.FinishReason != "" {
			finish = d.FinishReason
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if got.String() != "Hello there." {
		t.Fatalf("unexpected content %q", got.String())
	}
	if finish != "stop" {
		t.Fatalf("expected finish_reason stop, got %q", finish)
	}
}

func TestStreamChat_ToolCallFragments(t *testing.T) {
	srv := sseServer(t, []string{
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"end-call","arguments":""}}]},"finish_reason":null}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"summary\":"}}]},"finish_reason":null}]}`,
		`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"done\"}"}}]},"finish_reason":null}]}`,
		`{"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
	})
	defer srv.Close()

	c := NewClient("key", "test-model", srv.URL)
	var name, args, finish string
	err := c.StreamChat(context.Background(), []Message{{Role: "user", Content: "bye"}}, nil, func(d Delta) error {
		for _, tc := range d.ToolCalls {
			if tc.Name != "" {
				name = tc.Name
			}
			args += tc.Arguments
		}
		if d.FinishReason != "" {
			finish = d.FinishReason
		}
		return nil
	})
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	if name != "end-call" {
		t.Fatalf("expected tool name end-call, got %q", name)
	}
	if args != `{"summary":"done"}` {
		t.Fatalf("unexpected accumulated arguments %q", args)
	}
	if finish != "tool_calls" {
		t.Fatalf("expected finish_reason tool_calls, got %q", finish)
	}
}

func TestStreamChat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient("key", "test-model", srv.URL)
	err := c.StreamChat(context.Background(), nil, nil, func(Delta) error { return nil })
	if err == nil {
		t.Fatalf("expected error on non-2xx response")
	}
}

func TestStreamChat_MissingKey(t *testing.T) {
	c := NewClient("", "m", "")
	if err := c.StreamChat(context.Background(), nil, nil, func(Delta) error { return nil }); err == nil {
		t.Fatalf("expected error with missing api key")
	}
}
