package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Built-in tool names with terminal outcomes.
const (
	ToolEndCall          = "end-call"
	ToolSendDTMF         = "send-dtmf"
	ToolLiveAgentHandoff = "live-agent-handoff"
)

// ResultType discriminates the normalized result envelope.
type ResultType string

const (
	ResultText       ResultType = "text"
	ResultSendDigits ResultType = "sendDigits"
	ResultEnd        ResultType = "end"
	ResultError      ResultType = "error"
)

// HandoffData rides on terminal end results and on the relay end message.
type HandoffData struct {
	ReasonCode          string `json:"reasonCode"`
	Reason              string `json:"reason,omitempty"`
	ConversationSummary string `json:"conversationSummary,omitempty"`
}

// Result is the envelope every tool execution produces. Exactly one of the
// payload fields is meaningful for a given Type.
type Result struct {
	Type    ResultType
	Token   string
	Digits  string
	Handoff *HandoffData
}

// Executor dispatches a validated tool call: the built-in terminal actions
// run locally, every other name is POSTed to the business-tool endpoint
// named after it. A reachable-but-erroring endpoint never produces a Go
// error, only an error envelope, so the conversation can continue.
type Executor struct {
	httpClient *http.Client
	baseURL    string
	log        *zap.Logger
}

func NewExecutor(baseURL string, log *zap.Logger) *Executor {
	return &Executor{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		log:        log,
	}
}

func (e *Executor) Execute(ctx context.Context, name string, args map[string]any) Result {
	switch name {
	case ToolLiveAgentHandoff:
		return Result{Type: ResultEnd, Handoff: &HandoffData{
			ReasonCode: ToolLiveAgentHandoff,
			Reason:     stringArg(args, "summary"),
		}}
	case ToolEndCall:
		return Result{Type: ResultEnd, Handoff: &HandoffData{
			ReasonCode:          ToolEndCall,
			Reason:              "Call completed",
			ConversationSummary: stringArg(args, "summary"),
		}}
	case ToolSendDTMF:
		return Result{Type: ResultSendDigits, Digits: stringArg(args, "dtmfDigit")}
	default:
		return e.callBusinessTool(ctx, name, args)
	}
}

func (e *Executor) callBusinessTool(ctx context.Context, name string, args map[string]any) Result {
	body, err := json.Marshal(args)
	if err != nil {
		return Result{Type: ResultError, Token: fmt.Sprintf("encode arguments for %s: %v", name, err)}
	}
	endpoint := e.baseURL + "/tools/" + name
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return Result{Type: ResultError, Token: fmt.Sprintf("build request for %s: %v", name, err)}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		e.log.Warn("business tool unreachable", zap.String("tool", name), zap.Error(err))
		return Result{Type: ResultError, Token: fmt.Sprintf("tool %s unreachable: %v", name, err)}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e.log.Warn("business tool failed",
			zap.String("tool", name),
			zap.Int("status", resp.StatusCode))
		return Result{Type: ResultError, Token: fmt.Sprintf("tool %s failed: status=%d body=%s", name, resp.StatusCode, string(respBody))}
	}
	return Result{Type: ResultText, Token: string(respBody)}
}

func stringArg(args map[string]any, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}
