package tools

import "github.com/deshartman/conversation-relay-flex-dialler/internal/llm"

func objectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// Manifest declares the tools the model may call during a call.
func Manifest() []llm.Tool {
	return []llm.Tool{
		llm.NewFunctionTool("status-update",
			"Record the preparation status of the customer's order after speaking with the pharmacy.",
			objectSchema(map[string]any{
				"customerReference": map[string]any{
					"type":        "string",
					"description": "The customer reference for this order.",
				},
				"status": map[string]any{
					"type": "string",
					"enum": []string{"ready", "in progress", "delayed", "unable to complete"},
				},
			}, "customerReference", "status")),
		llm.NewFunctionTool(ToolSendDTMF,
			"Send a touch-tone digit, for example to navigate a phone menu.",
			objectSchema(map[string]any{
				"dtmfDigit": map[string]any{
					"type":        "string",
					"description": "The digit to press: 0-9, * or #.",
				},
			}, "dtmfDigit")),
		llm.NewFunctionTool("verify-code",
			"Verify a one-time code the person on the call has read out.",
			objectSchema(map[string]any{
				"code": map[string]any{"type": "string"},
				"from": map[string]any{"type": "string"},
			}, "code", "from")),
		llm.NewFunctionTool("verify-send",
			"Send a one-time verification code to the person on the call.",
			objectSchema(map[string]any{
				"from": map[string]any{"type": "string"},
			}, "from")),
		llm.NewFunctionTool(ToolLiveAgentHandoff,
			"Hand the call to a live human agent when the caller asks for one or the conversation needs help.",
			objectSchema(map[string]any{
				"callSid": map[string]any{"type": "string"},
				"summary": map[string]any{
					"type":        "string",
					"description": "A short summary of the conversation so far for the human agent.",
				},
			}, "summary")),
		llm.NewFunctionTool(ToolEndCall,
			"End the call politely once the conversation is complete.",
			objectSchema(map[string]any{
				"callSid": map[string]any{"type": "string"},
				"summary": map[string]any{
					"type":        "string",
					"description": "A short summary of the completed conversation.",
				},
			}, "summary")),
	}
}
