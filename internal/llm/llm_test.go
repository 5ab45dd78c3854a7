package llm

import (
	"encoding/json"
	"testing"

	bridge "github.com/StarfleetAI/bridge-common"
)

func TestToOpenAIRequestTranslatesToolCalls(t *testing.T) {
	req := bridge.ChatRequest{
		Model: "gpt-4-turbo",
		Messages: []bridge.ChatMessage{
			{Role: "system", Content: "you are a helper"},
			{
				Role: "assistant",
				ToolCalls: []bridge.ToolCall{
					{ID: "call_1", Type: "function", Function: bridge.ToolCallFunction{Name: "sfai_done", Arguments: "{}"}},
				},
			},
			{Role: "tool", Content: "done", ToolCallID: "call_1"},
		},
		Tools: []bridge.ToolDefinition{
			{Name: "sfai_done", Description: "mark done", Parameters: json.RawMessage(`{"type":"object"}`)},
		},
	}

	oaReq := toOpenAIRequest(req)

	if oaReq.Model != "gpt-4-turbo" {
		t.Errorf("expected model to carry through, got %s", oaReq.Model)
	}
	if len(oaReq.Messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(oaReq.Messages))
	}
	if len(oaReq.Messages[1].ToolCalls) != 1 || oaReq.Messages[1].ToolCalls[0].Function.Name != "sfai_done" {
		t.Fatalf("expected assistant message to carry its tool call, got %+v", oaReq.Messages[1])
	}
	if oaReq.Messages[2].ToolCallID != "call_1" {
		t.Errorf("expected tool message to carry ToolCallID, got %s", oaReq.Messages[2].ToolCallID)
	}
	if len(oaReq.Tools) != 1 || oaReq.Tools[0].Function.Name != "sfai_done" {
		t.Fatalf("expected one translated tool definition, got %+v", oaReq.Tools)
	}
}

func TestToOpenAIRequestOmitsToolsWhenEmpty(t *testing.T) {
	req := bridge.ChatRequest{Model: "m", Messages: []bridge.ChatMessage{{Role: "user", Content: "hi"}}}
	oaReq := toOpenAIRequest(req)
	if len(oaReq.Tools) != 0 {
		t.Errorf("expected no tools, got %d", len(oaReq.Tools))
	}
}
