package anthropic

import (
	"encoding/json"
	"testing"

	gateway "github.com/himmiroute/himmi/internal"
)

func TestTranslateRequest(t *testing.T) {
	t.Parallel()

	maxTok := 512
	temp := 0.7
	req := &gateway.ChatRequest{
		Model:       "claude-4-6-opus",
		MaxTokens:   &maxTok,
		Temperature: &temp,
		Messages: []gateway.Message{
			{Role: "system", Content: []byte(`"be brief"`)},
			{Role: "user", Content: []byte(`"hello"`)},
			{Role: "assistant", Content: []byte(`"hi"`)},
			{Role: "tool", ToolCallID: "call_1", Content: []byte(`"42"`)},
		},
	}

	out := translateRequest(req)

	if out.Model != "claude-4-6-opus" || out.MaxTokens != 512 {
		t.Errorf("model/max_tokens = %q/%d", out.Model, out.MaxTokens)
	}
	if string(out.System) != `"be brief"` {
		t.Errorf("system = %s", out.System)
	}
	// system is hoisted out; tool result folds into a user message.
	if len(out.Messages) != 3 {
		t.Fatalf("got %d messages, want 3", len(out.Messages))
	}
	if out.Messages[2].Role != "user" {
		t.Errorf("tool result role = %q, want user", out.Messages[2].Role)
	}
	var blocks []map[string]any
	if err := json.Unmarshal(out.Messages[2].Content, &blocks); err != nil {
		t.Fatalf("tool result content: %v", err)
	}
	if blocks[0]["type"] != "tool_result" || blocks[0]["tool_use_id"] != "call_1" {
		t.Errorf("tool result block = %+v", blocks[0])
	}
}

func TestTranslateRequest_DefaultMaxTokens(t *testing.T) {
	t.Parallel()

	out := translateRequest(&gateway.ChatRequest{Model: "claude-4-6-opus"})
	if out.MaxTokens != 4096 {
		t.Errorf("max_tokens = %d, want 4096 default", out.MaxTokens)
	}
}

func TestTranslateResponse(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"id": "msg_01",
		"model": "claude-4-6-opus",
		"stop_reason": "end_turn",
		"content": [{"type":"text","text":"Hello "},{"type":"text","text":"there"}],
		"usage": {"input_tokens": 12, "output_tokens": 4}
	}`)

	resp := translateResponse(data)

	if resp.ID != "msg_01" || resp.Object != "chat.completion" {
		t.Errorf("envelope = %q/%q", resp.ID, resp.Object)
	}
	if resp.Content() != "Hello there" {
		t.Errorf("content = %q", resp.Content())
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q, want stop", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil || resp.Usage.PromptTokens != 12 || resp.Usage.TotalTokens != 16 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestTranslateResponse_ToolUse(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"id": "msg_02",
		"model": "claude-4-6-opus",
		"stop_reason": "tool_use",
		"content": [{"type":"tool_use","id":"toolu_1","name":"get_weather","input":{"city":"Oslo"}}]
	}`)

	resp := translateResponse(data)

	if resp.Choices[0].FinishReason != "tool_calls" {
		t.Errorf("finish_reason = %q, want tool_calls", resp.Choices[0].FinishReason)
	}
	var calls []struct {
		ID       string `json:"id"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(resp.Choices[0].Message.ToolCalls, &calls); err != nil {
		t.Fatal(err)
	}
	if len(calls) != 1 || calls[0].ID != "toolu_1" || calls[0].Function.Name != "get_weather" {
		t.Errorf("tool calls = %+v", calls)
	}
}

func TestMapStopReason(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"end_turn", "stop"},
		{"max_tokens", "length"},
		{"tool_use", "tool_calls"},
		{"stop_sequence", "stop"},
		{"weird", "weird"},
	}
	for _, tt := range tests {
		if got := mapStopReason(tt.in); got != tt.want {
			t.Errorf("mapStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
