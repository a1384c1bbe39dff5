package gemini

import (
	"testing"

	gateway "github.com/himmiroute/himmi/internal"
)

func TestTranslateRequest(t *testing.T) {
	t.Parallel()

	temp := 0.3
	maxTok := 100
	req := &gateway.ChatRequest{
		Model:       "gemini-2.5-pro",
		Temperature: &temp,
		MaxTokens:   &maxTok,
		Messages: []gateway.Message{
			{Role: "system", Content: []byte(`"be terse"`)},
			{Role: "user", Content: []byte(`"hi"`)},
			{Role: "assistant", Content: []byte(`"hello"`)},
		},
	}

	out := translateRequest(req)

	if out.SystemInstruction == nil || out.SystemInstruction.Parts[0].Text != "be terse" {
		t.Errorf("systemInstruction = %+v", out.SystemInstruction)
	}
	if len(out.Contents) != 2 {
		t.Fatalf("got %d contents, want 2", len(out.Contents))
	}
	// OpenAI "assistant" becomes Gemini "model".
	if out.Contents[1].Role != "model" {
		t.Errorf("assistant role mapped to %q, want model", out.Contents[1].Role)
	}
	if out.GenerationConfig == nil || *out.GenerationConfig.MaxOutputTokens != 100 {
		t.Errorf("generationConfig = %+v", out.GenerationConfig)
	}
}

func TestTranslateRequest_MultimodalTextParts(t *testing.T) {
	t.Parallel()

	req := &gateway.ChatRequest{
		Model: "gemini-2.5-pro",
		Messages: []gateway.Message{
			{Role: "user", Content: []byte(`[{"type":"text","text":"part one "},{"type":"text","text":"part two"}]`)},
		},
	}
	out := translateRequest(req)
	if out.Contents[0].Parts[0].Text != "part one part two" {
		t.Errorf("text = %q", out.Contents[0].Parts[0].Text)
	}
}

func TestTranslateResponse(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"candidates": [{
			"content": {"parts": [{"text": "Oslo is the capital."}], "role": "model"},
			"finishReason": "STOP"
		}],
		"usageMetadata": {"promptTokenCount": 8, "candidatesTokenCount": 5, "totalTokenCount": 13}
	}`)

	resp := translateResponse(data, "gemini-2.5-pro")

	if resp.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", resp.Model)
	}
	if resp.Content() != "Oslo is the capital." {
		t.Errorf("content = %q", resp.Content())
	}
	if resp.Choices[0].FinishReason != "stop" {
		t.Errorf("finish_reason = %q", resp.Choices[0].FinishReason)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 13 {
		t.Errorf("usage = %+v", resp.Usage)
	}
}

func TestMapStopReason(t *testing.T) {
	t.Parallel()

	tests := []struct{ in, want string }{
		{"STOP", "stop"},
		{"MAX_TOKENS", "length"},
		{"SAFETY", "content_filter"},
		{"RECITATION", "content_filter"},
		{"OTHER", "OTHER"},
	}
	for _, tt := range tests {
		if got := mapStopReason(tt.in); got != tt.want {
			t.Errorf("mapStopReason(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
