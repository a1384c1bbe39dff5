// Package testutil provides configurable test fakes for gateway interfaces.
package testutil

import (
	"context"

	gateway "github.com/himmiroute/himmi/internal"
)

// FakeUpstream is a configurable gateway.Upstream for testing.
type FakeUpstream struct {
	ProtocolName string
	CompleteFn   func(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error)
	StreamFn     func(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error)
}

// Protocol returns the configured protocol name.
func (f *FakeUpstream) Protocol() string { return f.ProtocolName }

// Complete delegates to CompleteFn or returns a default response.
func (f *FakeUpstream) Complete(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	if f.CompleteFn != nil {
		return f.CompleteFn(ctx, req)
	}
	return &gateway.ChatResponse{
		ID:      "chatcmpl-fake",
		Object:  "chat.completion",
		Created: 1700000000,
		Model:   req.Model,
		Choices: []gateway.Choice{{
			Index:        0,
			Message:      gateway.Message{Role: "assistant", Content: []byte(`"hello"`)},
			FinishReason: "stop",
		}},
		Usage: &gateway.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}, nil
}

// Stream delegates to StreamFn or returns a default two-chunk stream.
func (f *FakeUpstream) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	if f.StreamFn != nil {
		return f.StreamFn(ctx, req)
	}
	return FakeStreamChan(
		gateway.StreamChunk{Data: []byte(`{"choices":[{"delta":{"content":"hel"}}]}`)},
		gateway.StreamChunk{Data: []byte(`{"choices":[{"delta":{"content":"lo"}}]}`)},
	), nil
}

// FakeStreamChan returns a channel pre-loaded with the given chunks,
// followed by a Done sentinel. The channel is closed after all chunks.
func FakeStreamChan(chunks ...gateway.StreamChunk) <-chan gateway.StreamChunk {
	ch := make(chan gateway.StreamChunk, len(chunks)+1)
	for _, c := range chunks {
		ch <- c
	}
	ch <- gateway.StreamChunk{Done: true}
	close(ch)
	return ch
}
