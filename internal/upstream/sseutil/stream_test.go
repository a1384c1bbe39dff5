package sseutil

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
)

func sseResponse(body string) *http.Response {
	return &http.Response{Body: io.NopCloser(strings.NewReader(body))}
}

func collect(t *testing.T, ch <-chan gateway.StreamChunk) []gateway.StreamChunk {
	t.Helper()
	var out []gateway.StreamChunk
	for c := range ch {
		out = append(out, c)
	}
	return out
}

func TestReadSSEStream(t *testing.T) {
	t.Parallel()

	body := strings.Join([]string{
		`data: {"id":"c1","choices":[{"delta":{"content":"hi"}}]}`,
		"",
		`data: {"id":"c1","choices":[],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`,
		"",
		"data: [DONE]",
		"",
	}, "\n")

	ch := make(chan gateway.StreamChunk, 8)
	go ReadSSEStream(context.Background(), "openai", sseResponse(body), ch)
	chunks := collect(t, ch)

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Usage != nil {
		t.Error("content chunk should not carry usage")
	}
	if chunks[1].Usage == nil || chunks[1].Usage.TotalTokens != 5 {
		t.Errorf("usage chunk = %+v, want total 5", chunks[1].Usage)
	}
	if !chunks[2].Done {
		t.Error("final chunk should be the Done sentinel")
	}
}

func TestReadSSEStream_IgnoresCommentsAndBlank(t *testing.T) {
	t.Parallel()

	body := ": keep-alive\n\ndata: [DONE]\n"
	ch := make(chan gateway.StreamChunk, 8)
	go ReadSSEStream(context.Background(), "openai", sseResponse(body), ch)
	chunks := collect(t, ch)

	if len(chunks) != 1 || !chunks[0].Done {
		t.Fatalf("chunks = %+v, want single Done", chunks)
	}
}

type closeTrackingBody struct {
	io.Reader
	closed chan struct{}
}

func (b *closeTrackingBody) Close() error {
	close(b.closed)
	return nil
}

func TestReadSSEStream_CancelWithFullBufferClosesBody(t *testing.T) {
	t.Parallel()

	// More data lines than the channel buffers, and nobody reading: the
	// reader must still exit on cancel and run its deferred body close.
	var sb strings.Builder
	for range 32 {
		sb.WriteString(`data: {"choices":[{"delta":{"content":"x"}}]}` + "\n\n")
	}
	body := &closeTrackingBody{Reader: strings.NewReader(sb.String()), closed: make(chan struct{})}

	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan gateway.StreamChunk, 8)
	go ReadSSEStream(ctx, "openai", &http.Response{Body: body}, ch)

	// Let the reader fill the buffer and block on the next send.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-body.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("response body never closed after cancel")
	}
}

func TestBuildChunks(t *testing.T) {
	t.Parallel()

	delta := BuildDeltaChunk("id1", "m", map[string]any{"content": "x"}, "")
	if !strings.Contains(string(delta), `"chat.completion.chunk"`) {
		t.Errorf("delta chunk missing object field: %s", delta)
	}
	if !strings.Contains(string(delta), `"finish_reason":null`) {
		t.Errorf("empty finish reason should marshal as null: %s", delta)
	}

	finish := BuildFinishChunk("id1", "m", "stop")
	if !strings.Contains(string(finish), `"finish_reason":"stop"`) {
		t.Errorf("finish chunk: %s", finish)
	}

	usage := BuildUsageChunk("id1", "m", &gateway.Usage{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3})
	if !strings.Contains(string(usage), `"total_tokens":3`) {
		t.Errorf("usage chunk: %s", usage)
	}
}
