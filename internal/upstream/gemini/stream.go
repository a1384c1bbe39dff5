package gemini

import (
	"context"
	"fmt"
	"io"

	"github.com/tidwall/gjson"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/upstream/sseutil"
)

// readStream reads Gemini SSE events and emits OpenAI-format StreamChunks.
// Gemini streaming has no "event:" field and no "[DONE]" sentinel -- it is
// EOF-terminated. Each "data:" line contains a full JSON response chunk.
// Usage is cumulative; we track the last seen values and emit them at the end.
func readStream(ctx context.Context, body io.ReadCloser, ch chan<- gateway.StreamChunk, model string) {
	defer close(ch)
	defer body.Close()

	scanner := sseutil.NewScanner(body)
	id := "gemini-" + model

	var lastUsage *gateway.Usage
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := sseutil.ParseSSELine(line)
		if !ok {
			continue
		}

		r := gjson.Parse(data)

		text := r.Get("candidates.0.content.parts.0.text").String()
		finishReason := mapStopReason(r.Get("candidates.0.finishReason").String())

		// Track cumulative usage.
		if u := r.Get("usageMetadata"); u.Exists() {
			lastUsage = &gateway.Usage{
				PromptTokens:     int(u.Get("promptTokenCount").Int()),
				CompletionTokens: int(u.Get("candidatesTokenCount").Int()),
				TotalTokens:      int(u.Get("totalTokenCount").Int()),
			}
		}

		var chunk []byte
		switch {
		case text != "":
			chunk = sseutil.BuildDeltaChunk(id, model, map[string]any{"content": text}, finishReason)
		case finishReason != "":
			chunk = sseutil.BuildDeltaChunk(id, model, map[string]any{}, finishReason)
		default:
			continue
		}

		select {
		case ch <- gateway.StreamChunk{Data: chunk}:
		case <-ctx.Done():
			sseutil.SendFinal(ctx, ch, gateway.StreamChunk{Err: ctx.Err()})
			return
		}
	}

	if err := scanner.Err(); err != nil {
		sseutil.SendFinal(ctx, ch, gateway.StreamChunk{Err: fmt.Errorf("gemini: read stream: %w", err)})
		return
	}

	// Emit usage chunk at the end (Gemini provides cumulative usage).
	if lastUsage != nil {
		sseutil.SendFinal(ctx, ch, gateway.StreamChunk{Data: sseutil.BuildUsageChunk(id, model, lastUsage), Usage: lastUsage})
	}
	sseutil.SendFinal(ctx, ch, gateway.StreamChunk{Done: true})
}
