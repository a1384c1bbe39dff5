package sseutil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"

	gateway "github.com/himmiroute/himmi/internal"
)

// ReadSSEStream reads SSE lines from resp and sends them as StreamChunks on ch.
// It handles the standard SSE "[DONE]" sentinel and extracts usage from the
// final chunk. Used by the openai and ollama adapters that share this SSE
// format. The channel is closed when done.
func ReadSSEStream(ctx context.Context, upstreamName string, resp *http.Response, ch chan<- gateway.StreamChunk) {
	defer close(ch)
	defer resp.Body.Close()

	scanner := NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		_, data, ok := ParseSSELine(line)
		if !ok {
			continue
		}
		if data == "[DONE]" {
			SendFinal(ctx, ch, gateway.StreamChunk{Done: true})
			return
		}

		chunk := gateway.StreamChunk{Data: []byte(data)}
		// Extract usage from final chunk if present.
		if u := gjson.GetBytes(chunk.Data, "usage"); u.Exists() && u.Type == gjson.JSON {
			var usage gateway.Usage
			if json.Unmarshal([]byte(u.Raw), &usage) == nil && usage.TotalTokens > 0 {
				chunk.Usage = &usage
			}
		}

		select {
		case ch <- chunk:
		case <-ctx.Done():
			SendFinal(ctx, ch, gateway.StreamChunk{Err: ctx.Err()})
			return
		}
	}
	if err := scanner.Err(); err != nil {
		SendFinal(ctx, ch, gateway.StreamChunk{Err: fmt.Errorf("%s: read stream: %w", upstreamName, err)})
	}
}

// SendFinal delivers a terminal chunk (error or Done sentinel). It blocks
// only while the consumer is live; once ctx ends the consumer has stopped
// reading, so the send degrades to best effort instead of pinning the
// producer goroutine on a full buffer and leaking its response body.
func SendFinal(ctx context.Context, ch chan<- gateway.StreamChunk, chunk gateway.StreamChunk) {
	select {
	case ch <- chunk:
	case <-ctx.Done():
		select {
		case ch <- chunk:
		default:
		}
	}
}
