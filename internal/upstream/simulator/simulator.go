// Package simulator implements a gateway.Upstream that answers locally
// without any network calls. It is enabled with HIMMI_SIMULATOR=1 and
// exists for local development and load testing: deterministic responses,
// word-by-word streaming, and synthetic-but-plausible token usage.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/tokencount"
	"github.com/himmiroute/himmi/internal/upstream/sseutil"
)

const protocolName = "simulator"

var _ gateway.Upstream = (*Upstream)(nil)

// Upstream is a local fake LLM.
type Upstream struct {
	counter *tokencount.Counter
	// delay between streamed words; zero in tests.
	delay time.Duration
}

// New returns a simulator with the given inter-chunk delay.
func New(delay time.Duration) *Upstream {
	return &Upstream{counter: tokencount.NewCounter(), delay: delay}
}

// Protocol returns the wire format identifier.
func (u *Upstream) Protocol() string { return protocolName }

// Complete produces a deterministic response echoing the last user message.
func (u *Upstream) Complete(_ context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	reply := u.reply(req)
	content, _ := json.Marshal(reply)
	msg := gateway.Message{Role: "assistant", Content: content}
	return &gateway.ChatResponse{
		ID:      "sim-" + req.Model,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []gateway.Choice{{Index: 0, Message: msg, FinishReason: "stop"}},
		Usage:   u.usage(req, reply),
	}, nil
}

// Stream emits the deterministic response word by word in OpenAI chunk
// format, then a finish chunk, a usage chunk, and the Done sentinel.
func (u *Upstream) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	reply := u.reply(req)
	id := "sim-" + req.Model

	ch := make(chan gateway.StreamChunk, 8)
	go func() {
		defer close(ch)

		send := func(c gateway.StreamChunk) bool {
			select {
			case ch <- c:
				return true
			case <-ctx.Done():
				sseutil.SendFinal(ctx, ch, gateway.StreamChunk{Err: ctx.Err()})
				return false
			}
		}

		if !send(gateway.StreamChunk{Data: sseutil.BuildDeltaChunk(id, req.Model, map[string]any{"role": "assistant"}, "")}) {
			return
		}
		words := strings.SplitAfter(reply, " ")
		for _, w := range words {
			if u.delay > 0 {
				select {
				case <-time.After(u.delay):
				case <-ctx.Done():
					sseutil.SendFinal(ctx, ch, gateway.StreamChunk{Err: ctx.Err()})
					return
				}
			}
			if !send(gateway.StreamChunk{Data: sseutil.BuildDeltaChunk(id, req.Model, map[string]any{"content": w}, "")}) {
				return
			}
		}

		if !send(gateway.StreamChunk{Data: sseutil.BuildFinishChunk(id, req.Model, "stop")}) {
			return
		}
		usage := u.usage(req, reply)
		if !send(gateway.StreamChunk{Data: sseutil.BuildUsageChunk(id, req.Model, usage), Usage: usage}) {
			return
		}
		send(gateway.StreamChunk{Done: true})
	}()
	return ch, nil
}

// reply builds the canned response text. Deterministic for a given prompt
// so cached and uncached paths can be compared in tests.
func (u *Upstream) reply(req *gateway.ChatRequest) string {
	prompt := lastUserMessage(req)
	if prompt == "" {
		return fmt.Sprintf("Simulated %s response.", req.Model)
	}
	return fmt.Sprintf("Simulated %s response to: %s", req.Model, prompt)
}

// usage estimates prompt tokens from the request and completion tokens
// from the generated reply.
func (u *Upstream) usage(req *gateway.ChatRequest, reply string) *gateway.Usage {
	prompt := u.counter.EstimateRequest(req.Model, req.Messages)
	completion := u.counter.CountText(req.Model, reply)
	return &gateway.Usage{
		PromptTokens:     prompt,
		CompletionTokens: completion,
		TotalTokens:      prompt + completion,
	}
}

func lastUserMessage(req *gateway.ChatRequest) string {
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == "user" {
			return req.Messages[i].Text()
		}
	}
	return ""
}
