// Package pipeline implements the request processing engine: a small
// directed graph of named stages that every chat completion walks from
// authentication to request logging. Stages communicate exclusively
// through the State value; request-level failures travel in State.Err and
// short-circuit the remaining stages, while engine-level failures (a
// miswired graph) surface as Run errors.
package pipeline

import (
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/billing"
	"github.com/himmiroute/himmi/internal/storage"
)

// State is the single value threaded through the stage graph. Stages
// receive it by value and return the updated copy; the engine adopts
// whatever a stage returns.
type State struct {
	// RequestID is the UUIDv7 assigned by middleware; it keys billing
	// idempotency and the request log row.
	RequestID string

	// Req is the validated client request. Stream mirrors Req.Stream.
	Req    *gateway.ChatRequest
	Stream bool

	// RawKey is the bearer token extracted by the HTTP surface; consumed
	// by the auth stage and never logged.
	RawKey string

	// Identity is set by the auth stage.
	Identity *gateway.Identity

	// Prompt is the text of the last user message, the semantic cache key
	// and the shadow-evaluation prompt.
	Prompt string

	// Route and Provider are set by the route stage. Provider is the
	// canonical name used for registry dispatch ("gemini", not "Google AI").
	Route    storage.ModelRoute
	Provider string

	// UpstreamKey is the decrypted tenant credential for the route's
	// provider, or empty when the platform credential applies.
	UpstreamKey string

	// Resp holds the non-streaming response (upstream, fallback, or a
	// cache hit replayed as a synthetic response).
	Resp *gateway.ChatResponse

	// Chunks is the streaming channel handed to the HTTP surface. After
	// the billing stage it is the meter's channel.
	Chunks <-chan gateway.StreamChunk
	Meter  *billing.StreamMeter

	// Cached marks a semantic cache hit: usage stays zero and billing
	// mutates nothing.
	Cached bool

	// FellBack marks that the fallback stage recovered the request on an
	// alternate provider.
	FellBack bool

	// Shadow holds the shadow model's outcome when shadow mode ran.
	Shadow *ShadowResult

	// Start anchors the latency measurement.
	Start time.Time

	// Err is the request-level failure, if any. Stages guard on it.
	Err error
}

// ShadowResult is the shadow model's side of an evaluation pair.
type ShadowResult struct {
	Model    string
	Response string
	Err      error
}

// Usage returns the response usage, or zeros when absent (cache hits,
// failed requests).
func (s *State) Usage() gateway.Usage {
	if s.Resp != nil && s.Resp.Usage != nil {
		return *s.Resp.Usage
	}
	if s.Meter != nil {
		return s.Meter.Usage()
	}
	return gateway.Usage{}
}

// charge builds the Charge for this request from the route's unit costs.
// Token counts are zero until usage is known.
func (s *State) charge() storage.Charge {
	c := storage.Charge{
		RequestID:  s.RequestID,
		InputCost:  s.Route.InputCost,
		OutputCost: s.Route.OutputCost,
	}
	if s.Identity != nil {
		c.TenantID = s.Identity.TenantID
		c.APIKeyID = s.Identity.APIKeyID
	}
	return c
}
