package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/auth"
	"github.com/himmiroute/himmi/internal/billing"
	"github.com/himmiroute/himmi/internal/catalog"
	"github.com/himmiroute/himmi/internal/circuitbreaker"
	"github.com/himmiroute/himmi/internal/semcache"
	"github.com/himmiroute/himmi/internal/storage"
	"github.com/himmiroute/himmi/internal/telemetry"
	"github.com/himmiroute/himmi/internal/upstream"
	"github.com/himmiroute/himmi/internal/upstream/sseutil"
	"github.com/himmiroute/himmi/internal/vault"
)

// llmTimeout bounds a non-streaming upstream call. Streaming calls are
// bounded by the client connection instead.
const llmTimeout = 30 * time.Second

// Recorder accepts completed request log rows. Satisfied by
// worker.LogRecorder.
type Recorder interface {
	Record(gateway.RequestLog)
}

// EvaluationSink accepts shadow-mode comparison pairs. Satisfied by
// worker.EvaluationWriter.
type EvaluationSink interface {
	RecordPair(gateway.EvaluationPair)
}

// Config carries the pipeline's collaborators. Breakers, Recorder,
// Evaluations, Metrics, and Vault may be nil; Cache defaults to the
// permanent miss.
type Config struct {
	Auth        *auth.Authenticator
	Cache       semcache.Cache
	Resolver    *catalog.Resolver
	Identity    storage.IdentityStore
	Billing     storage.BillingStore
	Vault       *vault.Vault
	Registry    *upstream.Registry
	Settler     billing.Settler
	Breakers    *circuitbreaker.Registry
	Recorder    Recorder
	Evaluations EvaluationSink
	Metrics     *telemetry.Metrics
	ShadowModel string
}

// Pipeline is the request processing graph:
//
//	init -> auth -> cache_lookup -+-> route -> llm -+-> billing -> cache_store -> log
//	                              |                 +-> fallback -^
//	                              +-> billing (hit)
type Pipeline struct {
	cfg    Config
	engine *Engine
}

// New wires the stage graph.
func New(cfg Config) *Pipeline {
	if cfg.Cache == nil {
		cfg.Cache = semcache.Disabled{}
	}
	p := &Pipeline{cfg: cfg}

	e := newEngine("init")
	e.stage("init", p.stageInit, "auth")
	e.stage("auth", p.stageAuth, "cache_lookup")
	e.conditional("cache_lookup", p.stageCacheLookup, func(s State) string {
		if s.Cached {
			return "billing"
		}
		return "route"
	})
	e.stage("route", p.stageRoute, "llm")
	e.conditional("llm", p.stageLLM, func(s State) string {
		switch {
		case s.Err == nil:
			return "billing"
		case errors.Is(s.Err, gateway.ErrUpstream):
			return "fallback"
		default:
			return "log"
		}
	})
	e.stage("fallback", p.stageFallback, "billing")
	e.stage("billing", p.stageBilling, "cache_store")
	e.stage("cache_store", p.stageCacheStore, "log")
	e.stage("log", p.stageLog, Terminal)
	p.engine = e
	return p
}

// Run processes one request through the graph.
func (p *Pipeline) Run(ctx context.Context, s State) (State, error) {
	return p.engine.Run(ctx, s)
}

// --- Stages ---

func (p *Pipeline) stageInit(ctx context.Context, s State) State {
	if s.Err != nil {
		return s
	}
	s.Start = time.Now()
	if s.RequestID == "" {
		s.RequestID = gateway.RequestIDFromContext(ctx)
	}
	if s.Req != nil {
		s.Stream = s.Req.Stream
		s.Prompt = lastUserPrompt(s.Req.Messages)
	}
	return s
}

func (p *Pipeline) stageAuth(ctx context.Context, s State) State {
	if s.Err != nil {
		return s
	}
	id, err := p.cfg.Auth.Authenticate(ctx, s.RawKey)
	if err != nil {
		s.Err = err
		return s
	}
	s.Identity = id
	return s
}

func (p *Pipeline) stageCacheLookup(ctx context.Context, s State) State {
	if s.Err != nil || s.Prompt == "" {
		return s
	}
	resp, ok, err := p.cfg.Cache.Lookup(ctx, s.Prompt)
	if err != nil {
		// Cache trouble never fails a request.
		slog.LogAttrs(ctx, slog.LevelWarn, "semantic cache lookup failed",
			slog.String("request_id", s.RequestID),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	if !ok {
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.CacheMisses.Inc()
		}
		return s
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.CacheHits.Inc()
	}
	s.Cached = true
	if s.Stream {
		s.Chunks = replayStream(s.RequestID, s.Req.Model, resp)
	} else {
		s.Resp = cachedResponse(s.RequestID, s.Req.Model, resp)
	}
	return s
}

func (p *Pipeline) stageRoute(ctx context.Context, s State) State {
	if s.Err != nil {
		return s
	}
	route, err := p.cfg.Resolver.Resolve(ctx, s.Req.Model)
	if err != nil {
		s.Err = err
		return s
	}
	s.Route = route
	s.Provider = catalog.Canonical(route.Provider.Name)
	s.UpstreamKey = p.tenantKey(ctx, s.Identity.UserID, s.Provider)
	return s
}

func (p *Pipeline) stageLLM(ctx context.Context, s State) State {
	if s.Err != nil {
		return s
	}
	if p.cfg.ShadowModel == "" || s.Stream || p.cfg.ShadowModel == s.Req.Model {
		return p.invoke(ctx, s)
	}

	// Shadow mode: the comparison model runs alongside the primary; its
	// outcome never affects the client response.
	g, gctx := errgroup.WithContext(ctx)
	shadow := &ShadowResult{Model: p.cfg.ShadowModel}
	g.Go(func() error {
		shadow.Response, shadow.Err = p.runShadow(gctx, s.Req)
		return nil
	})
	s = p.invoke(ctx, s)
	_ = g.Wait()
	s.Shadow = shadow
	return s
}

// stageFallback runs only on upstream failures: one retry on the
// next-cheapest provider for the same slug, then give up.
func (p *Pipeline) stageFallback(ctx context.Context, s State) State {
	if !errors.Is(s.Err, gateway.ErrUpstream) {
		return s
	}
	failed := s.Route.Provider.Name
	route, ok, err := p.cfg.Resolver.NextBest(ctx, s.Req.Model, failed)
	if err != nil || !ok {
		p.countFallback("exhausted")
		slog.LogAttrs(ctx, slog.LevelWarn, "no fallback provider available",
			slog.String("request_id", s.RequestID),
			slog.String("model", s.Req.Model),
			slog.String("failed_provider", failed),
		)
		return s
	}

	slog.LogAttrs(ctx, slog.LevelInfo, "retrying on fallback provider",
		slog.String("request_id", s.RequestID),
		slog.String("model", s.Req.Model),
		slog.String("failed_provider", failed),
		slog.String("fallback_provider", route.Provider.Name),
	)

	s.Err = nil
	s.Route = route
	s.Provider = catalog.Canonical(route.Provider.Name)
	s.UpstreamKey = p.tenantKey(ctx, s.Identity.UserID, s.Provider)
	s = p.invoke(ctx, s)
	if s.Err != nil {
		p.countFallback("failed")
		return s
	}
	s.FellBack = true
	p.countFallback("recovered")
	return s
}

func (p *Pipeline) stageBilling(ctx context.Context, s State) State {
	if s.Err != nil {
		return s
	}
	// Cache hits consumed no upstream tokens and bill nothing.
	if s.Cached {
		return s
	}

	charge := s.charge()
	if s.Stream {
		// Usage arrives in the terminal chunk; meter the stream and settle
		// asynchronously when it ends.
		s.Meter = billing.NewStreamMeter(ctx, s.Chunks, charge, p.cfg.Settler)
		s.Chunks = s.Meter.Chunks()
		return s
	}

	u := s.Usage()
	charge.PromptTokens = u.PromptTokens
	charge.CompletionTokens = u.CompletionTokens
	applied, err := p.cfg.Billing.ApplyCharge(ctx, charge)
	if err != nil {
		// The response is already in hand; losing the charge beats failing
		// the request.
		slog.LogAttrs(ctx, slog.LevelError, "billing failed",
			slog.String("request_id", s.RequestID),
			slog.String("error", err.Error()),
		)
		return s
	}
	if applied && p.cfg.Metrics != nil {
		p.cfg.Metrics.CreditsCharged.WithLabelValues(s.Provider).Add(charge.Cost())
		p.cfg.Metrics.TokensProcessed.WithLabelValues(s.Route.Slug, "prompt").Add(float64(u.PromptTokens))
		p.cfg.Metrics.TokensProcessed.WithLabelValues(s.Route.Slug, "completion").Add(float64(u.CompletionTokens))
	}
	return s
}

func (p *Pipeline) stageCacheStore(ctx context.Context, s State) State {
	if s.Err != nil {
		return s
	}
	if s.Cached || s.Stream || s.Resp == nil || s.Prompt == "" {
		return s
	}
	content := s.Resp.Content()
	if content == "" {
		return s
	}
	if err := p.cfg.Cache.Store(ctx, s.Prompt, content); err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "semantic cache store failed",
			slog.String("request_id", s.RequestID),
			slog.String("error", err.Error()),
		)
	}
	return s
}

// stageLog always runs, success or failure, but only authenticated
// requests leave a row: a rejected key has no identity to attribute the
// log to. Streamed requests insert with zero usage; the settlement worker
// backfills tokens and cost after the stream ends.
func (p *Pipeline) stageLog(ctx context.Context, s State) State {
	if s.Identity == nil {
		return s
	}
	rl := gateway.RequestLog{
		RequestID:  s.RequestID,
		Provider:   s.Provider,
		LatencyMs:  int(time.Since(s.Start).Milliseconds()),
		StatusCode: gateway.HTTPStatus(s.Err),
		Cached:     s.Cached,
	}
	if s.Req != nil {
		rl.ModelSlug = s.Req.Model
	}
	rl.UserID = s.Identity.UserID
	rl.TenantID = s.Identity.TenantID
	rl.APIKeyID = s.Identity.APIKeyID
	if !s.Stream && !s.Cached && s.Err == nil {
		u := s.Usage()
		rl.PromptTokens = u.PromptTokens
		rl.CompletionTokens = u.CompletionTokens
		charge := s.charge()
		charge.PromptTokens = u.PromptTokens
		charge.CompletionTokens = u.CompletionTokens
		rl.Cost = charge.Cost()
	}
	if p.cfg.Recorder != nil {
		p.cfg.Recorder.Record(rl)
	}

	if s.Shadow != nil && p.cfg.Evaluations != nil {
		pair := gateway.EvaluationPair{
			RequestID:      s.RequestID,
			UserID:         rl.UserID,
			Prompt:         s.Prompt,
			PrimaryModel:   rl.ModelSlug,
			ShadowModel:    s.Shadow.Model,
			ShadowResponse: s.Shadow.Response,
		}
		if s.Resp != nil {
			pair.PrimaryResponse = s.Resp.Content()
		}
		if s.Shadow.Err != nil {
			pair.ShadowError = s.Shadow.Err.Error()
		}
		p.cfg.Evaluations.RecordPair(pair)
	}
	return s
}

// --- Helpers ---

// invoke dispatches the request to the routed adapter and fills Resp or
// Chunks. The tenant credential, when present, overrides the platform
// key. An open circuit breaker fails the call before it leaves the
// process; the error unwraps to ErrUpstream so fallback routing applies.
func (p *Pipeline) invoke(ctx context.Context, s State) State {
	adapter, err := p.cfg.Registry.Get(s.Provider)
	if err != nil {
		// A routed provider with no adapter is an upstream failure, not a
		// catalog miss: fallback can still serve from the next mapping.
		s.Err = fmt.Errorf("%w: no adapter for provider %s", gateway.ErrUpstream, s.Provider)
		return s
	}

	var breaker *circuitbreaker.Breaker
	if p.cfg.Breakers != nil {
		breaker = p.cfg.Breakers.For(s.Provider)
		if !breaker.Allow() {
			s.Err = fmt.Errorf("%w: %s: circuit open", gateway.ErrUpstream, s.Provider)
			return s
		}
	}

	req := *s.Req
	req.APIKey = s.UpstreamKey

	start := time.Now()
	if s.Stream {
		ch, err := adapter.Stream(ctx, &req)
		p.observeUpstream(s, time.Since(start), err)
		p.recordOutcome(breaker, err)
		if err != nil {
			s.Err = err
			return s
		}
		s.Chunks = ch
		return s
	}

	cctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()
	resp, err := adapter.Complete(cctx, &req)
	p.observeUpstream(s, time.Since(start), err)
	p.recordOutcome(breaker, err)
	if err != nil {
		s.Err = err
		return s
	}
	s.Resp = resp
	return s
}

// recordOutcome feeds the call result into the provider's breaker.
func (p *Pipeline) recordOutcome(b *circuitbreaker.Breaker, err error) {
	if b == nil {
		return
	}
	if err == nil {
		b.RecordSuccess()
		return
	}
	b.RecordError(circuitbreaker.Weight(err))
}

// runShadow resolves and calls the shadow model, always non-streaming.
func (p *Pipeline) runShadow(ctx context.Context, req *gateway.ChatRequest) (string, error) {
	route, err := p.cfg.Resolver.Resolve(ctx, p.cfg.ShadowModel)
	if err != nil {
		return "", err
	}
	adapter, err := p.cfg.Registry.Get(catalog.Canonical(route.Provider.Name))
	if err != nil {
		return "", err
	}

	sreq := *req
	sreq.Model = p.cfg.ShadowModel
	sreq.Stream = false
	sreq.StreamOptions = nil
	sreq.APIKey = ""

	cctx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()
	resp, err := adapter.Complete(cctx, &sreq)
	if err != nil {
		return "", err
	}
	return resp.Content(), nil
}

// tenantKey loads and decrypts the caller's credential for provider.
// Returns "" (platform key applies) when none exists or it is unusable.
func (p *Pipeline) tenantKey(ctx context.Context, userID int64, provider string) string {
	if p.cfg.Identity == nil || p.cfg.Vault == nil {
		return ""
	}
	cred, err := p.cfg.Identity.GetCredential(ctx, userID, provider)
	if err != nil {
		if !errors.Is(err, gateway.ErrNotFound) {
			slog.LogAttrs(ctx, slog.LevelWarn, "credential lookup failed",
				slog.String("provider", provider),
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	key, err := p.cfg.Vault.Decrypt(cred.Ciphertext)
	if err != nil {
		slog.LogAttrs(ctx, slog.LevelWarn, "tenant credential unusable, using platform key",
			slog.String("provider", provider),
			slog.String("error", gateway.ErrCredentialDecrypt.Error()),
		)
		return ""
	}
	return key
}

func (p *Pipeline) observeUpstream(s State, d time.Duration, err error) {
	if p.cfg.Metrics == nil {
		return
	}
	p.cfg.Metrics.UpstreamDuration.WithLabelValues(s.Provider, s.Route.Slug).Observe(d.Seconds())
	if err != nil {
		p.cfg.Metrics.UpstreamErrors.WithLabelValues(s.Provider).Inc()
	}
}

func (p *Pipeline) countFallback(outcome string) {
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.FallbacksTotal.WithLabelValues(outcome).Inc()
	}
}

// lastUserPrompt returns the text of the last user message.
func lastUserPrompt(msgs []gateway.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			return msgs[i].Text()
		}
	}
	return ""
}

// cachedResponse replays a cache hit as a synthetic completion with zero
// usage.
func cachedResponse(requestID, model, content string) *gateway.ChatResponse {
	raw, _ := json.Marshal(content)
	return &gateway.ChatResponse{
		ID:      "chatcmpl-" + requestID,
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   model,
		Choices: []gateway.Choice{{
			Message:      gateway.Message{Role: "assistant", Content: raw},
			FinishReason: "stop",
		}},
		Usage: &gateway.Usage{},
	}
}

// replayStream replays a cache hit as a minimal chunk stream.
func replayStream(requestID, model, content string) <-chan gateway.StreamChunk {
	id := "chatcmpl-" + requestID
	ch := make(chan gateway.StreamChunk, 3)
	ch <- gateway.StreamChunk{Data: sseutil.BuildDeltaChunk(id, model, map[string]any{
		"role":    "assistant",
		"content": content,
	}, "")}
	ch <- gateway.StreamChunk{Data: sseutil.BuildFinishChunk(id, model, "stop")}
	ch <- gateway.StreamChunk{Done: true}
	close(ch)
	return ch
}
