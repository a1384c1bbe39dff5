// Package gateway defines domain types and interfaces for the Himmi
// inference gateway. This package has no project imports -- it is the
// dependency root.
package gateway

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// --- Upstream adapters ---

// Upstream is the interface implemented by all LLM provider protocol
// adapters (OpenAI-compatible, Anthropic messages, Gemini generateContent,
// Ollama, simulator).
type Upstream interface {
	// Protocol returns the protocol family identifier (e.g. "openai").
	Protocol() string
	// Complete sends a non-streaming chat completion request.
	Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error)
	// Stream sends a streaming chat completion request. The returned
	// channel is closed after the final chunk; a chunk with Err set
	// terminates the stream early.
	Stream(ctx context.Context, req *ChatRequest) (<-chan StreamChunk, error)
}

// ChatRequest represents an OpenAI-compatible chat completion request.
// APIKey, when non-empty, is a tenant-supplied upstream credential that
// overrides the adapter's configured platform key for this call only.
type ChatRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      *float64        `json:"temperature,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	N                int             `json:"n,omitempty"`
	Stream           bool            `json:"stream,omitempty"`
	StreamOptions    *StreamOptions  `json:"stream_options,omitempty"`
	Stop             json.RawMessage `json:"stop,omitempty"`
	MaxTokens        *int            `json:"max_tokens,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	Seed             *int            `json:"seed,omitempty"`
	User             string          `json:"user,omitempty"`
	Tools            json.RawMessage `json:"tools,omitempty"`
	ToolChoice       json.RawMessage `json:"tool_choice,omitempty"`
	ResponseFormat   json.RawMessage `json:"response_format,omitempty"`

	APIKey string `json:"-"`
}

// StreamOptions controls streaming behavior.
type StreamOptions struct {
	IncludeUsage bool `json:"include_usage,omitempty"`
}

// Message represents a chat message.
type Message struct {
	Role       string          `json:"role"`
	Content    json.RawMessage `json:"content"`
	Name       string          `json:"name,omitempty"`
	ToolCalls  json.RawMessage `json:"tool_calls,omitempty"`
	ToolCallID string          `json:"tool_call_id,omitempty"`
}

// Text returns the message content as plain text. Structured content
// (content-part arrays) is returned as its raw JSON.
func (m Message) Text() string {
	var s string
	if err := json.Unmarshal(m.Content, &s); err == nil {
		return s
	}
	return string(m.Content)
}

// ChatResponse represents an OpenAI-compatible chat completion response.
type ChatResponse struct {
	ID                string   `json:"id"`
	Object            string   `json:"object"`
	Created           int64    `json:"created"`
	Model             string   `json:"model"`
	Choices           []Choice `json:"choices"`
	Usage             *Usage   `json:"usage,omitempty"`
	SystemFingerprint string   `json:"system_fingerprint,omitempty"`
}

// Content returns the text of the first choice, or "".
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Text()
}

// Choice represents a single completion choice.
type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

// Usage represents token usage statistics.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// StreamChunk represents a single chunk in a streaming response.
type StreamChunk struct {
	Data  []byte // raw SSE data payload, forwarded to the client as-is
	Usage *Usage // non-nil when the chunk carries a usage object
	Done  bool
	Err   error
}

// --- Identity and billing entities ---

// Tenant is the credit-bearing organization; the billing subject.
// Credits are USD. Deductions happen only inside the billing transaction
// under a row-level lock.
type Tenant struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Credits   float64   `json:"credits"`
	CreatedAt time.Time `json:"created_at"`
}

// User is a principal bound to exactly one tenant.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	TenantID     int64     `json:"tenant_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// APIKey is the bearer credential presented on every request. The raw
// secret is never persisted; only its SHA-256 hash and a 12-character
// display prefix are stored.
type APIKey struct {
	ID               int64      `json:"id"`
	UserID           int64      `json:"user_id"`
	TenantID         int64      `json:"tenant_id"` // denormalized for fast lookup
	Name             string     `json:"name"`
	KeyHash          string     `json:"-"`
	KeyPrefix        string     `json:"key_prefix"`
	Disabled         bool       `json:"disabled"`
	Deleted          bool       `json:"deleted"`
	CreditsConsumed  float64    `json:"credits_consumed"`
	LastUsedAt       *time.Time `json:"last_used_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// ProviderCredential is a tenant-supplied upstream API key, stored
// encrypted. At most one entry exists per (user, provider).
type ProviderCredential struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"user_id"`
	Provider   string    `json:"provider"` // canonical name, e.g. "gemini"
	Ciphertext string    `json:"-"`        // base64 AES-GCM
	CreatedAt  time.Time `json:"created_at"`
}

// --- Catalog entities ---

// Provider is an upstream API surface in the catalog.
type Provider struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"` // display name, e.g. "Google AI"
	BaseURL string `json:"base_url"`
}

// Model is a catalog entry. The slug is the sole routing key a client
// may name.
type Model struct {
	ID            int64  `json:"id"`
	Slug          string `json:"slug"`
	Name          string `json:"name"`
	Company       string `json:"company"`
	ContextLength int    `json:"context_length"`
}

// Mapping is a priced edge between a model and a provider. Costs are
// USD per one million tokens.
type Mapping struct {
	ID         int64   `json:"id"`
	ModelID    int64   `json:"model_id"`
	ProviderID int64   `json:"provider_id"`
	InputCost  float64 `json:"input_cost"`
	OutputCost float64 `json:"output_cost"`
}

// --- Telemetry entities ---

// RequestLog is an append-only telemetry row, one per completed request.
type RequestLog struct {
	ID               int64     `json:"id"`
	RequestID        string    `json:"request_id"`
	UserID           int64     `json:"user_id"`
	TenantID         int64     `json:"tenant_id"`
	APIKeyID         int64     `json:"api_key_id"`
	ModelSlug        string    `json:"model_slug"`
	Provider         string    `json:"provider"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	Cost             float64   `json:"cost"`
	LatencyMs        int       `json:"latency_ms"`
	StatusCode       int       `json:"status_code"`
	Cached           bool      `json:"cached"`
	CreatedAt        time.Time `json:"created_at"`
}

// EvaluationPair records a shadow-mode comparison: the primary response
// actually returned to the client next to the shadow model's response.
type EvaluationPair struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	UserID          int64     `json:"user_id"`
	Prompt          string    `json:"prompt"`
	PrimaryModel    string    `json:"primary_model"`
	PrimaryResponse string    `json:"primary_response"`
	ShadowModel     string    `json:"shadow_model"`
	ShadowResponse  string    `json:"shadow_response"`
	ShadowError     string    `json:"shadow_error,omitempty"`
	Preference      string    `json:"preference,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// --- Context keys ---

type contextKey int

const ctxKeyMeta contextKey = 0

// requestMeta bundles per-request values into a single context allocation.
// The Identity field is set later by the chat handler via mutation of the
// same pointer, avoiding a second context.WithValue + Request.WithContext.
type requestMeta struct {
	RequestID string
	Identity  *Identity
}

// Identity is the authenticated caller resolved from an API key.
type Identity struct {
	UserID    int64
	APIKeyID  int64
	TenantID  int64
	KeyPrefix string
}

// metaFromContext returns the requestMeta stored in ctx, or nil.
func metaFromContext(ctx context.Context) *requestMeta {
	m, _ := ctx.Value(ctxKeyMeta).(*requestMeta)
	return m
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) *Identity {
	if m := metaFromContext(ctx); m != nil {
		return m.Identity
	}
	return nil
}

// ContextWithIdentity stores the identity in the existing requestMeta if
// present, avoiding a new context.WithValue allocation. Falls back to
// creating new metadata if none exists (e.g., in tests).
func ContextWithIdentity(ctx context.Context, id *Identity) context.Context {
	if m := metaFromContext(ctx); m != nil {
		m.Identity = id
		return ctx
	}
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{Identity: id})
}

// RequestIDFromContext extracts the request ID from context.
func RequestIDFromContext(ctx context.Context) string {
	if m := metaFromContext(ctx); m != nil {
		return m.RequestID
	}
	return ""
}

// ContextWithRequestID returns a context carrying the given request ID.
func ContextWithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyMeta, &requestMeta{RequestID: id})
}

// --- Shared constants and helpers ---

// APIKeyPrefix is the prefix for all Himmi API keys. The first twelve
// characters of a raw key (this prefix plus three secret characters) are
// stored for display.
const APIKeyPrefix = "sk-or-v1-"

// KeyPrefixLen is the number of leading raw-key characters kept for display.
const KeyPrefixLen = 12

// HashKey returns the hex-encoded SHA-256 hash of a raw API key.
func HashKey(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}
