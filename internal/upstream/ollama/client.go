// Package ollama implements the gateway.Upstream adapter for local Ollama
// instances via their OpenAI-compatible endpoint.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/rs/dnscache"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/upstream"
	"github.com/himmiroute/himmi/internal/upstream/sseutil"
)

const (
	defaultBaseURL = "http://localhost:11434"
	protocolName   = "ollama"
)

var _ gateway.Upstream = (*Client)(nil)

// Client is an Ollama upstream adapter.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// New creates an Ollama Client with a tuned HTTP/1.1 http.Client.
// If baseURL is empty, it defaults to "http://localhost:11434".
// If resolver is non-nil, DNS lookups are cached.
func New(apiKey, baseURL string, resolver *dnscache.Resolver) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		// Ollama is typically HTTP/1.1.
		http: &http.Client{Transport: upstream.NewTransport(resolver, false)},
	}
}

// Protocol returns the wire format identifier.
func (c *Client) Protocol() string { return protocolName }

// openaiURL returns the OpenAI-compatible API base URL for Ollama.
func (c *Client) openaiURL() string { return c.baseURL + "/v1" }

// Complete sends a non-streaming chat completion request via Ollama's
// OpenAI-compatible endpoint.
func (c *Client) Complete(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.openaiURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	c.setHeaders(httpReq, req.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: do request: %w: %w", gateway.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstream.ParseAPIError(protocolName, resp)
	}

	var out gateway.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama: decode response: %w", err)
	}
	return &out, nil
}

// Stream sends a streaming chat completion request via Ollama's
// OpenAI-compatible endpoint.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	outReq := *req
	outReq.Stream = true

	body, err := json.Marshal(&outReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.openaiURL()+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama: create request: %w", err)
	}
	c.setHeaders(httpReq, req.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ollama: do request: %w: %w", gateway.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, upstream.ParseAPIError(protocolName, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go sseutil.ReadSSEStream(ctx, protocolName, resp, ch)
	return ch, nil
}

// setHeaders applies common headers to an outbound request. Local Ollama
// usually needs no auth, but a key is forwarded as a bearer token when
// configured (or supplied per-request).
func (c *Client) setHeaders(r *http.Request, override string) {
	r.Header.Set("Content-Type", "application/json")
	key := c.apiKey
	if override != "" {
		key = override
	}
	if key != "" {
		r.Header.Set("Authorization", "Bearer "+key)
	}
}
