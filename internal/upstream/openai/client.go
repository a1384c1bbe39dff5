// Package openai implements the gateway.Upstream adapter for the OpenAI
// chat completions protocol. Groq, Mistral, DeepSeek, xAI, and Perplexity
// speak the same wire format and reuse this adapter with their own base URL.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/upstream"
	"github.com/himmiroute/himmi/internal/upstream/sseutil"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"
	protocolName   = "openai"
)

var _ gateway.Upstream = (*Client)(nil)

// Client is an OpenAI-protocol upstream adapter.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates an OpenAI-protocol Client. name identifies the instance in
// errors (e.g. "groq"); baseURL configures the upstream and defaults to the
// OpenAI API when empty. apiKey is the platform credential; a per-request
// tenant credential on ChatRequest.APIKey takes precedence.
func New(name, baseURL, apiKey string, client *http.Client) *Client {
	if name == "" {
		name = protocolName
	}
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		name:    name,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    client,
	}
}

// Protocol returns the wire format identifier.
func (c *Client) Protocol() string { return protocolName }

// Complete sends a non-streaming chat completion request.
func (c *Client) Complete(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	c.setHeaders(httpReq, req.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w: %w", c.name, gateway.ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, upstream.ParseAPIError(c.name, resp)
	}

	var out gateway.ChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	return &out, nil
}

// Stream sends a streaming chat completion request. The raw SSE data
// payloads are forwarded as-is in StreamChunk.Data (no JSON parsing on the
// hot path). The channel is closed after sending a Done sentinel or an
// error chunk.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	// Force stream=true and request usage in the final chunk.
	outReq := *req
	outReq.Stream = true
	if outReq.StreamOptions == nil {
		outReq.StreamOptions = &gateway.StreamOptions{IncludeUsage: true}
	}

	body, err := json.Marshal(&outReq)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: create request: %w", c.name, err)
	}
	c.setHeaders(httpReq, req.APIKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s: do request: %w: %w", c.name, gateway.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, upstream.ParseAPIError(c.name, resp)
	}

	ch := make(chan gateway.StreamChunk, 8)
	go sseutil.ReadSSEStream(ctx, c.name, resp, ch)
	return ch, nil
}

// setHeaders applies content-type and bearer auth. A per-request tenant
// credential overrides the configured platform key.
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
