// Package gemini implements the gateway.Upstream adapter for the Google
// Gemini generateContent API.
package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/upstream"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	protocolName   = "gemini"
)

var _ gateway.Upstream = (*Client)(nil)

// Client is a Gemini upstream adapter.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	// hosted suppresses the api-key header for Vertex AI deployments,
	// where OAuth lives in the transport chain.
	hosted bool
}

// New creates a Gemini Client. If baseURL is empty, it defaults to the
// Gemini API endpoint. apiKey is the platform credential; a per-request
// tenant credential overrides it.
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

// NewVertex creates a Gemini Client for a Vertex AI endpoint. The provided
// client must carry OAuth token injection in its transport chain; API key
// headers are not sent and per-request credential overrides are ignored.
func NewVertex(name, baseURL string, client *http.Client) *Client {
	c := New(name, baseURL, "", client)
	c.hosted = true
	return c
}

// Protocol returns the wire format identifier.
func (c *Client) Protocol() string { return protocolName }

// Complete sends a non-streaming generateContent request and translates
// the response to the OpenAI chat completion shape.
func (c *Client) Complete(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	body, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	u := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
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

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.name, err)
	}

	return translateResponse(respBody, req.Model), nil
}

// Stream sends a streaming generateContent request. Gemini SSE chunks are
// translated to OpenAI-format chunks on the fly.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	body, err := json.Marshal(translateRequest(req))
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	u := fmt.Sprintf("%s/models/%s:streamGenerateContent?alt=sse", c.baseURL, req.Model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
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
	go readStream(ctx, resp.Body, ch, req.Model)
	return ch, nil
}

// setHeaders applies content-type and api-key auth. A per-request tenant
// credential overrides the configured platform key. Vertex deployments
// authenticate in the transport chain instead.
func (c *Client) setHeaders(r *http.Request, override string) {
	r.Header.Set("Content-Type", "application/json")
	if c.hosted {
		return
	}
	key := c.apiKey
	if override != "" {
		key = override
	}
	if key != "" {
		r.Header.Set("x-goog-api-key", key)
	}
}
