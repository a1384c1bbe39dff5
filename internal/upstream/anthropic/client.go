// Package anthropic implements the gateway.Upstream adapter for the
// Anthropic Messages API, both direct and hosted on Amazon Bedrock.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/upstream"
)

const (
	defaultBaseURL   = "https://api.anthropic.com/v1"
	protocolName     = "anthropic"
	anthropicVersion = "2023-06-01"
	bedrockVersion   = "bedrock-2023-05-31"
)

var _ gateway.Upstream = (*Client)(nil)

// Client is an Anthropic upstream adapter.
type Client struct {
	name    string
	baseURL string
	apiKey  string
	http    *http.Client
	hosting string // "", "bedrock"
}

// New creates an Anthropic Client for direct API access. If baseURL is
// empty, it defaults to the Anthropic API. apiKey is the platform
// credential; a per-request tenant credential overrides it.
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

// NewBedrock creates an Anthropic Client hosted on Amazon Bedrock. The
// provided client must carry SigV4 signing in its transport chain; API key
// headers are not sent and per-request credential overrides are ignored.
func NewBedrock(name, baseURL string, client *http.Client) *Client {
	c := New(name, baseURL, "", client)
	c.hosting = "bedrock"
	return c
}

// Protocol returns the wire format identifier.
func (c *Client) Protocol() string { return protocolName }

// Complete sends a non-streaming messages request and translates the
// response to the OpenAI chat completion shape.
func (c *Client) Complete(ctx context.Context, req *gateway.ChatRequest) (*gateway.ChatResponse, error) {
	aReq := translateRequest(req)
	aReq.Stream = false

	body, err := c.marshalForHosting(aReq)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.messagesURL(req.Model), bytes.NewReader(body))
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

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1MB limit
	if err != nil {
		return nil, fmt.Errorf("%s: read response: %w", c.name, err)
	}

	return translateResponse(respBody), nil
}

// Stream sends a streaming messages request. Anthropic SSE events (or
// Bedrock binary event stream frames) are translated to OpenAI-format
// chunks on the fly.
func (c *Client) Stream(ctx context.Context, req *gateway.ChatRequest) (<-chan gateway.StreamChunk, error) {
	aReq := translateRequest(req)
	aReq.Stream = true

	body, err := c.marshalForHosting(aReq)
	if err != nil {
		return nil, fmt.Errorf("%s: marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.streamingURL(req.Model), bytes.NewReader(body))
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
	if c.hosting == "bedrock" {
		go readBedrockStream(ctx, resp.Body, ch)
	} else {
		go readStream(ctx, resp.Body, ch)
	}
	return ch, nil
}

// setHeaders applies Anthropic-specific headers. Direct mode authenticates
// with x-api-key (per-request tenant credential wins); Bedrock signing
// lives in the transport chain and anthropic_version moves into the body.
func (c *Client) setHeaders(r *http.Request, override string) {
	r.Header.Set("content-type", "application/json")
	if c.hosting == "bedrock" {
		return
	}
	r.Header.Set("anthropic-version", anthropicVersion)
	key := c.apiKey
	if override != "" {
		key = override
	}
	if key != "" {
		r.Header.Set("x-api-key", key)
	}
}

// messagesURL returns the messages endpoint URL. Bedrock uses the model
// invoke endpoint with the model in the path.
func (c *Client) messagesURL(model string) string {
	if c.hosting == "bedrock" {
		return fmt.Sprintf("%s/model/%s/invoke", c.baseURL, url.PathEscape(model))
	}
	return c.baseURL + "/messages"
}

// streamingURL returns the streaming endpoint URL. Bedrock has a separate
// invoke-with-response-stream endpoint.
func (c *Client) streamingURL(model string) string {
	if c.hosting == "bedrock" {
		return fmt.Sprintf("%s/model/%s/invoke-with-response-stream", c.baseURL, url.PathEscape(model))
	}
	return c.messagesURL(model)
}

// marshalForHosting serializes an anthropicRequest. For Bedrock, it adds
// anthropic_version to the body and removes the model field (the model is
// in the URL).
func (c *Client) marshalForHosting(aReq *anthropicRequest) ([]byte, error) {
	if c.hosting != "bedrock" {
		return json.Marshal(aReq)
	}
	type hostedRequest struct {
		AnthropicVersion string          `json:"anthropic_version"`
		MaxTokens        int             `json:"max_tokens"`
		Messages         []anthropicMsg  `json:"messages"`
		System           json.RawMessage `json:"system,omitempty"`
		Temperature      *float64        `json:"temperature,omitempty"`
		TopP             *float64        `json:"top_p,omitempty"`
		Stream           bool            `json:"stream,omitempty"`
		Tools            json.RawMessage `json:"tools,omitempty"`
		StopSeqs         json.RawMessage `json:"stop_sequences,omitempty"`
	}
	return json.Marshal(hostedRequest{
		AnthropicVersion: bedrockVersion,
		MaxTokens:        aReq.MaxTokens,
		Messages:         aReq.Messages,
		System:           aReq.System,
		Temperature:      aReq.Temperature,
		TopP:             aReq.TopP,
		Stream:           aReq.Stream,
		Tools:            aReq.Tools,
		StopSeqs:         aReq.StopSeqs,
	})
}
