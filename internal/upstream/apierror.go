package upstream

import (
	"fmt"
	"io"
	"net/http"

	gateway "github.com/himmiroute/himmi/internal"
)

// APIError represents an error response from an upstream LLM provider.
// It unwraps to gateway.ErrUpstream so the fallback branch can match it
// with errors.Is regardless of which adapter produced it.
type APIError struct {
	Provider   string
	StatusCode int
	Body       string
}

// Error returns a formatted error string including provider, status, and body.
func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Unwrap marks every upstream API failure as fallback-eligible.
func (e *APIError) Unwrap() error { return gateway.ErrUpstream }

// HTTPStatus returns the HTTP status code for failover decisions.
func (e *APIError) HTTPStatus() int { return e.StatusCode }

// ParseAPIError reads up to 4KB from the response body and returns an APIError.
func ParseAPIError(provider string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	return &APIError{Provider: provider, StatusCode: resp.StatusCode, Body: string(body)}
}
