package gateway

import (
	"errors"
	"net/http"
)

// Sentinel errors for the gateway domain. The HTTP surface maps these to
// status codes and client-facing detail strings in one place.
var (
	// ErrMalformedAuth: Authorization header missing or not a bearer token.
	ErrMalformedAuth = errors.New("missing or malformed authorization header")

	// ErrInvalidKey: no active API key row matches the presented hash.
	ErrInvalidKey = errors.New("invalid or disabled api key")

	// ErrInsufficientCredits: tenant balance is zero or negative at auth.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrTenantMisconfigured: user row exists but has no tenant.
	ErrTenantMisconfigured = errors.New("user has no tenant")

	// ErrModelUnsupported: unknown slug or no provider mapping.
	ErrModelUnsupported = errors.New("model not supported")

	// ErrUpstream tags provider HTTP/transport/timeout failures. It is the
	// only error kind eligible for the fallback branch.
	ErrUpstream = errors.New("upstream provider error")

	// ErrCredentialDecrypt: stored tenant credential failed to decrypt.
	// Non-fatal; the platform credential is used instead.
	ErrCredentialDecrypt = errors.New("credential decrypt failed")

	// ErrNotFound / ErrConflict are storage-level outcomes surfaced by the
	// control endpoints.
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")

	// ErrBadRequest: request body failed schema validation.
	ErrBadRequest = errors.New("bad request")
)

// HTTPStatus maps a domain error to the status code the HTTP surface
// returns and the request log records. Unknown errors are 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMalformedAuth):
		return http.StatusUnauthorized
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrInvalidKey),
		errors.Is(err, ErrInsufficientCredits),
		errors.Is(err, ErrTenantMisconfigured),
		errors.Is(err, ErrModelUnsupported),
		errors.Is(err, ErrUpstream):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
