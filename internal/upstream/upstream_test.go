package upstream

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"testing"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/testutil"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("openai", &testutil.FakeUpstream{ProtocolName: "openai"})
	r.Register("anthropic", &testutil.FakeUpstream{ProtocolName: "anthropic"})

	u, err := r.Get("openai")
	if err != nil {
		t.Fatal(err)
	}
	if u.Protocol() != "openai" {
		t.Errorf("Protocol() = %q, want openai", u.Protocol())
	}

	if _, err := r.Get("nope"); err == nil {
		t.Error("expected error for unregistered name")
	}

	want := []string{"anthropic", "openai"}
	if got := r.List(); !slices.Equal(got, want) {
		t.Errorf("List() = %v, want %v", got, want)
	}
}

func TestRegistry_RegisterOverwrites(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("x", &testutil.FakeUpstream{ProtocolName: "first"})
	r.Register("x", &testutil.FakeUpstream{ProtocolName: "second"})

	u, err := r.Get("x")
	if err != nil {
		t.Fatal(err)
	}
	if u.Protocol() != "second" {
		t.Errorf("Protocol() = %q, want second", u.Protocol())
	}
}

func TestAPIError(t *testing.T) {
	t.Parallel()

	err := &APIError{Provider: "groq", StatusCode: http.StatusTooManyRequests, Body: "rate limited"}

	if !errors.Is(err, gateway.ErrUpstream) {
		t.Error("APIError should unwrap to ErrUpstream")
	}
	if err.HTTPStatus() != http.StatusTooManyRequests {
		t.Errorf("HTTPStatus() = %d, want 429", err.HTTPStatus())
	}
	if !strings.Contains(err.Error(), "groq") || !strings.Contains(err.Error(), "429") {
		t.Errorf("Error() = %q, want provider and status included", err.Error())
	}
}
