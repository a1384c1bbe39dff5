package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/auth"
	"github.com/himmiroute/himmi/internal/billing"
	"github.com/himmiroute/himmi/internal/catalog"
	"github.com/himmiroute/himmi/internal/pipeline"
	"github.com/himmiroute/himmi/internal/testutil"
	"github.com/himmiroute/himmi/internal/upstream"
	"github.com/himmiroute/himmi/internal/vault"
)

const (
	testRawKey     = "sk-or-v1-testkey-0123456789"
	testAdminToken = "admin-secret"
)

// harness assembles a full handler over in-memory fakes.
type harness struct {
	store    *testutil.FakeStore
	cache    *testutil.FakeCache
	registry *upstream.Registry
	vault    *vault.Vault
	settled  chan billing.Settlement
	handler  http.Handler
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	store := testutil.NewFakeStore()
	a, err := auth.New(store)
	if err != nil {
		t.Fatal(err)
	}
	resolver, err := catalog.NewResolver(store)
	if err != nil {
		t.Fatal(err)
	}
	keyB64, err := vault.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	v, err := vault.New(keyB64)
	if err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store:    store,
		cache:    testutil.NewFakeCache(),
		registry: upstream.NewRegistry(),
		vault:    v,
		settled:  make(chan billing.Settlement, 4),
	}
	p := pipeline.New(pipeline.Config{
		Auth:     a,
		Cache:    h.cache,
		Resolver: resolver,
		Identity: store,
		Billing:  store,
		Vault:    v,
		Registry: h.registry,
		Settler:  billing.SettlerFunc(func(s billing.Settlement) { h.settled <- s }),
	})
	h.handler = New(Deps{
		Pipeline:   p,
		Resolver:   resolver,
		Auth:       a,
		Store:      store,
		Vault:      v,
		AdminToken: testAdminToken,
	})
	return h
}

func (h *harness) do(method, path, bearer, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func chatBody(model, prompt string) string {
	return fmt.Sprintf(`{"model":%q,"messages":[{"role":"user","content":%q}]}`, model, prompt)
}

func detailOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var e struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return e.Detail
}

func TestChatCompletion_OK(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.Seed(1.0, testRawKey)
	h.store.SeedRoute("gpt-5.2", "OpenAI", "", 2.0, 10.0)
	h.registry.Register("openai", &testutil.FakeUpstream{})

	rec := h.do(http.MethodPost, "/v1/chat/completions", testRawKey, chatBody("gpt-5.2", "hello"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rec.Code, rec.Body.String())
	}

	var resp gateway.ChatResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	requestID := rec.Header().Get("X-Request-Id")
	if requestID == "" {
		t.Fatal("missing X-Request-Id header")
	}
	if resp.ID != "chatcmpl-"+requestID {
		t.Errorf("id = %q, want chatcmpl-%s", resp.ID, requestID)
	}
	if resp.Content() != "hello" {
		t.Errorf("content = %q", resp.Content())
	}
	if !h.store.Settled(requestID) {
		t.Error("request not billed")
	}
}

func TestChatCompletion_RequestValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.Seed(1.0, testRawKey)

	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed json", `{`, "invalid request body"},
		{"missing model", `{"messages":[{"role":"user","content":"hi"}]}`, "model is required"},
		{"empty messages", `{"model":"gpt-5.2","messages":[]}`, "messages must not be empty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(http.MethodPost, "/v1/chat/completions", testRawKey, tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", rec.Code)
			}
			if d := detailOf(t, rec); !strings.Contains(d, tt.want) {
				t.Errorf("detail = %q, want %q", d, tt.want)
			}
		})
	}
}

func TestChatCompletion_AuthFailures(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.Seed(1.0, testRawKey)

	t.Run("missing header", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/v1/chat/completions", "", chatBody("gpt-5.2", "hi"))
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		rec := h.do(http.MethodPost, "/v1/chat/completions", "sk-or-v1-nope", chatBody("gpt-5.2", "hi"))
		if rec.Code != http.StatusForbidden {
			t.Errorf("status = %d, want 403", rec.Code)
		}
		if d := detailOf(t, rec); !strings.Contains(d, "invalid") {
			t.Errorf("detail = %q", d)
		}
	})
}

func TestChatCompletion_InsufficientCredits(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.Seed(0, testRawKey)

	rec := h.do(http.MethodPost, "/v1/chat/completions", testRawKey, chatBody("gpt-5.2", "hi"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if d := detailOf(t, rec); !strings.Contains(d, "insufficient credits") {
		t.Errorf("detail = %q", d)
	}
}

func TestChatCompletion_UnknownModel(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.Seed(1.0, testRawKey)

	rec := h.do(http.MethodPost, "/v1/chat/completions", testRawKey, chatBody("no-such-model", "hi"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if d := detailOf(t, rec); !strings.Contains(d, "model not supported") {
		t.Errorf("detail = %q", d)
	}
}

func TestChatCompletion_UpstreamFailure(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.Seed(1.0, testRawKey)
	h.store.SeedRoute("gpt-5.2", "OpenAI", "", 2.0, 10.0)
	h.registry.Register("openai", &testutil.FakeUpstream{
		CompleteFn: func(context.Context, *gateway.ChatRequest) (*gateway.ChatResponse, error) {
			return nil, fmt.Errorf("%w: status 503", gateway.ErrUpstream)
		},
	})

	rec := h.do(http.MethodPost, "/v1/chat/completions", testRawKey, chatBody("gpt-5.2", "hi"))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403; body = %s", rec.Code, rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.store.SeedRoute("gpt-5.2", "OpenAI", "", 2.0, 10.0)
	h.store.SeedRoute("sonar", "Perplexity", "", 1.0, 1.0)

	rec := h.do(http.MethodGet, "/v1/models", "", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp modelListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Object != "list" || len(resp.Data) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Data[0].ID != "gpt-5.2" || resp.Data[1].ID != "sonar" {
		t.Errorf("model ids = %s, %s", resp.Data[0].ID, resp.Data[1].ID)
	}
}

func TestHealthEndpoints(t *testing.T) {
	t.Parallel()

	h := newHarness(t)

	if rec := h.do(http.MethodGet, "/healthz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("healthz = %d", rec.Code)
	}
	if rec := h.do(http.MethodGet, "/readyz", "", ""); rec.Code != http.StatusOK {
		t.Errorf("readyz = %d", rec.Code)
	}
}
