// Package server implements the HTTP transport layer for the Himmi gateway.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/himmiroute/himmi/internal/auth"
	"github.com/himmiroute/himmi/internal/catalog"
	"github.com/himmiroute/himmi/internal/pipeline"
	"github.com/himmiroute/himmi/internal/storage"
	"github.com/himmiroute/himmi/internal/telemetry"
	"github.com/himmiroute/himmi/internal/vault"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Pipeline       *pipeline.Pipeline
	Resolver       *catalog.Resolver
	Auth           *auth.Authenticator
	Store          storage.Store
	Vault          *vault.Vault
	Metrics        *telemetry.Metrics // nil = no request metrics
	MetricsHandler http.Handler       // nil = no /metrics endpoint
	ReadyCheck     ReadyChecker       // nil = always ready (for tests)
	AdminToken     string             // "" disables the /admin surface
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Client-facing API. Auth happens inside the pipeline for completions
	// and in the handler for listing.
	r.Post("/v1/chat/completions", s.handleChatCompletion)
	r.Get("/v1/models", s.handleListModels)

	// Control surface, guarded by the shared admin token.
	if deps.AdminToken != "" {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Post("/register", s.handleRegister)
			r.Post("/keys", s.handleCreateKey)
			r.Get("/keys", s.handleListKeys)
			r.Delete("/keys/{id}", s.handleDeleteKey)
			r.Put("/credentials", s.handleUpsertCredential)
			r.Delete("/credentials", s.handleDeleteCredential)
		})
	}

	return r
}

type server struct {
	deps Deps
}
