package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/auth"
	"github.com/himmiroute/himmi/internal/catalog"
)

// maxAdminBody is the maximum allowed admin request body size (1 MB).
const maxAdminBody = 1 << 20

// defaultSignupCredits is granted when a registration names no amount.
const defaultSignupCredits = 1.0

// decodeJSON limits body size, decodes JSON into v, and writes a 400 on error.
// Returns true if decoding succeeded.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxAdminBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

// writeAdminError logs the full error server-side and returns a sanitized
// message to the client to avoid leaking internal details.
func writeAdminError(w http.ResponseWriter, r *http.Request, err error) {
	status := gateway.HTTPStatus(err)
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		writeJSON(w, status, errorResponse("not found"))
	case errors.Is(err, gateway.ErrConflict):
		writeJSON(w, status, errorResponse("conflict"))
	default:
		slog.LogAttrs(r.Context(), slog.LevelError, "admin error",
			slog.String("error", err.Error()),
		)
		writeJSON(w, status, errorResponse("internal error"))
	}
}

// --- Registration ---

type registerRequest struct {
	Email    string  `json:"email"`
	Password string  `json:"password"`
	Credits  float64 `json:"credits,omitempty"`
}

type registerResponse struct {
	TenantID int64 `json:"tenant_id"`
	UserID   int64 `json:"user_id"`
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Email == "" || req.Password == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("email and password are required"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	credits := req.Credits
	if credits <= 0 {
		credits = defaultSignupCredits
	}
	tenant := &gateway.Tenant{Name: req.Email, Credits: credits}
	user := &gateway.User{Email: req.Email, PasswordHash: string(hash)}
	if err := s.deps.Store.CreateUserWithTenant(r.Context(), user, tenant); err != nil {
		writeAdminError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, registerResponse{
		TenantID: tenant.ID,
		UserID:   user.ID,
	})
}

// --- Keys ---

type keyCreateRequest struct {
	UserID int64  `json:"user_id"`
	Name   string `json:"name"`
}

// keyCreateResponse includes the plaintext key (shown only once).
type keyCreateResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	KeyPrefix string `json:"key_prefix"`
	Key       string `json:"key"`
}

func (s *server) handleCreateKey(w http.ResponseWriter, r *http.Request) {
	var req keyCreateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("user_id is required"))
		return
	}
	user, err := s.deps.Store.GetUser(r.Context(), req.UserID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}

	raw, hash, prefix := auth.GenerateKey()
	key := &gateway.APIKey{
		UserID:    user.ID,
		TenantID:  user.TenantID,
		Name:      req.Name,
		KeyHash:   hash,
		KeyPrefix: prefix,
	}
	if err := s.deps.Store.CreateKey(r.Context(), key); err != nil {
		writeAdminError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, keyCreateResponse{
		ID:        key.ID,
		Name:      key.Name,
		KeyPrefix: key.KeyPrefix,
		Key:       raw,
	})
}

func (s *server) handleListKeys(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("user_id is required"))
		return
	}
	keys, err := s.deps.Store.ListKeys(r.Context(), userID)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	if keys == nil {
		keys = []*gateway.APIKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": keys})
}

// handleDeleteKey soft-deletes a key. The auth cache ages the entry out
// within its TTL, so revocation takes effect within 30 seconds.
func (s *server) handleDeleteKey(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid key id"))
		return
	}
	if err := s.deps.Store.DeleteKey(r.Context(), id); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Provider credentials ---

type credentialRequest struct {
	UserID   int64  `json:"user_id"`
	Provider string `json:"provider"`
	APIKey   string `json:"api_key,omitempty"`
}

func (s *server) handleUpsertCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.Provider == "" || req.APIKey == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("user_id, provider and api_key are required"))
		return
	}
	if _, err := s.deps.Store.GetUser(r.Context(), req.UserID); err != nil {
		writeAdminError(w, r, err)
		return
	}

	ct, err := s.deps.Vault.Encrypt(req.APIKey)
	if err != nil {
		writeAdminError(w, r, err)
		return
	}
	cred := &gateway.ProviderCredential{
		UserID:     req.UserID,
		Provider:   catalog.Canonical(req.Provider),
		Ciphertext: ct,
	}
	if err := s.deps.Store.UpsertCredential(r.Context(), cred); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	var req credentialRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.UserID == 0 || req.Provider == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("user_id and provider are required"))
		return
	}
	if err := s.deps.Store.DeleteCredential(r.Context(), req.UserID, catalog.Canonical(req.Provider)); err != nil {
		writeAdminError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
