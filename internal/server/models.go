package server

import (
	"net/http"
	"time"
)

// handleListModels returns the catalog as an OpenAI-compatible model list.
// Listing needs no API key; the catalog is public surface.
func (s *server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Resolver.ListModels(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to list models"))
		return
	}

	now := time.Now().Unix()
	data := make([]modelEntry, len(models))
	for i, m := range models {
		owned := m.Company
		if owned == "" {
			owned = "system"
		}
		data[i] = modelEntry{
			ID:      m.Slug,
			Object:  "model",
			Created: now,
			OwnedBy: owned,
		}
	}

	writeJSON(w, http.StatusOK, modelListResponse{
		Object: "list",
		Data:   data,
	})
}

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

type modelListResponse struct {
	Object string       `json:"object"`
	Data   []modelEntry `json:"data"`
}
