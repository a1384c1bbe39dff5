package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	gateway "github.com/himmiroute/himmi/internal"
	"github.com/himmiroute/himmi/internal/auth"
	"github.com/himmiroute/himmi/internal/pipeline"
)

// maxChatBody caps the completion request body (2 MB).
const maxChatBody = 2 << 20

func (s *server) handleChatCompletion(w http.ResponseWriter, r *http.Request) {
	rawKey, err := auth.ParseBearer(r.Header.Get("Authorization"))
	if err != nil {
		writeError(w, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxChatBody)
	var req gateway.ChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body: "+err.Error()))
		return
	}
	if req.Model == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("model is required"))
		return
	}
	if len(req.Messages) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse("messages must not be empty"))
		return
	}

	requestID := gateway.RequestIDFromContext(r.Context())
	state, err := s.deps.Pipeline.Run(r.Context(), pipeline.State{
		RequestID: requestID,
		RawKey:    rawKey,
		Req:       &req,
	})
	if err != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "pipeline fault",
			slog.String("request_id", requestID),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal error"))
		return
	}
	if state.Err != nil {
		writeError(w, state.Err)
		return
	}

	if state.Stream {
		s.streamCompletion(w, r, state)
		return
	}

	// The envelope carries the gateway's request ID, not the provider's.
	state.Resp.ID = "chatcmpl-" + requestID
	writeJSON(w, http.StatusOK, state.Resp)
}

// streamCompletion pipes metered chunks to the client as SSE. The deferred
// meter close guarantees settlement even when the client walks away.
func (s *server) streamCompletion(w http.ResponseWriter, r *http.Request, state pipeline.State) {
	if state.Meter != nil {
		defer state.Meter.Close()
	}

	writeSSEHeaders(w)
	flusher, ok := w.(http.Flusher)
	if !ok {
		slog.Error("ResponseWriter does not implement http.Flusher")
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(15 * time.Second)
	defer keepAlive.Stop()

	for {
		select {
		case chunk, ok := <-state.Chunks:
			if !ok {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			if chunk.Err != nil {
				slog.LogAttrs(r.Context(), slog.LevelError, "stream error",
					slog.String("request_id", state.RequestID),
					slog.String("error", chunk.Err.Error()),
				)
				writeSSEError(w, "upstream stream error")
				flusher.Flush()
				return
			}
			if chunk.Done {
				writeSSEDone(w)
				flusher.Flush()
				return
			}
			writeSSEData(w, chunk.Data)
			flusher.Flush()

		case <-keepAlive.C:
			writeSSEKeepAlive(w)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

// errorBody is the client-facing error envelope.
type errorBody struct {
	Detail string `json:"detail"`
}

func errorResponse(msg string) errorBody {
	return errorBody{Detail: msg}
}

// writeError maps a domain error to its status and detail. Internal errors
// are sanitized.
func writeError(w http.ResponseWriter, err error) {
	status := gateway.HTTPStatus(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = "internal error"
	}
	writeJSON(w, status, errorResponse(msg))
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call. Saves 1 alloc/req.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
