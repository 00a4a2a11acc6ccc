package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"sandbox_server/sse"
	"sandbox_server/stream"
)

// Deps holds shared dependencies injected into handlers.
type Deps struct {
	Streams *stream.Registry
	Driver  *stream.Driver
	Logger  *zap.Logger

	// AllowedOrigins is checked on WebSocket upgrades. Empty allows any origin.
	AllowedOrigins []string
}

// RegisterRoutes registers the /chats routes on r.
func RegisterRoutes(r *mux.Router, deps *Deps) {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	h := &chatHandler{deps: deps, logger: deps.Logger.Named("http")}

	chats := r.PathPrefix("/chats/{chat_id}").Subrouter()
	chats.HandleFunc("/messages", h.submit).Methods(http.MethodPost)
	chats.HandleFunc("/streams/{stream_id}", h.stream).Methods(http.MethodGet)
	chats.HandleFunc("/streams/{stream_id}/ws", h.streamWS).Methods(http.MethodGet)
}

type chatHandler struct {
	deps   *Deps
	logger *zap.Logger
}

type submitRequest struct {
	Message string `json:"message"`
}

type submitResponse struct {
	StreamID string `json:"stream_id"`
}

// submit stages a message and returns the handle its stream is opened with.
func (h *chatHandler) submit(w http.ResponseWriter, r *http.Request) {
	chatID := mux.Vars(r)["chat_id"]

	var req submitRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	handle := h.deps.Streams.Submit(chatID, req.Message)
	h.logger.Debug("message submitted",
		zap.String("chat_id", chatID),
		zap.String("stream_id", handle),
		zap.Int("pending", h.deps.Streams.Len()),
	)
	writeJSON(w, http.StatusOK, submitResponse{StreamID: handle})
}

// stream answers over Server-Sent Events.
func (h *chatHandler) stream(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	sseWriter := sse.NewWriter(w)
	if sseWriter == nil {
		writeJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	if err := h.deps.Driver.Run(r.Context(), vars["chat_id"], vars["stream_id"], sseWriter); err != nil {
		h.logger.Debug("stream ended early", zap.String("stream_id", vars["stream_id"]), zap.Error(err))
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
