// Package httpapi exposes DialogMesh over HTTP: turn submission with
// server-sent event streaming, session queries, pagination and delete.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dialogmesh/dialogmesh"
	"github.com/dialogmesh/dialogmesh/core"
	"github.com/dialogmesh/dialogmesh/logging"
	"github.com/dialogmesh/dialogmesh/session"
	"github.com/dialogmesh/dialogmesh/stream"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Server wires the façade into an http.Handler.
type Server struct {
	mesh   *dialogmesh.DialogMesh
	logger logging.Logger
	mux    *http.ServeMux
}

// NewServer builds the HTTP surface over a DialogMesh instance.
func NewServer(mesh *dialogmesh.DialogMesh, logger logging.Logger) *Server {
	s := &Server{
		mesh:   mesh,
		logger: logging.OrNoOp(logger),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("POST /users/{user}/sessions/{session}/messages", s.handleSend)
	s.mux.HandleFunc("GET /users/{user}/sessions/{session}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /users/{user}/sessions/{session}", s.handleDeleteSession)
	s.mux.HandleFunc("GET /users/{user}/sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

type sendRequest struct {
	Text        string            `json:"text"`
	Attachments []sendAttachment  `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type sendAttachment struct {
	MimeType string `json:"mime_type"`
	Bytes    string `json:"bytes,omitempty"` // base64
	URI      string `json:"uri,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	key := core.SessionKey{UserID: r.PathValue("user"), SessionID: r.PathValue("session")}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req sendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %v", err))
		return
	}

	parts := []core.Part{}
	if req.Text != "" {
		parts = append(parts, core.TextPart{Text: req.Text})
	}
	for _, a := range req.Attachments {
		parts = append(parts, core.ImagePart{MimeType: a.MimeType, Bytes: a.Bytes, URI: a.URI})
	}
	msg := core.NewMessage(core.RoleUser, parts...)

	events, err := s.mesh.Send(r.Context(), key, msg)
	if err != nil {
		s.writeMappedError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range events {
		writeSSEEvent(w, flusher, ev)
		if ev.Terminal() {
			break
		}
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func writeSSEEvent(w http.ResponseWriter, flusher http.Flusher, ev stream.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, payload)
	flusher.Flush()
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	key := core.SessionKey{UserID: r.PathValue("user"), SessionID: r.PathValue("session")}
	if err := key.Validate(); err != nil {
		s.writeMappedError(w, err)
		return
	}
	withMessages := r.URL.Query().Get("messages") == "true"
	detail, ok := s.mesh.Sessions().Get(key, withMessages)
	if !ok {
		s.writeError(w, http.StatusNotFound, "session not found")
		return
	}
	s.writeJSON(w, http.StatusOK, detail)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("user")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, core.ErrMissingUser.Error())
		return
	}
	limit := queryInt(r, "limit", 20)
	offset := queryInt(r, "offset", 0)
	details := s.mesh.Sessions().List(userID, limit, offset)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"sessions": details,
		"limit":    limit,
		"offset":   offset,
		"count":    len(details),
	})
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	key := core.SessionKey{UserID: r.PathValue("user"), SessionID: r.PathValue("session")}
	if err := key.Validate(); err != nil {
		s.writeMappedError(w, err)
		return
	}
	if err := s.mesh.Sessions().Delete(r.Context(), key); err != nil {
		s.writeMappedError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func queryInt(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}

// writeMappedError translates domain errors into HTTP status codes.
func (s *Server) writeMappedError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, core.ErrMissingUser),
		errors.Is(err, core.ErrMissingSession),
		errors.Is(err, core.ErrEmptyMessage),
		errors.Is(err, core.ErrInvalidPart):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, session.ErrSessionBusy):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrSessionClosed):
		s.writeError(w, http.StatusGone, err.Error())
	case errors.Is(err, session.ErrRegistryClosed):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error("request failed", "error", err.Error())
		s.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("response encoding failed", "error", err.Error())
	}
}
