// Package server exposes the dialogue engine over HTTP: one chat endpoint
// plus session inspection and reset for operators.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/bancoagil/servicedesk/agent/orchestrator"
	statex "github.com/bancoagil/servicedesk/agent/state"
)

// Dialogue is the slice of the orchestrator the server needs.
type Dialogue interface {
	HandleMessage(ctx context.Context, sessionID string, text string) (string, error)
	Session(ctx context.Context, sessionID string) (*statex.SessionState, error)
	Reset(ctx context.Context, sessionID string) error
}

type Server struct {
	dialogue Dialogue
	router   chi.Router
}

func New(dialogue Dialogue) *Server {
	s := &Server{dialogue: dialogue}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(90 * time.Second))

	r.Post("/chat", s.handleChat)
	r.Get("/sessions/{sessionID}", s.handleGetSession)
	r.Delete("/sessions/{sessionID}", s.handleResetSession)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	s.router = r
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	reply, err := s.dialogue.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrInvalidMessage) || errors.Is(err, orchestrator.ErrInvalidSession) {
			status = http.StatusBadRequest
		}
		log.Error().Err(err).Str("session_id", req.SessionID).Msg("chat turn failed")
		writeError(w, status, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, chatResponse{SessionID: req.SessionID, Reply: reply})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	st, err := s.dialogue.Session(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, statex.ErrStateNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		if errors.Is(err, statex.ErrInvalidSession) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if err := s.dialogue.Reset(r.Context(), sessionID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
