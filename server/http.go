// Package server exposes the chat widget boundary over HTTP: free-text
// messages in, assistant turns, proposed-action notifications, and decision
// signals out.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	confirmx "github.com/tanpawarit/crm-copilot/agent/confirm"
	contractx "github.com/tanpawarit/crm-copilot/agent/contract"
	sessionx "github.com/tanpawarit/crm-copilot/agent/session"
)

const maxRequestBodySize = 1 << 20 // 1MB

type Config struct {
	Addr           string        `envconfig:"ADDR" split_words:"true" default:":8080"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" split_words:"true" default:"5m"`
}

// Agent runs one conversation cycle. Implemented by the orchestrator.
type Agent interface {
	HandleMessage(ctx context.Context, sessionID string, text string) (reply string, sid string, err error)
}

type Handler struct {
	agent    Agent
	gate     *confirmx.Gate
	sessions *sessionx.Manager
}

func NewHandler(agent Agent, gate *confirmx.Gate, sessions *sessionx.Manager) *Handler {
	return &Handler{agent: agent, gate: gate, sessions: sessions}
}

// Routes builds the API router. The chat endpoint blocks while a mutating
// tool awaits its decision, so the request timeout must exceed the gate TTL.
func (h *Handler) Routes(cfg Config) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.RequestTimeout))

	r.Get("/health", h.handleHealth)
	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", h.handleChat)
		r.Post("/decisions", h.handleDecision)
		r.Route("/sessions/{sessionID}", func(r chi.Router) {
			r.Get("/pending", h.handlePending)
			r.Get("/history", h.handleHistory)
			r.Post("/reset", h.handleReset)
		})
	})
	return r
}

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message"`
}

type chatResponse struct {
	SessionID string `json:"session_id"`
	Reply     string `json:"reply"`
}

func (h *Handler) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return
	}

	reply, sessionID, err := h.agent.HandleMessage(r.Context(), req.SessionID, req.Message)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chatResponse{SessionID: sessionID, Reply: reply})
}

type decisionResponse struct {
	Applied bool `json:"applied"`
}

// handleDecision applies an approve/deny signal. Duplicate or late decisions
// are acknowledged with applied=false; they never reopen a resolved action.
func (h *Handler) handleDecision(w http.ResponseWriter, r *http.Request) {
	var d contractx.Decision
	if !decodeBody(w, r, &d) {
		return
	}
	if d.RequestID == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("request_id is required"))
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse{Applied: h.gate.Decide(d)})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	if _, err := h.sessions.Get(sessionID); err != nil {
		writeError(w, err)
		return
	}

	action, ok := h.gate.Pending(sessionID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": action})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sess, err := h.sessions.Get(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"turns":      h.sessions.History(sess),
	})
}

// handleReset discards the conversation: the session is closed and a fresh
// one returned (the widget's clear button).
func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	fresh, err := h.sessions.Reset(chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"session_id": fresh.ID})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "crm-copilot",
	})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid request body"))
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, contractx.ErrUnknownSession):
		status = http.StatusNotFound
	case errors.Is(err, contractx.ErrSessionBusy),
		errors.Is(err, contractx.ErrConfirmationInProgress):
		status = http.StatusConflict
	case errors.Is(err, contractx.ErrValidation),
		errors.Is(err, contractx.ErrInvalidArguments),
		errors.Is(err, contractx.ErrSessionClosed):
		status = http.StatusBadRequest
	case errors.Is(err, contractx.ErrModel),
		errors.Is(err, contractx.ErrBackend):
		status = http.StatusBadGateway
	}

	if status == http.StatusInternalServerError {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, status, errorBody(err.Error()))
}

func errorBody(msg string) map[string]string {
	return map[string]string{"error": msg}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("encode response")
	}
}
