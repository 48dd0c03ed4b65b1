package conversation

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

const (
	maxMessageLength   = 5000
	maxSessionIDLength = 100
	defaultSessionID   = "default"
)

// ChatService is what the HTTP and WebSocket transports need from the engine.
type ChatService interface {
	HandleMessage(ctx context.Context, sessionID, message string) (TurnResult, error)
	ClearSession(ctx context.Context, sessionID string) error
	History(ctx context.Context, sessionID string) ([]ChatMessage, error)
}

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

// Validate trims the request and applies the session id default.
func (r *ChatRequest) Validate() error {
	r.Message = strings.TrimSpace(r.Message)
	r.SessionID = strings.TrimSpace(r.SessionID)
	if r.Message == "" {
		return errors.New("message is required")
	}
	if utf8.RuneCountInString(r.Message) > maxMessageLength {
		return errors.New("message must be at most 5000 characters")
	}
	if r.SessionID == "" {
		r.SessionID = defaultSessionID
	}
	if utf8.RuneCountInString(r.SessionID) > maxSessionIDLength {
		return errors.New("session_id must be at most 100 characters")
	}
	return nil
}

// Handler wires HTTP requests to the conversation engine.
type Handler struct {
	service ChatService
	logger  *logging.Logger
}

// NewHandler creates a conversation handler.
func NewHandler(service ChatService, logger *logging.Logger) *Handler {
	if service == nil {
		panic("conversation: chat service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		service: service,
		logger:  logger,
	}
}

// Chat handles POST /chat.
func (h *Handler) Chat(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode chat request", "error", err)
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	resp, err := h.service.HandleMessage(r.Context(), req.SessionID, req.Message)
	if errors.Is(err, ErrSessionBusy) {
		h.writeError(w, http.StatusConflict, "Session is busy, please retry")
		return
	}
	if err != nil {
		h.logger.Error("failed to process message", "error", err, "session_id", req.SessionID)
		h.writeError(w, http.StatusInternalServerError, "Failed to process message")
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// ClearSession handles DELETE /session/{sessionID}.
func (h *Handler) ClearSession(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	if err := h.service.ClearSession(r.Context(), sessionID); err != nil {
		h.logger.Error("failed to clear session", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "Failed to clear session")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "Session " + sessionID + " cleared"})
}

// History handles GET /session/{sessionID}.
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		h.writeError(w, http.StatusBadRequest, "session id is required")
		return
	}
	messages, err := h.service.History(r.Context(), sessionID)
	if err != nil {
		h.logger.Error("failed to load session history", "error", err, "session_id", sessionID)
		h.writeError(w, http.StatusInternalServerError, "Failed to load session history")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"session_id":    sessionID,
		"message_count": len(messages),
		"messages":      messages,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
