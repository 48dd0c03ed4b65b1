package conversation

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

// SessionAdmin lists and purges sessions for staff.
type SessionAdmin interface {
	Sessions(ctx context.Context) ([]SessionSummary, error)
	ClearAllSessions(ctx context.Context) (int, error)
}

// AdminHandler serves the staff session endpoints.
type AdminHandler struct {
	admin  SessionAdmin
	logger *logging.Logger
}

func NewAdminHandler(admin SessionAdmin, logger *logging.Logger) *AdminHandler {
	if admin == nil {
		panic("conversation: session admin cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminHandler{admin: admin, logger: logger}
}

// ListSessions handles GET /sessions.
func (h *AdminHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.admin.Sessions(r.Context())
	if err != nil {
		h.logger.Error("failed to list sessions", "error", err)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to list sessions"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"total_sessions": len(sessions),
		"sessions":       sessions,
	})
}

// ClearAll handles DELETE /sessions.
func (h *AdminHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.ClearAllSessions(r.Context())
	if err != nil {
		h.logger.Error("failed to clear sessions", "error", err, "cleared", n)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to clear sessions"})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (h *AdminHandler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", "error", err)
	}
}
