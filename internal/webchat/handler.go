package webchat

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/websocket"

	"github.com/wolfman30/medibook-assistant/internal/conversation"
	"github.com/wolfman30/medibook-assistant/pkg/logging"
)

const historyLimit = 50

// InboundMessage is what the widget sends.
type InboundMessage struct {
	Type      string `json:"type"` // "message", "ping"
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// OutboundMessage is what the widget receives.
type OutboundMessage struct {
	Type      string                 `json:"type"` // "session", "history", "typing", "message", "pong", "error"
	Text      string                 `json:"text,omitempty"`
	Role      string                 `json:"role,omitempty"`
	Intent    conversation.Intent    `json:"intent,omitempty"`
	Entities  *conversation.Entities `json:"entities,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
	Timestamp string                 `json:"timestamp,omitempty"`
	Messages  []HistoryMessage       `json:"messages,omitempty"`
}

// HistoryMessage is one earlier exchange replayed on connect.
type HistoryMessage struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Handler serves the chat turn contract over a WebSocket. Messages on one
// connection are handled in order.
type Handler struct {
	chat   conversation.ChatService
	logger *logging.Logger
	now    func() time.Time
}

func NewHandler(chat conversation.ChatService, logger *logging.Logger) *Handler {
	if chat == nil {
		panic("webchat: chat service cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{chat: chat, logger: logger, now: time.Now}
}

// generateSessionID creates a random session identifier.
func generateSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(b)
}

// HandleWebSocket handles GET /ws. The session comes from the "session"
// query parameter or is generated and announced to the client.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	websocket.Server{
		// Any origin may connect.
		Handshake: func(*websocket.Config, *http.Request) error { return nil },
		Handler: func(conn *websocket.Conn) {
			h.serveWS(r.Context(), conn, r.URL.Query().Get("session"))
		},
	}.ServeHTTP(w, r)
}

func (h *Handler) serveWS(ctx context.Context, conn *websocket.Conn, sessionID string) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = generateSessionID()
	}
	if err := h.send(conn, OutboundMessage{Type: "session", SessionID: sessionID}); err != nil {
		return
	}
	h.sendHistory(ctx, conn, sessionID)

	h.logger.Info("webchat: connection opened", "session_id", sessionID)
	defer h.logger.Info("webchat: connection closed", "session_id", sessionID)

	for {
		var msg InboundMessage
		if err := websocket.JSON.Receive(conn, &msg); err != nil {
			h.logger.Debug("webchat: receive ended", "session_id", sessionID, "error", err)
			return
		}

		switch msg.Type {
		case "ping":
			if err := h.send(conn, OutboundMessage{Type: "pong"}); err != nil {
				return
			}
		case "message":
			if err := h.processMessage(ctx, conn, sessionID, msg); err != nil {
				return
			}
		default:
			if err := h.send(conn, OutboundMessage{Type: "error", Text: "unsupported message type"}); err != nil {
				return
			}
		}
	}
}

func (h *Handler) sendHistory(ctx context.Context, conn *websocket.Conn, sessionID string) {
	msgs, err := h.chat.History(ctx, sessionID)
	if err != nil {
		h.logger.Warn("webchat: failed to load history", "session_id", sessionID, "error", err)
		return
	}
	if len(msgs) == 0 {
		return
	}
	if len(msgs) > historyLimit {
		msgs = msgs[len(msgs)-historyLimit:]
	}
	history := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		history = append(history, HistoryMessage{Role: m.Role, Text: m.Content})
	}
	_ = h.send(conn, OutboundMessage{Type: "history", Messages: history})
}

// processMessage runs one turn and writes the reply. A returned error means
// the connection is gone.
func (h *Handler) processMessage(ctx context.Context, conn *websocket.Conn, sessionID string, msg InboundMessage) error {
	// A message may name its own session; the connection's session is the default.
	req := conversation.ChatRequest{Message: msg.Text, SessionID: msg.SessionID}
	if strings.TrimSpace(req.SessionID) == "" {
		req.SessionID = sessionID
	}
	if err := req.Validate(); err != nil {
		return h.send(conn, OutboundMessage{Type: "error", Text: err.Error()})
	}

	if err := h.send(conn, OutboundMessage{Type: "typing"}); err != nil {
		return err
	}

	result, err := h.chat.HandleMessage(ctx, req.SessionID, req.Message)
	if err != nil {
		h.logger.Error("webchat: turn failed", "session_id", req.SessionID, "error", err)
		text := "Sorry, something went wrong. Please try again."
		if errors.Is(err, conversation.ErrSessionBusy) {
			text = "Still working on your previous message, please retry."
		}
		return h.send(conn, OutboundMessage{Type: "error", Text: text})
	}

	entities := result.Entities
	return h.send(conn, OutboundMessage{
		Type:      "message",
		Role:      conversation.ChatRoleAssistant,
		Text:      result.Response,
		Intent:    result.Intent,
		Entities:  &entities,
		SessionID: req.SessionID,
		Timestamp: h.now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) send(conn *websocket.Conn, msg OutboundMessage) error {
	return websocket.JSON.Send(conn, msg)
}
