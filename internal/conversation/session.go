package conversation

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// Action names a multi-turn operation the assistant is driving.
type Action string

const (
	ActionNone   Action = ""
	ActionBook   Action = "book"
	ActionView   Action = "view"
	ActionEdit   Action = "edit"
	ActionCancel Action = "cancel"
)

// EditStage tracks progress through the edit flow.
type EditStage string

const (
	EditStageNone                      EditStage = ""
	EditStageShownAppointment          EditStage = "shown_appointment"
	EditStageCollectingChanges         EditStage = "collecting_changes"
	EditStageAwaitingFinalConfirmation EditStage = "awaiting_final_confirmation"
)

// Active reports whether an edit is in progress.
func (s EditStage) Active() bool {
	switch s {
	case EditStageShownAppointment, EditStageCollectingChanges, EditStageAwaitingFinalConfirmation:
		return true
	}
	return false
}

// collecting reports whether the next message should be read as the change
// itself.
func (s EditStage) collecting() bool {
	return s == EditStageShownAppointment || s == EditStageCollectingChanges
}

const maxHistory = 10

// Session is the per-conversation dialogue state.
type Session struct {
	ID                   string        `json:"id"`
	History              []ChatMessage `json:"history"`
	Entities             Entities      `json:"entities"`
	LastIntent           Intent        `json:"last_intent,omitempty"`
	PendingAction        Action        `json:"pending_action,omitempty"`
	AwaitingConfirmation Action        `json:"awaiting_confirmation,omitempty"`
	EditStage            EditStage     `json:"edit_stage,omitempty"`
	UpdatedAt            time.Time     `json:"updated_at"`
}

// NewSession returns an empty session for id.
func NewSession(id string) *Session {
	return &Session{ID: id}
}

// Clone returns a deep copy so a turn can work without touching the stored
// session until it commits.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	out.History = append([]ChatMessage(nil), s.History...)
	return &out
}

// Context returns the fields the intent detector reads.
func (s *Session) Context() SessionContext {
	return SessionContext{
		EditStage:            s.EditStage,
		PendingAction:        s.PendingAction,
		AwaitingConfirmation: s.AwaitingConfirmation,
	}
}

// AppendExchange records one user/assistant exchange and keeps only the
// most recent entries.
func (s *Session) AppendExchange(userMessage, reply string) {
	s.History = append(s.History,
		ChatMessage{Role: ChatRoleUser, Content: userMessage},
		ChatMessage{Role: ChatRoleAssistant, Content: reply},
	)
	if len(s.History) > maxHistory {
		s.History = append([]ChatMessage(nil), s.History[len(s.History)-maxHistory:]...)
	}
}

// clearFlow drops the confirmation, pending action and edit stage.
func (s *Session) clearFlow() {
	s.AwaitingConfirmation = ActionNone
	s.PendingAction = ActionNone
	s.EditStage = EditStageNone
}

// ErrSessionNotFound is returned by Get for unknown or expired ids.
var ErrSessionNotFound = errors.New("conversation: session not found")

// SessionStore persists sessions between turns.
type SessionStore interface {
	Get(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, session *Session) error
	Delete(ctx context.Context, id string) error
	// List returns every live session, most recently updated first.
	List(ctx context.Context) ([]*Session, error)
	// DeleteAll drops every session and returns how many there were.
	DeleteAll(ctx context.Context) (int, error)
}

// MemorySessionStore keeps sessions in process with a TTL and a capacity cap.
// When full, the least recently updated session is evicted.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	max      int
	now      func() time.Time
}

// NewMemorySessionStore creates a store. Zero ttl or max disables that limit.
func NewMemorySessionStore(ttl time.Duration, max int) *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		max:      max,
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	session, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok || m.expired(session) {
		return nil, ErrSessionNotFound
	}
	return session.Clone(), nil
}

func (m *MemorySessionStore) Save(_ context.Context, session *Session) error {
	if session == nil || session.ID == "" {
		return errors.New("conversation: session id required")
	}
	stored := session.Clone()
	stored.UpdatedAt = m.now()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[stored.ID]; !exists && m.max > 0 && len(m.sessions) >= m.max {
		m.sweepLocked()
		if len(m.sessions) >= m.max {
			m.evictOldestLocked(len(m.sessions) - m.max + 1)
		}
	}
	m.sessions[stored.ID] = stored
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}

func (m *MemorySessionStore) List(_ context.Context) ([]*Session, error) {
	m.mu.RLock()
	out := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		if !m.expired(session) {
			out = append(out, session.Clone())
		}
	}
	m.mu.RUnlock()
	sortByRecent(out)
	return out, nil
}

func (m *MemorySessionStore) DeleteAll(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.sessions)
	m.sessions = make(map[string]*Session)
	return n, nil
}

// Len returns the number of stored sessions, expired ones included.
func (m *MemorySessionStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Sweep removes expired sessions and returns how many were dropped.
func (m *MemorySessionStore) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sweepLocked()
}

// RunSweeper calls Sweep every interval until ctx is done.
func (m *MemorySessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

func (m *MemorySessionStore) expired(s *Session) bool {
	return m.ttl > 0 && m.now().Sub(s.UpdatedAt) > m.ttl
}

func (m *MemorySessionStore) sweepLocked() int {
	removed := 0
	for id, s := range m.sessions {
		if m.expired(s) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed
}

func (m *MemorySessionStore) evictOldestLocked(n int) {
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return m.sessions[ids[i]].UpdatedAt.Before(m.sessions[ids[j]].UpdatedAt)
	})
	for _, id := range ids[:n] {
		delete(m.sessions, id)
	}
}

func sortByRecent(sessions []*Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if sessions[i].UpdatedAt.Equal(sessions[j].UpdatedAt) {
			return sessions[i].ID < sessions[j].ID
		}
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
}
