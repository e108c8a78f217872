package services

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/insightloop/insight-engine/pkg/models"
)

// SessionStore owns the QueryContext of each conversation session. Contexts
// are never shared across sessions and are discarded when the session ends,
// idles out, or switches to a different connection.
type SessionStore interface {
	// Append records a question for the session, resetting the context
	// when the connection changed since the last question.
	Append(sessionID string, connectionID uuid.UUID, question string)
	// Context returns the session's context, or nil if none exists.
	Context(sessionID string) *models.QueryContext
	// End discards the session's context.
	End(sessionID string)
}

type sessionEntry struct {
	context  models.QueryContext
	lastSeen time.Time
}

type sessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry
	maxAge   time.Duration
	window   int
}

// NewSessionStore creates an in-memory session store keeping at most window
// questions per session. Sessions idle longer than maxAge are swept.
func NewSessionStore(window int, maxAge time.Duration) SessionStore {
	if window <= 0 {
		window = 3
	}
	if maxAge <= 0 {
		maxAge = 30 * time.Minute
	}
	return &sessionStore{
		sessions: make(map[string]*sessionEntry),
		maxAge:   maxAge,
		window:   window,
	}
}

func (s *sessionStore) Append(sessionID string, connectionID uuid.UUID, question string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok || entry.context.ConnectionID != connectionID.String() {
		entry = &sessionEntry{context: models.QueryContext{
			SessionID:    sessionID,
			ConnectionID: connectionID.String(),
		}}
		s.sessions[sessionID] = entry
	}

	entry.context.Questions = append(entry.context.Questions, question)
	if len(entry.context.Questions) > s.window {
		entry.context.Questions = entry.context.Questions[len(entry.context.Questions)-s.window:]
	}
	entry.lastSeen = time.Now()

	s.sweepLocked()
}

func (s *sessionStore) Context(sessionID string) *models.QueryContext {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil
	}
	// Copy so callers never see later mutations.
	ctx := entry.context
	ctx.Questions = append([]string(nil), entry.context.Questions...)
	return &ctx
}

func (s *sessionStore) End(sessionID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
}

// sweepLocked drops idle sessions. Called with the lock held on every
// append; session counts are small enough that a full scan is fine.
func (s *sessionStore) sweepLocked() {
	cutoff := time.Now().Add(-s.maxAge)
	for id, entry := range s.sessions {
		if entry.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
		}
	}
}

var _ SessionStore = (*sessionStore)(nil)
