package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bujji-ai/vision-assistant/internal/model/session"
)

var ErrClientNotFound = errors.New("client session not found")

// Service encapsulates per-client conversational context. Scene descriptions
// and question history live in process memory only and last at most for the
// lifetime of the client's session. History is append-only and unbounded.
type Service struct {
	mu       sync.RWMutex
	sessions map[string]session.Session
	history  map[string][]session.Entry
}

// NewService bootstraps the in-memory context store.
func NewService() *Service {
	return &Service{
		sessions: make(map[string]session.Session),
		history:  make(map[string][]session.Entry),
	}
}

// SetSceneDescription records the latest scene description for a client,
// creating the session entry when none exists yet.
func (s *Service) SetSceneDescription(_ context.Context, clientID, description string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		sess = session.Session{ClientID: clientID, CreatedAt: now}
		s.history[clientID] = make([]session.Entry, 0, 16)
	}
	sess.SceneDescription = description
	sess.UpdatedAt = now
	s.sessions[clientID] = sess
}

// SceneDescription returns the stored scene description for a client. The
// second return reports whether the client has a session at all; an empty
// description with ok=true means no analysis has succeeded yet.
func (s *Service) SceneDescription(_ context.Context, clientID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return "", false
	}
	return sess.SceneDescription, true
}

// Get retrieves a session snapshot by client identifier.
func (s *Service) Get(_ context.Context, clientID string) (session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[clientID]
	if !ok {
		return session.Session{}, ErrClientNotFound
	}
	return sess, nil
}

// AppendHistory appends a question/answer turn to the client's history.
// Appends for unknown clients are dropped rather than recreating state.
func (s *Service) AppendHistory(_ context.Context, entry session.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[entry.ClientID]; !ok {
		log.Warn().Str("client_id", entry.ClientID).Msg("dropping history entry for unknown client")
		return
	}

	entry.ID = uuid.NewString()
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	s.history[entry.ClientID] = append(s.history[entry.ClientID], entry)
}

// History returns stored question/answer turns for the client.
func (s *Service) History(_ context.Context, clientID string) ([]session.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, ok := s.history[clientID]
	if !ok {
		return nil, ErrClientNotFound
	}

	copied := make([]session.Entry, len(entries))
	copy(copied, entries)
	return copied, nil
}

// Reset installs a fresh empty session for the client, replacing any prior
// context. Called when a realtime connection is established.
func (s *Service) Reset(_ context.Context, clientID string) {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[clientID] = session.Session{ClientID: clientID, CreatedAt: now, UpdatedAt: now}
	s.history[clientID] = make([]session.Entry, 0, 16)
}

// Clear removes the client's session and history. Clearing an unknown
// client is a no-op.
func (s *Service) Clear(_ context.Context, clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, clientID)
	delete(s.history, clientID)
}

// Len reports the number of live client sessions.
func (s *Service) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
