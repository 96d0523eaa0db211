// Package session keeps per-session conversation state so follow-up
// questions can be answered from the last analysis without re-running it.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/portfolio-guardian/internal/models"
)

// ErrSessionNotFound is returned by Get for an unknown or expired session
var ErrSessionNotFound = errors.New("session not found")

// Store is keyed by session id. Sessions never see each other's state.
type Store interface {
	Get(ctx context.Context, sessionID string) (*models.ConversationState, error)
	Put(ctx context.Context, state *models.ConversationState) error
	// AppendExchange records one exchange, creating the session if needed,
	// and keeps only the most recent models.MaxExchangeHistory entries.
	AppendExchange(ctx context.Context, sessionID, userText, systemText string) error
	Clear(ctx context.Context, sessionID string) error
}

// MemoryStore is a process-local Store
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*models.ConversationState
	now      func() time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*models.ConversationState),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Get returns a copy of the session state
func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*models.ConversationState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return clone(state), nil
}

// Put replaces the session state
func (s *MemoryStore) Put(ctx context.Context, state *models.ConversationState) error {
	if state == nil || state.SessionID == "" {
		return errors.New("session state needs a session id")
	}
	c := clone(state)
	c.UpdatedAt = s.now()

	s.mu.Lock()
	s.sessions[state.SessionID] = c
	s.mu.Unlock()
	return nil
}

// AppendExchange records one exchange
func (s *MemoryStore) AppendExchange(ctx context.Context, sessionID, userText, systemText string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.sessions[sessionID]
	if !ok {
		state = &models.ConversationState{SessionID: sessionID}
		s.sessions[sessionID] = state
	}
	state.AppendExchange(userText, systemText, s.now())
	return nil
}

// Clear forgets the session
func (s *MemoryStore) Clear(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// clone copies the mutable parts of a state. Analyses are read-only once
// produced and are shared.
func clone(state *models.ConversationState) *models.ConversationState {
	c := *state
	c.History = append([]models.Exchange(nil), state.History...)
	return &c
}
