// Package store provides storage backends for NutriPipe conversation sessions.
//
// It includes an in-memory store and persistent SQLite, PostgreSQL and Redis backends.
package store

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/BTreeMap/NutriPipe/internal/models"
)

// Store defines the interface for session storage backends.
type Store interface {
	// GetSession returns the session for a user, or nil if none exists.
	GetSession(ctx context.Context, userID string) (*models.Session, error)
	// SaveSession inserts or replaces a session. The last write wins.
	SaveSession(ctx context.Context, session models.Session) error
	// DeleteSession removes a user's session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, userID string) error
	// ListSessions returns all stored sessions ordered by user ID.
	ListSessions(ctx context.Context) ([]models.Session, error)
	// PurgeIdle deletes sessions not updated since before and returns how many were removed.
	PurgeIdle(ctx context.Context, before time.Time) (int, error)
	// Close releases any resources held by the store.
	Close() error
}

// InMemoryStore is a simple in-memory store for sessions.
type InMemoryStore struct {
	sessions map[string]models.Session
	mu       sync.RWMutex
}

// NewInMemoryStore creates a new, empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string]models.Session)}
}

func (s *InMemoryStore) GetSession(ctx context.Context, userID string) (*models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[userID]
	if !ok {
		return nil, nil
	}
	return &session, nil
}

func (s *InMemoryStore) SaveSession(ctx context.Context, session models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.UserID] = session
	return nil
}

func (s *InMemoryStore) DeleteSession(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
	return nil
}

func (s *InMemoryStore) ListSessions(ctx context.Context) ([]models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sessions := make([]models.Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	sort.Slice(sessions, func(i, j int) bool { return sessions[i].UserID < sessions[j].UserID })
	return sessions, nil
}

func (s *InMemoryStore) PurgeIdle(ctx context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for userID, session := range s.sessions {
		if session.UpdatedAt.Before(before) {
			delete(s.sessions, userID)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("InMemoryStore PurgeIdle removed sessions", "count", removed)
	}
	return removed, nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
