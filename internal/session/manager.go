// Package session owns session identity: it is the only place a session is
// created, and it never rewrites an existing session's owner or creation
// time.
package session

import (
	"context"
)

// Backend is the part of the history service the manager drives.
type Backend interface {
	GetOrCreateSession(ctx context.Context, ownerID, sessionID string) (string, error)
	IncrementTokens(ctx context.Context, sessionID string, n int) error
}

type Manager struct {
	backend Backend
}

func NewManager(backend Backend) *Manager {
	return &Manager{backend: backend}
}

// Resolve returns supplied unchanged when set; otherwise it creates exactly
// one new session for ownerID. A supplied id that no longer exists is not
// an error: it simply has no history.
func (m *Manager) Resolve(ctx context.Context, ownerID, supplied string) (string, error) {
	return m.backend.GetOrCreateSession(ctx, ownerID, supplied)
}

// RecordUsage adds tokens to the session's cumulative counter.
func (m *Manager) RecordUsage(ctx context.Context, sessionID string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	return m.backend.IncrementTokens(ctx, sessionID, tokens)
}
