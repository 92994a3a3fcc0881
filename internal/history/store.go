package history

import (
	"context"
	"errors"
	"time"
)

// ErrSessionNotFound is returned by Store.GetSession for unknown ids.
var ErrSessionNotFound = errors.New("session not found")

// Page is one bounded slice of a session's messages, oldest first. Next is
// the continuation token for the following page; empty means no more pages.
type Page struct {
	Messages []Message
	Next     string
}

// Store is the durable keyed store behind the history service. Messages are
// partitioned by session id and sorted by timestamp; sessions expire
// passively once ExpiresAt has passed. Implementations must be safe for
// concurrent use.
type Store interface {
	PutSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, sessionID string) (Session, error)
	// AddSessionTokens increments the session's cumulative counter. Unknown
	// sessions are left alone.
	AddSessionTokens(ctx context.Context, sessionID string, n int) error
	PutMessage(ctx context.Context, m Message) error
	// QueryMessages returns up to limit messages after the continuation
	// token startAfter ("" for the first page).
	QueryMessages(ctx context.Context, sessionID, startAfter string, limit int) (Page, error)
	// DeleteExpired removes sessions expired at now together with their
	// messages and reports how many sessions went away.
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
	Close() error
}
