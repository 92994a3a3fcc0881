// Package history keeps the append-only conversation log of each session
// and the session metadata records, on top of a paginated keyed Store.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/logger"
	"github.com/comigor/calmchat/internal/tokens"
)

const (
	DefaultRetention = 30 * 24 * time.Hour
	DefaultPageSize  = 100
)

// Service reads and writes messages and sessions. It holds no conversation
// state of its own; everything lives in the Store.
type Service struct {
	store     Store
	counter   tokens.Counter
	retention time.Duration
	pageSize  int
	now       func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

func WithRetention(d time.Duration) Option { return func(s *Service) { s.retention = d } }

func WithPageSize(n int) Option { return func(s *Service) { s.pageSize = n } }

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option { return func(s *Service) { s.now = now } }

func NewService(store Store, counter tokens.Counter, opts ...Option) *Service {
	s := &Service{
		store:     store,
		counter:   counter,
		retention: DefaultRetention,
		pageSize:  DefaultPageSize,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchAll returns every message of the session, oldest first, following
// continuation tokens until the store reports no further page. An unknown
// or expired session yields an empty slice.
func (s *Service) FetchAll(ctx context.Context, sessionID string) ([]Message, error) {
	var (
		out   []Message
		next  string
		pages int
	)
	for {
		page, err := s.store.QueryMessages(ctx, sessionID, next, s.pageSize)
		if err != nil {
			return nil, apperr.New(apperr.StoreUnavailable, "query messages", err)
		}
		pages++
		out = append(out, page.Messages...)
		if page.Next == "" {
			break
		}
		next = page.Next
	}
	logger.L.Debug("history fetched", "session", sessionID, "messages", len(out), "pages", pages)
	return out, nil
}

// Save writes a new message stamped with the current time, with its token
// count computed by the service's counter. The session counter is not
// touched.
func (s *Service) Save(ctx context.Context, sessionID, role, content string) (Message, error) {
	msg := Message{
		SessionID: sessionID,
		Timestamp: s.now().UTC().Truncate(time.Millisecond),
		Role:      role,
		Content:   content,
		Tokens:    s.counter.Count(content),
	}
	if err := s.store.PutMessage(ctx, msg); err != nil {
		return Message{}, apperr.New(apperr.StoreUnavailable, "save message", err)
	}
	return msg, nil
}

// Append saves a message and then bumps the session's token counter. The
// two writes are independent: if the second fails the message stays saved
// without being counted.
func (s *Service) Append(ctx context.Context, sessionID, role, content string) (Message, error) {
	msg, err := s.Save(ctx, sessionID, role, content)
	if err != nil {
		return Message{}, err
	}
	if err := s.IncrementTokens(ctx, sessionID, msg.Tokens); err != nil {
		return msg, err
	}
	return msg, nil
}

// IncrementTokens adds n to the session's cumulative counter.
func (s *Service) IncrementTokens(ctx context.Context, sessionID string, n int) error {
	if err := s.store.AddSessionTokens(ctx, sessionID, n); err != nil {
		return apperr.New(apperr.StoreUnavailable, "update session tokens", err)
	}
	return nil
}

// GetOrCreateSession returns sessionID unchanged when it is non-empty,
// without checking that it exists. Otherwise it writes a fresh session
// owned by ownerID and returns its new id.
func (s *Service) GetOrCreateSession(ctx context.Context, ownerID, sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	now := s.now().UTC().Truncate(time.Second)
	sess := Session{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.retention),
	}
	if err := s.store.PutSession(ctx, sess); err != nil {
		return "", apperr.New(apperr.StoreUnavailable, "create session", err)
	}
	logger.L.Info("session created", "session", sess.ID, "owner", ownerID, "expires_at", sess.ExpiresAt)
	return sess.ID, nil
}

// Session loads a session record.
func (s *Service) Session(ctx context.Context, sessionID string) (Session, error) {
	sess, err := s.store.GetSession(ctx, sessionID)
	if errors.Is(err, ErrSessionNotFound) {
		return Session{}, err
	}
	if err != nil {
		return Session{}, apperr.New(apperr.StoreUnavailable, "get session", err)
	}
	return sess, nil
}
