// Package postgres stores sessions and messages in PostgreSQL through a
// pgx connection pool. The schema is managed with golang-migrate.
package postgres

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements history.Store on PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ history.Store = (*Store)(nil)

// Open migrates the database at databaseURL and connects a pool to it.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	if err := RunMigrations(databaseURL); err != nil {
		return nil, err
	}
	pool, err := NewPool(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	return &Store{pool: pool}, nil
}

func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	config.MaxConns = 20
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}

func RunMigrations(databaseURL string) error {
	d, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return fmt.Errorf("create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	version, dirty, _ := m.Version()
	logger.L.Info("migrations applied", "version", version, "dirty", dirty)
	return nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) PutSession(ctx context.Context, sess history.Session) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, owner_id, created_at, expires_at, total_tokens) VALUES ($1, $2, $3, $4, $5)`,
		sess.ID, sess.OwnerID, sess.CreatedAt.Unix(), sess.ExpiresAt.Unix(), sess.TotalTokens)
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

func (s *Store) GetSession(ctx context.Context, sessionID string) (history.Session, error) {
	var (
		sess               history.Session
		created, expiresAt int64
		total              int64
	)
	err := s.pool.QueryRow(ctx,
		`SELECT session_id, owner_id, created_at, expires_at, total_tokens FROM sessions WHERE session_id = $1`,
		sessionID).Scan(&sess.ID, &sess.OwnerID, &created, &expiresAt, &total)
	if errors.Is(err, pgx.ErrNoRows) {
		return history.Session{}, history.ErrSessionNotFound
	}
	if err != nil {
		return history.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	sess.TotalTokens = int(total)
	return sess, nil
}

func (s *Store) AddSessionTokens(ctx context.Context, sessionID string, n int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE sessions SET total_tokens = total_tokens + $1 WHERE session_id = $2`, n, sessionID)
	if err != nil {
		return fmt.Errorf("update session tokens: %w", err)
	}
	if tag.RowsAffected() == 0 {
		logger.L.Warn("token usage for unknown session ignored", "session", sessionID, "tokens", n)
	}
	return nil
}

func (s *Store) PutMessage(ctx context.Context, m history.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (session_id, ts, role, content, tokens) VALUES ($1, $2, $3, $4, $5)`,
		m.SessionID, m.Timestamp.UnixMilli(), m.Role, m.Content, m.Tokens)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// QueryMessages pages by (ts, id) using the history keyset token.
func (s *Store) QueryMessages(ctx context.Context, sessionID, startAfter string, limit int) (history.Page, error) {
	afterTS, afterID, err := history.DecodeCursor(startAfter)
	if err != nil {
		return history.Page{}, err
	}
	if limit <= 0 {
		limit = history.DefaultPageSize
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, ts, role, content, tokens FROM messages
		 WHERE session_id = $1 AND (ts, id) > ($2, $3)
		 ORDER BY ts, id LIMIT $4`,
		sessionID, afterTS, afterID, limit+1)
	if err != nil {
		return history.Page{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var (
		page           history.Page
		lastTS, lastID int64
	)
	for rows.Next() {
		if len(page.Messages) == limit {
			page.Next = history.EncodeCursor(lastTS, lastID)
			break
		}
		var (
			id, ts int64
			tokens int32
			m      = history.Message{SessionID: sessionID}
		)
		if err := rows.Scan(&id, &ts, &m.Role, &m.Content, &tokens); err != nil {
			return history.Page{}, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		m.Tokens = int(tokens)
		page.Messages = append(page.Messages, m)
		lastTS, lastID = ts, id
	}
	if err := rows.Err(); err != nil {
		return history.Page{}, fmt.Errorf("iterate messages: %w", err)
	}
	return page, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cutoff := now.Unix()
		if _, err := tx.Exec(ctx,
			`DELETE FROM messages WHERE session_id IN (SELECT session_id FROM sessions WHERE expires_at <= $1)`, cutoff); err != nil {
			return fmt.Errorf("delete expired messages: %w", err)
		}
		tag, err := tx.Exec(ctx, `DELETE FROM sessions WHERE expires_at <= $1`, cutoff)
		if err != nil {
			return fmt.Errorf("delete expired sessions: %w", err)
		}
		n = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
