// Package sqlite stores sessions and messages in a SQLite database file.
// The schema is created on open.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/glebarez/go-sqlite"

	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/logger"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
    session_id   TEXT PRIMARY KEY,
    owner_id     TEXT NOT NULL,
    created_at   INTEGER NOT NULL,
    expires_at   INTEGER NOT NULL,
    total_tokens INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS sessions_expires_at ON sessions (expires_at);
CREATE TABLE IF NOT EXISTS messages (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    ts         INTEGER NOT NULL,
    role       TEXT NOT NULL,
    content    TEXT NOT NULL,
    tokens     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS messages_session_ts ON messages (session_id, ts, id);
`

// Store implements history.Store on SQLite.
type Store struct {
	db *sql.DB
}

var _ history.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sqlite schema: %w", err)
	}
	logger.L.Info("sqlite history DB initialized", "path", path)
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) PutSession(ctx context.Context, sess history.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (session_id, owner_id, created_at, expires_at, total_tokens) VALUES (?,?,?,?,?);`,
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
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT session_id, owner_id, created_at, expires_at, total_tokens FROM sessions WHERE session_id = ?;`,
		sessionID).Scan(&sess.ID, &sess.OwnerID, &created, &expiresAt, &sess.TotalTokens)
	if errors.Is(err, sql.ErrNoRows) {
		return history.Session{}, history.ErrSessionNotFound
	}
	if err != nil {
		return history.Session{}, fmt.Errorf("get session: %w", err)
	}
	sess.CreatedAt = time.Unix(created, 0).UTC()
	sess.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	return sess, nil
}

func (s *Store) AddSessionTokens(ctx context.Context, sessionID string, n int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET total_tokens = total_tokens + ? WHERE session_id = ?;`, n, sessionID)
	if err != nil {
		return fmt.Errorf("update session tokens: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		logger.L.Warn("token usage for unknown session ignored", "session", sessionID, "tokens", n)
	}
	return nil
}

func (s *Store) PutMessage(ctx context.Context, m history.Message) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages (session_id, ts, role, content, tokens) VALUES (?,?,?,?,?);`,
		m.SessionID, m.Timestamp.UnixMilli(), m.Role, m.Content, m.Tokens)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// QueryMessages pages by (ts, id); the continuation token is "ts:id" of
// the last row returned.
func (s *Store) QueryMessages(ctx context.Context, sessionID, startAfter string, limit int) (history.Page, error) {
	afterTS, afterID, err := history.DecodeCursor(startAfter)
	if err != nil {
		return history.Page{}, err
	}
	if limit <= 0 {
		limit = history.DefaultPageSize
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, ts, role, content, tokens FROM messages
		 WHERE session_id = ? AND (ts > ? OR (ts = ? AND id > ?))
		 ORDER BY ts ASC, id ASC LIMIT ?;`,
		sessionID, afterTS, afterTS, afterID, limit+1)
	if err != nil {
		return history.Page{}, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var (
		page   history.Page
		lastTS int64
		lastID int64
	)
	for rows.Next() {
		if len(page.Messages) == limit {
			page.Next = history.EncodeCursor(lastTS, lastID)
			break
		}
		var (
			id, ts int64
			m      = history.Message{SessionID: sessionID}
		)
		if err := rows.Scan(&id, &ts, &m.Role, &m.Content, &m.Tokens); err != nil {
			return history.Page{}, fmt.Errorf("scan message: %w", err)
		}
		m.Timestamp = time.UnixMilli(ts).UTC()
		page.Messages = append(page.Messages, m)
		lastTS, lastID = ts, id
	}
	if err := rows.Err(); err != nil {
		return history.Page{}, fmt.Errorf("iterate messages: %w", err)
	}
	return page, nil
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin sweep: %w", err)
	}
	defer tx.Rollback()

	cutoff := now.Unix()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE session_id IN (SELECT session_id FROM sessions WHERE expires_at <= ?);`, cutoff); err != nil {
		return 0, fmt.Errorf("delete expired messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?;`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete expired sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit sweep: %w", err)
	}
	return int(n), nil
}
