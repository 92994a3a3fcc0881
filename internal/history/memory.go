package history

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. Data is lost on restart; it is meant
// for development and tests.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]Session
	messages map[string][]Message // per session, in timestamp order
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		messages: make(map[string][]Message),
	}
}

func (m *MemoryStore) PutSession(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(_ context.Context, sessionID string) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemoryStore) AddSessionTokens(_ context.Context, sessionID string, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	s.TotalTokens += n
	m.sessions[sessionID] = s
	return nil
}

func (m *MemoryStore) PutMessage(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[msg.SessionID]
	// insert after every message with an equal or earlier timestamp
	i := sort.Search(len(log), func(i int) bool { return log[i].Timestamp.After(msg.Timestamp) })
	log = append(log, Message{})
	copy(log[i+1:], log[i:])
	log[i] = msg
	m.messages[msg.SessionID] = log
	return nil
}

// QueryMessages uses the offset into the session log as continuation token.
func (m *MemoryStore) QueryMessages(_ context.Context, sessionID, startAfter string, limit int) (Page, error) {
	offset := 0
	if startAfter != "" {
		n, err := strconv.Atoi(startAfter)
		if err != nil || n < 0 {
			return Page{}, fmt.Errorf("invalid continuation token %q", startAfter)
		}
		offset = n
	}
	if limit <= 0 {
		limit = DefaultPageSize
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	log := m.messages[sessionID]
	if offset >= len(log) {
		return Page{}, nil
	}
	end := min(offset+limit, len(log))
	page := Page{Messages: append([]Message(nil), log[offset:end]...)}
	if end < len(log) {
		page.Next = strconv.Itoa(end)
	}
	return page, nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, s := range m.sessions {
		if s.Expired(now) {
			delete(m.sessions, id)
			delete(m.messages, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
