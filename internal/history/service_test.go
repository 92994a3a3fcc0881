package history

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/comigor/calmchat/internal/apperr"
	"github.com/comigor/calmchat/internal/tokens"
)

// pagedStore serves canned pages keyed by continuation token and records
// every query it receives.
type pagedStore struct {
	*MemoryStore
	pages   map[string]Page
	queries []string
	err     error
}

func (p *pagedStore) QueryMessages(_ context.Context, _ string, startAfter string, _ int) (Page, error) {
	p.queries = append(p.queries, startAfter)
	if p.err != nil {
		return Page{}, p.err
	}
	return p.pages[startAfter], nil
}

// failingStore fails the writes selected by its flags.
type failingStore struct {
	*MemoryStore
	failPutMessage bool
	failAddTokens  bool
	failPutSession bool
}

var errDown = errors.New("store unreachable")

func (f *failingStore) PutMessage(ctx context.Context, m Message) error {
	if f.failPutMessage {
		return errDown
	}
	return f.MemoryStore.PutMessage(ctx, m)
}

func (f *failingStore) AddSessionTokens(ctx context.Context, id string, n int) error {
	if f.failAddTokens {
		return errDown
	}
	return f.MemoryStore.AddSessionTokens(ctx, id, n)
}

func (f *failingStore) PutSession(ctx context.Context, s Session) error {
	if f.failPutSession {
		return errDown
	}
	return f.MemoryStore.PutSession(ctx, s)
}

var runeCounter = tokens.CharEstimator{CharsPerToken: 1}

func msgAt(ms int64) Message {
	return Message{SessionID: "s1", Timestamp: time.UnixMilli(ms), Role: RoleUser, Content: fmt.Sprintf("m%d", ms)}
}

func TestFetchAll_FollowsPagination(t *testing.T) {
	store := &pagedStore{
		MemoryStore: NewMemoryStore(),
		pages: map[string]Page{
			"":      {Messages: []Message{msgAt(1), msgAt(2)}, Next: "page2"},
			"page2": {Messages: []Message{msgAt(3)}},
		},
	}
	svc := NewService(store, runeCounter)

	got, err := svc.FetchAll(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i, m := range got {
		require.Equal(t, int64(i+1), m.Timestamp.UnixMilli())
	}
	require.Equal(t, []string{"", "page2"}, store.queries)
}

func TestFetchAll_Empty(t *testing.T) {
	svc := NewService(NewMemoryStore(), runeCounter)
	got, err := svc.FetchAll(context.Background(), "never-created")
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestFetchAll_StoreError(t *testing.T) {
	store := &pagedStore{MemoryStore: NewMemoryStore(), err: errDown}
	svc := NewService(store, runeCounter)

	_, err := svc.FetchAll(context.Background(), "s1")
	require.ErrorIs(t, err, errDown)
	require.Equal(t, apperr.StoreUnavailable, apperr.KindOf(err))
}

func TestFetchAll_RealPagination(t *testing.T) {
	store := NewMemoryStore()
	clock := time.UnixMilli(1_000)
	svc := NewService(store, runeCounter, WithPageSize(2), WithClock(func() time.Time {
		clock = clock.Add(time.Millisecond)
		return clock
	}))
	ctx := context.Background()

	for i := range 5 {
		_, err := svc.Append(ctx, "s1", RoleUser, fmt.Sprintf("msg-%d", i))
		require.NoError(t, err)
	}

	got, err := svc.FetchAll(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, m := range got {
		require.Equal(t, fmt.Sprintf("msg-%d", i), m.Content)
	}
}

func TestAppend_SavesMessageAndCountsTokens(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 123_456_789, time.UTC)
	svc := NewService(store, runeCounter, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	id, err := svc.GetOrCreateSession(ctx, "owner", "")
	require.NoError(t, err)

	msg, err := svc.Append(ctx, id, RoleUser, "hello")
	require.NoError(t, err)
	require.Equal(t, 5, msg.Tokens)
	require.Equal(t, now.Truncate(time.Millisecond), msg.Timestamp)

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 5, sess.TotalTokens)

	page, err := store.QueryMessages(ctx, id, "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	require.Equal(t, RoleUser, page.Messages[0].Role)
	require.Equal(t, "hello", page.Messages[0].Content)
}

func TestAppend_CounterFailureLeavesMessage(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failAddTokens: true}
	svc := NewService(store, runeCounter)
	ctx := context.Background()

	_, err := svc.Append(ctx, "s1", RoleAssistant, "orphan")
	require.ErrorIs(t, err, errDown)
	require.Equal(t, apperr.StoreUnavailable, apperr.KindOf(err))

	// the message write is not rolled back
	page, err := store.QueryMessages(ctx, "s1", "", 10)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
}

func TestAppend_MessageFailure(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failPutMessage: true}
	svc := NewService(store, runeCounter)

	_, err := svc.Append(context.Background(), "s1", RoleUser, "x")
	require.Equal(t, apperr.StoreUnavailable, apperr.KindOf(err))
}

func TestGetOrCreateSession(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc := NewService(store, runeCounter, WithClock(func() time.Time { return now }), WithRetention(48*time.Hour))
	ctx := context.Background()

	first, err := svc.GetOrCreateSession(ctx, "owner", "")
	require.NoError(t, err)
	second, err := svc.GetOrCreateSession(ctx, "owner", "")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	sess, err := svc.Session(ctx, first)
	require.NoError(t, err)
	require.Equal(t, "owner", sess.OwnerID)
	require.Equal(t, now, sess.CreatedAt)
	require.Equal(t, now.Add(48*time.Hour), sess.ExpiresAt)
	require.Zero(t, sess.TotalTokens)

	same, err := svc.GetOrCreateSession(ctx, "someone-else", "existing-id")
	require.NoError(t, err)
	require.Equal(t, "existing-id", same)
	_, err = store.GetSession(ctx, "existing-id")
	require.ErrorIs(t, err, ErrSessionNotFound, "a supplied id is never written")
}

func TestGetOrCreateSession_StoreError(t *testing.T) {
	svc := NewService(&failingStore{MemoryStore: NewMemoryStore(), failPutSession: true}, runeCounter)
	_, err := svc.GetOrCreateSession(context.Background(), "owner", "")
	require.Equal(t, apperr.StoreUnavailable, apperr.KindOf(err))
}

func TestSession_NotFound(t *testing.T) {
	svc := NewService(NewMemoryStore(), runeCounter)
	_, err := svc.Session(context.Background(), "missing")
	require.ErrorIs(t, err, ErrSessionNotFound)
}
