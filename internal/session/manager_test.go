package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/tokens"
)

func newManager(t *testing.T) (*Manager, *history.MemoryStore) {
	t.Helper()
	store := history.NewMemoryStore()
	svc := history.NewService(store, tokens.CharEstimator{CharsPerToken: 1})
	return NewManager(svc), store
}

func TestResolve_CreatesDistinctSessions(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	a, err := m.Resolve(ctx, "owner", "")
	require.NoError(t, err)
	b, err := m.Resolve(ctx, "owner", "")
	require.NoError(t, err)
	require.NotEqual(t, a, b)

	for _, id := range []string{a, b} {
		sess, err := store.GetSession(ctx, id)
		require.NoError(t, err)
		require.Equal(t, "owner", sess.OwnerID)
	}
}

func TestResolve_SuppliedIDUnchanged(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	for range 2 {
		id, err := m.Resolve(ctx, "owner", "abc-123")
		require.NoError(t, err)
		require.Equal(t, "abc-123", id)
	}
	_, err := store.GetSession(ctx, "abc-123")
	require.ErrorIs(t, err, history.ErrSessionNotFound)
}

func TestRecordUsage(t *testing.T) {
	m, store := newManager(t)
	ctx := context.Background()

	id, err := m.Resolve(ctx, "owner", "")
	require.NoError(t, err)
	require.NoError(t, m.RecordUsage(ctx, id, 7))
	require.NoError(t, m.RecordUsage(ctx, id, 3))
	require.NoError(t, m.RecordUsage(ctx, id, 0))

	sess, err := store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, 10, sess.TotalTokens)
}
