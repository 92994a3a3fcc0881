package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/comigor/calmchat/internal/config"
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/store/sqlite"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, config.HistoryConfig{Driver: config.DriverMemory})
	require.NoError(t, err)
	require.IsType(t, &history.MemoryStore{}, s)

	s, err = Open(ctx, config.HistoryConfig{Driver: config.DriverSQLite, DSN: filepath.Join(t.TempDir(), "h.db")})
	require.NoError(t, err)
	require.IsType(t, &sqlite.Store{}, s)
	require.NoError(t, s.Close())

	_, err = Open(ctx, config.HistoryConfig{Driver: "dynamo"})
	require.Error(t, err)
}
