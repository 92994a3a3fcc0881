package history

import (
	"context"
	"time"

	"github.com/comigor/calmchat/internal/logger"
)

// Sweep deletes expired sessions every interval until ctx is done. It is how
// the relational drivers get the passive expiry a TTL-capable store would
// provide on its own.
func Sweep(ctx context.Context, store Store, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			SweepOnce(ctx, store, now)
		}
	}
}

// SweepOnce runs a single expiry pass.
func SweepOnce(ctx context.Context, store Store, now time.Time) {
	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		logger.L.Warn("expired session sweep failed", "error", err)
		return
	}
	if n > 0 {
		logger.L.Info("expired sessions removed", "count", n)
	}
}
