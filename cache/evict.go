package cache

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// RunEviction runs a loop physically removing stale entries from the store,
// once every interval, until the context is done.
// Removed entries can no longer be served as stale, so only run it when
// stale entries are not needed past the interval.
//
// The store must be safe for concurrent use, since the loop runs alongside requests.
// The logger is taken from the context (see zerolog.Ctx).
func RunEviction(ctx context.Context, store Evicter, every time.Duration) {
	logger := zerolog.Ctx(ctx)
	logger.Info().Msgf("Starting eviction loop with interval %s", every)
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Stopping eviction loop")
			return
		case <-ticker.C:
			if n := store.EvictExpired(); n > 0 {
				logger.Debug().Int("evicted", n).Msg("Evicted expired entries")
			} else {
				logger.Trace().Msg("No expired entries, pausing eviction")
			}
		}
	}
}
