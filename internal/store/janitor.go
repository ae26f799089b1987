package store

import (
	"context"
	"log/slog"
	"time"
)

// DefaultJanitorInterval is how often StartJanitor sweeps when no interval is given.
const DefaultJanitorInterval = time.Minute

// StartJanitor periodically purges sessions idle for longer than ttl.
// It returns immediately when ttl is not positive. The goroutine stops when ctx is done.
func StartJanitor(ctx context.Context, st Store, ttl, interval time.Duration) {
	if ttl <= 0 {
		slog.Debug("store.StartJanitor: session TTL disabled, janitor not started")
		return
	}
	if interval <= 0 {
		interval = DefaultJanitorInterval
	}
	slog.Info("store.StartJanitor: starting idle session janitor", "ttl", ttl, "interval", interval)

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("store.StartJanitor: stopped")
				return
			case now := <-ticker.C:
				n, err := st.PurgeIdle(ctx, now.Add(-ttl))
				if err != nil {
					slog.Error("store.StartJanitor: purge failed", "error", err)
					continue
				}
				if n > 0 {
					slog.Info("store.StartJanitor: purged idle sessions", "count", n)
				}
			}
		}
	}()
}
