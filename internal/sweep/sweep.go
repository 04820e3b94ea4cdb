// Package sweep runs the background expiry worker. The sweep is advisory:
// read paths already filter expired rows, so any cadence is safe.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/openavatar/concierge/internal/store"
)

// Start launches the expiry worker. It stops when ctx is cancelled.
func Start(ctx context.Context, repo store.Repository, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				slog.Info("Expiry sweeper stopped")
				return
			case <-ticker.C:
				runOnce(ctx, repo)
			}
		}
	}()
}

func runOnce(ctx context.Context, repo store.Repository) {
	now := time.Now()

	sessions, err := repo.DeleteExpiredSessions(ctx, now)
	if err != nil {
		slog.Error("Failed to sweep expired sessions", "error", err)
	}

	presentations, err := repo.ExpirePresentations(ctx, now)
	if err != nil {
		slog.Error("Failed to expire presentations", "error", err)
	}

	if sessions > 0 || presentations > 0 {
		slog.Info("Expiry sweep complete",
			"sessions_deleted", sessions, "presentations_expired", presentations)
	}
}
