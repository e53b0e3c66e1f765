package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"
)

const pruneTimeout = 5 * time.Minute

// Pruner deletes aged event rows.
type Pruner interface {
	PruneEventRows(ctx context.Context, olderThan time.Duration) (int, error)
}

// RegisterEventPrune deletes event rows older than the retention window
// every night. A zero or negative retention disables pruning.
func RegisterEventPrune(app core.App, pruner Pruner, retention time.Duration, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	if retention <= 0 {
		log.Info("event pruning disabled, no retention configured")
		return
	}
	app.Cron().MustAdd("event_prune", "0 4 * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
		defer cancel()

		pruneEvents(ctx, pruner, retention, log)
	})
}

func pruneEvents(ctx context.Context, pruner Pruner, retention time.Duration, log *slog.Logger) {
	n, err := pruner.PruneEventRows(ctx, retention)
	if err != nil {
		log.Error("event prune failed", "error", err)
		return
	}
	if n > 0 {
		log.Info("pruned event rows", "rows", n, "older_than", retention)
	}
}
