// Package jobs wires the recurring maintenance work onto the PocketBase
// scheduler: RCON sweeps, live server info refreshes and event row
// pruning.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"halflife-tracker/internal/monitor"
)

const sweepTimeout = 30 * time.Second

// Sweeper is the monitor surface the cron needs.
type Sweeper interface {
	Sweep(ctx context.Context) monitor.SweepResult
}

// RegisterRconMonitor polls every due server once a minute. Backoff for
// unreachable servers lives in the monitor, not here.
func RegisterRconMonitor(app core.App, sweeper Sweeper, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	app.Cron().MustAdd("rcon_monitor", "* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
		defer cancel()

		res := sweeper.Sweep(ctx)
		if res.Failed > 0 {
			log.Warn("rcon sweep finished with failures",
				"polled", res.Polled, "skipped", res.Skipped, "failed", res.Failed)
		}
	})
}
