package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/sourcegraph/conc/pool"

	"halflife-tracker/internal/a2s"
	"halflife-tracker/internal/servers"
)

const (
	infoRefreshTimeout  = 30 * time.Second
	infoRefreshParallel = 4
)

// InfoQuerier answers game-server info queries.
type InfoQuerier interface {
	QueryInfo(ctx context.Context, address string) (*a2s.Info, error)
}

// InfoStore lists servers and persists their refreshed live state.
type InfoStore interface {
	FindAll(ctx context.Context) ([]*servers.Server, error)
	UpdateInfo(ctx context.Context, externalID, currentMap string, activePlayers, maxPlayers int) error
}

// RegisterServerInfo refreshes map and player counts for every server
// with a query address once a minute.
func RegisterServerInfo(app core.App, querier InfoQuerier, store InfoStore, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	app.Cron().MustAdd("server_info", "* * * * *", func() {
		ctx, cancel := context.WithTimeout(context.Background(), infoRefreshTimeout)
		defer cancel()

		refreshServerInfo(ctx, querier, store, log)
	})
}

func refreshServerInfo(ctx context.Context, querier InfoQuerier, store InfoStore, log *slog.Logger) {
	list, err := store.FindAll(ctx)
	if err != nil {
		log.Error("failed to list servers for info refresh", "error", err)
		return
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(infoRefreshParallel)
	for _, srv := range list {
		if srv.Address == "" {
			continue
		}
		srv := srv
		p.Go(func(ctx context.Context) error {
			info, err := querier.QueryInfo(ctx, srv.Address)
			if err != nil {
				// Offline servers are routine, the monitor handles reachability.
				log.Debug("server info query failed", "server", srv.ExternalID, "error", err)
				return nil
			}
			if err := store.UpdateInfo(ctx, srv.ExternalID, info.Map, info.Players, info.MaxPlayers); err != nil {
				log.Warn("failed to store server info",
					"server", srv.ExternalID, "error", err)
			}
			return nil
		})
	}
	_ = p.Wait()
}
