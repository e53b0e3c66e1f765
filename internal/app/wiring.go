package app

import (
	"context"
	"fmt"
	"log/slog"

	"halflife-tracker/internal/config"
	"halflife-tracker/internal/ingress"
	"halflife-tracker/internal/queue"
	"halflife-tracker/internal/rcon"
	"halflife-tracker/internal/servers"
	"halflife-tracker/internal/sessions"
)

// rconStatusSource adapts the RCON pool's parsed status response to the
// roster shape the session service reconciles against.
type rconStatusSource struct {
	pool *rcon.Pool
}

func (s *rconStatusSource) Status(ctx context.Context, serverID string) ([]sessions.StatusPlayer, error) {
	info, err := s.pool.Status(ctx, serverID)
	if err != nil {
		return nil, err
	}
	roster := make([]sessions.StatusPlayer, 0, len(info.Players))
	for _, p := range info.Players {
		roster = append(roster, sessions.StatusPlayer{
			Name:     p.Name,
			UserID:   p.UserID,
			UniqueID: p.UniqueID,
			IsBot:    p.IsBot,
			Address:  p.Address,
		})
	}
	return roster, nil
}

// queryStore overlays configured A2S query addresses onto server
// records for the server_info cron. Game servers often answer queries
// on a different port than the one that appears in their address.
type queryStore struct {
	repo      *servers.Repository
	queryAddr map[string]string
}

func newQueryStore(repo *servers.Repository, cfg *config.Config) *queryStore {
	overlay := make(map[string]string)
	for _, sc := range cfg.EnabledServers() {
		if addr := sc.QueryAddr(); addr != "" {
			overlay[sc.ID] = addr
		}
	}
	return &queryStore{repo: repo, queryAddr: overlay}
}

func (q *queryStore) FindAll(ctx context.Context) ([]*servers.Server, error) {
	list, err := q.repo.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	for _, srv := range list {
		if addr, ok := q.queryAddr[srv.ExternalID]; ok {
			srv.Address = addr
		}
	}
	return list, nil
}

func (q *queryStore) UpdateInfo(ctx context.Context, externalID, currentMap string, activePlayers, maxPlayers int) error {
	return q.repo.UpdateInfo(ctx, externalID, currentMap, activePlayers, maxPlayers)
}

// startIngress brings up the UDP listener and the file tailers sharing
// one publish pipeline. serveCtx stops their goroutines at teardown.
func (app *App) startIngress(ctx, serveCtx context.Context, transport *queue.Transport, srvRepo *servers.Repository, log *slog.Logger) error {
	cfg := app.Config
	pipeline := ingress.NewPipeline(queue.NewPublisher(transport), srvRepo, log)

	if routes := cfg.UDPRoutes(); len(routes) > 0 && cfg.UDPBind != "" {
		udp := ingress.NewUDPListener(pipeline, routes, log)
		if err := udp.Listen(cfg.UDPBind); err != nil {
			return fmt.Errorf("failed to start udp ingress: %w", err)
		}
		app.udp = udp
		go func() {
			if err := udp.Run(serveCtx); err != nil {
				log.Error("udp ingress stopped", "error", err)
			}
		}()
	}

	var targets []ingress.TailTarget
	for _, sc := range cfg.EnabledServers() {
		if sc.LogFile == "" {
			continue
		}
		t := ingress.TailTarget{ServerID: sc.ID, Path: sc.LogFile}
		// Resume where the previous run left off.
		if srv, err := srvRepo.FindByExternalID(ctx, sc.ID); err == nil {
			t.Offset = srv.LogOffset
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return nil
	}

	tailer, err := ingress.NewTailer(pipeline, srvRepo, log)
	if err != nil {
		return fmt.Errorf("failed to start file ingress: %w", err)
	}
	app.tailer = tailer
	for _, t := range targets {
		if err := tailer.Add(ctx, t); err != nil {
			// A missing log file should not keep the daemon down; the
			// server may simply not have started yet.
			log.Warn("skipping log tail target", "server", t.ServerID, "error", err)
		}
	}
	go func() {
		if err := tailer.Run(serveCtx); err != nil {
			log.Error("file ingress stopped", "error", err)
		}
	}()
	return nil
}
