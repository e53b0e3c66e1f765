// Package monitor keeps RCON connections to game servers alive. A cron
// sweep polls every candidate server's status on a schedule with
// exponential backoff on failures; a bus subscription connects
// immediately when a server's log stream authenticates so sessions are
// reconstructed without waiting for the next sweep.
package monitor

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"halflife-tracker/internal/bus"
	"halflife-tracker/internal/events"
	"halflife-tracker/internal/rcon"
	"halflife-tracker/internal/servers"
	"halflife-tracker/internal/sessions"
)

// connectTimeout bounds the event-driven immediate connect.
const connectTimeout = 30 * time.Second

// ServerSource is the slice of the server repository the monitor needs.
type ServerSource interface {
	FindWithRcon(ctx context.Context) ([]*servers.Server, error)
	FindByExternalID(ctx context.Context, externalID string) (*servers.Server, error)
	UpdateInfo(ctx context.Context, externalID, currentMap string, activePlayers, maxPlayers int) error
}

// StatusPool is the slice of the RCON pool the monitor needs. Status
// dials on demand, so a successful call doubles as a connect.
type StatusPool interface {
	IsConnected(serverID string) bool
	Status(ctx context.Context, serverID string) (*rcon.StatusInfo, error)
	Disconnect(serverID string)
}

// SessionSync reconciles the session store against a live roster.
type SessionSync interface {
	SynchronizeServerSessions(ctx context.Context, serverID string, roster []sessions.StatusPlayer, opts sessions.SyncOptions) (sessions.SyncResult, error)
}

// Monitor owns per-server failure state and the polling sweep.
type Monitor struct {
	servers  ServerSource
	rcon     StatusPool
	sessions SessionSync
	backoff  *Backoff
	log      *slog.Logger

	// maxParallel bounds how many servers one sweep polls at once.
	maxParallel int

	mu            sync.Mutex
	connecting    map[string]bool
	authenticated map[string]bool
}

// New returns a monitor. The backoff calculator is owned by the monitor;
// other components read health through it.
func New(srv ServerSource, rc StatusPool, sync SessionSync, cfg BackoffConfig, log *slog.Logger) *Monitor {
	if log == nil {
		log = slog.Default()
	}
	return &Monitor{
		servers:       srv,
		rcon:          rc,
		sessions:      sync,
		backoff:       NewBackoff(cfg),
		log:           log.With("component", "monitor"),
		maxParallel:   4,
		connecting:    make(map[string]bool),
		authenticated: make(map[string]bool),
	}
}

// Backoff exposes the failure calculator for health inspection.
func (m *Monitor) Backoff() *Backoff { return m.backoff }

// Register subscribes the monitor to server-authentication events so a
// freshly logging server is connected without waiting for the sweep.
func (m *Monitor) Register(b *bus.Bus) {
	b.On(events.TypeServerAuthenticated, func(ctx context.Context, e *events.Event) error {
		m.onServerAuthenticated(e.ServerID)
		return nil
	})
}

// onServerAuthenticated schedules an immediate async connect. A guard
// map prevents duplicate work when a sweep or a second authentication
// races this one.
func (m *Monitor) onServerAuthenticated(serverID string) {
	m.mu.Lock()
	m.authenticated[serverID] = true
	if m.connecting[serverID] {
		m.mu.Unlock()
		return
	}
	m.connecting[serverID] = true
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.connecting, serverID)
			m.mu.Unlock()
		}()

		// Detached from the emit: the connect outlives the event dispatch.
		ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
		defer cancel()

		if m.rcon.IsConnected(serverID) {
			m.log.Debug("server already connected, skipping immediate connect", "server", serverID)
			return
		}

		srv, err := m.servers.FindByExternalID(ctx, serverID)
		if err != nil {
			m.log.Warn("authenticated server not in storage", "server", serverID, "error", err)
			return
		}
		m.pollServer(ctx, srv, true)
	}()
}

// SweepResult counts what one sweep did.
type SweepResult struct {
	Polled  int
	Skipped int
	Failed  int
}

// Sweep polls every candidate server that is due. Candidates are the
// servers with RCON credentials plus any server that authenticated this
// process epoch; servers inside their backoff window are skipped.
func (m *Monitor) Sweep(ctx context.Context) SweepResult {
	var res SweepResult

	candidates, err := m.candidates(ctx)
	if err != nil {
		m.log.Error("failed to list candidate servers", "error", err)
		return res
	}

	p := pool.New().WithContext(ctx).WithMaxGoroutines(m.maxParallel)
	var mu sync.Mutex

	for _, srv := range candidates {
		if !m.backoff.ShouldRetry(srv.ExternalID) {
			res.Skipped++
			continue
		}
		srv := srv
		res.Polled++
		p.Go(func(ctx context.Context) error {
			wasConnected := m.rcon.IsConnected(srv.ExternalID)
			if !m.pollServer(ctx, srv, !wasConnected) {
				mu.Lock()
				res.Failed++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = p.Wait()

	m.log.Debug("monitor sweep finished",
		"polled", res.Polled, "skipped", res.Skipped, "failed", res.Failed)
	return res
}

func (m *Monitor) candidates(ctx context.Context) ([]*servers.Server, error) {
	list, err := m.servers.FindWithRcon(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]bool, len(list))
	for _, srv := range list {
		known[srv.ExternalID] = true
	}

	m.mu.Lock()
	extra := make([]string, 0, len(m.authenticated))
	for id := range m.authenticated {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	m.mu.Unlock()
	sort.Strings(extra)

	for _, id := range extra {
		srv, err := m.servers.FindByExternalID(ctx, id)
		if err != nil || !srv.HasRconCredentials() {
			continue
		}
		list = append(list, srv)
	}
	return list, nil
}

// pollServer queries one server's status and updates health state.
// syncSessions rebuilds the session store from the roster, wanted on
// fresh connections where events were missed.
func (m *Monitor) pollServer(ctx context.Context, srv *servers.Server, syncSessions bool) bool {
	serverID := srv.ExternalID

	status, err := m.rcon.Status(ctx, serverID)
	if err != nil {
		st := m.backoff.RecordFailure(serverID)
		m.log.Warn("server poll failed",
			"server", serverID, "failures", st.ConsecutiveFailures,
			"status", string(st.Status), "nextRetry", st.NextRetryAt, "error", err)
		if st.Status == StatusDormant {
			// Hold no connection for a server that stopped answering.
			m.rcon.Disconnect(serverID)
		}
		return false
	}

	m.backoff.RecordSuccess(serverID)

	if err := m.servers.UpdateInfo(ctx, serverID, status.Map, status.ActivePlayers, status.MaxPlayers); err != nil {
		m.log.Warn("failed to store server info", "server", serverID, "error", err)
	}

	if syncSessions && m.sessions != nil {
		roster := toSessionRoster(status.Players)
		if _, err := m.sessions.SynchronizeServerSessions(ctx, serverID, roster, sessions.SyncOptions{
			IgnoreBots:    srv.IgnoreBots,
			ClearExisting: true,
		}); err != nil {
			m.log.Warn("session synchronization failed", "server", serverID, "error", err)
		}
	}
	return true
}

func toSessionRoster(list []rcon.StatusPlayer) []sessions.StatusPlayer {
	out := make([]sessions.StatusPlayer, 0, len(list))
	for _, p := range list {
		out = append(out, sessions.StatusPlayer{
			Name:     p.Name,
			UserID:   p.UserID,
			UniqueID: p.UniqueID,
			IsBot:    p.IsBot,
			Address:  p.Address,
		})
	}
	return out
}
