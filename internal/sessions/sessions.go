// Package sessions tracks who is on which server slot right now. The
// in-memory store is the source of truth between events; RCON status
// responses reconcile it when the daemon reconnects or drifts.
package sessions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/players"
	"halflife-tracker/internal/resolver"
	"halflife-tracker/internal/servers"
	"halflife-tracker/internal/store"
)

// PlayerResolver is the slice of the identity resolver the service needs.
type PlayerResolver interface {
	ResolvePlayer(ctx context.Context, serverID, game string, meta *events.PlayerMeta) (string, error)
}

// ServerLookup is the slice of the server repository the service needs.
type ServerLookup interface {
	FindByExternalID(ctx context.Context, externalID string) (*servers.Server, error)
}

// PlayerSource loads durable players and their unique ids for fallback
// session reconstruction.
type PlayerSource interface {
	FindByID(ctx context.Context, id string) (*players.Player, error)
	FindUniqueIDs(ctx context.Context, playerID string) ([]string, error)
}

// StatusSource provides the live roster as the game server reports it.
type StatusSource interface {
	Status(ctx context.Context, serverID string) ([]StatusPlayer, error)
}

// Service wraps the raw session store with identity resolution and
// RCON-status reconciliation.
type Service struct {
	store    *store.Store
	resolver PlayerResolver
	servers  ServerLookup
	players  PlayerSource
	status   StatusSource
	log      *slog.Logger
}

// NewService returns a session service. players and status may be nil, in
// which case fallback session creation is unavailable.
func NewService(st *store.Store, res PlayerResolver, srv ServerLookup, pl PlayerSource, status StatusSource, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:    st,
		resolver: res,
		servers:  srv,
		players:  pl,
		status:   status,
		log:      log.With("component", "sessions"),
	}
}

// Store exposes the underlying session store for read paths that do not
// need resolution.
func (s *Service) Store() *store.Store { return s.store }

// CreateFromMeta resolves the event author and opens a session on its slot.
// Used by the connect handler and as the fallback when an event arrives for
// a slot nothing ever connected on.
func (s *Service) CreateFromMeta(ctx context.Context, serverID, game string, meta *events.PlayerMeta, connectedAt time.Time) (*store.Session, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: session requires player metadata", events.ErrValidation)
	}
	playerID, err := s.resolver.ResolvePlayer(ctx, serverID, game, meta)
	if err != nil {
		return nil, err
	}

	sess := &store.Session{
		ServerID:    serverID,
		GameUserID:  meta.GameUserID,
		PlayerID:    playerID,
		SteamID:     meta.SteamID,
		PlayerName:  meta.PlayerName,
		IsBot:       meta.IsBot,
		Team:        meta.Team,
		ConnectedAt: connectedAt,
	}
	if err := s.store.Create(sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get returns the session on a slot, nil when the slot is empty.
func (s *Service) Get(serverID string, gameUserID int) *store.Session {
	return s.store.Get(serverID, gameUserID)
}

// GetByPlayerID returns the session of a durable player id on a server.
func (s *Service) GetByPlayerID(serverID, playerID string) *store.Session {
	return s.store.GetByPlayerID(serverID, playerID)
}

// GetBySteamID returns the session of a steam id on a server, whatever
// slot it sits on.
func (s *Service) GetBySteamID(serverID, steamID string) *store.Session {
	return s.store.GetBySteamID(serverID, steamID)
}

// GetOrCreate returns the slot session, falling back to creating one from
// the event metadata. Events can legitimately arrive before their connect
// when the daemon starts mid-match.
func (s *Service) GetOrCreate(ctx context.Context, serverID, game string, meta *events.PlayerMeta, at time.Time) (*store.Session, error) {
	if meta == nil {
		return nil, fmt.Errorf("%w: session requires player metadata", events.ErrValidation)
	}
	if sess := s.store.Get(serverID, meta.GameUserID); sess != nil {
		if sess.SteamID == meta.SteamID {
			s.store.Touch(serverID, meta.GameUserID, at)
			return sess, nil
		}
		// Slot was silently reused; drop the stale occupant.
		s.store.Remove(serverID, meta.GameUserID)
		s.log.Warn("cleaned up mismatched session",
			"server", serverID, "slot", meta.GameUserID,
			"had", sess.SteamID, "got", meta.SteamID)
	}
	return s.CreateFromMeta(ctx, serverID, game, meta, at)
}

// Update applies a partial update to a slot session.
func (s *Service) Update(serverID string, gameUserID int, upd store.SessionUpdate) bool {
	return s.store.Update(serverID, gameUserID, upd)
}

// Touch bumps last-seen on a slot session.
func (s *Service) Touch(serverID string, gameUserID int, at time.Time) bool {
	return s.store.Touch(serverID, gameUserID, at)
}

// Remove closes the session on a slot.
func (s *Service) Remove(serverID string, gameUserID int) bool {
	return s.store.Remove(serverID, gameUserID)
}

// ClearServer drops every session on a server.
func (s *Service) ClearServer(serverID string) int {
	return s.store.ClearServer(serverID)
}

// Count returns how many sessions a server has.
func (s *Service) Count(serverID string) int {
	return s.store.CountServer(serverID)
}

// StatusPlayer is one row of a parsed RCON status player list.
type StatusPlayer struct {
	Name     string
	UserID   int
	UniqueID string
	IsBot    bool
	Address  string
}

// SyncOptions controls reconciliation.
type SyncOptions struct {
	IgnoreBots    bool
	ClearExisting bool
}

// SyncResult counts what a reconciliation did.
type SyncResult struct {
	Created int
	Removed int
	Skipped int
	Failed  int
}

// SynchronizeFromStatus pulls the live roster over RCON and reconciles the
// store against it.
func (s *Service) SynchronizeFromStatus(ctx context.Context, serverID string, opts SyncOptions) (SyncResult, error) {
	if s.status == nil {
		return SyncResult{}, fmt.Errorf("no status source configured")
	}
	roster, err := s.status.Status(ctx, serverID)
	if err != nil {
		return SyncResult{}, fmt.Errorf("failed to query server status: %w", err)
	}
	return s.SynchronizeServerSessions(ctx, serverID, roster, opts)
}

// SynchronizeServerSessions reconciles the store against an RCON status
// player list. Individual player failures are counted, not fatal; one
// broken identity must not abort the rest of the roster.
func (s *Service) SynchronizeServerSessions(ctx context.Context, serverID string, roster []StatusPlayer, opts SyncOptions) (SyncResult, error) {
	var res SyncResult

	game := ""
	if srv, err := s.servers.FindByExternalID(ctx, serverID); err == nil {
		game = srv.Game
	}

	if opts.ClearExisting {
		res.Removed += s.store.ClearServer(serverID)
	} else {
		live := make(map[int]bool, len(roster))
		for _, p := range roster {
			live[p.UserID] = true
		}
		for _, sess := range s.store.ServerSessions(serverID) {
			if !live[sess.GameUserID] {
				if s.store.Remove(serverID, sess.GameUserID) {
					res.Removed++
				}
			}
		}
	}

	now := time.Now()
	for _, p := range roster {
		if opts.IgnoreBots && p.IsBot {
			res.Skipped++
			continue
		}

		if existing := s.store.Get(serverID, p.UserID); existing != nil {
			if existing.SteamID == p.UniqueID {
				s.store.Touch(serverID, p.UserID, now)
				res.Skipped++
				continue
			}
			s.store.Remove(serverID, p.UserID)
			res.Removed++
		}

		meta := &events.PlayerMeta{
			PlayerName: p.Name,
			GameUserID: p.UserID,
			SteamID:    p.UniqueID,
			IsBot:      p.IsBot,
		}
		if _, err := s.CreateFromMeta(ctx, serverID, game, meta, now); err != nil {
			s.log.Warn("failed to sync session",
				"server", serverID, "slot", p.UserID, "player", p.Name, "error", err)
			res.Failed++
			continue
		}
		res.Created++
	}

	s.log.Info("synchronized sessions",
		"server", serverID, "created", res.Created, "removed", res.Removed,
		"skipped", res.Skipped, "failed", res.Failed)
	return res, nil
}

// FallbackSession rebuilds a session for a durable player that has none,
// by matching the player against the server's live roster. This happens
// after daemon restarts: players are already connected but their connects
// were never observed.
func (s *Service) FallbackSession(ctx context.Context, serverID, playerID string) (*store.Session, error) {
	if s.players == nil || s.status == nil {
		return nil, fmt.Errorf("%w: fallback session sources not configured", events.ErrNotFound)
	}

	player, err := s.players.FindByID(ctx, playerID)
	if err != nil {
		return nil, err
	}
	uids, err := s.players.FindUniqueIDs(ctx, playerID)
	if err != nil {
		uids = nil
	}
	known := make(map[string]bool, len(uids))
	for _, uid := range uids {
		known[uid] = true
	}

	roster, err := s.status.Status(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to query server status: %w", err)
	}

	// Prefer a unique-id match; the stored ids are normalized, the roster's
	// may not be.
	var match *StatusPlayer
	for i := range roster {
		if roster[i].IsBot {
			continue
		}
		uid := roster[i].UniqueID
		if norm, nerr := resolver.NormalizeSteamID(uid); nerr == nil {
			uid = norm
		}
		if known[uid] || known[roster[i].UniqueID] {
			match = &roster[i]
			break
		}
	}
	if match == nil {
		for i := range roster {
			if !roster[i].IsBot && roster[i].Name == player.LastName {
				match = &roster[i]
				break
			}
		}
	}
	if match == nil {
		s.log.Warn("no live slot matches player, fallback failed",
			"server", serverID, "playerId", playerID, "name", player.LastName)
		return nil, fmt.Errorf("%w: player %s has no live slot on server %s", events.ErrNotFound, playerID, serverID)
	}

	sess := &store.Session{
		ServerID:    serverID,
		GameUserID:  match.UserID,
		PlayerID:    playerID,
		SteamID:     match.UniqueID,
		PlayerName:  match.Name,
		IsBot:       match.IsBot,
		ConnectedAt: time.Now(),
	}
	if err := s.store.Create(sess); err != nil {
		return nil, err
	}
	s.log.Info("manufactured fallback session",
		"server", serverID, "playerId", playerID, "slot", match.UserID)
	return sess, nil
}

// CanSendPrivateMessage reports whether the player can be addressed
// individually right now: a live non-bot session, rebuilt on demand when
// missing.
func (s *Service) CanSendPrivateMessage(ctx context.Context, serverID, playerID string) bool {
	if sess := s.store.GetByPlayerID(serverID, playerID); sess != nil {
		return !sess.IsBot
	}
	sess, err := s.FallbackSession(ctx, serverID, playerID)
	if err != nil {
		return false
	}
	return !sess.IsBot
}

// ConvertToGameUserIDs maps durable player ids to their current slot on a
// server, attempting fallback creation for players without one. Bots are
// always filtered out.
func (s *Service) ConvertToGameUserIDs(ctx context.Context, serverID string, playerIDs []string) map[string]int {
	out := make(map[string]int, len(playerIDs))
	for _, id := range playerIDs {
		sess := s.store.GetByPlayerID(serverID, id)
		if sess == nil {
			var err error
			sess, err = s.FallbackSession(ctx, serverID, id)
			if err != nil {
				continue
			}
		}
		if sess.IsBot {
			continue
		}
		out[id] = sess.GameUserID
	}
	return out
}

// EngineSupportsPrivateMessages reports whether the engine can target a
// single slot in chat output. The old engine has no targeted say, so
// everything broadcasts.
func EngineSupportsPrivateMessages(engineType string) bool {
	return engineType == "source"
}
