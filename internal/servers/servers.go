// Package servers persists game server records: identity, RCON
// credentials, notification settings and live state refreshed by the
// monitor and info jobs.
package servers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"halflife-tracker/internal/events"
)

// Server mirrors a servers record.
type Server struct {
	RecordID                 string
	ExternalID               string
	Name                     string
	Game                     string
	Address                  string
	RconAddress              string
	RconPassword             string
	EngineType               string
	IgnoreBots               bool
	MinPlayers               int
	BroadcastCommand         string
	BroadcastCommandAnnounce string
	ColorEnabled             bool
	NotifyEventTypes         []string
	CurrentMap               string
	ActivePlayers            int
	MaxPlayers               int
	LogFile                  string
	LogOffset                int64
	LastAuthenticated        time.Time
}

// HasRconCredentials reports whether the server can be reached over RCON.
func (s *Server) HasRconCredentials() bool {
	return s.RconAddress != "" && s.RconPassword != ""
}

// Repository wraps the PocketBase app for server persistence.
type Repository struct {
	app core.App
	log *slog.Logger
}

// NewRepository returns a repository bound to app.
func NewRepository(app core.App, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{app: app, log: log.With("component", "servers")}
}

func serverFromRecord(rec *core.Record) *Server {
	s := &Server{
		RecordID:                 rec.Id,
		ExternalID:               rec.GetString("external_id"),
		Name:                     rec.GetString("name"),
		Game:                     rec.GetString("game"),
		Address:                  rec.GetString("address"),
		RconAddress:              rec.GetString("rcon_address"),
		RconPassword:             rec.GetString("rcon_password"),
		EngineType:               rec.GetString("engine_type"),
		IgnoreBots:               rec.GetBool("ignore_bots"),
		MinPlayers:               rec.GetInt("min_players"),
		BroadcastCommand:         rec.GetString("broadcast_command"),
		BroadcastCommandAnnounce: rec.GetString("broadcast_command_announce"),
		ColorEnabled:             rec.GetBool("color_enabled"),
		CurrentMap:               rec.GetString("current_map"),
		ActivePlayers:            rec.GetInt("active_players"),
		MaxPlayers:               rec.GetInt("max_players"),
		LogFile:                  rec.GetString("log_file"),
		LogOffset:                int64(rec.GetInt("log_offset")),
		LastAuthenticated:        rec.GetDateTime("last_authenticated").Time(),
	}
	if err := rec.UnmarshalJSONField("notify_event_types", &s.NotifyEventTypes); err != nil {
		s.NotifyEventTypes = nil
	}
	return s
}

func (r *Repository) findRecord(externalID string) (*core.Record, error) {
	rec, err := r.app.FindFirstRecordByFilter(
		"servers",
		"external_id = {:id}",
		map[string]any{"id": externalID},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: server %s", events.ErrNotFound, externalID)
	}
	return rec, nil
}

// FindByExternalID loads a server by its durable id.
func (r *Repository) FindByExternalID(ctx context.Context, externalID string) (*Server, error) {
	rec, err := r.findRecord(externalID)
	if err != nil {
		return nil, err
	}
	return serverFromRecord(rec), nil
}

// FindAll returns every configured server ordered by external id.
func (r *Repository) FindAll(ctx context.Context) ([]*Server, error) {
	recs, err := r.app.FindRecordsByFilter("servers", "id != ''", "external_id", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to load servers: %w", err)
	}
	out := make([]*Server, 0, len(recs))
	for _, rec := range recs {
		out = append(out, serverFromRecord(rec))
	}
	return out, nil
}

// FindWithRcon returns servers that carry usable RCON credentials.
func (r *Repository) FindWithRcon(ctx context.Context) ([]*Server, error) {
	all, err := r.FindAll(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, s := range all {
		if s.HasRconCredentials() {
			out = append(out, s)
		}
	}
	return out, nil
}

// GetGame returns the game folder name for a server, empty when unknown.
func (r *Repository) GetGame(ctx context.Context, externalID string) string {
	s, err := r.FindByExternalID(ctx, externalID)
	if err != nil {
		return ""
	}
	return s.Game
}

// GetOrCreate looks a server up by external id, creating a bare record when
// none exists. Used at startup to sync configured servers into storage.
func (r *Repository) GetOrCreate(ctx context.Context, externalID, name, game, address string) (*Server, error) {
	if existing, err := r.FindByExternalID(ctx, externalID); err == nil {
		return existing, nil
	}

	col, err := r.app.FindCollectionByNameOrId("servers")
	if err != nil {
		return nil, fmt.Errorf("failed to load servers collection: %w", err)
	}
	rec := core.NewRecord(col)
	rec.Set("external_id", externalID)
	rec.Set("name", name)
	rec.Set("game", game)
	rec.Set("address", address)
	if err := r.app.Save(rec); err != nil {
		if existing, findErr := r.FindByExternalID(ctx, externalID); findErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create server %s: %w", externalID, err)
	}
	r.log.Info("registered server", "server", externalID, "name", name, "game", game)
	return serverFromRecord(rec), nil
}

// ApplyConfig overwrites the configurable columns from daemon config. Live
// state columns (map, player counts, offsets) are left alone.
func (r *Repository) ApplyConfig(ctx context.Context, s *Server) error {
	rec, err := r.findRecord(s.ExternalID)
	if err != nil {
		return err
	}
	rec.Set("name", s.Name)
	rec.Set("game", s.Game)
	rec.Set("address", s.Address)
	rec.Set("rcon_address", s.RconAddress)
	rec.Set("rcon_password", s.RconPassword)
	rec.Set("engine_type", s.EngineType)
	rec.Set("ignore_bots", s.IgnoreBots)
	rec.Set("min_players", s.MinPlayers)
	rec.Set("broadcast_command", s.BroadcastCommand)
	rec.Set("broadcast_command_announce", s.BroadcastCommandAnnounce)
	rec.Set("color_enabled", s.ColorEnabled)
	rec.Set("notify_event_types", s.NotifyEventTypes)
	rec.Set("log_file", s.LogFile)
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to apply server config: %w", err)
	}
	return nil
}

// UpdateInfo refreshes the live state columns from a server query or RCON
// status response.
func (r *Repository) UpdateInfo(ctx context.Context, externalID, currentMap string, activePlayers, maxPlayers int) error {
	rec, err := r.findRecord(externalID)
	if err != nil {
		return err
	}
	if currentMap != "" {
		rec.Set("current_map", currentMap)
	}
	rec.Set("active_players", activePlayers)
	if maxPlayers > 0 {
		rec.Set("max_players", maxPlayers)
	}
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to update server info: %w", err)
	}
	return nil
}

// MarkAuthenticated stamps last_authenticated with now.
func (r *Repository) MarkAuthenticated(ctx context.Context, externalID string) error {
	rec, err := r.findRecord(externalID)
	if err != nil {
		return err
	}
	rec.Set("last_authenticated", time.Now())
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to mark server authenticated: %w", err)
	}
	return nil
}

// UpdateLogOffset persists the file-tail position so restarts resume where
// they left off.
func (r *Repository) UpdateLogOffset(ctx context.Context, externalID string, offset int64) error {
	rec, err := r.findRecord(externalID)
	if err != nil {
		return err
	}
	rec.Set("log_offset", offset)
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to update log offset: %w", err)
	}
	return nil
}

// NotifyEnabled reports whether the server wants in-game notifications for
// an event type. An empty notify_event_types list disables everything.
func (s *Server) NotifyEnabled(eventType string) bool {
	for _, t := range s.NotifyEventTypes {
		if t == eventType || t == "*" {
			return true
		}
	}
	return false
}
