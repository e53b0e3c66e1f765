// Package players is the persistence layer for durable player records and
// their unique-id mappings. The natural key for a player is
// (unique_id, game); the players collection enforces stat invariants the
// handlers rely on.
package players

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"halflife-tracker/internal/events"
)

// Default rating for newly created players.
const (
	DefaultSkill      = 1000
	DefaultConfidence = 350.0
	DefaultVolatility = 0.06
)

// Player mirrors a players record.
type Player struct {
	ID             string
	LastName       string
	Game           string
	Skill          int
	Confidence     float64
	Volatility     float64
	KillStreak     int
	DeathStreak    int
	Kills          int
	Deaths         int
	Suicides       int
	Teamkills      int
	Headshots      int
	Shots          int
	Hits           int
	ConnectionTime int64
	LastEvent      int64
}

// Repository wraps the PocketBase app for player persistence.
type Repository struct {
	app core.App
	log *slog.Logger
}

// NewRepository returns a repository bound to app.
func NewRepository(app core.App, log *slog.Logger) *Repository {
	if log == nil {
		log = slog.Default()
	}
	return &Repository{app: app, log: log.With("component", "players")}
}

func playerFromRecord(rec *core.Record) *Player {
	return &Player{
		ID:             rec.Id,
		LastName:       rec.GetString("last_name"),
		Game:           rec.GetString("game"),
		Skill:          rec.GetInt("skill"),
		Confidence:     rec.GetFloat("confidence"),
		Volatility:     rec.GetFloat("volatility"),
		KillStreak:     rec.GetInt("kill_streak"),
		DeathStreak:    rec.GetInt("death_streak"),
		Kills:          rec.GetInt("kills"),
		Deaths:         rec.GetInt("deaths"),
		Suicides:       rec.GetInt("suicides"),
		Teamkills:      rec.GetInt("teamkills"),
		Headshots:      rec.GetInt("headshots"),
		Shots:          rec.GetInt("shots"),
		Hits:           rec.GetInt("hits"),
		ConnectionTime: int64(rec.GetInt("connection_time")),
		LastEvent:      int64(rec.GetInt("last_event")),
	}
}

// FindByID loads a player by record id.
func (r *Repository) FindByID(ctx context.Context, id string) (*Player, error) {
	rec, err := r.app.FindRecordById("players", id)
	if err != nil {
		return nil, fmt.Errorf("%w: player %s", events.ErrNotFound, id)
	}
	return playerFromRecord(rec), nil
}

// FindByUniqueID resolves (uniqueId, game) to a player through the
// player_unique_ids mapping.
func (r *Repository) FindByUniqueID(ctx context.Context, uniqueID, game string) (*Player, error) {
	mapping, err := r.app.FindFirstRecordByFilter(
		"player_unique_ids",
		"unique_id = {:uid} && game = {:game}",
		map[string]any{"uid": uniqueID, "game": game},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: unique id %s/%s", events.ErrNotFound, uniqueID, game)
	}
	return r.FindByID(ctx, mapping.GetString("player"))
}

// Create inserts a player with default rating plus its unique-id mapping in
// one transaction.
func (r *Repository) Create(ctx context.Context, uniqueID, game, name string) (*Player, error) {
	var created *Player
	err := r.app.RunInTransaction(func(txApp core.App) error {
		playersCol, err := txApp.FindCollectionByNameOrId("players")
		if err != nil {
			return fmt.Errorf("failed to load players collection: %w", err)
		}
		rec := core.NewRecord(playersCol)
		rec.Set("last_name", name)
		rec.Set("game", game)
		rec.Set("skill", DefaultSkill)
		rec.Set("confidence", DefaultConfidence)
		rec.Set("volatility", DefaultVolatility)
		rec.Set("last_event", time.Now().Unix())
		if err := txApp.Save(rec); err != nil {
			return fmt.Errorf("failed to create player: %w", err)
		}

		uidsCol, err := txApp.FindCollectionByNameOrId("player_unique_ids")
		if err != nil {
			return fmt.Errorf("failed to load player_unique_ids collection: %w", err)
		}
		mapping := core.NewRecord(uidsCol)
		mapping.Set("player", rec.Id)
		mapping.Set("unique_id", uniqueID)
		mapping.Set("game", game)
		if err := txApp.Save(mapping); err != nil {
			return fmt.Errorf("failed to attach unique id: %w", err)
		}

		created = playerFromRecord(rec)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// UpsertPlayer returns the player for (uniqueId, game), creating one with
// default rating when none exists. Duplicate creates racing past the
// in-process coalescing are absorbed by the unique index: on a create
// failure the mapping is re-read once.
func (r *Repository) UpsertPlayer(ctx context.Context, uniqueID, game, name string) (*Player, error) {
	if existing, err := r.FindByUniqueID(ctx, uniqueID, game); err == nil {
		return existing, nil
	}

	created, err := r.Create(ctx, uniqueID, game, name)
	if err == nil {
		return created, nil
	}

	if existing, findErr := r.FindByUniqueID(ctx, uniqueID, game); findErr == nil {
		return existing, nil
	}
	return nil, fmt.Errorf("failed to upsert player %s/%s: %w", uniqueID, game, err)
}

// FindUniqueIDs lists every unique id attached to a player, used when
// matching a durable player against a live server roster.
func (r *Repository) FindUniqueIDs(ctx context.Context, playerID string) ([]string, error) {
	mappings, err := r.app.FindRecordsByFilter(
		"player_unique_ids",
		"player = {:player}",
		"unique_id",
		0,
		0,
		map[string]any{"player": playerID},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load unique ids for player %s: %w", playerID, err)
	}
	uids := make([]string, 0, len(mappings))
	for _, m := range mappings {
		uids = append(uids, m.GetString("unique_id"))
	}
	return uids, nil
}

// UpdateLastName sets the display name, used by the name-change handler.
func (r *Repository) UpdateLastName(ctx context.Context, playerID, name string) error {
	rec, err := r.app.FindRecordById("players", playerID)
	if err != nil {
		return fmt.Errorf("%w: player %s", events.ErrNotFound, playerID)
	}
	rec.Set("last_name", name)
	rec.Set("last_event", time.Now().Unix())
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to update player name: %w", err)
	}
	return nil
}

// TouchLastEvent bumps last_event to now (unix seconds).
func (r *Repository) TouchLastEvent(ctx context.Context, playerID string) error {
	rec, err := r.app.FindRecordById("players", playerID)
	if err != nil {
		return fmt.Errorf("%w: player %s", events.ErrNotFound, playerID)
	}
	rec.Set("last_event", time.Now().Unix())
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to touch player: %w", err)
	}
	return nil
}
