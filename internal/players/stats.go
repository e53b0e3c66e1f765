package players

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pocketbase/pocketbase/core"

	"halflife-tracker/internal/events"
)

// StatDeltas describes one accumulated stat update. Counter fields are
// increments and must be non-negative; streaks are absolute sets when
// non-nil. SkillDelta may be negative but an update may never take skill
// below zero unless ClampSkillToZero is set.
type StatDeltas struct {
	Kills          int
	Deaths         int
	Suicides       int
	Teamkills      int
	Headshots      int
	Shots          int
	Hits           int
	ConnectionTime int64

	SkillDelta       int
	ClampSkillToZero bool

	SetKillStreak  *int
	SetDeathStreak *int

	LastEvent int64
}

func (d StatDeltas) validate() error {
	for name, v := range map[string]int{
		"kills": d.Kills, "deaths": d.Deaths, "suicides": d.Suicides,
		"teamkills": d.Teamkills, "headshots": d.Headshots,
		"shots": d.Shots, "hits": d.Hits,
	} {
		if v < 0 {
			return fmt.Errorf("%w: negative %s delta %d", events.ErrValidation, name, v)
		}
	}
	if d.ConnectionTime < 0 {
		return fmt.Errorf("%w: negative connection_time delta %d", events.ErrValidation, d.ConnectionTime)
	}
	return nil
}

// ApplyUpdate applies deltas to a player inside a transaction. When the
// skill delta would take skill below zero the update is rejected with
// ErrOutOfRange and nothing is written; callers retry with
// ClampSkillToZero when they want the floor instead.
func (r *Repository) ApplyUpdate(ctx context.Context, playerID string, d StatDeltas) error {
	if err := d.validate(); err != nil {
		return err
	}

	return r.app.RunInTransaction(func(txApp core.App) error {
		rec, err := txApp.FindRecordById("players", playerID)
		if err != nil {
			return fmt.Errorf("%w: player %s", events.ErrNotFound, playerID)
		}

		if d.ClampSkillToZero {
			rec.Set("skill", 0)
		} else if d.SkillDelta != 0 {
			newSkill := rec.GetInt("skill") + d.SkillDelta
			if newSkill < 0 {
				return fmt.Errorf("%w: skill %d%+d below zero", events.ErrOutOfRange, rec.GetInt("skill"), d.SkillDelta)
			}
			rec.Set("skill", newSkill)
		}

		bump := func(field string, delta int) {
			if delta != 0 {
				rec.Set(field, rec.GetInt(field)+delta)
			}
		}
		bump("kills", d.Kills)
		bump("deaths", d.Deaths)
		bump("suicides", d.Suicides)
		bump("teamkills", d.Teamkills)
		bump("headshots", d.Headshots)
		bump("shots", d.Shots)
		bump("hits", d.Hits)
		bump("connection_time", int(d.ConnectionTime))

		if d.SetKillStreak != nil {
			rec.Set("kill_streak", *d.SetKillStreak)
		}
		if d.SetDeathStreak != nil {
			rec.Set("death_streak", *d.SetDeathStreak)
		}

		lastEvent := d.LastEvent
		if lastEvent == 0 {
			lastEvent = time.Now().Unix()
		}
		rec.Set("last_event", lastEvent)

		if err := txApp.Save(rec); err != nil {
			return fmt.Errorf("failed to save player stats: %w", err)
		}
		return nil
	})
}

// PlayerStats is the read model used by ranking and chat commands.
type PlayerStats struct {
	PlayerID    string `db:"id"`
	LastName    string `db:"last_name"`
	Game        string `db:"game"`
	Skill       int    `db:"skill"`
	Kills       int    `db:"kills"`
	Deaths      int    `db:"deaths"`
	Suicides    int    `db:"suicides"`
	Teamkills   int    `db:"teamkills"`
	Headshots   int    `db:"headshots"`
	Shots       int    `db:"shots"`
	Hits        int    `db:"hits"`
	KillStreak  int    `db:"kill_streak"`
	DeathStreak int    `db:"death_streak"`
}

// DefaultStats is the zero-history read model handed out for unknown
// players so rating math can proceed.
func DefaultStats(playerID string) PlayerStats {
	return PlayerStats{PlayerID: playerID, Skill: DefaultSkill}
}

// GetPlayerStats loads the stat read model for one player.
func (r *Repository) GetPlayerStats(ctx context.Context, playerID string) (PlayerStats, error) {
	var stats PlayerStats
	err := r.app.DB().
		NewQuery(`SELECT id, last_name, game, skill, kills, deaths, suicides, teamkills,
			headshots, shots, hits, kill_streak, death_streak
			FROM players WHERE id = {:id}`).
		Bind(map[string]any{"id": playerID}).
		One(&stats)
	if err != nil {
		return DefaultStats(playerID), fmt.Errorf("%w: player %s", events.ErrNotFound, playerID)
	}
	return stats, nil
}

// GetPlayerStatsOrDefault is GetPlayerStats with the unknown-player case
// softened to the default rating.
func (r *Repository) GetPlayerStatsOrDefault(ctx context.Context, playerID string) PlayerStats {
	stats, err := r.GetPlayerStats(ctx, playerID)
	if err != nil {
		return DefaultStats(playerID)
	}
	return stats
}

// GetPlayerStatsBatch loads stats for many players in one query. Missing
// ids are simply absent from the result map.
func (r *Repository) GetPlayerStatsBatch(ctx context.Context, playerIDs []string) (map[string]PlayerStats, error) {
	out := make(map[string]PlayerStats, len(playerIDs))
	if len(playerIDs) == 0 {
		return out, nil
	}

	placeholders := make([]string, len(playerIDs))
	params := make(map[string]any, len(playerIDs))
	for i, id := range playerIDs {
		key := fmt.Sprintf("id%d", i)
		placeholders[i] = "{:" + key + "}"
		params[key] = id
	}

	var rows []PlayerStats
	err := r.app.DB().
		NewQuery(`SELECT id, last_name, game, skill, kills, deaths, suicides, teamkills,
			headshots, shots, hits, kill_streak, death_streak
			FROM players WHERE id IN (` + strings.Join(placeholders, ", ") + `)`).
		Bind(params).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to load player stats batch: %w", err)
	}
	for _, row := range rows {
		out[row.PlayerID] = row
	}
	return out, nil
}

// SkillDelta is one entry of a batch skill adjustment, typically a team
// bonus fanned out over round participants.
type SkillDelta struct {
	PlayerID string
	Delta    int
}

// UpdatePlayerStatsBatch applies skill deltas to many players in a single
// transaction. Batch adjustments clamp at zero instead of failing so one
// bankrupt player cannot void a whole round bonus.
func (r *Repository) UpdatePlayerStatsBatch(ctx context.Context, deltas []SkillDelta) error {
	if len(deltas) == 0 {
		return nil
	}
	return r.app.RunInTransaction(func(txApp core.App) error {
		now := time.Now().Unix()
		for _, d := range deltas {
			rec, err := txApp.FindRecordById("players", d.PlayerID)
			if err != nil {
				return fmt.Errorf("%w: player %s", events.ErrNotFound, d.PlayerID)
			}
			newSkill := rec.GetInt("skill") + d.Delta
			if newSkill < 0 {
				newSkill = 0
			}
			rec.Set("skill", newSkill)
			rec.Set("last_event", now)
			if err := txApp.Save(rec); err != nil {
				return fmt.Errorf("failed to save batch skill update: %w", err)
			}
		}
		return nil
	})
}

// TopPlayer is one row of the skill leaderboard.
type TopPlayer struct {
	PlayerID string `db:"id"`
	LastName string `db:"last_name"`
	Skill    int    `db:"skill"`
	Kills    int    `db:"kills"`
	Deaths   int    `db:"deaths"`
}

// FindTopPlayers returns the highest-skilled players for a game.
func (r *Repository) FindTopPlayers(ctx context.Context, game string, limit int) ([]TopPlayer, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []TopPlayer
	err := r.app.DB().
		NewQuery(`SELECT id, last_name, skill, kills, deaths FROM players
			WHERE game = {:game} ORDER BY skill DESC, kills DESC LIMIT {:limit}`).
		Bind(map[string]any{"game": game, "limit": limit}).
		All(&rows)
	if err != nil {
		return nil, fmt.Errorf("failed to load top players: %w", err)
	}
	return rows, nil
}

// GetRankPosition returns the 1-based leaderboard position of a player
// within its game, plus the total ranked player count.
func (r *Repository) GetRankPosition(ctx context.Context, playerID string) (position int, total int, err error) {
	rec, err := r.app.FindRecordById("players", playerID)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: player %s", events.ErrNotFound, playerID)
	}
	game := rec.GetString("game")
	skill := rec.GetInt("skill")

	var row struct {
		Position int `db:"position"`
		Total    int `db:"total"`
	}
	err = r.app.DB().
		NewQuery(`SELECT
			(SELECT COUNT(*) FROM players WHERE game = {:game} AND skill > {:skill}) + 1 AS position,
			(SELECT COUNT(*) FROM players WHERE game = {:game}) AS total`).
		Bind(map[string]any{"game": game, "skill": skill}).
		One(&row)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to compute rank position: %w", err)
	}
	return row.Position, row.Total, nil
}
