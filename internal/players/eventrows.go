package players

import (
	"context"
	"fmt"
	"time"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tools/types"

	"halflife-tracker/internal/events"
)

// resolveServerRecordID maps the durable server id carried on events to the
// servers record id.
func (r *Repository) resolveServerRecordID(serverID string) (string, error) {
	rec, err := r.app.FindFirstRecordByFilter(
		"servers",
		"external_id = {:id}",
		map[string]any{"id": serverID},
	)
	if err != nil {
		return "", fmt.Errorf("%w: server %s", events.ErrNotFound, serverID)
	}
	return rec.Id, nil
}

func (r *Repository) createEventRow(collection string, build func(rec *core.Record)) error {
	col, err := r.app.FindCollectionByNameOrId(collection)
	if err != nil {
		return fmt.Errorf("failed to load %s collection: %w", collection, err)
	}
	rec := core.NewRecord(col)
	build(rec)
	if err := r.app.Save(rec); err != nil {
		return fmt.Errorf("failed to save %s row: %w", collection, err)
	}
	return nil
}

// LogEventFrag records one kill.
func (r *Repository) LogEventFrag(ctx context.Context, serverID, killerID, victimID, weapon string, headshot bool, mapName, killerTeam, victimTeam string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_frags", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("killer", killerID)
		rec.Set("victim", victimID)
		rec.Set("weapon", weapon)
		rec.Set("headshot", headshot)
		rec.Set("map", mapName)
		rec.Set("killer_team", killerTeam)
		rec.Set("victim_team", victimTeam)
		rec.Set("event_time", eventTime)
	})
}

// CreateConnectEvent records a connect. The disconnect timestamp stays empty
// until the matching disconnect backfills it.
func (r *Repository) CreateConnectEvent(ctx context.Context, serverID, playerID string, gameUserID int, ipAddress string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_connects", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		rec.Set("game_user_id", gameUserID)
		rec.Set("ip_address", ipAddress)
		rec.Set("event_time", eventTime)
	})
}

// CreateDisconnectEvent records a disconnect and backfills the open connect
// row for the same player. Backfill failures are logged, not returned; the
// disconnect row itself is the source of truth for session accounting.
func (r *Repository) CreateDisconnectEvent(ctx context.Context, serverID, playerID, reason string, sessionDuration int64, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	if err := r.createEventRow("event_disconnects", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		rec.Set("reason", reason)
		rec.Set("session_duration", sessionDuration)
		rec.Set("event_time", eventTime)
	}); err != nil {
		return err
	}

	open, err := r.app.FindRecordsByFilter(
		"event_connects",
		"server = {:server} && player = {:player} && event_time_disconnect = ''",
		"-event_time", 1, 0,
		map[string]any{"server": serverRecID, "player": playerID},
	)
	if err != nil || len(open) == 0 {
		r.log.Debug("no open connect row to backfill", "server", serverID, "player", playerID)
		return nil
	}
	open[0].Set("event_time_disconnect", eventTime)
	if err := r.app.Save(open[0]); err != nil {
		r.log.Warn("failed to backfill connect row", "server", serverID, "player", playerID, "error", err)
	}
	return nil
}

// CreateChatEvent records a chat line. messageMode is 0 for say, 1 for
// say_team.
func (r *Repository) CreateChatEvent(ctx context.Context, serverID, playerID, message string, messageMode int, mapName string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_chats", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		rec.Set("message", message)
		rec.Set("message_mode", messageMode)
		rec.Set("map", mapName)
		rec.Set("event_time", eventTime)
	})
}

// CreateChangeEvent records a name, team or role change.
func (r *Repository) CreateChangeEvent(ctx context.Context, serverID, playerID, changeType, oldValue, newValue string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_changes", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		rec.Set("change_type", changeType)
		rec.Set("old_value", oldValue)
		rec.Set("new_value", newValue)
		rec.Set("event_time", eventTime)
	})
}

// CreateEntryEvent records a player entering the game proper.
func (r *Repository) CreateEntryEvent(ctx context.Context, serverID, playerID string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_entries", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		rec.Set("event_time", eventTime)
	})
}

// CreateSuicideEvent records a self-kill.
func (r *Repository) CreateSuicideEvent(ctx context.Context, serverID, playerID, weapon, mapName string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_suicides", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		rec.Set("weapon", weapon)
		rec.Set("map", mapName)
		rec.Set("event_time", eventTime)
	})
}

// CreateTeamkillEvent records a friendly-fire kill.
func (r *Repository) CreateTeamkillEvent(ctx context.Context, serverID, killerID, victimID, weapon, mapName string, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_teamkills", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("killer", killerID)
		rec.Set("victim", victimID)
		rec.Set("weapon", weapon)
		rec.Set("map", mapName)
		rec.Set("event_time", eventTime)
	})
}

// CreateActionEvent records a scored game action such as a bomb plant or a
// round objective. victimID is empty for actions without a target.
func (r *Repository) CreateActionEvent(ctx context.Context, serverID, playerID, victimID, action, team string, bonus int, eventTime time.Time) error {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return err
	}
	return r.createEventRow("event_actions", func(rec *core.Record) {
		rec.Set("server", serverRecID)
		rec.Set("player", playerID)
		if victimID != "" {
			rec.Set("victim", victimID)
		}
		rec.Set("action", action)
		rec.Set("team", team)
		rec.Set("bonus", bonus)
		rec.Set("event_time", eventTime)
	})
}

// HasRecentConnect reports whether the player produced a connect row on the
// server within the window. Used to suppress duplicate connects replayed by
// log rotation.
func (r *Repository) HasRecentConnect(ctx context.Context, serverID, playerID string, within time.Duration) (bool, error) {
	serverRecID, err := r.resolveServerRecordID(serverID)
	if err != nil {
		return false, err
	}
	cutoff, err := types.ParseDateTime(time.Now().Add(-within))
	if err != nil {
		return false, fmt.Errorf("failed to build cutoff: %w", err)
	}
	rows, err := r.app.FindRecordsByFilter(
		"event_connects",
		"server = {:server} && player = {:player} && event_time >= {:cutoff}",
		"-event_time", 1, 0,
		map[string]any{"server": serverRecID, "player": playerID, "cutoff": cutoff.String()},
	)
	if err != nil {
		return false, fmt.Errorf("failed to query recent connects: %w", err)
	}
	return len(rows) > 0, nil
}

// PruneEventRows deletes event rows older than the retention cutoff across
// all event collections. Returns the number of rows removed.
func (r *Repository) PruneEventRows(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff, err := types.ParseDateTime(time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to build cutoff: %w", err)
	}

	collections := []string{
		"event_frags", "event_connects", "event_disconnects", "event_chats",
		"event_changes", "event_entries", "event_suicides", "event_teamkills",
		"event_actions",
	}

	removed := 0
	for _, name := range collections {
		res, err := r.app.DB().
			NewQuery("DELETE FROM " + name + " WHERE event_time < {:cutoff}").
			Bind(map[string]any{"cutoff": cutoff.String()}).
			Execute()
		if err != nil {
			return removed, fmt.Errorf("failed to prune %s: %w", name, err)
		}
		if n, err := res.RowsAffected(); err == nil {
			removed += int(n)
		}
	}
	return removed, nil
}
