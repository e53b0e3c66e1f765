package handlers

import (
	"context"
	"fmt"
	"strings"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/players"
	"halflife-tracker/internal/resolver"
	"halflife-tracker/internal/store"
)

// actionBonuses scores the named trigger actions. Unlisted actions record
// an audit row with zero bonus.
var actionBonuses = map[string]int{
	"Planted_The_Bomb":           10,
	"Defused_The_Bomb":           10,
	"Begin_Bomb_Defuse_With_Kit": 2,
	"All_Hostages_Rescued":       10,
	"Rescued_A_Hostage":          5,
	"Touched_A_Hostage":          1,
	"Killed_A_Hostage":           -8,
	"Target_Bombed":              5,
	"VIP_Escaped":                10,
	"Became_VIP":                 2,
	"CTs_Win":                    5,
	"Terrorists_Win":             5,
	"Round_Draw":                 0,
}

// HandleConnect opens a session for the joining player and records the
// connect row. A stale occupant on the same slot is dropped first.
func (h *Handlers) HandleConnect(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ConnectData)
	if !ok || e.Meta == nil {
		return failure(fmt.Errorf("%w: connect event without player metadata", events.ErrValidation))
	}

	if existing := h.sessions.Get(e.ServerID, e.Meta.GameUserID); existing != nil {
		h.sessions.Remove(e.ServerID, e.Meta.GameUserID)
		h.log.Debug("replaced stale session on reconnect",
			"server", e.ServerID, "slot", e.Meta.GameUserID, "was", existing.PlayerName)
	}

	game := h.servers.GetGame(ctx, e.ServerID)
	sess, err := h.sessions.CreateFromMeta(ctx, e.ServerID, game, e.Meta, e.Timestamp)
	if err != nil {
		return failure(fmt.Errorf("failed to open session: %w", err))
	}

	if err := h.players.CreateConnectEvent(ctx, e.ServerID, sess.PlayerID, sess.GameUserID, data.Address, e.Timestamp); err != nil {
		return failure(err)
	}
	if err := h.players.TouchLastEvent(ctx, sess.PlayerID); err != nil {
		h.log.Warn("failed to touch player on connect", "player", sess.PlayerID, "error", err)
	}

	h.notify.ConnectEvent(ctx, e.ServerID, sess.PlayerName)
	h.log.Info("player connected",
		"server", e.ServerID, "player", sess.PlayerName, "slot", sess.GameUserID, "bot", sess.IsBot)
	return success(1)
}

// HandleDisconnect closes the session, accumulates connection time, and
// records the disconnect row. Events for slots with no session are only an
// error when the player cannot be recovered by other means.
func (h *Handlers) HandleDisconnect(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.DisconnectData)
	if !ok || e.Meta == nil {
		return failure(fmt.Errorf("%w: disconnect event without player metadata", events.ErrValidation))
	}

	sess := h.sessions.Get(e.ServerID, e.Meta.GameUserID)
	if sess != nil && sess.SteamID != e.Meta.SteamID {
		// Slot reuse without an observed connect; the occupant is stale.
		h.sessions.Remove(e.ServerID, e.Meta.GameUserID)
		h.log.Warn("cleaned up mismatched session",
			"server", e.ServerID, "slot", e.Meta.GameUserID,
			"had", sess.SteamID, "got", e.Meta.SteamID)
		sess = nil
	}
	if sess == nil && !e.Meta.IsBot && e.Meta.SteamID != "" {
		// After a reconnect the game sometimes disconnects the old slot
		// number; the player's real session is still indexed by steam id.
		if stale := h.sessions.GetBySteamID(e.ServerID, e.Meta.SteamID); stale != nil {
			h.log.Warn("cleaned up mismatched session",
				"server", e.ServerID, "slot", stale.GameUserID,
				"got", e.Meta.GameUserID, "steam", e.Meta.SteamID)
			sess = stale
		}
	}

	playerID := ""
	switch {
	case sess != nil:
		playerID = sess.PlayerID
	case e.Meta.IsBot:
		game := h.servers.GetGame(ctx, e.ServerID)
		if p, err := h.players.FindByUniqueID(ctx, resolver.BotID(e.ServerID, e.Meta.PlayerName), game); err == nil {
			playerID = p.ID
			h.log.Debug("resolved bot to player",
				"server", e.ServerID, "bot", e.Meta.PlayerName, "player", playerID)
		}
	default:
		game := h.servers.GetGame(ctx, e.ServerID)
		if norm, err := resolver.NormalizeSteamID(e.Meta.SteamID); err == nil {
			if p, err := h.players.FindByUniqueID(ctx, norm, game); err == nil {
				playerID = p.ID
			}
		}
	}
	if playerID == "" {
		h.log.Debug("skipping disconnect processing, player unknown",
			"server", e.ServerID, "slot", e.Meta.GameUserID, "name", e.Meta.PlayerName)
		return success(0)
	}

	var duration int64
	if sess != nil && !sess.ConnectedAt.IsZero() {
		last := sess.LastSeen
		if e.Timestamp.After(last) {
			last = e.Timestamp
		}
		if d := last.Sub(sess.ConnectedAt); d > 0 {
			duration = int64(d.Seconds())
		}
	}

	if err := h.players.CreateDisconnectEvent(ctx, e.ServerID, playerID, data.Reason, duration, e.Timestamp); err != nil {
		return failure(err)
	}
	if duration > 0 {
		if err := h.players.ApplyUpdate(ctx, playerID, players.StatDeltas{
			ConnectionTime: duration,
			LastEvent:      eventUnix(e),
		}); err != nil {
			h.log.Warn("failed to accumulate connection time", "player", playerID, "error", err)
		}
	}

	name := e.Meta.PlayerName
	if sess != nil {
		name = sess.PlayerName
		h.sessions.Remove(e.ServerID, sess.GameUserID)
	}
	h.notify.DisconnectEvent(ctx, e.ServerID, name, duration)
	h.log.Info("player disconnected",
		"server", e.ServerID, "player", name, "duration", duration, "reason", data.Reason)
	return success(1)
}

// HandleEntry records the player entering the game proper.
func (h *Handlers) HandleEntry(ctx context.Context, e *events.Event) Result {
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}
	if err := h.players.CreateEntryEvent(ctx, e.ServerID, sess.PlayerID, e.Timestamp); err != nil {
		return failure(err)
	}
	return success(1)
}

// HandleChat records the chat line and answers recognized chat commands.
func (h *Handlers) HandleChat(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ChatData)
	if !ok {
		return failure(fmt.Errorf("%w: chat event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}

	mapName := h.currentMap(ctx, e.ServerID)
	if err := h.players.CreateChatEvent(ctx, e.ServerID, sess.PlayerID, data.Message, data.Mode, mapName, e.Timestamp); err != nil {
		return failure(err)
	}

	if strings.HasPrefix(data.Message, "!") {
		h.dispatchChatCommand(ctx, e.ServerID, sess, data.Message)
	}
	return success(1)
}

// HandleChangeName records the rename and updates both the durable record
// and the live session.
func (h *Handlers) HandleChangeName(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ChangeNameData)
	if !ok {
		return failure(fmt.Errorf("%w: name change event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}

	if err := h.players.CreateChangeEvent(ctx, e.ServerID, sess.PlayerID, "name", e.Meta.PlayerName, data.NewName, e.Timestamp); err != nil {
		return failure(err)
	}
	if err := h.players.UpdateLastName(ctx, sess.PlayerID, data.NewName); err != nil {
		return failure(err)
	}
	h.sessions.Update(e.ServerID, sess.GameUserID, store.SessionUpdate{PlayerName: &data.NewName})
	return success(1)
}

// HandleChangeTeam records the switch and keeps the session's team current
// for later friendly-fire classification.
func (h *Handlers) HandleChangeTeam(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ChangeTeamData)
	if !ok {
		return failure(fmt.Errorf("%w: team change event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}
	if err := h.players.CreateChangeEvent(ctx, e.ServerID, sess.PlayerID, "team", sess.Team, data.Team, e.Timestamp); err != nil {
		return failure(err)
	}
	h.sessions.Update(e.ServerID, sess.GameUserID, store.SessionUpdate{Team: &data.Team})
	return success(1)
}

// HandleChangeRole records a class/role switch as an audit row.
func (h *Handlers) HandleChangeRole(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ChangeRoleData)
	if !ok {
		return failure(fmt.Errorf("%w: role change event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}
	if err := h.players.CreateChangeEvent(ctx, e.ServerID, sess.PlayerID, "role", "", data.Role, e.Timestamp); err != nil {
		return failure(err)
	}
	return success(1)
}

// HandleDamage accrues accuracy counters from an attack line.
func (h *Handlers) HandleDamage(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.DamageData)
	if !ok {
		return failure(fmt.Errorf("%w: damage event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}

	d := players.StatDeltas{Shots: 1, Hits: 1, LastEvent: eventUnix(e)}
	if strings.EqualFold(data.Hitgroup, "head") {
		d.Headshots = 1
	}
	if err := h.players.ApplyUpdate(ctx, sess.PlayerID, d); err != nil {
		return failure(err)
	}
	return success(1)
}

// HandleWeaponFire counts a shot. Queue-direct: high volume, no bus hop.
func (h *Handlers) HandleWeaponFire(ctx context.Context, e *events.Event) Result {
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}
	if err := h.players.ApplyUpdate(ctx, sess.PlayerID, players.StatDeltas{
		Shots:     1,
		LastEvent: eventUnix(e),
	}); err != nil {
		return failure(err)
	}
	return success(1)
}

// HandleWeaponHit counts a landed shot. Queue-direct.
func (h *Handlers) HandleWeaponHit(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.WeaponHitData)
	if !ok {
		return failure(fmt.Errorf("%w: weapon hit event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}
	d := players.StatDeltas{Hits: 1, LastEvent: eventUnix(e)}
	if strings.EqualFold(data.Hitgroup, "head") {
		d.Headshots = 1
	}
	if err := h.players.ApplyUpdate(ctx, sess.PlayerID, d); err != nil {
		return failure(err)
	}
	return success(1)
}

// HandleActionPlayer scores a single-actor trigger such as a bomb plant.
func (h *Handlers) HandleActionPlayer(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ActionPlayerData)
	if !ok {
		return failure(fmt.Errorf("%w: action event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}

	bonus := actionBonuses[data.Action]
	if err := h.players.CreateActionEvent(ctx, e.ServerID, sess.PlayerID, "", data.Action, sess.Team, bonus, e.Timestamp); err != nil {
		return failure(err)
	}
	if bonus != 0 {
		if err := h.players.UpdatePlayerStatsBatch(ctx, []players.SkillDelta{{PlayerID: sess.PlayerID, Delta: bonus}}); err != nil {
			return failure(err)
		}
		h.notify.ActionEvent(ctx, e.ServerID, sess.PlayerName, data.Action, bonus)
	}
	return success(1)
}

// HandleActionTeam fans a team trigger's bonus out over every live session
// on the winning team.
func (h *Handlers) HandleActionTeam(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ActionTeamData)
	if !ok {
		return failure(fmt.Errorf("%w: team action event without payload", events.ErrValidation))
	}

	bonus := actionBonuses[data.Action]
	members := make([]players.SkillDelta, 0, 8)
	affected := 0
	for _, sess := range h.sessions.Store().ServerSessions(e.ServerID) {
		if sess.Team == "" || !strings.EqualFold(sess.Team, data.Team) {
			continue
		}
		if err := h.players.CreateActionEvent(ctx, e.ServerID, sess.PlayerID, "", data.Action, data.Team, bonus, e.Timestamp); err != nil {
			h.log.Warn("failed to record team action row",
				"server", e.ServerID, "player", sess.PlayerID, "action", data.Action, "error", err)
			continue
		}
		affected++
		if bonus != 0 {
			members = append(members, players.SkillDelta{PlayerID: sess.PlayerID, Delta: bonus})
		}
	}

	if len(members) > 0 {
		if err := h.players.UpdatePlayerStatsBatch(ctx, members); err != nil {
			return failure(err)
		}
	}
	h.log.Debug("team action scored",
		"server", e.ServerID, "team", data.Team, "action", data.Action, "members", affected, "bonus", bonus)
	return success(affected)
}

// HandleActionPlayerPlayer scores a two-party trigger.
func (h *Handlers) HandleActionPlayerPlayer(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.ActionPlayerPlayerData)
	if !ok {
		return failure(fmt.Errorf("%w: player-player action event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}
	victim, err := h.metaSession(ctx, e, &data.Victim)
	if err != nil {
		return failure(err)
	}

	bonus := actionBonuses[data.Action]
	if err := h.players.CreateActionEvent(ctx, e.ServerID, sess.PlayerID, victim.PlayerID, data.Action, sess.Team, bonus, e.Timestamp); err != nil {
		return failure(err)
	}
	if bonus != 0 {
		if err := h.players.UpdatePlayerStatsBatch(ctx, []players.SkillDelta{{PlayerID: sess.PlayerID, Delta: bonus}}); err != nil {
			return failure(err)
		}
		h.notify.ActionEvent(ctx, e.ServerID, sess.PlayerName, data.Action, bonus)
	}
	return success(1)
}

// HandleRoundStart marks a round boundary. No durable state changes.
func (h *Handlers) HandleRoundStart(ctx context.Context, e *events.Event) Result {
	h.log.Debug("round started", "server", e.ServerID)
	return success(0)
}

// HandleRoundEnd marks a round boundary.
func (h *Handlers) HandleRoundEnd(ctx context.Context, e *events.Event) Result {
	h.log.Debug("round ended", "server", e.ServerID)
	return success(0)
}
