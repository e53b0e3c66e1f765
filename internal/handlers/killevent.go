package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/sourcegraph/conc"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/players"
	"halflife-tracker/internal/ranking"
)

// HandleKill is the hot path: resolve both parties, move skill between
// them, and persist the frag. Stat writes for killer and victim are
// independent rows and run in parallel.
func (h *Handlers) HandleKill(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.KillData)
	if !ok {
		return failure(fmt.Errorf("%w: kill event without payload", events.ErrValidation))
	}

	killer, err := h.metaSession(ctx, e, &data.Killer)
	if err != nil {
		return failure(fmt.Errorf("failed to resolve killer: %w", err))
	}
	victim, err := h.metaSession(ctx, e, &data.Victim)
	if err != nil {
		return failure(fmt.Errorf("failed to resolve victim: %w", err))
	}

	sameTeam := killer.Team != "" && victim.Team != "" && strings.EqualFold(killer.Team, victim.Team)
	if sameTeam {
		// Engines that emit teamkills as plain kill lines land here. The
		// kill still counts; the teamkill is an extra counter on top.
		h.log.Warn("kill between teammates",
			"server", e.ServerID, "killer", killer.PlayerName, "victim", victim.PlayerName)
	}

	killerStats, err := h.players.GetPlayerStats(ctx, killer.PlayerID)
	if err != nil {
		return failure(fmt.Errorf("unable to retrieve player stats for skill calculation: %w", err))
	}
	victimStats, err := h.players.GetPlayerStats(ctx, victim.PlayerID)
	if err != nil {
		return failure(fmt.Errorf("unable to retrieve player stats for skill calculation: %w", err))
	}

	adj := h.ranking.CalculateSkillAdjustment(
		float64(killerStats.Skill), float64(victimStats.Skill),
		ranking.KillContext{
			Weapon:     data.Weapon,
			Headshot:   data.Headshot,
			KillerTeam: data.Killer.Team,
			VictimTeam: data.Victim.Team,
		})
	if h.belowMinPlayers(ctx, e.ServerID) {
		// Counters accrue, rating stays frozen until the server fills up.
		adj = ranking.Adjustment{}
	}

	killerDeltas := players.StatDeltas{
		Kills:          1,
		SkillDelta:     adj.KillerChange,
		SetKillStreak:  intPtr(killerStats.KillStreak + 1),
		SetDeathStreak: intPtr(0),
		LastEvent:      eventUnix(e),
	}
	if data.Headshot {
		killerDeltas.Headshots = 1
	}
	if sameTeam {
		killerDeltas.Teamkills = 1
	}
	victimDeltas := players.StatDeltas{
		Deaths:         1,
		SkillDelta:     adj.VictimChange,
		SetKillStreak:  intPtr(0),
		SetDeathStreak: intPtr(victimStats.DeathStreak + 1),
		LastEvent:      eventUnix(e),
	}

	var killerErr, victimErr, fragErr error
	var wg conc.WaitGroup
	wg.Go(func() {
		killerErr = h.applyWithClamp(ctx, killer.PlayerID, killerDeltas)
	})
	wg.Go(func() {
		victimErr = h.applyWithClamp(ctx, victim.PlayerID, victimDeltas)
	})
	wg.Go(func() {
		fragErr = h.players.LogEventFrag(ctx, e.ServerID,
			killer.PlayerID, victim.PlayerID, data.Weapon, data.Headshot,
			h.currentMap(ctx, e.ServerID), data.Killer.Team, data.Victim.Team, e.Timestamp)
	})
	wg.Wait()

	if killerErr != nil {
		return failure(fmt.Errorf("failed to apply killer stats: %w", killerErr))
	}
	if victimErr != nil {
		return failure(fmt.Errorf("failed to apply victim stats: %w", victimErr))
	}
	if fragErr != nil {
		// The stat transfer already happened; losing the frag row is not
		// worth a redelivery that would double it.
		h.log.Warn("failed to record frag row", "server", e.ServerID, "error", fragErr)
	}

	h.sessions.Update(e.ServerID, killer.GameUserID, sessionKills(1))
	h.sessions.Update(e.ServerID, victim.GameUserID, sessionDeaths(1))

	h.notify.KillEvent(ctx, e.ServerID, killer.PlayerName, victim.PlayerName,
		data.Weapon, data.Headshot, adj.KillerChange, adj.VictimChange)
	if streak := killerStats.KillStreak + 1; streak > 0 && streak%5 == 0 {
		h.notify.StreakEvent(ctx, e.ServerID, killer.PlayerName, streak)
	}
	return success(2)
}

// HandleSuicide penalizes a self-kill.
func (h *Handlers) HandleSuicide(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.SuicideData)
	if !ok {
		return failure(fmt.Errorf("%w: suicide event without payload", events.ErrValidation))
	}
	sess, err := h.actorSession(ctx, e)
	if err != nil {
		return failure(err)
	}

	penalty := h.ranking.SuicidePenalty()
	if h.belowMinPlayers(ctx, e.ServerID) {
		penalty = 0
	}

	if err := h.applyWithClamp(ctx, sess.PlayerID, players.StatDeltas{
		Deaths:         1,
		Suicides:       1,
		SkillDelta:     penalty,
		SetKillStreak:  intPtr(0),
		SetDeathStreak: intPtr(0),
		LastEvent:      eventUnix(e),
	}); err != nil {
		return failure(fmt.Errorf("failed to apply suicide penalty: %w", err))
	}
	if err := h.players.CreateSuicideEvent(ctx, e.ServerID, sess.PlayerID, data.Weapon,
		h.currentMap(ctx, e.ServerID), e.Timestamp); err != nil {
		h.log.Warn("failed to record suicide row", "server", e.ServerID, "error", err)
	}

	h.sessions.Update(e.ServerID, sess.GameUserID, sessionDeaths(1))
	h.notify.SuicideEvent(ctx, e.ServerID, sess.PlayerName, data.Weapon, penalty)
	return success(1)
}

// HandleTeamkill penalizes an explicit friendly-fire kill.
func (h *Handlers) HandleTeamkill(ctx context.Context, e *events.Event) Result {
	data, ok := e.Data.(*events.TeamkillData)
	if !ok {
		return failure(fmt.Errorf("%w: teamkill event without payload", events.ErrValidation))
	}
	return h.teamkill(ctx, e, data.Killer, data.Victim, data.Weapon)
}

func (h *Handlers) teamkill(ctx context.Context, e *events.Event, killerMeta, victimMeta events.PlayerMeta, weapon string) Result {
	killer, err := h.metaSession(ctx, e, &killerMeta)
	if err != nil {
		return failure(fmt.Errorf("failed to resolve killer: %w", err))
	}
	victim, err := h.metaSession(ctx, e, &victimMeta)
	if err != nil {
		return failure(fmt.Errorf("failed to resolve victim: %w", err))
	}

	penalty := h.ranking.TeamkillPenalty()
	if h.belowMinPlayers(ctx, e.ServerID) {
		penalty = 0
	}

	if err := h.applyWithClamp(ctx, killer.PlayerID, players.StatDeltas{
		Teamkills:  1,
		SkillDelta: penalty,
		LastEvent:  eventUnix(e),
	}); err != nil {
		return failure(fmt.Errorf("failed to apply teamkill penalty: %w", err))
	}
	if err := h.players.ApplyUpdate(ctx, victim.PlayerID, players.StatDeltas{
		Deaths:    1,
		LastEvent: eventUnix(e),
	}); err != nil {
		return failure(fmt.Errorf("failed to apply victim death: %w", err))
	}
	if err := h.players.CreateTeamkillEvent(ctx, e.ServerID, killer.PlayerID, victim.PlayerID,
		weapon, h.currentMap(ctx, e.ServerID), e.Timestamp); err != nil {
		h.log.Warn("failed to record teamkill row", "server", e.ServerID, "error", err)
	}

	h.sessions.Update(e.ServerID, victim.GameUserID, sessionDeaths(1))
	h.notify.TeamkillEvent(ctx, e.ServerID, killer.PlayerName, victim.PlayerName, weapon, penalty)
	return success(2)
}
