package handlers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"halflife-tracker/internal/notify"
	"halflife-tracker/internal/store"
)

const topPlayersLimit = 10

// dispatchChatCommand answers in-game "!" commands. Unknown commands are
// silently ignored; plenty of mods use the same prefix.
func (h *Handlers) dispatchChatCommand(ctx context.Context, serverID string, sess *store.Session, message string) {
	cmd := strings.ToLower(strings.Fields(message)[0])
	switch cmd {
	case "!rank":
		h.chatRank(ctx, serverID, sess)
	case "!stats":
		h.chatStats(ctx, serverID, sess)
	case "!session":
		h.chatSession(ctx, serverID, sess)
	case "!top", "!top10":
		h.chatTop(ctx, serverID)
	}
}

// replyTarget picks the slot for a private answer, falling back to
// broadcast when the player cannot be addressed individually.
func (h *Handlers) replyTarget(ctx context.Context, serverID string, sess *store.Session) int {
	if h.sessions.CanSendPrivateMessage(ctx, serverID, sess.PlayerID) {
		return sess.GameUserID
	}
	return notify.Broadcast
}

func (h *Handlers) chatRank(ctx context.Context, serverID string, sess *store.Session) {
	position, total, err := h.players.GetRankPosition(ctx, sess.PlayerID)
	if err != nil {
		h.log.Warn("rank command failed", "server", serverID, "player", sess.PlayerID, "error", err)
		return
	}
	stats := h.players.GetPlayerStatsOrDefault(ctx, sess.PlayerID)
	h.notify.SendRank(ctx, serverID, h.replyTarget(ctx, serverID, sess),
		sess.PlayerName, position, total, stats.Skill, stats.Kills, stats.Deaths)
}

func (h *Handlers) chatStats(ctx context.Context, serverID string, sess *store.Session) {
	stats := h.players.GetPlayerStatsOrDefault(ctx, sess.PlayerID)
	accuracy := 0.0
	if stats.Shots > 0 {
		accuracy = float64(stats.Hits) / float64(stats.Shots) * 100
	}
	h.notify.SendStats(ctx, serverID, h.replyTarget(ctx, serverID, sess),
		sess.PlayerName, stats.Skill, stats.Kills, stats.Deaths, stats.Headshots, accuracy)
}

func (h *Handlers) chatSession(ctx context.Context, serverID string, sess *store.Session) {
	duration := int64(0)
	if !sess.ConnectedAt.IsZero() {
		duration = int64(time.Since(sess.ConnectedAt).Seconds())
	}
	h.notify.SendSession(ctx, serverID, h.replyTarget(ctx, serverID, sess),
		sess.PlayerName, duration, sess.Kills, sess.Deaths)
}

// chatTop always broadcasts; a leaderboard is for everyone.
func (h *Handlers) chatTop(ctx context.Context, serverID string) {
	game := h.servers.GetGame(ctx, serverID)
	top, err := h.players.FindTopPlayers(ctx, game, topPlayersLimit)
	if err != nil {
		h.log.Warn("top command failed", "server", serverID, "error", err)
		return
	}
	for i, p := range top {
		h.notify.SendMessage(ctx, serverID, notify.Broadcast,
			fmt.Sprintf("#%d %s - %d pts (%d/%d)", i+1, p.LastName, p.Skill, p.Kills, p.Deaths))
	}
}
