// Package notify pushes in-game notifications back to servers as
// structured RCON commands. A server-side plugin renders the fields into
// chat. Notification delivery is lossy on purpose: transport failures are
// logged and swallowed so stat accounting never depends on chat.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"halflife-tracker/internal/ranking"
	"halflife-tracker/internal/servers"
)

// DefaultPrefix is used when a server has no broadcast command configured.
const DefaultPrefix = "hlx_event"

// configTTL bounds how stale a cached per-server notification config can be.
const configTTL = time.Minute

// Broadcast addresses every player on the server.
const Broadcast = 0

// CommandSender is the slice of the RCON pool the dispatcher needs.
type CommandSender interface {
	Exec(ctx context.Context, serverID, command string) (string, error)
}

// ServerSource loads server records for config lookups.
type ServerSource interface {
	FindByExternalID(ctx context.Context, externalID string) (*servers.Server, error)
}

// Config is the cached per-server notification configuration.
type Config struct {
	EngineType     string
	ColorEnabled   bool
	Prefix         string
	AnnouncePrefix string
	eventTypes     map[string]bool
	failOpen       bool
}

// Enabled reports whether an event type should be announced. Configs built
// from a failed lookup answer true for everything; operator visibility
// beats strict gating when storage is flaky.
func (c *Config) Enabled(eventType string) bool {
	if c.failOpen {
		return true
	}
	return c.eventTypes[eventType] || c.eventTypes["*"]
}

type cacheEntry struct {
	cfg       *Config
	fetchedAt time.Time
}

// Dispatcher builds and sends notification commands.
type Dispatcher struct {
	rcon    CommandSender
	servers ServerSource
	log     *slog.Logger
	ttl     time.Duration

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewDispatcher returns a dispatcher using the given RCON sender.
func NewDispatcher(rcon CommandSender, servers ServerSource, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		rcon:    rcon,
		servers: servers,
		log:     log.With("component", "notify"),
		ttl:     configTTL,
		cache:   make(map[string]*cacheEntry),
	}
}

func (d *Dispatcher) config(ctx context.Context, serverID string) *Config {
	d.mu.Lock()
	if entry, ok := d.cache[serverID]; ok && time.Since(entry.fetchedAt) < d.ttl {
		cfg := entry.cfg
		d.mu.Unlock()
		return cfg
	}
	d.mu.Unlock()

	srv, err := d.servers.FindByExternalID(ctx, serverID)
	if err != nil {
		d.log.Debug("notification config unavailable, failing open", "server", serverID, "error", err)
		return &Config{EngineType: "goldsrc", Prefix: DefaultPrefix, AnnouncePrefix: DefaultPrefix, failOpen: true}
	}

	cfg := &Config{
		EngineType:     srv.EngineType,
		ColorEnabled:   srv.ColorEnabled,
		Prefix:         srv.BroadcastCommand,
		AnnouncePrefix: srv.BroadcastCommandAnnounce,
		eventTypes:     make(map[string]bool, len(srv.NotifyEventTypes)),
	}
	if cfg.Prefix == "" {
		cfg.Prefix = DefaultPrefix
	}
	if cfg.AnnouncePrefix == "" {
		cfg.AnnouncePrefix = cfg.Prefix
	}
	for _, t := range srv.NotifyEventTypes {
		cfg.eventTypes[t] = true
	}

	d.mu.Lock()
	d.cache[serverID] = &cacheEntry{cfg: cfg, fetchedAt: time.Now()}
	d.mu.Unlock()
	return cfg
}

// InvalidateConfig drops the cached config for a server, forcing a reload
// on the next notification.
func (d *Dispatcher) InvalidateConfig(serverID string) {
	d.mu.Lock()
	delete(d.cache, serverID)
	d.mu.Unlock()
}

// quoteField renders a free-text field: always double-quoted, embedded
// quotes escaped. Missing values come out as "".
func quoteField(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// BuildCommand assembles one notification command. Free-text fields are
// pre-quoted by the callers via quoteField; numbers pass through plain.
func BuildCommand(prefix string, target int, tag string, fields ...string) string {
	var b strings.Builder
	b.WriteString(prefix)
	b.WriteByte(' ')
	b.WriteString(strconv.Itoa(target))
	b.WriteByte(' ')
	b.WriteString(tag)
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}

// FormatKDR renders a kill/death ratio with two decimals.
func FormatKDR(kills, deaths int) string {
	return fmt.Sprintf("%.2f", ranking.KDRatio(kills, deaths))
}

func boolField(v bool) string {
	if v {
		return "1"
	}
	return "0"
}

// normalizeTarget clamps targets to broadcast on engines that cannot
// address a single slot.
func normalizeTarget(cfg *Config, target int) int {
	if cfg.EngineType != "source" && cfg.EngineType != "source2" {
		return Broadcast
	}
	if target < 0 {
		return Broadcast
	}
	return target
}

func (d *Dispatcher) send(ctx context.Context, serverID, command string) {
	if _, err := d.rcon.Exec(ctx, serverID, command); err != nil {
		d.log.Warn("notification send failed", "server", serverID, "command", command, "error", err)
	}
}

// sendEvent gates on the per-server event-type config and dispatches.
func (d *Dispatcher) sendEvent(ctx context.Context, serverID, eventType string, target int, tag string, fields ...string) {
	cfg := d.config(ctx, serverID)
	if !cfg.Enabled(eventType) {
		return
	}
	d.send(ctx, serverID, BuildCommand(cfg.Prefix, normalizeTarget(cfg, target), tag, fields...))
}

// KillEvent announces a kill with the skill transfer.
func (d *Dispatcher) KillEvent(ctx context.Context, serverID, killerName, victimName, weapon string, headshot bool, gain, loss int) {
	d.sendEvent(ctx, serverID, "PLAYER_KILL", Broadcast, "KILL",
		quoteField(killerName), quoteField(victimName), quoteField(weapon),
		boolField(headshot), strconv.Itoa(gain), strconv.Itoa(loss))
}

// SuicideEvent announces a self-kill and its penalty.
func (d *Dispatcher) SuicideEvent(ctx context.Context, serverID, playerName, weapon string, penalty int) {
	d.sendEvent(ctx, serverID, "PLAYER_SUICIDE", Broadcast, "SUICIDE",
		quoteField(playerName), quoteField(weapon), strconv.Itoa(penalty))
}

// TeamkillEvent announces a friendly-fire kill.
func (d *Dispatcher) TeamkillEvent(ctx context.Context, serverID, killerName, victimName, weapon string, penalty int) {
	d.sendEvent(ctx, serverID, "PLAYER_TEAMKILL", Broadcast, "TEAMKILL",
		quoteField(killerName), quoteField(victimName), quoteField(weapon), strconv.Itoa(penalty))
}

// ConnectEvent announces a player joining.
func (d *Dispatcher) ConnectEvent(ctx context.Context, serverID, playerName string) {
	d.sendEvent(ctx, serverID, "PLAYER_CONNECT", Broadcast, "CONNECT", quoteField(playerName))
}

// DisconnectEvent announces a player leaving with the session length in
// seconds.
func (d *Dispatcher) DisconnectEvent(ctx context.Context, serverID, playerName string, sessionSeconds int64) {
	d.sendEvent(ctx, serverID, "PLAYER_DISCONNECT", Broadcast, "DISCONNECT",
		quoteField(playerName), strconv.FormatInt(sessionSeconds, 10))
}

// ActionEvent announces a scored game action.
func (d *Dispatcher) ActionEvent(ctx context.Context, serverID, playerName, action string, bonus int) {
	d.sendEvent(ctx, serverID, "PLAYER_ACTION", Broadcast, "ACTION",
		quoteField(playerName), quoteField(action), strconv.Itoa(bonus))
}

// StreakEvent announces a kill-streak milestone.
func (d *Dispatcher) StreakEvent(ctx context.Context, serverID, playerName string, streak int) {
	d.sendEvent(ctx, serverID, "PLAYER_KILL", Broadcast, "KILL_STREAK",
		quoteField(playerName), strconv.Itoa(streak))
}

// SendRank answers a rank query. target of Broadcast shows it to everyone.
func (d *Dispatcher) SendRank(ctx context.Context, serverID string, target int, playerName string, position, total, skill, kills, deaths int) {
	cfg := d.config(ctx, serverID)
	d.send(ctx, serverID, BuildCommand(cfg.Prefix, normalizeTarget(cfg, target), "RANK",
		quoteField(playerName), strconv.Itoa(position), strconv.Itoa(total),
		strconv.Itoa(skill), FormatKDR(kills, deaths)))
}

// SendStats answers a stats query.
func (d *Dispatcher) SendStats(ctx context.Context, serverID string, target int, playerName string, skill, kills, deaths, headshots int, accuracy float64) {
	cfg := d.config(ctx, serverID)
	d.send(ctx, serverID, BuildCommand(cfg.Prefix, normalizeTarget(cfg, target), "STATS",
		quoteField(playerName), strconv.Itoa(skill), strconv.Itoa(kills),
		strconv.Itoa(deaths), FormatKDR(kills, deaths),
		strconv.Itoa(headshots), fmt.Sprintf("%.2f", accuracy)))
}

// SendSession answers a session query with the current session counters.
func (d *Dispatcher) SendSession(ctx context.Context, serverID string, target int, playerName string, durationSeconds int64, kills, deaths int) {
	cfg := d.config(ctx, serverID)
	d.send(ctx, serverID, BuildCommand(cfg.Prefix, normalizeTarget(cfg, target), "SESSION",
		quoteField(playerName), strconv.FormatInt(durationSeconds, 10),
		strconv.Itoa(kills), strconv.Itoa(deaths)))
}

// SendMessage sends a free-form chat message to a slot or everyone.
func (d *Dispatcher) SendMessage(ctx context.Context, serverID string, target int, message string) {
	cfg := d.config(ctx, serverID)
	d.send(ctx, serverID, BuildCommand(cfg.Prefix, normalizeTarget(cfg, target), "MESSAGE",
		quoteField(message)))
}

// Announce broadcasts a server-wide announcement through the announce
// prefix. The trailing flag tells the plugin whether to colorize.
func (d *Dispatcher) Announce(ctx context.Context, serverID, message string) {
	cfg := d.config(ctx, serverID)
	d.send(ctx, serverID, BuildCommand(cfg.AnnouncePrefix, Broadcast, "ANNOUNCE",
		quoteField(message), boolField(cfg.ColorEnabled)))
}
