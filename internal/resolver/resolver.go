// Package resolver maps the identities seen in log lines (steam ids, bot
// names) to durable player ids. Concurrent lookups for the same identity
// are coalesced so a burst of events for a brand-new player performs a
// single upsert.
package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/players"
)

// steamID64Base is the offset of the 64-bit community id space.
const steamID64Base = int64(76561197960265728)

// resolvedTTL keeps a finished lookup around briefly so the tail of an
// event burst reuses it instead of re-querying.
const resolvedTTL = time.Second

// PlayerUpserter is the slice of the player repository the resolver needs.
type PlayerUpserter interface {
	UpsertPlayer(ctx context.Context, uniqueID, game, name string) (*players.Player, error)
}

// Resolver coalesces identity lookups per (game, uniqueId).
type Resolver struct {
	players PlayerUpserter
	log     *slog.Logger
	ttl     time.Duration

	mu       sync.Mutex
	inflight map[string]*lookup
}

type lookup struct {
	done     chan struct{}
	playerID string
	err      error
}

// New returns a resolver backed by the given player store.
func New(players PlayerUpserter, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{
		players:  players,
		log:      log.With("component", "resolver"),
		ttl:      resolvedTTL,
		inflight: make(map[string]*lookup),
	}
}

// ResolvePlayer returns the durable player id for the event author,
// creating the player when first seen. Bots resolve through a per-server
// pseudo-identity because every bot slot reports the same literal id.
func (r *Resolver) ResolvePlayer(ctx context.Context, serverID, game string, meta *events.PlayerMeta) (string, error) {
	if meta == nil || meta.PlayerName == "" {
		return "", fmt.Errorf("%w: event has no player metadata", events.ErrValidation)
	}

	var uid string
	if meta.IsBot || strings.EqualFold(meta.SteamID, "BOT") {
		uid = BotID(serverID, meta.PlayerName)
	} else {
		normalized, err := NormalizeSteamID(meta.SteamID)
		if err != nil {
			return "", err
		}
		uid = normalized
	}

	key := game + "/" + uid

	r.mu.Lock()
	if l, ok := r.inflight[key]; ok {
		r.mu.Unlock()
		select {
		case <-l.done:
			return l.playerID, l.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	l := &lookup{done: make(chan struct{})}
	r.inflight[key] = l
	r.mu.Unlock()

	player, err := r.players.UpsertPlayer(ctx, uid, game, meta.PlayerName)
	if err != nil {
		l.err = err
	} else {
		l.playerID = player.ID
	}
	close(l.done)

	if err != nil {
		// Failed lookups are evicted immediately so the next event retries.
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
		return "", err
	}

	time.AfterFunc(r.ttl, func() {
		r.mu.Lock()
		delete(r.inflight, key)
		r.mu.Unlock()
	})
	return l.playerID, nil
}

// NormalizeSteamID converts the textual steam id formats seen in logs to
// the canonical 64-bit community id. Already-numeric ids pass through.
// Placeholder ids that do not belong to a resolvable player are rejected;
// anything else (WON ids, third-party auth systems) is deliberately kept
// verbatim, since non-Steam engines hand out ids this code cannot
// enumerate and they are still stable per player.
func NormalizeSteamID(raw string) (string, error) {
	id := strings.TrimSpace(raw)

	switch strings.ToUpper(id) {
	case "", "STEAM_ID_PENDING", "STEAM_ID_LAN", "HLTV", "CONSOLE":
		return "", fmt.Errorf("%w: unresolvable steam id %q", events.ErrValidation, raw)
	}

	if strings.HasPrefix(strings.ToUpper(id), "STEAM_") {
		parts := strings.Split(id[len("STEAM_"):], ":")
		if len(parts) != 3 {
			return "", fmt.Errorf("%w: malformed steam id %q", events.ErrValidation, raw)
		}
		y, errY := strconv.ParseInt(parts[1], 10, 64)
		z, errZ := strconv.ParseInt(parts[2], 10, 64)
		if errY != nil || errZ != nil || y < 0 || y > 1 || z < 0 {
			return "", fmt.Errorf("%w: malformed steam id %q", events.ErrValidation, raw)
		}
		return strconv.FormatInt(steamID64Base+2*z+y, 10), nil
	}

	// [U:1:246913] style ids carry the account number directly.
	if strings.HasPrefix(id, "[U:1:") && strings.HasSuffix(id, "]") {
		n, err := strconv.ParseInt(id[len("[U:1:"):len(id)-1], 10, 64)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%w: malformed steam3 id %q", events.ErrValidation, raw)
		}
		return strconv.FormatInt(steamID64Base+n, 10), nil
	}

	if _, err := strconv.ParseInt(id, 10, 64); err == nil {
		return id, nil
	}

	// Non-steam engines hand out their own opaque ids; keep them verbatim.
	return id, nil
}

// BotID builds the per-server pseudo-identity for a bot slot.
func BotID(serverID, name string) string {
	return "BOT_" + serverID + "_" + sanitizeName(name)
}

func sanitizeName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
