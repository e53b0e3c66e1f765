// Package handlers contains the per-event-type domain logic: resolve
// identities, compute stat deltas, persist, and push notifications.
// Handlers never panic and never throw into the bus; failures are
// converted into structured results the queue consumer maps onto
// ack/nack decisions.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"halflife-tracker/internal/bus"
	"halflife-tracker/internal/events"
	"halflife-tracker/internal/notify"
	"halflife-tracker/internal/players"
	"halflife-tracker/internal/queue"
	"halflife-tracker/internal/ranking"
	"halflife-tracker/internal/servers"
	"halflife-tracker/internal/sessions"
	"halflife-tracker/internal/store"
)

// Result is the outcome of one handler invocation. Affected counts the
// durable records the handler touched.
type Result struct {
	Success  bool
	Affected int
	Err      error
}

func success(affected int) Result { return Result{Success: true, Affected: affected} }

func failure(err error) Result { return Result{Err: err} }

// HandlerFunc is the uniform handler shape.
type HandlerFunc func(ctx context.Context, e *events.Event) Result

// Handlers bundles the collaborators every event handler needs.
type Handlers struct {
	players  *players.Repository
	servers  *servers.Repository
	sessions *sessions.Service
	ranking  *ranking.Service
	notify   *notify.Dispatcher
	log      *slog.Logger
}

// New wires a handler set.
func New(pl *players.Repository, srv *servers.Repository, sess *sessions.Service, rank *ranking.Service, dispatch *notify.Dispatcher, log *slog.Logger) *Handlers {
	if log == nil {
		log = slog.Default()
	}
	return &Handlers{
		players:  pl,
		servers:  srv,
		sessions: sess,
		ranking:  rank,
		notify:   dispatch,
		log:      log.With("component", "handlers"),
	}
}

// asBusHandler adapts a result-returning handler onto the bus contract.
// Only the error travels; the bus counts it, the consumer classifies it.
func asBusHandler(fn HandlerFunc) bus.Handler {
	return func(ctx context.Context, e *events.Event) error {
		if res := fn(ctx, e); !res.Success {
			return res.Err
		}
		return nil
	}
}

// asDispatch adapts a handler onto the queue-direct contract.
func asDispatch(fn HandlerFunc) queue.DispatchFunc {
	return func(ctx context.Context, e *events.Event) error {
		if res := fn(ctx, e); !res.Success {
			return res.Err
		}
		return nil
	}
}

// RegisterAll registers every bus-routed handler. Kill and weapon
// events are deliberately absent here: they are queue-direct (see
// RegisterDirect) and must never be double-dispatched.
func (h *Handlers) RegisterAll(b *bus.Bus) {
	b.On(events.TypePlayerConnect, asBusHandler(h.HandleConnect))
	b.On(events.TypePlayerDisconnect, asBusHandler(h.HandleDisconnect))
	b.On(events.TypePlayerEntry, asBusHandler(h.HandleEntry))
	b.On(events.TypePlayerSuicide, asBusHandler(h.HandleSuicide))
	b.On(events.TypePlayerTeamkill, asBusHandler(h.HandleTeamkill))
	b.On(events.TypePlayerDamage, asBusHandler(h.HandleDamage))
	b.On(events.TypeChatMessage, asBusHandler(h.HandleChat))
	b.On(events.TypePlayerChangeName, asBusHandler(h.HandleChangeName))
	b.On(events.TypePlayerChangeTeam, asBusHandler(h.HandleChangeTeam))
	b.On(events.TypePlayerChangeRole, asBusHandler(h.HandleChangeRole))
	b.On(events.TypeActionPlayer, asBusHandler(h.HandleActionPlayer))
	b.On(events.TypeActionTeam, asBusHandler(h.HandleActionTeam))
	b.On(events.TypeActionPlayerPlayer, asBusHandler(h.HandleActionPlayerPlayer))
	b.On(events.TypeRoundStart, asBusHandler(h.HandleRoundStart))
	b.On(events.TypeRoundEnd, asBusHandler(h.HandleRoundEnd))
}

// RegisterDirect installs the high-volume handlers on the queue
// consumer's direct dispatch path.
func (h *Handlers) RegisterDirect(c *queue.Consumer) error {
	if err := c.RegisterDirect(events.TypePlayerKill, asDispatch(h.HandleKill)); err != nil {
		return err
	}
	if err := c.RegisterDirect(events.TypeWeaponFire, asDispatch(h.HandleWeaponFire)); err != nil {
		return err
	}
	return c.RegisterDirect(events.TypeWeaponHit, asDispatch(h.HandleWeaponHit))
}

// actorSession returns the live session for the event author, creating
// one when events arrive before their connect was materialized.
func (h *Handlers) actorSession(ctx context.Context, e *events.Event) (*store.Session, error) {
	if e.Meta == nil {
		return nil, fmt.Errorf("%w: %s event without player metadata", events.ErrValidation, e.Type)
	}
	game := h.servers.GetGame(ctx, e.ServerID)
	return h.sessions.GetOrCreate(ctx, e.ServerID, game, e.Meta, e.Timestamp)
}

// metaSession is actorSession for an arbitrary identity (kill victims,
// action targets).
func (h *Handlers) metaSession(ctx context.Context, e *events.Event, meta *events.PlayerMeta) (*store.Session, error) {
	game := h.servers.GetGame(ctx, e.ServerID)
	return h.sessions.GetOrCreate(ctx, e.ServerID, game, meta, e.Timestamp)
}

// currentMap returns the server's known map, empty when unknown.
func (h *Handlers) currentMap(ctx context.Context, serverID string) string {
	srv, err := h.servers.FindByExternalID(ctx, serverID)
	if err != nil {
		return ""
	}
	return srv.CurrentMap
}

// belowMinPlayers reports whether skill changes are suppressed because
// too few players are on. Counters still accrue; only rating freezes.
func (h *Handlers) belowMinPlayers(ctx context.Context, serverID string) bool {
	srv, err := h.servers.FindByExternalID(ctx, serverID)
	if err != nil || srv.MinPlayers <= 0 {
		return false
	}
	return h.sessions.Count(serverID) < srv.MinPlayers
}

// applyWithClamp applies stat deltas, retrying once with the skill
// clamped to zero when the delta would underflow the column.
func (h *Handlers) applyWithClamp(ctx context.Context, playerID string, d players.StatDeltas) error {
	err := h.players.ApplyUpdate(ctx, playerID, d)
	if err == nil || !errors.Is(err, events.ErrOutOfRange) {
		return err
	}
	h.log.Info("skill underflow, clamping to zero", "player", playerID, "delta", d.SkillDelta)
	d.ClampSkillToZero = true
	return h.players.ApplyUpdate(ctx, playerID, d)
}

func intPtr(v int) *int { return &v }

func sessionKills(n int) store.SessionUpdate { return store.SessionUpdate{AddKills: n} }

func sessionDeaths(n int) store.SessionUpdate { return store.SessionUpdate{AddDeaths: n} }

func eventUnix(e *events.Event) int64 {
	if e.Timestamp.IsZero() {
		return time.Now().Unix()
	}
	return e.Timestamp.Unix()
}
