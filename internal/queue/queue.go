// Package queue bridges the durable message transport to the event
// pipeline. Each server gets its own topic consumed by a single handler,
// which preserves per-server event order while servers process in
// parallel. High-volume combat events bypass the bus and dispatch
// straight to their handlers; everything else is emitted on the bus.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	lru "github.com/hashicorp/golang-lru/v2"

	"halflife-tracker/internal/bus"
	"halflife-tracker/internal/events"
)

const (
	// TopicPrefix is the per-server topic namespace; the full topic is
	// TopicPrefix + serverId.
	TopicPrefix = "game.events."

	// PoisonTopic receives messages that failed permanently.
	PoisonTopic = "game.events.poison"

	// dedupeSize bounds the LRU of recently processed event ids.
	dedupeSize = 4096
)

// Topic returns the queue topic for a server.
func Topic(serverID string) string { return TopicPrefix + serverID }

// queueDirectTypes are dispatched by the consumer without going through
// the bus. They are the high-volume combat events where priority
// scheduling buys nothing.
var queueDirectTypes = map[events.Type]bool{
	events.TypePlayerKill: true,
	events.TypeWeaponFire: true,
	events.TypeWeaponHit:  true,
}

// IsQueueDirect reports whether an event type bypasses the bus.
func IsQueueDirect(t events.Type) bool { return queueDirectTypes[t] }

// DispatchFunc handles one queue-direct event. A returned error decides
// redelivery the same way bus handler errors do.
type DispatchFunc func(ctx context.Context, e *events.Event) error

// RetryConfig tunes the transient-failure retry middleware.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	Multiplier      float64
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
	return c
}

// Consumer pulls events off the transport and feeds the pipeline.
type Consumer struct {
	router *message.Router
	bus    *bus.Bus
	log    *slog.Logger

	direct map[events.Type]DispatchFunc
	seen   *lru.Cache[string, struct{}]
}

// NewConsumer builds a consumer for the given servers. Messages flow
// through recovery, dedupe and retry middleware; permanently failing
// messages are acked into the poison topic instead of redelivering
// forever.
func NewConsumer(t *Transport, b *bus.Bus, serverIDs []string, retry RetryConfig, log *slog.Logger) (*Consumer, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "queue")

	router, err := message.NewRouter(message.RouterConfig{}, t.wmLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to create queue router: %w", err)
	}

	seen, err := lru.New[string, struct{}](dedupeSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedupe cache: %w", err)
	}

	c := &Consumer{
		router: router,
		bus:    b,
		log:    log,
		direct: make(map[events.Type]DispatchFunc),
		seen:   seen,
	}

	poison, err := middleware.PoisonQueueWithFilter(t.Publisher, PoisonTopic, events.IsPermanent)
	if err != nil {
		return nil, fmt.Errorf("failed to set up poison queue: %w", err)
	}
	retryCfg := retry.withDefaults()

	for _, serverID := range serverIDs {
		// One handler per server topic keeps per-server delivery FIFO.
		c.router.AddConsumerHandler(
			"consume_"+serverID,
			Topic(serverID),
			t.Subscriber,
			c.handle,
		).AddMiddleware(
			middleware.Recoverer,
			c.dedupe,
			middleware.Retry{
				MaxRetries:      retryCfg.MaxRetries,
				InitialInterval: retryCfg.InitialInterval,
				Multiplier:      retryCfg.Multiplier,
			}.Middleware,
			// Innermost so permanent failures dead-letter before the retry
			// middleware burns attempts on them.
			poison,
		)
	}

	return c, nil
}

// RegisterDirect installs the handler for a queue-direct event type.
// Registering a bus-routed type is a programming error.
func (c *Consumer) RegisterDirect(t events.Type, fn DispatchFunc) error {
	if !IsQueueDirect(t) {
		return fmt.Errorf("event type %s is bus-routed, not queue-direct", t)
	}
	c.direct[t] = fn
	return nil
}

// dedupe short-circuits messages whose event id was already processed.
// Ids are recorded only after successful handling so a redelivered
// failure still gets its retry.
func (c *Consumer) dedupe(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		eventID := msg.Metadata.Get(metaEventID)
		if eventID != "" {
			if _, dup := c.seen.Get(eventID); dup {
				c.log.Debug("skipping duplicate event", "eventId", eventID)
				return nil, nil
			}
		}
		out, err := h(msg)
		if err == nil && eventID != "" {
			c.seen.Add(eventID, struct{}{})
		}
		return out, err
	}
}

// handle decodes one message and routes it. Returning nil acks,
// returning an error hands the decision to the middleware chain.
func (c *Consumer) handle(msg *message.Message) error {
	e, err := events.Unmarshal(msg.Payload)
	if err != nil {
		c.log.Warn("failed to decode queue message", "messageId", msg.UUID, "error", err)
		return err
	}

	ctx := msg.Context()

	if fn, ok := c.direct[e.Type]; ok {
		if err := fn(ctx, e); err != nil {
			return fmt.Errorf("direct dispatch of %s failed: %w", e.Type, err)
		}
		return nil
	}
	if IsQueueDirect(e.Type) {
		c.log.Debug("no direct handler registered, dropping", "eventType", string(e.Type))
		return nil
	}

	result := c.bus.Emit(ctx, e)
	if !result.Failed() {
		return nil
	}

	// A transient handler failure wins: the whole message redelivers and
	// the dedupe of downstream side effects is the handlers' problem.
	// Only when every failure is permanent does the message dead-letter.
	var permanent error
	for _, he := range result.Errors {
		if !events.IsPermanent(he.Err) {
			return fmt.Errorf("handler %s failed: %w", he.HandlerID, he.Err)
		}
		permanent = he.Err
	}
	return fmt.Errorf("event %s rejected: %w", e.Type, permanent)
}

// Run blocks consuming messages until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.router.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("queue router stopped: %w", err)
	}
	return nil
}

// Running is closed once the router consumes from all topics.
func (c *Consumer) Running() <-chan struct{} { return c.router.Running() }

// Close shuts the router down and waits for in-flight handlers.
func (c *Consumer) Close() error { return c.router.Close() }
