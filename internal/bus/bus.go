// Package bus implements the in-process publish/subscribe dispatcher that
// routes typed events to their handlers. Dispatch within a single Emit is
// strictly sequential (priority desc, then registration order); concurrent
// Emit calls for different events may overlap.
package bus

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"halflife-tracker/internal/events"
)

// Handler processes one event. A returned error is captured by the bus and
// surfaced in the EmitResult; it is never re-raised to the emitter.
type Handler func(ctx context.Context, e *events.Event) error

// HandlerID identifies a registration for later removal.
// Format: "<EVENT_TYPE>_<monotonic>_<random>".
type HandlerID string

type registration struct {
	id       HandlerID
	priority int
	seq      uint64
	fn       Handler
}

// Bus is safe for concurrent use. Registration is rare, emission is frequent,
// so the handler table is guarded by an RWMutex and snapshotted per emit.
type Bus struct {
	log *slog.Logger

	mu       sync.RWMutex
	handlers map[events.Type][]*registration
	byID     map[HandlerID]events.Type

	seq     atomic.Uint64
	emitted atomic.Uint64
	errors  atomic.Uint64
}

// New returns an empty bus.
func New(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{
		log:      log.With("component", "bus"),
		handlers: make(map[events.Type][]*registration),
		byID:     make(map[HandlerID]events.Type),
	}
}

// On registers fn for eventType at priority 0 and returns its handler id.
func (b *Bus) On(eventType events.Type, fn Handler) HandlerID {
	return b.OnWithPriority(eventType, 0, fn)
}

// OnWithPriority registers fn for eventType. Higher priorities run first;
// equal priorities run in registration order.
func (b *Bus) OnWithPriority(eventType events.Type, priority int, fn Handler) HandlerID {
	seq := b.seq.Add(1)
	u := uuid.New()
	id := HandlerID(fmt.Sprintf("%s_%d_%s", eventType, seq, hex.EncodeToString(u[:4])))

	reg := &registration{id: id, priority: priority, seq: seq, fn: fn}

	b.mu.Lock()
	defer b.mu.Unlock()

	list := append(b.handlers[eventType], reg)
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].priority != list[j].priority {
			return list[i].priority > list[j].priority
		}
		return list[i].seq < list[j].seq
	})
	b.handlers[eventType] = list
	b.byID[id] = eventType

	return id
}

// Off removes a registration. Unknown ids log a warning and are otherwise a
// no-op.
func (b *Bus) Off(id HandlerID) {
	b.mu.Lock()
	defer b.mu.Unlock()

	eventType, ok := b.byID[id]
	if !ok {
		b.log.Warn("attempted to remove unknown handler", "handlerId", string(id))
		return
	}
	delete(b.byID, id)

	list := b.handlers[eventType]
	for i, reg := range list {
		if reg.id == id {
			b.handlers[eventType] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(b.handlers[eventType]) == 0 {
		delete(b.handlers, eventType)
	}
}

// ClearHandlers removes all handlers for the given types, or every handler
// when called without arguments.
func (b *Bus) ClearHandlers(types ...events.Type) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(types) == 0 {
		b.handlers = make(map[events.Type][]*registration)
		b.byID = make(map[HandlerID]events.Type)
		return
	}
	for _, t := range types {
		for _, reg := range b.handlers[t] {
			delete(b.byID, reg.id)
		}
		delete(b.handlers, t)
	}
}

// HasHandlers reports whether any handler is registered for eventType.
func (b *Bus) HasHandlers(eventType events.Type) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType]) > 0
}

// HandlerError pairs a failed handler invocation with its registration id.
type HandlerError struct {
	HandlerID HandlerID
	Err       error
}

// EmitResult reports what one Emit call did. Handler failures are data, not
// control flow; the emitter decides what to do with them.
type EmitResult struct {
	Handled int
	Errors  []HandlerError
}

// Failed reports whether any handler errored.
func (r EmitResult) Failed() bool { return len(r.Errors) > 0 }

// Emit dispatches e to every handler registered for its type, one at a time.
// A failing or panicking handler never aborts its siblings; failures are
// logged, counted and collected into the result.
func (b *Bus) Emit(ctx context.Context, e *events.Event) EmitResult {
	b.emitted.Add(1)

	b.mu.RLock()
	regs := b.handlers[e.Type]
	snapshot := make([]*registration, len(regs))
	copy(snapshot, regs)
	b.mu.RUnlock()

	if len(snapshot) == 0 {
		b.log.Debug("no handlers registered for event", "eventType", string(e.Type), "serverId", e.ServerID)
		return EmitResult{}
	}

	var result EmitResult
	for _, reg := range snapshot {
		if err := b.invoke(ctx, reg, e); err != nil {
			b.errors.Add(1)
			b.log.Error("handler failed",
				"handlerId", string(reg.id),
				"eventType", string(e.Type),
				"error", err.Error())
			result.Errors = append(result.Errors, HandlerError{HandlerID: reg.id, Err: err})
		}
		result.Handled++
	}
	return result
}

func (b *Bus) invoke(ctx context.Context, reg *registration, e *events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return reg.fn(ctx, e)
}

// Stats is a point-in-time snapshot of bus counters.
type Stats struct {
	TotalHandlers  int
	HandlersByType map[events.Type]int
	EventsEmitted  uint64
	HandlerErrors  uint64
}

// GetStats returns cumulative counters and current handler counts.
func (b *Bus) GetStats() Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	byType := make(map[events.Type]int, len(b.handlers))
	total := 0
	for t, list := range b.handlers {
		byType[t] = len(list)
		total += len(list)
	}
	return Stats{
		TotalHandlers:  total,
		HandlersByType: byType,
		EventsEmitted:  b.emitted.Load(),
		HandlerErrors:  b.errors.Load(),
	}
}
