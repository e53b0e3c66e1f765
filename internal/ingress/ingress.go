// Package ingress feeds raw server log lines into the event pipeline.
// Two sources exist: the UDP remote-logging listener and the local
// file tailer. Both normalize lines the same way and publish parsed
// events to the owning server's queue topic.
package ingress

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/parser"
	"halflife-tracker/internal/queue"
)

// ServerMarker stamps authentication on the durable server record.
type ServerMarker interface {
	MarkAuthenticated(ctx context.Context, externalID string) error
}

// Pipeline is the shared line path: strip, parse, publish. It owns the
// per-epoch authentication latch so a server announces itself exactly
// once regardless of which source sees it first.
type Pipeline struct {
	pub     *queue.Publisher
	servers ServerMarker
	log     *slog.Logger

	mu            sync.Mutex
	authenticated map[string]bool
}

// NewPipeline returns a pipeline publishing through pub. servers may be
// nil in tests.
func NewPipeline(pub *queue.Publisher, servers ServerMarker, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		pub:           pub,
		servers:       servers,
		log:           log.With("component", "ingress"),
		authenticated: make(map[string]bool),
	}
}

// Authenticate emits SERVER_AUTHENTICATED for a server the first time it
// is seen this process epoch. Returns true on the first call per server.
func (p *Pipeline) Authenticate(ctx context.Context, serverID, sourceAddr string) bool {
	p.mu.Lock()
	if p.authenticated[serverID] {
		p.mu.Unlock()
		return false
	}
	p.authenticated[serverID] = true
	p.mu.Unlock()

	e := &events.Event{
		Type:      events.TypeServerAuthenticated,
		Timestamp: time.Now(),
		ServerID:  serverID,
		Data:      &events.ServerAuthenticatedData{Address: sourceAddr},
	}
	if err := p.pub.Publish(ctx, e); err != nil {
		p.log.Error("failed to publish server authentication", "server", serverID, "error", err)
		// Let a later line retry the announcement.
		p.mu.Lock()
		delete(p.authenticated, serverID)
		p.mu.Unlock()
		return false
	}
	if p.servers != nil {
		if err := p.servers.MarkAuthenticated(ctx, serverID); err != nil {
			p.log.Warn("failed to stamp server authentication", "server", serverID, "error", err)
		}
	}
	p.log.Info("server authenticated", "server", serverID, "source", sourceAddr)
	return true
}

// ProcessLine parses one raw line and publishes the event. Unparseable
// lines are normal log noise and only debug-logged.
func (p *Pipeline) ProcessLine(ctx context.Context, serverID, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	e, err := parser.Parse(serverID, line)
	if err != nil {
		if errors.Is(err, parser.ErrUnparsed) {
			p.log.Debug("skipping unrecognized log line", "server", serverID, "line", line)
		} else {
			p.log.Warn("failed to parse log line", "server", serverID, "line", line, "error", err)
		}
		return
	}
	if err := p.pub.Publish(ctx, e); err != nil {
		p.log.Error("failed to publish event", "server", serverID, "type", e.Type, "error", err)
	}
}
