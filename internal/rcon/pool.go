package rcon

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServerConfig holds the connection settings for one server.
type ServerConfig struct {
	Address  string
	Password string
	Timeout  time.Duration
}

// Pool manages lazily dialed RCON connections keyed by server id. A failed
// command drops the connection so the next attempt redials.
type Pool struct {
	clients map[string]*Client
	configs map[string]*ServerConfig
	log     *slog.Logger
	mu      sync.RWMutex
}

// NewPool returns an empty pool.
func NewPool(log *slog.Logger) *Pool {
	if log == nil {
		log = slog.Default()
	}
	return &Pool{
		clients: make(map[string]*Client),
		configs: make(map[string]*ServerConfig),
		log:     log.With("component", "rcon"),
	}
}

// AddServer registers the connection settings for a server.
func (p *Pool) AddServer(serverID string, config *ServerConfig) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	p.configs[serverID] = config
}

// RemoveServer drops a server and closes its connection.
func (p *Pool) RemoveServer(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[serverID]; exists {
		client.Close()
		delete(p.clients, serverID)
	}
	delete(p.configs, serverID)
}

// Get returns the connection for a server, dialing and authenticating on
// first use.
func (p *Pool) Get(ctx context.Context, serverID string) (*Client, error) {
	p.mu.RLock()
	if client, exists := p.clients[serverID]; exists {
		p.mu.RUnlock()
		return client, nil
	}
	config, exists := p.configs[serverID]
	if !exists {
		p.mu.RUnlock()
		return nil, fmt.Errorf("rcon: no configuration for server %s", serverID)
	}
	// Copy so the dial below runs without the lock.
	configCopy := *config
	p.mu.RUnlock()

	client, err := Dial(ctx, configCopy.Address, configCopy.Password, configCopy.Timeout)
	if err != nil {
		return nil, fmt.Errorf("rcon: failed to connect to server %s: %w", serverID, err)
	}

	p.mu.Lock()
	// Another goroutine may have connected while we were dialing.
	if existing, exists := p.clients[serverID]; exists {
		p.mu.Unlock()
		client.Close()
		return existing, nil
	}
	p.clients[serverID] = client
	p.mu.Unlock()

	p.log.Info("connected rcon client", "server", serverID, "address", configCopy.Address)
	return client, nil
}

// Exec runs a command on a server. On failure the cached connection is
// dropped so the next call starts from a fresh dial.
func (p *Pool) Exec(ctx context.Context, serverID, command string) (string, error) {
	client, err := p.Get(ctx, serverID)
	if err != nil {
		return "", err
	}

	response, err := client.Exec(ctx, command)
	if err != nil {
		p.mu.Lock()
		if cached, exists := p.clients[serverID]; exists && cached == client {
			cached.Close()
			delete(p.clients, serverID)
		}
		p.mu.Unlock()

		p.log.Warn("rcon command failed, dropped connection",
			"server", serverID, "command", command, "error", err)
		return "", err
	}
	return response, nil
}

// Status runs the status command and parses the result.
func (p *Pool) Status(ctx context.Context, serverID string) (*StatusInfo, error) {
	raw, err := p.Exec(ctx, serverID, "status")
	if err != nil {
		return nil, err
	}
	return ParseStatus(raw), nil
}

// Disconnect closes a server's connection but keeps its configuration so a
// later call can redial.
func (p *Pool) Disconnect(serverID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, exists := p.clients[serverID]; exists {
		client.Close()
		delete(p.clients, serverID)
	}
}

// CloseAll closes every connection in the pool.
func (p *Pool) CloseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for serverID, client := range p.clients {
		client.Close()
		p.log.Info("closed rcon client", "server", serverID)
	}
	p.clients = make(map[string]*Client)
}

// ListServers returns every configured server id.
func (p *Pool) ListServers() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.configs))
	for serverID := range p.configs {
		out = append(out, serverID)
	}
	return out
}

// IsConnected reports whether a live connection exists for the server.
func (p *Pool) IsConnected(serverID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	_, exists := p.clients[serverID]
	return exists
}
