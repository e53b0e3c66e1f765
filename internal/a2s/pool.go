package a2s

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"
)

const (
	// minQueryInterval caps how often one address gets queried. Repeat
	// callers inside the window get the cached answer.
	minQueryInterval = time.Second

	queryAllParallel = 8
)

// Status is one server's last query outcome.
type Status struct {
	Address string
	Online  bool
	Info    *Info
	Players []Player
	Err     error
	Queried time.Time
}

type poolEntry struct {
	mu     sync.Mutex
	status *Status
}

// Pool deduplicates and rate-limits queries across servers, caching the
// last answer per address.
type Pool struct {
	client *Client

	mu      sync.Mutex
	entries map[string]*poolEntry
}

// NewPool wraps client with per-address caching.
func NewPool(client *Client) *Pool {
	if client == nil {
		client = NewClient(0)
	}
	return &Pool{
		client:  client,
		entries: make(map[string]*poolEntry),
	}
}

func (p *Pool) entry(address string) *poolEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entries[address]
	if !ok {
		e = &poolEntry{}
		p.entries[address] = e
	}
	return e
}

// QueryInfo returns the server's info, served from cache inside the
// rate-limit window.
func (p *Pool) QueryInfo(ctx context.Context, address string) (*Info, error) {
	st := p.Query(ctx, address)
	if st.Err != nil {
		return nil, st.Err
	}
	return st.Info, nil
}

// Query refreshes a server's status, including its player list. Inside
// the rate-limit window the cached status comes back instead.
func (p *Pool) Query(ctx context.Context, address string) *Status {
	e := p.entry(address)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != nil && time.Since(e.status.Queried) < minQueryInterval {
		return e.status
	}

	st := &Status{Address: address, Queried: time.Now()}
	st.Info, st.Err = p.client.QueryInfo(ctx, address)
	if st.Err == nil {
		st.Online = true
		// Player list failures are tolerable, the info already answered.
		st.Players, _ = p.client.QueryPlayers(ctx, address)
	}
	e.status = st
	return st
}

// QueryAll refreshes every address concurrently.
func (p *Pool) QueryAll(ctx context.Context, addresses []string) map[string]*Status {
	results := make(map[string]*Status, len(addresses))
	var mu sync.Mutex

	w := pool.New().WithContext(ctx).WithMaxGoroutines(queryAllParallel)
	for _, addr := range addresses {
		addr := addr
		w.Go(func(ctx context.Context) error {
			st := p.Query(ctx, addr)
			mu.Lock()
			results[addr] = st
			mu.Unlock()
			return nil
		})
	}
	_ = w.Wait()
	return results
}
