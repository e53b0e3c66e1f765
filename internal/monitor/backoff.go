package monitor

import (
	"math"
	"sync"
	"time"
)

// Status classifies a server's RCON health.
type Status string

const (
	// StatusHealthy means the last poll succeeded.
	StatusHealthy Status = "healthy"
	// StatusBackingOff means recent failures delay the next attempt.
	StatusBackingOff Status = "backingOff"
	// StatusDormant means the failure ceiling was hit; the server is
	// retried on a slow cadence until it answers again.
	StatusDormant Status = "dormant"
)

// FailureState is one server's health snapshot.
type FailureState struct {
	ConsecutiveFailures int
	Status              Status
	NextRetryAt         time.Time
}

// BackoffConfig tunes the retry schedule.
type BackoffConfig struct {
	Base                   time.Duration
	Multiplier             float64
	MaxBackoff             time.Duration
	MaxConsecutiveFailures int
	DormantRetry           time.Duration
}

func (c BackoffConfig) withDefaults() BackoffConfig {
	if c.Base <= 0 {
		c.Base = 30 * time.Second
	}
	if c.Multiplier <= 1 {
		c.Multiplier = 2.0
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Minute
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = 5
	}
	if c.DormantRetry <= 0 {
		c.DormantRetry = time.Hour
	}
	return c
}

// Backoff tracks per-server failure state and computes retry times.
// The state map is bounded by the number of configured servers.
type Backoff struct {
	cfg BackoffConfig
	now func() time.Time

	mu     sync.Mutex
	states map[string]FailureState
}

// NewBackoff returns a calculator with every server implicitly healthy.
func NewBackoff(cfg BackoffConfig) *Backoff {
	return &Backoff{
		cfg:    cfg.withDefaults(),
		now:    time.Now,
		states: make(map[string]FailureState),
	}
}

// RecordFailure advances a server's failure state and returns the new
// snapshot. Below the ceiling the delay grows exponentially, clamped to
// the max backoff; at the ceiling the server goes dormant.
func (b *Backoff) RecordFailure(serverID string) FailureState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st := b.states[serverID]
	st.ConsecutiveFailures++

	now := b.now()
	if st.ConsecutiveFailures >= b.cfg.MaxConsecutiveFailures {
		st.Status = StatusDormant
		st.NextRetryAt = now.Add(b.cfg.DormantRetry)
	} else {
		st.Status = StatusBackingOff
		delay := time.Duration(float64(b.cfg.Base) * math.Pow(b.cfg.Multiplier, float64(st.ConsecutiveFailures-1)))
		if delay > b.cfg.MaxBackoff || delay <= 0 {
			delay = b.cfg.MaxBackoff
		}
		st.NextRetryAt = now.Add(delay)
	}

	b.states[serverID] = st
	return st
}

// RecordSuccess resets a server to healthy.
func (b *Backoff) RecordSuccess(serverID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.states, serverID)
}

// State returns the current snapshot for a server.
func (b *Backoff) State(serverID string) FailureState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[serverID]
	if !ok {
		return FailureState{Status: StatusHealthy}
	}
	return st
}

// ShouldRetry reports whether a sweep may poll the server now: healthy,
// or its scheduled retry time has passed.
func (b *Backoff) ShouldRetry(serverID string) bool {
	st := b.State(serverID)
	if st.Status == StatusHealthy {
		return true
	}
	return !b.now().Before(st.NextRetryAt)
}
