// Package store holds the live player sessions per server. It is the only
// owner of session state: callers get value copies and mutate through the
// store's API. All three lookup indices for a server are kept consistent
// under that server's single mutex.
package store

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// ErrSessionExists is returned when creating a session whose key is already
// live on the server.
var ErrSessionExists = errors.New("session already exists")

// Session is a live connection on one server. SteamID is the identifier as
// the game reports it, so for bot slots it is the literal "BOT"; PlayerID is
// the durable player record id.
type Session struct {
	ServerID    string
	GameUserID  int
	PlayerID    string
	SteamID     string
	PlayerName  string
	Team        string
	IsBot       bool
	Kills       int
	Deaths      int
	ConnectedAt time.Time
	LastSeen    time.Time
}

// SessionUpdate carries the fields Update may merge into a session. Kills
// and Deaths are increments so concurrent combat events never lose counts.
type SessionUpdate struct {
	PlayerName *string
	Team       *string
	AddKills   int
	AddDeaths  int
}

type serverCell struct {
	mu           sync.Mutex
	byGameUserID map[int]*Session
	byPlayerID   map[string]*Session
	bySteamID    map[string]*Session
}

// Store is safe for concurrent use. Operations on a single server contend
// only on that server's cell; cross-server snapshots lock cells in ascending
// server id order.
type Store struct {
	mu    sync.RWMutex
	cells map[string]*serverCell
}

// New returns an empty store.
func New() *Store {
	return &Store{cells: make(map[string]*serverCell)}
}

func (s *Store) cell(serverID string) *serverCell {
	s.mu.RLock()
	c, ok := s.cells[serverID]
	s.mu.RUnlock()
	if ok {
		return c
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok = s.cells[serverID]; ok {
		return c
	}
	c = &serverCell{
		byGameUserID: make(map[int]*Session),
		byPlayerID:   make(map[string]*Session),
		bySteamID:    make(map[string]*Session),
	}
	s.cells[serverID] = c
	return c
}

// Create inserts sess into all three indices atomically, normalizing its
// timestamps in place. It fails when the game slot, the durable player, or
// (for real players) the steam id already has a live session on the server.
func (s *Store) Create(sess *Session) error {
	now := time.Now()
	if sess.ConnectedAt.IsZero() {
		sess.ConnectedAt = now
	}
	if sess.LastSeen.Before(sess.ConnectedAt) {
		sess.LastSeen = sess.ConnectedAt
	}

	c := s.cell(sess.ServerID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.byGameUserID[sess.GameUserID]; ok {
		return fmt.Errorf("%w: server %s slot %d", ErrSessionExists, sess.ServerID, sess.GameUserID)
	}
	if _, ok := c.byPlayerID[sess.PlayerID]; ok {
		return fmt.Errorf("%w: server %s player %s", ErrSessionExists, sess.ServerID, sess.PlayerID)
	}
	if !sess.IsBot {
		if _, ok := c.bySteamID[sess.SteamID]; ok {
			return fmt.Errorf("%w: server %s steam id %s", ErrSessionExists, sess.ServerID, sess.SteamID)
		}
	}

	stored := *sess
	c.byGameUserID[stored.GameUserID] = &stored
	c.byPlayerID[stored.PlayerID] = &stored
	if !stored.IsBot {
		// Bot slots all report the literal "BOT" id, so only real players
		// are steam-indexed.
		c.bySteamID[stored.SteamID] = &stored
	}
	return nil
}

// Get returns a copy of the session on the slot, or nil.
func (s *Store) Get(serverID string, gameUserID int) *Session {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.byGameUserID[gameUserID]; ok {
		dup := *sess
		return &dup
	}
	return nil
}

// GetByPlayerID returns a copy of the session for the durable player, or nil.
func (s *Store) GetByPlayerID(serverID, playerID string) *Session {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.byPlayerID[playerID]; ok {
		dup := *sess
		return &dup
	}
	return nil
}

// GetBySteamID returns a copy of the non-bot session for the steam id, or nil.
func (s *Store) GetBySteamID(serverID, steamID string) *Session {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	if sess, ok := c.bySteamID[steamID]; ok {
		dup := *sess
		return &dup
	}
	return nil
}

// Update merges upd into the session for (serverID, gameUserID), bumps
// LastSeen, and reports whether the session existed.
func (s *Store) Update(serverID string, gameUserID int, upd SessionUpdate) bool {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.byGameUserID[gameUserID]
	if !ok {
		return false
	}
	if upd.PlayerName != nil {
		sess.PlayerName = *upd.PlayerName
	}
	if upd.Team != nil {
		sess.Team = *upd.Team
	}
	sess.Kills += upd.AddKills
	sess.Deaths += upd.AddDeaths
	if now := time.Now(); now.After(sess.LastSeen) {
		sess.LastSeen = now
	}
	return true
}

// Touch moves LastSeen for (serverID, gameUserID) forward to at. Earlier
// timestamps are ignored so replayed events cannot rewind a session.
func (s *Store) Touch(serverID string, gameUserID int, at time.Time) bool {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.byGameUserID[gameUserID]
	if !ok {
		return false
	}
	if at.After(sess.LastSeen) {
		sess.LastSeen = at
	}
	return true
}

// Remove drops the session for (serverID, gameUserID) from all indices and
// reports whether one was removed.
func (s *Store) Remove(serverID string, gameUserID int) bool {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	sess, ok := c.byGameUserID[gameUserID]
	if !ok {
		return false
	}
	delete(c.byGameUserID, gameUserID)
	delete(c.byPlayerID, sess.PlayerID)
	if !sess.IsBot {
		delete(c.bySteamID, sess.SteamID)
	}
	return true
}

// ClearServer removes every session for a server and returns how many were
// dropped. Used on connection loss and before a full synchronization.
func (s *Store) ClearServer(serverID string) int {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.byGameUserID)
	c.byGameUserID = make(map[int]*Session)
	c.byPlayerID = make(map[string]*Session)
	c.bySteamID = make(map[string]*Session)
	return n
}

// CountServer returns the number of live sessions on a server.
func (s *Store) CountServer(serverID string) int {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.byGameUserID)
}

// ServerSessions returns copies of every live session on a server, ordered
// by game slot.
func (s *Store) ServerSessions(serverID string) []Session {
	c := s.cell(serverID)
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Session, 0, len(c.byGameUserID))
	for _, sess := range c.byGameUserID {
		out = append(out, *sess)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GameUserID < out[j].GameUserID })
	return out
}

// TotalSessions counts live sessions across all servers. Cells are locked in
// ascending server id order.
func (s *Store) TotalSessions() int {
	s.mu.RLock()
	ids := make([]string, 0, len(s.cells))
	for id := range s.cells {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)

	total := 0
	for _, id := range ids {
		total += s.CountServer(id)
	}
	return total
}
