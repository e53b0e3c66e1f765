package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/players"
)

func TestNormalizeSteamID(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"classic format", "STEAM_0:1:123456", "76561197960512641", false},
		{"classic universe 1", "STEAM_1:0:2", "76561197960265732", false},
		{"already numeric", "76561197960512641", "76561197960512641", false},
		{"steam3 format", "[U:1:246913]", "76561197960512641", false},
		{"whitespace trimmed", " STEAM_0:1:123456 ", "76561197960512641", false},
		{"pending placeholder", "STEAM_ID_PENDING", "", true},
		{"lan placeholder", "STEAM_ID_LAN", "", true},
		{"hltv", "HLTV", "", true},
		{"empty", "", "", true},
		{"malformed parts", "STEAM_0:1", "", true},
		{"malformed y", "STEAM_0:7:123", "", true},
		{"non steam engine id", "WON_12345", "WON_12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeSteamID(tt.raw)
			if tt.wantErr {
				if !errors.Is(err, events.ErrValidation) {
					t.Fatalf("NormalizeSteamID(%q) error = %v, want ErrValidation", tt.raw, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeSteamID(%q) error = %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeSteamID(%q) = %s, want %s", tt.raw, got, tt.want)
			}
		})
	}
}

func TestBotID(t *testing.T) {
	tests := []struct {
		serverID string
		botName  string
		want     string
	}{
		{"1", "Agent Smith", "BOT_1_Agent_Smith"},
		{"2", "Agent Smith", "BOT_2_Agent_Smith"},
		{"1", "[BOT] Zed!", "BOT_1__BOT__Zed_"},
		{"1", "plain-bot", "BOT_1_plain-bot"},
	}
	for _, tt := range tests {
		if got := BotID(tt.serverID, tt.botName); got != tt.want {
			t.Errorf("BotID(%s, %q) = %s, want %s", tt.serverID, tt.botName, got, tt.want)
		}
	}
}

// fakeUpserter counts calls and can inject latency and failures.
type fakeUpserter struct {
	calls atomic.Int64
	delay time.Duration
	err   error

	mu    sync.Mutex
	known map[string]string
}

func (f *fakeUpserter) UpsertPlayer(ctx context.Context, uniqueID, game, name string) (*players.Player, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.known == nil {
		f.known = make(map[string]string)
	}
	key := game + "/" + uniqueID
	id, ok := f.known[key]
	if !ok {
		id = "pid_" + uniqueID
		f.known[key] = id
	}
	return &players.Player{ID: id, LastName: name, Game: game}, nil
}

func TestResolvePlayerCoalescesConcurrentLookups(t *testing.T) {
	fake := &fakeUpserter{delay: 20 * time.Millisecond}
	r := New(fake, nil)

	meta := &events.PlayerMeta{PlayerName: "Player1", SteamID: "STEAM_0:1:123456"}

	const n = 10
	var wg sync.WaitGroup
	ids := make([]string, n)
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i], errs[i] = r.ResolvePlayer(context.Background(), "1", "cstrike", meta)
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Fatalf("ResolvePlayer() goroutine %d error = %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("ResolvePlayer() goroutine %d id = %s, want %s", i, ids[i], ids[0])
		}
	}
	if got := fake.calls.Load(); got != 1 {
		t.Errorf("upsert calls = %d, want 1 (coalesced)", got)
	}
}

func TestResolvePlayerTTLEviction(t *testing.T) {
	fake := &fakeUpserter{}
	r := New(fake, nil)
	r.ttl = 20 * time.Millisecond

	meta := &events.PlayerMeta{PlayerName: "Player1", SteamID: "STEAM_0:1:123456"}

	if _, err := r.ResolvePlayer(context.Background(), "1", "cstrike", meta); err != nil {
		t.Fatalf("ResolvePlayer() error = %v", err)
	}
	// Inside the TTL the cached result is reused.
	if _, err := r.ResolvePlayer(context.Background(), "1", "cstrike", meta); err != nil {
		t.Fatalf("ResolvePlayer() error = %v", err)
	}
	if got := fake.calls.Load(); got != 1 {
		t.Fatalf("upsert calls = %d, want 1 inside ttl", got)
	}

	time.Sleep(50 * time.Millisecond)

	if _, err := r.ResolvePlayer(context.Background(), "1", "cstrike", meta); err != nil {
		t.Fatalf("ResolvePlayer() error = %v", err)
	}
	if got := fake.calls.Load(); got != 2 {
		t.Errorf("upsert calls = %d, want 2 after ttl eviction", got)
	}
}

func TestResolvePlayerFailureEvictsImmediately(t *testing.T) {
	fake := &fakeUpserter{err: errors.New("db unavailable")}
	r := New(fake, nil)

	meta := &events.PlayerMeta{PlayerName: "Player1", SteamID: "STEAM_0:1:123456"}

	if _, err := r.ResolvePlayer(context.Background(), "1", "cstrike", meta); err == nil {
		t.Fatal("ResolvePlayer() error = nil, want failure")
	}

	// A failed lookup must not be cached; the retry reaches the store again.
	fake.err = nil
	if _, err := r.ResolvePlayer(context.Background(), "1", "cstrike", meta); err != nil {
		t.Fatalf("ResolvePlayer() retry error = %v", err)
	}
	if got := fake.calls.Load(); got != 2 {
		t.Errorf("upsert calls = %d, want 2", got)
	}
}

func TestResolvePlayerBotsPerServer(t *testing.T) {
	fake := &fakeUpserter{}
	r := New(fake, nil)

	meta := &events.PlayerMeta{PlayerName: "Agent Smith", SteamID: "BOT", IsBot: true}

	id1, err := r.ResolvePlayer(context.Background(), "1", "cstrike", meta)
	if err != nil {
		t.Fatalf("ResolvePlayer(server 1) error = %v", err)
	}
	id2, err := r.ResolvePlayer(context.Background(), "2", "cstrike", meta)
	if err != nil {
		t.Fatalf("ResolvePlayer(server 2) error = %v", err)
	}

	// Same bot name on different servers is two distinct identities.
	if id1 == id2 {
		t.Errorf("bot ids collide across servers: %s == %s", id1, id2)
	}
}

func TestResolvePlayerRejectsPlaceholders(t *testing.T) {
	fake := &fakeUpserter{}
	r := New(fake, nil)

	_, err := r.ResolvePlayer(context.Background(), "1", "cstrike",
		&events.PlayerMeta{PlayerName: "Joining", SteamID: "STEAM_ID_PENDING"})
	if !errors.Is(err, events.ErrValidation) {
		t.Errorf("ResolvePlayer(pending) error = %v, want ErrValidation", err)
	}

	_, err = r.ResolvePlayer(context.Background(), "1", "cstrike", nil)
	if !errors.Is(err, events.ErrValidation) {
		t.Errorf("ResolvePlayer(nil meta) error = %v, want ErrValidation", err)
	}

	if got := fake.calls.Load(); got != 0 {
		t.Errorf("upsert calls = %d, want 0 for rejected lookups", got)
	}
}
