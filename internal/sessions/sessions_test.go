package sessions

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"halflife-tracker/internal/events"
	"halflife-tracker/internal/players"
	"halflife-tracker/internal/servers"
	"halflife-tracker/internal/store"
)

type fakeResolver struct {
	calls int
	fail  map[string]error
}

func (f *fakeResolver) ResolvePlayer(ctx context.Context, serverID, game string, meta *events.PlayerMeta) (string, error) {
	f.calls++
	if meta == nil {
		return "", events.ErrValidation
	}
	if err, ok := f.fail[meta.SteamID]; ok {
		return "", err
	}
	if meta.IsBot {
		return "pid_bot_" + serverID + "_" + meta.PlayerName, nil
	}
	return "pid_" + meta.SteamID, nil
}

type fakeServers struct {
	game string
}

func (f *fakeServers) FindByExternalID(ctx context.Context, externalID string) (*servers.Server, error) {
	return &servers.Server{ExternalID: externalID, Game: f.game}, nil
}

func newTestService(t *testing.T) (*Service, *fakeResolver) {
	t.Helper()
	res := &fakeResolver{}
	svc := NewService(store.New(), res, &fakeServers{game: "cstrike"}, nil, nil,
		slog.New(slog.DiscardHandler))
	return svc, res
}

func meta(name string, slot int, steamID string) *events.PlayerMeta {
	return &events.PlayerMeta{PlayerName: name, GameUserID: slot, SteamID: steamID}
}

func TestCreateFromMeta(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	sess, err := svc.CreateFromMeta(ctx, "1", "cstrike", meta("Player1", 2, "STEAM_0:1:123456"), time.Now())
	if err != nil {
		t.Fatalf("CreateFromMeta() error = %v", err)
	}
	if sess.PlayerID != "pid_STEAM_0:1:123456" {
		t.Errorf("PlayerID = %s, want resolved id", sess.PlayerID)
	}

	got := svc.Get("1", 2)
	if got == nil || got.PlayerName != "Player1" {
		t.Fatalf("Get() = %+v, want Player1 session", got)
	}
}

func TestGetOrCreateReusesMatchingSession(t *testing.T) {
	svc, res := newTestService(t)
	ctx := context.Background()

	m := meta("Player1", 2, "STEAM_0:1:123456")
	if _, err := svc.CreateFromMeta(ctx, "1", "cstrike", m, time.Now()); err != nil {
		t.Fatalf("CreateFromMeta() error = %v", err)
	}

	sess, err := svc.GetOrCreate(ctx, "1", "cstrike", m, time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess == nil {
		t.Fatal("GetOrCreate() returned nil session")
	}
	if res.calls != 1 {
		t.Errorf("resolver calls = %d, want 1 (existing session reused)", res.calls)
	}
}

func TestGetOrCreateReplacesMismatchedSlot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.CreateFromMeta(ctx, "1", "cstrike", meta("OldGuy", 2, "STEAM_0:1:111"), time.Now()); err != nil {
		t.Fatalf("CreateFromMeta() error = %v", err)
	}

	// Same slot, different identity: the server silently reused it.
	sess, err := svc.GetOrCreate(ctx, "1", "cstrike", meta("NewGuy", 2, "STEAM_0:1:222"), time.Now())
	if err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}
	if sess.SteamID != "STEAM_0:1:222" {
		t.Errorf("SteamID = %s, want STEAM_0:1:222", sess.SteamID)
	}
	if got := svc.Get("1", 2); got.PlayerName != "NewGuy" {
		t.Errorf("slot occupant = %s, want NewGuy", got.PlayerName)
	}
}

func TestSynchronizeServerSessions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Pre-existing session that is no longer on the server.
	if _, err := svc.CreateFromMeta(ctx, "1", "cstrike", meta("Ghost", 9, "STEAM_0:1:999"), time.Now()); err != nil {
		t.Fatalf("CreateFromMeta() error = %v", err)
	}

	roster := []StatusPlayer{
		{Name: "Player1", UserID: 2, UniqueID: "STEAM_0:1:123456"},
		{Name: "Player2", UserID: 3, UniqueID: "STEAM_0:0:654321"},
		{Name: "Agent Smith", UserID: 4, UniqueID: "BOT", IsBot: true},
	}

	res, err := svc.SynchronizeServerSessions(ctx, "1", roster, SyncOptions{IgnoreBots: true})
	if err != nil {
		t.Fatalf("SynchronizeServerSessions() error = %v", err)
	}
	if res.Created != 2 {
		t.Errorf("Created = %d, want 2", res.Created)
	}
	if res.Removed != 1 {
		t.Errorf("Removed = %d, want 1 (ghost)", res.Removed)
	}
	if res.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1 (bot)", res.Skipped)
	}
	if svc.Get("1", 9) != nil {
		t.Error("ghost session should have been removed")
	}
	if svc.Get("1", 4) != nil {
		t.Error("ignored bot should not have a session")
	}

	// Running the same sync again is a no-op apart from touches.
	res, err = svc.SynchronizeServerSessions(ctx, "1", roster, SyncOptions{IgnoreBots: true})
	if err != nil {
		t.Fatalf("SynchronizeServerSessions() second error = %v", err)
	}
	if res.Created != 0 || res.Removed != 0 {
		t.Errorf("second sync created/removed = %d/%d, want 0/0", res.Created, res.Removed)
	}
}

func TestSynchronizeCountsPerPlayerFailures(t *testing.T) {
	res := &fakeResolver{fail: map[string]error{"STEAM_0:1:666": errors.New("boom")}}
	svc := NewService(store.New(), res, &fakeServers{game: "cstrike"}, nil, nil,
		slog.New(slog.DiscardHandler))

	roster := []StatusPlayer{
		{Name: "Good", UserID: 2, UniqueID: "STEAM_0:1:123456"},
		{Name: "Broken", UserID: 3, UniqueID: "STEAM_0:1:666"},
		{Name: "AlsoGood", UserID: 4, UniqueID: "STEAM_0:0:42"},
	}

	out, err := svc.SynchronizeServerSessions(context.Background(), "1", roster, SyncOptions{})
	if err != nil {
		t.Fatalf("SynchronizeServerSessions() error = %v", err)
	}
	if out.Created != 2 {
		t.Errorf("Created = %d, want 2 despite one failure", out.Created)
	}
	if out.Failed != 1 {
		t.Errorf("Failed = %d, want 1", out.Failed)
	}
}

func TestSynchronizeClearExisting(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.CreateFromMeta(ctx, "1", "cstrike", meta("A", 2, "STEAM_0:1:1"), time.Now())
	svc.CreateFromMeta(ctx, "1", "cstrike", meta("B", 3, "STEAM_0:1:2"), time.Now())

	out, err := svc.SynchronizeServerSessions(ctx, "1",
		[]StatusPlayer{{Name: "C", UserID: 5, UniqueID: "STEAM_0:1:3"}},
		SyncOptions{ClearExisting: true})
	if err != nil {
		t.Fatalf("SynchronizeServerSessions() error = %v", err)
	}
	if out.Removed != 2 || out.Created != 1 {
		t.Errorf("removed/created = %d/%d, want 2/1", out.Removed, out.Created)
	}
	if svc.Count("1") != 1 {
		t.Errorf("Count = %d, want 1", svc.Count("1"))
	}
}

func TestConvertToGameUserIDs(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.CreateFromMeta(ctx, "1", "cstrike", meta("A", 2, "STEAM_0:1:1"), time.Now())
	svc.CreateFromMeta(ctx, "1", "cstrike", meta("B", 3, "STEAM_0:1:2"), time.Now())

	got := svc.ConvertToGameUserIDs(ctx, "1", []string{"pid_STEAM_0:1:1", "pid_STEAM_0:1:2", "pid_gone"})
	if len(got) != 2 {
		t.Fatalf("mapped = %d, want 2", len(got))
	}
	if got["pid_STEAM_0:1:1"] != 2 || got["pid_STEAM_0:1:2"] != 3 {
		t.Errorf("slots = %v, want {pid_STEAM_0:1:1:2 pid_STEAM_0:1:2:3}", got)
	}
}

// fakePlayers serves durable players for fallback reconstruction.
type fakePlayers struct {
	byID map[string]*players.Player
	uids map[string][]string
}

func (f *fakePlayers) FindByID(ctx context.Context, id string) (*players.Player, error) {
	if p, ok := f.byID[id]; ok {
		return p, nil
	}
	return nil, events.ErrNotFound
}

func (f *fakePlayers) FindUniqueIDs(ctx context.Context, playerID string) ([]string, error) {
	return f.uids[playerID], nil
}

// fakeStatus answers every status query with a fixed roster.
type fakeStatus struct {
	roster []StatusPlayer
}

func (f *fakeStatus) Status(ctx context.Context, serverID string) ([]StatusPlayer, error) {
	return f.roster, nil
}

func newFallbackService(pl *fakePlayers, st *fakeStatus) *Service {
	return NewService(store.New(), &fakeResolver{}, &fakeServers{game: "cstrike"}, pl, st,
		slog.New(slog.DiscardHandler))
}

func TestCanSendPrivateMessageManufacturesFallbackSession(t *testing.T) {
	// STEAM_0:1:99999 normalizes to this community id; the repository
	// stores the normalized form while the roster reports the raw one.
	pl := &fakePlayers{
		byID: map[string]*players.Player{"200": {ID: "200", LastName: "FallbackPlayer"}},
		uids: map[string][]string{"200": {"76561197960465727"}},
	}
	st := &fakeStatus{roster: []StatusPlayer{
		{Name: "Somebody", UserID: 2, UniqueID: "STEAM_0:1:11111"},
		{Name: "FallbackPlayer", UserID: 5, UniqueID: "STEAM_0:1:99999"},
		{Name: "Agent Smith", UserID: 9, UniqueID: "BOT", IsBot: true},
	}}
	svc := newFallbackService(pl, st)

	if !svc.CanSendPrivateMessage(context.Background(), "1", "200") {
		t.Fatal("CanSendPrivateMessage = false, want fallback session from live roster")
	}
	sess := svc.GetByPlayerID("1", "200")
	if sess == nil || sess.GameUserID != 5 {
		t.Fatalf("fallback session = %+v, want slot 5", sess)
	}
}

func TestFallbackSessionMatchesByLastName(t *testing.T) {
	// No stored unique id lines up; the last known name still does.
	pl := &fakePlayers{
		byID: map[string]*players.Player{"200": {ID: "200", LastName: "FallbackPlayer"}},
		uids: map[string][]string{},
	}
	st := &fakeStatus{roster: []StatusPlayer{
		{Name: "FallbackPlayer", UserID: 7, UniqueID: "STEAM_0:1:424242"},
	}}
	svc := newFallbackService(pl, st)

	sess, err := svc.FallbackSession(context.Background(), "1", "200")
	if err != nil {
		t.Fatalf("FallbackSession() error = %v", err)
	}
	if sess.GameUserID != 7 {
		t.Errorf("slot = %d, want 7 via name match", sess.GameUserID)
	}
}

func TestCanSendPrivateMessageFalseWhenOffServer(t *testing.T) {
	pl := &fakePlayers{
		byID: map[string]*players.Player{"200": {ID: "200", LastName: "Ghost"}},
		uids: map[string][]string{"200": {"76561197960465727"}},
	}
	st := &fakeStatus{roster: []StatusPlayer{
		{Name: "Somebody", UserID: 2, UniqueID: "STEAM_0:1:11111"},
	}}
	svc := newFallbackService(pl, st)

	if svc.CanSendPrivateMessage(context.Background(), "1", "200") {
		t.Error("CanSendPrivateMessage = true, want false for a player not on the roster")
	}
}

func TestEngineSupportsPrivateMessages(t *testing.T) {
	if EngineSupportsPrivateMessages("goldsrc") {
		t.Error("goldsrc should not support private messages")
	}
	if !EngineSupportsPrivateMessages("source") {
		t.Error("source should support private messages")
	}
}
