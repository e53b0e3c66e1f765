package players

import (
	"context"
	"testing"
	"time"
)

func TestConnectDisconnectBackfill(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	serverRecID := createTestServer(t, testApp, "1")
	player, _ := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")

	connectAt := time.Now().Add(-10 * time.Minute)
	if err := repo.CreateConnectEvent(ctx, "1", player.ID, 2, "192.0.2.10:27005", connectAt); err != nil {
		t.Fatalf("CreateConnectEvent() error = %v", err)
	}

	// The open connect row has no disconnect timestamp yet.
	rows, err := testApp.FindRecordsByFilter(
		"event_connects",
		"server = {:server} && player = {:player}",
		"-event_time", 10, 0,
		map[string]any{"server": serverRecID, "player": player.ID},
	)
	if err != nil || len(rows) != 1 {
		t.Fatalf("connect rows = %d (%v), want 1", len(rows), err)
	}
	if rows[0].GetString("event_time_disconnect") != "" {
		t.Error("new connect row should have empty event_time_disconnect")
	}

	disconnectAt := time.Now()
	if err := repo.CreateDisconnectEvent(ctx, "1", player.ID, "Disconnect", 600, disconnectAt); err != nil {
		t.Fatalf("CreateDisconnectEvent() error = %v", err)
	}

	// Disconnect row written and connect row backfilled.
	discRows, err := testApp.FindRecordsByFilter(
		"event_disconnects",
		"server = {:server} && player = {:player}",
		"-event_time", 10, 0,
		map[string]any{"server": serverRecID, "player": player.ID},
	)
	if err != nil || len(discRows) != 1 {
		t.Fatalf("disconnect rows = %d (%v), want 1", len(discRows), err)
	}
	if discRows[0].GetInt("session_duration") != 600 {
		t.Errorf("session_duration = %d, want 600", discRows[0].GetInt("session_duration"))
	}

	rows, _ = testApp.FindRecordsByFilter(
		"event_connects",
		"server = {:server} && player = {:player}",
		"-event_time", 10, 0,
		map[string]any{"server": serverRecID, "player": player.ID},
	)
	if rows[0].GetString("event_time_disconnect") == "" {
		t.Error("connect row should be backfilled with event_time_disconnect")
	}
}

func TestHasRecentConnect(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	createTestServer(t, testApp, "1")
	player, _ := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")
	idle, _ := repo.UpsertPlayer(ctx, "76561197960512642", "cstrike", "Player2")

	if err := repo.CreateConnectEvent(ctx, "1", player.ID, 2, "", time.Now().Add(-30*time.Second)); err != nil {
		t.Fatalf("CreateConnectEvent() error = %v", err)
	}

	recent, err := repo.HasRecentConnect(ctx, "1", player.ID, time.Minute)
	if err != nil {
		t.Fatalf("HasRecentConnect() error = %v", err)
	}
	if !recent {
		t.Error("HasRecentConnect() = false, want true inside window")
	}

	recent, err = repo.HasRecentConnect(ctx, "1", idle.ID, time.Minute)
	if err != nil {
		t.Fatalf("HasRecentConnect(idle) error = %v", err)
	}
	if recent {
		t.Error("HasRecentConnect(idle) = true, want false")
	}

	// Window smaller than the connect age excludes it.
	recent, _ = repo.HasRecentConnect(ctx, "1", player.ID, 10*time.Second)
	if recent {
		t.Error("HasRecentConnect() = true outside window, want false")
	}
}

func TestFragAndActionRows(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	serverRecID := createTestServer(t, testApp, "1")
	killer, _ := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Killer")
	victim, _ := repo.UpsertPlayer(ctx, "76561197960512642", "cstrike", "Victim")

	now := time.Now()
	if err := repo.LogEventFrag(ctx, "1", killer.ID, victim.ID, "ak47", true, "de_dust2", "TERRORIST", "CT", now); err != nil {
		t.Fatalf("LogEventFrag() error = %v", err)
	}

	frag, err := testApp.FindFirstRecordByFilter(
		"event_frags",
		"server = {:server} && killer = {:killer}",
		map[string]any{"server": serverRecID, "killer": killer.ID},
	)
	if err != nil {
		t.Fatalf("frag row not found: %v", err)
	}
	if frag.GetString("victim") != victim.ID {
		t.Errorf("victim = %s, want %s", frag.GetString("victim"), victim.ID)
	}
	if !frag.GetBool("headshot") {
		t.Error("headshot = false, want true")
	}
	if frag.GetString("weapon") != "ak47" {
		t.Errorf("weapon = %s, want ak47", frag.GetString("weapon"))
	}

	// Action rows accept an empty victim.
	if err := repo.CreateActionEvent(ctx, "1", killer.ID, "", "Planted_The_Bomb", "TERRORIST", 3, now); err != nil {
		t.Fatalf("CreateActionEvent() error = %v", err)
	}
	action, err := testApp.FindFirstRecordByFilter(
		"event_actions",
		"server = {:server} && player = {:player}",
		map[string]any{"server": serverRecID, "player": killer.ID},
	)
	if err != nil {
		t.Fatalf("action row not found: %v", err)
	}
	if action.GetInt("bonus") != 3 {
		t.Errorf("bonus = %d, want 3", action.GetInt("bonus"))
	}
}

func TestPruneEventRows(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	createTestServer(t, testApp, "1")
	player, _ := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")

	old := time.Now().Add(-48 * time.Hour)
	if err := repo.CreateEntryEvent(ctx, "1", player.ID, old); err != nil {
		t.Fatalf("CreateEntryEvent(old) error = %v", err)
	}
	if err := repo.CreateEntryEvent(ctx, "1", player.ID, time.Now()); err != nil {
		t.Fatalf("CreateEntryEvent(new) error = %v", err)
	}

	removed, err := repo.PruneEventRows(ctx, 24*time.Hour)
	if err != nil {
		t.Fatalf("PruneEventRows() error = %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	rows, err := testApp.FindRecordsByFilter("event_entries", "player = {:player}", "", 10, 0,
		map[string]any{"player": player.ID})
	if err != nil {
		t.Fatalf("query entries error = %v", err)
	}
	if len(rows) != 1 {
		t.Errorf("remaining entries = %d, want 1", len(rows))
	}
}
