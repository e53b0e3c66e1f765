package players

import (
	"context"
	"errors"
	"testing"

	"halflife-tracker/internal/events"
)

func TestUpsertPlayerCreatesWithDefaultRating(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	player, err := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}
	if player.ID == "" {
		t.Fatal("UpsertPlayer() returned empty player id")
	}
	if player.Skill != DefaultSkill {
		t.Errorf("Skill = %d, want %d", player.Skill, DefaultSkill)
	}
	if player.LastName != "Player1" {
		t.Errorf("LastName = %s, want Player1", player.LastName)
	}
	if player.LastEvent == 0 {
		t.Error("LastEvent should be initialized on create")
	}

	// The mapping row must exist and point back at the player.
	mapping, err := testApp.FindFirstRecordByFilter(
		"player_unique_ids",
		"unique_id = {:uid} && game = {:game}",
		map[string]any{"uid": "76561197960512641", "game": "cstrike"},
	)
	if err != nil {
		t.Fatalf("Mapping row not found: %v", err)
	}
	if mapping.GetString("player") != player.ID {
		t.Errorf("Mapping player = %s, want %s", mapping.GetString("player"), player.ID)
	}
}

func TestUpsertPlayerReturnsExisting(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	first, err := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")
	if err != nil {
		t.Fatalf("UpsertPlayer() first call error = %v", err)
	}

	second, err := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "RenamedPlayer")
	if err != nil {
		t.Fatalf("UpsertPlayer() second call error = %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("UpsertPlayer() returned different ids: %s != %s", first.ID, second.ID)
	}
	// Existing players keep their stored name; renames go through the
	// change handler.
	if second.LastName != "Player1" {
		t.Errorf("LastName = %s, want Player1", second.LastName)
	}
}

func TestUpsertPlayerSeparatesGames(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	cstrike, err := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")
	if err != nil {
		t.Fatalf("UpsertPlayer(cstrike) error = %v", err)
	}
	tfc, err := repo.UpsertPlayer(ctx, "76561197960512641", "tfc", "Player1")
	if err != nil {
		t.Fatalf("UpsertPlayer(tfc) error = %v", err)
	}

	if cstrike.ID == tfc.ID {
		t.Error("same unique id in different games must map to different players")
	}
}

func TestFindByUniqueIDUnknown(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)

	_, err := repo.FindByUniqueID(context.Background(), "76561197960000000", "cstrike")
	if !errors.Is(err, events.ErrNotFound) {
		t.Errorf("FindByUniqueID() error = %v, want ErrNotFound", err)
	}
}

func TestFindUniqueIDs(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	player, err := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "Player1")
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}

	uids, err := repo.FindUniqueIDs(ctx, player.ID)
	if err != nil {
		t.Fatalf("FindUniqueIDs() error = %v", err)
	}
	if len(uids) != 1 || uids[0] != "76561197960512641" {
		t.Errorf("FindUniqueIDs() = %v, want [76561197960512641]", uids)
	}

	// Unknown player has no mappings, not an error.
	uids, err = repo.FindUniqueIDs(ctx, "missing000000001")
	if err != nil {
		t.Fatalf("FindUniqueIDs(unknown) error = %v", err)
	}
	if len(uids) != 0 {
		t.Errorf("FindUniqueIDs(unknown) = %v, want empty", uids)
	}
}

func TestUpdateLastName(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)
	ctx := context.Background()

	player, err := repo.UpsertPlayer(ctx, "76561197960512641", "cstrike", "OldName")
	if err != nil {
		t.Fatalf("UpsertPlayer() error = %v", err)
	}

	if err := repo.UpdateLastName(ctx, player.ID, "NewName"); err != nil {
		t.Fatalf("UpdateLastName() error = %v", err)
	}

	reloaded, err := repo.FindByID(ctx, player.ID)
	if err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if reloaded.LastName != "NewName" {
		t.Errorf("LastName = %s, want NewName", reloaded.LastName)
	}
}

func TestFindByIDUnknown(t *testing.T) {
	testApp, cleanup := setupTestApp(t)
	defer cleanup()

	repo := newTestRepository(t, testApp)

	_, err := repo.FindByID(context.Background(), "missing000000001")
	if !errors.Is(err, events.ErrNotFound) {
		t.Errorf("FindByID() error = %v, want ErrNotFound", err)
	}
}
