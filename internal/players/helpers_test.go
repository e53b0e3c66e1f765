package players

import (
	"log/slog"
	"testing"

	_ "halflife-tracker/migrations"

	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/tests"
)

func setupTestApp(t *testing.T) (*tests.TestApp, func()) {
	tempDir := t.TempDir()

	testApp, err := tests.NewTestApp(tempDir)
	if err != nil {
		t.Fatalf("Failed to create test app: %v", err)
	}

	collections := []string{"servers", "players", "player_unique_ids", "event_frags", "event_connects"}
	for _, name := range collections {
		if _, err := testApp.FindCollectionByNameOrId(name); err != nil {
			t.Fatalf("Collection %s not found after migration: %v", name, err)
		}
	}

	return testApp, func() { testApp.Cleanup() }
}

func newTestRepository(t *testing.T, app core.App) *Repository {
	t.Helper()
	return NewRepository(app, slog.New(slog.NewTextHandler(testWriter{t}, nil)))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func createTestServer(t *testing.T, app core.App, externalID string) string {
	t.Helper()
	col, err := app.FindCollectionByNameOrId("servers")
	if err != nil {
		t.Fatalf("Failed to load servers collection: %v", err)
	}
	rec := core.NewRecord(col)
	rec.Set("external_id", externalID)
	rec.Set("name", "Test Server "+externalID)
	rec.Set("game", "cstrike")
	rec.Set("engine_type", "goldsrc")
	if err := app.Save(rec); err != nil {
		t.Fatalf("Failed to create test server: %v", err)
	}
	return rec.Id
}
