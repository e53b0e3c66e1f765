package app

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/pocketbase/pocketbase/tests"

	"halflife-tracker/internal/config"
	"halflife-tracker/internal/servers"

	_ "halflife-tracker/migrations"
)

func TestQueryStoreOverlaysQueryAddress(t *testing.T) {
	testApp, err := tests.NewTestApp(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer testApp.Cleanup()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	repo := servers.NewRepository(testApp, log)

	ctx := context.Background()
	if _, err := repo.GetOrCreate(ctx, "cs-main", "Main", "cstrike", "10.0.0.1:27015"); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetOrCreate(ctx, "cs-alt", "Alt", "cstrike", "10.0.0.2:27015"); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{Servers: []config.ServerConfig{
		{ID: "cs-main", Name: "Main", Address: "10.0.0.1:27015",
			QueryAddress: "10.0.0.1:27016", Enabled: true},
	}}

	qs := newQueryStore(repo, cfg)
	list, err := qs.FindAll(ctx)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}

	byID := make(map[string]string, len(list))
	for _, srv := range list {
		byID[srv.ExternalID] = srv.Address
	}
	if byID["cs-main"] != "10.0.0.1:27016" {
		t.Errorf("got address %q, want query address overlay", byID["cs-main"])
	}
	if byID["cs-alt"] != "10.0.0.2:27015" {
		t.Errorf("got address %q, want untouched game address", byID["cs-alt"])
	}
}
