package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"halflife-tracker/internal/servers"
)

const sampleYAML = `
udpBind: ":27600"
eventRetention: 720h

queue:
  transport: gochannel
  maxRetries: 5
  retryInterval: 2s

monitor:
  baseBackoff: 30s
  multiplier: 2
  maxBackoff: 10m
  maxFailures: 8
  dormantRetry: 1h

logging:
  level: debug
  file: tracker.log

servers:
  - id: cs-main
    name: "Main CS Server"
    game: cstrike
    address: "192.0.2.1:27015"
    engineType: goldsrc
    rconAddress: "192.0.2.1:27015"
    rconPassword: changeme
    minPlayers: 4
    notifyEvents: ["PLAYER_KILL", "CHAT_MESSAGE"]
    enabled: true
  - id: tf-backup
    name: "Backup TF Server"
    game: tf
    logFile: /var/log/tf/qconsole.log
    enabled: false
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestLoadFromYAML(t *testing.T) {
	cfg, err := LoadFrom(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}

	if cfg.UDPBind != ":27600" {
		t.Errorf("got udpBind %q, want %q", cfg.UDPBind, ":27600")
	}
	if cfg.EventRetention != 720*time.Hour {
		t.Errorf("got eventRetention %v, want 720h", cfg.EventRetention)
	}
	if cfg.Queue.MaxRetries != 5 || cfg.Queue.RetryInterval != 2*time.Second {
		t.Errorf("unexpected queue config: %+v", cfg.Queue)
	}
	if cfg.Monitor.MaxFailures != 8 || cfg.Monitor.DormantRetry != time.Hour {
		t.Errorf("unexpected monitor config: %+v", cfg.Monitor)
	}
	if len(cfg.Servers) != 2 {
		t.Fatalf("got %d servers, want 2", len(cfg.Servers))
	}
	srv := cfg.Servers[0]
	if srv.ID != "cs-main" || srv.Game != "cstrike" || srv.MinPlayers != 4 {
		t.Errorf("unexpected server config: %+v", srv)
	}
	if len(srv.NotifyEvents) != 2 {
		t.Errorf("got notifyEvents %v, want 2 entries", srv.NotifyEvents)
	}

	enabled := cfg.EnabledServers()
	if len(enabled) != 1 || enabled[0].ID != "cs-main" {
		t.Errorf("got enabled servers %+v, want only cs-main", enabled)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(t.TempDir())
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.UDPBind != ":27500" {
		t.Errorf("got udpBind %q, want default :27500", cfg.UDPBind)
	}
	if cfg.Queue.Transport != "gochannel" {
		t.Errorf("got transport %q, want gochannel", cfg.Queue.Transport)
	}
	if cfg.EventRetention != 2160*time.Hour {
		t.Errorf("got eventRetention %v, want 2160h", cfg.EventRetention)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("HLTRACKER_UDP_BIND", ":28000")
	t.Setenv("HLTRACKER_RCON_PASSWORD_0", "from-env")

	cfg, err := LoadFrom(writeConfig(t, sampleYAML))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.UDPBind != ":28000" {
		t.Errorf("got udpBind %q, want env override :28000", cfg.UDPBind)
	}
	if cfg.Servers[0].RconPassword != "from-env" {
		t.Errorf("got rcon password %q, want env override", cfg.Servers[0].RconPassword)
	}
}

func TestValidate(t *testing.T) {
	base := func() ServerConfig {
		return ServerConfig{
			ID:      "s1",
			Name:    "Server One",
			Address: "192.0.2.1:27015",
			Enabled: true,
		}
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"amqp without url", func(c *Config) { c.Queue.Transport = "amqp" }, true},
		{"unknown transport", func(c *Config) { c.Queue.Transport = "kafka" }, true},
		{"missing id", func(c *Config) { c.Servers[0].ID = "" }, true},
		{"missing name", func(c *Config) { c.Servers[0].Name = "" }, true},
		{"no ingest path", func(c *Config) { c.Servers[0].Address = "" }, true},
		{"bad engine type", func(c *Config) { c.Servers[0].EngineType = "quake" }, true},
		{"negative min players", func(c *Config) { c.Servers[0].MinPlayers = -1 }, true},
		{"password without address", func(c *Config) { c.Servers[0].RconPassword = "pw" }, true},
		{"duplicate ids", func(c *Config) { c.Servers = append(c.Servers, c.Servers[0]) }, true},
		{"disabled servers skip validation", func(c *Config) {
			c.Servers[0].Name = ""
			c.Servers[0].Enabled = false
		}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := &Config{Servers: []ServerConfig{base()}}
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestQueryAddrFallback(t *testing.T) {
	s := ServerConfig{Address: "192.0.2.1:27015"}
	if got := s.QueryAddr(); got != "192.0.2.1:27015" {
		t.Errorf("got %q, want game address fallback", got)
	}
	s.QueryAddress = "192.0.2.1:27016"
	if got := s.QueryAddr(); got != "192.0.2.1:27016" {
		t.Errorf("got %q, want dedicated query address", got)
	}
}

func TestUDPRoutes(t *testing.T) {
	cfg := &Config{Servers: []ServerConfig{
		{ID: "a", Name: "A", Address: "192.0.2.1:27015", Enabled: true},
		{ID: "b", Name: "B", LogFile: "/tmp/b.log", Enabled: true},
		{ID: "c", Name: "C", Address: "192.0.2.3:27015"},
	}}
	routes := cfg.UDPRoutes()
	if len(routes) != 1 || routes["192.0.2.1:27015"] != "a" {
		t.Errorf("got routes %v, want only server a", routes)
	}
}

type fakeServerStore struct {
	created []string
	applied []*servers.Server
}

func (f *fakeServerStore) GetOrCreate(ctx context.Context, externalID, name, game, address string) (*servers.Server, error) {
	f.created = append(f.created, externalID)
	return &servers.Server{ExternalID: externalID}, nil
}

func (f *fakeServerStore) ApplyConfig(ctx context.Context, s *servers.Server) error {
	f.applied = append(f.applied, s)
	return nil
}

func TestEnsureServersInDatabase(t *testing.T) {
	cfg := &Config{Servers: []ServerConfig{
		{ID: "a", Name: "A", Address: "192.0.2.1:27015", RconAddress: "192.0.2.1:27015",
			RconPassword: "pw", MinPlayers: 2, NotifyEvents: []string{"*"}, Enabled: true},
		{ID: "skipped", Name: "Off", Address: "192.0.2.9:27015"},
	}}

	store := &fakeServerStore{}
	if err := cfg.EnsureServersInDatabase(context.Background(), store); err != nil {
		t.Fatalf("EnsureServersInDatabase: %v", err)
	}

	if len(store.created) != 1 || store.created[0] != "a" {
		t.Fatalf("got created %v, want [a]", store.created)
	}
	applied := store.applied[0]
	if applied.RconPassword != "pw" || applied.MinPlayers != 2 {
		t.Errorf("config columns not applied: %+v", applied)
	}
	if len(applied.NotifyEventTypes) != 1 || applied.NotifyEventTypes[0] != "*" {
		t.Errorf("notify events not applied: %v", applied.NotifyEventTypes)
	}
}
