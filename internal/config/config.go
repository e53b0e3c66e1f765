// Package config loads the daemon configuration: config.yaml (with a
// TOML fallback) merged with HLTRACKER_* environment overrides, plus an
// optional .env file loaded before viper runs.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"halflife-tracker/internal/servers"
)

// ServerConfig describes one tracked game server.
type ServerConfig struct {
	ID           string `mapstructure:"id"`
	Name         string `mapstructure:"name"`
	Game         string `mapstructure:"game"`
	Address      string `mapstructure:"address"`
	QueryAddress string `mapstructure:"queryAddress"`
	EngineType   string `mapstructure:"engineType"` // goldsrc | source | source2
	RconAddress  string `mapstructure:"rconAddress"`
	RconPassword string `mapstructure:"rconPassword"`
	LogFile      string `mapstructure:"logFile"`
	IgnoreBots   bool   `mapstructure:"ignoreBots"`
	MinPlayers   int    `mapstructure:"minPlayers"`

	BroadcastCommand string   `mapstructure:"broadcastCommand"`
	AnnounceCommand  string   `mapstructure:"announceCommand"`
	ColorEnabled     bool     `mapstructure:"colorEnabled"`
	NotifyEvents     []string `mapstructure:"notifyEvents"`

	Enabled bool `mapstructure:"enabled"`
}

// QueryAddr is the address for A2S queries, falling back to the game
// address when no dedicated query port is configured.
func (s *ServerConfig) QueryAddr() string {
	if s.QueryAddress != "" {
		return s.QueryAddress
	}
	return s.Address
}

// QueueConfig selects and tunes the event queue transport.
type QueueConfig struct {
	Transport       string        `mapstructure:"transport"` // gochannel | amqp
	AMQPURL         string        `mapstructure:"amqpUrl"`
	MaxRetries      int           `mapstructure:"maxRetries"`
	RetryInterval   time.Duration `mapstructure:"retryInterval"`
	RetryMultiplier float64       `mapstructure:"retryMultiplier"`
}

// MonitorConfig tunes the RCON monitor's failure backoff.
type MonitorConfig struct {
	BaseBackoff  time.Duration `mapstructure:"baseBackoff"`
	Multiplier   float64       `mapstructure:"multiplier"`
	MaxBackoff   time.Duration `mapstructure:"maxBackoff"`
	MaxFailures  int           `mapstructure:"maxFailures"`
	DormantRetry time.Duration `mapstructure:"dormantRetry"`
}

// LoggingConfig controls the slog tee handler.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	File       string `mapstructure:"file"`
	MaxBackups int    `mapstructure:"maxBackups"`
}

// Config is the full daemon configuration.
type Config struct {
	UDPBind        string         `mapstructure:"udpBind"`
	EventRetention time.Duration  `mapstructure:"eventRetention"`
	Queue          QueueConfig    `mapstructure:"queue"`
	Monitor        MonitorConfig  `mapstructure:"monitor"`
	Logging        LoggingConfig  `mapstructure:"logging"`
	Servers        []ServerConfig `mapstructure:"servers"`
}

// Load reads config.yaml (or config.toml) from the working directory.
func Load() (*Config, error) {
	return LoadFrom(".")
}

// LoadFrom reads the configuration from dir. A missing config file is
// not an error; defaults plus environment overrides still apply.
func LoadFrom(dir string) (*Config, error) {
	// .env values become plain environment variables, so HLTRACKER_*
	// entries there behave exactly like exported ones.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(dir)

	v.SetEnvPrefix("HLTRACKER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	v.BindEnv("udpBind", "HLTRACKER_UDP_BIND")
	v.BindEnv("queue.amqpUrl", "HLTRACKER_AMQP_URL")

	v.SetDefault("udpBind", ":27500")
	v.SetDefault("eventRetention", "2160h")
	v.SetDefault("queue.transport", "gochannel")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.maxBackups", 5)

	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	// Secrets stay out of the config file: HLTRACKER_RCON_PASSWORD_<n>
	// overrides the n-th server's password.
	for i := range cfg.Servers {
		if pw := os.Getenv(fmt.Sprintf("HLTRACKER_RCON_PASSWORD_%d", i)); pw != "" {
			cfg.Servers[i].RconPassword = pw
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

var validEngineTypes = map[string]bool{
	"":        true, // defaults to goldsrc downstream
	"goldsrc": true,
	"source":  true,
	"source2": true,
}

// Validate checks the queue selection and every enabled server.
func (c *Config) Validate() error {
	switch c.Queue.Transport {
	case "", "gochannel":
	case "amqp":
		if c.Queue.AMQPURL == "" {
			return fmt.Errorf("queue transport 'amqp' requires 'amqpUrl'")
		}
	default:
		return fmt.Errorf("unknown queue transport %q, want 'gochannel' or 'amqp'", c.Queue.Transport)
	}

	seen := make(map[string]bool, len(c.Servers))
	for i, srv := range c.Servers {
		if !srv.Enabled {
			continue
		}
		if srv.ID == "" {
			return fmt.Errorf("server at index %d is missing 'id'", i)
		}
		if seen[srv.ID] {
			return fmt.Errorf("server id %q configured twice", srv.ID)
		}
		seen[srv.ID] = true

		if srv.Name == "" {
			return fmt.Errorf("server %q is missing 'name'", srv.ID)
		}
		if srv.Address == "" && srv.LogFile == "" {
			return fmt.Errorf("server %q needs 'address' or 'logFile' to receive logs", srv.ID)
		}
		if !validEngineTypes[srv.EngineType] {
			return fmt.Errorf("server %q has unknown engineType %q", srv.ID, srv.EngineType)
		}
		if srv.MinPlayers < 0 {
			return fmt.Errorf("server %q has negative minPlayers", srv.ID)
		}
		if (srv.RconAddress == "") != (srv.RconPassword == "") {
			return fmt.Errorf("server %q has incomplete RCON credentials", srv.ID)
		}
	}
	return nil
}

// EnabledServers returns the servers that should be tracked.
func (c *Config) EnabledServers() []ServerConfig {
	out := make([]ServerConfig, 0, len(c.Servers))
	for _, srv := range c.Servers {
		if srv.Enabled {
			out = append(out, srv)
		}
	}
	return out
}

// UDPRoutes maps each enabled server's game address to its id for the
// UDP ingress listener.
func (c *Config) UDPRoutes() map[string]string {
	routes := make(map[string]string)
	for _, srv := range c.EnabledServers() {
		if srv.Address != "" {
			routes[srv.Address] = srv.ID
		}
	}
	return routes
}

// ServerStore is the slice of the server repository reconciliation needs.
type ServerStore interface {
	GetOrCreate(ctx context.Context, externalID, name, game, address string) (*servers.Server, error)
	ApplyConfig(ctx context.Context, s *servers.Server) error
}

// EnsureServersInDatabase reconciles configured servers into storage.
// Config wins for the columns it owns; live state columns stay with the
// database.
func (c *Config) EnsureServersInDatabase(ctx context.Context, store ServerStore) error {
	for _, srv := range c.EnabledServers() {
		if _, err := store.GetOrCreate(ctx, srv.ID, srv.Name, srv.Game, srv.Address); err != nil {
			return fmt.Errorf("failed to register server %s: %w", srv.ID, err)
		}
		err := store.ApplyConfig(ctx, &servers.Server{
			ExternalID:               srv.ID,
			Name:                     srv.Name,
			Game:                     srv.Game,
			Address:                  srv.Address,
			RconAddress:              srv.RconAddress,
			RconPassword:             srv.RconPassword,
			EngineType:               srv.EngineType,
			IgnoreBots:               srv.IgnoreBots,
			MinPlayers:               srv.MinPlayers,
			BroadcastCommand:         srv.BroadcastCommand,
			BroadcastCommandAnnounce: srv.AnnounceCommand,
			ColorEnabled:             srv.ColorEnabled,
			NotifyEventTypes:         srv.NotifyEvents,
			LogFile:                  srv.LogFile,
		})
		if err != nil {
			return fmt.Errorf("failed to apply config for server %s: %w", srv.ID, err)
		}
	}
	return nil
}
