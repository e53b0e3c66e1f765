// Package app wires the daemon together on top of PocketBase: config,
// logging, storage repositories, the event pipeline, the housekeeping
// crons and the log ingress listeners, bound to the OnServe/OnTerminate
// lifecycle.
package app

import (
	"context"
	"fmt"

	"github.com/pocketbase/pocketbase"
	"github.com/pocketbase/pocketbase/core"
	"github.com/pocketbase/pocketbase/plugins/migratecmd"
	"github.com/spf13/cobra"

	"halflife-tracker/internal/a2s"
	"halflife-tracker/internal/bus"
	"halflife-tracker/internal/config"
	"halflife-tracker/internal/handlers"
	"halflife-tracker/internal/ingress"
	"halflife-tracker/internal/jobs"
	"halflife-tracker/internal/logger"
	"halflife-tracker/internal/monitor"
	"halflife-tracker/internal/notify"
	"halflife-tracker/internal/players"
	"halflife-tracker/internal/queue"
	"halflife-tracker/internal/ranking"
	"halflife-tracker/internal/rcon"
	"halflife-tracker/internal/resolver"
	"halflife-tracker/internal/servers"
	"halflife-tracker/internal/sessions"
	"halflife-tracker/internal/store"
)

// App is the daemon: PocketBase plus the tracker services constructed
// in OnServe and torn down in OnTerminate.
type App struct {
	*pocketbase.PocketBase

	Config *config.Config
	Log    *logger.Logger

	rconPool  *rcon.Pool
	a2sPool   *a2s.Pool
	transport *queue.Transport
	consumer  *queue.Consumer
	udp       *ingress.UDPListener
	tailer    *ingress.Tailer

	// stopServe cancels the consumer and ingress goroutines.
	stopServe context.CancelFunc

	Version string
	Commit  string
	Date    string
}

// New creates the app with development version info.
func New() (*App, error) {
	return NewWithVersion("dev", "unknown", "unknown")
}

// NewWithVersion creates the app; version info is injected at build
// time via ldflags.
func NewWithVersion(version, commit, date string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	lg, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxBackups: cfg.Logging.MaxBackups,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	app := &App{
		PocketBase: pocketbase.New(),
		Config:     cfg,
		Log:        lg,
		Version:    version,
		Commit:     commit,
		Date:       date,
	}
	app.setupPlugins()
	return app, nil
}

func (app *App) setupPlugins() {
	migratecmd.MustRegister(app.PocketBase, app.RootCmd, migratecmd.Config{
		Automigrate: true,
	})

	app.RootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("halflife-tracker version %s\n", app.Version)
			fmt.Printf("Commit: %s\n", app.Commit)
			fmt.Printf("Date: %s\n", app.Date)
		},
	})
}

// Bootstrap binds the lifecycle hooks. Call before Start.
func (app *App) Bootstrap() error {
	app.OnServe().BindFunc(app.onServe)
	app.OnTerminate().BindFunc(app.onTerminate)
	return nil
}

func (app *App) onServe(e *core.ServeEvent) error {
	ctx := context.Background()
	log := app.Log.Logger
	cfg := app.Config

	log.Info("starting halflife-tracker", "version", app.Version)

	srvRepo := servers.NewRepository(app.PocketBase, log)
	if err := cfg.EnsureServersInDatabase(ctx, srvRepo); err != nil {
		return fmt.Errorf("failed to reconcile configured servers: %w", err)
	}

	playerRepo := players.NewRepository(app.PocketBase, log)
	res := resolver.New(playerRepo, log)
	st := store.New()

	app.rconPool = rcon.NewPool(log)
	for _, sc := range cfg.EnabledServers() {
		if sc.RconAddress != "" {
			app.rconPool.AddServer(sc.ID, &rcon.ServerConfig{
				Address:  sc.RconAddress,
				Password: sc.RconPassword,
			})
		}
	}

	sess := sessions.NewService(st, res, srvRepo, playerRepo,
		&rconStatusSource{pool: app.rconPool}, log)

	b := bus.New(log)
	dispatcher := notify.NewDispatcher(app.rconPool, srvRepo, log)
	h := handlers.New(playerRepo, srvRepo, sess, ranking.New(), dispatcher, log)
	h.RegisterAll(b)

	transport, err := app.openTransport()
	if err != nil {
		return err
	}
	app.transport = transport

	serverIDs := make([]string, 0, len(cfg.EnabledServers()))
	for _, sc := range cfg.EnabledServers() {
		serverIDs = append(serverIDs, sc.ID)
	}

	consumer, err := queue.NewConsumer(transport, b, serverIDs, queue.RetryConfig{
		MaxRetries:      cfg.Queue.MaxRetries,
		InitialInterval: cfg.Queue.RetryInterval,
		Multiplier:      cfg.Queue.RetryMultiplier,
	}, log)
	if err != nil {
		return fmt.Errorf("failed to create queue consumer: %w", err)
	}
	if err := h.RegisterDirect(consumer); err != nil {
		return fmt.Errorf("failed to register direct handlers: %w", err)
	}
	app.consumer = consumer

	mon := monitor.New(srvRepo, app.rconPool, sess, monitor.BackoffConfig{
		Base:                   cfg.Monitor.BaseBackoff,
		Multiplier:             cfg.Monitor.Multiplier,
		MaxBackoff:             cfg.Monitor.MaxBackoff,
		MaxConsecutiveFailures: cfg.Monitor.MaxFailures,
		DormantRetry:           cfg.Monitor.DormantRetry,
	}, log)
	mon.Register(b)

	app.a2sPool = a2s.NewPool(a2s.NewClient(0))
	jobs.RegisterRconMonitor(app.PocketBase, mon, log)
	jobs.RegisterServerInfo(app.PocketBase, app.a2sPool, newQueryStore(srvRepo, cfg), log)
	jobs.RegisterEventPrune(app.PocketBase, playerRepo, cfg.EventRetention, log)

	serveCtx, cancel := context.WithCancel(context.Background())
	app.stopServe = cancel

	go func() {
		if err := consumer.Run(serveCtx); err != nil {
			log.Error("queue consumer stopped", "error", err)
		}
	}()

	if err := app.startIngress(ctx, serveCtx, transport, srvRepo, log); err != nil {
		return err
	}

	return e.Next()
}

func (app *App) openTransport() (*queue.Transport, error) {
	switch app.Config.Queue.Transport {
	case "amqp":
		t, err := queue.NewAMQPTransport(app.Config.Queue.AMQPURL, app.Log.Logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect queue transport: %w", err)
		}
		return t, nil
	default:
		return queue.NewGoChannelTransport(app.Log.Logger), nil
	}
}

func (app *App) onTerminate(e *core.TerminateEvent) error {
	if app.stopServe != nil {
		app.stopServe()
	}
	if app.udp != nil {
		app.udp.Close()
	}
	if app.tailer != nil {
		app.tailer.Close()
	}
	if app.consumer != nil {
		app.consumer.Close()
	}
	if app.transport != nil {
		app.transport.Close()
	}
	if app.rconPool != nil {
		app.rconPool.CloseAll()
	}
	if app.Log != nil {
		app.Log.Close()
	}
	return e.Next()
}
