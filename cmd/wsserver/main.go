package main

import (
	"context"
	"flag"
	"os"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/rs/zerolog"

	"github.com/toxiguard/chat-relay/internal/config"
	"github.com/toxiguard/chat-relay/internal/logger"
	"github.com/toxiguard/chat-relay/internal/messaging"
	"github.com/toxiguard/chat-relay/internal/moderation"
	"github.com/toxiguard/chat-relay/internal/presence"
	"github.com/toxiguard/chat-relay/internal/relay"
	"github.com/toxiguard/chat-relay/internal/report"
	"github.com/toxiguard/chat-relay/internal/room"
	"github.com/toxiguard/chat-relay/internal/workerpool"
	"github.com/toxiguard/chat-relay/internal/ws"
)

func main() {
	configPath := flag.String("config", config.GetEnv("CONFIG_PATH", "relay.yaml"), "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		mainLog := logger.Component("main")
		mainLog.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Configure(logger.Config{Level: logger.Level(cfg.Logging.Level), Pretty: cfg.Logging.Pretty})
	log := logger.Component("main")

	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("server_name", cfg.Server.Name).
		Int("worker_pool", cfg.Server.WorkerPoolSize).
		Int("max_connections", cfg.Server.MaxConnections).
		Str("nats_url", cfg.NATS.URL).
		Str("redis_addr", cfg.Redis.Addr).
		Str("report_driver", cfg.Reports.Driver).
		Str("classifier", cfg.Classifier.Mode).
		Msg("starting chat relay")

	// Teardown runs in reverse order of construction.
	var closers []func() error

	// --- NATS (optional) ---
	var natsClient *messaging.NATSClient
	if cfg.NATS.URL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = cfg.NATS.URL
		natsConfig.Name = "chat-relay-" + cfg.Server.Name
		natsClient, err = messaging.NewNATSClient(natsConfig, logger.Component("nats"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to NATS")
		}
		closers = append(closers, func() error { natsClient.Close(); return nil })
	}

	// --- Classifier ---
	gate := newGate(cfg, natsClient)
	if cfg.Classifier.Warm {
		if gate.Warm() {
			log.Info().Msg("classifier loaded")
		} else {
			log.Warn().Msg("classifier degraded, messages will pass unflagged")
		}
	}

	// --- Reports ---
	store, closeStore, err := openReportStore(cfg, logger.Component("report"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open report store")
	}
	closers = append(closers, closeStore)

	// --- Rooms ---
	var bus room.Bus = room.NewLocalBus(logger.Component("room"))
	if natsClient != nil {
		bus = room.NewNATSBus(natsClient)
	}

	// --- Presence (optional) ---
	var presenceStore *presence.Store
	if cfg.Redis.Addr != "" {
		presenceStore, err = presence.NewStore(cfg.Redis.Addr, cfg.Server.Name)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to Redis")
		}
		closers = append(closers, presenceStore.Close)
	}

	relayConfig := relay.Config{
		Classifier: gate,
		Reports:    report.NewSink(store, logger.Component("report")),
		Rooms:      room.NewMembership(bus, logger.Component("room")),
		Pool:       workerpool.New(cfg.Server.WorkerPoolSize),
		Log:        logger.Component("relay"),
	}
	if presenceStore != nil {
		relayConfig.Presence = presenceStore
	}
	r := relay.New(relayConfig)

	serverConfig := ws.ServerConfig{
		ListenAddr:     cfg.Server.ListenAddr,
		MaxConnections: cfg.Server.MaxConnections,
		MaxMessageSize: cfg.Server.MaxMessageSize,
		WriteTimeout:   cfg.Server.WriteTimeout,
		Heartbeat: ws.HeartbeatConfig{
			Interval: cfg.Server.HeartbeatInterval,
			Timeout:  cfg.Server.HeartbeatTimeout,
		},
	}
	server := ws.NewServer(serverConfig, r, logger.Component("ws"))
	server.SetClassifierStatus(func() bool { return !gate.Degraded() })
	if presenceStore != nil {
		server.SetRoomCounter(presenceStore)
	}

	go func() {
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"chat-relay": func(ctx context.Context) error {
				err := server.Shutdown(ctx)
				for i := len(closers) - 1; i >= 0; i-- {
					if cerr := closers[i](); cerr != nil {
						log.Warn().Err(cerr).Msg("close failed")
					}
				}
				return err
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("chat relay stopped")
	os.Exit(exitCode)
}

// newGate picks the classifier backend. A misconfigured backend still yields
// a gate; it just runs degraded.
func newGate(cfg *config.Config, natsClient *messaging.NATSClient) *moderation.Gate {
	log := logger.Component("moderation")
	switch cfg.Classifier.Mode {
	case config.ClassifierDisabled:
		return moderation.Disabled(log)
	case config.ClassifierNATS:
		loader := moderation.RemoteLoader{
			Subject: cfg.Classifier.Subject,
			Timeout: cfg.Classifier.Timeout,
		}
		if natsClient != nil {
			loader.Client = natsClient
		}
		return moderation.NewGate(loader, log)
	default:
		return moderation.NewGate(moderation.FileLoader{Dir: cfg.Classifier.ArtifactDir, Log: log}, log)
	}
}

// openReportStore opens the configured report store and returns a function
// that releases it.
func openReportStore(cfg *config.Config, log zerolog.Logger) (report.Store, func() error, error) {
	if cfg.Reports.Driver == config.ReportDriverPostgres {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		db, err := report.OpenPostgres(ctx, cfg.Reports.DSN)
		if err != nil {
			return nil, nil, err
		}
		store := report.NewPostgresStore(db)
		if cfg.Reports.Migrate {
			if err := store.Migrate(); err != nil {
				db.Close()
				return nil, nil, err
			}
			log.Info().Msg("report migrations applied")
		}
		return store, db.Close, nil
	}

	store, err := report.OpenSQLite(cfg.Reports.SQLitePath)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("path", cfg.Reports.SQLitePath).Msg("sqlite report store ready")
	return store, store.Close, nil
}
