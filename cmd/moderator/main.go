// Command moderator answers toxicity checks over NATS for relays running
// with CLASSIFIER_MODE=nats. Several moderators may run side by side; they
// share the request load through a queue group.
package main

import (
	"context"
	"flag"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"

	"github.com/toxiguard/chat-relay/internal/config"
	"github.com/toxiguard/chat-relay/internal/logger"
	"github.com/toxiguard/chat-relay/internal/messaging"
	"github.com/toxiguard/chat-relay/internal/moderation"
)

const queueGroup = "moderators"

func main() {
	configPath := flag.String("config", config.GetEnv("CONFIG_PATH", "relay.yaml"), "path to YAML config")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		mainLog := logger.Component("main")
		mainLog.Fatal().Err(err).Msg("failed to load config")
	}
	logger.Configure(logger.Config{Level: logger.Level(cfg.Logging.Level), Pretty: cfg.Logging.Pretty})
	log := logger.Component("moderator")

	natsConfig := messaging.DefaultNATSConfig()
	if cfg.NATS.URL != "" {
		natsConfig.URL = cfg.NATS.URL
	}
	natsConfig.Name = "chat-moderator"

	natsClient, err := messaging.NewNATSClient(natsConfig, logger.Component("nats"))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to NATS")
	}

	modLog := logger.Component("moderation")
	gate := moderation.NewGate(moderation.FileLoader{Dir: cfg.Classifier.ArtifactDir, Log: modLog}, modLog)
	if !gate.Warm() {
		// Still answer: relays treat degraded replies as clean.
		log.Warn().Str("artifact_dir", cfg.Classifier.ArtifactDir).Msg("classifier degraded")
	}

	timeout := cfg.Classifier.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	err = natsClient.ServeRequests(cfg.Classifier.Subject, queueGroup, func(data []byte) []byte {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return moderation.HandleCheck(ctx, gate, data)
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe to moderation checks")
	}

	log.Info().
		Str("nats_url", natsConfig.URL).
		Str("subject", cfg.Classifier.Subject).
		Str("queue", queueGroup).
		Msg("moderation service running")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		cfg.Server.ShutdownTimeout,
		map[string]gfshutdown.Operation{
			"nats": func(ctx context.Context) error {
				natsClient.Close()
				return nil
			},
		},
	)

	exitCode := <-wait
	log.Info().Int("exit_code", exitCode).Msg("moderation service stopped")
	os.Exit(exitCode)
}
