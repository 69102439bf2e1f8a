package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klenai/stonecare/internal/adapters/database"
	"github.com/klenai/stonecare/internal/application/services"
	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/internal/infrastructure/clients/postgres"
	"github.com/klenai/stonecare/internal/infrastructure/notifications"
	"github.com/klenai/stonecare/internal/infrastructure/observability"
	"github.com/klenai/stonecare/pkg/config"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	observability.InitLogger(cfg.OTEL.ServiceName+"-dispatcher", cfg.Env)
	logger := observability.GetLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(
			ctx,
			cfg.OTEL.ServiceName+"-dispatcher",
			cfg.OTEL.ServiceVersion,
			cfg.OTEL.Endpoint,
		)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	var sender providers.MessageSender
	if cfg.Telnyx.Mock {
		sender = notifications.NewMockSender()
		logger.Info().Msg("using mock message sender")
	} else {
		sender, err = notifications.NewTelnyxSender(&cfg.Telnyx)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize Telnyx sender")
		}
	}

	dispatcher := services.NewNudgeDispatcher(
		database.NewNudgeAdapter(pgClient),
		database.NewPlanAdapter(pgClient),
		database.NewPatientAdapter(pgClient),
		sender,
		metrics,
		cfg.Dispatch,
	)

	interval := cfg.Dispatch.Interval
	if interval <= 0 {
		interval = time.Minute
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	logger.Info().Dur("interval", interval).Msg("dispatcher starting")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := dispatcher.DispatchDue(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("dispatch pass failed")
				continue
			}
			if stats.Sent+stats.Skipped+stats.Failed+stats.Blocked > 0 {
				logger.Info().
					Int("sent", stats.Sent).
					Int("skipped", stats.Skipped).
					Int("failed", stats.Failed).
					Int("blocked", stats.Blocked).
					Msg("dispatch pass complete")
			}
		case <-quit:
			logger.Info().Msg("dispatcher shutting down")
			return
		}
	}
}
