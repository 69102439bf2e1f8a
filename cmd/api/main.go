package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/klenai/stonecare/internal/adapters/database"
	"github.com/klenai/stonecare/internal/adapters/locks"
	"github.com/klenai/stonecare/internal/api/handlers"
	"github.com/klenai/stonecare/internal/api/routes"
	"github.com/klenai/stonecare/internal/application/services"
	"github.com/klenai/stonecare/internal/domain/providers"
	"github.com/klenai/stonecare/internal/infrastructure/clients/medgemma"
	"github.com/klenai/stonecare/internal/infrastructure/clients/postgres"
	"github.com/klenai/stonecare/internal/infrastructure/clients/redis"
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

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Env)
	logger := observability.GetLogger()

	// Set up context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(
			ctx,
			cfg.OTEL.ServiceName,
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
			logger.Info().Msg("OpenTelemetry initialized")
		}
	}

	// Initialize metrics
	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Initialize database client
	pgClient, err := postgres.NewClient(&cfg.Database)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	// Initialize Redis client (run locks are mandatory for the workflow)
	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()

	// Initialize inference client
	inference, err := medgemma.NewClient(&cfg.MedGemma)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize inference client")
	}

	// Initialize message sender
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

	// Initialize adapters
	analysisAdapter := database.NewAnalysisAdapter(pgClient)
	artifactAdapter := database.NewArtifactAdapter(pgClient)
	planAdapter := database.NewPlanAdapter(pgClient)
	nudgeAdapter := database.NewNudgeAdapter(pgClient)
	patientAdapter := database.NewPatientAdapter(pgClient)
	runLock := locks.NewRedisRunLock(redisClient.Client())

	// Initialize services
	workflowService := services.NewWorkflowService(
		analysisAdapter,
		artifactAdapter,
		planAdapter,
		nudgeAdapter,
		inference,
		runLock,
		medgemma.EncodeKeySlices,
		metrics,
		cfg.Pipeline,
	)
	approvalService := services.NewApprovalService(planAdapter, nudgeAdapter)
	dispatcher := services.NewNudgeDispatcher(
		nudgeAdapter,
		planAdapter,
		patientAdapter,
		sender,
		metrics,
		cfg.Dispatch,
	)

	// Initialize handlers
	analysisHandler := handlers.NewAnalysisHandler(workflowService, analysisAdapter, artifactAdapter)
	planHandler := handlers.NewPlanHandler(approvalService, planAdapter, nudgeAdapter)
	dispatchHandler := handlers.NewDispatchHandler(dispatcher)

	// Set up router
	router := routes.NewRouter(analysisHandler, planHandler, dispatchHandler)
	handler := router.SetupRoutes()

	// Create HTTP server
	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("addr", serverAddr).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shut down")
	}
}
