// @title           FoodGlow Backend API
// @version         1.0.0
// @description     Backend API for AI food photo enhancement. Anonymous visitors claim one free trial by email; signed-in accounts spend prepaid credits. Every job holds a lease on its trial or account so a unit of credit is spent at most once.

// @contact.name   API Support
// @contact.email  support@example.com

// @license.name  MIT
// @license.url   https://opensource.org/licenses/MIT

// @host      localhost:8080
// @BasePath  /api/v1

// @securityDefinitions.apikey Bearer
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"foodglow-backend/internal/config"
	"foodglow-backend/internal/handlers"
	"foodglow-backend/internal/ledger"
	"foodglow-backend/internal/logging"
	"foodglow-backend/internal/openai"
	"foodglow-backend/internal/services"
	"foodglow-backend/internal/storage"
	"foodglow-backend/internal/supabase"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Environment, cfg.LogLevel)
	slog.SetDefault(logger)

	// Set Gin mode
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	store, err := ledger.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	locks := services.NewLockManager(store, cfg.LockTTL, logger)
	if cfg.ReclaimInterval > 0 {
		go locks.RunReclaimer(ctx, cfg.ReclaimInterval)
	}

	editor := openai.NewClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIImageSize)
	gateway := services.NewEnhancementGateway(editor, cfg.EnhancePrompt, cfg.EnhanceTimeout, logger)

	opts := services.JobOrchestratorOptions{BillDegradedResults: cfg.BillDegradedResults}

	objects, err := objectStore(ctx, cfg)
	if err != nil {
		return err
	}
	if objects != nil {
		opts.Archiver = services.NewStorageService(objects, logger)
	} else {
		logger.Warn("object storage disabled, job images will not be archived")
	}

	if cfg.SupabaseURL != "" {
		sb, err := supabase.NewClient(cfg)
		if err != nil {
			return err
		}
		opts.Recorder = sb.JobLog()
	}

	orchestrator := services.NewJobOrchestrator(store, locks, gateway, opts, logger)

	router := handlers.NewRouter(cfg, logger, handlers.Handlers{
		Health:  handlers.NewHealthHandler(store),
		Trials:  handlers.NewTrialsHandler(services.NewTrialService(store, logger)),
		Jobs:    handlers.NewJobsHandler(orchestrator, cfg.MaxUploadBytes, logger),
		Account: handlers.NewAccountHandler(services.NewAccountService(store, logger)),
	})

	port := cfg.Port
	if port == "" {
		port = "8080"
	}

	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", port, "environment", cfg.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	// In-flight jobs settle their leases before the ledger closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.EnhanceTimeout+15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func objectStore(ctx context.Context, cfg *config.Config) (services.ObjectStore, error) {
	switch cfg.StorageBackend {
	case "supabase":
		return supabase.NewStorageClient(cfg.SupabaseURL, cfg.SupabasePublishableKey, cfg.SupabaseStorageBucket)
	case "s3":
		return storage.NewS3Archive(ctx, cfg.S3Endpoint, cfg.S3Region, cfg.S3Bucket, cfg.S3AccessKeyID, cfg.S3SecretAccessKey)
	}
	return nil, nil
}
