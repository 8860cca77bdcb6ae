package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docvault/internal/server/api"
	"docvault/internal/server/config"
	"docvault/internal/server/database"
	"docvault/internal/server/identity"
	"docvault/internal/server/service"
	"docvault/internal/server/storage"
	"docvault/internal/server/token"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load config. Secrets are required and never logged.
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_upload_bytes", cfg.MaxUploadBytes,
		"session_ttl", cfg.SessionTTL,
		"download_token_ttl", cfg.DownloadTokenTTL,
	)

	// Connect to database
	ctx := context.Background()
	db, err := database.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Run migrations
	if err := db.RunMigrations(ctx); err != nil {
		slog.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	slog.Info("database migrations complete")

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath)
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Repositories and core components
	identRepo := database.NewIdentityRepository(db)
	docRepo := database.NewDocumentRepository(db)

	idStore, err := identity.NewStore(identRepo, cfg.SelectorSecret, identity.DefaultArgon2Params())
	if err != nil {
		slog.Error("failed to initialize identity store", "error", err)
		os.Exit(1)
	}
	sessions, err := token.NewSessionIssuer(cfg.SessionSecret, cfg.SessionTTL)
	if err != nil {
		slog.Error("failed to initialize session issuer", "error", err)
		os.Exit(1)
	}
	downloads, err := token.NewDownloadMinter(cfg.DownloadSecret, cfg.DownloadTokenTTL)
	if err != nil {
		slog.Error("failed to initialize download minter", "error", err)
		os.Exit(1)
	}

	svc, err := service.NewVaultService(
		idStore, sessions, downloads, docRepo, store,
		cfg.MaxUploadBytes, cfg.AllowedContentType,
	)
	if err != nil {
		slog.Error("failed to initialize vault service", "error", err)
		os.Exit(1)
	}

	// Start orphan sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := storage.NewSweepService(docRepo, store, cfg.SweepInterval)
	sweeper.Start(sweepCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, db)
	e := api.SetupRouter(handler, svc)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop sweeper
	sweepCancel()
	sweeper.Wait()

	slog.Info("server exited cleanly")
}
