package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pagevoice/pagevoice/internal/api"
	"github.com/pagevoice/pagevoice/internal/config"
	"github.com/pagevoice/pagevoice/internal/database"
	"github.com/pagevoice/pagevoice/internal/queue"
	"github.com/pagevoice/pagevoice/internal/storage"
	"github.com/pagevoice/pagevoice/internal/tts"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	db, err := database.NewPool(ctx, cfg.Database)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db, cfg.Database.MigrationsPath); err != nil {
		slog.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unavailable at startup", "error", err)
	}
	defer rdb.Close()

	gateway, err := buildGateway(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up object storage", "error", err)
		os.Exit(1)
	}

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()

	router := api.NewRouter(db, rdb, cfg, gateway, buildProvider(cfg), queueClient)
	handler := router.Setup()

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("starting API server", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced shutdown", "error", err)
	}
	slog.Info("server stopped")
}

func buildGateway(ctx context.Context, cfg *config.Config) (storage.Gateway, error) {
	var cdn storage.URLSigner
	if cfg.CDN.Domain != "" {
		signer, err := storage.NewCDNSigner(cfg.CDN.Domain, cfg.CDN.KeyPairID, cfg.CDN.PrivateKeyPEM)
		if err != nil {
			slog.Warn("cdn signer disabled", "error", err)
		} else {
			cdn = signer
		}
	}
	return storage.NewMinioGateway(ctx, storage.MinioConfig{
		Endpoint:  cfg.Storage.Endpoint,
		AccessKey: cfg.Storage.AccessKey,
		SecretKey: cfg.Storage.SecretKey,
		Bucket:    cfg.Storage.Bucket,
		UseSSL:    cfg.Storage.UseSSL,
	}, cdn)
}

func buildProvider(cfg *config.Config) tts.Provider {
	if cfg.TTS.Backend == "local" {
		return tts.NewLocalProvider(tts.LocalConfig{
			PiperBinPath: cfg.TTS.LocalBinPath,
			VoiceModels:  cfg.TTS.LocalVoices,
		})
	}
	return tts.NewOpenAIProvider(tts.OpenAIConfig{
		APIKey:  cfg.TTS.OpenAIKey,
		BaseURL: cfg.TTS.OpenAIBaseURL,
		Model:   cfg.TTS.OpenAIModel,
	})
}
