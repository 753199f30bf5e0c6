package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"

	"github.com/pagevoice/pagevoice/internal/audio"
	"github.com/pagevoice/pagevoice/internal/audit"
	"github.com/pagevoice/pagevoice/internal/cache"
	"github.com/pagevoice/pagevoice/internal/config"
	"github.com/pagevoice/pagevoice/internal/database"
	"github.com/pagevoice/pagevoice/internal/document"
	"github.com/pagevoice/pagevoice/internal/expiry"
	"github.com/pagevoice/pagevoice/internal/notify"
	"github.com/pagevoice/pagevoice/internal/queue"
	"github.com/pagevoice/pagevoice/internal/queue/workers"
	"github.com/pagevoice/pagevoice/internal/settings"
	"github.com/pagevoice/pagevoice/internal/storage"
	"github.com/pagevoice/pagevoice/internal/tts"
	"github.com/pagevoice/pagevoice/pkg/segmenter"
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

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer rdb.Close()

	gateway, err := buildGateway(ctx, cfg)
	if err != nil {
		slog.Error("failed to set up object storage", "error", err)
		os.Exit(1)
	}
	provider := buildProvider(cfg)

	store := audio.NewPostgresStore(db)
	docSvc := document.NewService(db)
	settingsSvc := settings.NewService(db, cache.NewCache(rdb))
	auditSvc := audit.NewService(db, gateway)

	audioWorker := workers.NewAudioWorker(store, docSvc, provider, gateway, auditSvc,
		segmenter.New(cfg.Audio.SegmentMaxChars), cfg.Audio.ChunkTimeout)

	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency:    cfg.Worker.Concurrency,
			RetryDelayFunc: queue.RetryDelay,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	registry := queue.NewHandlersRegistry()
	registry.Register(queue.TypeAudioGenerate, asynq.HandlerFunc(audioWorker.ProcessTask))

	// Scheduled maintenance: daily expiry sweep, monthly audit export.
	var notifier notify.Notifier
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.Notify.WebhookURL, cfg.Notify.Secret)
	} else {
		notifier = notify.NopNotifier{}
	}
	sweeper := expiry.NewSweeper(store, docSvc, settingsSvc, gateway, notifier, auditSvc)

	sched := cron.New()
	if _, err := sched.AddFunc(cfg.Worker.SweepSchedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		if _, err := sweeper.Run(runCtx); err != nil {
			slog.Error("expiry sweep failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid sweep schedule", "schedule", cfg.Worker.SweepSchedule, "error", err)
		os.Exit(1)
	}
	if _, err := sched.AddFunc(cfg.Worker.ExportSchedule, func() {
		runCtx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		defer cancel()
		now := time.Now().UTC()
		first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		if _, _, err := auditSvc.Export(runCtx, first.AddDate(0, -1, 0), first, nil); err != nil {
			slog.Error("audit export failed", "error", err)
		}
	}); err != nil {
		slog.Error("invalid export schedule", "schedule", cfg.Worker.ExportSchedule, "error", err)
		os.Exit(1)
	}
	sched.Start()

	go func() {
		slog.Info("starting worker", "concurrency", cfg.Worker.Concurrency,
			"sweep_schedule", cfg.Worker.SweepSchedule, "export_schedule", cfg.Worker.ExportSchedule)
		if err := srv.Run(registry.Mux()); err != nil {
			slog.Error("worker error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down worker...")
	srv.Shutdown()
	<-sched.Stop().Done()
	slog.Info("worker stopped")
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
