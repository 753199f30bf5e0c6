package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Auth     AuthConfig
	TTS      TTSConfig
	Storage  StorageConfig
	CDN      CDNConfig
	Notify   NotifyConfig
	Audio    AudioConfig
	Worker   WorkerConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConns       int
	MinConns       int
	MigrationsPath string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type AuthConfig struct {
	JWTSecret string
}

type TTSConfig struct {
	Backend       string // "openai" or "local"
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
	LocalBinPath  string            // default: "piper"
	LocalVoices   map[string]string // voice name -> .onnx model path
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// CDNConfig enables signed CDN URLs. All three fields must be set; otherwise
// the gateway issues presigned object-store URLs only.
type CDNConfig struct {
	Domain        string
	KeyPairID     string
	PrivateKeyPEM string
}

type NotifyConfig struct {
	WebhookURL string
	Secret     string
}

type AudioConfig struct {
	SegmentMaxChars int
	ChunkTimeout    time.Duration
}

type WorkerConfig struct {
	Concurrency    int
	SweepSchedule  string // cron expression, default daily at 03:00
	ExportSchedule string // cron expression, default monthly
}

func Load() (*Config, error) {
	port, err := getEnvInt("SERVER_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("invalid SERVER_PORT: %w", err)
	}

	maxConns, err := getEnvInt("DB_MAX_CONNS", 20)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MAX_CONNS: %w", err)
	}

	minConns, err := getEnvInt("DB_MIN_CONNS", 5)
	if err != nil {
		return nil, fmt.Errorf("invalid DB_MIN_CONNS: %w", err)
	}

	redisDB, err := getEnvInt("REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	segmentMaxChars, err := getEnvInt("AUDIO_SEGMENT_MAX_CHARS", 3000)
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIO_SEGMENT_MAX_CHARS: %w", err)
	}

	chunkTimeoutSecs, err := getEnvInt("AUDIO_CHUNK_TIMEOUT_SECONDS", 120)
	if err != nil {
		return nil, fmt.Errorf("invalid AUDIO_CHUNK_TIMEOUT_SECONDS: %w", err)
	}

	workers, err := getEnvInt("WORKER_CONCURRENCY", 10)
	if err != nil {
		return nil, fmt.Errorf("invalid WORKER_CONCURRENCY: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: port,
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConns:       maxConns,
			MinConns:       minConns,
			MigrationsPath: getEnv("MIGRATIONS_PATH", "migrations"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Auth: AuthConfig{
			JWTSecret: getEnv("JWT_SECRET", ""),
		},
		TTS: TTSConfig{
			Backend:       getEnv("TTS_BACKEND", "openai"),
			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("TTS_OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("TTS_OPENAI_MODEL", ""),
			LocalBinPath:  getEnv("TTS_LOCAL_PIPER_BIN", "piper"),
			LocalVoices:   parseVoiceModels(getEnv("TTS_LOCAL_VOICE_MODELS", "")),
		},
		Storage: StorageConfig{
			Endpoint:  getEnv("STORAGE_ENDPOINT", "localhost:9000"),
			AccessKey: getEnv("STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("STORAGE_SECRET_KEY", ""),
			Bucket:    getEnv("STORAGE_BUCKET", "page-audio"),
			UseSSL:    getEnv("STORAGE_USE_SSL", "false") == "true",
		},
		CDN: CDNConfig{
			Domain:        getEnv("CDN_DOMAIN", ""),
			KeyPairID:     getEnv("CDN_KEY_PAIR_ID", ""),
			PrivateKeyPEM: getEnv("CDN_PRIVATE_KEY", ""),
		},
		Notify: NotifyConfig{
			WebhookURL: getEnv("NOTIFY_WEBHOOK_URL", ""),
			Secret:     getEnv("NOTIFY_WEBHOOK_SECRET", ""),
		},
		Audio: AudioConfig{
			SegmentMaxChars: segmentMaxChars,
			ChunkTimeout:    time.Duration(chunkTimeoutSecs) * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:    workers,
			SweepSchedule:  getEnv("EXPIRY_SWEEP_SCHEDULE", "0 3 * * *"),
			ExportSchedule: getEnv("AUDIT_EXPORT_SCHEDULE", "30 0 1 * *"),
		},
	}

	return cfg, nil
}

func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func (c *Config) Validate() error {
	var missing []string
	if c.Database.URL == "" {
		missing = append(missing, "DATABASE_URL")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.Storage.AccessKey == "" {
		missing = append(missing, "STORAGE_ACCESS_KEY")
	}
	if c.Storage.SecretKey == "" {
		missing = append(missing, "STORAGE_SECRET_KEY")
	}
	if c.TTS.Backend == "openai" && c.TTS.OpenAIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env vars: %s", strings.Join(missing, ", "))
	}
	if c.TTS.Backend == "local" && len(c.TTS.LocalVoices) == 0 {
		return fmt.Errorf("TTS_LOCAL_VOICE_MODELS is required when TTS_BACKEND=local")
	}
	return nil
}

// parseVoiceModels parses "voice=path,voice=path" pairs.
func parseVoiceModels(s string) map[string]string {
	if s == "" {
		return nil
	}
	models := make(map[string]string)
	for _, pair := range strings.Split(s, ",") {
		name, path, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || name == "" || path == "" {
			continue
		}
		models[name] = path
	}
	return models
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
