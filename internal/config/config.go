package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yungbote/docstream-backend/internal/logger"
	"github.com/yungbote/docstream-backend/internal/utils"
)

// Config carries the tunables for the processing pipeline and the
// streaming layer. Values come from an optional YAML file (DOCSTREAM_CONFIG)
// with environment variables taking precedence.
type Config struct {
	Port    string `yaml:"port"`
	LogMode string `yaml:"log_mode"`

	JWTSecret string `yaml:"jwt_secret"`

	MaxUploadBytes    int64 `yaml:"max_upload_bytes"`
	MaxConcurrentRuns int   `yaml:"max_concurrent_runs"`
	EmbeddingDim      int   `yaml:"embedding_dim"`

	LivenessSeconds int `yaml:"liveness_seconds"`

	WriteRetryMax    int `yaml:"write_retry_max"`
	WriteRetryBaseMS int `yaml:"write_retry_base_ms"`
}

func (c Config) LivenessInterval() time.Duration {
	return time.Duration(c.LivenessSeconds) * time.Second
}

func (c Config) WriteRetryBase() time.Duration {
	return time.Duration(c.WriteRetryBaseMS) * time.Millisecond
}

func Load(log *logger.Logger) (Config, error) {
	cfg := Config{
		Port:              "8080",
		LogMode:           "development",
		MaxUploadBytes:    50 * 1024 * 1024,
		MaxConcurrentRuns: 8,
		EmbeddingDim:      1536,
		LivenessSeconds:   30,
		WriteRetryMax:     4,
		WriteRetryBaseMS:  500,
	}

	if path := os.Getenv("DOCSTREAM_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.Port = utils.GetEnv("PORT", cfg.Port, log)
	cfg.LogMode = utils.GetEnv("LOG_MODE", cfg.LogMode, log)
	cfg.JWTSecret = utils.GetEnv("JWT_SECRET_KEY", cfg.JWTSecret, log)
	cfg.MaxUploadBytes = int64(utils.GetEnvAsInt("MAX_UPLOAD_BYTES", int(cfg.MaxUploadBytes), log))
	cfg.MaxConcurrentRuns = utils.GetEnvAsInt("MAX_CONCURRENT_RUNS", cfg.MaxConcurrentRuns, log)
	cfg.EmbeddingDim = utils.GetEnvAsInt("EMBEDDING_DIM", cfg.EmbeddingDim, log)
	cfg.LivenessSeconds = utils.GetEnvAsInt("SSE_LIVENESS_SECONDS", cfg.LivenessSeconds, log)
	cfg.WriteRetryMax = utils.GetEnvAsInt("WRITE_RETRY_MAX", cfg.WriteRetryMax, log)
	cfg.WriteRetryBaseMS = utils.GetEnvAsInt("WRITE_RETRY_BASE_MS", cfg.WriteRetryBaseMS, log)

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing JWT_SECRET_KEY")
	}
	if cfg.MaxUploadBytes <= 0 {
		return Config{}, fmt.Errorf("max upload bytes must be positive")
	}
	if cfg.MaxConcurrentRuns <= 0 {
		return Config{}, fmt.Errorf("max concurrent runs must be positive")
	}

	return cfg, nil
}
