// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Store
	StoreDriver string
	DatabaseURL string

	// Session
	SessionHashKey  []byte
	SessionBlockKey []byte
	SessionMaxAge   int

	// Grouping
	Timezone              *time.Location
	CommitTimeout         time.Duration
	AssemblyMaxRounds     int
	AssemblySweepInterval time.Duration

	// Cleanup
	TrioRetentionDays int
	CleanupInterval   time.Duration

	// Rate Limit
	RateLimitGeneral int
	RateLimitJoin    int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// ENV_FILE（デフォルト: .env）が存在すれば先に読み込むが、既に設定済みの環境変数は上書きしない。
// 必須環境変数が未設定、または値が不正な場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadEnvFile(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	hashKey := os.Getenv("SESSION_HASH_KEY")
	if hashKey == "" {
		missing = append(missing, "SESSION_HASH_KEY")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	if len(hashKey) < 32 {
		return nil, fmt.Errorf("SESSION_HASH_KEY must be at least 32 bytes, got %d", len(hashKey))
	}
	cfg.SessionHashKey = []byte(hashKey)

	if blockKey := os.Getenv("SESSION_BLOCK_KEY"); blockKey != "" {
		switch len(blockKey) {
		case 16, 24, 32:
			cfg.SessionBlockKey = []byte(blockKey)
		default:
			return nil, fmt.Errorf("SESSION_BLOCK_KEY must be 16, 24 or 32 bytes, got %d", len(blockKey))
		}
	}

	cfg.StoreDriver = getEnvString("STORE_DRIVER", "postgres")
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "sqlite" {
		return nil, fmt.Errorf("unsupported STORE_DRIVER: %q", cfg.StoreDriver)
	}

	tz := getEnvString("TRIO_TIMEZONE", "UTC")
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("invalid TRIO_TIMEZONE %q: %w", tz, err)
	}
	cfg.Timezone = loc

	// Optional fields with defaults
	cfg.SessionMaxAge = getEnvInt("SESSION_MAX_AGE", 86400*7)
	cfg.CommitTimeout = getEnvDuration("COMMIT_TIMEOUT", 5*time.Second)
	cfg.AssemblyMaxRounds = getEnvInt("ASSEMBLY_MAX_ROUNDS", 5)
	cfg.AssemblySweepInterval = getEnvDuration("ASSEMBLY_SWEEP_INTERVAL", time.Minute)
	cfg.TrioRetentionDays = getEnvInt("TRIO_RETENTION_DAYS", 30)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitJoin = getEnvInt("RATE_LIMIT_JOIN", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	return cfg, nil
}

// loadEnvFile は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
