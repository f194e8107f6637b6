// Package config loads the service configuration from the environment.
// In development a local .env file is read first.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env      string
	Port     string
	LogLevel string

	StoreDriver string // "postgres" or "memory"
	DB          DBConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Polling     PollingConfig
}

type DBConfig struct {
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret string
	Issuer string
}

type PollingConfig struct {
	SessionInterval time.Duration
	MessageInterval time.Duration
}

// Load reads the configuration. A missing .env file is not an error.
func Load() (Config, error) {
	if getEnv("APP_ENV", "development") == "development" {
		_ = godotenv.Load()
	}

	cfg := Config{
		Env:         getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		StoreDriver: getEnv("STORE_DRIVER", "postgres"),
		DB: DBConfig{
			DSN:          getEnv("DATABASE_URL", "host=localhost user=user password=password dbname=jobchatdb port=5432 sslmode=disable"),
			MaxOpenConns: getEnvInt("DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns: getEnvInt("DB_MAX_IDLE_CONNS", 5),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6380"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", ""),
			Issuer: getEnv("JWT_ISSUER", "jobchat-identity"),
		},
		Polling: PollingConfig{
			SessionInterval: getEnvDuration("SESSION_POLL_INTERVAL", DefaultSessionPollInterval),
			MessageInterval: getEnvDuration("MESSAGE_POLL_INTERVAL", DefaultMessagePollInterval),
		},
	}

	if cfg.JWT.Secret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.StoreDriver != "postgres" && cfg.StoreDriver != "memory" {
		return Config{}, fmt.Errorf("STORE_DRIVER must be \"postgres\" or \"memory\", got %q", cfg.StoreDriver)
	}

	return cfg, nil
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// PresenceTTL is how long a poll keeps a viewer marked as online.
func (c PollingConfig) PresenceTTL() time.Duration {
	return c.SessionInterval * PresenceTTLFactor
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
