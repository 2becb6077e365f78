package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Storage backends
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Config holds application configuration
type Config struct {
	Port          string
	Storage       string
	DBConn        string
	RunMigrations bool
	LogLevel      string
	JWTSecret     string
	HMACSecret    string
	EncryptionKey []byte

	AMQPURL   string
	RedisAddr string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string
	SenderEmail  string

	ReminderSchedule     string
	DefaultSweepSchedule string
	DefaultGraceDays     int
	ReminderDaysAhead    int
}

// NewConfig loads configuration from environment variables, preloading a .env file when present
func NewConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", "8080"),
		Storage:              getEnv("STORAGE", StoragePostgres),
		DBConn:               getEnv("DB_CONN", "host=localhost port=5436 user=test password=test dbname=credit sslmode=disable"),
		LogLevel:             getEnv("LOG_LEVEL", "INFO"),
		JWTSecret:            getEnv("JWT_SECRET", "secret"),
		HMACSecret:           getEnv("HMAC_SECRET", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6"),
		AMQPURL:              getEnv("AMQP_URL", ""),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		SMTPHost:             getEnv("SMTP_HOST", ""),
		SMTPPort:             getEnv("SMTP_PORT", "587"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SenderEmail:          getEnv("SENDER_EMAIL", "no-reply@microcredit.local"),
		ReminderSchedule:     getEnv("REMINDER_SCHEDULE", "0 8 * * *"),
		DefaultSweepSchedule: getEnv("DEFAULT_SWEEP_SCHEDULE", "30 0 * * *"),
	}

	var err error
	if cfg.RunMigrations, err = strconv.ParseBool(getEnv("RUN_MIGRATIONS", "true")); err != nil {
		return nil, fmt.Errorf("invalid RUN_MIGRATIONS: %w", err)
	}
	if cfg.DefaultGraceDays, err = strconv.Atoi(getEnv("DEFAULT_GRACE_DAYS", "0")); err != nil {
		return nil, fmt.Errorf("invalid DEFAULT_GRACE_DAYS: %w", err)
	}
	if cfg.ReminderDaysAhead, err = strconv.Atoi(getEnv("REMINDER_DAYS_AHEAD", "3")); err != nil {
		return nil, fmt.Errorf("invalid REMINDER_DAYS_AHEAD: %w", err)
	}

	key := getEnv("ENCRYPTION_KEY", "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6")
	if key == "" {
		return nil, fmt.Errorf("ENCRYPTION_KEY is required")
	}
	if cfg.EncryptionKey, err = hex.DecodeString(key); err != nil {
		return nil, fmt.Errorf("ENCRYPTION_KEY must be hex: %w", err)
	}
	if n := len(cfg.EncryptionKey); n != 16 && n != 24 && n != 32 {
		return nil, fmt.Errorf("ENCRYPTION_KEY must decode to 16, 24, or 32 bytes, got %d", n)
	}

	switch cfg.Storage {
	case StoragePostgres:
		if cfg.DBConn == "" {
			return nil, fmt.Errorf("DB_CONN is required")
		}
	case StorageMemory:
	default:
		return nil, fmt.Errorf("unknown STORAGE %q", cfg.Storage)
	}
	if cfg.JWTSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.HMACSecret == "" {
		return nil, fmt.Errorf("HMAC_SECRET is required")
	}
	if cfg.ReminderDaysAhead < 0 {
		return nil, fmt.Errorf("REMINDER_DAYS_AHEAD must not be negative")
	}

	return cfg, nil
}

// EmailEnabled reports whether an SMTP relay is configured
func (c *Config) EmailEnabled() bool {
	return c.SMTPHost != ""
}

func getEnv(key, defaultVal string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultVal
}
