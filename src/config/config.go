package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const ServiceName = "stock-ledger"

type Config struct {
	DBHost         string
	DBPort         string
	DBUser         string
	DBPassword     string
	DBName         string
	DBSSLMode      string
	DBLogLevel     string
	DBMaxOpenConns int
	DBMaxIdleConns int

	HTTPPort string
	LogLevel string

	RedisAddress string
	KafkaBroker  string
	KafkaTopic   string

	IdempotencyTTL         time.Duration
	TransferReceiveTimeout time.Duration

	// LegacyTransferDeduction keeps the receive-side deduction for transfers
	// that were sent before send-side deduction existed.
	LegacyTransferDeduction bool
	AllowNegativeStock      bool

	SeedSampleData bool
}

// Load - Read configuration from .env and the process environment
func Load() *Config {
	// .env is optional; real deployments inject env vars
	_ = godotenv.Load()

	return &Config{
		DBHost:         getEnv("DB_HOST", "localhost"),
		DBPort:         getEnv("DB_PORT", "5432"),
		DBUser:         getEnv("DB_USER", "postgres"),
		DBPassword:     getEnv("DB_PASSWORD", ""),
		DBName:         getEnv("DB_NAME", "stock_ledger"),
		DBSSLMode:      getEnv("DB_SSLMODE", "disable"),
		DBLogLevel:     getEnv("DB_LOG_LEVEL", "error"),
		DBMaxOpenConns: intFromEnv("DB_MAX_OPEN_CONNS", 50),
		DBMaxIdleConns: intFromEnv("DB_MAX_IDLE_CONNS", 25),

		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		RedisAddress: strings.TrimSpace(os.Getenv("REDIS_ADDRESS")),
		KafkaBroker:  strings.TrimSpace(os.Getenv("KAFKA_BROKER")),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "stock-ledger.audit"),

		IdempotencyTTL:         durationFromEnv("IDEMPOTENCY_TTL", 24*time.Hour),
		TransferReceiveTimeout: durationFromEnv("TRANSFER_RECEIVE_TIMEOUT", 60*time.Second),

		LegacyTransferDeduction: boolFromEnv("LEGACY_TRANSFER_DEDUCTION", true),
		AllowNegativeStock:      boolFromEnv("ALLOW_NEGATIVE_STOCK", false),

		SeedSampleData: boolFromEnv("SEED_SAMPLE_DATA", false),
	}
}

// DSN - postgres connection string for gorm
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func intFromEnv(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func durationFromEnv(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func boolFromEnv(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "":
		return def
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	default:
		return def
	}
}
