package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	DBUser           string
	DBPass           string
	DBHost           string
	DBPort           string
	DBName           string
	SSLMode          string
	DBMaxConns       int
	RedisHost        string
	RedisPort        string
	RedisPassword    string
	NatsHost         string
	NatsPort         string
	ApiPort          string
	GRPCPort         string
	WebhookSecret    string
	AcceptedCurrency string
	PollInterval     time.Duration
	DedupTTL         time.Duration
	LedgerMaxRetries int
	LogLevel         string
	LogFormat        string
}

// New loads and validates configuration from environment variables.
// NATS and gRPC are optional: NatsAddr()/GRPCAddr() return an error when they are not configured.
// The webhook secret is deliberately not required here; the signature gate fails closed per request.
func New() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DBUser:           os.Getenv("LOYALTY_POSTGRES_USER"),
		DBPass:           os.Getenv("LOYALTY_POSTGRES_PASSWORD"),
		DBHost:           os.Getenv("LOYALTY_POSTGRES_HOST"),
		DBPort:           getEnv("LOYALTY_POSTGRES_PORT", "5432"),
		DBName:           os.Getenv("LOYALTY_POSTGRES_DB"),
		SSLMode:          getEnv("LOYALTY_POSTGRES_SSLMODE", "disable"),
		DBMaxConns:       getEnvInt("LOYALTY_POSTGRES_MAX_CONNS", 10),
		RedisHost:        os.Getenv("LOYALTY_REDIS_HOST"),
		RedisPort:        getEnv("LOYALTY_REDIS_PORT", "6379"),
		RedisPassword:    os.Getenv("LOYALTY_REDIS_PASSWORD"),
		NatsHost:         os.Getenv("LOYALTY_NATS_HOST"),
		NatsPort:         os.Getenv("LOYALTY_NATS_PORT"),
		ApiPort:          getEnv("LOYALTY_API_PORT", "3000"),
		GRPCPort:         os.Getenv("LOYALTY_GRPC_PORT"),
		WebhookSecret:    os.Getenv("LOYALTY_SHOPIFY_WEBHOOK_SECRET"),
		AcceptedCurrency: strings.ToUpper(getEnv("LOYALTY_ACCEPTED_CURRENCY", "EUR")),
		PollInterval:     getEnvDuration("LOYALTY_WORKER_POLL_INTERVAL", time.Second),
		DedupTTL:         getEnvDuration("LOYALTY_DEDUP_TTL", 24*time.Hour),
		LedgerMaxRetries: getEnvInt("LOYALTY_LEDGER_MAX_RETRIES", 5),
		LogLevel:         getEnv("LOYALTY_LOG_LEVEL", "info"),
		LogFormat:        getEnv("LOYALTY_LOG_FORMAT", "json"),
	}

	// Required: database
	if cfg.DBUser == "" || cfg.DBHost == "" || cfg.DBName == "" {
		return nil, fmt.Errorf("missing required env for database: LOYALTY_POSTGRES_USER/HOST/DB")
	}

	// Required: redis
	if cfg.RedisHost == "" {
		return nil, fmt.Errorf("missing required env for redis: LOYALTY_REDIS_HOST")
	}

	if cfg.AcceptedCurrency == "" {
		return nil, fmt.Errorf("LOYALTY_ACCEPTED_CURRENCY must not be empty")
	}
	if cfg.PollInterval <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_WORKER_POLL_INTERVAL %s, must be positive", cfg.PollInterval)
	}
	if cfg.DedupTTL <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_DEDUP_TTL %s, must be positive", cfg.DedupTTL)
	}
	if cfg.DBMaxConns <= 0 {
		return nil, fmt.Errorf("invalid LOYALTY_POSTGRES_MAX_CONNS %d, must be positive", cfg.DBMaxConns)
	}
	if cfg.LedgerMaxRetries < 0 {
		return nil, fmt.Errorf("invalid LOYALTY_LEDGER_MAX_RETRIES %d, must not be negative", cfg.LedgerMaxRetries)
	}

	return cfg, nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.DBUser, c.DBPass, c.DBHost, c.DBPort, c.DBName, c.SSLMode)
}

func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

func (c *Config) ApiAddr() string {
	return ":" + c.ApiPort
}

// NatsAddr returns the NATS URL, or an error when LOYALTY_NATS_HOST/PORT are unset.
// Callers should run without the event bus in that case.
func (c *Config) NatsAddr() (string, error) {
	if c.NatsHost == "" || c.NatsPort == "" {
		return "", fmt.Errorf("NATS is disabled (LOYALTY_NATS_HOST/PORT not set)")
	}
	return fmt.Sprintf("nats://%s:%s", c.NatsHost, c.NatsPort), nil
}

// GRPCAddr returns the gRPC health listen address, or an error when LOYALTY_GRPC_PORT is unset.
func (c *Config) GRPCAddr() (string, error) {
	if c.GRPCPort == "" {
		return "", fmt.Errorf("gRPC health server is disabled (LOYALTY_GRPC_PORT not set)")
	}
	return ":" + c.GRPCPort, nil
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var intVal int
	if _, err := fmt.Sscanf(val, "%d", &intVal); err != nil {
		return defaultVal
	}
	return intVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}
