package gateway

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

type Config struct {
	Port                  string
	AccountServiceURL     string
	TransactionServiceURL string
	UpstreamTimeout       time.Duration
	JWTSecret             string
	LogLevel              string
	OTLPEndpoint          string
	ShutdownTimeout       time.Duration
}

func LoadConfig() (*Config, error) {
	cfg := &Config{
		Port:                  getEnv("PORT", "8080"),
		AccountServiceURL:     getEnv("ACCOUNT_SERVICE_URL", "http://localhost:8081"),
		TransactionServiceURL: getEnv("TRANSACTION_SERVICE_URL", "http://localhost:8082"),
		JWTSecret:             os.Getenv("JWT_SECRET"),
		LogLevel:              getEnv("LOG_LEVEL", "info"),
		OTLPEndpoint:          os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	var err error
	if cfg.UpstreamTimeout, err = getEnvDuration("UPSTREAM_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET environment variable is not set")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		// Remove trailing slash if present
		return strings.TrimSuffix(value, "/")
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return d, nil
}
