package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mvpay/bml-connect/internal/gateway"
	"github.com/mvpay/bml-connect/internal/reconcile"
	"github.com/mvpay/bml-connect/internal/storage/postgres"
)

// Config aggregates runtime configuration grouped by concern.
type Config struct {
	ServiceName string
	HTTP        HTTPConfig
	Database    postgres.DatabaseConfig
	Kafka       KafkaConfig
	Gateway     gateway.Config
	Admin       AdminConfig
	Sweep       SweepConfig
}

type HTTPConfig struct {
	Addr string
}

type KafkaConfig struct {
	Brokers       []string
	PaymentsTopic string
}

type AdminConfig struct {
	Token    string
	NonceTTL time.Duration
}

type SweepConfig struct {
	Interval  time.Duration
	Staleness time.Duration
}

// Load reads configuration from environment variables, applying sensible
// defaults.
func Load() (Config, error) {
	cfg := Config{
		ServiceName: getEnv("SERVICE_NAME", "bml-connect-gateway"),
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_LISTEN_ADDR", ":8080"),
		},
		Kafka: KafkaConfig{
			Brokers:       splitAndTrim(getEnv("KAFKA_BROKERS", "localhost:9092")),
			PaymentsTopic: getEnv("KAFKA_PAYMENTS_TOPIC", "payments.v1"),
		},
		Gateway: gateway.Config{
			Enabled:         getBool("BML_ENABLED", false),
			TestMode:        getBool("BML_TESTMODE", true),
			Title:           getEnv("BML_TITLE", "Bank of Maldives"),
			Description:     getEnv("BML_DESCRIPTION", "Pay securely using your Bank of Maldives card."),
			MerchantID:      getEnv("BML_MERCHANT_ID", ""),
			APIKey:          getEnv("BML_API_KEY", ""),
			ReturnURL:       getEnv("BML_RETURN_URL", ""),
			CancelURL:       getEnv("BML_CANCEL_URL", ""),
			NotificationURL: getEnv("BML_NOTIFICATION_URL", ""),
		},
		Admin: AdminConfig{
			Token:    getEnv("ADMIN_API_TOKEN", ""),
			NonceTTL: 10 * time.Minute,
		},
	}

	portStr := getEnv("BML_DB_PORT", "5432")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Config{}, fmt.Errorf("parse BML_DB_PORT: %w", err)
	}
	cfg.Database = postgres.DatabaseConfig{
		Host:     getEnv("BML_DB_HOST", "localhost"),
		Port:     port,
		Database: getEnv("BML_DB_NAME", "bmlconnect"),
		User:     getEnv("BML_DB_USER", "bmlconnect"),
		Password: getEnv("BML_DB_PASSWORD", ""),
		SSLMode:  getEnv("BML_DB_SSLMODE", "disable"),
	}

	interval, err := getDuration("SWEEP_INTERVAL", reconcile.DefaultInterval)
	if err != nil {
		return Config{}, err
	}
	staleness, err := getDuration("SWEEP_STALENESS", reconcile.DefaultStaleness)
	if err != nil {
		return Config{}, err
	}
	cfg.Sweep = SweepConfig{Interval: interval, Staleness: staleness}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
