package config

import (
	"errors"
	"os"
	"strings"
	"time"
)

// WorkerConfig drives the fallback match worker process.
type WorkerConfig struct {
	MetricsAddr string

	KafkaBrokers []string
	Topic        string
	GroupID      string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	ServerURL string

	OSRMEndpoint string
	ETACacheTTL  time.Duration

	LogLevel string
}

func defaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		MetricsAddr: ":2112",
		Topic:       "booking-events",
		GroupID:     "ride-dispatch-matchworker",
		RedisAddr:   "localhost:6379",
		RedisGeoKey: "drivers_geo",
		ServerURL:   "http://localhost:8080",
		ETACacheTTL: 30 * time.Second,
		LogLevel:    "info",
	}
}

func LoadWorkerConfig() (WorkerConfig, error) {
	cfg := defaultWorkerConfig()
	var errs []error

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	} else {
		cfg.KafkaBrokers = []string{"localhost:9092"}
	}
	setStringFromEnv(&cfg.Topic, "KAFKA_FALLBACK_TOPIC")
	setStringFromEnv(&cfg.GroupID, "KAFKA_GROUP")

	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	setStringFromEnv(&cfg.ServerURL, "DISPATCH_SERVER_URL")

	cfg.OSRMEndpoint = strings.TrimSpace(os.Getenv("OSRM_ENDPOINT"))
	setDurationFromEnv(&cfg.ETACacheTTL, "ETA_CACHE_TTL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	return cfg, errors.Join(errs...)
}
