package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/eta"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/matcher"
	"github.com/example/ride-dispatch/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchworker_messages_consumed_total",
		Help: "Total fallback ride requests consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchworker_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	matchesFound = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchworker_matches_total",
		Help: "Total ride requests matched to a driver",
	})
	matchesNone = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchworker_no_candidates_total",
		Help: "Total ride requests with no driver in range",
	})
	dispatchErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "matchworker_dispatch_errors_total",
		Help: "Total failed dispatch posts back to the API",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, matchesFound, matchesNone, dispatchErrors)
}

func main() {
	cfg, cfgErr := config.LoadWorkerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if cfgErr != nil {
		logger.Error("invalid configuration", "error", cfgErr)
		os.Exit(1)
	}

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})

	svc := &matcher.Service{
		Geo:    geo.NewRedisIndex(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisGeoKey),
		Logger: logger,
	}
	if cfg.OSRMEndpoint != "" {
		svc.ETAClient = eta.NewOSRMClient(cfg.OSRMEndpoint)
		svc.ETACache = eta.NewCache(cfg.ETACacheTTL)
	}

	poster := &httpPoster{serverURL: cfg.ServerURL, client: &http.Client{Timeout: 5 * time.Second}}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Error("metrics server error", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.KafkaBrokers, Topic: cfg.Topic, GroupID: cfg.GroupID,
		MinBytes: 10e3, MaxBytes: 10e6,
	})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("matchworker listening", "topic", cfg.Topic, "brokers", cfg.KafkaBrokers, "group", cfg.GroupID)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down matchworker")
				return
			}
			logger.Warn("kafka read error", "error", err, "backoff", backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second

		msgsConsumed.Inc()

		var req models.RideRequest
		if err := json.Unmarshal(m.Value, &req); err != nil || req.BookingID == "" {
			msgsInvalid.Inc()
			logger.Warn("invalid fallback message", "error", err)
			continue
		}
		handleRequest(ctx, svc, poster, req, logger)
	}
}
