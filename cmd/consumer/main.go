package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/models"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_messages_consumed_total",
		Help: "Total ride created events consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_messages_invalid_total",
		Help: "Total invalid messages received",
	})
	redisUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_redis_updates_total",
		Help: "Total successful redis updates",
	})
	redisErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "projector_redis_errors_total",
		Help: "Total redis errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, redisUpdates, redisErrors)
}

var errMissingRideID = errors.New("event has no ride_id")

// driverRidesLimit bounds the per-driver recent rides list.
const driverRidesLimit = 100

func main() {
	cfg, err := config.LoadConsumerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.NewLogger("ride-booking-projector", cfg.LogLevel)

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	writer := &redisAdapter{c: rc}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			if err := rc.Ping(r.Context()).Err(); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		logger.Info("metrics/health listening", "addr", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			logger.Warn("metrics server stopped", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic, GroupID: cfg.KafkaGroup, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rc.Close()
	}()

	logger.Info("projector listening", "topic", cfg.KafkaTopic, "brokers", cfg.KafkaBrokers, "group", cfg.KafkaGroup)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("shutting down projector")
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

		ev, err := decodeEvent(m.Value)
		if err != nil {
			msgsInvalid.Inc()
			logger.Warn("invalid message", "error", err, "offset", m.Offset)
			_ = r.CommitMessages(ctx, m)
			continue
		}

		if err := projectWithRetry(ctx, writer, ev.Ride, 3, 200*time.Millisecond); err != nil {
			redisErrors.Inc()
			logger.Error("redis projection failed", "ride_id", ev.Ride.RideID, "error", err)
			continue
		}
		redisUpdates.Inc()
		if err := r.CommitMessages(ctx, m); err != nil {
			logger.Warn("commit failed", "offset", m.Offset, "error", err)
		}
	}
}

func decodeEvent(b []byte) (models.RideCreatedEvent, error) {
	var ev models.RideCreatedEvent
	if err := json.Unmarshal(b, &ev); err != nil {
		return ev, err
	}
	if ev.Ride.RideID == "" {
		return ev, errMissingRideID
	}
	return ev, nil
}

// RideWriter is the subset of redis operations the projector needs.
type RideWriter interface {
	Set(ctx context.Context, key string, value []byte) error
	PushRecent(ctx context.Context, key, member string, limit int64) error
}

type redisAdapter struct{ c *redis.Client }

func (r *redisAdapter) Set(ctx context.Context, key string, value []byte) error {
	return r.c.Set(ctx, key, value, 0).Err()
}

func (r *redisAdapter) PushRecent(ctx context.Context, key, member string, limit int64) error {
	_, err := r.c.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.LRem(ctx, key, 0, member)
		p.LPush(ctx, key, member)
		p.LTrim(ctx, key, 0, limit-1)
		return nil
	})
	return err
}

func rideKey(id string) string { return "ride:" + id }

func driverRidesKey(driverID int) string { return "driver:rides:" + strconv.Itoa(driverID) }

// projectWithRetry stores the ride and indexes it under its driver. Both
// writes are idempotent so a redelivered event is harmless.
func projectWithRetry(ctx context.Context, w RideWriter, ride models.RideRecord, attempts int, delay time.Duration) error {
	b, err := json.Marshal(ride)
	if err != nil {
		return err
	}
	for i := 0; i < attempts; i++ {
		if err = w.Set(ctx, rideKey(ride.RideID), b); err == nil {
			err = w.PushRecent(ctx, driverRidesKey(ride.DriverID), ride.RideID, driverRidesLimit)
		}
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
	}
	return err
}
