package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the backend API process.
// Values are loaded from environment variables with defaults so the binary
// can run locally against in-memory stores.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	StripeAPIKey string
	Currency     string

	RedisAddr        string
	RedisPassword    string
	IdempotencyTTL   time.Duration
	IdempotencyLease time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	LogLevel      string
	RunMigrations bool
}

// ClientConfig drives the headless booking client in cmd/book.
type ClientConfig struct {
	BackendURL     string
	BackendTimeout time.Duration

	MerchantName string
	Currency     string
	ReturnURL    string
	HomeRoute    string

	StripeAPIKey string

	RedisAddr     string
	RedisPassword string
	OutboxPrefix  string

	OutboxMaxAttempts int
	OutboxBaseDelay   time.Duration
	OutboxMaxDelay    time.Duration
	OutboxInterval    time.Duration

	OSRMEndpoint    string
	DefaultSpeedMps float64

	LogLevel string
}

// ConsumerConfig drives the ride events projector in cmd/consumer.
type ConsumerConfig struct {
	MetricsAddr   string
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	LogLevel      string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:         ":8080",
		ReadTimeout:      5 * time.Second,
		WriteTimeout:     30 * time.Second,
		IdleTimeout:      120 * time.Second,
		ShutdownTimeout:  15 * time.Second,
		Currency:         "usd",
		IdempotencyTTL:   24 * time.Hour,
		IdempotencyLease: 30 * time.Second,
		KafkaTopic:       "rides.created",
		LogLevel:         "info",
	}
}

func defaultClientConfig() ClientConfig {
	return ClientConfig{
		BackendURL:        "http://localhost:8080",
		BackendTimeout:    15 * time.Second,
		MerchantName:      "Example, Inc.",
		Currency:          "USD",
		ReturnURL:         "myapp://book-ride",
		HomeRoute:         "/(root)/(tabs)/home",
		OutboxPrefix:      "outbox:rides",
		OutboxMaxAttempts: 8,
		OutboxBaseDelay:   time.Second,
		OutboxMaxDelay:    5 * time.Minute,
		OutboxInterval:    5 * time.Second,
		DefaultSpeedMps:   8,
		LogLevel:          "info",
	}
}

func defaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		MetricsAddr:  ":2112",
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "rides.created",
		KafkaGroup:   "ride-booking-projector",
		RedisAddr:    "localhost:6379",
		LogLevel:     "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))
	if v := strings.TrimSpace(os.Getenv("CURRENCY")); v != "" {
		cfg.Currency = strings.ToLower(v)
	}

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.IdempotencyTTL, "IDEMPOTENCY_TTL", &errs)
	setDurationFromEnv(&cfg.IdempotencyLease, "IDEMPOTENCY_LEASE", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if len(cfg.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY must be a 3-letter code, got %q", cfg.Currency))
	}
	if cfg.IdempotencyTTL <= 0 {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_TTL must be > 0"))
	}
	if cfg.IdempotencyLease <= 0 || cfg.IdempotencyLease > cfg.IdempotencyTTL {
		errs = append(errs, fmt.Errorf("IDEMPOTENCY_LEASE must be > 0 and <= IDEMPOTENCY_TTL"))
	}

	return cfg, errors.Join(errs...)
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := defaultClientConfig()
	var errs []error

	setStringFromEnv(&cfg.BackendURL, "BACKEND_URL")
	cfg.BackendURL = strings.TrimRight(cfg.BackendURL, "/")
	setDurationFromEnv(&cfg.BackendTimeout, "BACKEND_TIMEOUT", &errs)

	setStringFromEnv(&cfg.MerchantName, "MERCHANT_NAME")
	if v := strings.TrimSpace(os.Getenv("CURRENCY")); v != "" {
		cfg.Currency = strings.ToUpper(v)
	}
	setStringFromEnv(&cfg.ReturnURL, "RETURN_URL")
	setStringFromEnv(&cfg.HomeRoute, "HOME_ROUTE")

	cfg.StripeAPIKey = strings.TrimSpace(os.Getenv("STRIPE_API_KEY"))

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.OutboxPrefix, "OUTBOX_PREFIX")

	setIntFromEnv(&cfg.OutboxMaxAttempts, "OUTBOX_MAX_ATTEMPTS", &errs)
	setDurationFromEnv(&cfg.OutboxBaseDelay, "OUTBOX_BASE_DELAY", &errs)
	setDurationFromEnv(&cfg.OutboxMaxDelay, "OUTBOX_MAX_DELAY", &errs)
	setDurationFromEnv(&cfg.OutboxInterval, "OUTBOX_INTERVAL", &errs)

	cfg.OSRMEndpoint = strings.TrimRight(strings.TrimSpace(os.Getenv("OSRM_ENDPOINT")), "/")
	setFloatFromEnv(&cfg.DefaultSpeedMps, "DEFAULT_SPEED_MPS", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.Currency) != 3 {
		errs = append(errs, fmt.Errorf("CURRENCY must be a 3-letter code, got %q", cfg.Currency))
	}
	if cfg.OutboxMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_MAX_ATTEMPTS must be > 0"))
	}
	if cfg.OutboxBaseDelay <= 0 || cfg.OutboxMaxDelay < cfg.OutboxBaseDelay {
		errs = append(errs, fmt.Errorf("OUTBOX_BASE_DELAY must be > 0 and <= OUTBOX_MAX_DELAY"))
	}
	if cfg.OutboxInterval <= 0 {
		errs = append(errs, fmt.Errorf("OUTBOX_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := defaultConsumerConfig()

	setStringFromEnv(&cfg.MetricsAddr, "METRICS_ADDR")
	brokers := os.Getenv("KAFKA_BROKERS")
	if brokers == "" {
		brokers = os.Getenv("KAFKA_BROKER")
	}
	if brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must list at least one broker")
	}
	return cfg, nil
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
