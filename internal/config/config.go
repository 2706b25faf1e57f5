package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr   string
	CRDBDSN      string
	RedisAddr    string
	RabbitURL    string
	MongoURI     string
	AuthSecret   string
	OTLPEndpoint string

	PaymentTimeout    time.Duration
	MaxPaymentRetries int
	PaymentDeadline   time.Duration
	SeatHoldTTL       time.Duration
	IdempotencyTTL    time.Duration

	BreakerFailures int
	BreakerWindow   time.Duration
	BreakerCooldown time.Duration
	BreakerTrials   int

	RateLimitBurst  int
	RateLimitRefill time.Duration

	PaymentWorkers       int
	ConsumerWorkers      int
	PaymentMaxConcurrent int

	SweepInterval time.Duration
	RelayInterval time.Duration
	RelayBatch    int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		ListenAddr:   getString("LISTEN_ADDR", ":8080"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		MongoURI:     os.Getenv("MONGO_URI"),
		AuthSecret:   os.Getenv("AUTH_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),

		PaymentTimeout:    getDuration("PAYMENT_TIMEOUT", 5*time.Second),
		MaxPaymentRetries: getInt("PAYMENT_MAX_RETRIES", 3),
		PaymentDeadline:   getDuration("PAYMENT_DEADLINE", 30*time.Second),
		SeatHoldTTL:       getDuration("SEAT_HOLD_TTL", 5*time.Minute),
		IdempotencyTTL:    getDuration("IDEMPOTENCY_TTL", 24*time.Hour),

		BreakerFailures: getInt("BREAKER_FAILURES", 5),
		BreakerWindow:   getDuration("BREAKER_WINDOW", 30*time.Second),
		BreakerCooldown: getDuration("BREAKER_COOLDOWN", 15*time.Second),
		BreakerTrials:   getInt("BREAKER_TRIALS", 1),

		RateLimitBurst:  getInt("RATE_LIMIT_BURST", 100),
		RateLimitRefill: getDuration("RATE_LIMIT_REFILL", time.Minute),

		PaymentWorkers:       getInt("PAYMENT_WORKERS", 8),
		ConsumerWorkers:      getInt("CONSUMER_WORKERS", 8),
		PaymentMaxConcurrent: getInt("PAYMENT_MAX_CONCURRENT", 16),

		SweepInterval: getDuration("SWEEP_INTERVAL", 15*time.Second),
		RelayInterval: getDuration("RELAY_INTERVAL", time.Second),
		RelayBatch:    getInt("RELAY_BATCH", 100),
	}, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func getInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
