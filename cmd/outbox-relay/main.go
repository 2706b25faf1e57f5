package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/skybook/booking-saga/internal/adapters/crdb"
	"github.com/skybook/booking-saga/internal/adapters/rabbit"
	"github.com/skybook/booking-saga/internal/config"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/skybook/booking-saga/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg.OTLPEndpoint, "booking-outbox-relay")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer conn.Close()
	publisher, err := rabbit.NewPublisher(conn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	relay := outbox.NewRelay(repo, publisher, logger, cfg.RelayInterval, cfg.RelayBatch)

	logger.Info("outbox relay started")
	relay.Run(ctx)
	logger.Info("outbox relay stopped")
}
