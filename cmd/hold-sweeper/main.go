package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/skybook/booking-saga/internal/adapters/crdb"
	mongoadapter "github.com/skybook/booking-saga/internal/adapters/mongo"
	redisadapter "github.com/skybook/booking-saga/internal/adapters/redis"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/config"
	"github.com/skybook/booking-saga/internal/inventory"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/skybook/booking-saga/internal/saga"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOtel, err := observability.SetupOTel(ctx, cfg.OTLPEndpoint, "booking-hold-sweeper")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()
	clk := clock.NewSystem()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	ledger := redisadapter.NewLedger(redisClient, cfg.IdempotencyTTL)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	catalog := mongoadapter.NewCatalogRepository(mongoClient.Database("booking"), logger)

	coordinator := saga.NewCoordinator(repo, repo, ledger, catalog, clk, logger, saga.Options{
		PaymentDeadline: cfg.PaymentDeadline,
		HoldTTL:         cfg.SeatHoldTTL,
	})
	defer coordinator.Stop()

	sweeper := inventory.NewSweeper(repo, clk, coordinator.OnHoldExpired, logger)

	logger.Info("hold sweeper started")
	sweeper.Run(ctx, cfg.SweepInterval)
	logger.Info("hold sweeper stopped")
}
