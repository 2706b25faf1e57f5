package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/skybook/booking-saga/internal/adapters/crdb"
	mongoadapter "github.com/skybook/booking-saga/internal/adapters/mongo"
	redisadapter "github.com/skybook/booking-saga/internal/adapters/redis"
	"github.com/skybook/booking-saga/internal/admission"
	"github.com/skybook/booking-saga/internal/breaker"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/config"
	httphandler "github.com/skybook/booking-saga/internal/http"
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

	ctx := context.Background()
	shutdown, err := observability.SetupOTel(ctx, cfg.OTLPEndpoint, "booking-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger()
	clk := clock.NewSystem()

	pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
	if err != nil {
		log.Fatalf("failed to connect to crdb: %v", err)
	}
	defer pool.Close()
	if err := crdb.Migrate(ctx, pool); err != nil {
		log.Fatalf("failed to migrate: %v", err)
	}
	repo := crdb.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	ledger := redisadapter.NewLedger(redisClient, cfg.IdempotencyTTL)
	limiter := redisadapter.NewLimiter(redisClient, cfg.RateLimitBurst, cfg.RateLimitRefill)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(ctx)
	catalog := mongoadapter.NewCatalogRepository(mongoClient.Database("booking"), logger)

	coordinator := saga.NewCoordinator(repo, repo, ledger, catalog, clk, logger, saga.Options{
		PaymentDeadline: cfg.PaymentDeadline,
		HoldTTL:         cfg.SeatHoldTTL,
	})
	defer coordinator.Stop()

	registry := admission.NewStaticRegistry()
	table := admission.NewRoutingTable(registry, 3, logger)
	tableCtx, tableCancel := context.WithCancel(ctx)
	defer tableCancel()
	go table.Run(tableCtx, 10*time.Second)

	ctrl := admission.NewController(
		admission.NewHMACVerifier(cfg.AuthSecret),
		limiter,
		table,
		breaker.Settings{
			ConsecutiveFailures: cfg.BreakerFailures,
			Window:              cfg.BreakerWindow,
			Cooldown:            cfg.BreakerCooldown,
			HalfOpenTrials:      cfg.BreakerTrials,
		},
		clk,
		logger,
	)

	handlers := httphandler.NewHandlers(coordinator)
	router := httphandler.SetupRouter(handlers, logger, ctrl, nil)

	srv := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
