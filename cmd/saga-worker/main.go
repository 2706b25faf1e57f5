package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/skybook/booking-saga/internal/adapters/crdb"
	mongoadapter "github.com/skybook/booking-saga/internal/adapters/mongo"
	"github.com/skybook/booking-saga/internal/adapters/rabbit"
	redisadapter "github.com/skybook/booking-saga/internal/adapters/redis"
	"github.com/skybook/booking-saga/internal/breaker"
	"github.com/skybook/booking-saga/internal/clock"
	"github.com/skybook/booking-saga/internal/config"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/notify"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/skybook/booking-saga/internal/payment"
	"github.com/skybook/booking-saga/internal/saga"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown, err := observability.SetupOTel(ctx, cfg.OTLPEndpoint, "booking-saga-worker")
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

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
	if err != nil {
		log.Fatalf("failed to connect to mongo: %v", err)
	}
	defer mongoClient.Disconnect(context.Background())
	mongoDB := mongoClient.Database("booking")
	catalog := mongoadapter.NewCatalogRepository(mongoDB, logger)
	journal := mongoadapter.NewNotificationJournal(mongoDB, logger)

	rabbitConn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("failed to connect to rabbitmq: %v", err)
	}
	defer rabbitConn.Close()
	publisher, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}

	coordinator := saga.NewCoordinator(repo, repo, ledger, catalog, clk, logger, saga.Options{
		PaymentDeadline: cfg.PaymentDeadline,
		HoldTTL:         cfg.SeatHoldTTL,
	})
	defer coordinator.Stop()

	gatewayBreaker := breaker.New("payment-gateway", breaker.Settings{
		ConsecutiveFailures: cfg.BreakerFailures,
		Window:              cfg.BreakerWindow,
		Cooldown:            cfg.BreakerCooldown,
		HalfOpenTrials:      cfg.BreakerTrials,
	}, clk)
	adapter := payment.NewAdapter(payment.NewMockGateway(), gatewayBreaker, int64(cfg.PaymentMaxConcurrent), cfg.PaymentTimeout, logger)
	charger := payment.NewCharger(adapter, publisher, ledger, cfg.MaxPaymentRetries, 0, clk, logger)

	dispatcher := notify.NewDispatcher(journal, ledger, clk, logger)

	// The payment pool is sized independently of the saga pool so a degraded
	// gateway cannot starve saga progress for unrelated reservations.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := rabbit.NewConsumer(rabbitConn, "payments.charge.q", []string{event.TypeReservationCreated}, logger)
		if err != nil {
			return err
		}
		return c.Run(gctx, cfg.PaymentWorkers, charger.Handle)
	})
	g.Go(func() error {
		c, err := rabbit.NewConsumer(rabbitConn, "saga.results.q", []string{event.TypePaymentSucceeded, event.TypePaymentFailed}, logger)
		if err != nil {
			return err
		}
		return c.Run(gctx, cfg.ConsumerWorkers, coordinator.OnPaymentResult)
	})
	g.Go(func() error {
		c, err := rabbit.NewConsumer(rabbitConn, "notifications.q", []string{event.TypeReservationConfirmed, event.TypeReservationCancelled}, logger)
		if err != nil {
			return err
		}
		return c.Run(gctx, cfg.ConsumerWorkers, dispatcher.Handle)
	})

	logger.Info("saga worker started")
	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("saga worker stopped", err)
	}
}
