package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/skybook/booking-saga/internal/adapters/crdb"
	mongoadapter "github.com/skybook/booking-saga/internal/adapters/mongo"
	"github.com/skybook/booking-saga/internal/adapters/rabbit"
	redisadapter "github.com/skybook/booking-saga/internal/adapters/redis"
	"github.com/skybook/booking-saga/internal/admission"
	"github.com/skybook/booking-saga/internal/breaker"
	"github.com/skybook/booking-saga/internal/clock"
	bookinghttp "github.com/skybook/booking-saga/internal/http"
	"github.com/skybook/booking-saga/internal/notify"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/skybook/booking-saga/internal/outbox"
	"github.com/skybook/booking-saga/internal/payment"
	"github.com/skybook/booking-saga/internal/saga"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

func TestIntegration_ReservationConfirmed(t *testing.T) {
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer crdbContainer.Terminate(ctx)

	mongoContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "mongo:7",
			ExposedPorts: []string{"27017/tcp"},
			WaitingFor:   wait.ForExec([]string{"mongosh", "--eval", "db.runCommand('ping').ok"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer mongoContainer.Terminate(ctx)

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForExec([]string{"redis-cli", "ping"}),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer redisContainer.Terminate(ctx)

	rabbitContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "rabbitmq:3.13-management",
			ExposedPorts: []string{"5672/tcp", "15672/tcp"},
			WaitingFor:   wait.ForHTTP("/api/health").WithPort("15672"),
		},
		Started: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitContainer.Terminate(ctx)

	endpoint := func(c testcontainers.Container, port string) string {
		host, err := c.Host(ctx)
		if err != nil {
			t.Fatal(err)
		}
		mapped, err := c.MappedPort(ctx, nat.Port(port))
		if err != nil {
			t.Fatal(err)
		}
		return host + ":" + mapped.Port()
	}

	pool, err := pgxpool.New(ctx, "postgresql://root@"+endpoint(crdbContainer, "26257")+"/defaultdb?sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()
	if err := crdb.Migrate(ctx, pool); err != nil {
		t.Fatal(err)
	}
	repo := crdb.NewRepository(pool)

	mongoClient, err := mongo.Connect(ctx, options.Client().ApplyURI("mongodb://"+endpoint(mongoContainer, "27017")))
	if err != nil {
		t.Fatal(err)
	}
	defer mongoClient.Disconnect(ctx)
	logger := observability.NewLogger()
	db := mongoClient.Database("booking")
	catalog := mongoadapter.NewCatalogRepository(db, logger)
	journal := mongoadapter.NewNotificationJournal(db, logger)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: endpoint(redisContainer, "6379")})
	ledger := redisadapter.NewLedger(redisClient, time.Hour)

	rabbitConn, err := amqp.Dial("amqp://guest:guest@" + endpoint(rabbitContainer, "5672") + "/")
	if err != nil {
		t.Fatal(err)
	}
	defer rabbitConn.Close()
	publisher, err := rabbit.NewPublisher(rabbitConn)
	if err != nil {
		t.Fatal(err)
	}

	clk := clock.NewSystem()
	coordinator := saga.NewCoordinator(repo, repo, ledger, catalog, clk, logger, saga.Options{
		PaymentDeadline: 30 * time.Second,
		HoldTTL:         5 * time.Minute,
	})
	defer coordinator.Stop()

	gatewayBreaker := breaker.New("payment-gateway", breaker.Settings{}, clk)
	adapter := payment.NewAdapter(payment.NewMockGateway(), gatewayBreaker, 4, 5*time.Second, logger)
	charger := payment.NewCharger(adapter, publisher, ledger, 3, 50*time.Millisecond, clk, logger)
	dispatcher := notify.NewDispatcher(journal, ledger, clk, logger)

	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()

	chargeConsumer, err := rabbit.NewConsumer(rabbitConn, "payments.charge.q", []string{"reservation.created"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	go chargeConsumer.Run(workerCtx, 4, charger.Handle)

	resultConsumer, err := rabbit.NewConsumer(rabbitConn, "saga.results.q", []string{"payment.succeeded", "payment.failed"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	go resultConsumer.Run(workerCtx, 4, coordinator.OnPaymentResult)

	notifyConsumer, err := rabbit.NewConsumer(rabbitConn, "notifications.q", []string{"reservation.confirmed", "reservation.cancelled"}, logger)
	if err != nil {
		t.Fatal(err)
	}
	go notifyConsumer.Run(workerCtx, 4, dispatcher.Handle)

	relay := outbox.NewRelay(repo, publisher, logger, 100*time.Millisecond, 50)
	go relay.Run(workerCtx)

	// Seed the catalog.
	if err := catalog.CreateFlight(ctx, mongoadapter.FlightDoc{
		Ref:       "SB-101",
		Number:    "SB101",
		DepartsAt: time.Now().Add(48 * time.Hour),
		Seats: []mongoadapter.SeatDoc{
			{Ref: "12A", Cabin: "economy", Price: 18900, Currency: "EUR"},
		},
	}); err != nil {
		t.Fatal(err)
	}
	if err := catalog.CreatePassenger(ctx, mongoadapter.PassengerDoc{Ref: "PAX-1", Name: "Ada Byron"}); err != nil {
		t.Fatal(err)
	}

	verifier := admission.NewHMACVerifier("integration-secret")
	table := admission.NewRoutingTable(admission.NewStaticRegistry(), 3, logger)
	ctrl := admission.NewController(verifier, admission.NewLocal(100, time.Minute), table, breaker.Settings{}, clk, logger)
	handlers := bookinghttp.NewHandlers(coordinator)
	router := bookinghttp.SetupRouter(handlers, logger, ctrl, nil)

	srv := &http.Server{Addr: ":8091", Handler: router}
	go srv.ListenAndServe()
	defer srv.Shutdown(ctx)
	time.Sleep(200 * time.Millisecond)

	token := verifier.SignToken("integration-client")

	body, _ := json.Marshal(map[string]string{
		"passenger_ref": "PAX-1",
		"flight_ref":    "SB-101",
		"seat_ref":      "12A",
	})
	req, _ := http.NewRequest(http.MethodPost, "http://localhost:8091/v1/reservations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("create failed with status %d", resp.StatusCode)
	}
	var created struct {
		ReservationID uuid.UUID `json:"reservation_id"`
		Status        string    `json:"status"`
	}
	json.NewDecoder(resp.Body).Decode(&created)
	resp.Body.Close()
	if created.Status != "AWAITING_PAYMENT" {
		t.Fatalf("expected AWAITING_PAYMENT, got %s", created.Status)
	}

	// The saga settles asynchronously: relay -> charger -> coordinator.
	deadline := time.Now().Add(30 * time.Second)
	var status string
	for time.Now().Before(deadline) {
		req, _ := http.NewRequest(http.MethodGet, "http://localhost:8091/v1/reservations/"+created.ReservationID.String(), nil)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		var got struct {
			Status string `json:"status"`
		}
		json.NewDecoder(resp.Body).Decode(&got)
		resp.Body.Close()
		status = got.Status
		if status == "CONFIRMED" {
			break
		}
		time.Sleep(250 * time.Millisecond)
	}
	if status != "CONFIRMED" {
		t.Fatalf("expected CONFIRMED, got %s", status)
	}

	// The same seat is now permanently allocated.
	req, _ = http.NewRequest(http.MethodPost, "http://localhost:8091/v1/reservations", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected seat conflict, got status %d", resp.StatusCode)
	}
}
