// Package mongo hosts the reference data the saga only reads (flight
// catalog) and the notification journal.
package mongo

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/observability"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

type CatalogRepository struct {
	flights    *mongo.Collection
	passengers *mongo.Collection
	logger     observability.Logger
}

func NewCatalogRepository(db *mongo.Database, logger observability.Logger) *CatalogRepository {
	return &CatalogRepository{
		flights:    db.Collection("flights"),
		passengers: db.Collection("passengers"),
		logger:     logger,
	}
}

type FlightDoc struct {
	Ref       string    `bson:"_id"`
	Number    string    `bson:"number"`
	DepartsAt time.Time `bson:"departs_at"`
	Seats     []SeatDoc `bson:"seats"`
}

type SeatDoc struct {
	Ref      string `bson:"ref"`
	Cabin    string `bson:"cabin"`
	Price    int64  `bson:"price"`
	Currency string `bson:"currency"`
}

type PassengerDoc struct {
	Ref  string `bson:"_id"`
	Name string `bson:"name"`
}

// ValidateBooking checks the delegated references and returns the seat
// price. Unknown references are invalid input, never a transient failure.
func (c *CatalogRepository) ValidateBooking(ctx context.Context, passengerRef, flightRef, seatRef string) (int64, string, error) {
	if err := c.passengers.FindOne(ctx, bson.M{"_id": passengerRef}).Err(); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, "", errors.Wrapf(domain.ErrInvalidInput, "unknown passenger %q", passengerRef)
		}
		return 0, "", err
	}

	var flight FlightDoc
	if err := c.flights.FindOne(ctx, bson.M{"_id": flightRef}).Decode(&flight); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return 0, "", errors.Wrapf(domain.ErrInvalidInput, "unknown flight %q", flightRef)
		}
		return 0, "", err
	}
	for _, seat := range flight.Seats {
		if seat.Ref == seatRef {
			return seat.Price, seat.Currency, nil
		}
	}
	return 0, "", errors.Wrapf(domain.ErrInvalidInput, "unknown seat %q on flight %q", seatRef, flightRef)
}

func (c *CatalogRepository) CreateFlight(ctx context.Context, flight FlightDoc) error {
	_, err := c.flights.InsertOne(ctx, flight)
	return err
}

func (c *CatalogRepository) CreatePassenger(ctx context.Context, passenger PassengerDoc) error {
	_, err := c.passengers.InsertOne(ctx, passenger)
	return err
}
