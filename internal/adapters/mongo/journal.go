package mongo

import (
	"context"

	"github.com/skybook/booking-saga/internal/notify"
	"github.com/skybook/booking-saga/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
)

// NotificationJournal stores one document per dispatched notification,
// keyed by the event's idempotency key.
type NotificationJournal struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewNotificationJournal(db *mongo.Database, logger observability.Logger) *NotificationJournal {
	return &NotificationJournal{
		coll:   db.Collection("notifications"),
		logger: logger,
	}
}

type notificationDoc struct {
	IdempotencyKey string `bson:"_id"`
	ReservationID  string `bson:"reservation_id"`
	Kind           string `bson:"kind"`
	Reason         string `bson:"reason,omitempty"`
	SentAt         int64  `bson:"sent_at"`
}

func (j *NotificationJournal) Record(ctx context.Context, n notify.Notification) error {
	doc := notificationDoc{
		IdempotencyKey: n.IdempotencyKey,
		ReservationID:  n.ReservationID.String(),
		Kind:           n.Kind,
		Reason:         string(n.Reason),
		SentAt:         n.SentAt.UnixMilli(),
	}
	if _, err := j.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil
		}
		j.logger.Error("insert notification", err)
		return err
	}
	return nil
}
