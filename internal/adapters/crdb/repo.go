// Package crdb persists reservations, seat holds and the outbox in one
// database so a state change and its event record commit atomically.
package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/skybook/booking-saga/internal/domain"
	"github.com/skybook/booking-saga/internal/event"
	"github.com/skybook/booking-saga/internal/observability"
	"github.com/skybook/booking-saga/internal/saga"
)

const serializationFailureCode = "40001"

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() {
		observability.DBTxDuration.Observe(time.Since(start).Seconds())
	}()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "SET TRANSACTION ISOLATION LEVEL SERIALIZABLE"); err != nil {
		return err
	}

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == serializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) CreateReservation(ctx context.Context, res domain.Reservation, created event.Envelope) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO reservations (id, passenger_ref, flight_ref, seat_ref, status, reason, version, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, '', $6, $7, $7)
		`, res.ID, res.PassengerRef, res.FlightRef, res.SeatRef, res.Status, res.Version, res.CreatedAt)
		if err != nil {
			return err
		}
		return insertOutbox(ctx, tx, created)
	})
}

func (r *Repository) Get(ctx context.Context, id uuid.UUID) (domain.Reservation, error) {
	var res domain.Reservation
	err := r.pool.QueryRow(ctx, `
		SELECT id, passenger_ref, flight_ref, seat_ref, status, reason, version, created_at, updated_at
		FROM reservations WHERE id = $1
	`, id).Scan(&res.ID, &res.PassengerRef, &res.FlightRef, &res.SeatRef, &res.Status, &res.Reason, &res.Version, &res.CreatedAt, &res.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Reservation{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.Reservation{}, err
	}
	return res, nil
}

func (r *Repository) Apply(ctx context.Context, id uuid.UUID, expectVersion int64, tr saga.Transition) (domain.Reservation, error) {
	var out domain.Reservation
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		var status domain.ReservationStatus
		var version int64
		err := tx.QueryRow(ctx, `
			SELECT status, version FROM reservations WHERE id = $1 FOR UPDATE
		`, id).Scan(&status, &version)
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ErrNotFound
		}
		if err != nil {
			return err
		}
		if version != expectVersion {
			return errors.Wrapf(domain.ErrConflict, "version %d, expected %d", version, expectVersion)
		}
		if !domain.CanTransition(status, tr.To) {
			return errors.Wrapf(domain.ErrConflict, "illegal transition %s -> %s", status, tr.To)
		}

		err = tx.QueryRow(ctx, `
			UPDATE reservations
			SET status = $2, reason = $3, version = version + 1, updated_at = now()
			WHERE id = $1
			RETURNING id, passenger_ref, flight_ref, seat_ref, status, reason, version, created_at, updated_at
		`, id, tr.To, string(tr.Reason)).Scan(&out.ID, &out.PassengerRef, &out.FlightRef, &out.SeatRef, &out.Status, &out.Reason, &out.Version, &out.CreatedAt, &out.UpdatedAt)
		if err != nil {
			return err
		}

		for _, suppress := range tr.Suppress {
			if _, err := tx.Exec(ctx, `
				UPDATE outbox SET status = 'SUPPRESSED'
				WHERE partition_key = $1 AND event_type = $2 AND status = 'NEW'
			`, id.String(), suppress); err != nil {
				return err
			}
		}
		for _, env := range tr.Append {
			if err := insertOutbox(ctx, tx, env); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return domain.Reservation{}, err
	}
	return out, nil
}
