package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/skybook/booking-saga/internal/domain"
)

// Acquire inserts an ACTIVE hold unless an unexpired one exists for the
// seat. An expired ACTIVE row is released within the same transaction so it
// never blocks a new hold. Re-acquiring for the same reservation returns the
// existing hold.
func (r *Repository) Acquire(ctx context.Context, flightRef, seatRef string, reservationID uuid.UUID, ttl time.Duration) (domain.SeatHold, error) {
	var hold domain.SeatHold
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		// The active-holds index cannot arbitrate against ALLOCATED rows, so
		// sold seats are checked explicitly inside the same transaction.
		var allocatedTo uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT reservation_id FROM seat_holds
			WHERE flight_ref = $1 AND seat_ref = $2 AND status = 'ALLOCATED'
		`, flightRef, seatRef).Scan(&allocatedTo)
		if err == nil {
			return errors.Wrapf(domain.ErrConflict, "seat %s/%s already allocated", flightRef, seatRef)
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return err
		}

		if _, err := tx.Exec(ctx, `
			UPDATE seat_holds SET status = 'RELEASED', version = version + 1
			WHERE flight_ref = $1 AND seat_ref = $2 AND status = 'ACTIVE' AND expires_at <= now()
		`, flightRef, seatRef); err != nil {
			return err
		}

		expiresAt := time.Now().UTC().Add(ttl)
		result, err := tx.Exec(ctx, `
			INSERT INTO seat_holds (flight_ref, seat_ref, reservation_id, status, expires_at, version)
			VALUES ($1, $2, $3, 'ACTIVE', $4, 1)
			ON CONFLICT (flight_ref, seat_ref) WHERE status = 'ACTIVE' DO NOTHING
		`, flightRef, seatRef, reservationID, expiresAt)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var existing domain.SeatHold
			err := tx.QueryRow(ctx, `
				SELECT flight_ref, seat_ref, reservation_id, status, expires_at, version
				FROM seat_holds
				WHERE flight_ref = $1 AND seat_ref = $2 AND status = 'ACTIVE'
			`, flightRef, seatRef).Scan(&existing.FlightRef, &existing.SeatRef, &existing.ReservationID, &existing.Status, &existing.ExpiresAt, &existing.Version)
			if err != nil {
				return err
			}
			if existing.ReservationID != reservationID {
				return errors.Wrapf(domain.ErrConflict, "seat %s/%s already held", flightRef, seatRef)
			}
			hold = existing
			return nil
		}
		hold = domain.SeatHold{
			FlightRef:     flightRef,
			SeatRef:       seatRef,
			ReservationID: reservationID,
			Status:        domain.HoldActive,
			ExpiresAt:     expiresAt,
			Version:       1,
		}
		return nil
	})
	if err != nil {
		return domain.SeatHold{}, err
	}
	return hold, nil
}

// Release frees the reservation's own hold, active or already allocated.
// Missing and foreign holds are untouched.
func (r *Repository) Release(ctx context.Context, flightRef, seatRef string, reservationID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE seat_holds SET status = 'RELEASED', version = version + 1
		WHERE flight_ref = $1 AND seat_ref = $2 AND reservation_id = $3 AND status IN ('ACTIVE', 'ALLOCATED')
	`, flightRef, seatRef, reservationID)
	return err
}

// Confirm turns the reservation's active, unexpired hold into a permanent
// allocation.
func (r *Repository) Confirm(ctx context.Context, flightRef, seatRef string, reservationID uuid.UUID) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE seat_holds SET status = 'ALLOCATED', version = version + 1
		WHERE flight_ref = $1 AND seat_ref = $2 AND reservation_id = $3
		  AND status = 'ACTIVE' AND expires_at > now()
	`, flightRef, seatRef, reservationID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrConflict, "no active hold on %s/%s for this reservation", flightRef, seatRef)
	}
	return nil
}

func (r *Repository) Expired(ctx context.Context, now time.Time) ([]domain.SeatHold, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT flight_ref, seat_ref, reservation_id, status, expires_at, version
		FROM seat_holds WHERE status = 'ACTIVE' AND expires_at <= $1
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var holds []domain.SeatHold
	for rows.Next() {
		var h domain.SeatHold
		if err := rows.Scan(&h.FlightRef, &h.SeatRef, &h.ReservationID, &h.Status, &h.ExpiresAt, &h.Version); err != nil {
			return nil, err
		}
		holds = append(holds, h)
	}
	return holds, rows.Err()
}
