package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"
)

// CreateReservationTx places a time-boxed hold on a stock line. The stock
// line row is locked FOR UPDATE so two sessions racing for the last unit
// serialize here: available quantity is recomputed under the lock as
// on-hand minus the sum of other ACTIVE, non-expired holds.
func (s *Store) CreateReservationTx(ctx context.Context, res *models.StockReservation) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var onHand int
	err = tx.GetContext(ctx, &onHand,
		"SELECT quantity FROM stock_lines WHERE id = $1 AND business_id = $2 FOR UPDATE",
		res.StockLineID, res.BusinessID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("stock line not found: %d", res.StockLineID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock stock line: %w", err)
	}

	var held int
	err = tx.GetContext(ctx, &held,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		 WHERE stock_line_id = $1 AND status = $2 AND expires_at > $3`,
		res.StockLineID, models.ReservationStatusActive, time.Now())
	if err != nil {
		return fmt.Errorf("failed to sum active holds: %w", err)
	}

	available := onHand - held
	if res.Quantity > available {
		return &models.InsufficientStockError{
			StockLineID: res.StockLineID,
			Requested:   res.Quantity,
			Available:   available,
		}
	}

	query := `
		INSERT INTO stock_reservations
			(business_id, storefront_id, stock_line_id, session_id, quantity, status, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	err = tx.GetContext(ctx, res, query,
		res.BusinessID, res.StorefrontID, res.StockLineID, res.SessionID,
		res.Quantity, res.Status, res.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}

	return tx.Commit()
}

// GetReservationByID retrieves a reservation scoped to a business
func (s *Store) GetReservationByID(ctx context.Context, businessID, id int64) (*models.StockReservation, error) {
	var res models.StockReservation
	err := s.db.GetContext(ctx, &res,
		"SELECT * FROM stock_reservations WHERE id = $1 AND business_id = $2", id, businessID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("reservation not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// GetActiveReservationsBySession retrieves all ACTIVE holds for a cart
// session. Expired-but-unswept holds are included; callers that care
// check expires_at themselves.
func (s *Store) GetActiveReservationsBySession(ctx context.Context, businessID int64, sessionID string) ([]models.StockReservation, error) {
	var reservations []models.StockReservation
	err := s.db.SelectContext(ctx, &reservations,
		`SELECT * FROM stock_reservations
		 WHERE business_id = $1 AND session_id = $2 AND status = $3 ORDER BY id`,
		businessID, sessionID, models.ReservationStatusActive)
	return reservations, err
}

// GetActiveHoldQuantity returns the summed quantity of ACTIVE,
// non-expired holds against a stock line.
func (s *Store) GetActiveHoldQuantity(ctx context.Context, stockLineID int64, now time.Time) (int, error) {
	var held int
	err := s.db.GetContext(ctx, &held,
		`SELECT COALESCE(SUM(quantity), 0) FROM stock_reservations
		 WHERE stock_line_id = $1 AND status = $2 AND expires_at > $3`,
		stockLineID, models.ReservationStatusActive, now)
	return held, err
}

// ReleaseReservation marks a hold RELEASED, returning its quantity to the
// available pool immediately. Only ACTIVE holds can be released.
func (s *Store) ReleaseReservation(ctx context.Context, businessID, id int64) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE stock_reservations SET status = $1 WHERE id = $2 AND business_id = $3 AND status = $4",
		models.ReservationStatusReleased, id, businessID, models.ReservationStatusActive)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("reservation %d is not active", id)
	}
	return nil
}

// ReleaseSessionReservations releases every ACTIVE hold for a session,
// used on cart cancellation. Returns the released reservations so the
// caller can reconcile the redis mirror.
func (s *Store) ReleaseSessionReservations(ctx context.Context, businessID int64, sessionID string) ([]models.StockReservation, error) {
	var released []models.StockReservation
	err := s.db.SelectContext(ctx, &released,
		`UPDATE stock_reservations SET status = $1
		 WHERE business_id = $2 AND session_id = $3 AND status = $4
		 RETURNING *`,
		models.ReservationStatusReleased, businessID, sessionID, models.ReservationStatusActive)
	return released, err
}

// SweepExpiredReservations transitions every ACTIVE hold past its TTL to
// EXPIRED and returns them. Availability reads already filter on
// expires_at, so the sweep and lazy expiry converge to the same value.
func (s *Store) SweepExpiredReservations(ctx context.Context, now time.Time) ([]models.StockReservation, error) {
	var expired []models.StockReservation
	err := s.db.SelectContext(ctx, &expired,
		`UPDATE stock_reservations SET status = $1
		 WHERE status = $2 AND expires_at < $3
		 RETURNING *`,
		models.ReservationStatusExpired, models.ReservationStatusActive, now)
	return expired, err
}
