package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/models"
	"pos-service/internal/redisclient"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"go.uber.org/zap"
)

// ReservationManager places and releases time-boxed holds against stock
// lines. The redis mirror rejects obviously-doomed holds fast; the
// Postgres transaction with the stock line row locked is authoritative.
type ReservationManager struct {
	store  *store.Store
	redis  *redisclient.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewReservationManager creates a new reservation manager
func NewReservationManager(store *store.Store, redis *redisclient.Client, ttl time.Duration) *ReservationManager {
	return &ReservationManager{
		store:  store,
		redis:  redis,
		logger: util.GetLogger(),
		ttl:    ttl,
	}
}

// TTL returns the configured hold lifetime
func (rm *ReservationManager) TTL() time.Duration {
	return rm.ttl
}

// Reserve places a hold of quantity on a stock line for a cart session.
// Two sessions racing for the last unit serialize on the stock line row
// lock; exactly one wins, the other gets InsufficientStockError.
func (rm *ReservationManager) Reserve(ctx context.Context, scope models.Scope, stockLineID int64, quantity int, sessionID string) (*models.StockReservation, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Reserve")
	defer span.End()

	start := time.Now()
	defer func() {
		util.ReserveLatency.Observe(time.Since(start).Seconds())
	}()

	if quantity <= 0 {
		return nil, fmt.Errorf("reservation quantity must be positive, got %d", quantity)
	}

	mirrored := true
	ok, err := rm.redis.ReserveHold(ctx, stockLineID, quantity)
	if errors.Is(err, redisclient.ErrMirrorMiss) {
		mirrored = false
	} else if err != nil {
		rm.logger.Warn("Redis hold failed, relying on database",
			zap.Int64("stock_line_id", stockLineID),
			zap.Error(err))
		mirrored = false
	} else if !ok {
		util.ReservationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
		onHand, held, gerr := rm.redis.GetStockLine(ctx, stockLineID)
		if gerr != nil {
			onHand, held = 0, 0
		}
		return nil, &models.InsufficientStockError{
			StockLineID: stockLineID,
			Requested:   quantity,
			Available:   onHand - held,
		}
	}

	res := &models.StockReservation{
		BusinessID:   scope.BusinessID,
		StorefrontID: scope.StorefrontID,
		StockLineID:  stockLineID,
		SessionID:    sessionID,
		Quantity:     quantity,
		Status:       models.ReservationStatusActive,
		ExpiresAt:    time.Now().Add(rm.ttl),
	}

	if err := rm.store.CreateReservationTx(ctx, res); err != nil {
		if mirrored {
			if rerr := rm.redis.ReleaseHold(ctx, stockLineID, quantity); rerr != nil {
				rm.logger.Error("Failed to compensate redis hold",
					zap.Int64("stock_line_id", stockLineID),
					zap.Error(rerr))
			}
		}
		var insufficient *models.InsufficientStockError
		if errors.As(err, &insufficient) {
			util.ReservationsFailedTotal.WithLabelValues("insufficient_stock").Inc()
			return nil, err
		}
		util.ReservationsFailedTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("failed to reserve stock line %d: %w", stockLineID, err)
	}

	util.ReservationsCreatedTotal.Inc()
	rm.logger.Info("Stock reserved",
		zap.Int64("reservation_id", res.ID),
		zap.Int64("stock_line_id", stockLineID),
		zap.Int("quantity", quantity),
		zap.String("session_id", sessionID))

	return res, nil
}

// Release marks a hold RELEASED and returns its quantity to the pool
// immediately, in both the database and the mirror.
func (rm *ReservationManager) Release(ctx context.Context, scope models.Scope, reservationID int64) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Release")
	defer span.End()

	res, err := rm.store.GetReservationByID(ctx, scope.BusinessID, reservationID)
	if err != nil {
		return err
	}

	if err := rm.store.ReleaseReservation(ctx, scope.BusinessID, reservationID); err != nil {
		return fmt.Errorf("failed to release reservation %d: %w", reservationID, err)
	}

	if err := rm.redis.ReleaseHold(ctx, res.StockLineID, res.Quantity); err != nil {
		rm.logger.Error("Failed to release redis hold",
			zap.Int64("stock_line_id", res.StockLineID),
			zap.Error(err))
	}

	return nil
}

// ReleaseSession releases every active hold for a cart session, used on
// cart abandonment or deletion.
func (rm *ReservationManager) ReleaseSession(ctx context.Context, scope models.Scope, sessionID string) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.ReleaseSession")
	defer span.End()

	released, err := rm.store.ReleaseSessionReservations(ctx, scope.BusinessID, sessionID)
	if err != nil {
		return fmt.Errorf("failed to release session holds: %w", err)
	}

	for _, res := range released {
		if err := rm.redis.ReleaseHold(ctx, res.StockLineID, res.Quantity); err != nil {
			rm.logger.Error("Failed to release redis hold",
				zap.Int64("stock_line_id", res.StockLineID),
				zap.Error(err))
		}
	}

	return nil
}

// ValidateSession returns the session's active holds, failing with
// ReservationExpiredError when any has passed its TTL. Completion calls
// this before the commit transaction, and the transaction re-checks
// under lock at the instant of commit.
func (rm *ReservationManager) ValidateSession(ctx context.Context, scope models.Scope, sessionID string, now time.Time) ([]models.StockReservation, error) {
	reservations, err := rm.store.GetActiveReservationsBySession(ctx, scope.BusinessID, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session holds: %w", err)
	}

	for i := range reservations {
		if now.After(reservations[i].ExpiresAt) {
			return nil, &models.ReservationExpiredError{
				ReservationID: reservations[i].ID,
				ExpiredAt:     reservations[i].ExpiresAt,
			}
		}
	}

	return reservations, nil
}

// Sweep expires every active hold past its TTL and returns the count.
// Availability reads already exclude expired holds, so the sweep only
// makes the state visible; both paths converge to the same number.
func (rm *ReservationManager) Sweep(ctx context.Context, now time.Time) (int, error) {
	ctx, span := util.StartSpan(ctx, "ReservationManager.Sweep")
	defer span.End()

	expired, err := rm.store.SweepExpiredReservations(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("sweep failed: %w", err)
	}

	for _, res := range expired {
		if err := rm.redis.ReleaseHold(ctx, res.StockLineID, res.Quantity); err != nil {
			rm.logger.Error("Failed to release redis hold for expired reservation",
				zap.Int64("reservation_id", res.ID),
				zap.Error(err))
		}
		util.ReservationsExpiredTotal.Inc()
	}

	if len(expired) > 0 {
		rm.logger.Info("Expired reservations swept", zap.Int("count", len(expired)))
	}

	return len(expired), nil
}

// ReconcileConsumed updates the redis mirror after the commit
// transaction consumed a set of holds. Failures only log: the database
// already holds the truth and the next sync pass repairs the mirror.
func (rm *ReservationManager) ReconcileConsumed(ctx context.Context, consumed []models.StockReservation) {
	for _, res := range consumed {
		if err := rm.redis.ConsumeHold(ctx, res.StockLineID, res.Quantity); err != nil {
			rm.logger.Error("Failed to consume redis hold",
				zap.Int64("stock_line_id", res.StockLineID),
				zap.Error(err))
		}
	}
}

// SyncMirror reseeds the redis mirror from the database: on-hand from
// each stock line, held from the sum of its active unexpired holds. Runs
// at startup and periodically from the sweeper so mirror drift heals.
func (rm *ReservationManager) SyncMirror(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "ReservationManager.SyncMirror")
	defer span.End()

	lines, err := rm.store.GetAllStockLines(ctx)
	if err != nil {
		return fmt.Errorf("failed to load stock lines: %w", err)
	}

	now := time.Now()
	for _, line := range lines {
		held, err := rm.store.GetActiveHoldQuantity(ctx, line.ID, now)
		if err != nil {
			rm.logger.Error("Failed to sum active holds",
				zap.Int64("stock_line_id", line.ID),
				zap.Error(err))
			continue
		}
		if err := rm.redis.InitStockLine(ctx, line.ID, line.Quantity, held); err != nil {
			rm.logger.Error("Failed to seed stock line mirror",
				zap.Int64("stock_line_id", line.ID),
				zap.Error(err))
		}
	}

	rm.logger.Info("Stock mirror synced", zap.Int("lines", len(lines)))
	return nil
}
