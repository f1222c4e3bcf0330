package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/redisclient"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SaleService owns the sale aggregate: draft lifecycle, item management
// and totals. Mutations against one sale serialize on a redis lock so
// two concurrent AddItem calls cannot lose a totals recalculation.
type SaleService struct {
	store          *store.Store
	redis          *redisclient.Client
	reservations   *ReservationManager
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
	lockTTL        time.Duration
}

// NewSaleService creates a new sale service
func NewSaleService(
	store *store.Store,
	redis *redisclient.Client,
	reservations *ReservationManager,
	eventPublisher *broker.EventPublisher,
	lockTTL time.Duration,
) *SaleService {
	return &SaleService{
		store:          store,
		redis:          redis,
		reservations:   reservations,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
		lockTTL:        lockTTL,
	}
}

// OpenSaleRequest opens a new draft cart
type OpenSaleRequest struct {
	CustomerID *int64 `json:"customer_id,omitempty"`
	Type       string `json:"type" binding:"required,oneof=RETAIL WHOLESALE"`
}

// AddItemRequest adds a line to a draft cart. UnitPrice overrides the
// stock line's price when set.
type AddItemRequest struct {
	ProductID   int64   `json:"product_id" binding:"required"`
	StockLineID int64   `json:"stock_line_id" binding:"required"`
	Quantity    int     `json:"quantity" binding:"required,min=1"`
	UnitPrice   *int64  `json:"unit_price,omitempty"`
	DiscountPct float64 `json:"discount_pct" binding:"min=0,max=100"`
	TaxRate     float64 `json:"tax_rate" binding:"min=0"`
}

// SaleSnapshot is the updated aggregate returned by every operation
type SaleSnapshot struct {
	Sale  *models.Sale      `json:"sale"`
	Items []models.SaleItem `json:"items"`
}

// withSaleLock runs fn while holding the per-sale mutation lock. The
// lock is contended only by cashier double-clicks and retries, so a
// short bounded wait is enough.
func (s *SaleService) withSaleLock(ctx context.Context, saleID int64, fn func() error) error {
	var acquired bool
	var err error
	for attempt := 0; attempt < 5; attempt++ {
		acquired, err = s.redis.AcquireSaleLock(ctx, saleID, s.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire sale lock: %w", err)
		}
		if acquired {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	if !acquired {
		return fmt.Errorf("sale %d is locked by another operation", saleID)
	}
	defer func() {
		if err := s.redis.ReleaseSaleLock(ctx, saleID); err != nil {
			s.logger.Error("Failed to release sale lock",
				zap.Int64("sale_id", saleID), zap.Error(err))
		}
	}()

	return fn()
}

// OpenSale creates a new DRAFT sale owned by the calling cashier, with a
// fresh cart session for its reservations.
func (s *SaleService) OpenSale(ctx context.Context, scope models.Scope, req *OpenSaleRequest) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.OpenSale")
	defer span.End()

	sale := &models.Sale{
		BusinessID:   scope.BusinessID,
		StorefrontID: scope.StorefrontID,
		CashierID:    scope.ActorID,
		SessionID:    uuid.New().String(),
		Type:         req.Type,
		Status:       models.SaleStatusDraft,
		PaymentType:  models.PaymentTypeCash,
	}
	if req.CustomerID != nil {
		if _, err := s.store.GetCustomerByID(ctx, scope.BusinessID, *req.CustomerID); err != nil {
			return nil, err
		}
		sale.CustomerID = sql.NullInt64{Int64: *req.CustomerID, Valid: true}
	}

	if err := s.store.CreateSale(ctx, sale); err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}

	s.logger.Info("Sale opened",
		zap.Int64("sale_id", sale.ID),
		zap.String("session_id", sale.SessionID),
		zap.Int64("cashier_id", scope.ActorID))

	return sale, nil
}

// AddItem adds a line to a DRAFT sale: validates the storefront holds
// the product, places a hold on the stock line, creates the item and
// recalculates totals. On any failure after the hold, the hold is
// released so nothing stays reserved for a line that was never added.
func (s *SaleService) AddItem(ctx context.Context, scope models.Scope, saleID int64, req *AddItemRequest) (*SaleSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.AddItem")
	defer span.End()

	var snapshot *SaleSnapshot
	err := s.withSaleLock(ctx, saleID, func() error {
		sale, err := s.store.GetSaleByID(ctx, scope.BusinessID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusDraft {
			return &models.InvalidStateTransitionError{
				SaleID: sale.ID, Status: sale.Status, Operation: "add item",
			}
		}

		line, err := s.store.GetStockLineByID(ctx, scope.BusinessID, req.StockLineID)
		if err != nil {
			return err
		}
		if line.ProductID != req.ProductID {
			return fmt.Errorf("stock line %d does not carry product %d", line.ID, req.ProductID)
		}
		if line.StorefrontID != sale.StorefrontID {
			return fmt.Errorf("stock line %d belongs to another storefront", line.ID)
		}

		// Reject selling stock never transferred to this storefront.
		onHand, err := s.store.GetOnHandQuantity(ctx, sale.StorefrontID, req.ProductID)
		if err != nil {
			return fmt.Errorf("failed to check storefront stock: %w", err)
		}
		if onHand < req.Quantity {
			return &models.InsufficientStockError{
				StockLineID: line.ID,
				Requested:   req.Quantity,
				Available:   onHand,
			}
		}

		res, err := s.reservations.Reserve(ctx, scope, line.ID, req.Quantity, sale.SessionID)
		if err != nil {
			return err
		}

		unitPrice := ResolveUnitPrice(sale.Type, line)
		if req.UnitPrice != nil {
			unitPrice = *req.UnitPrice
		}
		subtotal, tax, total := ComputeItemAmounts(unitPrice, req.Quantity, req.DiscountPct, req.TaxRate)

		item := &models.SaleItem{
			SaleID:        sale.ID,
			ProductID:     req.ProductID,
			StockLineID:   line.ID,
			ReservationID: res.ID,
			Quantity:      req.Quantity,
			UnitPrice:     unitPrice,
			UnitCost:      line.UnitCost,
			DiscountPct:   req.DiscountPct,
			TaxRate:       req.TaxRate,
			Subtotal:      subtotal,
			TaxAmount:     tax,
			TotalPrice:    total,
		}

		if err := s.store.CreateSaleItem(ctx, item); err != nil {
			if rerr := s.reservations.Release(ctx, scope, res.ID); rerr != nil {
				s.logger.Error("Failed to compensate reservation",
					zap.Int64("reservation_id", res.ID), zap.Error(rerr))
			}
			return fmt.Errorf("failed to create sale item: %w", err)
		}

		snapshot, err = s.recalculate(ctx, sale)
		return err
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// RemoveItem removes a line from a DRAFT sale, releasing its hold and
// recalculating totals.
func (s *SaleService) RemoveItem(ctx context.Context, scope models.Scope, saleID, itemID int64) (*SaleSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.RemoveItem")
	defer span.End()

	var snapshot *SaleSnapshot
	err := s.withSaleLock(ctx, saleID, func() error {
		sale, err := s.store.GetSaleByID(ctx, scope.BusinessID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusDraft {
			return &models.InvalidStateTransitionError{
				SaleID: sale.ID, Status: sale.Status, Operation: "remove item",
			}
		}

		item, err := s.store.GetSaleItemByID(ctx, sale.ID, itemID)
		if err != nil {
			return err
		}

		if err := s.store.DeleteSaleItem(ctx, sale.ID, item.ID); err != nil {
			return fmt.Errorf("failed to delete sale item: %w", err)
		}

		if err := s.reservations.Release(ctx, scope, item.ReservationID); err != nil {
			s.logger.Error("Failed to release reservation for removed item",
				zap.Int64("reservation_id", item.ReservationID), zap.Error(err))
		}

		snapshot, err = s.recalculate(ctx, sale)
		return err
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

// CancelDraft abandons a DRAFT cart: every hold is released and the sale
// goes to its terminal CANCELLED state.
func (s *SaleService) CancelDraft(ctx context.Context, scope models.Scope, saleID int64, reason string) (*models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CancelDraft")
	defer span.End()

	var sale *models.Sale
	err := s.withSaleLock(ctx, saleID, func() error {
		var err error
		sale, err = s.store.GetSaleByID(ctx, scope.BusinessID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusDraft {
			return &models.InvalidStateTransitionError{
				SaleID: sale.ID, Status: sale.Status, Operation: "cancel",
			}
		}

		if err := s.reservations.ReleaseSession(ctx, scope, sale.SessionID); err != nil {
			return err
		}

		if err := s.store.UpdateSaleStatus(ctx, sale.ID, models.SaleStatusCancelled); err != nil {
			return fmt.Errorf("failed to cancel sale: %w", err)
		}
		sale.Status = models.SaleStatusCancelled
		return nil
	})
	if err != nil {
		return nil, err
	}

	util.SalesCancelledTotal.Inc()

	event := &models.SaleCancelledEvent{
		BaseEvent: models.BaseEvent{
			EventID:    uuid.New().String(),
			EventType:  models.EventTypeSaleCancelled,
			BusinessID: scope.BusinessID,
			ActorID:    scope.ActorID,
			Timestamp:  time.Now(),
		},
		SaleID: sale.ID,
		Reason: reason,
	}
	if err := s.eventPublisher.PublishSaleCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish sale cancelled event", zap.Error(err))
	}

	return sale, nil
}

// GetSale retrieves a sale with its items
func (s *SaleService) GetSale(ctx context.Context, scope models.Scope, saleID int64) (*SaleSnapshot, error) {
	sale, err := s.store.GetSaleByID(ctx, scope.BusinessID, saleID)
	if err != nil {
		return nil, err
	}

	items, err := s.store.GetSaleItemsBySaleID(ctx, sale.ID)
	if err != nil {
		return nil, err
	}

	return &SaleSnapshot{Sale: sale, Items: items}, nil
}

// recalculate recomputes and persists the sale's totals from its items.
// Callers hold the sale lock.
func (s *SaleService) recalculate(ctx context.Context, sale *models.Sale) (*SaleSnapshot, error) {
	items, err := s.store.GetSaleItemsBySaleID(ctx, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load sale items: %w", err)
	}

	CalculateTotals(sale, items)

	if err := s.store.UpdateSaleTotals(ctx, sale); err != nil {
		return nil, fmt.Errorf("failed to update totals: %w", err)
	}

	return &SaleSnapshot{Sale: sale, Items: items}, nil
}
