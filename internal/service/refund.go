package service

import (
	"context"
	"fmt"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// RefundProcessor reverses money on completed sales. Refunds are
// financial only: sold quantity never returns to the sellable pool, it
// is tracked per item as refund bookkeeping.
type RefundProcessor struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewRefundProcessor creates a new refund processor
func NewRefundProcessor(store *store.Store, eventPublisher *broker.EventPublisher) *RefundProcessor {
	return &RefundProcessor{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// RefundLineRequest asks to refund quantity units of one sale item
type RefundLineRequest struct {
	SaleItemID int64 `json:"sale_item_id" binding:"required"`
	Quantity   int   `json:"quantity" binding:"required,min=1"`
}

// ProcessRefundRequest processes a refund against a sale
type ProcessRefundRequest struct {
	Items      []RefundLineRequest `json:"items" binding:"required,min=1"`
	Reason     string              `json:"reason" binding:"required"`
	RefundType string              `json:"refund_type" binding:"required,oneof=FULL PARTIAL"`
}

// ProcessRefund computes each line's amount proportionally to the
// discount and tax already applied, then appends the refund atomically.
// The sale flips to REFUNDED only when the refunded amount covers the
// full total; a partial refund leaves the status alone.
func (rp *RefundProcessor) ProcessRefund(ctx context.Context, scope models.Scope, saleID int64, req *ProcessRefundRequest) (*models.Refund, *models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "RefundProcessor.ProcessRefund")
	defer span.End()

	items, err := rp.store.GetSaleItemsBySaleID(ctx, saleID)
	if err != nil {
		return nil, nil, err
	}
	itemByID := make(map[int64]*models.SaleItem, len(items))
	for i := range items {
		itemByID[items[i].ID] = &items[i]
	}

	lines := make([]store.RefundLineInput, 0, len(req.Items))
	for _, line := range req.Items {
		item, ok := itemByID[line.SaleItemID]
		if !ok {
			return nil, nil, fmt.Errorf("sale item %d does not belong to sale %d", line.SaleItemID, saleID)
		}
		// Amounts derive from immutable item fields; the refundable
		// quantity itself is re-checked under lock in the transaction.
		lines = append(lines, store.RefundLineInput{
			SaleItemID: item.ID,
			Quantity:   line.Quantity,
			Amount:     RefundLineAmount(item, line.Quantity),
		})
	}

	refund, sale, err := rp.store.ProcessRefundTx(ctx, scope, saleID, lines, req.Reason, req.RefundType)
	if err != nil {
		return nil, nil, err
	}

	util.RefundsProcessedTotal.WithLabelValues(refund.RefundType).Inc()
	rp.logger.Info("Refund processed",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("refund_id", refund.ID),
		zap.Int64("amount", refund.Amount),
		zap.String("sale_status", sale.Status))

	event := &models.SaleRefundedEvent{
		BaseEvent: models.BaseEvent{
			EventID:    uuid.New().String(),
			EventType:  models.EventTypeSaleRefunded,
			BusinessID: scope.BusinessID,
			ActorID:    scope.ActorID,
			Timestamp:  time.Now(),
		},
		SaleID:     sale.ID,
		RefundID:   refund.ID,
		RefundType: refund.RefundType,
		Amount:     refund.Amount,
		Reason:     refund.Reason,
	}
	if err := rp.eventPublisher.PublishSaleRefunded(ctx, event); err != nil {
		rp.logger.Error("Failed to publish sale refunded event",
			zap.Int64("sale_id", sale.ID), zap.Error(err))
	}

	return refund, sale, nil
}

// GetRefunds retrieves the refunds processed against a sale
func (rp *RefundProcessor) GetRefunds(ctx context.Context, scope models.Scope, saleID int64) ([]models.Refund, error) {
	if _, err := rp.store.GetSaleByID(ctx, scope.BusinessID, saleID); err != nil {
		return nil, err
	}
	return rp.store.GetRefundsBySaleID(ctx, saleID)
}
