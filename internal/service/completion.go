package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CompletionCoordinator turns a DRAFT cart into a finalized sale. The
// five commit steps (revalidate holds, consume them, decrement
// inventory, assign receipt, persist final state) run in one database
// transaction; the audit event follows and must not abort the sale.
type CompletionCoordinator struct {
	store          *store.Store
	reservations   *ReservationManager
	creditGuard    *CreditGuard
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger

	saleLocker        *SaleService
	receiptPrefix     string
	lowStockThreshold int
}

// NewCompletionCoordinator creates a new completion coordinator
func NewCompletionCoordinator(
	store *store.Store,
	reservations *ReservationManager,
	creditGuard *CreditGuard,
	eventPublisher *broker.EventPublisher,
	saleLocker *SaleService,
	receiptPrefix string,
	lowStockThreshold int,
) *CompletionCoordinator {
	return &CompletionCoordinator{
		store:             store,
		reservations:      reservations,
		creditGuard:       creditGuard,
		eventPublisher:    eventPublisher,
		logger:            util.GetLogger(),
		saleLocker:        saleLocker,
		receiptPrefix:     receiptPrefix,
		lowStockThreshold: lowStockThreshold,
	}
}

// CompletePayment is one payment tendered at completion
type CompletePayment struct {
	Amount    int64  `json:"amount" binding:"required,min=1"`
	Method    string `json:"method" binding:"required"`
	Reference string `json:"reference"`
}

// CompleteRequest finalizes a draft sale
type CompleteRequest struct {
	PaymentType    string            `json:"payment_type" binding:"required,oneof=CASH CARD MOBILE CREDIT"`
	Payments       []CompletePayment `json:"payments"`
	DiscountAmount int64             `json:"discount_amount" binding:"min=0"`
	TaxAmount      int64             `json:"tax_amount" binding:"min=0"`
	Notes          string            `json:"notes"`
	Force          bool              `json:"force"`
}

// Complete finalizes a DRAFT sale. For credit sales the guard is
// consulted before any mutation; the atomic commit then re-checks both
// the credit headroom and the holds under their row locks, so nothing
// half-updates on failure and the sale stays DRAFT.
func (cc *CompletionCoordinator) Complete(ctx context.Context, scope models.Scope, saleID int64, req *CompleteRequest) (*SaleSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "CompletionCoordinator.Complete")
	defer span.End()

	start := time.Now()
	defer func() {
		util.CommitLatency.Observe(time.Since(start).Seconds())
	}()

	var snapshot *SaleSnapshot
	err := cc.saleLocker.withSaleLock(ctx, saleID, func() error {
		sale, err := cc.store.GetSaleByID(ctx, scope.BusinessID, saleID)
		if err != nil {
			return err
		}
		if sale.Status != models.SaleStatusDraft {
			return &models.InvalidStateTransitionError{
				SaleID: sale.ID, Status: sale.Status, Operation: "complete",
			}
		}

		now := time.Now()

		// Cheap pre-checks before the heavy transaction. Both are
		// re-validated under lock inside FinalizeSaleTx.
		if _, err := cc.reservations.ValidateSession(ctx, scope, sale.SessionID, now); err != nil {
			return err
		}
		if req.PaymentType == models.PaymentTypeCredit {
			if !sale.CustomerID.Valid {
				return fmt.Errorf("credit sale %d has no customer", sale.ID)
			}
			items, err := cc.store.GetSaleItemsBySaleID(ctx, sale.ID)
			if err != nil {
				return err
			}
			CalculateTotals(sale, items)
			exposure := sale.Subtotal - req.DiscountAmount + sale.TaxAmount + req.TaxAmount
			for _, p := range req.Payments {
				exposure -= p.Amount
			}
			if exposure > 0 {
				allowed, reason, err := cc.creditGuard.CanPurchase(ctx, scope,
					sale.CustomerID.Int64, exposure, req.Force)
				if err != nil {
					return err
				}
				if !allowed {
					customer, cerr := cc.store.GetCustomerByID(ctx, scope.BusinessID, sale.CustomerID.Int64)
					if cerr != nil {
						return fmt.Errorf("credit denied: %s", reason)
					}
					denial := customer.CreditDenial(exposure)
					if denial != nil {
						return denial
					}
					return fmt.Errorf("credit denied: %s", reason)
				}
			}
		}

		payments := make([]store.PaymentInput, 0, len(req.Payments))
		for _, p := range req.Payments {
			ref := p.Reference
			if ref == "" {
				ref = fmt.Sprintf("PAY-%s", uuid.New().String()[:8])
			}
			payments = append(payments, store.PaymentInput{
				Amount: p.Amount, Method: p.Method, Reference: ref,
			})
		}

		result, err := cc.store.FinalizeSaleTx(ctx, store.FinalizeParams{
			Scope:          scope,
			SaleID:         sale.ID,
			PaymentType:    req.PaymentType,
			Payments:       payments,
			DiscountAmount: req.DiscountAmount,
			TaxAmount:      req.TaxAmount,
			Notes:          req.Notes,
			Force:          req.Force,
			ReceiptPrefix:  cc.receiptPrefix,
			Now:            now,
		})
		if err != nil {
			cc.countFailure(err)
			return err
		}

		cc.reservations.ReconcileConsumed(ctx, result.Consumed)
		cc.publishCompletion(ctx, scope, result)

		util.SalesCompletedTotal.WithLabelValues(result.Sale.Status).Inc()
		cc.logger.Info("Sale completed",
			zap.Int64("sale_id", result.Sale.ID),
			zap.String("receipt_number", result.Sale.ReceiptNumber.String),
			zap.String("status", result.Sale.Status),
			zap.Int64("total_amount", result.Sale.TotalAmount))

		snapshot = &SaleSnapshot{Sale: result.Sale, Items: result.Items}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return snapshot, nil
}

func (cc *CompletionCoordinator) countFailure(err error) {
	var insufficient *models.InsufficientStockError
	var expired *models.ReservationExpiredError
	var credit *models.CreditLimitExceededError
	var state *models.InvalidStateTransitionError
	var overpay *models.OverpaymentError
	var underpay *models.UnderpaymentError

	switch {
	case errors.As(err, &insufficient):
		util.SalesFailedTotal.WithLabelValues("insufficient_stock").Inc()
	case errors.As(err, &expired):
		util.SalesFailedTotal.WithLabelValues("reservation_expired").Inc()
	case errors.As(err, &credit):
		util.SalesFailedTotal.WithLabelValues("credit_denied").Inc()
	case errors.As(err, &state):
		util.SalesFailedTotal.WithLabelValues("invalid_state").Inc()
	case errors.As(err, &overpay):
		util.SalesFailedTotal.WithLabelValues("overpayment").Inc()
	case errors.As(err, &underpay):
		util.SalesFailedTotal.WithLabelValues("underpayment").Inc()
	default:
		util.SalesFailedTotal.WithLabelValues("error").Inc()
	}
}

// publishCompletion emits the audit trail of a committed sale plus any
// low-stock notifications. All fire-and-forget: the sale already stands.
func (cc *CompletionCoordinator) publishCompletion(ctx context.Context, scope models.Scope, result *store.FinalizeResult) {
	sale := result.Sale

	event := &models.SaleCompletedEvent{
		BaseEvent: models.BaseEvent{
			EventID:    uuid.New().String(),
			EventType:  models.EventTypeSaleCompleted,
			BusinessID: scope.BusinessID,
			ActorID:    scope.ActorID,
			Timestamp:  time.Now(),
		},
		SaleID:        sale.ID,
		ReceiptNumber: sale.ReceiptNumber.String,
		TotalAmount:   sale.TotalAmount,
		AmountPaid:    sale.AmountPaid,
		AmountDue:     sale.AmountDue,
		PaymentType:   sale.PaymentType,
		Status:        sale.Status,
	}
	if err := cc.eventPublisher.PublishSaleCompleted(ctx, event); err != nil {
		cc.logger.Error("Failed to publish sale completed event",
			zap.Int64("sale_id", sale.ID), zap.Error(err))
	}

	if result.CreditTx != nil {
		charged := &models.CreditChargedEvent{
			BaseEvent: models.BaseEvent{
				EventID:    uuid.New().String(),
				EventType:  models.EventTypeCreditCharged,
				BusinessID: scope.BusinessID,
				ActorID:    scope.ActorID,
				Timestamp:  time.Now(),
			},
			CustomerID:    result.CreditTx.CustomerID,
			SaleID:        sale.ID,
			Amount:        result.CreditTx.Amount,
			BalanceBefore: result.CreditTx.BalanceBefore,
			BalanceAfter:  result.CreditTx.BalanceAfter,
		}
		if err := cc.eventPublisher.PublishCreditCharged(ctx, charged); err != nil {
			cc.logger.Error("Failed to publish credit charged event", zap.Error(err))
		}
	}

	if result.OverrideApplied && result.OverrideCustomer != nil {
		override := &models.CreditOverrideEvent{
			BaseEvent: models.BaseEvent{
				EventID:    uuid.New().String(),
				EventType:  models.EventTypeCreditOverride,
				BusinessID: scope.BusinessID,
				ActorID:    scope.ActorID,
				Timestamp:  time.Now(),
			},
			CustomerID:  result.OverrideCustomer.ID,
			Amount:      result.CreditTx.Amount,
			DenyReason:  "completed past credit denial",
			Outstanding: result.CreditTx.BalanceBefore,
			CreditLimit: result.OverrideCustomer.CreditLimit,
		}
		if err := cc.eventPublisher.PublishCreditOverride(ctx, override); err != nil {
			cc.logger.Error("Failed to publish credit override event", zap.Error(err))
		}
		util.CreditOverridesTotal.Inc()
	}

	productByLine := make(map[int64]int64, len(result.Items))
	for _, item := range result.Items {
		productByLine[item.StockLineID] = item.ProductID
	}

	for _, res := range result.Consumed {
		remaining, ok := result.RemainingByLine[res.StockLineID]
		if !ok || remaining > cc.lowStockThreshold {
			continue
		}
		low := &models.LowStockEvent{
			BaseEvent: models.BaseEvent{
				EventID:    uuid.New().String(),
				EventType:  models.EventTypeLowStock,
				BusinessID: scope.BusinessID,
				ActorID:    scope.ActorID,
				Timestamp:  time.Now(),
			},
			StorefrontID: res.StorefrontID,
			StockLineID:  res.StockLineID,
			ProductID:    productByLine[res.StockLineID],
			Remaining:    remaining,
			Threshold:    cc.lowStockThreshold,
		}
		if err := cc.eventPublisher.PublishLowStock(ctx, low); err != nil {
			cc.logger.Error("Failed to publish low stock event",
				zap.Int64("stock_line_id", res.StockLineID), zap.Error(err))
		}
	}
}
