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

// PaymentLedger records payments against PENDING and PARTIAL sales after
// completion. The sum of SUCCESSFUL payments always equals the sale's
// amount_paid; the ledger rejects anything over the amount due.
type PaymentLedger struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewPaymentLedger creates a new payment ledger
func NewPaymentLedger(store *store.Store, eventPublisher *broker.EventPublisher) *PaymentLedger {
	return &PaymentLedger{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// RecordPaymentRequest records a payment against an open balance
type RecordPaymentRequest struct {
	Amount    int64  `json:"amount" binding:"required,min=1"`
	Method    string `json:"method" binding:"required"`
	Reference string `json:"reference"`
}

// RecordPayment appends a payment, moves amount_paid/amount_due and
// reclassifies the sale (COMPLETED when due reaches zero, else
// PARTIAL). Credit sales also pay down the customer balance in the same
// transaction.
func (pl *PaymentLedger) RecordPayment(ctx context.Context, scope models.Scope, saleID int64, req *RecordPaymentRequest) (*models.Payment, *models.Sale, error) {
	ctx, span := util.StartSpan(ctx, "PaymentLedger.RecordPayment")
	defer span.End()

	reference := req.Reference
	if reference == "" {
		reference = fmt.Sprintf("PAY-%s", uuid.New().String()[:8])
	}

	payment, sale, err := pl.store.RecordPaymentTx(ctx, scope, saleID, req.Amount, req.Method, reference)
	if err != nil {
		var overpay *models.OverpaymentError
		var state *models.InvalidStateTransitionError
		switch {
		case errors.As(err, &overpay):
			util.PaymentsRejectedTotal.WithLabelValues("overpayment").Inc()
		case errors.As(err, &state):
			util.PaymentsRejectedTotal.WithLabelValues("invalid_state").Inc()
		default:
			util.PaymentsRejectedTotal.WithLabelValues("error").Inc()
		}
		return nil, nil, err
	}

	util.PaymentsRecordedTotal.WithLabelValues(req.Method).Inc()
	pl.logger.Info("Payment recorded",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("payment_id", payment.ID),
		zap.Int64("amount", payment.Amount),
		zap.String("sale_status", sale.Status))

	event := &models.PaymentRecordedEvent{
		BaseEvent: models.BaseEvent{
			EventID:    uuid.New().String(),
			EventType:  models.EventTypePaymentRecorded,
			BusinessID: scope.BusinessID,
			ActorID:    scope.ActorID,
			Timestamp:  time.Now(),
		},
		SaleID:     sale.ID,
		PaymentID:  payment.ID,
		Amount:     payment.Amount,
		Method:     payment.Method,
		Reference:  payment.Reference,
		SaleStatus: sale.Status,
	}
	if err := pl.eventPublisher.PublishPaymentRecorded(ctx, event); err != nil {
		pl.logger.Error("Failed to publish payment recorded event",
			zap.Int64("sale_id", sale.ID), zap.Error(err))
	}

	return payment, sale, nil
}

// GetPayments retrieves the payments recorded against a sale
func (pl *PaymentLedger) GetPayments(ctx context.Context, scope models.Scope, saleID int64) ([]models.Payment, error) {
	if _, err := pl.store.GetSaleByID(ctx, scope.BusinessID, saleID); err != nil {
		return nil, err
	}
	return pl.store.GetPaymentsBySaleID(ctx, saleID)
}
