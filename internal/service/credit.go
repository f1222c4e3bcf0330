package service

import (
	"context"
	"time"

	"pos-service/internal/broker"
	"pos-service/internal/models"
	"pos-service/internal/store"
	"pos-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreditGuard validates and books customer credit exposure. The
// check-then-charge critical section lives in the store layer under the
// customer row lock; this service adds the audit trail around it.
type CreditGuard struct {
	store          *store.Store
	eventPublisher *broker.EventPublisher
	logger         *zap.Logger
}

// NewCreditGuard creates a new credit guard
func NewCreditGuard(store *store.Store, eventPublisher *broker.EventPublisher) *CreditGuard {
	return &CreditGuard{
		store:          store,
		eventPublisher: eventPublisher,
		logger:         util.GetLogger(),
	}
}

// CanPurchase reports whether a customer may take on amount of credit.
// The answer is advisory: completion re-checks under the customer row
// lock. With force a denial is allowed through; the override audit is
// recorded where the charge actually commits.
func (g *CreditGuard) CanPurchase(ctx context.Context, scope models.Scope, customerID, amount int64, force bool) (bool, string, error) {
	ctx, span := util.StartSpan(ctx, "CreditGuard.CanPurchase")
	defer span.End()

	customer, err := g.store.GetCustomerByID(ctx, scope.BusinessID, customerID)
	if err != nil {
		return false, "", err
	}

	denial := customer.CreditDenial(amount)
	if denial == nil {
		return true, "", nil
	}

	if denial.Blocked {
		util.CreditDenialsTotal.WithLabelValues("blocked").Inc()
	} else {
		util.CreditDenialsTotal.WithLabelValues("limit_exceeded").Inc()
	}

	if !force {
		return false, denial.Error(), nil
	}
	return true, denial.Error(), nil
}

// ChargeCredit books a charge against the customer's credit account:
// one immutable CHARGE ledger entry plus the balance move. A denied
// charge with force applied is audited as a manager override.
func (g *CreditGuard) ChargeCredit(ctx context.Context, scope models.Scope, customerID, saleID, amount int64, force bool) (*models.CreditTransaction, error) {
	ctx, span := util.StartSpan(ctx, "CreditGuard.ChargeCredit")
	defer span.End()

	creditTx, overridden, err := g.store.ChargeCreditTx(ctx, scope.BusinessID, customerID, saleID, amount, force)
	if err != nil {
		return nil, err
	}

	if overridden {
		customer, cerr := g.store.GetCustomerByID(ctx, scope.BusinessID, customerID)
		if cerr == nil {
			g.recordOverride(ctx, scope, customer, amount, "charged past denial")
		}
	}

	g.logger.Info("Credit charged",
		zap.Int64("customer_id", customerID),
		zap.Int64("sale_id", saleID),
		zap.Int64("amount", amount),
		zap.Int64("balance_after", creditTx.BalanceAfter))

	return creditTx, nil
}

// RecordCreditPayment pays down the customer's outstanding balance,
// floored at zero, with a PAYMENT ledger entry.
func (g *CreditGuard) RecordCreditPayment(ctx context.Context, scope models.Scope, customerID, paymentID, amount int64) error {
	ctx, span := util.StartSpan(ctx, "CreditGuard.RecordCreditPayment")
	defer span.End()

	if err := g.store.RecordCreditPaymentTx(ctx, scope.BusinessID, customerID, paymentID, amount); err != nil {
		return err
	}

	g.logger.Info("Credit payment recorded",
		zap.Int64("customer_id", customerID),
		zap.Int64("amount", amount))
	return nil
}

// Ledger returns the customer's credit transactions, newest first.
func (g *CreditGuard) Ledger(ctx context.Context, scope models.Scope, customerID int64) ([]models.CreditTransaction, error) {
	return g.store.GetCreditTransactionsByCustomer(ctx, scope.BusinessID, customerID)
}

// recordOverride emits the audit record that makes a forced approval
// legal. Publish failure only logs; the override itself already stands.
func (g *CreditGuard) recordOverride(ctx context.Context, scope models.Scope, customer *models.Customer, amount int64, reason string) {
	util.CreditOverridesTotal.Inc()

	event := &models.CreditOverrideEvent{
		BaseEvent: models.BaseEvent{
			EventID:    uuid.New().String(),
			EventType:  models.EventTypeCreditOverride,
			BusinessID: scope.BusinessID,
			ActorID:    scope.ActorID,
			Timestamp:  time.Now(),
		},
		CustomerID:  customer.ID,
		Amount:      amount,
		DenyReason:  reason,
		Outstanding: customer.OutstandingBalance,
		CreditLimit: customer.CreditLimit,
	}

	if err := g.eventPublisher.PublishCreditOverride(ctx, event); err != nil {
		g.logger.Error("Failed to publish credit override event",
			zap.Int64("customer_id", customer.ID),
			zap.Error(err))
	}

	g.logger.Warn("Credit denial overridden by manager",
		zap.Int64("customer_id", customer.ID),
		zap.Int64("actor_id", scope.ActorID),
		zap.Int64("amount", amount),
		zap.String("deny_reason", reason))
}
