package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// chargeCreditLocked books credit exposure inside an existing
// transaction. The customer row is locked FOR UPDATE so the limit check
// and the charge are one critical section. With force the denial is
// recorded and overridden instead of aborting.
func chargeCreditLocked(ctx context.Context, tx *sqlx.Tx, businessID, customerID, saleID, amount int64, force bool) (*models.CreditTransaction, *models.Customer, bool, error) {
	var customer models.Customer
	err := tx.GetContext(ctx, &customer,
		"SELECT * FROM customers WHERE id = $1 AND business_id = $2 FOR UPDATE",
		customerID, businessID)
	if err == sql.ErrNoRows {
		return nil, nil, false, fmt.Errorf("customer not found: %d", customerID)
	}
	if err != nil {
		return nil, nil, false, fmt.Errorf("failed to lock customer: %w", err)
	}

	overridden := false
	if denial := customer.CreditDenial(amount); denial != nil {
		if !force {
			return nil, nil, false, denial
		}
		overridden = true
	}

	creditTx, err := insertCreditTx(ctx, tx, &customer, models.CreditTxCharge, amount,
		customer.OutstandingBalance+amount,
		sql.NullInt64{Int64: saleID, Valid: saleID != 0}, sql.NullInt64{})
	if err != nil {
		return nil, nil, false, err
	}
	return creditTx, &customer, overridden, nil
}

// recordCreditPaymentLocked pays down the customer balance inside an
// existing transaction, floored at zero.
func recordCreditPaymentLocked(ctx context.Context, tx *sqlx.Tx, businessID, customerID, paymentID, amount int64) error {
	var customer models.Customer
	err := tx.GetContext(ctx, &customer,
		"SELECT * FROM customers WHERE id = $1 AND business_id = $2 FOR UPDATE",
		customerID, businessID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("customer not found: %d", customerID)
	}
	if err != nil {
		return fmt.Errorf("failed to lock customer: %w", err)
	}

	after := customer.OutstandingBalance - amount
	if after < 0 {
		after = 0
	}

	_, err = insertCreditTx(ctx, tx, &customer, models.CreditTxPayment, amount, after,
		sql.NullInt64{}, sql.NullInt64{Int64: paymentID, Valid: paymentID != 0})
	return err
}

// insertCreditTx appends the immutable ledger entry and moves the
// customer balance to match it.
func insertCreditTx(ctx context.Context, tx *sqlx.Tx, customer *models.Customer, txType string, amount, balanceAfter int64, saleID, paymentID sql.NullInt64) (*models.CreditTransaction, error) {
	var creditTx models.CreditTransaction
	err := tx.GetContext(ctx, &creditTx,
		`INSERT INTO credit_transactions
			(business_id, customer_id, type, amount, balance_before, balance_after, sale_id, payment_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING *`,
		customer.BusinessID, customer.ID, txType, amount,
		customer.OutstandingBalance, balanceAfter, saleID, paymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert credit transaction: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE customers SET outstanding_balance = $1 WHERE id = $2",
		balanceAfter, customer.ID); err != nil {
		return nil, fmt.Errorf("failed to update customer balance: %w", err)
	}

	customer.OutstandingBalance = balanceAfter
	return &creditTx, nil
}

// ChargeCreditTx books a standalone credit charge (outside sale
// completion, e.g. an adjustment) with the same guard semantics.
func (s *Store) ChargeCreditTx(ctx context.Context, businessID, customerID, saleID, amount int64, force bool) (*models.CreditTransaction, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback()

	creditTx, _, overridden, err := chargeCreditLocked(ctx, tx, businessID, customerID, saleID, amount, force)
	if err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, err
	}
	return creditTx, overridden, nil
}

// GetOverdueCreditCustomers returns customers carrying an outstanding
// balance with at least one CHARGE older than their credit terms.
func (s *Store) GetOverdueCreditCustomers(ctx context.Context, now time.Time) ([]models.Customer, error) {
	var customers []models.Customer
	err := s.db.SelectContext(ctx, &customers,
		`SELECT c.* FROM customers c
		 WHERE c.outstanding_balance > 0
		   AND EXISTS (
			SELECT 1 FROM credit_transactions t
			WHERE t.customer_id = c.id AND t.type = $1
			  AND t.created_at < $2 - (c.credit_terms_days * INTERVAL '1 day'))
		 ORDER BY c.id`,
		models.CreditTxCharge, now)
	return customers, err
}

// RecordCreditPaymentTx pays down a customer balance outside of a sale's
// own payment path.
func (s *Store) RecordCreditPaymentTx(ctx context.Context, businessID, customerID, paymentID, amount int64) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := recordCreditPaymentLocked(ctx, tx, businessID, customerID, paymentID, amount); err != nil {
		return err
	}
	return tx.Commit()
}
