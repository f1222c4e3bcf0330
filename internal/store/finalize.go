package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// PaymentInput is one payment tendered at completion time.
type PaymentInput struct {
	Amount    int64
	Method    string
	Reference string
}

// FinalizeParams carries everything the atomic commit needs.
type FinalizeParams struct {
	Scope          models.Scope
	SaleID         int64
	PaymentType    string
	Payments       []PaymentInput
	DiscountAmount int64
	TaxAmount      int64
	Notes          string
	Force          bool
	ReceiptPrefix  string
	Now            time.Time
}

// FinalizeResult is the committed outcome, with enough detail for the
// caller to emit audit and low-stock events after the transaction.
type FinalizeResult struct {
	Sale             *models.Sale
	Items            []models.SaleItem
	Consumed         []models.StockReservation
	RemainingByLine  map[int64]int
	CreditTx         *models.CreditTransaction
	OverrideApplied  bool
	OverrideCustomer *models.Customer
}

// FinalizeSaleTx is the completion coordinator's atomic unit. In one
// transaction it revalidates the session's holds, consumes them,
// decrements the storefront inventory pool, assigns a business-scoped
// receipt number and persists the final sale state. Any failure rolls
// the whole thing back and the sale stays DRAFT.
func (s *Store) FinalizeSaleTx(ctx context.Context, p FinalizeParams) (*FinalizeResult, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var sale models.Sale
	err = tx.GetContext(ctx, &sale,
		"SELECT * FROM sales WHERE id = $1 AND business_id = $2 FOR UPDATE",
		p.SaleID, p.Scope.BusinessID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale not found: %d", p.SaleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock sale: %w", err)
	}

	if sale.Status != models.SaleStatusDraft {
		return nil, &models.InvalidStateTransitionError{
			SaleID: sale.ID, Status: sale.Status, Operation: "complete",
		}
	}

	var items []models.SaleItem
	if err := tx.SelectContext(ctx, &items,
		"SELECT * FROM sale_items WHERE sale_id = $1 ORDER BY id", sale.ID); err != nil {
		return nil, fmt.Errorf("failed to load sale items: %w", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("sale %d has no items", sale.ID)
	}

	var subtotal, itemTax int64
	for _, item := range items {
		subtotal += item.Subtotal
		itemTax += item.TaxAmount
	}
	sale.Subtotal = subtotal
	sale.DiscountAmount = p.DiscountAmount
	sale.TaxAmount = itemTax + p.TaxAmount
	sale.TotalAmount = subtotal - sale.DiscountAmount + sale.TaxAmount
	sale.PaymentType = p.PaymentType

	// Apply payments, each bounded by the running amount due.
	due := sale.TotalAmount
	var paid int64
	for _, in := range p.Payments {
		if in.Amount > due {
			return nil, &models.OverpaymentError{SaleID: sale.ID, AmountDue: due, Amount: in.Amount}
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO payments (sale_id, business_id, amount, method, status, reference)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			sale.ID, sale.BusinessID, in.Amount, in.Method, models.PaymentStatusSuccessful, in.Reference)
		if err != nil {
			return nil, fmt.Errorf("failed to insert payment: %w", err)
		}
		paid += in.Amount
		due -= in.Amount
	}
	sale.AmountPaid = paid
	sale.AmountDue = due

	result := &FinalizeResult{RemainingByLine: make(map[int64]int)}

	switch {
	case due == 0:
		sale.Status = models.SaleStatusCompleted
	case p.PaymentType == models.PaymentTypeCredit && paid > 0:
		sale.Status = models.SaleStatusPartial
	case p.PaymentType == models.PaymentTypeCredit:
		sale.Status = models.SaleStatusPending
	default:
		// Cash and card sales must be fully tendered at completion.
		return nil, &models.UnderpaymentError{SaleID: sale.ID, TotalAmount: sale.TotalAmount, AmountPaid: paid}
	}

	// Credit sales book the unpaid portion as exposure. Check-then-charge
	// happens under the customer row lock so two concurrent credit sales
	// cannot both pass against a stale balance.
	if p.PaymentType == models.PaymentTypeCredit && due > 0 {
		if !sale.CustomerID.Valid {
			return nil, fmt.Errorf("credit sale %d has no customer", sale.ID)
		}
		creditTx, customer, overridden, err := chargeCreditLocked(ctx, tx,
			sale.BusinessID, sale.CustomerID.Int64, sale.ID, due, p.Force)
		if err != nil {
			return nil, err
		}
		result.CreditTx = creditTx
		result.OverrideApplied = overridden
		if overridden {
			result.OverrideCustomer = customer
		}
	}

	// Revalidate and consume the session's holds at the instant of
	// commit, not at add-time.
	var reservations []models.StockReservation
	err = tx.SelectContext(ctx, &reservations,
		`SELECT * FROM stock_reservations
		 WHERE business_id = $1 AND session_id = $2 AND status = $3
		 ORDER BY id FOR UPDATE`,
		sale.BusinessID, sale.SessionID, models.ReservationStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to lock reservations: %w", err)
	}
	if len(reservations) == 0 {
		return nil, &models.ReservationExpiredError{ReservationID: 0, ExpiredAt: p.Now}
	}

	for i := range reservations {
		res := &reservations[i]
		if p.Now.After(res.ExpiresAt) {
			return nil, &models.ReservationExpiredError{
				ReservationID: res.ID, ExpiredAt: res.ExpiresAt,
			}
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE stock_reservations SET status = $1 WHERE id = $2",
			models.ReservationStatusConsumed, res.ID); err != nil {
			return nil, fmt.Errorf("failed to consume reservation %d: %w", res.ID, err)
		}

		var remaining int
		err = tx.GetContext(ctx, &remaining,
			`UPDATE stock_lines SET quantity = quantity - $1
			 WHERE id = $2 RETURNING quantity`,
			res.Quantity, res.StockLineID)
		if err != nil {
			return nil, fmt.Errorf("failed to decrement stock line %d: %w", res.StockLineID, err)
		}
		if remaining < 0 {
			return nil, &models.InsufficientStockError{
				StockLineID: res.StockLineID,
				Requested:   res.Quantity,
				Available:   remaining + res.Quantity,
			}
		}
		result.RemainingByLine[res.StockLineID] = remaining
	}

	receipt, err := nextReceiptNumber(ctx, tx, sale.BusinessID, p.ReceiptPrefix)
	if err != nil {
		return nil, err
	}
	sale.ReceiptNumber = sql.NullString{String: receipt, Valid: true}
	sale.Notes = sql.NullString{String: p.Notes, Valid: p.Notes != ""}
	sale.CompletedAt = sql.NullTime{Time: p.Now, Valid: true}

	_, err = tx.ExecContext(ctx,
		`UPDATE sales SET
			status = $1, payment_type = $2, subtotal = $3, discount_amount = $4,
			tax_amount = $5, total_amount = $6, amount_paid = $7, amount_due = $8,
			receipt_number = $9, notes = $10, completed_at = $11, updated_at = NOW()
		 WHERE id = $12`,
		sale.Status, sale.PaymentType, sale.Subtotal, sale.DiscountAmount,
		sale.TaxAmount, sale.TotalAmount, sale.AmountPaid, sale.AmountDue,
		sale.ReceiptNumber, sale.Notes, sale.CompletedAt, sale.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	result.Sale = &sale
	result.Items = items
	result.Consumed = reservations
	return result, nil
}

// nextReceiptNumber bumps the per-business counter and formats a receipt
// number unique within that business.
func nextReceiptNumber(ctx context.Context, tx *sqlx.Tx, businessID int64, prefix string) (string, error) {
	var seq int64
	err := tx.GetContext(ctx, &seq,
		`INSERT INTO receipt_counters (business_id, last_value) VALUES ($1, 1)
		 ON CONFLICT (business_id) DO UPDATE SET last_value = receipt_counters.last_value + 1
		 RETURNING last_value`, businessID)
	if err != nil {
		return "", fmt.Errorf("failed to assign receipt number: %w", err)
	}
	return fmt.Sprintf("%s-%d-%06d", prefix, businessID, seq), nil
}

// RecordPaymentTx appends a payment to a PENDING or PARTIAL sale and
// reclassifies its status. Credit sales also pay down the customer
// balance in the same transaction.
func (s *Store) RecordPaymentTx(ctx context.Context, scope models.Scope, saleID, amount int64, method, reference string) (*models.Payment, *models.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var sale models.Sale
	err = tx.GetContext(ctx, &sale,
		"SELECT * FROM sales WHERE id = $1 AND business_id = $2 FOR UPDATE",
		saleID, scope.BusinessID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("sale not found: %d", saleID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock sale: %w", err)
	}

	if sale.Status != models.SaleStatusPending && sale.Status != models.SaleStatusPartial {
		return nil, nil, &models.InvalidStateTransitionError{
			SaleID: sale.ID, Status: sale.Status, Operation: "record payment",
		}
	}
	if sale.AmountDue == 0 || amount > sale.AmountDue {
		return nil, nil, &models.OverpaymentError{SaleID: sale.ID, AmountDue: sale.AmountDue, Amount: amount}
	}

	var payment models.Payment
	err = tx.GetContext(ctx, &payment,
		`INSERT INTO payments (sale_id, business_id, amount, method, status, reference)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING *`,
		sale.ID, sale.BusinessID, amount, method, models.PaymentStatusSuccessful, reference)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert payment: %w", err)
	}

	sale.AmountPaid += amount
	sale.AmountDue -= amount
	if sale.AmountDue == 0 {
		sale.Status = models.SaleStatusCompleted
	} else {
		sale.Status = models.SaleStatusPartial
	}

	if sale.PaymentType == models.PaymentTypeCredit && sale.CustomerID.Valid {
		if err := recordCreditPaymentLocked(ctx, tx,
			sale.BusinessID, sale.CustomerID.Int64, payment.ID, amount); err != nil {
			return nil, nil, err
		}
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE sales SET status = $1, amount_paid = $2, amount_due = $3, updated_at = NOW()
		 WHERE id = $4`,
		sale.Status, sale.AmountPaid, sale.AmountDue, sale.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &payment, &sale, nil
}

// RefundLineInput is one line of a refund with its precomputed amount.
type RefundLineInput struct {
	SaleItemID int64
	Quantity   int
	Amount     int64
}

// ProcessRefundTx validates refundable quantities under lock, appends the
// refund with its lines, bumps the items' refund bookkeeping and the
// sale's refunded amount. Inventory is not restored: refunds are a
// financial reversal only.
func (s *Store) ProcessRefundTx(ctx context.Context, scope models.Scope, saleID int64, lines []RefundLineInput, reason, refundType string) (*models.Refund, *models.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	var sale models.Sale
	err = tx.GetContext(ctx, &sale,
		"SELECT * FROM sales WHERE id = $1 AND business_id = $2 FOR UPDATE",
		saleID, scope.BusinessID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("sale not found: %d", saleID)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock sale: %w", err)
	}

	switch sale.Status {
	case models.SaleStatusCompleted, models.SaleStatusPartial, models.SaleStatusPending:
	default:
		return nil, nil, &models.InvalidStateTransitionError{
			SaleID: sale.ID, Status: sale.Status, Operation: "refund",
		}
	}

	var total int64
	for _, line := range lines {
		total += line.Amount
	}
	if sale.AmountRefunded+total > sale.AmountPaid {
		return nil, nil, fmt.Errorf("refund of %d exceeds amount paid %d on sale %d",
			total, sale.AmountPaid, sale.ID)
	}

	var refund models.Refund
	err = tx.GetContext(ctx, &refund,
		`INSERT INTO refunds (sale_id, business_id, refund_type, amount, reason, status)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING *`,
		sale.ID, sale.BusinessID, refundType, total, reason, models.RefundStatusProcessed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert refund: %w", err)
	}

	for _, line := range lines {
		var item models.SaleItem
		err = tx.GetContext(ctx, &item,
			"SELECT * FROM sale_items WHERE id = $1 AND sale_id = $2 FOR UPDATE",
			line.SaleItemID, sale.ID)
		if err == sql.ErrNoRows {
			return nil, nil, fmt.Errorf("sale item not found: %d", line.SaleItemID)
		}
		if err != nil {
			return nil, nil, fmt.Errorf("failed to lock sale item: %w", err)
		}

		if line.Quantity > item.RefundableQuantity() {
			return nil, nil, &models.OverrefundError{
				SaleItemID: item.ID,
				Refundable: item.RefundableQuantity(),
				Requested:  line.Quantity,
			}
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE sale_items SET refunded_quantity = refunded_quantity + $1 WHERE id = $2",
			line.Quantity, item.ID); err != nil {
			return nil, nil, fmt.Errorf("failed to update sale item: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refund_items (refund_id, sale_item_id, quantity, amount)
			 VALUES ($1, $2, $3, $4)`,
			refund.ID, item.ID, line.Quantity, line.Amount); err != nil {
			return nil, nil, fmt.Errorf("failed to insert refund item: %w", err)
		}
	}

	sale.AmountRefunded += total
	if sale.AmountRefunded >= sale.TotalAmount {
		sale.Status = models.SaleStatusRefunded
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE sales SET status = $1, amount_refunded = $2, updated_at = NOW() WHERE id = $3",
		sale.Status, sale.AmountRefunded, sale.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to update sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &refund, &sale, nil
}
