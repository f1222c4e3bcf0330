package models

import (
	"database/sql"
	"time"
)

// Scope identifies the acting tenant for an operation. It is resolved
// once at the transport boundary and passed explicitly to every service
// call; nothing in the core reads ambient tenant state.
type Scope struct {
	BusinessID   int64
	StorefrontID int64
	ActorID      int64
}

// Product is a catalog entry. The core reads it only to validate that a
// sale item references a real product; catalog CRUD lives elsewhere.
type Product struct {
	ID         int64     `db:"id" json:"id"`
	BusinessID int64     `db:"business_id" json:"business_id"`
	SKU        string    `db:"sku" json:"sku"`
	Name       string    `db:"name" json:"name"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// StockLine is a specific receipt of a product at a specific cost and
// price, held by one storefront. Quantity is the on-hand pool that
// reservations hold against and completion decrements.
type StockLine struct {
	ID             int64         `db:"id" json:"id"`
	BusinessID     int64         `db:"business_id" json:"business_id"`
	StorefrontID   int64         `db:"storefront_id" json:"storefront_id"`
	ProductID      int64         `db:"product_id" json:"product_id"`
	Quantity       int           `db:"quantity" json:"quantity"`
	UnitCost       int64         `db:"unit_cost" json:"unit_cost"`
	RetailPrice    int64         `db:"retail_price" json:"retail_price"`
	WholesalePrice sql.NullInt64 `db:"wholesale_price" json:"wholesale_price"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Customer carries the credit account for credit sales. OutstandingBalance
// is mutated only through the credit guard and the payment ledger.
type Customer struct {
	ID                 int64     `db:"id" json:"id"`
	BusinessID         int64     `db:"business_id" json:"business_id"`
	Name               string    `db:"name" json:"name"`
	CreditLimit        int64     `db:"credit_limit" json:"credit_limit"`
	OutstandingBalance int64     `db:"outstanding_balance" json:"outstanding_balance"`
	CreditTermsDays    int       `db:"credit_terms_days" json:"credit_terms_days"`
	CreditBlocked      bool      `db:"credit_blocked" json:"credit_blocked"`
	CreatedAt          time.Time `db:"created_at" json:"created_at"`
}

// CreditDenial returns the reason a prospective charge of amount would
// be denied, or nil when it is allowed. A blocked account denies outright
// regardless of headroom.
func (c *Customer) CreditDenial(amount int64) *CreditLimitExceededError {
	if c.CreditBlocked {
		return &CreditLimitExceededError{
			CustomerID:  c.ID,
			CreditLimit: c.CreditLimit,
			Outstanding: c.OutstandingBalance,
			Requested:   amount,
			Blocked:     true,
		}
	}
	if c.OutstandingBalance+amount > c.CreditLimit {
		return &CreditLimitExceededError{
			CustomerID:  c.ID,
			CreditLimit: c.CreditLimit,
			Outstanding: c.OutstandingBalance,
			Requested:   amount,
		}
	}
	return nil
}

// Sale is the aggregate root of the transaction core.
type Sale struct {
	ID             int64          `db:"id" json:"id"`
	BusinessID     int64          `db:"business_id" json:"business_id"`
	StorefrontID   int64          `db:"storefront_id" json:"storefront_id"`
	CustomerID     sql.NullInt64  `db:"customer_id" json:"customer_id"`
	CashierID      int64          `db:"cashier_id" json:"cashier_id"`
	SessionID      string         `db:"session_id" json:"session_id"`
	Type           string         `db:"type" json:"type"`
	Status         string         `db:"status" json:"status"`
	PaymentType    string         `db:"payment_type" json:"payment_type"`
	Subtotal       int64          `db:"subtotal" json:"subtotal"`
	DiscountAmount int64          `db:"discount_amount" json:"discount_amount"`
	TaxAmount      int64          `db:"tax_amount" json:"tax_amount"`
	TotalAmount    int64          `db:"total_amount" json:"total_amount"`
	AmountPaid     int64          `db:"amount_paid" json:"amount_paid"`
	AmountDue      int64          `db:"amount_due" json:"amount_due"`
	AmountRefunded int64          `db:"amount_refunded" json:"amount_refunded"`
	ReceiptNumber  sql.NullString `db:"receipt_number" json:"receipt_number"`
	Notes          sql.NullString `db:"notes" json:"notes"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
	CompletedAt    sql.NullTime   `db:"completed_at" json:"completed_at"`
}

// SaleItem is one cart line. Immutable once the sale leaves DRAFT except
// for refund bookkeeping (RefundedQuantity).
type SaleItem struct {
	ID               int64     `db:"id" json:"id"`
	SaleID           int64     `db:"sale_id" json:"sale_id"`
	ProductID        int64     `db:"product_id" json:"product_id"`
	StockLineID      int64     `db:"stock_line_id" json:"stock_line_id"`
	ReservationID    int64     `db:"reservation_id" json:"reservation_id"`
	Quantity         int       `db:"quantity" json:"quantity"`
	UnitPrice        int64     `db:"unit_price" json:"unit_price"`
	UnitCost         int64     `db:"unit_cost" json:"unit_cost"`
	DiscountPct      float64   `db:"discount_pct" json:"discount_pct"`
	TaxRate          float64   `db:"tax_rate" json:"tax_rate"`
	Subtotal         int64     `db:"subtotal" json:"subtotal"`
	TaxAmount        int64     `db:"tax_amount" json:"tax_amount"`
	TotalPrice       int64     `db:"total_price" json:"total_price"`
	RefundedQuantity int       `db:"refunded_quantity" json:"refunded_quantity"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
}

// RefundableQuantity is the portion of the line not yet returned.
func (si *SaleItem) RefundableQuantity() int {
	return si.Quantity - si.RefundedQuantity
}

// StockReservation is a time-boxed hold of quantity against a stock line,
// keyed by the cart session that created it.
type StockReservation struct {
	ID           int64     `db:"id" json:"id"`
	BusinessID   int64     `db:"business_id" json:"business_id"`
	StorefrontID int64     `db:"storefront_id" json:"storefront_id"`
	StockLineID  int64     `db:"stock_line_id" json:"stock_line_id"`
	SessionID    string    `db:"session_id" json:"session_id"`
	Quantity     int       `db:"quantity" json:"quantity"`
	Status       string    `db:"status" json:"status"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	ExpiresAt    time.Time `db:"expires_at" json:"expires_at"`
}

// Expired reports whether the hold has passed its TTL regardless of
// whether a sweep has observed it yet.
func (r *StockReservation) Expired(now time.Time) bool {
	return r.Status == ReservationStatusActive && now.After(r.ExpiresAt)
}

// Payment is an append-only record of money received against a sale.
type Payment struct {
	ID         int64     `db:"id" json:"id"`
	SaleID     int64     `db:"sale_id" json:"sale_id"`
	BusinessID int64     `db:"business_id" json:"business_id"`
	Amount     int64     `db:"amount" json:"amount"`
	Method     string    `db:"method" json:"method"`
	Status     string    `db:"status" json:"status"`
	Reference  string    `db:"reference" json:"reference"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// Refund is a financial reversal against a completed sale.
type Refund struct {
	ID         int64     `db:"id" json:"id"`
	SaleID     int64     `db:"sale_id" json:"sale_id"`
	BusinessID int64     `db:"business_id" json:"business_id"`
	RefundType string    `db:"refund_type" json:"refund_type"`
	Amount     int64     `db:"amount" json:"amount"`
	Reason     string    `db:"reason" json:"reason"`
	Status     string    `db:"status" json:"status"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// RefundItem ties a refund line back to the sale item it reverses.
type RefundItem struct {
	ID         int64 `db:"id" json:"id"`
	RefundID   int64 `db:"refund_id" json:"refund_id"`
	SaleItemID int64 `db:"sale_item_id" json:"sale_item_id"`
	Quantity   int   `db:"quantity" json:"quantity"`
	Amount     int64 `db:"amount" json:"amount"`
}

// CreditTransaction is an immutable ledger entry. Balance snapshots let
// the customer balance be reconstructed for audit.
type CreditTransaction struct {
	ID            int64         `db:"id" json:"id"`
	BusinessID    int64         `db:"business_id" json:"business_id"`
	CustomerID    int64         `db:"customer_id" json:"customer_id"`
	Type          string        `db:"type" json:"type"`
	Amount        int64         `db:"amount" json:"amount"`
	BalanceBefore int64         `db:"balance_before" json:"balance_before"`
	BalanceAfter  int64         `db:"balance_after" json:"balance_after"`
	SaleID        sql.NullInt64 `db:"sale_id" json:"sale_id"`
	PaymentID     sql.NullInt64 `db:"payment_id" json:"payment_id"`
	CreatedAt     time.Time     `db:"created_at" json:"created_at"`
}

// Sale types
const (
	SaleTypeRetail    = "RETAIL"
	SaleTypeWholesale = "WHOLESALE"
)

// Sale statuses
const (
	SaleStatusDraft     = "DRAFT"
	SaleStatusPending   = "PENDING"
	SaleStatusPartial   = "PARTIAL"
	SaleStatusCompleted = "COMPLETED"
	SaleStatusRefunded  = "REFUNDED"
	SaleStatusCancelled = "CANCELLED"
)

// Payment types
const (
	PaymentTypeCash   = "CASH"
	PaymentTypeCard   = "CARD"
	PaymentTypeMobile = "MOBILE"
	PaymentTypeCredit = "CREDIT"
)

// Payment statuses
const (
	PaymentStatusSuccessful = "SUCCESSFUL"
	PaymentStatusFailed     = "FAILED"
)

// Reservation statuses
const (
	ReservationStatusActive   = "ACTIVE"
	ReservationStatusConsumed = "CONSUMED"
	ReservationStatusReleased = "RELEASED"
	ReservationStatusExpired  = "EXPIRED"
)

// Refund types and statuses
const (
	RefundTypeFull    = "FULL"
	RefundTypePartial = "PARTIAL"

	RefundStatusProcessed = "PROCESSED"
)

// Credit transaction types
const (
	CreditTxCharge  = "CHARGE"
	CreditTxPayment = "PAYMENT"
)
