package models

import (
	"fmt"
	"time"
)

// Domain errors carry enough structured detail for the caller to correct
// and retry without re-reading full state. All of them are recoverable:
// the aggregate is left unmodified when any of them is returned.

// InsufficientStockError is returned when a reservation or a commit-time
// recheck asks for more quantity than the stock line has available.
type InsufficientStockError struct {
	StockLineID int64
	Requested   int
	Available   int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock on line %d: requested=%d available=%d",
		e.StockLineID, e.Requested, e.Available)
}

// ReservationExpiredError is returned when a hold passed its TTL before
// the sale committed.
type ReservationExpiredError struct {
	ReservationID int64
	ExpiredAt     time.Time
}

func (e *ReservationExpiredError) Error() string {
	return fmt.Sprintf("reservation %d expired at %s", e.ReservationID, e.ExpiredAt.Format(time.RFC3339))
}

// CreditLimitExceededError is returned when the credit guard denies a
// purchase. Blocked distinguishes an account freeze from a limit breach.
type CreditLimitExceededError struct {
	CustomerID  int64
	CreditLimit int64
	Outstanding int64
	Requested   int64
	Blocked     bool
}

func (e *CreditLimitExceededError) Error() string {
	if e.Blocked {
		return fmt.Sprintf("customer %d is credit blocked", e.CustomerID)
	}
	return fmt.Sprintf("credit limit exceeded for customer %d: limit=%d outstanding=%d requested=%d",
		e.CustomerID, e.CreditLimit, e.Outstanding, e.Requested)
}

// InvalidStateTransitionError is returned when an operation is attempted
// in the wrong sale status, e.g. completing a non-DRAFT sale.
type InvalidStateTransitionError struct {
	SaleID    int64
	Status    string
	Operation string
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("cannot %s sale %d in status %s", e.Operation, e.SaleID, e.Status)
}

// OverpaymentError is returned when a payment exceeds the amount due, or
// when nothing is due at all.
type OverpaymentError struct {
	SaleID    int64
	AmountDue int64
	Amount    int64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %d rejected for sale %d: amount due is %d", e.Amount, e.SaleID, e.AmountDue)
}

// UnderpaymentError is returned when a non-credit sale is completed
// without full tender. Only credit sales may carry a balance forward.
type UnderpaymentError struct {
	SaleID      int64
	TotalAmount int64
	AmountPaid  int64
}

func (e *UnderpaymentError) Error() string {
	return fmt.Sprintf("sale %d must be fully tendered: paid %d of %d", e.SaleID, e.AmountPaid, e.TotalAmount)
}

// OverrefundError is returned when a refund line asks for more quantity
// than the sale item has left refundable.
type OverrefundError struct {
	SaleItemID int64
	Refundable int
	Requested  int
}

func (e *OverrefundError) Error() string {
	return fmt.Sprintf("refund of %d rejected for sale item %d: refundable quantity is %d",
		e.Requested, e.SaleItemID, e.Refundable)
}
