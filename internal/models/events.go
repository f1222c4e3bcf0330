package models

import "time"

// Event types
const (
	EventTypeSaleCompleted    = "SALE_COMPLETED"
	EventTypeSaleCancelled    = "SALE_CANCELLED"
	EventTypeSaleRefunded     = "SALE_REFUNDED"
	EventTypePaymentRecorded  = "PAYMENT_RECORDED"
	EventTypeCreditCharged    = "CREDIT_CHARGED"
	EventTypeCreditOverride   = "CREDIT_OVERRIDE"
	EventTypeLowStock         = "LOW_STOCK"
	EventTypeCreditOverdue    = "CREDIT_OVERDUE"
	EventTypeReservationSwept = "RESERVATION_SWEPT"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID    string    `json:"event_id"`
	EventType  string    `json:"event_type"`
	BusinessID int64     `json:"business_id"`
	ActorID    int64     `json:"actor_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// SaleCompletedEvent published after the completion coordinator commits
type SaleCompletedEvent struct {
	BaseEvent
	SaleID        int64  `json:"sale_id"`
	ReceiptNumber string `json:"receipt_number"`
	TotalAmount   int64  `json:"total_amount"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	PaymentType   string `json:"payment_type"`
	Status        string `json:"status"`
}

// SaleCancelledEvent published when a draft cart is abandoned explicitly
type SaleCancelledEvent struct {
	BaseEvent
	SaleID int64  `json:"sale_id"`
	Reason string `json:"reason"`
}

// PaymentRecordedEvent published for every accepted payment
type PaymentRecordedEvent struct {
	BaseEvent
	SaleID     int64  `json:"sale_id"`
	PaymentID  int64  `json:"payment_id"`
	Amount     int64  `json:"amount"`
	Method     string `json:"method"`
	Reference  string `json:"reference"`
	SaleStatus string `json:"sale_status"`
}

// SaleRefundedEvent published for every processed refund
type SaleRefundedEvent struct {
	BaseEvent
	SaleID     int64  `json:"sale_id"`
	RefundID   int64  `json:"refund_id"`
	RefundType string `json:"refund_type"`
	Amount     int64  `json:"amount"`
	Reason     string `json:"reason"`
}

// CreditChargedEvent published when a credit sale books exposure
type CreditChargedEvent struct {
	BaseEvent
	CustomerID    int64 `json:"customer_id"`
	SaleID        int64 `json:"sale_id"`
	Amount        int64 `json:"amount"`
	BalanceBefore int64 `json:"balance_before"`
	BalanceAfter  int64 `json:"balance_after"`
}

// CreditOverrideEvent published when a manager forces a sale past a
// credit guard denial. The override is an audited side effect, never a
// silent bypass.
type CreditOverrideEvent struct {
	BaseEvent
	CustomerID  int64  `json:"customer_id"`
	Amount      int64  `json:"amount"`
	DenyReason  string `json:"deny_reason"`
	Outstanding int64  `json:"outstanding_balance"`
	CreditLimit int64  `json:"credit_limit"`
}

// LowStockEvent published when completion drops a stock line at or below
// the configured threshold
type LowStockEvent struct {
	BaseEvent
	StorefrontID int64 `json:"storefront_id"`
	StockLineID  int64 `json:"stock_line_id"`
	ProductID    int64 `json:"product_id"`
	Remaining    int   `json:"remaining"`
	Threshold    int   `json:"threshold"`
}

// ReservationSweptEvent published by the sweeper for each pass that
// expired at least one hold
type ReservationSweptEvent struct {
	BaseEvent
	ExpiredCount int `json:"expired_count"`
}

// CreditOverdueEvent published when a customer carries an outstanding
// balance past their credit terms
type CreditOverdueEvent struct {
	BaseEvent
	CustomerID  int64 `json:"customer_id"`
	Outstanding int64 `json:"outstanding_balance"`
	TermsDays   int   `json:"credit_terms_days"`
}
