package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCreditDenial(t *testing.T) {
	customer := &Customer{ID: 7, CreditLimit: 10000, OutstandingBalance: 8000}

	denial := customer.CreditDenial(3000)
	assert.NotNil(t, denial, "80 + 30 over a limit of 100 must be denied")
	assert.False(t, denial.Blocked)
	assert.Equal(t, int64(10000), denial.CreditLimit)
	assert.Equal(t, int64(8000), denial.Outstanding)
	assert.Equal(t, int64(3000), denial.Requested)

	assert.Nil(t, customer.CreditDenial(2000), "exactly reaching the limit is allowed")
}

func TestCreditDenialBlocked(t *testing.T) {
	customer := &Customer{ID: 7, CreditLimit: 10000, OutstandingBalance: 0, CreditBlocked: true}

	denial := customer.CreditDenial(1)
	assert.NotNil(t, denial, "a blocked account denies regardless of headroom")
	assert.True(t, denial.Blocked)
}

func TestRefundableQuantity(t *testing.T) {
	item := &SaleItem{Quantity: 5, RefundedQuantity: 0}
	assert.Equal(t, 5, item.RefundableQuantity())

	item.RefundedQuantity = 3
	assert.Equal(t, 2, item.RefundableQuantity())

	item.RefundedQuantity = 5
	assert.Equal(t, 0, item.RefundableQuantity())
}

func TestReservationExpired(t *testing.T) {
	now := time.Now()
	res := &StockReservation{Status: ReservationStatusActive, ExpiresAt: now.Add(30 * time.Minute)}

	assert.False(t, res.Expired(now))
	assert.True(t, res.Expired(now.Add(31*time.Minute)))

	res.Status = ReservationStatusConsumed
	assert.False(t, res.Expired(now.Add(31*time.Minute)), "only active holds expire")
}
