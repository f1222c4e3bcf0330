package service

import (
	"database/sql"
	"testing"

	"pos-service/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestComputeItemAmounts(t *testing.T) {
	// qty=2, unit_price=25.00, no discount, no tax
	subtotal, tax, total := ComputeItemAmounts(2500, 2, 0, 0)
	assert.Equal(t, int64(5000), subtotal)
	assert.Equal(t, int64(0), tax)
	assert.Equal(t, int64(5000), total)
}

func TestComputeItemAmountsDiscountAndTax(t *testing.T) {
	// 3 x 10.00, 10% line discount, 8% tax on the discounted amount
	subtotal, tax, total := ComputeItemAmounts(1000, 3, 10, 8)
	assert.Equal(t, int64(2700), subtotal)
	assert.Equal(t, int64(216), tax)
	assert.Equal(t, int64(2916), total)
}

func TestResolveUnitPrice(t *testing.T) {
	line := &models.StockLine{
		RetailPrice:    1500,
		WholesalePrice: sql.NullInt64{Int64: 1200, Valid: true},
	}

	assert.Equal(t, int64(1500), ResolveUnitPrice(models.SaleTypeRetail, line))
	assert.Equal(t, int64(1200), ResolveUnitPrice(models.SaleTypeWholesale, line))

	line.WholesalePrice.Valid = false
	assert.Equal(t, int64(1500), ResolveUnitPrice(models.SaleTypeWholesale, line),
		"wholesale falls back to retail when unset")
}

func TestCalculateTotals(t *testing.T) {
	sale := &models.Sale{}
	items := []models.SaleItem{
		{Subtotal: 5000, TaxAmount: 0},
		{Subtotal: 2700, TaxAmount: 216},
	}

	CalculateTotals(sale, items)

	assert.Equal(t, int64(7700), sale.Subtotal)
	assert.Equal(t, int64(216), sale.TaxAmount)
	assert.Equal(t, int64(7916), sale.TotalAmount)
	assert.Equal(t, int64(7916), sale.AmountDue)
	assert.Equal(t, sale.TotalAmount, sale.AmountPaid+sale.AmountDue)
}

func TestCalculateTotalsWithPaymentsAndDiscount(t *testing.T) {
	sale := &models.Sale{DiscountAmount: 500, AmountPaid: 3000}
	items := []models.SaleItem{{Subtotal: 5000}}

	CalculateTotals(sale, items)

	assert.Equal(t, int64(4500), sale.TotalAmount)
	assert.Equal(t, int64(1500), sale.AmountDue)
	assert.Equal(t, sale.TotalAmount, sale.AmountPaid+sale.AmountDue)
}

func TestCalculateTotalsFloorsAmountDue(t *testing.T) {
	sale := &models.Sale{AmountPaid: 9000}
	items := []models.SaleItem{{Subtotal: 5000}}

	CalculateTotals(sale, items)

	assert.Equal(t, int64(0), sale.AmountDue)
}

func TestRefundLineAmountFull(t *testing.T) {
	item := &models.SaleItem{
		Quantity:   3,
		UnitPrice:  1000,
		Subtotal:   2700, // after 10% discount
		TaxAmount:  216,
		TotalPrice: 2916,
	}

	assert.Equal(t, item.TotalPrice, RefundLineAmount(item, 3),
		"full-quantity refund returns exactly the line total")
	assert.Equal(t, item.TotalPrice, RefundLineAmount(item, 5),
		"quantities above the line cap at the line total")
}

func TestRefundLineAmountProportional(t *testing.T) {
	item := &models.SaleItem{
		Quantity:   3,
		UnitPrice:  1000,
		Subtotal:   2700,
		TaxAmount:  216,
		TotalPrice: 2916,
	}

	// One of three units: gross 1000, minus 100 discount share, plus 72 tax share.
	assert.Equal(t, int64(972), RefundLineAmount(item, 1))

	// Shares of the three units sum to the full line total.
	perUnit := RefundLineAmount(item, 1)
	two := RefundLineAmount(item, 2)
	assert.Equal(t, item.TotalPrice, perUnit+two)
}

func TestRefundLineAmountZero(t *testing.T) {
	item := &models.SaleItem{Quantity: 2, UnitPrice: 1000, Subtotal: 2000, TotalPrice: 2000}

	assert.Equal(t, int64(0), RefundLineAmount(item, 0))
	assert.Equal(t, int64(0), RefundLineAmount(item, -1))
}
