package service

import (
	"math"

	"pos-service/internal/models"
)

// ComputeItemAmounts derives a sale item's money fields from its price,
// quantity, line discount and tax rate. Amounts are cents; rounding is
// half-up via math.Round.
func ComputeItemAmounts(unitPrice int64, quantity int, discountPct, taxRate float64) (subtotal, tax, total int64) {
	gross := unitPrice * int64(quantity)
	discount := int64(math.Round(float64(gross) * discountPct / 100))
	subtotal = gross - discount
	tax = int64(math.Round(float64(subtotal) * taxRate / 100))
	total = subtotal + tax
	return subtotal, tax, total
}

// ResolveUnitPrice picks the stock line's price for the sale type.
// Wholesale falls back to retail when the line carries no wholesale price.
func ResolveUnitPrice(saleType string, line *models.StockLine) int64 {
	if saleType == models.SaleTypeWholesale && line.WholesalePrice.Valid {
		return line.WholesalePrice.Int64
	}
	return line.RetailPrice
}

// CalculateTotals recomputes the sale's money fields from its items.
// subtotal is the sum of item subtotals, total = subtotal - discount + tax,
// amount_due = max(total - paid, 0).
func CalculateTotals(sale *models.Sale, items []models.SaleItem) {
	var subtotal, tax int64
	for _, item := range items {
		subtotal += item.Subtotal
		tax += item.TaxAmount
	}
	sale.Subtotal = subtotal
	sale.TaxAmount = tax
	sale.TotalAmount = subtotal - sale.DiscountAmount + sale.TaxAmount
	due := sale.TotalAmount - sale.AmountPaid
	if due < 0 {
		due = 0
	}
	sale.AmountDue = due
}

// RefundLineAmount computes the money returned for refunding quantity
// units of a sale item: the gross for those units, minus a proportional
// share of the line's discount, plus a proportional share of its tax.
// A full-quantity refund returns exactly the line's total price.
func RefundLineAmount(item *models.SaleItem, quantity int) int64 {
	if quantity <= 0 || item.Quantity == 0 {
		return 0
	}
	if quantity >= item.Quantity {
		return item.TotalPrice
	}

	gross := item.UnitPrice * int64(quantity)
	lineGross := item.UnitPrice * int64(item.Quantity)
	lineDiscount := lineGross - item.Subtotal

	share := float64(quantity) / float64(item.Quantity)
	discountShare := int64(math.Round(float64(lineDiscount) * share))
	taxShare := int64(math.Round(float64(item.TaxAmount) * share))

	return gross - discountShare + taxShare
}
