package store

import (
	"context"
	"database/sql"
	"fmt"

	"pos-service/internal/models"
)

// CreateSale creates a new draft sale
func (s *Store) CreateSale(ctx context.Context, sale *models.Sale) error {
	query := `
		INSERT INTO sales
			(business_id, storefront_id, customer_id, cashier_id, session_id, type, status, payment_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, sale, query,
		sale.BusinessID, sale.StorefrontID, sale.CustomerID, sale.CashierID,
		sale.SessionID, sale.Type, sale.Status, sale.PaymentType)
}

// GetSaleByID retrieves a sale scoped to a business
func (s *Store) GetSaleByID(ctx context.Context, businessID, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale,
		"SELECT * FROM sales WHERE id = $1 AND business_id = $2", id, businessID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// GetSalesByStorefront retrieves recent sales for a storefront
func (s *Store) GetSalesByStorefront(ctx context.Context, businessID, storefrontID int64) ([]models.Sale, error) {
	var sales []models.Sale
	err := s.db.SelectContext(ctx, &sales,
		"SELECT * FROM sales WHERE business_id = $1 AND storefront_id = $2 ORDER BY created_at DESC",
		businessID, storefrontID)
	return sales, err
}

// CreateSaleItem creates a new sale item
func (s *Store) CreateSaleItem(ctx context.Context, item *models.SaleItem) error {
	query := `
		INSERT INTO sale_items
			(sale_id, product_id, stock_line_id, reservation_id, quantity, unit_price,
			 unit_cost, discount_pct, tax_rate, subtotal, tax_amount, total_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, item, query,
		item.SaleID, item.ProductID, item.StockLineID, item.ReservationID, item.Quantity,
		item.UnitPrice, item.UnitCost, item.DiscountPct, item.TaxRate,
		item.Subtotal, item.TaxAmount, item.TotalPrice)
}

// GetSaleItemsBySaleID retrieves all items for a sale
func (s *Store) GetSaleItemsBySaleID(ctx context.Context, saleID int64) ([]models.SaleItem, error) {
	var items []models.SaleItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM sale_items WHERE sale_id = $1 ORDER BY id", saleID)
	return items, err
}

// GetSaleItemByID retrieves a single sale item
func (s *Store) GetSaleItemByID(ctx context.Context, saleID, itemID int64) (*models.SaleItem, error) {
	var item models.SaleItem
	err := s.db.GetContext(ctx, &item,
		"SELECT * FROM sale_items WHERE id = $1 AND sale_id = $2", itemID, saleID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale item not found: %d", itemID)
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// DeleteSaleItem removes an item from a draft sale
func (s *Store) DeleteSaleItem(ctx context.Context, saleID, itemID int64) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM sale_items WHERE id = $1 AND sale_id = $2", itemID, saleID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("sale item not found: %d", itemID)
	}
	return nil
}

// UpdateSaleTotals persists recalculated totals on a draft sale
func (s *Store) UpdateSaleTotals(ctx context.Context, sale *models.Sale) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sales SET subtotal = $1, tax_amount = $2, total_amount = $3,
		 amount_due = $4, updated_at = NOW() WHERE id = $5`,
		sale.Subtotal, sale.TaxAmount, sale.TotalAmount, sale.AmountDue, sale.ID)
	return err
}

// UpdateSaleStatus updates sale status
func (s *Store) UpdateSaleStatus(ctx context.Context, saleID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE sales SET status = $1, updated_at = NOW() WHERE id = $2",
		status, saleID)
	return err
}

// GetPaymentsBySaleID retrieves all payments recorded against a sale
func (s *Store) GetPaymentsBySaleID(ctx context.Context, saleID int64) ([]models.Payment, error) {
	var payments []models.Payment
	err := s.db.SelectContext(ctx, &payments,
		"SELECT * FROM payments WHERE sale_id = $1 ORDER BY created_at", saleID)
	return payments, err
}

// GetRefundsBySaleID retrieves all refunds processed against a sale
func (s *Store) GetRefundsBySaleID(ctx context.Context, saleID int64) ([]models.Refund, error) {
	var refunds []models.Refund
	err := s.db.SelectContext(ctx, &refunds,
		"SELECT * FROM refunds WHERE sale_id = $1 ORDER BY created_at", saleID)
	return refunds, err
}

// GetRefundItemsByRefundID retrieves the lines of a refund
func (s *Store) GetRefundItemsByRefundID(ctx context.Context, refundID int64) ([]models.RefundItem, error) {
	var items []models.RefundItem
	err := s.db.SelectContext(ctx, &items,
		"SELECT * FROM refund_items WHERE refund_id = $1 ORDER BY id", refundID)
	return items, err
}
