package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"pos-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product scoped to a business
func (s *Store) GetProductByID(ctx context.Context, businessID, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 AND business_id = $2", id, businessID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetStockLineByID retrieves a stock line scoped to a business
func (s *Store) GetStockLineByID(ctx context.Context, businessID, id int64) (*models.StockLine, error) {
	var line models.StockLine
	err := s.db.GetContext(ctx, &line,
		"SELECT * FROM stock_lines WHERE id = $1 AND business_id = $2", id, businessID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("stock line not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// GetAllStockLines retrieves every stock line across all tenants, used
// to reseed the availability mirror from the system of record.
func (s *Store) GetAllStockLines(ctx context.Context) ([]models.StockLine, error) {
	var lines []models.StockLine
	err := s.db.SelectContext(ctx, &lines, "SELECT * FROM stock_lines ORDER BY id")
	return lines, err
}

// GetOnHandQuantity returns the total on-hand quantity of a product held
// by a storefront, across all of its stock lines. Used to reject selling
// stock never transferred to this storefront.
func (s *Store) GetOnHandQuantity(ctx context.Context, storefrontID, productID int64) (int, error) {
	var onHand int
	err := s.db.GetContext(ctx, &onHand,
		"SELECT COALESCE(SUM(quantity), 0) FROM stock_lines WHERE storefront_id = $1 AND product_id = $2",
		storefrontID, productID)
	return onHand, err
}

// GetCustomerByID retrieves a customer scoped to a business
func (s *Store) GetCustomerByID(ctx context.Context, businessID, id int64) (*models.Customer, error) {
	var customer models.Customer
	err := s.db.GetContext(ctx, &customer,
		"SELECT * FROM customers WHERE id = $1 AND business_id = $2", id, businessID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("customer not found: %d", id)
	}
	if err != nil {
		return nil, err
	}
	return &customer, nil
}

// GetCreditTransactionsByCustomer retrieves the credit ledger for a
// customer, newest first
func (s *Store) GetCreditTransactionsByCustomer(ctx context.Context, businessID, customerID int64) ([]models.CreditTransaction, error) {
	var txs []models.CreditTransaction
	err := s.db.SelectContext(ctx, &txs,
		"SELECT * FROM credit_transactions WHERE business_id = $1 AND customer_id = $2 ORDER BY created_at DESC",
		businessID, customerID)
	return txs, err
}
