package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/gosimple/slug"
	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
)

const productColumns = `id, name, slug, description, price, stock_quantity, low_stock_threshold, status, created_at, updated_at, version`

// LockMode selects how a product row lock waits for concurrent holders.
type LockMode int

const (
	LockWait LockMode = iota
	LockNoWait
)

type NewProduct struct {
	Name              string
	Description       string
	Price             decimal.Decimal
	StockQuantity     int
	LowStockThreshold int
	Status            models.ProductStatus
}

// ProductPatch holds the fields an update sets; nil fields are unchanged.
type ProductPatch struct {
	Name              *string
	Description       *string
	Price             *decimal.Decimal
	StockQuantity     *int
	LowStockThreshold *int
	Status            *models.ProductStatus
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (*models.Product, error) {
	product := &models.Product{}
	err := row.Scan(
		&product.ID,
		&product.Name,
		&product.Slug,
		&product.Description,
		&product.Price,
		&product.StockQuantity,
		&product.LowStockThreshold,
		&product.Status,
		&product.CreatedAt,
		&product.UpdatedAt,
		&product.Version,
	)
	if err != nil {
		return nil, err
	}
	return product, nil
}

func CreateProduct(ctx context.Context, db sqlx.ExtContext, p NewProduct) (*models.Product, error) {
	query := `
		INSERT INTO products (name, slug, description, price, stock_quantity, low_stock_threshold, status, created_at, updated_at, version)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW(), 1)
		RETURNING ` + productColumns

	product, err := scanProduct(db.QueryRowxContext(ctx, query,
		p.Name, slug.Make(p.Name), p.Description, p.Price, p.StockQuantity, p.LowStockThreshold, p.Status))
	if err != nil {
		if database.IsUniqueViolation(err, "products_name_key") || database.IsUniqueViolation(err, "products_slug_key") {
			return nil, database.ErrDuplicateProduct
		}
		return nil, fmt.Errorf("create product: %w", err)
	}

	return product, nil
}

func GetProduct(ctx context.Context, db sqlx.ExtContext, id int64) (*models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1`

	product, err := scanProduct(db.QueryRowxContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("get product: %w", err)
	}

	return product, nil
}

// LockProduct reads the product row under FOR UPDATE. With LockNoWait a
// row held by another transaction fails with ErrLockTimeout instead of
// blocking.
func LockProduct(ctx context.Context, tx *sqlx.Tx, productID int64, mode LockMode) (*models.Product, error) {
	query := `
		SELECT ` + productColumns + `
		FROM products
		WHERE id = $1
		FOR UPDATE`
	if mode == LockNoWait {
		query += ` NOWAIT`
	}

	product, err := scanProduct(tx.QueryRowContext(ctx, query, productID))
	if err != nil {
		if database.IsLockNotAvailable(err) {
			return nil, database.ErrLockTimeout
		}
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("lock product: %w", err)
	}

	return product, nil
}

// ReserveStock takes quantity units from the product inside tx and returns
// the product before and after the decrement. The row stays locked until tx
// ends, so concurrent reservations of one product serialize.
func ReserveStock(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int, mode LockMode) (before, after *models.Product, err error) {
	before, err = LockProduct(ctx, tx, productID, mode)
	if err != nil {
		return nil, nil, err
	}

	if before.Status != models.ProductStatusActive {
		return nil, nil, fmt.Errorf("%w: product %d is %s", database.ErrProductNotPurchasable, before.ID, before.Status)
	}

	if before.StockQuantity < quantity {
		return nil, nil, fmt.Errorf("%w: available %d, requested %d", database.ErrInsufficientStock, before.StockQuantity, quantity)
	}

	if err := DecrementStock(ctx, tx, productID, quantity); err != nil {
		return nil, nil, err
	}

	next := *before
	next.StockQuantity -= quantity
	next.Version++

	return before, &next, nil
}

// DecrementStock is the conditional write behind ReserveStock: the stock
// check is repeated in the UPDATE itself so it can never go negative.
func DecrementStock(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) error {
	result, err := tx.ExecContext(ctx,
		`UPDATE products
		 SET stock_quantity = stock_quantity - $1,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $2
		   AND stock_quantity >= $1`,
		quantity, productID)
	if err != nil {
		return fmt.Errorf("decrement stock: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrInsufficientStock
	}

	return nil
}

// ReleaseStock returns quantity units to the product. There is no upper
// bound.
func ReleaseStock(ctx context.Context, tx *sqlx.Tx, productID int64, quantity int) (*models.Product, error) {
	query := `
		UPDATE products
		SET stock_quantity = stock_quantity + $1,
		    version = version + 1,
		    updated_at = NOW()
		WHERE id = $2
		RETURNING ` + productColumns

	product, err := scanProduct(tx.QueryRowContext(ctx, query, quantity, productID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrProductNotFound
		}
		return nil, fmt.Errorf("release stock: %w", err)
	}

	return product, nil
}

// UpdateProduct writes every mutable field of p, provided the stored row
// still has p.Version, and returns the stored result.
func UpdateProduct(ctx context.Context, tx *sqlx.Tx, p *models.Product) (*models.Product, error) {
	query := `
		UPDATE products
		SET name = $1, slug = $2, description = $3, price = $4, stock_quantity = $5,
		    low_stock_threshold = $6, status = $7, version = version + 1, updated_at = NOW()
		WHERE id = $8 AND version = $9
		RETURNING ` + productColumns

	after, err := scanProduct(tx.QueryRowContext(ctx, query,
		p.Name, slug.Make(p.Name), p.Description, p.Price, p.StockQuantity,
		p.LowStockThreshold, p.Status, p.ID, p.Version))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, database.ErrOptimisticLockFailed
		}
		if database.IsUniqueViolation(err, "products_name_key") || database.IsUniqueViolation(err, "products_slug_key") {
			return nil, database.ErrDuplicateProduct
		}
		return nil, fmt.Errorf("update product: %w", err)
	}

	return after, nil
}

func (p ProductPatch) Apply(product *models.Product) {
	if p.Name != nil {
		product.Name = *p.Name
	}
	if p.Description != nil {
		product.Description = *p.Description
	}
	if p.Price != nil {
		product.Price = *p.Price
	}
	if p.StockQuantity != nil {
		product.StockQuantity = *p.StockQuantity
	}
	if p.LowStockThreshold != nil {
		product.LowStockThreshold = *p.LowStockThreshold
	}
	if p.Status != nil {
		product.Status = *p.Status
	}
}

func DeleteProduct(ctx context.Context, db sqlx.ExtContext, productID int64) error {
	result, err := db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, productID)
	if err != nil {
		if database.IsForeignKeyViolation(err, "order_items_product_id_fkey") {
			return database.ErrProductInUse
		}
		return fmt.Errorf("delete product: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return database.ErrProductNotFound
	}

	return nil
}

type ProductInfo struct {
	Count    int64               `json:"count"`
	MaxPrice decimal.NullDecimal `json:"max_price"`
}

func GetProductInfo(ctx context.Context, db sqlx.ExtContext) (*ProductInfo, error) {
	info := &ProductInfo{}
	err := db.QueryRowxContext(ctx, `SELECT COUNT(*), MAX(price) FROM products`).Scan(&info.Count, &info.MaxPrice)
	if err != nil {
		return nil, fmt.Errorf("product info: %w", err)
	}
	return info, nil
}

func ListProducts(ctx context.Context, db sqlx.ExtContext, page, pageSize int) (*OffsetPage, error) {
	page, pageSize = NormalizePage(page, pageSize)

	var total int64
	err := db.QueryRowxContext(ctx, `SELECT COUNT(*) FROM products`).Scan(&total)
	if err != nil {
		return nil, fmt.Errorf("count products: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `
		SELECT ` + productColumns + `
		FROM products
		ORDER BY created_at DESC, id DESC
		LIMIT $1 OFFSET $2`

	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	products := []models.Product{}
	for rows.Next() {
		product, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		products = append(products, *product)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return newOffsetPage(products, total, page, pageSize), nil
}
