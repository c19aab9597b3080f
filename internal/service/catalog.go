package service

import (
	"context"
	"fmt"
	"strconv"

	"github.com/jmoiron/sqlx"
	"github.com/safar/storefront/internal/auth"
	"github.com/safar/storefront/internal/database"
	"github.com/safar/storefront/internal/models"
	"github.com/safar/storefront/internal/notify"
	"github.com/safar/storefront/internal/store"
	"github.com/safar/storefront/internal/validate"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type CatalogService struct {
	db       *sqlx.DB
	notifier Notifier
	logger   *zap.Logger
	opts     Options
}

func NewCatalogService(db *sqlx.DB, notifier Notifier, logger *zap.Logger, opts Options) *CatalogService {
	return &CatalogService{db: db, notifier: notifier, logger: logger.Named("catalog"), opts: opts}
}

type CreateProductInput struct {
	Name              string          `json:"name"`
	Description       string          `json:"description"`
	Price             decimal.Decimal `json:"price"`
	StockQuantity     int             `json:"stock_quantity"`
	LowStockThreshold *int            `json:"low_stock_threshold"`
	Status            string          `json:"status"`
}

func (s *CatalogService) CreateProduct(ctx context.Context, in CreateProductInput) (*models.Product, error) {
	candidate := &models.Product{
		Name:              in.Name,
		Description:       in.Description,
		Price:             in.Price,
		StockQuantity:     in.StockQuantity,
		LowStockThreshold: models.DefaultLowStockThreshold,
		Status:            models.ProductStatusActive,
	}
	if in.LowStockThreshold != nil {
		candidate.LowStockThreshold = *in.LowStockThreshold
	}
	if in.Status != "" {
		candidate.Status = models.ProductStatus(in.Status)
	}
	if err := validate.Product(candidate); err != nil {
		return nil, err
	}

	product, err := store.CreateProduct(ctx, s.db, store.NewProduct{
		Name:              candidate.Name,
		Description:       candidate.Description,
		Price:             candidate.Price,
		StockQuantity:     candidate.StockQuantity,
		LowStockThreshold: candidate.LowStockThreshold,
		Status:            candidate.Status,
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("product created", zap.Int64("product_id", product.ID), zap.String("slug", product.Slug))
	return product, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, error) {
	return store.GetProduct(ctx, s.db, id)
}

func (s *CatalogService) ListProducts(ctx context.Context, page, pageSize int) (*store.OffsetPage, error) {
	page, pageSize = store.NormalizePage(page, pageSize)
	return store.ListProducts(ctx, s.db, page, pageSize)
}

func (s *CatalogService) ProductInfo(ctx context.Context) (*store.ProductInfo, error) {
	return store.GetProductInfo(ctx, s.db)
}

// UpdateProduct applies patch when version matches the stored product and
// writes one audit row per changed field.
func (s *CatalogService) UpdateProduct(ctx context.Context, actor auth.Identity, id int64, version int, patch store.ProductPatch) (*models.Product, error) {
	var product *models.Product
	err := runTx(ctx, s.db, s.opts, s.notifier, func(tx *sqlx.Tx, box *outbox) error {
		before, err := store.LockProduct(ctx, tx, id, store.LockWait)
		if err != nil {
			return err
		}
		if before.Version != version {
			return fmt.Errorf("%w: product %d is at version %d", database.ErrOptimisticLockFailed, id, before.Version)
		}

		next := *before
		patch.Apply(&next)
		if err := validate.Product(&next); err != nil {
			return err
		}

		product, err = store.UpdateProduct(ctx, tx, &next)
		if err != nil {
			return err
		}

		for _, change := range productChanges(before, product) {
			change.ChangedBy = actorRef(actor)
			if _, err := store.AppendProductAudit(ctx, tx, change); err != nil {
				return err
			}
		}

		stockTouched := before.StockQuantity != product.StockQuantity || before.LowStockThreshold != product.LowStockThreshold
		if stockTouched && product.IsLowStock() {
			box.add(notify.KindLowStock, lowStockNotice(product))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("product updated", zap.Int64("product_id", product.ID), zap.Int("version", product.Version))
	return product, nil
}

func productChanges(before, after *models.Product) []models.ProductAudit {
	var changes []models.ProductAudit
	track := func(field, oldValue, newValue string) {
		if oldValue != newValue {
			changes = append(changes, models.ProductAudit{
				ProductID: after.ID,
				FieldName: field,
				OldValue:  oldValue,
				NewValue:  newValue,
			})
		}
	}

	track(models.AuditFieldName, before.Name, after.Name)
	track(models.AuditFieldDescription, before.Description, after.Description)
	track(models.AuditFieldPrice, before.Price.StringFixed(2), after.Price.StringFixed(2))
	track(models.AuditFieldStock, strconv.Itoa(before.StockQuantity), strconv.Itoa(after.StockQuantity))
	track(models.AuditFieldLowStockThreshold, strconv.Itoa(before.LowStockThreshold), strconv.Itoa(after.LowStockThreshold))
	track(models.AuditFieldStatus, string(before.Status), string(after.Status))
	return changes
}

// DeleteProduct removes a product no order item refers to.
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := store.DeleteProduct(ctx, s.db, id); err != nil {
		return err
	}
	s.logger.Info("product deleted", zap.Int64("product_id", id))
	return nil
}

func (s *CatalogService) ProductAudit(ctx context.Context, id int64) ([]models.ProductAudit, error) {
	return store.ListProductAudit(ctx, s.db, id)
}
