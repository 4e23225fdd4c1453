package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/stock"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStockStore implements the stock store adapter on the relational products table
type GormStockStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStockStore creates a new GormStockStore
func NewGormStockStore(db *gorm.DB, logger *zap.Logger) *GormStockStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStockStore{db: db, logger: logger.Named("stock_store")}
}

// List returns every product ordered by name
func (s *GormStockStore) List(ctx context.Context) ([]stock.Product, error) {
	var products []stock.Product
	if err := s.db.WithContext(ctx).Order("name ASC, id ASC").Find(&products).Error; err != nil {
		return nil, translateError(err)
	}
	return products, nil
}

// LowStock returns products at or below their minimum, derived from a fresh List
func (s *GormStockStore) LowStock(ctx context.Context) ([]stock.Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return stock.LowStock(products), nil
}

// Get returns one product
func (s *GormStockStore) Get(ctx context.Context, id string) (*stock.Product, error) {
	var p stock.Product
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

// Save inserts or replaces a product
func (s *GormStockStore) Save(ctx context.Context, p *stock.Product) error {
	if p.ID == "" || p.Stock < 0 || p.MinStock < 0 {
		return shared.Wrapf(shared.ErrInvalidInput, "product %q: id required and stock levels must be non-negative", p.ID)
	}
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return translateError(err)
	}
	return nil
}

// Delete removes a product; missing ids are ignored
func (s *GormStockStore) Delete(ctx context.Context, id string) error {
	err := s.db.WithContext(ctx).Where("id = ?", id).Delete(&stock.Product{}).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return translateError(err)
	}
	return nil
}

// AdjustStock adds delta to a product's stock. The result never goes below zero;
// a clamped adjustment is logged and applied rather than rejected.
func (s *GormStockStore) AdjustStock(ctx context.Context, id string, delta int) (*stock.Adjustment, error) {
	var adj stock.Adjustment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p stock.Product
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&p).Error; err != nil {
			return err
		}

		adj = stock.NewAdjustment(p.ID, p.Stock, delta)
		return tx.Model(&stock.Product{}).
			Where("id = ?", id).
			Updates(map[string]any{
				"stock":      gorm.Expr("CASE WHEN stock + ? < 0 THEN 0 ELSE stock + ? END", delta, delta),
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return nil, translateError(err)
	}

	if adj.Clamped {
		s.logger.Warn("Stock adjustment clamped at zero",
			zap.String("product_id", id),
			zap.Int("previous", adj.Previous),
			zap.Int("delta", delta),
		)
	}
	return &adj, nil
}
