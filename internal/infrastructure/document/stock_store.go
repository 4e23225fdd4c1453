package document

import (
	"context"
	"time"

	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/domain/stock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

// MongoStockStore implements the stock store adapter on a Mongo collection
type MongoStockStore struct {
	coll   *mongo.Collection
	logger *zap.Logger
	now    func() time.Time
}

// NewMongoStockStore creates a stock store over coll
func NewMongoStockStore(coll *mongo.Collection, logger *zap.Logger) *MongoStockStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoStockStore{coll: coll, logger: logger.Named("mongo_stock_store"), now: time.Now}
}

// List returns every product ordered by name
func (s *MongoStockStore) List(ctx context.Context) ([]stock.Product, error) {
	cursor, err := s.coll.Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "name", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, translateError(err)
	}
	products := make([]stock.Product, 0)
	if err := cursor.All(ctx, &products); err != nil {
		return nil, translateError(err)
	}
	return products, nil
}

// LowStock returns products at or below their minimum, derived from a fresh List
func (s *MongoStockStore) LowStock(ctx context.Context) ([]stock.Product, error) {
	products, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	return stock.LowStock(products), nil
}

// Get returns one product
func (s *MongoStockStore) Get(ctx context.Context, id string) (*stock.Product, error) {
	var p stock.Product
	if err := s.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&p); err != nil {
		return nil, translateError(err)
	}
	return &p, nil
}

// Save upserts a product
func (s *MongoStockStore) Save(ctx context.Context, p *stock.Product) error {
	if p.ID == "" || p.Stock < 0 || p.MinStock < 0 {
		return shared.Wrapf(shared.ErrInvalidInput, "product %q: id required and stock levels must be non-negative", p.ID)
	}
	now := s.now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": p.ID}, p, options.Replace().SetUpsert(true))
	return translateError(err)
}

// Delete removes a product; missing ids are ignored
func (s *MongoStockStore) Delete(ctx context.Context, id string) error {
	_, err := s.coll.DeleteOne(ctx, bson.M{"_id": id})
	return translateError(err)
}

// AdjustStock applies delta in a single atomic update that floors the result at zero
func (s *MongoStockStore) AdjustStock(ctx context.Context, id string, delta int) (*stock.Adjustment, error) {
	var before stock.Product
	err := s.coll.FindOneAndUpdate(ctx,
		bson.M{"_id": id},
		adjustPipeline(delta, s.now().UTC()),
		options.FindOneAndUpdate().SetReturnDocument(options.Before),
	).Decode(&before)
	if err != nil {
		return nil, translateError(err)
	}

	adj := stock.NewAdjustment(id, before.Stock, delta)
	if adj.Clamped {
		s.logger.Warn("Stock adjustment clamped at zero",
			zap.String("product_id", id),
			zap.Int("previous", adj.Previous),
			zap.Int("delta", delta),
		)
	}
	return &adj, nil
}

// adjustPipeline sets stock = max(0, stock + delta)
func adjustPipeline(delta int, now time.Time) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "stock", Value: bson.D{{Key: "$max", Value: bson.A{
				0,
				bson.D{{Key: "$add", Value: bson.A{"$stock", delta}}},
			}}}},
			{Key: "updated_at", Value: now},
		}}},
	}
}
