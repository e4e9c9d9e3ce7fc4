package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront-checkout/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const addLineAttempts = 3

type MongoRepository struct {
	collection *mongo.Collection
	ttl        time.Duration
}

// NewMongoRepository stores carts in the "carts" collection. Carts untouched for ttl are expired by mongo.
func NewMongoRepository(db *mongo.Database, ttl time.Duration) *MongoRepository {
	return &MongoRepository{
		collection: db.Collection("carts"),
		ttl:        ttl,
	}
}

func (m *MongoRepository) GetCart(ctx context.Context, owner domain.CartOwner) (*domain.Cart, error) {
	var cart domain.Cart
	err := m.collection.FindOne(ctx, bson.M{"owner_key": owner.Key()}).Decode(&cart)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrCartNotFound
		}
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}
	return &cart, nil
}

func (m *MongoRepository) SaveCart(ctx context.Context, cart *domain.Cart) error {
	now := time.Now()
	lines := cart.Lines
	if lines == nil {
		lines = []domain.CartLine{}
	}

	update := bson.M{
		"$set": bson.M{
			"owner":      cart.Owner,
			"lines":      lines,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{"created_at": now},
	}
	_, err := m.collection.UpdateOne(ctx, bson.M{"owner_key": cart.Owner.Key()}, update, options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	cart.OwnerKey = cart.Owner.Key()
	cart.UpdatedAt = now
	return nil
}

// AddLine increments an existing line in place, or pushes a new one (creating the cart).
// A concurrent insert of the same cart or line loses the upsert race with a duplicate key, and is retried as an increment.
func (m *MongoRepository) AddLine(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error {
	key := owner.Key()
	for attempt := 0; attempt < addLineAttempts; attempt++ {
		now := time.Now()

		result, err := m.collection.UpdateOne(ctx,
			bson.M{"owner_key": key, "lines.variant_id": variantID},
			bson.M{
				"$inc": bson.M{"lines.$.quantity": quantity},
				"$set": bson.M{"updated_at": now},
			})
		if err != nil {
			return fmt.Errorf("failed to increment line: %w", err)
		}
		if result.MatchedCount > 0 {
			return nil
		}

		line := domain.CartLine{VariantID: variantID, Quantity: quantity, Checked: true, AddedAt: now}
		_, err = m.collection.UpdateOne(ctx,
			bson.M{"owner_key": key, "lines.variant_id": bson.M{"$ne": variantID}},
			bson.M{
				"$push":        bson.M{"lines": line},
				"$set":         bson.M{"updated_at": now, "owner": owner},
				"$setOnInsert": bson.M{"created_at": now},
			},
			options.Update().SetUpsert(true))
		if err == nil {
			return nil
		}
		if !mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("failed to add line: %w", err)
		}
	}
	return fmt.Errorf("failed to add line for variant %d: concurrent updates", variantID)
}

func (m *MongoRepository) UpdateLineQuantity(ctx context.Context, owner domain.CartOwner, variantID int64, quantity int) error {
	filter := bson.M{
		"owner_key":        owner.Key(),
		"lines.variant_id": variantID,
	}
	update := bson.M{
		"$set": bson.M{
			"lines.$.quantity": quantity,
			"updated_at":       time.Now(),
		},
	}

	result, err := m.collection.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("failed to update line quantity: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrLineNotFound
	}
	return nil
}

func (m *MongoRepository) RemoveLines(ctx context.Context, owner domain.CartOwner, variantIDs ...int64) error {
	update := bson.M{
		"$pull": bson.M{
			"lines": bson.M{"variant_id": bson.M{"$in": variantIDs}},
		},
		"$set": bson.M{"updated_at": time.Now()},
	}

	result, err := m.collection.UpdateOne(ctx, bson.M{"owner_key": owner.Key()}, update)
	if err != nil {
		return fmt.Errorf("failed to remove lines: %w", err)
	}
	if result.MatchedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) DeleteCart(ctx context.Context, owner domain.CartOwner) error {
	result, err := m.collection.DeleteOne(ctx, bson.M{"owner_key": owner.Key()})
	if err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	if result.DeletedCount == 0 {
		return ErrCartNotFound
	}
	return nil
}

func (m *MongoRepository) CreateIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "owner_key", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	}
	if m.ttl > 0 {
		indexes = append(indexes, mongo.IndexModel{
			Keys:    bson.D{{Key: "updated_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32(m.ttl / time.Second)),
		})
	}

	if _, err := m.collection.Indexes().CreateMany(ctx, indexes); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}
