package databases

// go generate: mockery --name ExchangeCodeDatabase

import (
	"context"
	"encoding/hex"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/blake2b"

	"github.com/linesmerrill/desktop-auth-api/broker"
	"github.com/linesmerrill/desktop-auth-api/models"
)

const exchangeCodeName = "exchangeCodes"

// ExchangeCodeDatabase is the shared, mongo-backed store for pending exchange codes.
// It satisfies broker.Store so several API instances can redeem each other's codes.
type ExchangeCodeDatabase interface {
	broker.Store
	EnsureIndexes(ctx context.Context) error
}

type exchangeCodeDatabase struct {
	db DatabaseHelper
}

// NewExchangeCodeDatabase initializes a new instance of exchange code database with the provided db connection
func NewExchangeCodeDatabase(db DatabaseHelper) ExchangeCodeDatabase {
	return &exchangeCodeDatabase{
		db: db,
	}
}

// HashCode is the key codes are stored under, so a database dump does not hold live codes
func HashCode(code string) string {
	sum := blake2b.Sum256([]byte(code))
	return hex.EncodeToString(sum[:])
}

// EnsureIndexes creates the unique lookup index and the TTL index that lets
// mongo drop expired codes on its own
func (e *exchangeCodeDatabase) EnsureIndexes(ctx context.Context) error {
	_, err := e.db.Collection(exchangeCodeName).CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "codeHash", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "expiresAt", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0),
		},
	})
	return err
}

func (e *exchangeCodeDatabase) Insert(ctx context.Context, code models.ExchangeCode) error {
	code.CodeHash = HashCode(code.Code)
	_, err := e.db.Collection(exchangeCodeName).InsertOne(ctx, code)
	return err
}

func (e *exchangeCodeDatabase) Get(ctx context.Context, code string) (*models.ExchangeCode, error) {
	entry := &models.ExchangeCode{}
	err := e.db.Collection(exchangeCodeName).FindOne(ctx, bson.M{"codeHash": HashCode(code)}).Decode(entry)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, broker.ErrNotFound
		}
		return nil, err
	}
	entry.Code = code
	return entry, nil
}

// MarkConsumed flips the consumed flag with a single conditional update. When
// nothing matches, the current document is read back to tell the caller why.
func (e *exchangeCodeDatabase) MarkConsumed(ctx context.Context, code string, now time.Time) (*models.ExchangeCode, error) {
	filter := bson.M{
		"codeHash":  HashCode(code),
		"consumed":  false,
		"expiresAt": bson.M{"$gte": now},
	}
	update := bson.M{"$set": bson.M{"consumed": true, "consumedAt": now}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	entry := &models.ExchangeCode{}
	err := e.db.Collection(exchangeCodeName).FindOneAndUpdate(ctx, filter, update, opts).Decode(entry)
	if err == nil {
		entry.Code = code
		return entry, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, err
	}

	current, err := e.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	switch {
	case current.Expired(now):
		if err := e.Delete(ctx, code); err != nil {
			return current, err
		}
		return current, broker.ErrExpired
	case current.Consumed:
		return current, broker.ErrAlreadyConsumed
	default:
		return nil, broker.ErrNotFound
	}
}

func (e *exchangeCodeDatabase) Delete(ctx context.Context, code string) error {
	_, err := e.db.Collection(exchangeCodeName).DeleteOne(ctx, bson.M{"codeHash": HashCode(code)})
	return err
}

func (e *exchangeCodeDatabase) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return e.db.Collection(exchangeCodeName).DeleteMany(ctx, bson.M{"expiresAt": bson.M{"$lt": now}})
}

func (e *exchangeCodeDatabase) Count(ctx context.Context) (int64, error) {
	return e.db.Collection(exchangeCodeName).CountDocuments(ctx, bson.M{})
}

func (e *exchangeCodeDatabase) Recent(ctx context.Context, n int) ([]models.ExchangeCode, error) {
	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}}).SetLimit(int64(n))
	cursor, err := e.db.Collection(exchangeCodeName).Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	var entries []models.ExchangeCode
	if err := cursor.All(ctx, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}
