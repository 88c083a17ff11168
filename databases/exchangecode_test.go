package databases_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/desktop-auth-api/broker"
	"github.com/linesmerrill/desktop-auth-api/config"
	"github.com/linesmerrill/desktop-auth-api/databases"
	"github.com/linesmerrill/desktop-auth-api/databases/mocks"
	"github.com/linesmerrill/desktop-auth-api/models"
)

const testCode = "4f1c2e0b9a8d7c6b5a4f3e2d1c0b9a8f7e6d5c4b3a2f1e0d9c8b7a6f5e4d3c2b"

func newCodeDB(coll *mocks.CollectionHelper) databases.ExchangeCodeDatabase {
	dbHelper := &mocks.DatabaseHelper{}
	dbHelper.On("Collection", "exchangeCodes").Return(coll)
	return databases.NewExchangeCodeDatabase(dbHelper)
}

func decodeInto(entry models.ExchangeCode) func(mock.Arguments) {
	return func(args mock.Arguments) {
		arg := args.Get(0).(*models.ExchangeCode)
		*arg = entry
	}
}

func TestNewExchangeCodeDatabase(t *testing.T) {
	_ = os.Setenv("DB_URI", "mongodb://127.0.0.1:27017")
	_ = os.Setenv("DB_NAME", "test")
	conf := config.New()

	dbClient, err := databases.NewClient(conf)
	assert.NoError(t, err)

	db := databases.NewDatabase(conf, dbClient)

	codeDB := databases.NewExchangeCodeDatabase(db)

	assert.NotEmpty(t, codeDB)
}

func TestHashCode(t *testing.T) {
	h := databases.HashCode(testCode)

	assert.Len(t, h, 64)
	assert.NotEqual(t, testCode, h)
	assert.Equal(t, h, databases.HashCode(testCode))
	assert.NotEqual(t, h, databases.HashCode(testCode+"0"))
}

func TestExchangeCodeDatabase_InsertStoresHashOnly(t *testing.T) {
	coll := &mocks.CollectionHelper{}
	coll.On("InsertOne", mock.Anything, mock.MatchedBy(func(doc models.ExchangeCode) bool {
		return doc.CodeHash == databases.HashCode(testCode) && doc.UserID == "u1"
	})).Return(&mocks.InsertOneResultHelper{}, nil)

	err := newCodeDB(coll).Insert(context.Background(), models.ExchangeCode{Code: testCode, UserID: "u1"})

	assert.NoError(t, err)
	coll.AssertExpectations(t)
}

func TestExchangeCodeDatabase_InsertError(t *testing.T) {
	coll := &mocks.CollectionHelper{}
	coll.On("InsertOne", mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))

	err := newCodeDB(coll).Insert(context.Background(), models.ExchangeCode{Code: testCode})

	assert.EqualError(t, err, "mocked-error")
}

func TestExchangeCodeDatabase_Get(t *testing.T) {
	srMissing := &mocks.SingleResultHelper{}
	srMissing.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	srFound := &mocks.SingleResultHelper{}
	srFound.On("Decode", mock.Anything).Return(nil).Run(decodeInto(models.ExchangeCode{UserID: "u1", Email: "a@example.com"}))

	coll := &mocks.CollectionHelper{}
	coll.On("FindOne", context.Background(), bson.M{"codeHash": databases.HashCode("missing")}).Return(srMissing)
	coll.On("FindOne", context.Background(), bson.M{"codeHash": databases.HashCode(testCode)}).Return(srFound)
	codeDB := newCodeDB(coll)

	entry, err := codeDB.Get(context.Background(), "missing")
	assert.Nil(t, entry)
	assert.ErrorIs(t, err, broker.ErrNotFound)

	entry, err = codeDB.Get(context.Background(), testCode)
	require.NoError(t, err)
	assert.Equal(t, testCode, entry.Code)
	assert.Equal(t, "a@example.com", entry.Email)
}

func TestExchangeCodeDatabase_MarkConsumed(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	sr := &mocks.SingleResultHelper{}
	sr.On("Decode", mock.Anything).Return(nil).Run(decodeInto(models.ExchangeCode{
		UserID: "u1", Email: "a@example.com", Role: "admin", Consumed: true, ExpiresAt: now.Add(time.Minute),
	}))

	coll := &mocks.CollectionHelper{}
	coll.On("FindOneAndUpdate", mock.Anything, bson.M{
		"codeHash":  databases.HashCode(testCode),
		"consumed":  false,
		"expiresAt": bson.M{"$gte": now},
	}, mock.Anything, mock.Anything).Return(sr)

	entry, err := newCodeDB(coll).MarkConsumed(context.Background(), testCode, now)

	require.NoError(t, err)
	assert.Equal(t, testCode, entry.Code)
	assert.Equal(t, "admin", entry.Role)
	assert.True(t, entry.Consumed)
}

func TestExchangeCodeDatabase_MarkConsumedAlreadyConsumed(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	srMiss := &mocks.SingleResultHelper{}
	srMiss.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	srCurrent := &mocks.SingleResultHelper{}
	srCurrent.On("Decode", mock.Anything).Return(nil).Run(decodeInto(models.ExchangeCode{
		Email: "a@example.com", Consumed: true, ExpiresAt: now.Add(time.Minute),
	}))

	coll := &mocks.CollectionHelper{}
	coll.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(srMiss)
	coll.On("FindOne", mock.Anything, mock.Anything).Return(srCurrent)

	entry, err := newCodeDB(coll).MarkConsumed(context.Background(), testCode, now)

	assert.ErrorIs(t, err, broker.ErrAlreadyConsumed)
	assert.Equal(t, "a@example.com", entry.Email)
	coll.AssertNotCalled(t, "DeleteOne", mock.Anything, mock.Anything)
}

func TestExchangeCodeDatabase_MarkConsumedExpiredIsDeleted(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	srMiss := &mocks.SingleResultHelper{}
	srMiss.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	srCurrent := &mocks.SingleResultHelper{}
	srCurrent.On("Decode", mock.Anything).Return(nil).Run(decodeInto(models.ExchangeCode{
		ExpiresAt: now.Add(-time.Second),
	}))

	coll := &mocks.CollectionHelper{}
	coll.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(srMiss)
	coll.On("FindOne", mock.Anything, mock.Anything).Return(srCurrent)
	coll.On("DeleteOne", mock.Anything, bson.M{"codeHash": databases.HashCode(testCode)}).Return(int64(1), nil)

	_, err := newCodeDB(coll).MarkConsumed(context.Background(), testCode, now)

	assert.ErrorIs(t, err, broker.ErrExpired)
	coll.AssertExpectations(t)
}

func TestExchangeCodeDatabase_MarkConsumedVanished(t *testing.T) {
	now := time.Now()

	srMiss := &mocks.SingleResultHelper{}
	srMiss.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)

	coll := &mocks.CollectionHelper{}
	coll.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(srMiss)
	coll.On("FindOne", mock.Anything, mock.Anything).Return(srMiss)

	entry, err := newCodeDB(coll).MarkConsumed(context.Background(), testCode, now)

	assert.Nil(t, entry)
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestExchangeCodeDatabase_MarkConsumedDriverError(t *testing.T) {
	srErr := &mocks.SingleResultHelper{}
	srErr.On("Decode", mock.Anything).Return(errors.New("mocked-error"))

	coll := &mocks.CollectionHelper{}
	coll.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(srErr)

	_, err := newCodeDB(coll).MarkConsumed(context.Background(), testCode, time.Now())

	assert.EqualError(t, err, "mocked-error")
	assert.False(t, broker.IsDenial(err))
}

func TestExchangeCodeDatabase_DeleteExpired(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	coll := &mocks.CollectionHelper{}
	coll.On("DeleteMany", mock.Anything, bson.M{"expiresAt": bson.M{"$lt": now}}).Return(int64(3), nil)

	n, err := newCodeDB(coll).DeleteExpired(context.Background(), now)

	assert.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestExchangeCodeDatabase_Count(t *testing.T) {
	coll := &mocks.CollectionHelper{}
	coll.On("CountDocuments", mock.Anything, bson.M{}).Return(int64(7), nil)

	n, err := newCodeDB(coll).Count(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

func TestExchangeCodeDatabase_EnsureIndexes(t *testing.T) {
	coll := &mocks.CollectionHelper{}
	coll.On("CreateIndexes", mock.Anything, mock.MatchedBy(func(m []mongo.IndexModel) bool {
		return len(m) == 2
	})).Return([]string{"codeHash_1", "expiresAt_1"}, nil)

	err := newCodeDB(coll).EnsureIndexes(context.Background())

	assert.NoError(t, err)
	coll.AssertExpectations(t)
}

func TestExchangeCodeDatabase_BrokerRoundTrip(t *testing.T) {
	// A broker running on the mongo store denies replays with the stored state.
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	srMiss := &mocks.SingleResultHelper{}
	srMiss.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	srCurrent := &mocks.SingleResultHelper{}
	srCurrent.On("Decode", mock.Anything).Return(nil).Run(decodeInto(models.ExchangeCode{
		Consumed: true, ExpiresAt: now.Add(time.Minute),
	}))

	coll := &mocks.CollectionHelper{}
	coll.On("FindOneAndUpdate", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(srMiss)
	coll.On("FindOne", mock.Anything, mock.Anything).Return(srCurrent)

	b := broker.New(newCodeDB(coll), broker.WithClock(func() time.Time { return now }))
	defer b.Close()

	_, err := b.Consume(context.Background(), testCode)
	assert.ErrorIs(t, err, broker.ErrAlreadyConsumed)
}

func TestExchangeCodeDatabase_Recent(t *testing.T) {
	newest := models.ExchangeCode{CodeHash: databases.HashCode("b"), Email: "b@example.com"}
	older := models.ExchangeCode{CodeHash: databases.HashCode("a"), Email: "a@example.com"}

	cursor := &mocks.CursorHelper{}
	cursor.On("All", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(1).(*[]models.ExchangeCode)
		*arg = []models.ExchangeCode{newest, older}
	})
	coll := &mocks.CollectionHelper{}
	coll.On("Find", mock.Anything, bson.M{}, mock.MatchedBy(func(opts *options.FindOptions) bool {
		return opts.Limit != nil && *opts.Limit == 2 &&
			assert.ObjectsAreEqual(bson.D{{Key: "createdAt", Value: -1}}, opts.Sort)
	})).Return(cursor, nil)

	entries, err := newCodeDB(coll).Recent(context.Background(), 2)

	require.NoError(t, err)
	assert.Equal(t, []models.ExchangeCode{newest, older}, entries)
	coll.AssertExpectations(t)
}

func TestExchangeCodeDatabase_RecentError(t *testing.T) {
	coll := &mocks.CollectionHelper{}
	coll.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))

	entries, err := newCodeDB(coll).Recent(context.Background(), 10)

	assert.EqualError(t, err, "mocked-error")
	assert.Nil(t, entries)
}
