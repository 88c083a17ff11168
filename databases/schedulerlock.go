package databases

// go generate: mockery --name SchedulerLockDatabase

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/desktop-auth-api/models"
)

const schedulerLockName = "schedulerLocks"

// SchedulerLockDatabase hands out short leases so a background job runs on one instance at a time
type SchedulerLockDatabase interface {
	TryAcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, owner string) error
}

type schedulerLockDatabase struct {
	db  DatabaseHelper
	now func() time.Time
}

// NewSchedulerLockDatabase initializes a new instance of scheduler lock database with the provided db connection
func NewSchedulerLockDatabase(db DatabaseHelper) SchedulerLockDatabase {
	return &schedulerLockDatabase{
		db:  db,
		now: time.Now,
	}
}

// TryAcquireLock takes the named lease when it is free, expired, or already held by owner.
// A lease held by someone else surfaces as a duplicate key on the upsert.
func (s *schedulerLockDatabase) TryAcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	now := s.now()
	filter := bson.M{
		"_id": name,
		"$or": bson.A{
			bson.M{"expiresAt": bson.M{"$lt": now}},
			bson.M{"owner": owner},
		},
	}
	update := bson.M{"$set": bson.M{"owner": owner, "expiresAt": now.Add(ttl), "acquiredAt": now}}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	lock := &models.SchedulerLock{}
	err := s.db.Collection(schedulerLockName).FindOneAndUpdate(ctx, filter, update, opts).Decode(lock)
	switch {
	case err == nil:
		return lock.Owner == owner, nil
	case mongo.IsDuplicateKeyError(err), errors.Is(err, mongo.ErrNoDocuments):
		return false, nil
	default:
		return false, err
	}
}

// ReleaseLock drops the lease if owner still holds it
func (s *schedulerLockDatabase) ReleaseLock(ctx context.Context, name, owner string) error {
	_, err := s.db.Collection(schedulerLockName).DeleteOne(ctx, bson.M{"_id": name, "owner": owner})
	return err
}
