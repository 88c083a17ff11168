package models

import "time"

// SchedulerLock is a lease on a named background job
type SchedulerLock struct {
	Name       string    `bson:"_id"`
	Owner      string    `bson:"owner"`
	AcquiredAt time.Time `bson:"acquiredAt"`
	ExpiresAt  time.Time `bson:"expiresAt"`
}
