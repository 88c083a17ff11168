package models

import (
	"time"
)

// ExchangeCode holds one pending desktop handoff code and the identity it carries.
// Code is never written to mongo; the shared store keys documents by CodeHash instead.
type ExchangeCode struct {
	Code       string     `json:"-" bson:"-"`
	CodeHash   string     `json:"-" bson:"codeHash"`
	UserID     string     `json:"userId" bson:"userId"`
	Email      string     `json:"email" bson:"email"`
	Role       string     `json:"role" bson:"role"`
	CreatedAt  time.Time  `json:"createdAt" bson:"createdAt"`
	ExpiresAt  time.Time  `json:"expiresAt" bson:"expiresAt"`
	Consumed   bool       `json:"consumed" bson:"consumed"`
	ConsumedAt *time.Time `json:"consumedAt,omitempty" bson:"consumedAt,omitempty"`
}

// Expired reports whether the code is past its expiry at now.
func (e ExchangeCode) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
