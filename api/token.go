package api

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/linesmerrill/desktop-auth-api/broker"
)

// DesktopTokenType is the typ claim carried by tokens minted for the desktop client
const DesktopTokenType = "desktop"

// MintDesktopToken signs the token the desktop client receives after a successful exchange
func MintDesktopToken(secret []byte, id broker.Identity, ttl time.Duration, now time.Time) (string, time.Time, error) {
	expiresAt := now.Add(ttl)
	claims := SessionClaims{
		Email: id.Email,
		Role:  id.Role,
		Type:  DesktopTokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   id.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}
