// Package broker issues and redeems the one-time codes that hand a browser
// session over to the desktop client.
package broker

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/linesmerrill/desktop-auth-api/models"
)

const (
	// DefaultTTL is how long an issued code stays redeemable
	DefaultTTL = 5 * time.Minute
	// DefaultConsumedGrace is how long a consumed code lingers so a repeated
	// exchange reports AlreadyConsumed instead of NotFound
	DefaultConsumedGrace = time.Second

	codeBytes = 32
)

// Identity is the claim set carried from the web session to the desktop client
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	Role   string `json:"role"`
}

// Broker owns the pending exchange codes
type Broker struct {
	store   Store
	ttl     time.Duration
	grace   time.Duration
	now     func() time.Time
	entropy io.Reader
	log     *zap.SugaredLogger
	reaper  *reaper
	stats   counters
}

// Option configures a Broker
type Option func(*Broker)

// WithTTL sets the lifetime of issued codes
func WithTTL(ttl time.Duration) Option {
	return func(b *Broker) {
		if ttl > 0 {
			b.ttl = ttl
		}
	}
}

// WithConsumedGrace sets the delay between consumption and removal
func WithConsumedGrace(d time.Duration) Option {
	return func(b *Broker) {
		if d >= 0 {
			b.grace = d
		}
	}
}

// WithClock replaces time.Now for issue and expiry decisions
func WithClock(now func() time.Time) Option {
	return func(b *Broker) {
		b.now = now
	}
}

// WithEntropy replaces crypto/rand as the source of code bytes
func WithEntropy(r io.Reader) Option {
	return func(b *Broker) {
		b.entropy = r
	}
}

// WithLogger sets the logger, zap.S() otherwise
func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Broker) {
		b.log = l
	}
}

// New creates a Broker on top of store and starts its delayed-deletion worker.
// Call Close to stop the worker.
func New(store Store, opts ...Option) *Broker {
	b := &Broker{
		store:   store,
		ttl:     DefaultTTL,
		grace:   DefaultConsumedGrace,
		now:     time.Now,
		entropy: rand.Reader,
		log:     zap.S(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.reaper = newReaper(b.grace, b.removeConsumed)
	return b
}

// TTL returns the lifetime applied to issued codes
func (b *Broker) TTL() time.Duration {
	return b.ttl
}

// Issue creates a new code for id and stores it
func (b *Broker) Issue(ctx context.Context, id Identity) (string, error) {
	code, err := b.newCode()
	if err != nil {
		b.log.Errorw("failed to generate exchange code", "error", err)
		return "", err
	}

	now := b.now()
	entry := models.ExchangeCode{
		Code:      code,
		UserID:    id.UserID,
		Email:     id.Email,
		Role:      id.Role,
		CreatedAt: now,
		ExpiresAt: now.Add(b.ttl),
	}
	if err := b.store.Insert(ctx, entry); err != nil {
		return "", fmt.Errorf("failed to store exchange code: %w", err)
	}
	b.stats.issued.Inc()

	b.log.Infow("issued exchange code",
		"email", id.Email,
		"code", Prefix(code),
		"expiresIn", b.ttl,
	)
	return code, nil
}

// Consume redeems code exactly once. It returns ErrNotFound, ErrExpired or
// ErrAlreadyConsumed when the code cannot be redeemed.
func (b *Broker) Consume(ctx context.Context, code string) (Identity, error) {
	if code == "" {
		b.stats.notFound.Inc()
		return Identity{}, ErrNotFound
	}

	entry, err := b.store.MarkConsumed(ctx, code, b.now())
	switch {
	case err == nil:
	case errors.Is(err, ErrNotFound):
		b.stats.notFound.Inc()
		b.log.Infow("exchange code not found", "code", Prefix(code))
		return Identity{}, err
	case errors.Is(err, ErrExpired):
		b.stats.expired.Inc()
		b.log.Infow("exchange code expired", "code", Prefix(code), "email", entryEmail(entry))
		return Identity{}, err
	case errors.Is(err, ErrAlreadyConsumed):
		b.stats.replayed.Inc()
		b.log.Warnw("exchange code already consumed", "code", Prefix(code), "email", entryEmail(entry))
		return Identity{}, err
	default:
		return Identity{}, fmt.Errorf("failed to consume exchange code: %w", err)
	}

	b.stats.consumed.Inc()
	b.reaper.schedule(code)

	b.log.Infow("exchange code consumed", "code", Prefix(code), "email", entry.Email)
	return Identity{UserID: entry.UserID, Email: entry.Email, Role: entry.Role}, nil
}

// Peek returns the stored entry for code without touching it
func (b *Broker) Peek(ctx context.Context, code string) (*models.ExchangeCode, error) {
	if code == "" {
		return nil, ErrNotFound
	}
	return b.store.Get(ctx, code)
}

// Sweep removes every entry whose expiry has passed, consumed or not
func (b *Broker) Sweep(ctx context.Context) (int64, error) {
	n, err := b.store.DeleteExpired(ctx, b.now())
	if err != nil {
		return n, fmt.Errorf("failed to sweep exchange codes: %w", err)
	}
	b.stats.swept.Add(n)
	if n > 0 {
		b.log.Infow("swept expired exchange codes", "count", n)
	}
	return n, nil
}

// Size returns the number of entries currently held by the store
func (b *Broker) Size(ctx context.Context) (int64, error) {
	return b.store.Count(ctx)
}

// Recent returns up to n entries, newest first, for debugging
func (b *Broker) Recent(ctx context.Context, n int) ([]models.ExchangeCode, error) {
	if n <= 0 {
		return nil, nil
	}
	return b.store.Recent(ctx, n)
}

// Close stops the delayed-deletion worker. Codes still waiting for deletion, and
// codes consumed after Close, are left to Sweep.
func (b *Broker) Close() {
	b.reaper.close()
}

func (b *Broker) removeConsumed(code string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.store.Delete(ctx, code); err != nil {
		b.log.Warnw("failed to remove consumed exchange code", "code", Prefix(code), "error", err)
	}
}

func (b *Broker) newCode() (string, error) {
	buf := make([]byte, codeBytes)
	if _, err := io.ReadFull(b.entropy, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropy, err)
	}
	return hex.EncodeToString(buf), nil
}

// Prefix shortens a code for logs and debug output
func Prefix(code string) string {
	if len(code) <= 8 {
		return code
	}
	return code[:8] + "..."
}

func entryEmail(e *models.ExchangeCode) string {
	if e == nil {
		return ""
	}
	return e.Email
}
