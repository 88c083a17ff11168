package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/linesmerrill/desktop-auth-api/models"
)

// Store holds pending exchange codes. MarkConsumed must perform the
// expiry check, the consumed check and the flag flip as one indivisible step.
type Store interface {
	Insert(ctx context.Context, code models.ExchangeCode) error
	Get(ctx context.Context, code string) (*models.ExchangeCode, error)
	MarkConsumed(ctx context.Context, code string, now time.Time) (*models.ExchangeCode, error)
	Delete(ctx context.Context, code string) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
	// Recent returns up to n entries, newest first
	Recent(ctx context.Context, n int) ([]models.ExchangeCode, error)
}

// MemoryStore is a process-local Store guarded by a single mutex
type MemoryStore struct {
	mu    sync.Mutex
	codes map[string]*models.ExchangeCode
}

// NewMemoryStore returns an empty MemoryStore
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{codes: make(map[string]*models.ExchangeCode)}
}

// Insert adds a new entry keyed by its code
func (s *MemoryStore) Insert(_ context.Context, code models.ExchangeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := code
	s.codes[code.Code] = &c
	return nil
}

// Get returns a copy of the entry for code
func (s *MemoryStore) Get(_ context.Context, code string) (*models.ExchangeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	c := *e
	return &c, nil
}

// MarkConsumed flips the consumed flag under the store lock. Expired entries
// are removed on the spot.
func (s *MemoryStore) MarkConsumed(_ context.Context, code string, now time.Time) (*models.ExchangeCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.codes[code]
	if !ok {
		return nil, ErrNotFound
	}
	if e.Expired(now) {
		delete(s.codes, code)
		c := *e
		return &c, ErrExpired
	}
	if e.Consumed {
		c := *e
		return &c, ErrAlreadyConsumed
	}
	e.Consumed = true
	consumedAt := now
	e.ConsumedAt = &consumedAt
	c := *e
	return &c, nil
}

// Delete removes the entry for code, if any
func (s *MemoryStore) Delete(_ context.Context, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, code)
	return nil
}

// DeleteExpired removes every entry whose expiry is before now
func (s *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for code, e := range s.codes {
		if e.Expired(now) {
			delete(s.codes, code)
			n++
		}
	}
	return n, nil
}

// Count returns the number of entries currently held
func (s *MemoryStore) Count(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.codes)), nil
}

// Recent returns copies of the n most recently issued entries, newest first
func (s *MemoryStore) Recent(_ context.Context, n int) ([]models.ExchangeCode, error) {
	s.mu.Lock()
	entries := make([]models.ExchangeCode, 0, len(s.codes))
	for _, e := range s.codes {
		entries = append(entries, *e)
	}
	s.mu.Unlock()

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if n >= 0 && len(entries) > n {
		entries = entries[:n]
	}
	return entries, nil
}
