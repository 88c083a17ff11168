package broker_test

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linesmerrill/desktop-auth-api/broker"
	"github.com/linesmerrill/desktop-auth-api/models"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("no entropy")
}

var hexCode = regexp.MustCompile(`^[0-9a-f]{64}$`)

func newBroker(t *testing.T, opts ...broker.Option) (*broker.Broker, *broker.MemoryStore) {
	t.Helper()
	store := broker.NewMemoryStore()
	b := broker.New(store, opts...)
	t.Cleanup(b.Close)
	return b, store
}

func TestBroker_IssueStoresEntry(t *testing.T) {
	clock := newFakeClock()
	b, store := newBroker(t, broker.WithClock(clock.Now))
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1", Email: "a@example.com", Role: "admin"})
	require.NoError(t, err)
	assert.Regexp(t, hexCode, code)

	entry, err := store.Get(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, "u1", entry.UserID)
	assert.Equal(t, "a@example.com", entry.Email)
	assert.Equal(t, "admin", entry.Role)
	assert.Equal(t, clock.Now(), entry.CreatedAt)
	assert.Equal(t, clock.Now().Add(broker.DefaultTTL), entry.ExpiresAt)
	assert.False(t, entry.Consumed)
}

func TestBroker_IssueGeneratesDistinctCodes(t *testing.T) {
	b, _ := newBroker(t)
	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		code, err := b.Issue(context.Background(), broker.Identity{UserID: "u1"})
		require.NoError(t, err)
		assert.False(t, seen[code], "duplicate code %s", code)
		seen[code] = true
	}
}

func TestBroker_IssueFailsWithoutEntropy(t *testing.T) {
	b, store := newBroker(t, broker.WithEntropy(failingReader{}))

	code, err := b.Issue(context.Background(), broker.Identity{UserID: "u1"})
	assert.Empty(t, code)
	assert.ErrorIs(t, err, broker.ErrEntropy)

	n, _ := store.Count(context.Background())
	assert.Zero(t, n)
}

func TestBroker_ConsumeOnceThenAlreadyConsumed(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1", Email: "a@example.com", Role: "admin"})
	require.NoError(t, err)

	id, err := b.Consume(ctx, code)
	require.NoError(t, err)
	assert.Equal(t, broker.Identity{UserID: "u1", Email: "a@example.com", Role: "admin"}, id)

	for i := 0; i < 3; i++ {
		_, err = b.Consume(ctx, code)
		assert.ErrorIs(t, err, broker.ErrAlreadyConsumed)
	}
}

func TestBroker_ConsumeUnknownCode(t *testing.T) {
	b, _ := newBroker(t)

	_, err := b.Consume(context.Background(), "not-a-real-code")
	assert.ErrorIs(t, err, broker.ErrNotFound)

	_, err = b.Consume(context.Background(), "")
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestBroker_ConsumeAfterExpiry(t *testing.T) {
	clock := newFakeClock()
	b, store := newBroker(t, broker.WithClock(clock.Now))
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
	require.NoError(t, err)

	clock.Advance(broker.DefaultTTL + time.Millisecond)

	_, err = b.Consume(ctx, code)
	assert.ErrorIs(t, err, broker.ErrExpired)

	// the expired entry is dropped on discovery
	_, err = store.Get(ctx, code)
	assert.ErrorIs(t, err, broker.ErrNotFound)
	_, err = b.Consume(ctx, code)
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestBroker_ConsumeExactlyAtExpiry(t *testing.T) {
	clock := newFakeClock()
	b, _ := newBroker(t, broker.WithClock(clock.Now), broker.WithTTL(time.Minute))

	code, err := b.Issue(context.Background(), broker.Identity{UserID: "u1"})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = b.Consume(context.Background(), code)
	assert.NoError(t, err)
}

func TestBroker_ConsumedCodeExpiresToo(t *testing.T) {
	clock := newFakeClock()
	b, _ := newBroker(t, broker.WithClock(clock.Now), broker.WithConsumedGrace(time.Hour))
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = b.Consume(ctx, code)
	require.NoError(t, err)

	clock.Advance(broker.DefaultTTL + time.Second)
	_, err = b.Consume(ctx, code)
	assert.ErrorIs(t, err, broker.ErrExpired)
}

func TestBroker_PeekDoesNotMutate(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1", Email: "a@example.com", Role: "user"})
	require.NoError(t, err)

	var first *models.ExchangeCode
	for i := 0; i < 5; i++ {
		info, err := b.Peek(ctx, code)
		require.NoError(t, err)
		assert.False(t, info.Consumed)
		if first == nil {
			first = info
		}
		assert.Equal(t, first.ExpiresAt, info.ExpiresAt)
	}

	_, err = b.Consume(ctx, code)
	require.NoError(t, err)

	info, err := b.Peek(ctx, code)
	require.NoError(t, err)
	assert.True(t, info.Consumed)
	assert.NotNil(t, info.ConsumedAt)
}

func TestBroker_PeekUnknownCode(t *testing.T) {
	b, _ := newBroker(t)

	info, err := b.Peek(context.Background(), "missing")
	assert.Nil(t, info)
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestBroker_PeekReturnsCopy(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
	require.NoError(t, err)

	info, err := b.Peek(ctx, code)
	require.NoError(t, err)
	info.Consumed = true

	_, err = b.Consume(ctx, code)
	assert.NoError(t, err)
}

func TestBroker_ConcurrentConsumeSucceedsOnce(t *testing.T) {
	b, _ := newBroker(t)
	ctx := context.Background()

	for trial := 0; trial < 200; trial++ {
		code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
		require.NoError(t, err)

		const workers = 8
		var wg sync.WaitGroup
		var mu sync.Mutex
		successes := 0
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, err := b.Consume(ctx, code)
				if err == nil {
					mu.Lock()
					successes++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, broker.ErrAlreadyConsumed) || errors.Is(err, broker.ErrNotFound), "unexpected error %v", err)
			}()
		}
		close(start)
		wg.Wait()
		assert.Equal(t, 1, successes, "trial %d", trial)
	}
}

func TestBroker_SweepRacingConsume(t *testing.T) {
	clock := newFakeClock()
	b, _ := newBroker(t, broker.WithClock(clock.Now), broker.WithTTL(time.Second))
	ctx := context.Background()

	codes := make([]string, 100)
	for i := range codes {
		code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
		require.NoError(t, err)
		codes[i] = code
	}
	clock.Advance(2 * time.Second)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for _, code := range codes {
			_, err := b.Consume(ctx, code)
			assert.True(t, errors.Is(err, broker.ErrExpired) || errors.Is(err, broker.ErrNotFound))
		}
	}()
	go func() {
		defer wg.Done()
		_, err := b.Sweep(ctx)
		assert.NoError(t, err)
	}()
	wg.Wait()

	n, err := b.Size(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestBroker_SweepRemovesOnlyExpired(t *testing.T) {
	clock := newFakeClock()
	b, store := newBroker(t, broker.WithClock(clock.Now))
	ctx := context.Background()
	now := clock.Now()

	entries := []models.ExchangeCode{
		{Code: "expired-pending", ExpiresAt: now.Add(-time.Second)},
		{Code: "expired-consumed", ExpiresAt: now.Add(-time.Minute), Consumed: true},
		{Code: "live-pending", ExpiresAt: now.Add(time.Minute)},
		{Code: "live-consumed", ExpiresAt: now.Add(time.Minute), Consumed: true},
		{Code: "boundary", ExpiresAt: now},
	}
	for _, e := range entries {
		require.NoError(t, store.Insert(ctx, e))
	}

	removed, err := b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	for _, code := range []string{"live-pending", "live-consumed", "boundary"} {
		_, err := store.Get(ctx, code)
		assert.NoError(t, err, code)
	}
	for _, code := range []string{"expired-pending", "expired-consumed"} {
		_, err := store.Get(ctx, code)
		assert.ErrorIs(t, err, broker.ErrNotFound, code)
	}
	assert.Equal(t, int64(2), b.Stats().Swept)
}

func TestBroker_ConsumedCodeRemovedAfterGrace(t *testing.T) {
	b, _ := newBroker(t, broker.WithConsumedGrace(20*time.Millisecond))
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
	require.NoError(t, err)
	_, err = b.Consume(ctx, code)
	require.NoError(t, err)

	// inside the grace window a replay is reported as such
	_, err = b.Consume(ctx, code)
	assert.ErrorIs(t, err, broker.ErrAlreadyConsumed)

	assert.Eventually(t, func() bool {
		n, _ := b.Size(ctx)
		return n == 0
	}, time.Second, 5*time.Millisecond)

	_, err = b.Consume(ctx, code)
	assert.ErrorIs(t, err, broker.ErrNotFound)
}

func TestBroker_Stats(t *testing.T) {
	clock := newFakeClock()
	b, _ := newBroker(t, broker.WithClock(clock.Now), broker.WithConsumedGrace(time.Hour))
	ctx := context.Background()

	c1, _ := b.Issue(ctx, broker.Identity{UserID: "u1"})
	c2, _ := b.Issue(ctx, broker.Identity{UserID: "u2"})
	_, _ = b.Consume(ctx, c1)
	_, _ = b.Consume(ctx, c1)
	_, _ = b.Consume(ctx, "nope")
	clock.Advance(broker.DefaultTTL + time.Second)
	_, _ = b.Consume(ctx, c2)

	s := b.Stats()
	assert.Equal(t, int64(2), s.Issued)
	assert.Equal(t, int64(1), s.Consumed)
	assert.Equal(t, int64(1), s.Replayed)
	assert.Equal(t, int64(1), s.NotFound)
	assert.Equal(t, int64(1), s.Expired)
	assert.Equal(t, 1, s.PendingDeletes)
}

func TestReason(t *testing.T) {
	assert.Equal(t, "not_found", broker.Reason(broker.ErrNotFound))
	assert.Equal(t, "expired", broker.Reason(broker.ErrExpired))
	assert.Equal(t, "already_consumed", broker.Reason(broker.ErrAlreadyConsumed))
	assert.Equal(t, "internal", broker.Reason(errors.New("boom")))
	assert.True(t, broker.IsDenial(broker.ErrExpired))
	assert.False(t, broker.IsDenial(errors.New("boom")))
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "abcdef12...", broker.Prefix("abcdef1234567890"))
	assert.Equal(t, "short", broker.Prefix("short"))
}

func TestBroker_ConsumeAfterCloseLeavesCodeToSweep(t *testing.T) {
	clock := newFakeClock()
	store := broker.NewMemoryStore()
	b := broker.New(store, broker.WithClock(clock.Now), broker.WithConsumedGrace(time.Millisecond))
	ctx := context.Background()

	code, err := b.Issue(ctx, broker.Identity{UserID: "u1"})
	require.NoError(t, err)
	b.Close()

	_, err = b.Consume(ctx, code)
	require.NoError(t, err)
	assert.Zero(t, b.Stats().PendingDeletes)

	clock.Advance(broker.DefaultTTL + time.Second)
	n, err := b.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestBroker_RecentNewestFirst(t *testing.T) {
	clock := newFakeClock()
	b, _ := newBroker(t, broker.WithClock(clock.Now))
	ctx := context.Background()

	var codes []string
	for _, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		code, err := b.Issue(ctx, broker.Identity{UserID: "u", Email: email})
		require.NoError(t, err)
		codes = append(codes, code)
		clock.Advance(time.Second)
	}

	recent, err := b.Recent(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, codes[2], recent[0].Code)
	assert.Equal(t, "b@example.com", recent[1].Email)

	all, err := b.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := b.Recent(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
