package loyalty

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotel-loyalty/loyalty/internal/ledger"
	"github.com/hotel-loyalty/loyalty/internal/logging"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

func newRedisCache(t *testing.T) (*RedisStatusCache, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		client.Close()
		mr.Close()
	})
	return NewRedisStatusCache(client, time.Minute), mr
}

func TestRedisStatusCache_RoundTripAndInvalidate(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	_, ok, err := cache.Get(ctx, "guest-1")
	require.NoError(t, err)
	assert.False(t, ok)

	next := "Gold"
	want := Status{UserID: "guest-1", CurrentPoints: 42, TotalNights: 3, TierName: "Silver", NextTierName: &next}
	require.NoError(t, cache.Set(ctx, want))

	got, ok, err := cache.Get(ctx, "guest-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.CurrentPoints, got.CurrentPoints)
	assert.Equal(t, "Gold", *got.NextTierName)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, "guest-1")
	require.NoError(t, err)
	assert.False(t, ok, "entry expires after ttl")

	require.NoError(t, cache.Set(ctx, want))
	require.NoError(t, cache.Invalidate(ctx, "guest-1", 0))
	_, ok, _ = cache.Get(ctx, "guest-1")
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, want))
	require.NoError(t, cache.InvalidateAll(ctx))
	_, ok, _ = cache.Get(ctx, "guest-1")
	assert.False(t, ok, "generation bump hides old entries")
}

func TestService_StatusCacheFollowsMutations(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()
	l := ledger.NewInMemory()
	tiers := tier.NewService(tier.NewMemoryRepository(tier.DefaultCatalog()...))
	svc := NewService(Deps{Ledger: l, Tiers: tiers, Cache: cache, Logger: logging.Discard()})

	_, err := svc.Enroll(ctx, "guest-1")
	require.NoError(t, err)
	st, err := svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Zero(t, st.CurrentPoints)

	_, cached, err := cache.Get(ctx, "guest-1")
	require.NoError(t, err)
	require.True(t, cached)

	_, err = svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 70, Reason: reason("x"), ActorID: "a"})
	require.NoError(t, err)
	st, err = svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(70), st.CurrentPoints)

	// A catalog edit must drop cached tier names.
	list, err := svc.GetTierConfiguration(ctx)
	require.NoError(t, err)
	renamed := "Copper"
	_, err = svc.UpdateTierConfiguration(ctx, "admin-1", list[0].ID, tier.Patch{Name: &renamed})
	require.NoError(t, err)
	st, err = svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, "Copper", st.TierName)
}

func TestRedisStatusCache_BreakerOpensWhenRedisIsDown(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	cache := NewRedisStatusCache(client, time.Minute)
	mr.Close()

	ctx := context.Background()
	for i := 0; i < breakerTrips; i++ {
		_, _, err := cache.Get(ctx, "guest-1")
		require.Error(t, err)
		assert.NotErrorIs(t, err, gobreaker.ErrOpenState)
	}
	_, ok, err := cache.Get(ctx, "guest-1")
	assert.False(t, ok)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}

func TestRedisStatusCache_StaleWriteAfterInvalidateIsDropped(t *testing.T) {
	cache, _ := newRedisCache(t)
	ctx := context.Background()
	stale := Status{UserID: "guest-1", CurrentPoints: 100, Version: 5}
	fresh := Status{UserID: "guest-1", CurrentPoints: 150, Version: 6}

	require.NoError(t, cache.Invalidate(ctx, "guest-1", 6))
	require.NoError(t, cache.Set(ctx, stale))
	_, ok, err := cache.Get(ctx, "guest-1")
	require.NoError(t, err)
	assert.False(t, ok, "status older than the invalidated version is not stored")

	require.NoError(t, cache.Set(ctx, fresh))
	require.NoError(t, cache.Set(ctx, stale))
	got, ok, err := cache.Get(ctx, "guest-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(150), got.CurrentPoints)
	assert.Equal(t, int64(6), got.Version)
}

// interleavingCache runs hook once between the service's account read and
// its cache write, the window where a concurrent mutation can land.
type interleavingCache struct {
	StatusCache
	hook func()
}

func (c *interleavingCache) Set(ctx context.Context, st Status) error {
	if c.hook != nil {
		hook := c.hook
		c.hook = nil
		hook()
	}
	return c.StatusCache.Set(ctx, st)
}

func TestService_ConcurrentMutationWinsOverStaleStatusRead(t *testing.T) {
	redisCache, _ := newRedisCache(t)
	cache := &interleavingCache{StatusCache: redisCache}
	ctx := context.Background()
	l := ledger.NewInMemory()
	tiers := tier.NewService(tier.NewMemoryRepository(tier.DefaultCatalog()...))
	svc := NewService(Deps{Ledger: l, Tiers: tiers, Cache: cache, Logger: logging.Discard()})

	_, err := svc.Enroll(ctx, "guest-1")
	require.NoError(t, err)

	cache.hook = func() {
		_, err := svc.Award(ctx, AwardInput{UserID: "guest-1", Points: 40, Reason: reason("x"), ActorID: "a"})
		require.NoError(t, err)
	}
	st, err := svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Zero(t, st.CurrentPoints, "the read itself saw the old account")

	_, cached, err := redisCache.Get(ctx, "guest-1")
	require.NoError(t, err)
	assert.False(t, cached, "stale status must not be cached after the award")

	st, err = svc.GetStatus(ctx, "guest-1")
	require.NoError(t, err)
	assert.Equal(t, int64(40), st.CurrentPoints)
}
