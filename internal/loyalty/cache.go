package loyalty

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
)

// StatusCache holds composed Status snapshots. Entries are whole values; a
// reader never sees a half-written status.
type StatusCache interface {
	Get(ctx context.Context, userID string) (Status, bool, error)
	// Set stores st unless an entry or invalidation for a newer account
	// version has already been recorded.
	Set(ctx context.Context, st Status) error
	// Invalidate drops the user's entry and rejects later Sets of statuses
	// older than version.
	Invalidate(ctx context.Context, userID string, version int64) error
	// InvalidateAll drops every entry, used when the tier catalog changes.
	InvalidateAll(ctx context.Context) error
}

// NoopStatusCache disables caching.
type NoopStatusCache struct{}

func (NoopStatusCache) Get(context.Context, string) (Status, bool, error) { return Status{}, false, nil }
func (NoopStatusCache) Set(context.Context, Status) error { return nil }
func (NoopStatusCache) Invalidate(context.Context, string, int64) error { return nil }
func (NoopStatusCache) InvalidateAll(context.Context) error { return nil }

const (
	statusKeyPrefix = "loyalty:status:v1:"
	statusGenKey    = "loyalty:status:v1:gen"
	statusVerPrefix = "loyalty:status:v1:ver:"
	statusOpTimeout = 500 * time.Millisecond
	// breakerTrips consecutive Redis failures open the breaker for
	// breakerCooldown, during which every call fails fast.
	breakerTrips    = 5
	breakerCooldown = 10 * time.Second
)

// RedisStatusCache stores statuses in Redis under a generation number so the
// whole cache can be dropped with a single INCR. Calls go through a circuit
// breaker; callers treat any error as a miss.
type RedisStatusCache struct {
	client  *redis.Client
	ttl     time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewRedisStatusCache builds a Redis-backed status cache.
func NewRedisStatusCache(client *redis.Client, ttl time.Duration) *RedisStatusCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "status-cache",
		Timeout: breakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerTrips
		},
	})
	return &RedisStatusCache{client: client, ttl: ttl, breaker: breaker}
}

// setIfCurrent writes the status and raises the version floor, unless the
// floor is already above the status version.
var setIfCurrent = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '-1')
if tonumber(ARGV[2]) < floor then
	return 0
end
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[3])
redis.call('SET', KEYS[2], ARGV[2], 'PX', ARGV[3])
return 1
`)

// dropAndRaise deletes the entry and raises the version floor.
var dropAndRaise = redis.NewScript(`
local floor = tonumber(redis.call('GET', KEYS[2]) or '-1')
if tonumber(ARGV[1]) > floor then
	redis.call('SET', KEYS[2], ARGV[1], 'PX', ARGV[2])
end
redis.call('DEL', KEYS[1])
return 1
`)

func (c *RedisStatusCache) guard(fn func() error) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	return err
}

func (c *RedisStatusCache) generation(ctx context.Context) (int64, error) {
	v, err := c.client.Get(ctx, statusGenKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (c *RedisStatusCache) key(ctx context.Context, userID string) (string, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s%d:%s", statusKeyPrefix, gen, userID), nil
}

func (c *RedisStatusCache) Get(ctx context.Context, userID string) (Status, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, statusOpTimeout)
	defer cancel()

	var raw []byte
	err := c.guard(func() error {
		key, err := c.key(ctx, userID)
		if err != nil {
			return err
		}
		raw, err = c.client.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return err
	})
	if err != nil || raw == nil {
		return Status{}, false, err
	}
	var st Status
	if err := json.Unmarshal(raw, &st); err != nil {
		return Status{}, false, fmt.Errorf("decode cached status: %w", err)
	}
	return st, true, nil
}

func (c *RedisStatusCache) Set(ctx context.Context, st Status) error {
	ctx, cancel := context.WithTimeout(ctx, statusOpTimeout)
	defer cancel()

	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return c.guard(func() error {
		key, err := c.key(ctx, st.UserID)
		if err != nil {
			return err
		}
		keys := []string{key, statusVerPrefix + st.UserID}
		return setIfCurrent.Run(ctx, c.client, keys, payload, st.Version, c.ttl.Milliseconds()).Err()
	})
}

func (c *RedisStatusCache) Invalidate(ctx context.Context, userID string, version int64) error {
	ctx, cancel := context.WithTimeout(ctx, statusOpTimeout)
	defer cancel()

	return c.guard(func() error {
		key, err := c.key(ctx, userID)
		if err != nil {
			return err
		}
		keys := []string{key, statusVerPrefix + userID}
		return dropAndRaise.Run(ctx, c.client, keys, version, c.ttl.Milliseconds()).Err()
	})
}

func (c *RedisStatusCache) InvalidateAll(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, statusOpTimeout)
	defer cancel()
	return c.guard(func() error {
		return c.client.Incr(ctx, statusGenKey).Err()
	})
}
