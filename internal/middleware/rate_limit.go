package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// ActorRateLimit limits mutations per resolved actor (or IP when absent).
// With Redis the count is shared across instances in fixed one-minute
// windows; without it each process keeps a token bucket per actor.
func ActorRateLimit(cache *redis.Client, maxPerMin int) fiber.Handler {
	if maxPerMin <= 0 {
		maxPerMin = 60
	}
	local := newLocalLimiter(maxPerMin)
	return func(c *fiber.Ctx) error {
		switch c.Method() {
		case fiber.MethodGet, fiber.MethodHead, fiber.MethodOptions:
			return c.Next()
		}
		who, _ := c.Locals(actorLocal).(string)
		if who == "" {
			who = c.IP()
		}

		if cache == nil {
			if !local.allow(utils.CopyString(who)) {
				return tooMany(c)
			}
			return c.Next()
		}

		window := time.Now().UTC().Unix() / 60
		key := fmt.Sprintf("rl:admin:%s:%d", who, window)
		cnt, err := cache.Incr(c.UserContext(), key).Result()
		if err != nil {
			return c.Next() // fail-open on cache errors
		}
		if cnt == 1 {
			cache.Expire(c.UserContext(), key, time.Minute)
		}
		if cnt > int64(maxPerMin) {
			return tooMany(c)
		}
		return c.Next()
	}
}

func tooMany(c *fiber.Ctx) error {
	c.Set(fiber.HeaderRetryAfter, "60")
	return fiber.NewError(http.StatusTooManyRequests, "too many admin requests, try again later")
}

type localLimiter struct {
	mu       sync.Mutex
	perMin   int
	limiters map[string]*rate.Limiter
}

func newLocalLimiter(perMin int) *localLimiter {
	return &localLimiter{perMin: perMin, limiters: make(map[string]*rate.Limiter)}
}

func (l *localLimiter) allow(who string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[who]
	if !ok {
		lim = rate.NewLimiter(rate.Every(time.Minute/time.Duration(l.perMin)), l.perMin)
		l.limiters[who] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
