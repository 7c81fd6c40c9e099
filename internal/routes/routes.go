package routes

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hotel-loyalty/loyalty/internal/config"
	"github.com/hotel-loyalty/loyalty/internal/ledger"
	"github.com/hotel-loyalty/loyalty/internal/loyalty"
	"github.com/hotel-loyalty/loyalty/internal/middleware"
	"github.com/hotel-loyalty/loyalty/internal/notification"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
}

// AppConfig is the fiber configuration the routes expect. Immutable is
// required: params and headers end up as map keys in the in-memory backends
// and must not alias fasthttp's reused request buffers.
func AppConfig(cfg config.Config) fiber.Config {
	return fiber.Config{
		AppName:               cfg.AppName,
		Immutable:             true,
		ReadTimeout:           30 * time.Second,
		WriteTimeout:          30 * time.Second,
		DisableStartupMessage: !cfg.IsDev(),
	}
}

// Setup configures middlewares and all application routes. Without a
// database the ledger and tier catalog live in memory, which is only
// allowed in development.
func Setup(app *fiber.App, d Deps) error {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}

	app.Use(recover.New())
	app.Use(middleware.RequestID())
	// Plain text access log: [HH:MM:SS] 200 -  145ms METHOD /path
	app.Use(logger.New(logger.Config{
		Format:     "[${time}] ${status} -  ${latency} ${method} ${path}\n",
		TimeFormat: "15:04:05",
		TimeZone:   "Local",
	}))

	RegisterHealthRoutes(app, d)

	handler := buildLoyaltyHandler(d)

	api := app.Group("/api/v1")
	api.Get("/ping", func(c *fiber.Ctx) error {
		return c.Status(http.StatusOK).JSON(fiber.Map{
			"status":     "ok",
			"request_id": middleware.RequestIDFrom(c),
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		})
	})

	RegisterLoyaltyRoutes(api, handler, adminChain(d)...)
	return nil
}

func buildLoyaltyHandler(d Deps) *loyalty.Handler {
	var (
		book  ledger.Ledger
		tiers tier.Repository
		cache loyalty.StatusCache = loyalty.NoopStatusCache{}
	)
	if d.DB != nil {
		book = ledger.NewPostgresLedger(d.DB)
		tiers = tier.NewPostgresRepository(d.DB)
	} else {
		book = ledger.NewInMemory()
		tiers = tier.NewMemoryRepository(tier.DefaultCatalog()...)
	}
	if d.Cache != nil {
		cache = loyalty.NewRedisStatusCache(d.Cache, d.Cfg.StatusCacheTTL)
	}

	svc := loyalty.NewService(loyalty.Deps{
		Ledger:   book,
		Tiers:    tier.NewService(tiers),
		Cache:    cache,
		Notifier: notification.NewLoggerNotifier(d.Logger),
		Logger:   d.Logger,
		Options: loyalty.Options{
			MinPointIncrement: d.Cfg.MinPointIncrement,
			DefaultPageSize:   d.Cfg.DefaultPageSize,
			MaxPageSize:       d.Cfg.MaxPageSize,
		},
	})
	return loyalty.NewHandler(svc, d.Logger)
}

// adminChain audits every admin request, including rejected ones, then
// resolves the acting administrator and throttles and deduplicates writes.
func adminChain(d Deps) []fiber.Handler {
	chain := []fiber.Handler{
		middleware.Audit(d.Logger),
		middleware.AdminActor(d.Cfg.AdminTokenHash, d.Cfg.IsDev()),
		middleware.ActorRateLimit(d.Cache, d.Cfg.AdminRatePerMin),
	}
	if d.Cache != nil {
		chain = append(chain, middleware.Idempotency(d.Cache, d.Cfg.IdempotencyTTL, d.Logger))
	}
	return chain
}
