package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/hotel-loyalty/loyalty/internal/loyalty"
)

// RegisterLoyaltyRoutes mounts read endpoints under /loyalty and the
// administrative surface under /admin/loyalty behind the supplied chain.
func RegisterLoyaltyRoutes(api fiber.Router, h *loyalty.Handler, admin ...fiber.Handler) {
	pub := api.Group("/loyalty")
	pub.Get("/tiers", h.Tiers)
	pub.Get("/users/:userId/status", h.Status)
	pub.Get("/users/:userId/transactions", h.Transactions)
	pub.Get("/users/:userId/summary", h.Summary)

	grp := api.Group("/admin/loyalty", admin...)
	grp.Post("/accounts/:userId", h.Enroll)
	grp.Post("/users/:userId/award", h.Award)
	grp.Post("/users/:userId/deduct", h.Deduct)
	grp.Post("/users/:userId/stays", h.Stay)
	grp.Post("/users/:userId/redeem", h.Redeem)
	grp.Post("/users/:userId/rebuild", h.Rebuild)
	grp.Post("/transactions/:transactionId/correct", h.Correct)
	grp.Post("/tiers", h.CreateTier)
	grp.Patch("/tiers/:tierId", h.UpdateTier)
}
