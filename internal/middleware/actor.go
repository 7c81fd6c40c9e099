package middleware

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"golang.org/x/crypto/bcrypt"
)

const (
	actorIDHeader    = "X-Actor-ID"
	adminTokenHeader = "X-Admin-Token"
	// actorLocal matches the key the loyalty handlers read.
	actorLocal = "actor_id"
)

// AdminActor resolves the acting administrator. The caller names itself in
// X-Actor-ID and proves admin access with X-Admin-Token, checked against a
// bcrypt hash. With an empty hash, requests are only let through when
// allowOpen is set (development).
func AdminActor(tokenHash string, allowOpen bool) fiber.Handler {
	hash := []byte(strings.TrimSpace(tokenHash))
	return func(c *fiber.Ctx) error {
		actor := strings.TrimSpace(c.Get(actorIDHeader))
		if actor == "" {
			return fiber.NewError(http.StatusUnauthorized, "missing "+actorIDHeader+" header")
		}
		if len(hash) == 0 {
			if !allowOpen {
				return fiber.NewError(http.StatusForbidden, "admin access is not configured")
			}
		} else {
			token := c.Get(adminTokenHeader)
			if token == "" {
				return fiber.NewError(http.StatusUnauthorized, "missing "+adminTokenHeader+" header")
			}
			if err := bcrypt.CompareHashAndPassword(hash, []byte(token)); err != nil {
				return fiber.NewError(http.StatusUnauthorized, "invalid admin token")
			}
		}
		c.Locals(actorLocal, utils.CopyString(actor))
		return c.Next()
	}
}
