package auth

import (
	"context"
	"strings"

	domain "github.com/example/support-chat/domain/chat"
	"github.com/gofiber/fiber/v2"
)

// IdentityKey is the Fiber locals key holding the caller's domain.Identity.
const IdentityKey = "identity"

// Verifier turns a bearer credential into an identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (domain.Identity, error)
}

// BearerToken extracts the credential from the Authorization header, falling back to the
// token query parameter that browsers use for websocket upgrades.
func BearerToken(c *fiber.Ctx) string {
	if header := c.Get(fiber.HeaderAuthorization); header != "" {
		if token, ok := strings.CutPrefix(header, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return c.Query("token")
}

// RequireAuth rejects requests without a valid bearer token and stores the identity in
// c.Locals(IdentityKey).
func RequireAuth(verifier Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := BearerToken(c)
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthenticated",
				"message": "Bearer token is required",
			})
		}

		identity, err := verifier.Verify(c.UserContext(), token)
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthenticated",
				"message": "Invalid or expired token",
			})
		}

		c.Locals(IdentityKey, identity)
		return c.Next()
	}
}

// IdentityFrom returns the identity RequireAuth stored on c.
func IdentityFrom(c *fiber.Ctx) (domain.Identity, bool) {
	identity, ok := c.Locals(IdentityKey).(domain.Identity)
	return identity, ok
}
