package auth

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/spec-kit/call-signaling/pkg/util/errorutil"
)

// ServiceKeyHeader carries the ticket system's shared key.
const ServiceKeyHeader = "X-API-Key"

// HashServiceKey hashes a plaintext service key with the given bcrypt cost.
func HashServiceKey(key string, cost int) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(key), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// CompareServiceKey verifies a key against its hashed value.
func CompareServiceKey(hashed, plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(plain))
}

// RequireServiceKey guards the ticket system's room management routes. An
// empty hash rejects every request.
func RequireServiceKey(hash string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		key := c.Get(ServiceKeyHeader)
		if hash == "" || key == "" {
			return apperrors.NewUnauthorized("missing service key")
		}
		if err := CompareServiceKey(hash, key); err != nil {
			return apperrors.NewUnauthorized("invalid service key")
		}
		return c.Next()
	}
}
