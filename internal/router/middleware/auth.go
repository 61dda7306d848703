package middleware

import (
	"strconv"

	jwtware "github.com/gofiber/contrib/jwt"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

const userKey = "user"

func Protected(jwtSecret []byte) func(*fiber.Ctx) error {
	return jwtware.New(jwtware.Config{
		SigningKey: jwtware.SigningKey{
			JWTAlg: jwt.SigningMethodHS256.Alg(),
			Key:    jwtSecret,
		},
		ContextKey:   userKey,
		ErrorHandler: jwtError,
	})
}

func jwtError(c *fiber.Ctx, _ error) error {
	c.Status(fiber.StatusUnauthorized)
	return c.JSON(fiber.Map{"status": "error", "code": "unauthorized", "message": "Необходима авторизация"})
}

// UserID returns the caller id carried in the token's "id" claim.
func UserID(c *fiber.Ctx) (int64, bool) {
	token, ok := c.Locals(userKey).(*jwt.Token)
	if !ok {
		return 0, false
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, false
	}
	switch id := claims["id"].(type) {
	case float64:
		if id <= 0 || id != float64(int64(id)) {
			return 0, false
		}
		return int64(id), true
	case string:
		n, err := strconv.ParseInt(id, 10, 64)
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}

// NewToken signs an HS256 token for the user id. Tests and the local dev
// tooling use it; production tokens come from the identity provider.
func NewToken(jwtSecret []byte, userID int64, claims jwt.MapClaims) (string, error) {
	c := jwt.MapClaims{"id": userID}
	for k, v := range claims {
		c[k] = v
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(jwtSecret)
}
