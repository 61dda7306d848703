package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Logging logs every request once it has been handled.
func Logging(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
		}
		if id, ok := UserID(c); ok {
			fields = append(fields, zap.Int64("user_id", id))
		}
		if err != nil {
			fields = append(fields, zap.Error(err))
		}
		logger.Debug("request handled", fields...)
		return err
	}
}
