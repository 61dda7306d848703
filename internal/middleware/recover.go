package middleware

import (
	"context"
	"runtime/debug"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Recover logs handler panics along with the update that caused them.
func Recover(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					updateType, chatID, userID := describe(update)
					logger.Error("panic recovered in handler",
						zap.Int64("update_id", update.ID),
						zap.String("type", updateType),
						zap.Int64("chat_id", chatID),
						zap.Int64("user_id", userID),
						zap.Any("panic", r),
						zap.ByteString("stack", debug.Stack()),
					)
				}
			}()
			next(ctx, b, update)
		}
	}
}
