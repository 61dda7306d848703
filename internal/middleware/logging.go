package middleware

import (
	"context"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Logging returns middleware that logs update processing time.
func Logging(logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			start := time.Now()
			updateType, chatID, userID := describe(update)

			next(ctx, b, update)

			logger.Debug("update processed",
				zap.String("type", updateType),
				zap.Int64("chat_id", chatID),
				zap.Int64("user_id", userID),
				zap.Duration("duration", time.Since(start)),
			)
		}
	}
}

func describe(update *models.Update) (updateType string, chatID, userID int64) {
	switch {
	case update.Message != nil:
		chatID = update.Message.Chat.ID
		if update.Message.From != nil {
			userID = update.Message.From.ID
		}
		return "message", chatID, userID
	case update.CallbackQuery != nil:
		if update.CallbackQuery.Message.Message != nil {
			chatID = update.CallbackQuery.Message.Message.Chat.ID
		}
		return "callback_query", chatID, update.CallbackQuery.From.ID
	default:
		return "unknown", 0, 0
	}
}
