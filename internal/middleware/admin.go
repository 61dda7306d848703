package middleware

import (
	"context"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

type adminChecker interface {
	IsAdmin(telegramID int64) bool
}

// AdminOnly wraps a handler so that only configured admins reach it.
func AdminOnly(cfg adminChecker) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			_, _, userID := describe(update)
			if userID == 0 || !cfg.IsAdmin(userID) {
				if update.CallbackQuery != nil {
					b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
						CallbackQueryID: update.CallbackQuery.ID,
						Text:            "Недостаточно прав",
						ShowAlert:       true,
					})
				}
				return
			}
			next(ctx, b, update)
		}
	}
}
