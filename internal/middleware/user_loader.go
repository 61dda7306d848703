package middleware

import (
	"context"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/service"
)

type ctxKey string

const UserKey ctxKey = "user"

// ReferralPrefix starts the /start payload of a referral deep link.
const ReferralPrefix = "ref_"

// GetUser extracts user from context.
func GetUser(ctx context.Context) *domain.User {
	u, ok := ctx.Value(UserKey).(*domain.User)
	if !ok {
		return nil
	}
	return u
}

// WithUser stores user in ctx.
func WithUser(ctx context.Context, user *domain.User) context.Context {
	return context.WithValue(ctx, UserKey, user)
}

type registrationLogger interface {
	LogRegistration(user *domain.User, referrerID *int64)
}

// UserLoader returns middleware that registers the sender and loads them into
// context. A /start deep link carrying a referral payload attaches the referrer.
func UserLoader(users *service.UserService, feed registrationLogger, logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			var from *models.User
			var text string

			if update.Message != nil {
				from = update.Message.From
				text = update.Message.Text
			} else if update.CallbackQuery != nil {
				from = &update.CallbackQuery.From
			}

			if from == nil || from.IsBot {
				next(ctx, b, update)
				return
			}

			user, created, err := users.Register(ctx, service.RegisterParams{
				ID:         from.ID,
				Username:   from.Username,
				FirstName:  from.FirstName,
				ReferrerID: ReferrerFromStart(text),
			})
			if err != nil {
				logger.Error("load user", zap.Int64("user_id", from.ID), zap.Error(err))
			} else {
				ctx = WithUser(ctx, user)
				if created && feed != nil {
					feed.LogRegistration(user, user.ReferredBy)
				}
			}

			next(ctx, b, update)
		}
	}
}

// ReferrerFromStart parses "/start ref_<id>".
func ReferrerFromStart(text string) *int64 {
	cmd, payload, ok := strings.Cut(strings.TrimSpace(text), " ")
	if !ok || (cmd != "/start" && !strings.HasPrefix(cmd, "/start@")) {
		return nil
	}
	raw, ok := strings.CutPrefix(strings.TrimSpace(payload), ReferralPrefix)
	if !ok {
		return nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil
	}
	return &id
}
