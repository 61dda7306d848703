package middleware

import (
	"context"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

// Limiter counts messages per chat in fixed windows.
type Limiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	started time.Time
	counts  map[int64]int
}

func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{limit: limit, window: window, now: time.Now, counts: make(map[int64]int)}
}

// Allow increments the counter for chatID and reports whether it is still
// within the limit for the current window.
func (l *Limiter) Allow(chatID int64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.started) >= l.window {
		l.started = now
		clear(l.counts)
	}
	l.counts[chatID]++
	return l.counts[chatID] <= l.limit
}

// RateLimit returns middleware that enforces per-chat message limits.
func RateLimit(l *Limiter, logger *zap.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			// Only rate limit messages (not callbacks or other updates)
			if update.Message == nil {
				next(ctx, b, update)
				return
			}

			chatID := update.Message.Chat.ID
			if !l.Allow(chatID) {
				logger.Debug("rate limited", zap.Int64("chat_id", chatID))
				b.SendMessage(ctx, &bot.SendMessageParams{
					ChatID: chatID,
					Text:   "⏳ Слишком много запросов. Подождите немного.",
				})
				return
			}

			next(ctx, b, update)
		}
	}
}
