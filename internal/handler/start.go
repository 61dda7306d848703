package handler

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/tasker/internal/middleware"
	tg "github.com/set-night/tasker/internal/telegram"
)

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	// Referral payload is attached during registration in middleware
	text := fmt.Sprintf(
		"👋 Привет, *%s*!\n\n"+
			"Выполняйте задания и получайте деньги на карту или по СБП.\n\n"+
			"📋 *Команды:*\n"+
			"/balance — Баланс\n"+
			"/referral — Реферальная программа",
		tg.EscapeMarkdown(user.FirstName),
	)
	if user.ReferredBy != nil {
		text += fmt.Sprintf("\n\n🤝 Вас пригласил пользователь `%d`.", *user.ReferredBy)
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    update.Message.Chat.ID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
}

func (h *Handler) handleBalance(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text: fmt.Sprintf(
			"💰 *Баланс*\n\nЗа задания: *%d*\nРеферальный: *%d*\nДоступно к выводу: *%d*\n\nМинимальная сумма вывода: %d",
			user.EarningsBalance, user.ReferralBalance, user.Available(), h.cfg.Rules.MinWithdrawal,
		),
		ParseMode: models.ParseModeMarkdownV1,
	})
}
