package handler

import (
	"bytes"
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/middleware"
)

func (h *Handler) handleReferral(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	user := middleware.GetUser(ctx)
	if user == nil {
		return
	}

	chatID := update.Message.Chat.ID
	stats, err := h.userService.ReferralStats(ctx, user.ID)
	if err != nil {
		h.logger.Error("referral stats", zap.Int64("user_id", user.ID), zap.Error(err))
		b.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: errorText(err)})
		return
	}

	refLink := h.userService.ReferralLink(user.ID)
	text := fmt.Sprintf(
		"👥 *Реферальная программа*\n\n"+
			"Ваша реферальная ссылка:\n`%s`\n\n"+
			"Приглашено: *%d*\n"+
			"Заработано с рефералов: *%d*\n"+
			"💰 Реферальный баланс: *%d*\n\n"+
			"Вы получаете %s%% от оплаты каждого задания приглашённых пользователей.",
		refLink,
		stats.ReferralCount,
		stats.TotalCommission,
		user.ReferralBalance,
		h.cfg.Rules.CommissionRate.Shift(2).String(),
	)

	png, err := h.userService.ReferralQR(user.ID)
	if err == nil {
		_, sendErr := b.SendPhoto(ctx, &bot.SendPhotoParams{
			ChatID:    chatID,
			Photo:     &models.InputFileUpload{Filename: "referral.png", Data: bytes.NewReader(png)},
			Caption:   text,
			ParseMode: models.ParseModeMarkdownV1,
		})
		if sendErr == nil {
			return
		}
		h.logger.Warn("failed to send referral qr, falling back to text", zap.Error(sendErr))
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
}
