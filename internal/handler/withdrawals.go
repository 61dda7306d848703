package handler

import (
	"context"
	"fmt"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	tg "github.com/set-night/tasker/internal/telegram"
)

func (h *Handler) handleWithdrawals(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	pending, err := h.withdrawalService.ListPending(ctx, config.ModerationPageSize)
	if err != nil {
		h.logger.Error("list pending withdrawals", zap.Error(err))
		h.reply(ctx, b, chatID, errorText(err))
		return
	}

	if len(pending) == 0 {
		h.reply(ctx, b, chatID, "✅ Нет заявок на вывод.")
		return
	}

	for i := range pending {
		req := &pending[i]
		if err := tg.SendLongMessage(ctx, b, chatID, tg.WithdrawalText(req), tg.WithdrawalVerdictKeyboard(req.ID)); err != nil {
			h.logger.Error("send withdrawal", zap.Int64("request_id", req.ID), zap.Error(err))
		}
	}
}

func (h *Handler) handleWithdrawalApprove(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.withdrawalVerdictCommand(ctx, b, update, domain.VerdictApprove)
}

func (h *Handler) handleWithdrawalReject(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.withdrawalVerdictCommand(ctx, b, update, domain.VerdictReject)
}

func (h *Handler) withdrawalVerdictCommand(ctx context.Context, b *bot.Bot, update *models.Update, verdict domain.Verdict) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	requestID, ok := commandID(update.Message.Text)
	if !ok {
		h.reply(ctx, b, chatID, "Использование: /wapprove <id заявки> или /wreject <id заявки>")
		return
	}
	h.reply(ctx, b, chatID, h.applyWithdrawalVerdict(ctx, b, requestID, verdict))
}

func (h *Handler) handleWithdrawalVerdictCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	data := update.CallbackQuery.Data
	verdict := domain.VerdictReject
	requestID, ok := tg.ParseCallbackID(data, tg.CallbackWithdrawalApprove)
	if ok {
		verdict = domain.VerdictApprove
	} else {
		requestID, ok = tg.ParseCallbackID(data, tg.CallbackWithdrawalReject)
	}
	if !ok {
		b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})
		return
	}

	text := h.applyWithdrawalVerdict(ctx, b, requestID, verdict)
	h.answerCallback(ctx, b, update, text)
}

func (h *Handler) applyWithdrawalVerdict(ctx context.Context, b *bot.Bot, requestID int64, verdict domain.Verdict) string {
	req, err := h.withdrawalService.ApplyWithdrawalVerdict(ctx, requestID, verdict)
	if err != nil {
		if !domain.IsExpected(err) {
			h.tgLogger.LogError(err, fmt.Sprintf("withdrawal verdict %s on request %d", verdict, requestID))
		}
		return errorText(err)
	}

	h.tgLogger.LogWithdrawalResolved(req)
	if req.Status == domain.WithdrawalStatusApproved {
		h.notify(ctx, b, req.UserID, fmt.Sprintf("💸 Выплата *%d* по заявке #%d отправлена.", req.Amount, req.ID))
		return fmt.Sprintf("✅ Заявка #%d выплачена, списано %d.", req.ID, req.Amount)
	}
	h.notify(ctx, b, req.UserID, fmt.Sprintf("❌ Заявка на вывод #%d отклонена. Средства остались на балансе.", req.ID))
	return fmt.Sprintf("❌ Заявка #%d отклонена.", req.ID)
}
