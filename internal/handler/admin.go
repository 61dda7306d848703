package handler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	tg "github.com/set-night/tasker/internal/telegram"
)

func (h *Handler) handlePending(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	leases, err := h.submissionService.ListSubmitted(ctx, config.ModerationPageSize)
	if err != nil {
		h.logger.Error("list submitted", zap.Error(err))
		h.reply(ctx, b, chatID, errorText(err))
		return
	}

	if len(leases) == 0 {
		h.reply(ctx, b, chatID, "✅ Нет заданий на проверке.")
		return
	}

	for i := range leases {
		lease := &leases[i]
		if err := tg.SendLongMessage(ctx, b, chatID, tg.SubmissionText(lease), tg.LeaseVerdictKeyboard(lease.ID)); err != nil {
			h.logger.Error("send submission", zap.Int64("lease_id", lease.ID), zap.Error(err))
			continue
		}
		if h.files == nil {
			continue
		}
		caption := fmt.Sprintf("Lease #%d", lease.ID)
		if err := tg.SendAttachments(ctx, b, chatID, 0, h.files, lease.Attachments, caption); err != nil {
			h.logger.Warn("send submission attachments", zap.Int64("lease_id", lease.ID), zap.Error(err))
		}
	}
}

func (h *Handler) handleApprove(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.leaseVerdictCommand(ctx, b, update, domain.VerdictApprove)
}

func (h *Handler) handleReject(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.leaseVerdictCommand(ctx, b, update, domain.VerdictReject)
}

func (h *Handler) leaseVerdictCommand(ctx context.Context, b *bot.Bot, update *models.Update, verdict domain.Verdict) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	leaseID, ok := commandID(update.Message.Text)
	if !ok {
		h.reply(ctx, b, chatID, fmt.Sprintf("Использование: /%s <id задания>", verdict))
		return
	}
	h.reply(ctx, b, chatID, h.applyLeaseVerdict(ctx, b, leaseID, verdict))
}

func (h *Handler) handleLeaseVerdictCallback(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	data := update.CallbackQuery.Data
	verdict := domain.VerdictReject
	leaseID, ok := tg.ParseCallbackID(data, tg.CallbackLeaseApprove)
	if ok {
		verdict = domain.VerdictApprove
	} else {
		leaseID, ok = tg.ParseCallbackID(data, tg.CallbackLeaseReject)
	}
	if !ok {
		b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: update.CallbackQuery.ID})
		return
	}

	text := h.applyLeaseVerdict(ctx, b, leaseID, verdict)
	h.answerCallback(ctx, b, update, text)
}

// applyLeaseVerdict resolves the lease, notifies the performer and returns
// the reply for the moderator.
func (h *Handler) applyLeaseVerdict(ctx context.Context, b *bot.Bot, leaseID int64, verdict domain.Verdict) string {
	res, err := h.verdictService.ApplyVerdict(ctx, leaseID, verdict)
	if err != nil {
		if !domain.IsExpected(err) {
			h.tgLogger.LogError(err, fmt.Sprintf("verdict %s on lease %d", verdict, leaseID))
		}
		return errorText(err)
	}

	lease := res.Lease
	h.tgLogger.LogVerdict(lease, res.Credited, res.Commission, res.ReferrerID)

	if verdict == domain.VerdictApprove {
		h.notify(ctx, b, lease.UserID, fmt.Sprintf("✅ Задание #%d принято. Начислено: *%d*", lease.ID, res.Credited))
		if res.ReferrerID != nil && res.Commission > 0 {
			h.notify(ctx, b, *res.ReferrerID, fmt.Sprintf("🤝 Реферальное начисление: *%d*", res.Commission))
		}
		return fmt.Sprintf("✅ Задание #%d принято, начислено %d.", lease.ID, res.Credited)
	}

	h.notify(ctx, b, lease.UserID, fmt.Sprintf("❌ Задание #%d отклонено модератором.", lease.ID))
	return fmt.Sprintf("❌ Задание #%d отклонено.", lease.ID)
}

// /addtask <simple|phone> <url> <message...>
func (h *Handler) handleAddTask(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	parts := strings.Fields(update.Message.Text)
	if len(parts) < 4 {
		h.reply(ctx, b, chatID, "Использование: /addtask <simple|phone> <ссылка> <текст сообщения>")
		return
	}

	_, rest, _ := strings.Cut(update.Message.Text, parts[2])
	message := strings.TrimSpace(rest)

	task, err := h.taskService.CreateTask(ctx, domain.TaskKind(parts[1]), parts[2], message)
	if err != nil {
		if !domain.IsExpected(err) {
			h.logger.Error("create task", zap.Error(err))
		}
		h.reply(ctx, b, chatID, errorText(err))
		return
	}
	h.reply(ctx, b, chatID, fmt.Sprintf("✅ Задание #%d (%s) добавлено, оплата %d.", task.ID, task.Kind, task.Price))
}

func (h *Handler) handleStat(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	chatID := update.Message.Chat.ID
	counts, err := h.taskService.CountAvailable(ctx)
	if err != nil {
		h.logger.Error("count available tasks", zap.Error(err))
		h.reply(ctx, b, chatID, errorText(err))
		return
	}
	submitted, err := h.submissionService.ListSubmitted(ctx, config.ModerationPageSize)
	if err != nil {
		h.logger.Error("list submitted", zap.Error(err))
		h.reply(ctx, b, chatID, errorText(err))
		return
	}

	pendingNote := strconv.Itoa(len(submitted))
	if len(submitted) == config.ModerationPageSize {
		pendingNote += "+"
	}
	h.reply(ctx, b, chatID, fmt.Sprintf(
		"📊 *Статистика*\n\nСвободно простых: %d\nСвободно с телефоном: %d\nНа проверке: %s",
		counts[domain.TaskKindSimple], counts[domain.TaskKindPhone], pendingNote,
	))
}

func (h *Handler) reply(ctx context.Context, b *bot.Bot, chatID int64, text string) {
	if err := tg.SendLongMessage(ctx, b, chatID, text, nil); err != nil {
		h.logger.Warn("reply failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

// notify messages a user privately; users who never opened the bot are skipped.
func (h *Handler) notify(ctx context.Context, b *bot.Bot, userID int64, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: models.ParseModeMarkdownV1,
	})
	if err != nil {
		h.logger.Debug("notify user", zap.Int64("user_id", userID), zap.Error(err))
	}
}

func (h *Handler) answerCallback(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	b.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: update.CallbackQuery.ID,
		Text:            text,
	})
	if msg := update.CallbackQuery.Message.Message; msg != nil {
		h.reply(ctx, b, msg.Chat.ID, text)
	}
}

// commandID parses the id argument of "/command <id>".
func commandID(text string) (int64, bool) {
	parts := strings.Fields(text)
	if len(parts) != 2 {
		return 0, false
	}
	id, err := strconv.ParseInt(parts[1], 10, 64)
	return id, err == nil && id > 0
}
