package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
)

// Sender is the part of *bot.Bot the moderation feed uses.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendPhoto(ctx context.Context, params *bot.SendPhotoParams) (*models.Message, error)
}

// TelegramLogger posts engine events to the admin chat, one forum topic per
// event type. It does nothing when LOG_TELEGRAM_CHAT_ID is zero.
type TelegramLogger struct {
	bot    Sender
	cfg    *config.Config
	files  AttachmentOpener
	logger *zap.Logger
}

func NewTelegramLogger(b Sender, cfg *config.Config, files AttachmentOpener, logger *zap.Logger) *TelegramLogger {
	return &TelegramLogger{bot: b, cfg: cfg, files: files, logger: logger.Named("tg_logger")}
}

type LogType string

const (
	LogTypeError        LogType = "error"
	LogTypeRegistration LogType = "registration"
	LogTypeSubmission   LogType = "submission"
	LogTypeVerdict      LogType = "verdict"
	LogTypeWithdrawal   LogType = "withdrawal"
)

func (l *TelegramLogger) Log(logType LogType, message string) {
	l.send(logType, message, nil)
}

func (l *TelegramLogger) send(logType LogType, message string, markup models.ReplyMarkup) (topicID int, ok bool) {
	if l == nil || l.cfg.LogTelegramChatID == 0 {
		return 0, false
	}

	topicID = l.getTopicID(logType)
	if topicID == 0 {
		return 0, false
	}

	if len([]rune(message)) > config.MaxTelegramMessageLen {
		message = string([]rune(message)[:config.MaxTelegramMessageLen-20]) + "\n\n... (truncated)"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	params := &bot.SendMessageParams{
		ChatID:          l.cfg.LogTelegramChatID,
		Text:            message,
		ParseMode:       models.ParseModeMarkdownV1,
		MessageThreadID: topicID,
	}
	if markup != nil {
		params.ReplyMarkup = markup
	}
	if _, err := l.bot.SendMessage(ctx, params); err != nil {
		l.logger.Error("failed to send telegram log", zap.String("type", string(logType)), zap.Error(err))
		return topicID, false
	}
	return topicID, true
}

func (l *TelegramLogger) LogError(err error, context string) {
	msg := fmt.Sprintf("❌ *Error*\n\n*Context:* %s\n*Error:* `%s`\n*Time:* %s",
		EscapeMarkdown(context), err.Error(), time.Now().Format("2006-01-02 15:04:05"))
	l.Log(LogTypeError, msg)
}

func (l *TelegramLogger) LogRegistration(user *domain.User, referrerID *int64) {
	msg := fmt.Sprintf("👤 *New Registration*\n\n*ID:* `%d`\n*Name:* %s",
		user.ID, EscapeMarkdown(user.FirstName))
	if user.Username != "" {
		msg += "\n*Username:* @" + EscapeMarkdown(user.Username)
	}
	if referrerID != nil {
		msg += fmt.Sprintf("\n*Referred by:* `%d`", *referrerID)
	}
	l.Log(LogTypeRegistration, msg)
}

// LogSubmission posts a lease awaiting review with verdict buttons, followed
// by its screenshots in the same topic.
func (l *TelegramLogger) LogSubmission(lease *domain.Lease) {
	topicID, ok := l.send(LogTypeSubmission, SubmissionText(lease), LeaseVerdictKeyboard(lease.ID))
	if !ok || l.files == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	caption := fmt.Sprintf("Lease #%d", lease.ID)
	if err := SendAttachments(ctx, l.bot, l.cfg.LogTelegramChatID, topicID, l.files, lease.Attachments, caption); err != nil {
		l.logger.Error("failed to send submission attachments", zap.Int64("lease_id", lease.ID), zap.Error(err))
	}
}

func (l *TelegramLogger) LogVerdict(lease *domain.Lease, credited, commission int64, referrerID *int64) {
	msg := fmt.Sprintf("⚖️ *Verdict*\n\n*Lease:* `%d`\n*User:* `%d`\n*State:* %s",
		lease.ID, lease.UserID, lease.State)
	if credited > 0 {
		msg += fmt.Sprintf("\n*Credited:* %d", credited)
	}
	if commission > 0 && referrerID != nil {
		msg += fmt.Sprintf("\n*Commission:* %d → `%d`", commission, *referrerID)
	}
	l.Log(LogTypeVerdict, msg)
}

func (l *TelegramLogger) LogWithdrawalRequest(req *domain.WithdrawalRequest) {
	l.send(LogTypeWithdrawal, WithdrawalText(req), WithdrawalVerdictKeyboard(req.ID))
}

func (l *TelegramLogger) LogWithdrawalResolved(req *domain.WithdrawalRequest) {
	msg := fmt.Sprintf("🏦 *Withdrawal %s*\n\n*ID:* `%d`\n*User:* `%d`\n*Amount:* %d",
		req.Status, req.ID, req.UserID, req.Amount)
	l.Log(LogTypeWithdrawal, msg)
}

func (l *TelegramLogger) getTopicID(logType LogType) int {
	switch logType {
	case LogTypeError:
		return l.cfg.LogTopicError
	case LogTypeRegistration:
		return l.cfg.LogTopicRegistration
	case LogTypeSubmission:
		return l.cfg.LogTopicSubmission
	case LogTypeVerdict:
		return l.cfg.LogTopicVerdict
	case LogTypeWithdrawal:
		return l.cfg.LogTopicWithdrawal
	default:
		return 0
	}
}

// SubmissionText renders a submitted lease for reviewers.
func SubmissionText(lease *domain.Lease) string {
	msg := fmt.Sprintf("📝 *Submission*\n\n*Lease:* `%d`\n*User:* `%d`", lease.ID, lease.UserID)
	if t := lease.Task; t != nil {
		msg += fmt.Sprintf("\n*Task:* `%d` (%s, %d)\n*URL:* %s", t.ID, t.Kind, t.Price, EscapeMarkdown(t.URL))
	}
	if lease.DisclosedValue != nil {
		msg += fmt.Sprintf("\n*Phone:* `%s`", *lease.DisclosedValue)
	}
	msg += fmt.Sprintf("\n*Screenshots:* %d", len(lease.Attachments))
	return msg
}

// WithdrawalText renders a pending withdrawal request for reviewers.
func WithdrawalText(req *domain.WithdrawalRequest) string {
	return fmt.Sprintf("💸 *Withdrawal request*\n\n*ID:* `%d`\n*User:* `%d`\n*Amount:* %d\n*Method:* %s\n*Details:* `%s`",
		req.ID, req.UserID, req.Amount, req.Method, string(req.Details))
}
