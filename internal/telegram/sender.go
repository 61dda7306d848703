package telegram

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/set-night/tasker/internal/config"
)

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// EscapeMarkdown escapes user supplied text for legacy Markdown messages.
func EscapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}

// SendLongMessage sends a potentially long message, splitting it into parts if needed.
// Falls back to plain text if Markdown parsing fails.
func SendLongMessage(ctx context.Context, b Sender, chatID int64, text string, markup models.ReplyMarkup) error {
	parts := SplitMessage(text, config.MaxTelegramMessageLen)

	for i, part := range parts {
		params := &bot.SendMessageParams{
			ChatID:    chatID,
			Text:      part,
			ParseMode: models.ParseModeMarkdownV1,
		}
		// buttons go under the last part
		if markup != nil && i == len(parts)-1 {
			params.ReplyMarkup = markup
		}

		if _, err := b.SendMessage(ctx, params); err != nil {
			params.ParseMode = ""
			if _, err := b.SendMessage(ctx, params); err != nil {
				return errors.Wrap(err, "send message")
			}
		}
	}
	return nil
}

// SplitMessage splits a message into chunks of maxLen characters,
// trying to split at newlines when possible.
func SplitMessage(text string, maxLen int) []string {
	if utf8.RuneCountInString(text) <= maxLen {
		return []string{text}
	}

	var parts []string
	for len(text) > 0 {
		if utf8.RuneCountInString(text) <= maxLen {
			parts = append(parts, text)
			break
		}

		runes := []rune(text)
		splitAt := maxLen

		chunk := string(runes[:maxLen])
		if lastNewline := strings.LastIndex(chunk, "\n"); lastNewline >= 0 {
			if n := utf8.RuneCountInString(chunk[:lastNewline]); n > maxLen/2 {
				splitAt = n + 1
			}
		}

		parts = append(parts, string(runes[:splitAt]))
		text = string(runes[splitAt:])
	}
	return parts
}
