package telegram

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/go-telegram/bot/models"
)

// Callback data prefixes for the moderation buttons.
const (
	CallbackLeaseApprove      = "lv_approve_"
	CallbackLeaseReject       = "lv_reject_"
	CallbackWithdrawalApprove = "wv_approve_"
	CallbackWithdrawalReject  = "wv_reject_"
)

// InlineButton creates a single inline keyboard button.
func InlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text:         text,
		CallbackData: callbackData,
	}
}

// URLButton creates a URL inline keyboard button.
func URLButton(text, url string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{
		Text: text,
		URL:  url,
	}
}

// InlineKeyboard creates an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]models.InlineKeyboardButton) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// ButtonRow creates a row of inline buttons.
func ButtonRow(buttons ...models.InlineKeyboardButton) []models.InlineKeyboardButton {
	return buttons
}

func LeaseVerdictKeyboard(leaseID int64) *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(
		InlineButton("✅ Принять", fmt.Sprintf("%s%d", CallbackLeaseApprove, leaseID)),
		InlineButton("❌ Отклонить", fmt.Sprintf("%s%d", CallbackLeaseReject, leaseID)),
	))
}

func WithdrawalVerdictKeyboard(requestID int64) *models.InlineKeyboardMarkup {
	return InlineKeyboard(ButtonRow(
		InlineButton("✅ Выплачено", fmt.Sprintf("%s%d", CallbackWithdrawalApprove, requestID)),
		InlineButton("❌ Отклонить", fmt.Sprintf("%s%d", CallbackWithdrawalReject, requestID)),
	))
}

// ParseCallbackID extracts the id that follows prefix in callback data.
func ParseCallbackID(data, prefix string) (int64, bool) {
	raw, ok := strings.CutPrefix(data, prefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}
