package handler

import (
	"github.com/go-faster/errors"

	"github.com/set-night/tasker/internal/domain"
)

var errorTexts = []struct {
	err  error
	text string
}{
	{domain.ErrLeaseNotFound, "Задание не найдено."},
	{domain.ErrInvalidLeaseState, "Задание уже рассмотрено или не отправлено на проверку."},
	{domain.ErrBalanceOverflow, "Начисление превысит лимит баланса."},
	{domain.ErrWithdrawalNotFound, "Заявка не найдена."},
	{domain.ErrInvalidWithdrawalState, "Заявка уже рассмотрена."},
	{domain.ErrInsufficientBalance, "Баланса пользователя не хватает, заявка оставлена на рассмотрении."},
	{domain.ErrUnknownTaskKind, "Неизвестный тип задания. Допустимо: simple, phone."},
	{domain.ErrInvalidTaskURL, "Некорректная ссылка."},
	{domain.ErrUserNotFound, "Пользователь не найден."},
}

// errorText renders a service error for a chat reply.
func errorText(err error) string {
	for _, e := range errorTexts {
		if errors.Is(err, e.err) {
			return "❌ " + e.text
		}
	}
	return "❌ Произошла ошибка на сервере."
}
