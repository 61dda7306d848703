package router

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/storage"
)

const internalServerErrorMessage = "Произошла ошибка на сервере"
const badRequestMessage = "Неправильный формат данных или в них есть ошибка"

type apiError struct {
	err     error
	status  int
	code    string
	message string
}

var apiErrors = []apiError{
	{domain.ErrNoTaskAvailable, http.StatusNotFound, "no_task_available", "Свободных заданий нет"},
	{domain.ErrTaskContention, http.StatusConflict, "task_contention", "Задания разобрали, попробуйте ещё раз"},
	{domain.ErrLeaseLimitExceeded, http.StatusConflict, "lease_limit_exceeded", "Слишком много активных заданий"},
	{domain.ErrLeaseExpired, http.StatusGone, "lease_expired", "Время на выполнение задания истекло"},
	{domain.ErrInvalidLeaseState, http.StatusConflict, "invalid_lease_state", "Задание уже не в работе"},
	{domain.ErrDuplicateActiveLease, http.StatusConflict, "duplicate_active_lease", "Задание уже выдано"},
	{domain.ErrLeaseNotFound, http.StatusNotFound, "lease_not_found", "Задание не найдено"},
	{domain.ErrLeaseNotOwned, http.StatusForbidden, "lease_not_owned", "Задание выдано другому пользователю"},
	{domain.ErrAttachmentsRequired, http.StatusBadRequest, "attachments_required", "Нужен хотя бы один скриншот"},
	{domain.ErrTooManyAttachments, http.StatusBadRequest, "too_many_attachments", "Слишком много скриншотов"},
	{domain.ErrDuplicateAttachment, http.StatusBadRequest, "duplicate_attachment", "Скриншот указан дважды"},
	{domain.ErrInvalidDisclosedValue, http.StatusBadRequest, "invalid_disclosed_value", "Неверный формат номера телефона"},
	{domain.ErrInvalidVerdict, http.StatusBadRequest, "invalid_verdict", "Неизвестное решение"},
	{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity, "insufficient_balance", "Недостаточно средств"},
	{domain.ErrBalanceOverflow, http.StatusUnprocessableEntity, "balance_overflow", "Превышен лимит баланса"},
	{domain.ErrInvalidWithdrawalAmount, http.StatusBadRequest, "invalid_withdrawal_amount", "Неверная сумма вывода"},
	{domain.ErrWithdrawalPending, http.StatusConflict, "withdrawal_pending", "Уже есть заявка на вывод"},
	{domain.ErrWithdrawalNotFound, http.StatusNotFound, "withdrawal_not_found", "Заявка не найдена"},
	{domain.ErrInvalidWithdrawalState, http.StatusConflict, "invalid_withdrawal_state", "Заявка уже рассмотрена"},
	{domain.ErrInvalidPayoutDetails, http.StatusBadRequest, "invalid_payout_details", "Неверные реквизиты"},
	{domain.ErrSelfReferral, http.StatusBadRequest, "self_referral", "Нельзя пригласить самого себя"},
	{domain.ErrReferrerNotFound, http.StatusNotFound, "referrer_not_found", "Пригласивший пользователь не найден"},
	{domain.ErrReferralAlreadySet, http.StatusConflict, "referral_already_set", "Пригласивший уже указан"},
	{domain.ErrUserNotFound, http.StatusNotFound, "user_not_found", "Пользователь не найден"},
	{domain.ErrTaskNotFound, http.StatusNotFound, "task_not_found", "Задание не найдено"},
	{domain.ErrUnknownTaskKind, http.StatusBadRequest, "unknown_task_kind", "Неизвестный тип задания"},
	{domain.ErrInvalidTaskURL, http.StatusBadRequest, "invalid_task_url", "Неверная ссылка"},
	{storage.ErrFileTooLarge, http.StatusRequestEntityTooLarge, "file_too_large", "Файл слишком большой"},
	{storage.ErrUnsupportedType, http.StatusUnsupportedMediaType, "unsupported_type", "Допустимы только JPEG и PNG"},
	{storage.ErrTooManyFiles, http.StatusBadRequest, "too_many_attachments", "Слишком много скриншотов"},
	{storage.ErrInvalidRef, http.StatusBadRequest, "invalid_attachment", "Скриншот не найден"},
}

// lookupError finds the stable code for err. ok is false for failures that
// are not part of the API contract.
func lookupError(err error) (apiError, bool) {
	for _, e := range apiErrors {
		if errors.Is(err, e.err) {
			return e, true
		}
	}
	return apiError{status: http.StatusInternalServerError, code: "internal", message: internalServerErrorMessage}, false
}

func (r *HttpRouter) fail(ctx *fiber.Ctx, op string, err error) error {
	e, ok := lookupError(err)
	if ok {
		r.appLogger.Debug(op+" refused", zap.String("code", e.code), zap.Error(err))
	} else {
		r.appLogger.Error(op+" failed", zap.Error(err))
	}
	ctx.Status(e.status)
	return ctx.JSON(fiber.Map{"status": "error", "code": e.code, "message": e.message})
}

func badRequest(ctx *fiber.Ctx) error {
	ctx.Status(http.StatusBadRequest)
	return ctx.JSON(fiber.Map{"status": "error", "code": "bad_request", "message": badRequestMessage})
}

// errorHandler renders errors returned from handlers or raised by fiber itself.
func (r *HttpRouter) errorHandler(ctx *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		ctx.Status(fe.Code)
		return ctx.JSON(fiber.Map{"status": "error", "code": statusCode(fe.Code), "message": fe.Message})
	}
	return r.fail(ctx, "request", err)
}

func statusCode(status int) string {
	return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
}
