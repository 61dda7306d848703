package handler

import (
	"github.com/go-telegram/bot"

	"github.com/set-night/tasker/internal/middleware"
	tg "github.com/set-night/tasker/internal/telegram"
)

// Register registers all command and callback handlers on the bot.
func (h *Handler) Register() {
	admin := middleware.AdminOnly(h.cfg)

	// User commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, h.handleStart)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/balance", bot.MatchTypePrefix, h.handleBalance)
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/referral", bot.MatchTypePrefix, h.handleReferral)

	// Moderation commands
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/pending", bot.MatchTypePrefix, admin(h.handlePending))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/approve", bot.MatchTypePrefix, admin(h.handleApprove))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/reject", bot.MatchTypePrefix, admin(h.handleReject))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/withdrawals", bot.MatchTypePrefix, admin(h.handleWithdrawals))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/wapprove", bot.MatchTypePrefix, admin(h.handleWithdrawalApprove))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/wreject", bot.MatchTypePrefix, admin(h.handleWithdrawalReject))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/addtask", bot.MatchTypePrefix, admin(h.handleAddTask))
	h.bot.RegisterHandler(bot.HandlerTypeMessageText, "/stat", bot.MatchTypePrefix, admin(h.handleStat))

	// Moderation buttons
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackLeaseApprove, bot.MatchTypePrefix, admin(h.handleLeaseVerdictCallback))
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackLeaseReject, bot.MatchTypePrefix, admin(h.handleLeaseVerdictCallback))
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackWithdrawalApprove, bot.MatchTypePrefix, admin(h.handleWithdrawalVerdictCallback))
	h.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, tg.CallbackWithdrawalReject, bot.MatchTypePrefix, admin(h.handleWithdrawalVerdictCallback))
}
