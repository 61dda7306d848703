package handler

import (
	"github.com/go-telegram/bot"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/service"
	"github.com/set-night/tasker/internal/telegram"
)

// Handler holds all dependencies needed by command and callback handlers.
type Handler struct {
	bot               *bot.Bot
	cfg               *config.Config
	userService       *service.UserService
	taskService       *service.TaskService
	submissionService *service.SubmissionService
	verdictService    *service.VerdictService
	withdrawalService *service.WithdrawalService
	files             telegram.AttachmentOpener
	tgLogger          *telegram.TelegramLogger
	logger            *zap.Logger
}

// Deps contains all dependencies required to construct a Handler.
type Deps struct {
	Bot               *bot.Bot
	Cfg               *config.Config
	UserService       *service.UserService
	TaskService       *service.TaskService
	SubmissionService *service.SubmissionService
	VerdictService    *service.VerdictService
	WithdrawalService *service.WithdrawalService
	Files             telegram.AttachmentOpener
	TgLogger          *telegram.TelegramLogger
	Logger            *zap.Logger
}

// New creates a new Handler from the provided dependencies.
func New(deps Deps) *Handler {
	return &Handler{
		bot:               deps.Bot,
		cfg:               deps.Cfg,
		userService:       deps.UserService,
		taskService:       deps.TaskService,
		submissionService: deps.SubmissionService,
		verdictService:    deps.VerdictService,
		withdrawalService: deps.WithdrawalService,
		files:             deps.Files,
		tgLogger:          deps.TgLogger,
		logger:            deps.Logger.Named("handler"),
	}
}
