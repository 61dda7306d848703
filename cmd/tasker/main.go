package main

import (
	"context"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	tasker "github.com/set-night/tasker"
	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/handler"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/middleware"
	"github.com/set-night/tasker/internal/pkg/logger"
	"github.com/set-night/tasker/internal/repository"
	"github.com/set-night/tasker/internal/router"
	"github.com/set-night/tasker/internal/service"
	"github.com/set-night/tasker/internal/storage"
	"github.com/set-night/tasker/internal/telegram"
)

// registrationFeed forwards user loader registrations to a logger that is
// only created once the bot exists.
type registrationFeed func(user *domain.User, referrerID *int64)

func (f registrationFeed) LogRegistration(user *domain.User, referrerID *int64) { f(user, referrerID) }

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Store
	var store repository.Store
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := repository.NewPool(ctx, cfg.DatabaseURL, cfg.Rules.LockTimeout, cfg.Rules.StoreTimeout)
		if err != nil {
			log.Fatal("failed to connect to database", zap.Error(err))
		}
		defer pool.Close()

		migrationsFS, err := fs.Sub(tasker.MigrationsFS, "migrations")
		if err != nil {
			log.Fatal("failed to load embedded migrations", zap.Error(err))
		}
		if err := repository.RunMigrations(cfg.DatabaseURL, migrationsFS, log); err != nil {
			log.Fatal("failed to run migrations", zap.Error(err))
		}
		store = repository.NewPGStore(pool, cfg.Rules.StoreTimeout)
	case config.StoreMemory:
		log.Warn("using in-memory store, state is lost on restart")
		store = repository.NewMemoryStore()
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	files, err := storage.NewFileStore(cfg.UploadDir, int64(cfg.MaxFileSize), log.Named("files"))
	if err != nil {
		log.Fatal("failed to open upload dir", zap.Error(err))
	}

	// Services
	reclaimService := service.NewReclaimService(store, cfg.Rules, files, m, log)
	userService := service.NewUserService(store, cfg, log)
	taskService := service.NewTaskService(store, cfg.Rules, log)
	leaseService := service.NewLeaseService(store, cfg.Rules, reclaimService, m, log)
	submissionService := service.NewSubmissionService(store, m, log)
	verdictService := service.NewVerdictService(store, cfg.Rules, m, log)
	withdrawalService := service.NewWithdrawalService(store, cfg.Rules, m, log)

	// Moderation bot
	var tgLogger *telegram.TelegramLogger
	if cfg.BotToken != "" {
		b, err := bot.New(cfg.BotToken, bot.WithMiddlewares(
			middleware.Recover(log),
			middleware.Logging(log),
			middleware.RateLimit(middleware.NewLimiter(config.RateLimitMessages, config.RateLimitWindow), log),
			middleware.UserLoader(userService, registrationFeed(func(user *domain.User, referrerID *int64) {
				tgLogger.LogRegistration(user, referrerID)
			}), log),
		))
		if err != nil {
			log.Fatal("failed to create bot", zap.Error(err))
		}

		tgLogger = telegram.NewTelegramLogger(b, cfg, files, log)
		handler.New(handler.Deps{
			Bot:               b,
			Cfg:               cfg,
			UserService:       userService,
			TaskService:       taskService,
			SubmissionService: submissionService,
			VerdictService:    verdictService,
			WithdrawalService: withdrawalService,
			Files:             files,
			TgLogger:          tgLogger,
			Logger:            log,
		}).Register()

		log.Info("starting bot", zap.String("username", cfg.BotUsername))
		go b.Start(ctx)
	}

	deps := router.Deps{
		Cfg:         cfg,
		Users:       userService,
		Leases:      leaseService,
		Submissions: submissionService,
		Withdrawals: withdrawalService,
		Files:       files,
		Gatherer:    prometheus.DefaultGatherer,
		Logger:      log,
	}
	if tgLogger != nil {
		deps.Feed = tgLogger
	}
	r := router.CreateRouter(deps)

	go reclaimService.Run(ctx, cfg.Rules.ReclaimInterval)

	go func() {
		log.Info("http server started", zap.Int("port", cfg.HTTPPort))
		if err := r.Run(); err != nil {
			log.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	if err := r.Close(); err != nil {
		log.Error("http shutdown", zap.Error(err))
	}
	log.Info("stopped gracefully")
}
