package router

import (
	"maps"
	"net/http"
	"slices"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/router/middleware"
	"github.com/set-night/tasker/internal/service"
	"github.com/set-night/tasker/internal/storage"
)

// Feed receives events the moderators want to hear about.
type Feed interface {
	LogRegistration(user *domain.User, referrerID *int64)
	LogSubmission(lease *domain.Lease)
	LogWithdrawalRequest(req *domain.WithdrawalRequest)
}

type nopFeed struct{}

func (nopFeed) LogRegistration(*domain.User, *int64) {}
func (nopFeed) LogSubmission(*domain.Lease) {}
func (nopFeed) LogWithdrawalRequest(*domain.WithdrawalRequest) {}

type Deps struct {
	Cfg         *config.Config
	Users       *service.UserService
	Leases      *service.LeaseService
	Submissions *service.SubmissionService
	Withdrawals *service.WithdrawalService
	Files       *storage.FileStore
	// Feed is optional.
	Feed Feed
	// Gatherer backs /metrics; the route is not mounted when nil.
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

type HttpRouter struct {
	*fiber.App
	cfg         *config.Config
	users       *service.UserService
	leases      *service.LeaseService
	submissions *service.SubmissionService
	withdrawals *service.WithdrawalService
	files       *storage.FileStore
	feed        Feed
	appLogger   *zap.Logger
}

func (r *HttpRouter) Run() error {
	return r.App.Listen(":" + strconv.Itoa(r.cfg.HTTPPort))
}

func (r *HttpRouter) Close() error {
	return r.App.ShutdownWithTimeout(r.cfg.ShutdownGrace)
}

func (r *HttpRouter) Register(ctx *fiber.Ctx, userID int64) error {
	request := &registerRequest{}
	if err := ctx.BodyParser(request); err != nil {
		return badRequest(ctx)
	}
	user, created, err := r.users.Register(ctx.Context(), service.RegisterParams{
		ID:         userID,
		Username:   request.Username,
		FirstName:  request.FirstName,
		ReferrerID: request.ReferrerID,
	})
	if err != nil {
		return r.fail(ctx, "register", err)
	}
	if created {
		r.feed.LogRegistration(user, user.ReferredBy)
		ctx.Status(http.StatusCreated)
	}
	return ctx.JSON(toUser(user))
}

func (r *HttpRouter) Me(ctx *fiber.Ctx, userID int64) error {
	user, err := r.users.Get(ctx.Context(), userID)
	if err != nil {
		return r.fail(ctx, "get user", err)
	}
	return ctx.JSON(toUser(user))
}

func (r *HttpRouter) PublicConfig(ctx *fiber.Ctx) error {
	rules := r.cfg.Rules
	return ctx.JSON(configResponse{
		SimpleTaskPrice:   rules.SimpleTaskPrice,
		PhoneTaskPrice:    rules.PhoneTaskPrice,
		MaxActiveLeases:   rules.MaxActiveLeases,
		LeaseDurationSecs: int64(rules.LeaseDuration.Seconds()),
		MinWithdrawal:     rules.MinWithdrawal,
		CommissionRate:    rules.CommissionRate.String(),
		MaxAttachments:    config.MaxAttachments,
		MaxFileSize:       r.cfg.MaxFileSize,
		AttachmentTypes:   slices.Sorted(maps.Keys(config.AllowedAttachmentTypes)),
	})
}

func (r *HttpRouter) RequestLease(ctx *fiber.Ctx, userID int64) error {
	request := &leaseRequest{}
	if err := ctx.BodyParser(request); err != nil {
		return badRequest(ctx)
	}
	lease, err := r.leases.RequestLease(ctx.Context(), userID, domain.TaskKind(request.Kind))
	if err != nil {
		return r.fail(ctx, "request lease", err)
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(toLease(lease))
}

func (r *HttpRouter) ActiveLeases(ctx *fiber.Ctx, userID int64) error {
	leases, err := r.leases.ListActiveLeases(ctx.Context(), userID)
	if err != nil {
		return r.fail(ctx, "list active leases", err)
	}
	return ctx.JSON(toLeases(leases))
}

func (r *HttpRouter) GetLease(ctx *fiber.Ctx, userID int64) error {
	leaseID, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx)
	}
	lease, err := r.leases.GetLease(ctx.Context(), leaseID, userID)
	if err != nil {
		return r.fail(ctx, "get lease", err)
	}
	return ctx.JSON(toLease(lease))
}

func (r *HttpRouter) CancelLease(ctx *fiber.Ctx, userID int64) error {
	leaseID, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx)
	}
	lease, err := r.leases.CancelLease(ctx.Context(), leaseID, userID)
	if err != nil {
		return r.fail(ctx, "cancel lease", err)
	}
	return ctx.JSON(toLease(lease))
}

func (r *HttpRouter) UploadAttachment(ctx *fiber.Ctx, userID int64) error {
	leaseID, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx)
	}
	lease, err := r.leases.GetActiveLease(ctx.Context(), leaseID, userID)
	if err != nil {
		return r.fail(ctx, "upload attachment", err)
	}

	header, err := ctx.FormFile("file")
	if err != nil {
		return badRequest(ctx)
	}
	if header.Size > int64(r.cfg.MaxFileSize) {
		return r.fail(ctx, "upload attachment", storage.ErrFileTooLarge)
	}
	file, err := header.Open()
	if err != nil {
		return r.fail(ctx, "upload attachment", err)
	}
	defer file.Close()

	ref, err := r.files.SaveCapped(lease.AttachmentPrefix(), file, config.MaxAttachments)
	if err != nil {
		return r.fail(ctx, "upload attachment", err)
	}
	ctx.Status(http.StatusCreated)
	return ctx.JSON(fiber.Map{"status": "success", "ref": ref})
}

func (r *HttpRouter) Submit(ctx *fiber.Ctx, userID int64) error {
	leaseID, ok := paramID(ctx)
	if !ok {
		return badRequest(ctx)
	}
	request := &submitRequest{}
	if err := ctx.BodyParser(request); err != nil {
		return badRequest(ctx)
	}

	lease, err := r.leases.GetLease(ctx.Context(), leaseID, userID)
	if err != nil {
		return r.fail(ctx, "submit", err)
	}
	prefix := lease.AttachmentPrefix()
	for _, ref := range request.Attachments {
		if !r.files.Owns(ref, prefix) || !r.files.Exists(ref) {
			return r.fail(ctx, "submit", storage.ErrInvalidRef)
		}
	}

	lease, err = r.submissions.Submit(ctx.Context(), service.SubmitParams{
		LeaseID:     leaseID,
		UserID:      userID,
		Attachments: request.Attachments,
		Value:       request.Value,
	})
	if err != nil {
		return r.fail(ctx, "submit", err)
	}
	r.feed.LogSubmission(lease)
	return ctx.JSON(toLease(lease))
}

func (r *HttpRouter) RequestWithdrawal(ctx *fiber.Ctx, userID int64) error {
	request := &withdrawalRequest{}
	if err := ctx.BodyParser(request); err != nil {
		return badRequest(ctx)
	}
	req, err := r.withdrawals.RequestWithdrawal(ctx.Context(), service.WithdrawalParams{
		UserID:  userID,
		Amount:  request.Amount,
		Method:  domain.PayoutMethod(request.Method),
		Details: request.Details,
	})
	if err != nil {
		return r.fail(ctx, "request withdrawal", err)
	}
	r.feed.LogWithdrawalRequest(req)
	ctx.Status(http.StatusCreated)
	return ctx.JSON(toWithdrawal(req))
}

func (r *HttpRouter) Withdrawals(ctx *fiber.Ctx, userID int64) error {
	history, err := r.withdrawals.History(ctx.Context(), userID)
	if err != nil {
		return r.fail(ctx, "withdrawal history", err)
	}
	out := make([]withdrawalResponse, 0, len(history))
	for i := range history {
		out = append(out, toWithdrawal(&history[i]))
	}
	return ctx.JSON(out)
}

func (r *HttpRouter) ReferralStats(ctx *fiber.Ctx, userID int64) error {
	user, err := r.users.Get(ctx.Context(), userID)
	if err != nil {
		return r.fail(ctx, "referral stats", err)
	}
	stats, err := r.users.ReferralStats(ctx.Context(), userID)
	if err != nil {
		return r.fail(ctx, "referral stats", err)
	}
	postings, err := r.users.ListCommissions(ctx.Context(), userID, config.CommissionsPageSize)
	if err != nil {
		return r.fail(ctx, "referral stats", err)
	}

	resp := referralStatsResponse{
		ReferralCount:   stats.ReferralCount,
		TotalCommission: stats.TotalCommission,
		ReferralBalance: user.ReferralBalance,
		Commissions:     make([]commissionResponse, 0, len(postings)),
	}
	for _, p := range postings {
		resp.Commissions = append(resp.Commissions, commissionResponse{
			ReferredID:    p.ReferredID,
			SourceLeaseID: p.SourceLeaseID,
			Amount:        p.Amount,
			TaskKind:      string(p.TaskKind),
			CreatedAt:     p.CreatedAt,
		})
	}
	return ctx.JSON(resp)
}

func (r *HttpRouter) ReferralLink(ctx *fiber.Ctx, userID int64) error {
	return ctx.JSON(fiber.Map{"status": "success", "link": r.users.ReferralLink(userID)})
}

func (r *HttpRouter) ReferralQR(ctx *fiber.Ctx, userID int64) error {
	png, err := r.users.ReferralQR(userID)
	if err != nil {
		return r.fail(ctx, "referral qr", err)
	}
	ctx.Type("png")
	return ctx.Send(png)
}

func (r *HttpRouter) Health(ctx *fiber.Ctx) error {
	return ctx.JSON(fiber.Map{"status": "ok"})
}

// withUser resolves the caller from the verified token.
func withUser(h func(ctx *fiber.Ctx, userID int64) error) fiber.Handler {
	return func(ctx *fiber.Ctx) error {
		userID, ok := middleware.UserID(ctx)
		if !ok {
			ctx.Status(http.StatusUnauthorized)
			return ctx.JSON(fiber.Map{"status": "error", "code": "unauthorized", "message": "Необходима авторизация"})
		}
		return h(ctx, userID)
	}
}

func paramID(ctx *fiber.Ctx) (int64, bool) {
	id, err := strconv.ParseInt(ctx.Params("id"), 10, 64)
	return id, err == nil && id > 0
}

func CreateRouter(deps Deps) *HttpRouter {
	appLogger := deps.Logger.Named("app")
	r := &HttpRouter{
		cfg:         deps.Cfg,
		users:       deps.Users,
		leases:      deps.Leases,
		submissions: deps.Submissions,
		withdrawals: deps.Withdrawals,
		files:       deps.Files,
		feed:        deps.Feed,
		appLogger:   appLogger,
	}
	if r.feed == nil {
		r.feed = nopFeed{}
	}

	r.App = fiber.New(fiber.Config{
		BodyLimit:             deps.Cfg.MaxFileSize + 1<<20,
		DisableStartupMessage: true,
		ErrorHandler:          r.errorHandler,
	})
	r.Use(recover.New(recover.Config{EnableStackTrace: true}))
	r.Use(middleware.Logging(appLogger))

	r.Get("/health", r.Health)
	if deps.Gatherer != nil {
		r.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	api := r.Group("/api/v1")
	api.Get("/config", r.PublicConfig)

	protected := middleware.Protected([]byte(deps.Cfg.JWTSecret))
	api.Post("/auth/register", protected, withUser(r.Register))
	api.Get("/users/me", protected, withUser(r.Me))

	leases := api.Group("/leases", protected)
	leases.Post("/", withUser(r.RequestLease))
	leases.Get("/active", withUser(r.ActiveLeases))
	leases.Get("/:id", withUser(r.GetLease))
	leases.Post("/:id/cancel", withUser(r.CancelLease))
	leases.Post("/:id/attachments", withUser(r.UploadAttachment))
	leases.Post("/:id/submit", withUser(r.Submit))

	withdrawals := api.Group("/withdrawals", protected)
	withdrawals.Post("/", withUser(r.RequestWithdrawal))
	withdrawals.Get("/", withUser(r.Withdrawals))

	referrals := api.Group("/referrals", protected)
	referrals.Get("/stats", withUser(r.ReferralStats))
	referrals.Get("/link", withUser(r.ReferralLink))
	referrals.Get("/qr", withUser(r.ReferralQR))
	return r
}
