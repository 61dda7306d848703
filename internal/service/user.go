package service

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/repository"
)

type UserService struct {
	store  repository.Store
	cfg    *config.Config
	logger *zap.Logger
}

func NewUserService(store repository.Store, cfg *config.Config, logger *zap.Logger) *UserService {
	return &UserService{store: store, cfg: cfg, logger: logger.Named("user")}
}

type RegisterParams struct {
	ID         int64
	Username   string
	FirstName  string
	ReferrerID *int64
}

// Register finds or creates the user and refreshes the profile fields. A
// supplied referrer is attached when the rules allow it; a refused referral
// is logged and does not fail registration.
func (s *UserService) Register(ctx context.Context, p RegisterParams) (*domain.User, bool, error) {
	var (
		user    *domain.User
		created bool
	)
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		user, created, err = q.UpsertUser(ctx, repository.UpsertUserParams{
			ID:        p.ID,
			Username:  p.Username,
			FirstName: p.FirstName,
		})
		if err != nil {
			return err
		}
		if p.ReferrerID == nil {
			return nil
		}

		err = attachReferrer(ctx, q, p.ID, *p.ReferrerID)
		switch {
		case err == nil:
			ref := *p.ReferrerID
			user.ReferredBy = &ref
		case domain.IsExpected(err):
			s.logger.Info("referral not attached",
				zap.Int64("user_id", p.ID),
				zap.Int64("referrer_id", *p.ReferrerID),
				zap.Error(err),
			)
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return nil, false, errors.Wrap(err, "register user")
	}
	if created {
		s.logger.Info("user registered", zap.Int64("user_id", user.ID), zap.Bool("referred", user.ReferredBy != nil))
	}
	return user, created, nil
}

// AttachReferrer records who referred userID. It can only ever be set once.
func (s *UserService) AttachReferrer(ctx context.Context, userID, referrerID int64) error {
	return s.store.InTx(ctx, func(q repository.Querier) error {
		return attachReferrer(ctx, q, userID, referrerID)
	})
}

func attachReferrer(ctx context.Context, q repository.Querier, userID, referrerID int64) error {
	if userID == referrerID {
		return domain.ErrSelfReferral
	}
	user, err := q.GetUserForUpdate(ctx, userID)
	if err != nil {
		return err
	}
	if user.ReferredBy != nil {
		return domain.ErrReferralAlreadySet
	}
	if _, err := q.GetUser(ctx, referrerID); err != nil {
		if errors.Is(err, domain.ErrUserNotFound) {
			return domain.ErrReferrerNotFound
		}
		return err
	}
	ok, err := q.SetReferredBy(ctx, userID, referrerID)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrReferralAlreadySet
	}
	return nil
}

func (s *UserService) Get(ctx context.Context, userID int64) (*domain.User, error) {
	var user *domain.User
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		user, err = q.GetUser(ctx, userID)
		return err
	})
	return user, err
}

func (s *UserService) ReferralStats(ctx context.Context, userID int64) (*domain.ReferralStats, error) {
	var stats domain.ReferralStats
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		if stats.ReferralCount, err = q.CountReferrals(ctx, userID); err != nil {
			return err
		}
		stats.TotalCommission, err = q.SumCommissions(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (s *UserService) ListCommissions(ctx context.Context, referrerID int64, limit int) ([]domain.CommissionPosting, error) {
	var out []domain.CommissionPosting
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		out, err = q.ListCommissions(ctx, referrerID, limit)
		return err
	})
	return out, err
}

func (s *UserService) ReferralLink(userID int64) string {
	return s.cfg.ReferralLink(userID)
}

// ReferralQR renders the referral link as a PNG.
func (s *UserService) ReferralQR(userID int64) ([]byte, error) {
	png, err := qrcode.Encode(s.ReferralLink(userID), qrcode.Medium, config.ReferralQRSize)
	if err != nil {
		return nil, errors.Wrap(err, "encode referral qr")
	}
	return png, nil
}
