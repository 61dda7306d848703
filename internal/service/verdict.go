package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/repository"
)

type VerdictService struct {
	store   repository.Store
	rules   config.Rules
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewVerdictService(store repository.Store, rules config.Rules, m *metrics.Metrics, logger *zap.Logger) *VerdictService {
	return &VerdictService{
		store:   store,
		rules:   rules,
		metrics: m,
		logger:  logger.Named("verdict"),
		now:     time.Now,
	}
}

type VerdictResult struct {
	Lease      *domain.Lease
	Credited   int64
	Commission int64
	ReferrerID *int64
}

// ApplyVerdict resolves a submitted lease. Approval credits the performer
// the task price and, when the performer was referred, posts the commission
// to the referrer. Everything happens in one transaction; a second verdict
// on the same lease fails the state check and changes nothing.
func (s *VerdictService) ApplyVerdict(ctx context.Context, leaseID int64, verdict domain.Verdict) (*VerdictResult, error) {
	if verdict != domain.VerdictApprove && verdict != domain.VerdictReject {
		return nil, domain.ErrInvalidVerdict
	}
	defer s.metrics.ObserveTx("apply_verdict", time.Now())

	now := s.now()
	var res *VerdictResult
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		lease, err := q.GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease.State != domain.LeaseStateSubmitted {
			return domain.ErrInvalidLeaseState
		}

		res = &VerdictResult{Lease: lease}
		if verdict == domain.VerdictApprove {
			err = s.approve(ctx, q, lease, res, now)
		} else {
			err = s.resolve(ctx, q, lease, domain.LeaseStateRejected, now)
		}
		return err
	})
	if err != nil {
		if !domain.IsExpected(err) {
			s.logger.Error("apply verdict", zap.Int64("lease_id", leaseID), zap.String("verdict", string(verdict)), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Verdicts.WithLabelValues(string(verdict)).Inc()
	if res.Commission > 0 {
		s.metrics.CommissionPosted.Add(float64(res.Commission))
	}
	s.logger.Info("verdict applied",
		zap.Int64("lease_id", leaseID),
		zap.String("verdict", string(verdict)),
		zap.Int64("credited", res.Credited),
		zap.Int64("commission", res.Commission),
	)
	return res, nil
}

// resolve moves the lease out of review and frees its task. Attachments are
// kept as the audit trail.
func (s *VerdictService) resolve(ctx context.Context, q repository.Querier, lease *domain.Lease, to domain.LeaseState, now time.Time) error {
	moved, err := q.TransitionLease(ctx, repository.TransitionLeaseParams{
		ID:   lease.ID,
		From: domain.LeaseStateSubmitted,
		To:   to,
		At:   now,
	})
	if err != nil {
		return err
	}
	if !moved {
		return domain.ErrInvalidLeaseState
	}
	if _, err := q.ReleaseTask(ctx, lease.TaskID); err != nil {
		return err
	}
	lease.State = to
	lease.ResolvedAt = &now
	return nil
}

func (s *VerdictService) approve(ctx context.Context, q repository.Querier, lease *domain.Lease, res *VerdictResult, now time.Time) error {
	if lease.Task == nil {
		return errors.Errorf("lease %d has no task loaded", lease.ID)
	}
	price := lease.Task.Price

	performer, referrer, err := s.lockParticipants(ctx, q, lease.UserID)
	if err != nil {
		return err
	}
	if err := s.checkCredit(performer.EarningsBalance, price); err != nil {
		return err
	}

	if err := s.resolve(ctx, q, lease, domain.LeaseStateApproved, now); err != nil {
		return err
	}
	if err := q.AddEarnings(ctx, performer.ID, price); err != nil {
		return err
	}
	res.Credited = price

	if referrer == nil {
		return nil
	}
	commission := s.commissionFor(price)
	if commission <= 0 {
		return nil
	}

	inserted, err := q.InsertCommission(ctx, repository.InsertCommissionParams{
		ReferrerID:    referrer.ID,
		ReferredID:    performer.ID,
		SourceLeaseID: lease.ID,
		Amount:        commission,
		TaskKind:      lease.Task.Kind,
		CreatedAt:     now,
	})
	if err != nil {
		return err
	}
	if !inserted {
		// Posted by an earlier approval of this lease.
		s.logger.Warn("commission already posted", zap.Int64("lease_id", lease.ID))
		return nil
	}
	if err := s.checkCredit(referrer.ReferralBalance, commission); err != nil {
		return err
	}
	if err := q.AddReferralBalance(ctx, referrer.ID, commission); err != nil {
		return err
	}
	res.Commission = commission
	res.ReferrerID = &referrer.ID
	return nil
}

// lockParticipants locks the performer and their referrer, lower user id
// first.
func (s *VerdictService) lockParticipants(ctx context.Context, q repository.Querier, performerID int64) (performer, referrer *domain.User, err error) {
	peek, err := q.GetUser(ctx, performerID)
	if err != nil {
		return nil, nil, err
	}
	if peek.ReferredBy == nil {
		performer, err = q.GetUserForUpdate(ctx, performerID)
		if err != nil {
			return nil, nil, err
		}
		if performer.ReferredBy == nil {
			return performer, nil, nil
		}
		// Attached between the peek and the lock.
		referrer, err = q.GetUserForUpdate(ctx, *performer.ReferredBy)
		return performer, referrer, err
	}

	referrerID := *peek.ReferredBy
	if referrerID < performerID {
		if referrer, err = q.GetUserForUpdate(ctx, referrerID); err != nil {
			return nil, nil, err
		}
		performer, err = q.GetUserForUpdate(ctx, performerID)
	} else {
		if performer, err = q.GetUserForUpdate(ctx, performerID); err != nil {
			return nil, nil, err
		}
		referrer, err = q.GetUserForUpdate(ctx, referrerID)
	}
	if err != nil {
		return nil, nil, err
	}
	return performer, referrer, nil
}

// checkCredit refuses a credit that would carry balance past the ceiling.
func (s *VerdictService) checkCredit(balance, amount int64) error {
	if amount < 0 || balance > s.rules.BalanceCeiling-amount {
		return domain.ErrBalanceOverflow
	}
	return nil
}

// commissionFor is price x rate, rounded half to even.
func (s *VerdictService) commissionFor(price int64) int64 {
	return decimal.NewFromInt(price).Mul(s.rules.CommissionRate).RoundBank(0).IntPart()
}
