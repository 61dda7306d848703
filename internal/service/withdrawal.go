package service

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/repository"
)

// WithdrawalService holds and pays out user balances. A request only checks
// the balance; money leaves the account when the request is approved, and
// the balance is checked again at that point.
type WithdrawalService struct {
	store   repository.Store
	rules   config.Rules
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewWithdrawalService(store repository.Store, rules config.Rules, m *metrics.Metrics, logger *zap.Logger) *WithdrawalService {
	return &WithdrawalService{
		store:   store,
		rules:   rules,
		metrics: m,
		logger:  logger.Named("withdrawal"),
		now:     time.Now,
	}
}

type WithdrawalParams struct {
	UserID  int64
	Amount  int64
	Method  domain.PayoutMethod
	Details json.RawMessage
}

func (s *WithdrawalService) RequestWithdrawal(ctx context.Context, p WithdrawalParams) (*domain.WithdrawalRequest, error) {
	if p.Amount <= 0 || p.Amount < s.rules.MinWithdrawal {
		return nil, domain.ErrInvalidWithdrawalAmount
	}
	details, err := domain.ValidatePayoutDetails(p.Method, p.Details)
	if err != nil {
		return nil, err
	}
	defer s.metrics.ObserveTx("request_withdrawal", time.Now())

	now := s.now()
	var req *domain.WithdrawalRequest
	err = s.store.InTx(ctx, func(q repository.Querier) error {
		user, err := q.GetUserForUpdate(ctx, p.UserID)
		if err != nil {
			return err
		}

		held, err := q.SumPendingWithdrawals(ctx, p.UserID)
		if err != nil {
			return err
		}
		if p.Amount > user.Available()-held {
			return domain.ErrInsufficientBalance
		}

		pending, err := q.CountPendingWithdrawals(ctx, p.UserID)
		if err != nil {
			return err
		}
		if pending > 0 {
			return domain.ErrWithdrawalPending
		}

		req, err = q.InsertWithdrawal(ctx, repository.InsertWithdrawalParams{
			UserID:    p.UserID,
			Amount:    p.Amount,
			Method:    p.Method,
			Details:   details,
			CreatedAt: now,
		})
		return err
	})
	if err != nil {
		s.logResult("request withdrawal", p.UserID, err)
		return nil, err
	}

	s.metrics.Withdrawals.WithLabelValues("requested").Inc()
	s.logger.Info("withdrawal requested",
		zap.Int64("request_id", req.ID),
		zap.Int64("user_id", req.UserID),
		zap.Int64("amount", req.Amount),
		zap.String("method", string(req.Method)),
	)
	return req, nil
}

// ApplyWithdrawalVerdict resolves a pending request. Approval debits the
// earnings balance first and takes the remainder from the referral balance.
// If the balance no longer covers the amount the request stays pending.
func (s *WithdrawalService) ApplyWithdrawalVerdict(ctx context.Context, requestID int64, verdict domain.Verdict) (*domain.WithdrawalRequest, error) {
	if verdict != domain.VerdictApprove && verdict != domain.VerdictReject {
		return nil, domain.ErrInvalidVerdict
	}
	defer s.metrics.ObserveTx("withdrawal_verdict", time.Now())

	now := s.now()
	var req *domain.WithdrawalRequest
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		req, err = q.GetWithdrawalForUpdate(ctx, requestID)
		if err != nil {
			return err
		}
		if req.Status != domain.WithdrawalStatusPending {
			return domain.ErrInvalidWithdrawalState
		}

		status := domain.WithdrawalStatusRejected
		if verdict == domain.VerdictApprove {
			status = domain.WithdrawalStatusApproved
			if err := s.debit(ctx, q, req); err != nil {
				return err
			}
		}

		ok, err := q.ResolveWithdrawal(ctx, req.ID, status, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidWithdrawalState
		}
		req.Status = status
		req.ResolvedAt = &now
		return nil
	})
	if err != nil {
		s.logResult("apply withdrawal verdict", requestID, err)
		return nil, err
	}

	s.metrics.Withdrawals.WithLabelValues(string(req.Status)).Inc()
	s.logger.Info("withdrawal resolved",
		zap.Int64("request_id", req.ID),
		zap.Int64("user_id", req.UserID),
		zap.String("status", string(req.Status)),
	)
	return req, nil
}

func (s *WithdrawalService) debit(ctx context.Context, q repository.Querier, req *domain.WithdrawalRequest) error {
	user, err := q.GetUserForUpdate(ctx, req.UserID)
	if err != nil {
		return err
	}
	if req.Amount > user.Available() {
		return domain.ErrInsufficientBalance
	}

	fromEarnings := min(req.Amount, user.EarningsBalance)
	fromReferral := req.Amount - fromEarnings
	return q.DebitBalances(ctx, user.ID, fromEarnings, fromReferral)
}

// History lists a user's requests, newest first.
func (s *WithdrawalService) History(ctx context.Context, userID int64) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		out, err = q.ListWithdrawals(ctx, userID)
		return err
	})
	return out, err
}

// ListPending is the payout review queue, oldest first.
func (s *WithdrawalService) ListPending(ctx context.Context, limit int) ([]domain.WithdrawalRequest, error) {
	var out []domain.WithdrawalRequest
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		out, err = q.ListPendingWithdrawals(ctx, limit)
		return err
	})
	return out, err
}

func (s *WithdrawalService) logResult(op string, id int64, err error) {
	if domain.IsExpected(err) {
		s.logger.Info(op+" refused", zap.Int64("id", id), zap.Error(err))
		return
	}
	s.logger.Error(op, zap.Int64("id", id), zap.Error(err))
}
