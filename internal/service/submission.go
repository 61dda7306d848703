package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/repository"
)

type SubmissionService struct {
	store   repository.Store
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewSubmissionService(store repository.Store, m *metrics.Metrics, logger *zap.Logger) *SubmissionService {
	return &SubmissionService{
		store:   store,
		metrics: m,
		logger:  logger.Named("submission"),
		now:     time.Now,
	}
}

type SubmitParams struct {
	LeaseID     int64
	UserID      int64
	Attachments []string
	// Value is the disclosed value. Only phone tasks read it.
	Value string
}

// Submit moves a lease into review. The deadline is checked under the lease
// row lock, so a submission racing the reclaim sweep either lands before the
// sweep claims the row or sees it expired.
func (s *SubmissionService) Submit(ctx context.Context, p SubmitParams) (*domain.Lease, error) {
	defer s.metrics.ObserveTx("submit", time.Now())

	now := s.now()
	var lease *domain.Lease
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		lease, err = q.GetLeaseForUpdate(ctx, p.LeaseID)
		if err != nil {
			return err
		}
		if lease.UserID != p.UserID {
			return domain.ErrLeaseNotOwned
		}
		switch {
		case lease.State == domain.LeaseStateExpired:
			return domain.ErrLeaseExpired
		case lease.State != domain.LeaseStateLeased:
			return domain.ErrInvalidLeaseState
		case lease.ExpiredAt(now):
			return domain.ErrLeaseExpired
		}

		if err := domain.ValidateAttachments(p.Attachments, config.MaxAttachments); err != nil {
			return err
		}

		var value *string
		if lease.Task != nil && lease.Task.Kind.RequiresValue() {
			v := strings.TrimSpace(p.Value)
			if !domain.ValidPhone(v) {
				return domain.ErrInvalidDisclosedValue
			}
			value = &v
		}

		ok, err := q.MarkLeaseSubmitted(ctx, repository.MarkLeaseSubmittedParams{
			ID:             lease.ID,
			Attachments:    p.Attachments,
			DisclosedValue: value,
			At:             now,
		})
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidLeaseState
		}

		lease.State = domain.LeaseStateSubmitted
		lease.Attachments = p.Attachments
		lease.DisclosedValue = value
		lease.SubmittedAt = &now
		return nil
	})
	if err != nil {
		if !domain.IsExpected(err) {
			s.logger.Error("submit lease", zap.Int64("lease_id", p.LeaseID), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.Submissions.Inc()
	s.logger.Info("lease submitted",
		zap.Int64("lease_id", lease.ID),
		zap.Int64("user_id", lease.UserID),
		zap.Int("attachments", len(lease.Attachments)),
	)
	return lease, nil
}

// ListSubmitted returns the review queue, oldest submission first.
func (s *SubmissionService) ListSubmitted(ctx context.Context, limit int) ([]domain.Lease, error) {
	var leases []domain.Lease
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		leases, err = q.ListSubmittedLeases(ctx, limit)
		return err
	})
	return leases, err
}
