package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/metrics"
	"github.com/set-night/tasker/internal/repository"
)

// LeaseService hands out tasks and keeps the per-user lease cap.
type LeaseService struct {
	store     repository.Store
	rules     config.Rules
	reclaimer *ReclaimService
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time
}

func NewLeaseService(store repository.Store, rules config.Rules, reclaimer *ReclaimService, m *metrics.Metrics, logger *zap.Logger) *LeaseService {
	return &LeaseService{
		store:     store,
		rules:     rules,
		reclaimer: reclaimer,
		metrics:   m,
		logger:    logger.Named("lease"),
		now:       time.Now,
	}
}

// RequestLease binds one available task of kind to the user.
//
// The user row lock serializes requests from the same user so the cap cannot
// be overshot. Candidates are taken in id order and claimed with a
// conditional flip; losing a flip moves on to the next candidate.
func (s *LeaseService) RequestLease(ctx context.Context, userID int64, kind domain.TaskKind) (*domain.Lease, error) {
	if !kind.Valid() {
		return nil, domain.ErrUnknownTaskKind
	}
	s.reclaimer.SweepBestEffort(ctx)
	defer s.metrics.ObserveTx("request_lease", time.Now())

	now := s.now()
	var lease *domain.Lease
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		if _, err := q.GetUserForUpdate(ctx, userID); err != nil {
			return err
		}

		active, err := q.CountLeasesByState(ctx, userID, domain.LeaseStateLeased)
		if err != nil {
			return err
		}
		if active >= s.rules.MaxActiveLeases {
			return domain.ErrLeaseLimitExceeded
		}

		taskID, err := s.claimAvailableTask(ctx, q, kind)
		if err != nil {
			return err
		}

		lease, err = q.InsertLease(ctx, repository.InsertLeaseParams{
			TaskID:    taskID,
			UserID:    userID,
			CreatedAt: now,
			ExpiresAt: now.Add(s.rules.LeaseDuration),
		})
		return err
	})
	if err != nil {
		s.metrics.LeaseRequestFailed.WithLabelValues(failureReason(err)).Inc()
		if !domain.IsExpected(err) {
			s.logger.Error("request lease", zap.Int64("user_id", userID), zap.String("kind", string(kind)), zap.Error(err))
		}
		return nil, err
	}

	s.metrics.LeasesGranted.WithLabelValues(string(kind)).Inc()
	s.logger.Info("lease granted",
		zap.Int64("lease_id", lease.ID),
		zap.Int64("task_id", lease.TaskID),
		zap.Int64("user_id", userID),
		zap.Time("expires_at", lease.ExpiresAt),
	)
	return lease, nil
}

// claimAvailableTask reports ErrNoTaskAvailable as soon as a selection comes
// back empty, and ErrTaskContention when every attempt found candidates but
// lost each of them to concurrent callers.
func (s *LeaseService) claimAvailableTask(ctx context.Context, q repository.Querier, kind domain.TaskKind) (int64, error) {
	for attempt := 0; attempt < s.rules.LeaseSelectAttempts; attempt++ {
		ids, err := q.FindAvailableTaskIDs(ctx, kind, s.rules.LeaseCandidates)
		if err != nil {
			return 0, err
		}
		if len(ids) == 0 {
			return 0, domain.ErrNoTaskAvailable
		}
		for _, id := range ids {
			won, err := q.ClaimTask(ctx, id)
			if err != nil {
				return 0, err
			}
			if won {
				return id, nil
			}
		}
		s.logger.Debug("lost every candidate, reselecting", zap.Int("attempt", attempt+1), zap.Int("candidates", len(ids)))
	}
	return 0, domain.ErrTaskContention
}

// ListActiveLeases returns the user's leases still awaiting submission.
func (s *LeaseService) ListActiveLeases(ctx context.Context, userID int64) ([]domain.Lease, error) {
	s.reclaimer.SweepBestEffort(ctx)

	var leases []domain.Lease
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		leases, err = q.ListUserLeases(ctx, userID, domain.LeaseStateLeased)
		return err
	})
	if err != nil {
		return nil, errors.Wrap(err, "list active leases")
	}

	// A sweep that failed above must not make expired leases look active.
	now := s.now()
	active := leases[:0]
	for _, l := range leases {
		if !l.ExpiredAt(now) {
			active = append(active, l)
		}
	}
	return active, nil
}

// GetLease returns a lease owned by userID.
func (s *LeaseService) GetLease(ctx context.Context, leaseID, userID int64) (*domain.Lease, error) {
	var lease *domain.Lease
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		lease, err = q.GetLease(ctx, leaseID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if lease.UserID != userID {
		return nil, domain.ErrLeaseNotOwned
	}
	return lease, nil
}

// GetActiveLease returns a lease owned by userID that still accepts uploads.
func (s *LeaseService) GetActiveLease(ctx context.Context, leaseID, userID int64) (*domain.Lease, error) {
	lease, err := s.GetLease(ctx, leaseID, userID)
	if err != nil {
		return nil, err
	}
	switch {
	case lease.State == domain.LeaseStateExpired:
		return nil, domain.ErrLeaseExpired
	case lease.State != domain.LeaseStateLeased:
		return nil, domain.ErrInvalidLeaseState
	case lease.ExpiredAt(s.now()):
		return nil, domain.ErrLeaseExpired
	}
	return lease, nil
}

// CancelLease gives a leased task back before its deadline.
func (s *LeaseService) CancelLease(ctx context.Context, leaseID, userID int64) (*domain.Lease, error) {
	defer s.metrics.ObserveTx("cancel_lease", time.Now())

	now := s.now()
	var lease *domain.Lease
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		lease, err = q.GetLeaseForUpdate(ctx, leaseID)
		if err != nil {
			return err
		}
		if lease.UserID != userID {
			return domain.ErrLeaseNotOwned
		}
		if lease.State == domain.LeaseStateExpired || (lease.State == domain.LeaseStateLeased && lease.ExpiredAt(now)) {
			return domain.ErrLeaseExpired
		}
		if lease.State != domain.LeaseStateLeased {
			return domain.ErrInvalidLeaseState
		}

		ok, err := releaseLease(ctx, q, lease, domain.LeaseStateCancelled, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidLeaseState
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.LeasesReclaimed.WithLabelValues(string(domain.LeaseStateCancelled)).Inc()
	s.logger.Info("lease cancelled", zap.Int64("lease_id", leaseID), zap.Int64("user_id", userID))
	return lease, nil
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrNoTaskAvailable):
		return "no_task_available"
	case errors.Is(err, domain.ErrTaskContention):
		return "task_contention"
	case errors.Is(err, domain.ErrLeaseLimitExceeded):
		return "lease_limit_exceeded"
	case errors.Is(err, domain.ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, domain.ErrDuplicateActiveLease):
		return "duplicate_active_lease"
	default:
		return "error"
	}
}
