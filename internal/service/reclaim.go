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

// AttachmentStore deletes attachment references on behalf of the engine.
type AttachmentStore interface {
	Discard(ctx context.Context, refs []string) error
}

type ReclaimService struct {
	store   repository.Store
	rules   config.Rules
	files   AttachmentStore
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

func NewReclaimService(store repository.Store, rules config.Rules, files AttachmentStore, m *metrics.Metrics, logger *zap.Logger) *ReclaimService {
	return &ReclaimService{
		store:   store,
		rules:   rules,
		files:   files,
		metrics: m,
		logger:  logger.Named("reclaim"),
		now:     time.Now,
	}
}

// Sweep expires every lease whose deadline has passed and returns the
// number it released. Batches are claimed with SKIP LOCKED, so concurrent
// sweeps split the work instead of repeating it.
func (s *ReclaimService) Sweep(ctx context.Context) (int, error) {
	defer s.metrics.ObserveTx("sweep", time.Now())

	total := 0
	for {
		now := s.now()
		claimed, released := 0, 0
		err := s.store.InTx(ctx, func(q repository.Querier) error {
			claimed, released = 0, 0
			leases, err := q.ClaimExpiredLeases(ctx, now, s.rules.ReclaimBatchSize)
			if err != nil {
				return err
			}
			claimed = len(leases)
			for i := range leases {
				ok, err := releaseLease(ctx, q, &leases[i], domain.LeaseStateExpired, now)
				if err != nil {
					return errors.Wrapf(err, "expire lease %d", leases[i].ID)
				}
				if ok {
					released++
				}
			}
			return nil
		})
		if err != nil {
			return total, err
		}

		total += released
		s.metrics.LeasesReclaimed.WithLabelValues(string(domain.LeaseStateExpired)).Add(float64(released))
		if claimed < s.rules.ReclaimBatchSize {
			break
		}
	}

	if total > 0 {
		s.logger.Info("expired leases reclaimed", zap.Int("count", total))
	}
	return total, nil
}

// SweepBestEffort runs a sweep on behalf of request traffic. A failure is
// logged and does not fail the caller.
func (s *ReclaimService) SweepBestEffort(ctx context.Context) {
	if _, err := s.Sweep(ctx); err != nil {
		s.logger.Warn("opportunistic sweep failed", zap.Error(err))
	}
}

// DrainDiscards hands queued attachment references to the attachment store
// and marks them processed. Failed batches stay queued for the next run.
func (s *ReclaimService) DrainDiscards(ctx context.Context) (int, error) {
	done := 0
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		pending, err := q.ClaimPendingDiscards(ctx, s.rules.ReclaimBatchSize)
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		refs := make([]string, len(pending))
		ids := make([]int64, len(pending))
		for i, d := range pending {
			refs[i] = d.Ref
			ids[i] = d.ID
		}
		if err := s.files.Discard(ctx, refs); err != nil {
			return errors.Wrap(err, "discard attachments")
		}
		if err := q.MarkDiscardsDone(ctx, ids, s.now()); err != nil {
			return err
		}
		done = len(pending)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return done, nil
}

// Run sweeps and drains every interval until ctx is done.
func (s *ReclaimService) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep expired leases", zap.Error(err))
			}
			if _, err := s.DrainDiscards(ctx); err != nil {
				s.logger.Error("drain attachment discards", zap.Error(err))
			}
		}
	}
}

// releaseLease ends a leased lease in state to, returns its task to the pool
// and queues its uploads for discard. It reports false when the lease had
// already left the leased state, in which case nothing is written.
func releaseLease(ctx context.Context, q repository.Querier, l *domain.Lease, to domain.LeaseState, now time.Time) (bool, error) {
	moved, err := q.TransitionLease(ctx, repository.TransitionLeaseParams{
		ID:   l.ID,
		From: domain.LeaseStateLeased,
		To:   to,
		At:   now,
	})
	if err != nil || !moved {
		return false, err
	}
	if _, err := q.ReleaseTask(ctx, l.TaskID); err != nil {
		return false, err
	}

	refs := append([]string{l.AttachmentPrefix()}, l.Attachments...)
	if err := q.EnqueueDiscards(ctx, l.ID, refs); err != nil {
		return false, err
	}
	l.State = to
	return true, nil
}
