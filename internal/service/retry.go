package service

import (
	"context"
	"time"

	"github.com/go-faster/errors"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/repository"
)

// readWithRetry runs a read-only unit of work and repeats it once after a
// short pause if it failed on infrastructure. Mutations never go through here.
func readWithRetry(ctx context.Context, store repository.Store, fn func(q repository.Querier) error) error {
	err := store.Read(ctx, fn)
	if !retryable(ctx, err) {
		return err
	}

	timer := time.NewTimer(config.ReadRetryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return err
	case <-timer.C:
	}
	return store.Read(ctx, fn)
}

func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	if domain.IsExpected(err) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}
