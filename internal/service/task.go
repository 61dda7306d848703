package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
	"github.com/set-night/tasker/internal/domain"
	"github.com/set-night/tasker/internal/repository"
)

type TaskService struct {
	store  repository.Store
	rules  config.Rules
	logger *zap.Logger
}

func NewTaskService(store repository.Store, rules config.Rules, logger *zap.Logger) *TaskService {
	return &TaskService{store: store, rules: rules, logger: logger.Named("task")}
}

// CreateTask adds a task to the pool at the configured price for its kind.
func (s *TaskService) CreateTask(ctx context.Context, kind domain.TaskKind, url, message string) (*domain.Task, error) {
	price, ok := s.rules.PriceFor(kind)
	if !ok {
		return nil, domain.ErrUnknownTaskKind
	}
	url = strings.TrimSpace(url)
	if err := domain.ValidateTaskURL(url); err != nil {
		return nil, err
	}

	var task *domain.Task
	err := s.store.InTx(ctx, func(q repository.Querier) error {
		var err error
		task, err = q.CreateTask(ctx, repository.CreateTaskParams{
			Kind:        kind,
			URL:         url,
			MessageText: strings.TrimSpace(message),
			Price:       price,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("task created", zap.Int64("task_id", task.ID), zap.String("kind", string(kind)), zap.Int64("price", price))
	return task, nil
}

// CountAvailable reports the free tasks per kind. Kinds with none are
// reported as zero.
func (s *TaskService) CountAvailable(ctx context.Context) (map[domain.TaskKind]int, error) {
	var counts map[domain.TaskKind]int
	err := readWithRetry(ctx, s.store, func(q repository.Querier) error {
		var err error
		counts, err = q.CountAvailableTasks(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}
	for _, k := range []domain.TaskKind{domain.TaskKindSimple, domain.TaskKindPhone} {
		if _, ok := counts[k]; !ok {
			counts[k] = 0
		}
	}
	return counts, nil
}
