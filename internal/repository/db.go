package repository

import (
	"context"
	"io/fs"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/set-night/tasker/internal/config"
)

// NewPool connects to Postgres. Every session gets lock_timeout and
// statement_timeout so a blocked row lock fails instead of hanging.
func NewPool(ctx context.Context, databaseURL string, lockTimeout, statementTimeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse database config")
	}

	cfg.MaxConns = config.PoolMaxConns
	cfg.MinConns = config.PoolMinConns
	cfg.ConnConfig.RuntimeParams["lock_timeout"] = millis(lockTimeout)
	cfg.ConnConfig.RuntimeParams["statement_timeout"] = millis(statementTimeout)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create connection pool")
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	return pool, nil
}

func millis(d time.Duration) string {
	return strconv.FormatInt(d.Milliseconds(), 10)
}

func RunMigrations(databaseURL string, migrationsFS fs.FS, logger *zap.Logger) error {
	d, err := iofs.New(migrationsFS, ".")
	if err != nil {
		return errors.Wrap(err, "create migration source")
	}

	m, err := migrate.NewWithSourceInstance("iofs", d, databaseURL)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "run migrations")
	}

	version, dirty, _ := m.Version()
	logger.Info("migrations applied", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}
