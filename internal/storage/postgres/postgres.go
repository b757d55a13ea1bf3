package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"orderflow-lab/internal/observability"
)

// uniqueViolation is the SQLSTATE raised when a primary key collides.
const uniqueViolation = "23505"

// pingTimeout bounds the startup connectivity check.
const pingTimeout = 10 * time.Second

// Pool is a pgx pool that reports query timings to Prometheus.
type Pool struct {
	*pgxpool.Pool
	metrics *observability.Metrics
}

// NewPool connects to dsn and fails fast if the server is unreachable.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	inner, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := inner.Ping(pingCtx); err != nil {
		inner.Close()
		return nil, fmt.Errorf("ping postgres %s: %w", cfg.ConnConfig.Host, err)
	}

	return &Pool{Pool: inner, metrics: observability.DefaultMetrics}, nil
}

// SetMetrics swaps the sink for query timings. Nil is ignored.
func (p *Pool) SetMetrics(m *observability.Metrics) {
	if m != nil {
		p.metrics = m
	}
}

func (p *Pool) observe(operation string, start time.Time, err error) {
	p.metrics.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), err)
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
