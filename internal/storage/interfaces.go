package storage

import (
	"context"
	"time"

	"orderflow-lab/internal/domain"
)

// SnapshotStore provides access to mbp_snapshots storage.
type SnapshotStore interface {
	// InsertBulk adds multiple snapshots atomically.
	// Fails entire batch on duplicate (symbol, ts_event, sequence).
	InsertBulk(ctx context.Context, snaps []*domain.Snapshot) error

	// GetBySymbol retrieves all snapshots for a symbol, ordered by (ts_event, sequence) ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.Snapshot, error)

	// GetByTimeRange retrieves snapshots for a symbol within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]*domain.Snapshot, error)

	// ListSymbols returns the distinct symbols stored, sorted ASC.
	ListSymbols(ctx context.Context) ([]string, error)
}

// FeatureStore provides access to ofi_features storage.
type FeatureStore interface {
	// InsertBulk adds multiple feature rows. Fails entire batch on duplicate (symbol, minute).
	InsertBulk(ctx context.Context, rows []*domain.FeatureRow) error

	// GetBySymbol retrieves all feature rows for a symbol, ordered by minute ASC.
	GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeatureRow, error)

	// GetByTimeRange retrieves feature rows for a symbol with minute within [start, end] (inclusive).
	GetByTimeRange(ctx context.Context, symbol string, start, end time.Time) ([]*domain.FeatureRow, error)
}
