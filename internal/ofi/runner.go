package ofi

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// Runner implements FeatureEngine over a snapshot store and a feature store.
type Runner struct {
	pipeline      *Pipeline
	snapshotStore storage.SnapshotStore
	featureStore  storage.FeatureStore // nil skips persistence
}

// NewRunner creates a new feature runner.
func NewRunner(pipeline *Pipeline, snapshots storage.SnapshotStore, features storage.FeatureStore) *Runner {
	return &Runner{
		pipeline:      pipeline,
		snapshotStore: snapshots,
		featureStore:  features,
	}
}

// BuildSymbol computes the feature table of one symbol.
// Steps:
//  1. Load snapshots from the snapshot store
//  2. Run the pipeline
//  3. Persist feature rows, if a feature store is configured
func (r *Runner) BuildSymbol(ctx context.Context, symbol string) (*Result, error) {
	snaps, err := r.snapshotStore.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %s: %w", symbol, err)
	}
	return r.build(ctx, symbol, snaps)
}

// BuildRange computes the feature table from snapshots within [start, end].
func (r *Runner) BuildRange(ctx context.Context, symbol string, start, end time.Time) (*Result, error) {
	snaps, err := r.snapshotStore.GetByTimeRange(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("load snapshots for %s: %w", symbol, err)
	}
	return r.build(ctx, symbol, snaps)
}

// BuildBatch builds multiple symbols with at most workers running at once.
// Results are returned in the order of symbols. The first error cancels the
// remaining builds.
func (r *Runner) BuildBatch(ctx context.Context, symbols []string, workers int) ([]*Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]*Result, len(symbols))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, symbol := range symbols {
		g.Go(func() error {
			res, err := r.BuildSymbol(gctx, symbol)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (r *Runner) build(ctx context.Context, symbol string, snaps []*domain.Snapshot) (*Result, error) {
	res, err := r.pipeline.Run(ctx, symbol, snaps)
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", symbol, err)
	}

	if r.featureStore != nil && len(res.Rows) > 0 {
		if err := r.featureStore.InsertBulk(ctx, res.Rows); err != nil {
			return nil, fmt.Errorf("store features for %s: %w", symbol, err)
		}
	}
	return res, nil
}

var _ FeatureEngine = (*Runner)(nil)
