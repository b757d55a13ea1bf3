package ofi

import (
	"context"
	"time"
)

// FeatureEngine defines the main feature build interface.
type FeatureEngine interface {
	// BuildSymbol computes and persists the feature table of one symbol.
	BuildSymbol(ctx context.Context, symbol string) (*Result, error)

	// BuildRange is BuildSymbol restricted to snapshots within [start, end].
	BuildRange(ctx context.Context, symbol string, start, end time.Time) (*Result, error)

	// BuildBatch builds several symbols, at most workers at a time.
	BuildBatch(ctx context.Context, symbols []string, workers int) ([]*Result, error)
}
