package verification

import (
	"context"
	"errors"
	"fmt"

	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/ofi"
	"orderflow-lab/internal/storage"
)

// ErrNoStoredFeatures is returned when a symbol has no stored feature rows.
var ErrNoStoredFeatures = errors.New("no stored features")

// ReplayVerifier implements Verifier.
type ReplayVerifier struct {
	runner   *ofi.Runner
	features storage.FeatureStore
}

// ReplayVerifierOptions contains configuration for creating a ReplayVerifier.
type ReplayVerifierOptions struct {
	Pipeline      *ofi.Pipeline // must use the settings the stored tables were built with
	SnapshotStore storage.SnapshotStore
	FeatureStore  storage.FeatureStore
}

// NewReplayVerifier creates a new ReplayVerifier.
func NewReplayVerifier(opts ReplayVerifierOptions) *ReplayVerifier {
	return &ReplayVerifier{
		// nil feature store: a rebuild must never write
		runner:   ofi.NewRunner(opts.Pipeline, opts.SnapshotStore, nil),
		features: opts.FeatureStore,
	}
}

var _ Verifier = (*ReplayVerifier)(nil)

// VerifySymbol rebuilds the symbol from stored snapshots and compares the
// result with its stored feature rows.
func (v *ReplayVerifier) VerifySymbol(ctx context.Context, symbol string) (*VerificationResult, error) {
	stored, err := v.features.GetBySymbol(ctx, symbol)
	if err != nil {
		return nil, fmt.Errorf("load stored features for %s: %w", symbol, err)
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoStoredFeatures, symbol)
	}

	rebuilt, err := v.runner.BuildSymbol(ctx, symbol)
	if err != nil {
		return nil, err
	}

	divergences := CompareFeatureTables(stored, rebuilt.Rows)
	return &VerificationResult{
		Symbol:         symbol,
		Match:          len(divergences) == 0,
		Divergences:    divergences,
		StoredRows:     len(stored),
		ReplayedRows:   len(rebuilt.Rows),
		StoredDigest:   idhash.ComputeFeatureDigest(stored),
		ReplayedDigest: idhash.ComputeFeatureDigest(rebuilt.Rows),
	}, nil
}

// VerifyAll verifies each symbol in turn. A per-symbol failure is recorded
// as a divergence; only context cancellation aborts the run.
func (v *ReplayVerifier) VerifyAll(ctx context.Context, symbols []string) (*VerificationReport, error) {
	report := &VerificationReport{
		TotalSymbols: len(symbols),
		Results:      make([]VerificationResult, 0, len(symbols)),
	}

	for _, symbol := range symbols {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := v.VerifySymbol(ctx, symbol)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			report.Results = append(report.Results, VerificationResult{
				Symbol: symbol,
				Match:  false,
				Divergences: []FieldDivergence{
					{Field: "error", Expected: nil, Actual: err.Error()},
				},
			})
			report.DivergentSymbols++
			continue
		}

		report.Results = append(report.Results, *result)
		if result.Match {
			report.MatchedSymbols++
		} else {
			report.DivergentSymbols++
		}
	}

	return report, nil
}
