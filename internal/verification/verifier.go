// Package verification checks that stored feature tables match a fresh
// rebuild from the stored snapshots.
package verification

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"orderflow-lab/internal/domain"
)

// FloatTolerance is the absolute tolerance for float64 comparisons.
// ClickHouse round-trips float64 exactly; the slack covers stores that
// don't.
const FloatTolerance = 1e-7

// FieldDivergence is a mismatch between a stored and a rebuilt value.
type FieldDivergence struct {
	Minute   time.Time
	Field    string      // ofi_<i>, log_return, mid_price_delta, row or error
	Expected interface{} // stored value
	Actual   interface{} // rebuilt value
}

func (d FieldDivergence) String() string {
	return fmt.Sprintf("%s %s: stored=%v rebuilt=%v", d.Minute.UTC().Format(time.RFC3339), d.Field, d.Expected, d.Actual)
}

// VerificationResult is the outcome for one symbol.
type VerificationResult struct {
	Symbol         string
	Match          bool
	Divergences    []FieldDivergence
	StoredRows     int
	ReplayedRows   int
	StoredDigest   string
	ReplayedDigest string
}

// VerificationReport aggregates results over several symbols.
type VerificationReport struct {
	TotalSymbols     int
	MatchedSymbols   int
	DivergentSymbols int
	Results          []VerificationResult
}

// Verifier rebuilds feature tables and compares them with stored ones.
type Verifier interface {
	VerifySymbol(ctx context.Context, symbol string) (*VerificationResult, error)
	VerifyAll(ctx context.Context, symbols []string) (*VerificationReport, error)
}

// CompareFeatureTables matches rows by minute and compares every column.
// Divergences are ordered by minute, then column.
func CompareFeatureTables(stored, replayed []*domain.FeatureRow) []FieldDivergence {
	storedByMinute := indexByMinute(stored)
	replayedByMinute := indexByMinute(replayed)

	minutes := make([]int64, 0, len(storedByMinute)+len(replayedByMinute))
	for k := range storedByMinute {
		minutes = append(minutes, k)
	}
	for k := range replayedByMinute {
		if _, ok := storedByMinute[k]; !ok {
			minutes = append(minutes, k)
		}
	}
	sort.Slice(minutes, func(i, j int) bool { return minutes[i] < minutes[j] })

	var divergences []FieldDivergence
	for _, k := range minutes {
		s, inStored := storedByMinute[k]
		r, inReplayed := replayedByMinute[k]
		minute := time.Unix(0, k).UTC()

		switch {
		case !inReplayed:
			divergences = append(divergences, FieldDivergence{Minute: minute, Field: "row", Expected: "present", Actual: "missing"})
		case !inStored:
			divergences = append(divergences, FieldDivergence{Minute: minute, Field: "row", Expected: "missing", Actual: "present"})
		default:
			divergences = append(divergences, compareRows(minute, s, r)...)
		}
	}
	return divergences
}

func compareRows(minute time.Time, stored, replayed *domain.FeatureRow) []FieldDivergence {
	var divergences []FieldDivergence

	if len(stored.OFI) != len(replayed.OFI) {
		divergences = append(divergences, FieldDivergence{
			Minute:   minute,
			Field:    "levels",
			Expected: len(stored.OFI),
			Actual:   len(replayed.OFI),
		})
	} else {
		for i := range stored.OFI {
			if !floatEquals(stored.OFI[i], replayed.OFI[i]) {
				divergences = append(divergences, FieldDivergence{
					Minute:   minute,
					Field:    fmt.Sprintf("ofi_%d", i),
					Expected: stored.OFI[i],
					Actual:   replayed.OFI[i],
				})
			}
		}
	}

	if !floatEquals(stored.LogReturn, replayed.LogReturn) {
		divergences = append(divergences, FieldDivergence{
			Minute:   minute,
			Field:    "log_return",
			Expected: stored.LogReturn,
			Actual:   replayed.LogReturn,
		})
	}

	if !floatEquals(stored.MidPriceDelta, replayed.MidPriceDelta) {
		divergences = append(divergences, FieldDivergence{
			Minute:   minute,
			Field:    "mid_price_delta",
			Expected: stored.MidPriceDelta,
			Actual:   replayed.MidPriceDelta,
		})
	}

	return divergences
}

func indexByMinute(rows []*domain.FeatureRow) map[int64]*domain.FeatureRow {
	m := make(map[int64]*domain.FeatureRow, len(rows))
	for _, r := range rows {
		m[r.Minute.UnixNano()] = r
	}
	return m
}

func floatEquals(a, b float64) bool {
	if math.IsNaN(a) || math.IsNaN(b) {
		return math.IsNaN(a) && math.IsNaN(b)
	}
	return math.Abs(a-b) <= FloatTolerance
}
