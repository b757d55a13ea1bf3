// Package metrics computes descriptive statistics of feature tables.
package metrics

import (
	"fmt"
	"math"
	"sort"

	"orderflow-lab/internal/domain"
)

// ColumnStats describes the distribution of one feature column.
type ColumnStats struct {
	Name   string
	Count  int
	Mean   float64
	Stddev float64 // sample, n-1 denominator
	Min    float64
	P10    float64
	Median float64
	P90    float64
	Max    float64
}

// FeatureSummary holds per-column statistics and the contemporaneous
// correlation of each OFI level with the minute log return.
type FeatureSummary struct {
	Rows                 int
	Columns              []ColumnStats // ofi_0..ofi_{L-1}, log_return, mid_price_delta
	OFIReturnCorrelation []float64     // per level, NaN if undefined
}

// ComputeFeatureSummary summarizes rows. Rows with fewer than levels OFI
// values contribute only to the columns they carry.
func ComputeFeatureSummary(rows []*domain.FeatureRow, levels int) *FeatureSummary {
	summary := &FeatureSummary{Rows: len(rows)}

	ofi := make([][]float64, levels)
	returns := make([]float64, 0, len(rows))
	deltas := make([]float64, 0, len(rows))
	for _, r := range rows {
		for i := 0; i < levels && i < len(r.OFI); i++ {
			ofi[i] = append(ofi[i], r.OFI[i])
		}
		returns = append(returns, r.LogReturn)
		deltas = append(deltas, r.MidPriceDelta)
	}

	for i := 0; i < levels; i++ {
		summary.Columns = append(summary.Columns, computeColumn(fmt.Sprintf("ofi_%d", i), ofi[i]))
	}
	summary.Columns = append(summary.Columns,
		computeColumn("log_return", returns),
		computeColumn("mid_price_delta", deltas),
	)

	summary.OFIReturnCorrelation = make([]float64, levels)
	for i := 0; i < levels; i++ {
		if len(ofi[i]) != len(returns) {
			summary.OFIReturnCorrelation[i] = math.NaN()
			continue
		}
		summary.OFIReturnCorrelation[i] = computeCorrelation(ofi[i], returns)
	}
	return summary
}

func computeColumn(name string, values []float64) ColumnStats {
	stats := ColumnStats{Name: name, Count: len(values)}
	if len(values) == 0 {
		return stats
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	stats.Mean = computeMean(values)
	stats.Stddev = computeStddev(values, stats.Mean)
	stats.Min = sorted[0]
	stats.P10 = computePercentile(sorted, 0.10)
	stats.Median = computePercentile(sorted, 0.50)
	stats.P90 = computePercentile(sorted, 0.90)
	stats.Max = sorted[len(sorted)-1]
	return stats
}

// computeMean calculates arithmetic mean.
func computeMean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

// computeStddev calculates sample standard deviation (n-1 denominator).
func computeStddev(values []float64, mean float64) float64 {
	n := len(values)
	if n < 2 {
		return 0
	}
	sumSq := 0.0
	for _, v := range values {
		diff := v - mean
		sumSq += diff * diff
	}
	return math.Sqrt(sumSq / float64(n-1))
}

// computePercentile uses linear interpolation.
// sorted must be pre-sorted ASC.
// p is percentile (0.10 = 10th percentile).
func computePercentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n == 1 {
		return sorted[0]
	}

	idx := p * float64(n-1)
	lower := int(idx)
	upper := lower + 1
	if upper >= n {
		return sorted[n-1]
	}

	frac := idx - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

// computeCorrelation returns the Pearson correlation of x and y, or NaN when
// fewer than two pairs exist or either series is constant.
func computeCorrelation(x, y []float64) float64 {
	n := len(x)
	if n < 2 || n != len(y) {
		return math.NaN()
	}
	mx, my := computeMean(x), computeMean(y)
	var sxy, sxx, syy float64
	for i := range x {
		dx, dy := x[i]-mx, y[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}
