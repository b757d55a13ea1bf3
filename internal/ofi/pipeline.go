package ofi

import (
	"context"
	"fmt"
	"math"
	"time"

	"golang.org/x/sync/errgroup"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
)

// DefaultMaxLevels is the number of depth levels used when none is configured.
const DefaultMaxLevels = 5

// Options configures a Pipeline.
type Options struct {
	MaxLevels     int            // 1..domain.MaxDepthLevels, default DefaultMaxLevels
	JoinMode      JoinMode       // default JoinInner
	Boundary      BoundaryPolicy // default BoundarySessionReset
	NumericPolicy NumericPolicy  // default NumericDrop
	Location      *time.Location // session-date zone for Boundary, UTC if nil
	Logger        *logger.Log
	Metrics       *observability.Metrics
}

// Pipeline turns a sorted snapshot series into minute feature rows.
// It holds no per-run state and is safe for concurrent use.
type Pipeline struct {
	maxLevels     int
	joinMode      JoinMode
	boundary      BoundaryPolicy
	numericPolicy NumericPolicy
	location      *time.Location
	log           *logger.Log
	metrics       *observability.Metrics
}

// NewPipeline validates opts and fills defaults.
func NewPipeline(opts Options) (*Pipeline, error) {
	maxLevels := opts.MaxLevels
	if maxLevels == 0 {
		maxLevels = DefaultMaxLevels
	}
	if maxLevels < 1 || maxLevels > domain.MaxDepthLevels {
		return nil, fmt.Errorf("%w: max_levels must be in [1, %d], got %d", ErrInvalidConfig, domain.MaxDepthLevels, maxLevels)
	}

	joinMode, err := ParseJoinMode(string(opts.JoinMode))
	if err != nil {
		return nil, err
	}
	boundary, err := ParseBoundaryPolicy(string(opts.Boundary))
	if err != nil {
		return nil, err
	}
	numericPolicy, err := ParseNumericPolicy(string(opts.NumericPolicy))
	if err != nil {
		return nil, err
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}

	return &Pipeline{
		maxLevels:     maxLevels,
		joinMode:      joinMode,
		boundary:      boundary,
		numericPolicy: numericPolicy,
		location:      loc,
		log:           log,
		metrics:       metrics,
	}, nil
}

// MaxLevels returns the configured depth.
func (p *Pipeline) MaxLevels() int {
	return p.maxLevels
}

// Settings are the effective pipeline settings after defaults.
type Settings struct {
	MaxLevels     int
	JoinMode      JoinMode
	Boundary      BoundaryPolicy
	NumericPolicy NumericPolicy
}

func (p *Pipeline) Settings() Settings {
	return Settings{
		MaxLevels:     p.maxLevels,
		JoinMode:      p.joinMode,
		Boundary:      p.boundary,
		NumericPolicy: p.numericPolicy,
	}
}

// Stats summarizes what a run kept and dropped.
type Stats struct {
	Events               int
	EventMinutes         int
	Alignment            AlignmentStats
	NumericDropped       int
	MissingReturnDropped int
	Emitted              int
}

// Result is the feature table of one symbol.
type Result struct {
	Symbol string
	Rows   []*domain.FeatureRow
	Stats  Stats
}

// Run computes the feature table for one symbol.
// Steps:
//  1. Validate that every snapshot carries the configured depth
//  2. Compute and aggregate flow per level, concurrently
//  3. Count events per minute
//  4. Align levels and event counts on the minute key
//  5. Normalize by the depth scale factor
//  6. Join minute returns and drop incomplete rows
//
// An empty series yields an empty table, not an error.
func (p *Pipeline) Run(ctx context.Context, symbol string, snaps []*domain.Snapshot) (_ *Result, err error) {
	start := time.Now()
	defer func() {
		p.metrics.RecordPipelineRun(observability.PhaseSymbol, observability.RunStatus(err), time.Since(start).Seconds())
	}()
	log := p.log.WithComponent("ofi_pipeline").WithFields(logger.Fields{
		"symbol":     symbol,
		"max_levels": p.maxLevels,
	})

	result := &Result{Symbol: symbol}
	if len(snaps) == 0 {
		log.Info("no snapshots in range, returning empty feature table")
		return result, nil
	}

	// 1. Schema
	if err := p.validateDepth(snaps); err != nil {
		return nil, err
	}
	snaps = ensureSorted(snaps)
	result.Stats.Events = len(snaps)
	p.metrics.EventsProcessed.Add(float64(len(snaps)))

	// 2. Per-level flow; each goroutine writes only its own slot
	buckets := make([][]domain.MinuteBucket, p.maxLevels)
	flowOpts := FlowOptions{Boundary: p.boundary, Location: p.location}
	g, gctx := errgroup.WithContext(ctx)
	for level := 0; level < p.maxLevels; level++ {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			buckets[level] = AggregateLevel(ComputeLevelFlow(snaps, level, flowOpts))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("compute level flow: %w", err)
	}

	// 3. Event counts
	counts := CountEvents(snaps)
	result.Stats.EventMinutes = len(counts)

	// 4. Alignment
	aligned, alignStats := CombineLevels(buckets, counts, p.joinMode)
	result.Stats.Alignment = alignStats
	if alignStats.Dropped() > 0 {
		log.WithFields(logger.Fields{
			"dropped_missing_level": alignStats.DroppedMissingLevel,
			"dropped_no_events":     alignStats.DroppedNoEvents,
			"dropped_unquoted":      alignStats.DroppedUnquoted,
			"missing_by_level":      alignStats.MissingByLevel,
		}).Warn("minutes dropped during level alignment")
	}
	if alignStats.ZeroFilledMinutes > 0 {
		log.WithFields(logger.Fields{
			"zero_filled": alignStats.ZeroFilledMinutes,
		}).Info("minutes zero-filled during level alignment")
	}
	p.metrics.RecordDropped(observability.DropAlignment, alignStats.Dropped())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 5. Normalization
	normalized, numericDropped, err := Normalize(aligned, p.maxLevels, p.numericPolicy)
	if err != nil {
		return nil, err
	}
	result.Stats.NumericDropped = len(numericDropped)
	if len(numericDropped) > 0 {
		log.WithFields(logger.Fields{
			"dropped": len(numericDropped),
			"first":   numericDropped[0].Format(time.RFC3339),
		}).Warn("minutes dropped with zero depth scale factor")
	}
	p.metrics.RecordDropped(observability.DropNumeric, len(numericDropped))

	// 6. Returns join and final filter
	result.Rows, result.Stats.MissingReturnDropped = joinReturns(symbol, normalized, ComputeReturns(snaps))
	result.Stats.Emitted = len(result.Rows)
	p.metrics.RecordDropped(observability.DropMissingReturn, result.Stats.MissingReturnDropped)
	p.metrics.MinutesEmitted.Add(float64(len(result.Rows)))

	log.WithFields(logger.Fields{
		"events":        result.Stats.Events,
		"event_minutes": result.Stats.EventMinutes,
		"emitted":       result.Stats.Emitted,
	}).Info("feature table built")
	log.Duration("ofi_pipeline_run", time.Since(start))

	return result, nil
}

func (p *Pipeline) validateDepth(snaps []*domain.Snapshot) error {
	for i, s := range snaps {
		if len(s.Levels) < p.maxLevels {
			return fmt.Errorf("%w: snapshot %d at %s carries %d levels, need %d",
				ErrInputSchema, i, s.TsEvent.Format(time.RFC3339Nano), len(s.Levels), p.maxLevels)
		}
	}
	return nil
}

// joinReturns attaches each minute's return and keeps only rows where every
// field is defined and finite. It returns the rows and the number dropped.
func joinReturns(symbol string, normalized []domain.NormalizedRow, returns []domain.MinuteReturn) ([]*domain.FeatureRow, int) {
	byMinute := make(map[int64]domain.MinuteReturn, len(returns))
	for _, r := range returns {
		byMinute[r.Minute.UnixNano()] = r
	}

	rows := make([]*domain.FeatureRow, 0, len(normalized))
	dropped := 0
	for _, n := range normalized {
		ret, ok := byMinute[n.Minute.UnixNano()]
		if !ok || ret.PriceDelta == nil || ret.LogReturn == nil || !allFinite(n.OFI) {
			dropped++
			continue
		}
		ofi := make([]float64, len(n.OFI))
		copy(ofi, n.OFI)
		rows = append(rows, &domain.FeatureRow{
			Symbol:        symbol,
			Minute:        n.Minute,
			OFI:           ofi,
			LogReturn:     *ret.LogReturn,
			MidPriceDelta: *ret.PriceDelta,
		})
	}
	return rows, dropped
}

func allFinite(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
