package ofi

import (
	"fmt"
	"time"

	"orderflow-lab/internal/domain"
)

// BoundaryPolicy decides what the first event of a trading day is diffed
// against when several days are concatenated into one series.
type BoundaryPolicy string

const (
	// BoundarySessionReset gives the first event of every session date zero
	// flow, like the first event of the series.
	BoundarySessionReset BoundaryPolicy = "session_reset"
	// BoundaryCarry diffs the first event of a day against the last event of
	// the previous day.
	BoundaryCarry BoundaryPolicy = "carry"
)

// ParseBoundaryPolicy validates a policy name. Empty selects session_reset.
func ParseBoundaryPolicy(s string) (BoundaryPolicy, error) {
	switch BoundaryPolicy(s) {
	case "", BoundarySessionReset:
		return BoundarySessionReset, nil
	case BoundaryCarry:
		return BoundaryCarry, nil
	default:
		return "", fmt.Errorf("%w: unknown boundary policy %q", ErrInvalidConfig, s)
	}
}

// FlowOptions configures ComputeLevelFlow.
type FlowOptions struct {
	Boundary BoundaryPolicy
	Location *time.Location // session dates are taken in this zone, UTC if nil
}

// ComputeLevelFlow derives one LevelFlowRecord per snapshot that has a price
// on at least one side of level. Snapshots must be sorted by
// (ts_event, sequence).
//
// Flow per side between the previous and current quote:
//   - price improved (bid up, ask down): current size
//   - price worsened (bid down, ask up): -previous size
//   - price unchanged: current size - previous size
//
// Sides are independent. A side contributes zero flow unless both the
// previous and the current record price it, so a level with only a bid keeps
// its bid flow and depth. AskFlow is positive under selling pressure, so
// NetDiff = BidFlow - AskFlow is positive under buying pressure. The first
// record (and, under BoundarySessionReset, the first of each session date)
// has zero flow. Snapshots where both sides are empty produce no record and
// are skipped when choosing the previous quote.
func ComputeLevelFlow(snaps []*domain.Snapshot, level int, opts FlowOptions) []domain.LevelFlowRecord {
	if len(snaps) == 0 {
		return nil
	}

	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	reset := opts.Boundary != BoundaryCarry

	records := make([]domain.LevelFlowRecord, 0, len(snaps))
	var prev domain.LevelQuote
	var prevDay int
	hasPrev := false

	for _, s := range snaps {
		cur := s.Level(level)
		if cur.Empty() {
			continue
		}

		day := sessionDay(s.TsEvent, loc)
		if reset && hasPrev && day != prevDay {
			hasPrev = false
		}

		rec := domain.LevelFlowRecord{
			TsEvent: s.TsEvent,
			Depth:   cur.Depth(),
		}
		if hasPrev {
			rec.BidFlow = bidFlow(prev, cur)
			rec.AskFlow = askFlow(prev, cur)
			rec.NetDiff = rec.BidFlow - rec.AskFlow
		}
		records = append(records, rec)

		prev = cur
		prevDay = day
		hasPrev = true
	}

	return records
}

// bidFlow is the bid-side flow. A higher bid is an improvement.
func bidFlow(prev, cur domain.LevelQuote) float64 {
	if !prev.HasBid() || !cur.HasBid() {
		return 0
	}
	switch {
	case cur.BidPx > prev.BidPx:
		return cur.BidSz
	case cur.BidPx < prev.BidPx:
		return -prev.BidSz
	default:
		return cur.BidSz - prev.BidSz
	}
}

// askFlow is the ask-side flow. A lower ask is an improvement.
func askFlow(prev, cur domain.LevelQuote) float64 {
	if !prev.HasAsk() || !cur.HasAsk() {
		return 0
	}
	switch {
	case cur.AskPx < prev.AskPx:
		return cur.AskSz
	case cur.AskPx > prev.AskPx:
		return -prev.AskSz
	default:
		return cur.AskSz - prev.AskSz
	}
}

// sessionDay encodes the calendar date of t in loc as yyyymmdd.
func sessionDay(t time.Time, loc *time.Location) int {
	y, m, d := t.In(loc).Date()
	return y*10000 + int(m)*100 + d
}
