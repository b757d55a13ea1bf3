package ofi

import (
	"fmt"
	"sort"
	"time"

	"orderflow-lab/internal/domain"
)

// JoinMode decides what happens to a minute that some levels have no
// bucket for.
type JoinMode string

const (
	// JoinInner keeps only minutes present at every level.
	JoinInner JoinMode = "inner"
	// JoinZeroFill keeps minutes present at any level and fills the missing
	// levels with zero flow and zero depth. Zero depth lowers the average
	// depth and therefore the scale factor of the whole minute.
	JoinZeroFill JoinMode = "zero_fill"
)

// ParseJoinMode validates a join mode name. Empty selects inner.
func ParseJoinMode(s string) (JoinMode, error) {
	switch JoinMode(s) {
	case "", JoinInner:
		return JoinInner, nil
	case JoinZeroFill:
		return JoinZeroFill, nil
	default:
		return "", fmt.Errorf("%w: unknown join mode %q", ErrInvalidConfig, s)
	}
}

// AlignmentStats describes the minutes lost while aligning levels.
type AlignmentStats struct {
	CandidateMinutes    int   // minutes with a bucket at any level or a positive event count
	AlignedMinutes      int   // minutes emitted
	DroppedMissingLevel int   // minutes missing at one or more levels (inner only)
	DroppedNoEvents     int   // minutes with no positive event count
	DroppedUnquoted     int   // minutes with events but no bucket at any level
	ZeroFilledMinutes   int   // minutes where at least one level was filled (zero_fill only)
	MissingByLevel      []int // per level, candidate minutes without a bucket
	DroppedMinutes      []time.Time
}

// Dropped returns the total number of minutes removed by alignment.
func (s AlignmentStats) Dropped() int {
	return s.DroppedMissingLevel + s.DroppedNoEvents + s.DroppedUnquoted
}

// CombineLevels hash-joins every level's buckets on the minute key, then
// joins the event counts. A minute is kept when every level has a bucket for
// it (JoinInner) or any level has one (JoinZeroFill), and its event count is
// positive. Minutes that saw events but no quoted record at any level are
// dropped under either mode and counted as DroppedUnquoted. Output is
// ordered by minute.
func CombineLevels(levels [][]domain.MinuteBucket, counts []domain.EventCount, mode JoinMode) ([]domain.AlignedMinuteRow, AlignmentStats) {
	stats := AlignmentStats{MissingByLevel: make([]int, len(levels))}
	if len(levels) == 0 {
		return nil, stats
	}

	byLevel := make([]map[int64]domain.MinuteBucket, len(levels))
	minutes := make(map[int64]time.Time)
	for i, buckets := range levels {
		m := make(map[int64]domain.MinuteBucket, len(buckets))
		for _, b := range buckets {
			key := b.Minute.UnixNano()
			m[key] = b
			if _, ok := minutes[key]; !ok {
				minutes[key] = b.Minute
			}
		}
		byLevel[i] = m
	}

	countByMinute := make(map[int64]int, len(counts))
	for _, c := range counts {
		key := c.Minute.UnixNano()
		countByMinute[key] = c.Count
		if _, ok := minutes[key]; !ok && c.Count > 0 {
			minutes[key] = c.Minute
		}
	}

	keys := make([]int64, 0, len(minutes))
	for k := range minutes {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	stats.CandidateMinutes = len(keys)

	result := make([]domain.AlignedMinuteRow, 0, len(keys))
	for _, key := range keys {
		row := domain.AlignedMinuteRow{
			Minute:  minutes[key],
			NetDiff: make([]float64, len(levels)),
			Depth:   make([]float64, len(levels)),
		}

		present := 0
		for i, m := range byLevel {
			b, ok := m[key]
			if !ok {
				stats.MissingByLevel[i]++
				continue
			}
			present++
			row.NetDiff[i] = b.NetDiff
			row.Depth[i] = b.Depth
		}
		missing := present < len(levels)

		if present == 0 {
			stats.DroppedUnquoted++
			stats.DroppedMinutes = append(stats.DroppedMinutes, row.Minute)
			continue
		}
		if missing && mode != JoinZeroFill {
			stats.DroppedMissingLevel++
			stats.DroppedMinutes = append(stats.DroppedMinutes, row.Minute)
			continue
		}

		count := countByMinute[key]
		if count <= 0 {
			stats.DroppedNoEvents++
			stats.DroppedMinutes = append(stats.DroppedMinutes, row.Minute)
			continue
		}
		row.EventCount = count

		if missing {
			stats.ZeroFilledMinutes++
		}
		result = append(result, row)
	}

	stats.AlignedMinutes = len(result)
	return result, stats
}
