package ofi

import (
	"time"

	"orderflow-lab/internal/domain"
)

// FloorMinute returns the start of the minute containing t.
func FloorMinute(t time.Time) time.Time {
	return t.Truncate(time.Minute)
}

// AggregateLevel sums one level's flow records into one-minute buckets.
// Records must be sorted by timestamp; the result has one bucket per occupied
// minute in ascending order.
//
// Aggregation per minute:
//   - net_diff = SUM(net_diff)
//   - depth = SUM(bid_sz + ask_sz)
func AggregateLevel(records []domain.LevelFlowRecord) []domain.MinuteBucket {
	if len(records) == 0 {
		return nil
	}

	var result []domain.MinuteBucket
	var current *domain.MinuteBucket

	for _, r := range records {
		minute := FloorMinute(r.TsEvent)
		if current == nil || !current.Minute.Equal(minute) {
			if current != nil {
				result = append(result, *current)
			}
			current = &domain.MinuteBucket{Minute: minute}
		}
		current.NetDiff += r.NetDiff
		current.Depth += r.Depth
		current.Records++
	}

	if current != nil {
		result = append(result, *current)
	}

	return result
}

// CountEvents counts book-update events per minute over the whole series,
// regardless of which levels are quoted. Snapshots must be sorted.
func CountEvents(snaps []*domain.Snapshot) []domain.EventCount {
	if len(snaps) == 0 {
		return nil
	}

	var result []domain.EventCount
	var current *domain.EventCount

	for _, s := range snaps {
		minute := FloorMinute(s.TsEvent)
		if current == nil || !current.Minute.Equal(minute) {
			if current != nil {
				result = append(result, *current)
			}
			current = &domain.EventCount{Minute: minute}
		}
		current.Count++
	}

	if current != nil {
		result = append(result, *current)
	}

	return result
}
