package ofi

import (
	"math"

	"orderflow-lab/internal/domain"
)

// ComputeReturns aggregates level-0 mid-prices into per-minute returns.
// Snapshots must be sorted; those without a level-0 quote are skipped.
//
// Aggregation per minute:
//   - start = FIRST(mid), end = LAST(mid)
//   - price_delta = end - start
//   - log_return = ln(end / start), NULL if start <= 0 or end <= 0
func ComputeReturns(snaps []*domain.Snapshot) []domain.MinuteReturn {
	var result []domain.MinuteReturn
	var current *domain.MinuteReturn

	flush := func() {
		if current == nil {
			return
		}
		delta := current.EndMid - current.StartMid
		if !math.IsNaN(delta) && !math.IsInf(delta, 0) {
			current.PriceDelta = &delta
		}
		if current.StartMid > 0 && current.EndMid > 0 {
			lr := math.Log(current.EndMid / current.StartMid)
			if !math.IsNaN(lr) && !math.IsInf(lr, 0) {
				current.LogReturn = &lr
			}
		}
		result = append(result, *current)
	}

	for _, s := range snaps {
		mid, ok := s.MidPrice()
		if !ok {
			continue
		}
		minute := FloorMinute(s.TsEvent)
		if current == nil || !current.Minute.Equal(minute) {
			flush()
			current = &domain.MinuteReturn{Minute: minute, StartMid: mid}
		}
		current.EndMid = mid
	}
	flush()

	return result
}
