package ofi

import (
	"sort"

	"orderflow-lab/internal/domain"
)

// SortSnapshots orders snapshots by (ts_event ASC, sequence ASC) in place.
func SortSnapshots(snaps []*domain.Snapshot) {
	sort.SliceStable(snaps, func(i, j int) bool {
		return compareSnapshots(snaps[i], snaps[j]) < 0
	})
}

// IsSorted reports whether snapshots are in (ts_event, sequence) order.
func IsSorted(snaps []*domain.Snapshot) bool {
	for i := 1; i < len(snaps); i++ {
		if compareSnapshots(snaps[i-1], snaps[i]) > 0 {
			return false
		}
	}
	return true
}

// ensureSorted returns snaps unchanged when already ordered, otherwise a
// sorted copy. The caller's slice is never reordered.
func ensureSorted(snaps []*domain.Snapshot) []*domain.Snapshot {
	if IsSorted(snaps) {
		return snaps
	}
	sorted := make([]*domain.Snapshot, len(snaps))
	copy(sorted, snaps)
	SortSnapshots(sorted)
	return sorted
}

// compareSnapshots returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
func compareSnapshots(a, b *domain.Snapshot) int {
	if !a.TsEvent.Equal(b.TsEvent) {
		if a.TsEvent.Before(b.TsEvent) {
			return -1
		}
		return 1
	}
	if a.Sequence != b.Sequence {
		if a.Sequence < b.Sequence {
			return -1
		}
		return 1
	}
	return 0
}
