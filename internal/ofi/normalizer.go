package ofi

import (
	"fmt"
	"math"
	"time"

	"orderflow-lab/internal/domain"
)

// NumericPolicy decides what happens to a minute whose scale factor is zero.
type NumericPolicy string

const (
	// NumericDrop removes the minute from the output.
	NumericDrop NumericPolicy = "drop"
	// NumericFail aborts the run with ErrNumeric.
	NumericFail NumericPolicy = "fail"
)

// ParseNumericPolicy validates a policy name. Empty selects drop.
func ParseNumericPolicy(s string) (NumericPolicy, error) {
	switch NumericPolicy(s) {
	case "", NumericDrop:
		return NumericDrop, nil
	case NumericFail:
		return NumericFail, nil
	default:
		return "", fmt.Errorf("%w: unknown numeric policy %q", ErrInvalidConfig, s)
	}
}

// ScaleFactor returns QM = 0.5 * average_depth / event_count where
// average_depth is the summed depth of all levels divided by maxLevels.
// ok is false when QM is not a positive finite number.
func ScaleFactor(depths []float64, maxLevels, eventCount int) (qm float64, ok bool) {
	if maxLevels <= 0 || eventCount <= 0 {
		return 0, false
	}
	var total float64
	for _, d := range depths {
		total += d
	}
	avg := total / float64(maxLevels)
	qm = 0.5 * avg / float64(eventCount)
	if !(qm > 0) || math.IsInf(qm, 0) {
		return qm, false
	}
	return qm, true
}

// Normalize divides each level's summed flow by the minute's scale factor.
// Minutes with an undefined scale factor are returned in dropped; under
// NumericFail the first such minute aborts with ErrNumeric.
func Normalize(rows []domain.AlignedMinuteRow, maxLevels int, policy NumericPolicy) ([]domain.NormalizedRow, []time.Time, error) {
	result := make([]domain.NormalizedRow, 0, len(rows))
	var dropped []time.Time

	for _, row := range rows {
		qm, ok := ScaleFactor(row.Depth, maxLevels, row.EventCount)
		ofi := make([]float64, len(row.NetDiff))
		if ok {
			for i, diff := range row.NetDiff {
				ofi[i] = diff / qm
				if math.IsNaN(ofi[i]) || math.IsInf(ofi[i], 0) {
					ok = false
					break
				}
			}
		}

		if !ok {
			if policy == NumericFail {
				return nil, nil, fmt.Errorf("%w: minute %s", ErrNumeric, row.Minute.Format(time.RFC3339))
			}
			dropped = append(dropped, row.Minute)
			continue
		}

		result = append(result, domain.NormalizedRow{
			Minute: row.Minute,
			OFI:    ofi,
			QM:     qm,
		})
	}

	return result, dropped, nil
}
