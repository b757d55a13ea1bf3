package export

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"orderflow-lab/internal/domain"
)

// Header returns the feature table columns for the given depth:
// ts_event, ofi_0..ofi_{levels-1}, log_return, mid_price_delta.
func Header(levels int) []string {
	cols := make([]string, 0, levels+3)
	cols = append(cols, "ts_event")
	for i := 0; i < levels; i++ {
		cols = append(cols, fmt.Sprintf("ofi_%d", i))
	}
	return append(cols, "log_return", "mid_price_delta")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// RenderCSV renders feature rows as CSV string, one row per minute.
func RenderCSV(rows []*domain.FeatureRow, levels int) (string, error) {
	var sb strings.Builder

	// Header
	sb.WriteString(strings.Join(Header(levels), ","))
	sb.WriteByte('\n')

	// Rows
	for _, r := range rows {
		if len(r.OFI) != levels {
			return "", fmt.Errorf("row %s has %d levels, want %d", r.Minute.Format(time.RFC3339), len(r.OFI), levels)
		}
		sb.WriteString(r.Minute.UTC().Format(time.RFC3339))
		for _, v := range r.OFI {
			sb.WriteByte(',')
			sb.WriteString(formatFloat(v))
		}
		sb.WriteString(fmt.Sprintf(",%s,%s\n", formatFloat(r.LogReturn), formatFloat(r.MidPriceDelta)))
	}

	return sb.String(), nil
}
