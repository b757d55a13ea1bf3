package reporting

import (
	"fmt"
	"strings"
)

// RenderCSV renders per-symbol build rows as CSV string.
func RenderCSV(rows []SymbolRow) string {
	var sb strings.Builder

	// Header
	sb.WriteString("symbol,events,event_minutes,alignment_dropped,numeric_dropped,missing_return_dropped,")
	sb.WriteString("rows,first_minute,last_minute,config_key,digest\n")

	// Rows
	for _, r := range rows {
		sb.WriteString(fmt.Sprintf("%s,%d,%d,%d,%d,%d,%d,%s,%s,%s,%s\n",
			r.Symbol,
			r.Events,
			r.EventMinutes,
			r.AlignmentDropped,
			r.NumericDropped,
			r.MissingReturnDropped,
			r.Rows,
			formatMinute(r.FirstMinute),
			formatMinute(r.LastMinute),
			r.ConfigKey,
			r.Digest,
		))
	}

	return sb.String()
}
