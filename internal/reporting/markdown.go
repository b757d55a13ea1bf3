package reporting

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString("# Feature Build Report\n\n")
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))
	if r.RunID != "" {
		sb.WriteString(fmt.Sprintf("Run: %s\n\n", r.RunID))
	}

	// Settings
	sb.WriteString("## Settings\n\n")
	sb.WriteString("| Setting | Value |\n")
	sb.WriteString("|---------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Max Levels | %d |\n", r.Settings.MaxLevels))
	sb.WriteString(fmt.Sprintf("| Join Mode | %s |\n", r.Settings.JoinMode))
	sb.WriteString(fmt.Sprintf("| Boundary Policy | %s |\n", r.Settings.Boundary))
	sb.WriteString(fmt.Sprintf("| Numeric Policy | %s |\n", r.Settings.NumericPolicy))
	sb.WriteString("\n")

	// Data Summary
	sb.WriteString("## Data Summary\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Symbols | %d |\n", r.DataSummary.TotalSymbols))
	sb.WriteString(fmt.Sprintf("| Events | %d |\n", r.DataSummary.TotalEvents))
	sb.WriteString(fmt.Sprintf("| Feature Rows | %d |\n", r.DataSummary.TotalRows))
	sb.WriteString(fmt.Sprintf("| Dropped Minutes | %d |\n", r.DataSummary.TotalDropped))
	sb.WriteString(fmt.Sprintf("| First Minute | %s |\n", formatMinute(r.DataSummary.FirstMinute)))
	sb.WriteString(fmt.Sprintf("| Last Minute | %s |\n", formatMinute(r.DataSummary.LastMinute)))
	sb.WriteString("\n")

	// Symbols
	sb.WriteString("## Symbols\n\n")
	if len(r.Symbols) > 0 {
		sb.WriteString("| Symbol | Events | Event Minutes | Alignment Drops | Numeric Drops | Missing Return | Rows | Digest |\n")
		sb.WriteString("|--------|--------|---------------|-----------------|---------------|----------------|------|--------|\n")
		for _, s := range r.Symbols {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d | %d | %d | %d | %d | %s |\n",
				s.Symbol, s.Events, s.EventMinutes,
				s.AlignmentDropped, s.NumericDropped, s.MissingReturnDropped,
				s.Rows, shortHash(s.Digest)))
		}
	} else {
		sb.WriteString("No symbols built.\n")
	}
	sb.WriteString("\n")

	// Correlation
	if len(r.FeatureStats) > 0 && r.Settings.MaxLevels > 0 {
		sb.WriteString("## OFI / Return Correlation\n\n")
		sb.WriteString("| Symbol |")
		for i := 0; i < r.Settings.MaxLevels; i++ {
			sb.WriteString(fmt.Sprintf(" ofi_%d |", i))
		}
		sb.WriteString("\n|--------|")
		sb.WriteString(strings.Repeat("-------|", r.Settings.MaxLevels))
		sb.WriteString("\n")
		for _, fs := range r.FeatureStats {
			sb.WriteString(fmt.Sprintf("| %s |", fs.Symbol))
			for _, c := range fs.Summary.OFIReturnCorrelation {
				sb.WriteString(" " + formatStat(c) + " |")
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")

		sb.WriteString("## Feature Statistics\n\n")
		for _, fs := range r.FeatureStats {
			sb.WriteString(fmt.Sprintf("### %s\n\n", fs.Symbol))
			sb.WriteString("| Column | Count | Mean | Stddev | Min | P10 | Median | P90 | Max |\n")
			sb.WriteString("|--------|-------|------|--------|-----|-----|--------|-----|-----|\n")
			for _, c := range fs.Summary.Columns {
				sb.WriteString(fmt.Sprintf("| %s | %d | %s | %s | %s | %s | %s | %s | %s |\n",
					c.Name, c.Count, formatStat(c.Mean), formatStat(c.Stddev), formatStat(c.Min),
					formatStat(c.P10), formatStat(c.Median), formatStat(c.P90), formatStat(c.Max)))
			}
			sb.WriteString("\n")
		}
	}

	// Verification
	if v := r.Verification; v != nil {
		sb.WriteString("## Verification\n\n")
		sb.WriteString(fmt.Sprintf("Matched: %d | Divergent: %d\n\n", v.MatchedSymbols, v.DivergentSymbols))
		if len(v.Rows) > 0 {
			sb.WriteString("| Symbol | Status | Stored Rows | Rebuilt Rows | Divergences | First Divergence |\n")
			sb.WriteString("|--------|--------|-------------|--------------|-------------|------------------|\n")
			for _, row := range v.Rows {
				status := "DIVERGED"
				if row.Match {
					status = "MATCH"
				}
				sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %d | %s |\n",
					row.Symbol, status, row.StoredRows, row.ReplayedRows, row.Divergences, row.FirstDivergence))
			}
			sb.WriteString("\n")
		}
	}

	return sb.String()
}

func formatMinute(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func formatStat(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.4f", v)
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
