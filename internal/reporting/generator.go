package reporting

import (
	"sort"
	"time"

	"orderflow-lab/internal/idhash"
	"orderflow-lab/internal/metrics"
	"orderflow-lab/internal/ofi"
	"orderflow-lab/internal/verification"
)

// Generator produces run reports from pipeline results.
type Generator struct {
	runID    string
	settings ofi.Settings
	now      func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a new report generator.
func NewGenerator(runID string, settings ofi.Settings) *Generator {
	return &Generator{
		runID:    runID,
		settings: settings,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// Generate builds the report. verified may be nil.
func (g *Generator) Generate(results []*ofi.Result, verified *verification.VerificationReport) *Report {
	report := &Report{
		GeneratedAt: g.now(),
		RunID:       g.runID,
		Settings: SettingsSection{
			MaxLevels:     g.settings.MaxLevels,
			JoinMode:      string(g.settings.JoinMode),
			Boundary:      string(g.settings.Boundary),
			NumericPolicy: string(g.settings.NumericPolicy),
		},
		Symbols: g.generateSymbolRows(results),
	}
	report.DataSummary = generateDataSummary(report.Symbols)
	report.FeatureStats = g.generateFeatureStats(results)
	if verified != nil {
		report.Verification = generateVerification(verified)
	}
	return report
}

func (g *Generator) generateSymbolRows(results []*ofi.Result) []SymbolRow {
	rows := make([]SymbolRow, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		row := SymbolRow{
			Symbol:               res.Symbol,
			Events:               res.Stats.Events,
			EventMinutes:         res.Stats.EventMinutes,
			AlignmentDropped:     res.Stats.Alignment.Dropped(),
			NumericDropped:       res.Stats.NumericDropped,
			MissingReturnDropped: res.Stats.MissingReturnDropped,
			Rows:                 len(res.Rows),
			ConfigKey: idhash.ComputeConfigKey(res.Symbol, g.settings.MaxLevels,
				string(g.settings.JoinMode), string(g.settings.Boundary), string(g.settings.NumericPolicy)),
			Digest: idhash.ComputeFeatureDigest(res.Rows),
		}
		if n := len(res.Rows); n > 0 {
			row.FirstMinute = res.Rows[0].Minute
			row.LastMinute = res.Rows[n-1].Minute
		}
		rows = append(rows, row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows
}

func (g *Generator) generateFeatureStats(results []*ofi.Result) []SymbolFeatureStats {
	stats := make([]SymbolFeatureStats, 0, len(results))
	for _, res := range results {
		if res == nil {
			continue
		}
		stats = append(stats, SymbolFeatureStats{
			Symbol:  res.Symbol,
			Summary: metrics.ComputeFeatureSummary(res.Rows, g.settings.MaxLevels),
		})
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Symbol < stats[j].Symbol })
	return stats
}

func generateDataSummary(rows []SymbolRow) DataSummary {
	s := DataSummary{TotalSymbols: len(rows)}
	for _, r := range rows {
		s.TotalEvents += r.Events
		s.TotalRows += r.Rows
		s.TotalDropped += r.AlignmentDropped + r.NumericDropped + r.MissingReturnDropped
		if r.Rows == 0 {
			continue
		}
		if s.FirstMinute.IsZero() || r.FirstMinute.Before(s.FirstMinute) {
			s.FirstMinute = r.FirstMinute
		}
		if r.LastMinute.After(s.LastMinute) {
			s.LastMinute = r.LastMinute
		}
	}
	return s
}

func generateVerification(v *verification.VerificationReport) *VerificationSection {
	section := &VerificationSection{
		MatchedSymbols:   v.MatchedSymbols,
		DivergentSymbols: v.DivergentSymbols,
		Rows:             make([]VerificationRow, 0, len(v.Results)),
	}
	for _, res := range v.Results {
		row := VerificationRow{
			Symbol:       res.Symbol,
			Match:        res.Match,
			StoredRows:   res.StoredRows,
			ReplayedRows: res.ReplayedRows,
			Divergences:  len(res.Divergences),
		}
		if len(res.Divergences) > 0 {
			row.FirstDivergence = res.Divergences[0].String()
		}
		section.Rows = append(section.Rows, row)
	}
	sort.Slice(section.Rows, func(i, j int) bool { return section.Rows[i].Symbol < section.Rows[j].Symbol })
	return section
}
