package reporting

import (
	"time"

	"orderflow-lab/internal/metrics"
)

// Report describes one feature build run.
type Report struct {
	// Metadata
	GeneratedAt time.Time
	RunID       string

	// Pipeline settings the tables were built with
	Settings SettingsSection

	// Data Summary
	DataSummary DataSummary

	// Per-symbol rows (sorted by symbol)
	Symbols []SymbolRow

	// Feature distributions, same order as Symbols
	FeatureStats []SymbolFeatureStats

	// Verification, nil if the run did not verify stored tables
	Verification *VerificationSection
}

// SettingsSection lists the effective pipeline settings.
type SettingsSection struct {
	MaxLevels     int
	JoinMode      string
	Boundary      string
	NumericPolicy string
}

// DataSummary totals the run over all symbols.
type DataSummary struct {
	TotalSymbols int
	TotalEvents  int
	TotalRows    int
	TotalDropped int
	FirstMinute  time.Time // zero if no rows
	LastMinute   time.Time
}

// SymbolRow is the outcome of one symbol's build.
type SymbolRow struct {
	Symbol               string
	Events               int
	EventMinutes         int
	AlignmentDropped     int
	NumericDropped       int
	MissingReturnDropped int
	Rows                 int
	FirstMinute          time.Time
	LastMinute           time.Time
	ConfigKey            string
	Digest               string
}

// SymbolFeatureStats pairs a symbol with its feature summary.
type SymbolFeatureStats struct {
	Symbol  string
	Summary *metrics.FeatureSummary
}

// VerificationSection summarizes a rebuild-and-compare check.
type VerificationSection struct {
	MatchedSymbols   int
	DivergentSymbols int
	Rows             []VerificationRow
}

// VerificationRow is the comparison outcome of one symbol.
type VerificationRow struct {
	Symbol          string
	Match           bool
	StoredRows      int
	ReplayedRows    int
	Divergences     int
	FirstDivergence string // empty on match
}
