package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"orderflow-lab/internal/config"
	"orderflow-lab/internal/ofi"
	"orderflow-lab/internal/reporting"
)

func TestSplitList(t *testing.T) {
	got := splitList(" AAPL, MSFT ,,NVDA ")
	want := []string{"AAPL", "MSFT", "NVDA"}
	if len(got) != len(want) {
		t.Fatalf("splitList = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("splitList[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if splitList("") != nil {
		t.Errorf("splitList(\"\") should be nil")
	}
}

func TestFlagOverrides(t *testing.T) {
	cfg := config.Default()
	cfg.Build.Symbols = []string{"FROMFILE"}

	flagOverrides{
		stockIDs:      "AAPL,MSFT",
		outputPath:    "/tmp/out",
		maxLevels:     10,
		formats:       "parquet",
		storeFeatures: true,
	}.apply(cfg)

	if len(cfg.Build.Symbols) != 2 || cfg.Build.Symbols[0] != "AAPL" {
		t.Errorf("symbols = %v", cfg.Build.Symbols)
	}
	if cfg.Output.Path != "/tmp/out" {
		t.Errorf("output path = %q", cfg.Output.Path)
	}
	if cfg.Pipeline.MaxLevels != 10 {
		t.Errorf("max levels = %d", cfg.Pipeline.MaxLevels)
	}
	if len(cfg.Output.Formats) != 1 || cfg.Output.Formats[0] != "parquet" {
		t.Errorf("formats = %v", cfg.Output.Formats)
	}
	if !cfg.Storage.ClickHouse.Enabled {
		t.Error("store-features should enable ClickHouse")
	}
	// unset flags keep file values
	if cfg.Input.Source != config.SourceFiles || cfg.Build.Workers != 1 {
		t.Errorf("unset flags changed config: source=%q workers=%d", cfg.Input.Source, cfg.Build.Workers)
	}
}

func TestFlagOverrides_VerifyEnablesClickHouse(t *testing.T) {
	cfg := config.Default()
	flagOverrides{verifyOnly: true}.apply(cfg)
	if !cfg.Storage.ClickHouse.Enabled {
		t.Error("verify-only should enable ClickHouse")
	}
}

func TestWriteReport(t *testing.T) {
	dir := t.TempDir()
	report := reporting.NewGenerator("run-1", ofi.Settings{MaxLevels: 5}).Generate(nil, nil)
	if err := writeReport(dir, report); err != nil {
		t.Fatalf("writeReport: %v", err)
	}

	md, err := os.ReadFile(filepath.Join(dir, "BUILD_REPORT.md"))
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !strings.Contains(string(md), "Run: run-1") {
		t.Errorf("report missing run id")
	}
	if _, err := os.Stat(filepath.Join(dir, "build_summary.csv")); err != nil {
		t.Errorf("summary csv not written: %v", err)
	}
}
