package verification

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/ofi"
	"orderflow-lab/internal/storage/memory"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func row(minute int, ofi0, lr, delta float64) *domain.FeatureRow {
	return &domain.FeatureRow{
		Symbol:        "TEST",
		Minute:        t0.Add(time.Duration(minute) * time.Minute),
		OFI:           []float64{ofi0, 0.5},
		LogReturn:     lr,
		MidPriceDelta: delta,
	}
}

func TestCompareFeatureTables_ExactMatch(t *testing.T) {
	stored := []*domain.FeatureRow{row(0, 1, 0.01, 0.1), row(1, -2, -0.01, -0.1)}
	replayed := []*domain.FeatureRow{row(0, 1, 0.01, 0.1), row(1, -2, -0.01, -0.1)}

	if d := CompareFeatureTables(stored, replayed); len(d) != 0 {
		t.Errorf("Expected 0 divergences, got %d: %v", len(d), d)
	}
}

func TestCompareFeatureTables_WithinTolerance(t *testing.T) {
	stored := []*domain.FeatureRow{row(0, 1, 0.01, 0.1)}
	replayed := []*domain.FeatureRow{row(0, 1+FloatTolerance/2, 0.01, 0.1)}

	if d := CompareFeatureTables(stored, replayed); len(d) != 0 {
		t.Errorf("Expected 0 divergences within tolerance, got %v", d)
	}
}

func TestCompareFeatureTables_ValueDivergence(t *testing.T) {
	stored := []*domain.FeatureRow{row(0, 1, 0.01, 0.1)}
	replayed := []*domain.FeatureRow{row(0, 1.001, 0.01, 0.2)}

	d := CompareFeatureTables(stored, replayed)
	if len(d) != 2 {
		t.Fatalf("Expected 2 divergences, got %d: %v", len(d), d)
	}
	if d[0].Field != "ofi_0" {
		t.Errorf("first divergence field = %s, want ofi_0", d[0].Field)
	}
	if d[1].Field != "mid_price_delta" {
		t.Errorf("second divergence field = %s, want mid_price_delta", d[1].Field)
	}
}

func TestCompareFeatureTables_MissingAndExtraRows(t *testing.T) {
	stored := []*domain.FeatureRow{row(0, 1, 0, 0), row(2, 1, 0, 0)}
	replayed := []*domain.FeatureRow{row(0, 1, 0, 0), row(1, 1, 0, 0)}

	d := CompareFeatureTables(stored, replayed)
	if len(d) != 2 {
		t.Fatalf("Expected 2 divergences, got %d: %v", len(d), d)
	}
	// ordered by minute
	if !d[0].Minute.Equal(t0.Add(time.Minute)) || d[0].Actual != "present" {
		t.Errorf("unexpected first divergence %v", d[0])
	}
	if !d[1].Minute.Equal(t0.Add(2*time.Minute)) || d[1].Actual != "missing" {
		t.Errorf("unexpected second divergence %v", d[1])
	}
}

func TestCompareFeatureTables_LevelMismatch(t *testing.T) {
	short := row(0, 1, 0, 0)
	short.OFI = short.OFI[:1]

	d := CompareFeatureTables([]*domain.FeatureRow{row(0, 1, 0, 0)}, []*domain.FeatureRow{short})
	if len(d) != 1 || d[0].Field != "levels" {
		t.Errorf("Expected single levels divergence, got %v", d)
	}
}

func TestFloatEquals_NaN(t *testing.T) {
	if !floatEquals(math.NaN(), math.NaN()) {
		t.Error("NaN should equal NaN")
	}
	if floatEquals(math.NaN(), 0) {
		t.Error("NaN should not equal 0")
	}
}

// series generates a random three-level book over a few minutes.
func series(symbol string, seed int64, events int) []*domain.Snapshot {
	rng := rand.New(rand.NewSource(seed))
	snaps := make([]*domain.Snapshot, events)
	bid := 100.0
	ts := t0
	for i := range snaps {
		ts = ts.Add(time.Duration(rng.Intn(3000)) * time.Millisecond)
		bid += 0.01 * float64(rng.Intn(3)-1)
		levels := make([]domain.LevelQuote, 3)
		for l := range levels {
			step := 0.01 * float64(l)
			levels[l] = domain.LevelQuote{
				BidPx: bid - step, BidSz: float64(1 + rng.Intn(50)),
				AskPx: bid + 0.01 + step, AskSz: float64(1 + rng.Intn(50)),
			}
		}
		snaps[i] = &domain.Snapshot{Symbol: symbol, TsEvent: ts, Sequence: int64(i), Levels: levels}
	}
	return snaps
}

func setup(t *testing.T) (*ofi.Pipeline, *memory.SnapshotStore, *memory.FeatureStore) {
	t.Helper()
	p, err := ofi.NewPipeline(ofi.Options{
		MaxLevels: 3,
		Logger:    logger.Discard(),
		Metrics:   observability.NewMetrics("test", prometheus.NewRegistry()),
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	snaps := memory.NewSnapshotStore()
	features := memory.NewFeatureStore()
	ctx := context.Background()
	for i, sym := range []string{"AAA", "BBB"} {
		if err := snaps.InsertBulk(ctx, series(sym, int64(7+i), 300)); err != nil {
			t.Fatalf("seed snapshots: %v", err)
		}
	}
	return p, snaps, features
}

func TestReplayVerifier_MatchAfterBuild(t *testing.T) {
	ctx := context.Background()
	p, snaps, features := setup(t)

	if _, err := ofi.NewRunner(p, snaps, features).BuildSymbol(ctx, "AAA"); err != nil {
		t.Fatalf("BuildSymbol: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{Pipeline: p, SnapshotStore: snaps, FeatureStore: features})
	res, err := v.VerifySymbol(ctx, "AAA")
	if err != nil {
		t.Fatalf("VerifySymbol: %v", err)
	}
	if !res.Match {
		t.Errorf("Expected match, got divergences: %v", res.Divergences)
	}
	if res.StoredRows == 0 || res.StoredRows != res.ReplayedRows {
		t.Errorf("row counts stored=%d replayed=%d", res.StoredRows, res.ReplayedRows)
	}
	if res.StoredDigest != res.ReplayedDigest {
		t.Errorf("digests differ: %s vs %s", res.StoredDigest, res.ReplayedDigest)
	}

	// the verifier never writes; a second run still matches
	res, err = v.VerifySymbol(ctx, "AAA")
	if err != nil || !res.Match {
		t.Errorf("second verification: match=%v err=%v", res != nil && res.Match, err)
	}
}

func TestReplayVerifier_DetectsTamperedRow(t *testing.T) {
	ctx := context.Background()
	p, snaps, _ := setup(t)

	built, err := ofi.NewRunner(p, snaps, nil).BuildSymbol(ctx, "AAA")
	if err != nil {
		t.Fatalf("BuildSymbol: %v", err)
	}
	if len(built.Rows) < 2 {
		t.Fatalf("need at least 2 rows, got %d", len(built.Rows))
	}
	built.Rows[1].OFI[2] += 1

	tampered := memory.NewFeatureStore()
	if err := tampered.InsertBulk(ctx, built.Rows); err != nil {
		t.Fatalf("InsertBulk: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{Pipeline: p, SnapshotStore: snaps, FeatureStore: tampered})
	res, err := v.VerifySymbol(ctx, "AAA")
	if err != nil {
		t.Fatalf("VerifySymbol: %v", err)
	}
	if res.Match {
		t.Fatal("Expected divergence")
	}
	if len(res.Divergences) != 1 || res.Divergences[0].Field != "ofi_2" {
		t.Errorf("Expected single ofi_2 divergence, got %v", res.Divergences)
	}
	if res.StoredDigest == res.ReplayedDigest {
		t.Error("digests should differ")
	}
}

func TestReplayVerifier_NoStoredFeatures(t *testing.T) {
	p, snaps, features := setup(t)
	v := NewReplayVerifier(ReplayVerifierOptions{Pipeline: p, SnapshotStore: snaps, FeatureStore: features})

	_, err := v.VerifySymbol(context.Background(), "AAA")
	if !errors.Is(err, ErrNoStoredFeatures) {
		t.Errorf("Expected ErrNoStoredFeatures, got %v", err)
	}
}

func TestReplayVerifier_VerifyAll(t *testing.T) {
	ctx := context.Background()
	p, snaps, features := setup(t)

	if _, err := ofi.NewRunner(p, snaps, features).BuildSymbol(ctx, "AAA"); err != nil {
		t.Fatalf("BuildSymbol: %v", err)
	}

	v := NewReplayVerifier(ReplayVerifierOptions{Pipeline: p, SnapshotStore: snaps, FeatureStore: features})
	report, err := v.VerifyAll(ctx, []string{"AAA", "BBB"})
	if err != nil {
		t.Fatalf("VerifyAll: %v", err)
	}

	if report.TotalSymbols != 2 || report.MatchedSymbols != 1 || report.DivergentSymbols != 1 {
		t.Errorf("report counts = %+v", report)
	}
	if report.Results[1].Symbol != "BBB" || report.Results[1].Divergences[0].Field != "error" {
		t.Errorf("BBB should be reported as error, got %+v", report.Results[1])
	}
}

func TestReplayVerifier_VerifyAllCancelled(t *testing.T) {
	p, snaps, features := setup(t)
	v := NewReplayVerifier(ReplayVerifierOptions{Pipeline: p, SnapshotStore: snaps, FeatureStore: features})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := v.VerifyAll(ctx, []string{"AAA"}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}
