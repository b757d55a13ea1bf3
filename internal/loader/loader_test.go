package loader

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/ofi"
)

// mbpHeader returns a Databento-style header with extra ignored columns.
func mbpHeader(levels int) string {
	cols := []string{"ts_recv", "ts_event", "rtype", "publisher_id", "action", "side", "price", "size", "sequence"}
	for l := 0; l < levels; l++ {
		cols = append(cols,
			levelColumn("bid_px", l), levelColumn("ask_px", l),
			levelColumn("bid_sz", l), levelColumn("ask_sz", l),
			levelColumn("bid_ct", l), levelColumn("ask_ct", l))
	}
	return strings.Join(cols, ",") + ",symbol"
}

// mbpRow writes one row whose level l is (bid-l*0.01, ask+l*0.01) with sizes 10+l / 20+l.
func mbpRow(ts string, levels int, bid, ask float64) string {
	cells := []string{ts, ts, "10", "2", "A", "B", "0", "0", "1"}
	for l := 0; l < levels; l++ {
		step := 0.01 * float64(l)
		cells = append(cells,
			fmt.Sprintf("%.2f", bid-step), fmt.Sprintf("%.2f", ask+step),
			fmt.Sprint(10+l), fmt.Sprint(20+l), "1", "1")
	}
	return strings.Join(cells, ",") + ",AAPL"
}

func writeZstd(t *testing.T, path string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc, err := zstd.NewWriter(f)
	require.NoError(t, err)
	_, err = enc.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, enc.Close())
}

func newTestLoader(t *testing.T, dir string, levels int) (*Loader, *observability.Metrics) {
	t.Helper()
	m := observability.NewMetrics("test", prometheus.NewRegistry())
	session, err := ParseSessionWindow("09:30", "16:00", "UTC")
	require.NoError(t, err)
	l, err := New(Options{DataDir: dir, MaxLevels: levels, Session: &session, Logger: logger.Discard(), Metrics: m})
	require.NoError(t, err)
	return l, m
}

func TestLoadSymbol_ConcatenatesDaysAndFiltersSession(t *testing.T) {
	dir := t.TempDir()
	writeZstd(t, filepath.Join(dir, "AAPL", "xnas-itch-20240302.mbp-10.csv.zst"),
		mbpHeader(2),
		mbpRow("2024-03-02T09:31:00.000000001Z", 2, 101, 101.01),
	)
	writeZstd(t, filepath.Join(dir, "AAPL", "xnas-itch-20240301.mbp-10.csv.zst"),
		mbpHeader(2),
		mbpRow("2024-03-01T09:29:59.999999999Z", 2, 99, 99.01), // before open
		mbpRow("2024-03-01T09:30:00.000000000Z", 2, 100, 100.01),
		mbpRow("2024-03-01T09:30:00.000000000Z", 2, 100.01, 100.02),
		mbpRow("2024-03-01T16:00:00.000000000Z", 2, 100.5, 100.51),
		mbpRow("2024-03-01T16:00:00.000000001Z", 2, 100.6, 100.61), // after close
	)
	// Not matching the pattern
	writeZstd(t, filepath.Join(dir, "AAPL", "notes.csv.zst"), mbpHeader(2))

	l, m := newTestLoader(t, dir, 2)
	snaps, err := l.LoadSymbol(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Len(t, snaps, 4)

	assert.Equal(t, "AAPL", snaps[0].Symbol)
	assert.InDelta(t, 100.0, snaps[0].Levels[0].BidPx, 1e-9)
	assert.InDelta(t, 100.01, snaps[1].Levels[0].BidPx, 1e-9)
	assert.InDelta(t, 101.0, snaps[3].Levels[0].BidPx, 1e-9)
	for i, s := range snaps {
		assert.Equal(t, int64(i), s.Sequence, "sequence follows file then row order")
		require.Len(t, s.Levels, 2)
	}
	assert.InDelta(t, 99.99, snaps[0].Levels[1].BidPx, 1e-9)
	assert.InDelta(t, 21.0, snaps[0].Levels[1].AskSz, 1e-9)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FilesLoaded))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.RowsLoaded))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.RowsOutsideSession))
}

func TestLoadSymbol_NoFiles(t *testing.T) {
	l, _ := newTestLoader(t, t.TempDir(), 1)
	_, err := l.LoadSymbol(context.Background(), "MSFT")
	assert.ErrorIs(t, err, ErrNoFiles)
}

func TestReadFile_MissingColumns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AAPL", "xnas-itch-20240301.mbp-10.csv.zst")
	writeZstd(t, path, mbpHeader(2), mbpRow("2024-03-01T10:00:00Z", 2, 100, 100.01))

	l, _ := newTestLoader(t, dir, 3)
	_, err := l.ReadFile(path, "AAPL")
	require.ErrorIs(t, err, ofi.ErrInputSchema)
	assert.Contains(t, err.Error(), "bid_px_02")
	assert.Contains(t, err.Error(), "ask_sz_02")
}

func TestReadFile_EmptyLevelsAreUnquoted(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AAPL", "xnas-itch-20240301.mbp-10.csv.zst")
	writeZstd(t, path,
		"ts_event,bid_px_00,bid_sz_00,ask_px_00,ask_sz_00,bid_px_01,bid_sz_01,ask_px_01,ask_sz_01",
		"1709287200000000000,100.00,10,100.01,12,,,,",
		"1709287201000000000,100.00,10,100.01,12,"+undefPrice+",0,"+undefPrice+",0",
	)

	l, _ := newTestLoader(t, dir, 2)
	snaps, err := l.ReadFile(path, "AAPL")
	require.NoError(t, err)
	require.Len(t, snaps, 2)

	assert.True(t, snaps[0].TsEvent.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))
	assert.True(t, snaps[0].Level(0).Quoted())
	for _, s := range snaps {
		assert.True(t, math.IsNaN(s.Levels[1].BidPx))
		assert.False(t, s.Level(1).Quoted())
		assert.Zero(t, s.Levels[1].BidSz)
	}
}

func TestReadFile_BadValue(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "AAPL", "xnas-itch-20240301.mbp-10.csv.zst")
	writeZstd(t, path,
		"ts_event,bid_px_00,bid_sz_00,ask_px_00,ask_sz_00",
		"2024-03-01T10:00:00Z,100,ten,100.01,12",
	)

	l, _ := newTestLoader(t, dir, 1)
	_, err := l.ReadFile(path, "AAPL")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bid_sz_00")
}

func TestNew_InvalidOptions(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ofi.ErrInvalidConfig)

	_, err = New(Options{DataDir: "x", MaxLevels: 11})
	assert.ErrorIs(t, err, ofi.ErrInvalidConfig)

	_, err = New(Options{DataDir: "x", Pattern: "[", Logger: logger.Discard()})
	assert.ErrorIs(t, err, ofi.ErrInvalidConfig)
}

func TestSessionWindow_Contains(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	w, err := ParseSessionWindow("09:30", "16:00", "America/New_York")
	require.NoError(t, err)
	assert.Equal(t, ny.String(), w.Location.String())

	// 2024-03-01 is EST (UTC-5)
	day := func(h, m, s int) time.Time { return time.Date(2024, 3, 1, h, m, s, 0, time.UTC) }
	assert.False(t, w.Contains(day(14, 29, 59)))
	assert.True(t, w.Contains(day(14, 30, 0)))
	assert.True(t, w.Contains(day(21, 0, 0)))
	assert.False(t, w.Contains(day(21, 0, 1)))
}

func TestSessionWindow_ContainsOnDSTTransitions(t *testing.T) {
	w := DefaultSession()
	require.Equal(t, "America/New_York", w.Location.String())

	utc := func(mo time.Month, d, h, m, s int) time.Time { return time.Date(2024, mo, d, h, m, s, 0, time.UTC) }

	// 2024-03-10 springs forward at 02:00; the session is already EDT (UTC-4)
	assert.False(t, w.Contains(utc(time.March, 10, 13, 29, 59)))
	assert.True(t, w.Contains(utc(time.March, 10, 13, 30, 0)))
	assert.True(t, w.Contains(utc(time.March, 10, 20, 0, 0)))
	assert.False(t, w.Contains(utc(time.March, 10, 20, 0, 1)))

	// 2024-11-03 falls back at 02:00; the session is already EST (UTC-5)
	assert.False(t, w.Contains(utc(time.November, 3, 14, 29, 59)))
	assert.True(t, w.Contains(utc(time.November, 3, 14, 30, 0)))
	assert.True(t, w.Contains(utc(time.November, 3, 21, 0, 0)))
	assert.False(t, w.Contains(utc(time.November, 3, 21, 0, 1)))
}

func TestParseSessionWindow_Invalid(t *testing.T) {
	_, err := ParseSessionWindow("16:00", "09:30", "UTC")
	assert.Error(t, err)
	_, err = ParseSessionWindow("9h30", "16:00", "UTC")
	assert.Error(t, err)
	_, err = ParseSessionWindow("09:30", "16:00", "Mars/Olympus")
	assert.Error(t, err)

	all, err := ParseSessionWindow("", "", "")
	require.NoError(t, err)
	assert.True(t, all.Contains(time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)))
}
