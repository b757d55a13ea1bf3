// Package loader reads daily market-by-price files into snapshot series.
package loader

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/zstd"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/logger"
	"orderflow-lab/internal/observability"
	"orderflow-lab/internal/ofi"
)

// DefaultPattern matches one Databento MBP-10 file per trading day.
const DefaultPattern = "xnas-itch-????????.mbp-10.csv.zst"

// ErrNoFiles is returned when no input file matches for a symbol.
var ErrNoFiles = errors.New("no input files")

// Options configures a Loader.
type Options struct {
	DataDir   string // files live under <DataDir>/<symbol>/
	Pattern   string // glob per symbol directory, DefaultPattern if empty
	MaxLevels int    // depth levels to read, ofi.DefaultMaxLevels if zero
	Session   *SessionWindow
	Logger    *logger.Log
	Metrics   *observability.Metrics
}

// Loader discovers, decompresses and parses raw snapshot files.
type Loader struct {
	dataDir   string
	pattern   string
	maxLevels int
	session   SessionWindow
	log       *logger.Log
	metrics   *observability.Metrics
}

// New creates a Loader.
func New(opts Options) (*Loader, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data dir is required", ofi.ErrInvalidConfig)
	}
	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultPattern
	}
	if _, err := filepath.Match(pattern, ""); err != nil {
		return nil, fmt.Errorf("%w: file pattern %q: %v", ofi.ErrInvalidConfig, pattern, err)
	}
	maxLevels := opts.MaxLevels
	if maxLevels == 0 {
		maxLevels = ofi.DefaultMaxLevels
	}
	if maxLevels < 1 || maxLevels > domain.MaxDepthLevels {
		return nil, fmt.Errorf("%w: max_levels must be in [1, %d], got %d", ofi.ErrInvalidConfig, domain.MaxDepthLevels, maxLevels)
	}
	session := DefaultSession()
	if opts.Session != nil {
		session = *opts.Session
	}
	log := opts.Logger
	if log == nil {
		log = logger.Default()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observability.DefaultMetrics
	}

	return &Loader{
		dataDir:   opts.DataDir,
		pattern:   pattern,
		maxLevels: maxLevels,
		session:   session,
		log:       log,
		metrics:   metrics,
	}, nil
}

// DiscoverFiles lists the symbol's files sorted by name, which for dated
// file names is chronological.
func (l *Loader) DiscoverFiles(symbol string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(l.dataDir, symbol, l.pattern))
	if err != nil {
		return nil, fmt.Errorf("glob %s: %w", symbol, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w for %s under %s", ErrNoFiles, symbol, filepath.Join(l.dataDir, symbol))
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile decompresses and parses one file. Rows are returned in file
// order with Sequence unset and no session filtering.
func (l *Loader) ReadFile(path, symbol string) ([]*domain.Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(bufio.NewReaderSize(f, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("open zstd stream %s: %w", path, err)
	}
	defer dec.Close()

	snaps, err := decodeCSV(dec, symbol, l.maxLevels)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return snaps, nil
}

// LoadSymbol reads every file of a symbol, keeps rows inside the session
// window, numbers them in input order and sorts them by (ts_event, sequence).
// Returns ErrNoFiles when nothing matches; files that match but hold no
// session rows yield an empty series.
func (l *Loader) LoadSymbol(ctx context.Context, symbol string) ([]*domain.Snapshot, error) {
	start := time.Now()
	log := l.log.WithComponent("loader").WithFields(logger.Fields{"symbol": symbol})

	files, err := l.DiscoverFiles(symbol)
	if err != nil {
		return nil, err
	}

	var result []*domain.Snapshot
	var seq int64
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		snaps, err := l.ReadFile(path, symbol)
		if err != nil {
			return nil, err
		}

		kept := 0
		for _, s := range snaps {
			if !l.session.Contains(s.TsEvent) {
				continue
			}
			s.Sequence = seq
			seq++
			result = append(result, s)
			kept++
		}

		l.metrics.FilesLoaded.Inc()
		l.metrics.RowsLoaded.Add(float64(len(snaps)))
		l.metrics.RowsOutsideSession.Add(float64(len(snaps) - kept))
		log.WithFields(logger.Fields{
			"file":    filepath.Base(path),
			"rows":    len(snaps),
			"session": kept,
		}).Debug("file loaded")
	}

	ofi.SortSnapshots(result)

	log.WithFields(logger.Fields{
		"files":  len(files),
		"events": len(result),
	}).Info("symbol loaded")
	log.Duration("load_symbol", time.Since(start))

	return result, nil
}

// MaxLevels returns the configured depth.
func (l *Loader) MaxLevels() int {
	return l.maxLevels
}
