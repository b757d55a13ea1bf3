package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/ofi"
)

// undefPrice is the fixed-point sentinel Databento writes for an empty level
// when prices are not pretty-printed.
const undefPrice = "9223372036854775807"

// columns maps the required CSV columns to their positions.
type columns struct {
	tsEvent int
	bidPx   []int
	bidSz   []int
	askPx   []int
	askSz   []int
}

// levelColumn returns the MBP-10 column name, e.g. bid_px_03.
func levelColumn(field string, level int) string {
	return fmt.Sprintf("%s_%02d", field, level)
}

// resolveColumns validates the header. Every missing column is reported in
// one ErrInputSchema error.
func resolveColumns(header []string, maxLevels int) (*columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(h)] = i
	}

	var missing []string
	find := func(name string) int {
		i, ok := idx[name]
		if !ok {
			missing = append(missing, name)
			return -1
		}
		return i
	}

	c := &columns{
		tsEvent: find("ts_event"),
		bidPx:   make([]int, maxLevels),
		bidSz:   make([]int, maxLevels),
		askPx:   make([]int, maxLevels),
		askSz:   make([]int, maxLevels),
	}
	for l := 0; l < maxLevels; l++ {
		c.bidPx[l] = find(levelColumn("bid_px", l))
		c.bidSz[l] = find(levelColumn("bid_sz", l))
		c.askPx[l] = find(levelColumn("ask_px", l))
		c.askSz[l] = find(levelColumn("ask_sz", l))
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing columns %s", ofi.ErrInputSchema, strings.Join(missing, ", "))
	}
	return c, nil
}

// parseTimestamp accepts RFC3339 with any fractional precision or integer
// nanoseconds since the epoch.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s != "" && strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' }) < 0 {
		ns, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return time.Time{}, err
		}
		return time.Unix(0, ns).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// parsePrice maps empty cells and the undefined sentinel to NaN.
func parsePrice(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || s == undefPrice {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseSize maps empty cells to zero.
func parseSize(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// decodeCSV reads MBP rows from r. The header must carry ts_event and the
// four per-level columns for levels 0..maxLevels-1; other columns are ignored.
// A malformed value aborts with the line number.
func decodeCSV(r io.Reader, symbol string, maxLevels int) ([]*domain.Snapshot, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty file", ofi.ErrInputSchema)
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	cols, err := resolveColumns(header, maxLevels)
	if err != nil {
		return nil, err
	}

	var snaps []*domain.Snapshot
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		line, _ := reader.FieldPos(0)

		ts, err := parseTimestamp(row[cols.tsEvent])
		if err != nil {
			return nil, fmt.Errorf("line %d: parse ts_event: %w", line, err)
		}

		levels := make([]domain.LevelQuote, maxLevels)
		for l := range levels {
			q := &levels[l]
			if q.BidPx, err = parsePrice(row[cols.bidPx[l]]); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, levelColumn("bid_px", l), err)
			}
			if q.BidSz, err = parseSize(row[cols.bidSz[l]]); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, levelColumn("bid_sz", l), err)
			}
			if q.AskPx, err = parsePrice(row[cols.askPx[l]]); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, levelColumn("ask_px", l), err)
			}
			if q.AskSz, err = parseSize(row[cols.askSz[l]]); err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", line, levelColumn("ask_sz", l), err)
			}
		}

		snaps = append(snaps, &domain.Snapshot{Symbol: symbol, TsEvent: ts, Levels: levels})
	}

	return snaps, nil
}
