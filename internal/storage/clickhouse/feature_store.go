package clickhouse

import (
	"context"
	"fmt"
	"time"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
type FeatureStore struct {
	conn *Conn
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// InsertBulk adds multiple rows. Fails entire batch on duplicate (symbol, minute).
// MergeTree does not enforce keys, so duplicates are checked before the batch is sent.
func (s *FeatureStore) InsertBulk(ctx context.Context, rows []*domain.FeatureRow) (err error) {
	if len(rows) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.conn.observe("insert_features", start, err) }()

	// Intra-batch duplicates, and the minute span per symbol
	type key struct {
		symbol string
		minute int64
	}
	type span struct{ from, to time.Time }
	seen := make(map[key]struct{}, len(rows))
	spans := make(map[string]*span)
	for _, r := range rows {
		if r == nil || r.Symbol == "" || len(r.OFI) == 0 {
			return storage.ErrInvalidInput
		}
		k := key{r.Symbol, r.Minute.UnixNano()}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}

		sp, ok := spans[r.Symbol]
		if !ok {
			spans[r.Symbol] = &span{from: r.Minute, to: r.Minute}
			continue
		}
		if r.Minute.Before(sp.from) {
			sp.from = r.Minute
		}
		if r.Minute.After(sp.to) {
			sp.to = r.Minute
		}
	}

	// Duplicates against existing rows
	for symbol, sp := range spans {
		existing, err := s.minutes(ctx, symbol, sp.from, sp.to)
		if err != nil {
			return fmt.Errorf("check exists: %w", err)
		}
		for _, m := range existing {
			if _, dup := seen[key{symbol, m.UnixNano()}]; dup {
				return storage.ErrDuplicateKey
			}
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO ofi_features (symbol, minute, ofi, log_return, mid_price_delta)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range rows {
		if err := batch.Append(r.Symbol, r.Minute.UTC(), r.OFI, r.LogReturn, r.MidPriceDelta); err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all rows for a symbol, ordered by minute ASC.
func (s *FeatureStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.FeatureRow, error) {
	query := `
		SELECT symbol, minute, ofi, log_return, mid_price_delta
		FROM ofi_features FINAL
		WHERE symbol = ?
		ORDER BY minute ASC
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, symbol)
	s.conn.observe("get_features", start, err)
	if err != nil {
		return nil, fmt.Errorf("query by symbol: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// GetByTimeRange retrieves rows for a symbol within [start, end] (inclusive).
func (s *FeatureStore) GetByTimeRange(ctx context.Context, symbol string, from, to time.Time) ([]*domain.FeatureRow, error) {
	query := `
		SELECT symbol, minute, ofi, log_return, mid_price_delta
		FROM ofi_features FINAL
		WHERE symbol = ? AND minute >= ? AND minute <= ?
		ORDER BY minute ASC
	`

	start := time.Now()
	rows, err := s.conn.Query(ctx, query, symbol, from.UTC(), to.UTC())
	s.conn.observe("get_features", start, err)
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// minutes lists the stored minutes of symbol within [from, to].
func (s *FeatureStore) minutes(ctx context.Context, symbol string, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT minute FROM ofi_features
		WHERE symbol = ? AND minute >= ? AND minute <= ?
	`

	rows, err := s.conn.Query(ctx, query, symbol, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []time.Time
	for rows.Next() {
		var m time.Time
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

// scanFeatureRows scans multiple rows.
func scanFeatureRows(rows chRows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow

	for rows.Next() {
		var r domain.FeatureRow
		if err := rows.Scan(&r.Symbol, &r.Minute, &r.OFI, &r.LogReturn, &r.MidPriceDelta); err != nil {
			return nil, fmt.Errorf("scan ofi features row: %w", err)
		}
		r.Minute = r.Minute.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ofi features rows: %w", err)
	}

	return result, nil
}
