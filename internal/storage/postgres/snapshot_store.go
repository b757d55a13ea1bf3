package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"orderflow-lab/internal/domain"
	"orderflow-lab/internal/storage"
)

// SnapshotStore implements storage.SnapshotStore using PostgreSQL.
// Levels are stored as four parallel float8[] columns.
type SnapshotStore struct {
	pool *Pool
}

// NewSnapshotStore creates a new SnapshotStore.
func NewSnapshotStore(pool *Pool) *SnapshotStore {
	return &SnapshotStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SnapshotStore = (*SnapshotStore)(nil)

var snapshotColumns = []string{"symbol", "ts_event", "sequence", "bid_px", "bid_sz", "ask_px", "ask_sz"}

// InsertBulk adds multiple snapshots atomically. Fails entire batch on any duplicate.
func (s *SnapshotStore) InsertBulk(ctx context.Context, snaps []*domain.Snapshot) (err error) {
	if len(snaps) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { s.pool.observe("insert_snapshots", start, err) }()

	rows := make([][]any, 0, len(snaps))
	for _, snap := range snaps {
		if snap == nil || snap.Symbol == "" || len(snap.Levels) == 0 {
			return storage.ErrInvalidInput
		}
		bidPx, bidSz, askPx, askSz := splitLevels(snap.Levels)
		rows = append(rows, []any{snap.Symbol, snap.TsEvent, snap.Sequence, bidPx, bidSz, askPx, askSz})
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.CopyFrom(ctx, pgx.Identifier{"mbp_snapshots"}, snapshotColumns, pgx.CopyFromRows(rows)); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("copy snapshots: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("commit tx: %w", err)
	}

	return nil
}

// GetBySymbol retrieves all snapshots for a symbol, ordered by (ts_event, sequence) ASC.
func (s *SnapshotStore) GetBySymbol(ctx context.Context, symbol string) ([]*domain.Snapshot, error) {
	query := `
		SELECT symbol, ts_event, sequence, bid_px, bid_sz, ask_px, ask_sz
		FROM mbp_snapshots
		WHERE symbol = $1
		ORDER BY ts_event ASC, sequence ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, symbol)
	s.pool.observe("get_snapshots", start, err)
	if err != nil {
		return nil, fmt.Errorf("get snapshots by symbol: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// GetByTimeRange retrieves snapshots for a symbol within [start, end] (inclusive).
func (s *SnapshotStore) GetByTimeRange(ctx context.Context, symbol string, from, to time.Time) ([]*domain.Snapshot, error) {
	query := `
		SELECT symbol, ts_event, sequence, bid_px, bid_sz, ask_px, ask_sz
		FROM mbp_snapshots
		WHERE symbol = $1 AND ts_event >= $2 AND ts_event <= $3
		ORDER BY ts_event ASC, sequence ASC
	`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, symbol, from, to)
	s.pool.observe("get_snapshots", start, err)
	if err != nil {
		return nil, fmt.Errorf("get snapshots by time range: %w", err)
	}
	defer rows.Close()

	return scanSnapshots(rows)
}

// ListSymbols returns the distinct symbols stored, sorted ASC.
func (s *SnapshotStore) ListSymbols(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT symbol FROM mbp_snapshots ORDER BY symbol ASC`)
	if err != nil {
		return nil, fmt.Errorf("list symbols: %w", err)
	}
	defer rows.Close()

	symbols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan symbols: %w", err)
	}
	return symbols, nil
}

func splitLevels(levels []domain.LevelQuote) (bidPx, bidSz, askPx, askSz []float64) {
	n := len(levels)
	bidPx, bidSz = make([]float64, n), make([]float64, n)
	askPx, askSz = make([]float64, n), make([]float64, n)
	for i, l := range levels {
		bidPx[i], bidSz[i] = l.BidPx, l.BidSz
		askPx[i], askSz[i] = l.AskPx, l.AskSz
	}
	return bidPx, bidSz, askPx, askSz
}

// scanSnapshots scans multiple rows into a slice of Snapshot.
func scanSnapshots(rows pgx.Rows) ([]*domain.Snapshot, error) {
	var snaps []*domain.Snapshot

	for rows.Next() {
		var snap domain.Snapshot
		var bidPx, bidSz, askPx, askSz []float64

		if err := rows.Scan(&snap.Symbol, &snap.TsEvent, &snap.Sequence, &bidPx, &bidSz, &askPx, &askSz); err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		if len(bidSz) != len(bidPx) || len(askPx) != len(bidPx) || len(askSz) != len(bidPx) {
			return nil, fmt.Errorf("snapshot %s@%s: ragged level arrays", snap.Symbol, snap.TsEvent)
		}

		snap.TsEvent = snap.TsEvent.UTC()
		snap.Levels = make([]domain.LevelQuote, len(bidPx))
		for i := range bidPx {
			snap.Levels[i] = domain.LevelQuote{BidPx: bidPx[i], BidSz: bidSz[i], AskPx: askPx[i], AskSz: askSz[i]}
		}
		snaps = append(snaps, &snap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate snapshot rows: %w", err)
	}

	return snaps, nil
}
