package domain

import (
	"math"
	"time"
)

// MaxDepthLevels is the deepest book level an MBP-10 feed carries.
const MaxDepthLevels = 10

// LevelQuote is the bid/ask price and size at one depth level.
type LevelQuote struct {
	BidPx float64 // bid price, NaN if the bid side is empty
	BidSz float64 // bid size, 0 if the bid side is empty
	AskPx float64 // ask price, NaN if the ask side is empty
	AskSz float64 // ask size, 0 if the ask side is empty
}

// HasBid reports whether the bid side carries a price.
func (q LevelQuote) HasBid() bool { return !math.IsNaN(q.BidPx) }

// HasAsk reports whether the ask side carries a price.
func (q LevelQuote) HasAsk() bool { return !math.IsNaN(q.AskPx) }

// Quoted reports whether both sides of the level carry a price.
func (q LevelQuote) Quoted() bool {
	return q.HasBid() && q.HasAsk()
}

// Empty reports whether neither side carries a price.
func (q LevelQuote) Empty() bool {
	return !q.HasBid() && !q.HasAsk()
}

// Depth returns the combined resting size at the level.
func (q LevelQuote) Depth() float64 {
	return q.BidSz + q.AskSz
}

// Snapshot is one book-update event of a market-by-price feed.
// Corresponds to mbp_snapshots table in PostgreSQL.
type Snapshot struct {
	Symbol   string       // instrument identifier
	TsEvent  time.Time    // matching-engine event timestamp
	Sequence int64        // input order, breaks ties between equal timestamps
	Levels   []LevelQuote // level 0 = best bid/ask
}

// Level returns the quote at the given depth, or an unquoted LevelQuote when
// the snapshot does not carry that many levels.
func (s *Snapshot) Level(level int) LevelQuote {
	if level < 0 || level >= len(s.Levels) {
		return LevelQuote{BidPx: math.NaN(), AskPx: math.NaN()}
	}
	return s.Levels[level]
}

// MidPrice returns the level-0 mid-price and whether it is defined.
func (s *Snapshot) MidPrice() (float64, bool) {
	top := s.Level(0)
	if !top.Quoted() {
		return 0, false
	}
	return (top.BidPx + top.AskPx) / 2, true
}
