package ofi

import (
	"math"
	"time"

	"orderflow-lab/internal/domain"
)

var t0 = time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)

func lq(bidPx, bidSz, askPx, askSz float64) domain.LevelQuote {
	return domain.LevelQuote{BidPx: bidPx, BidSz: bidSz, AskPx: askPx, AskSz: askSz}
}

func unquoted() domain.LevelQuote {
	return domain.LevelQuote{BidPx: math.NaN(), AskPx: math.NaN()}
}

// bidOnly is a level with an empty ask side.
func bidOnly(bidPx, bidSz float64) domain.LevelQuote {
	return domain.LevelQuote{BidPx: bidPx, BidSz: bidSz, AskPx: math.NaN()}
}

// askOnly is a level with an empty bid side.
func askOnly(askPx, askSz float64) domain.LevelQuote {
	return domain.LevelQuote{BidPx: math.NaN(), AskPx: askPx, AskSz: askSz}
}

func book(ts time.Time, seq int64, levels ...domain.LevelQuote) *domain.Snapshot {
	return &domain.Snapshot{Symbol: "TEST", TsEvent: ts, Sequence: seq, Levels: levels}
}

// ladder builds a fully quoted n-level book around a top-of-book bid.
func ladder(ts time.Time, seq int64, n int, bid, size float64) *domain.Snapshot {
	levels := make([]domain.LevelQuote, n)
	for i := range levels {
		step := 0.01 * float64(i)
		levels[i] = lq(bid-step, size+float64(i), bid+0.01+step, size+float64(2*i))
	}
	return book(ts, seq, levels...)
}
