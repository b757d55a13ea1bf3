package domain

import "time"

// LevelFlowRecord is the order flow of one level between an event and its
// predecessor. Records are consumed by aggregation and never persisted.
type LevelFlowRecord struct {
	TsEvent time.Time // event timestamp
	BidFlow float64   // bid-side flow
	AskFlow float64   // ask-side flow, positive under selling pressure
	NetDiff float64   // BidFlow - AskFlow
	Depth   float64   // bid size + ask size at this event
}

// MinuteBucket is one level's flow summed over a one-minute window.
type MinuteBucket struct {
	Minute  time.Time // bucket start, floored to the minute
	NetDiff float64   // SUM(net_diff)
	Depth   float64   // SUM(bid_sz + ask_sz)
	Records int       // number of contributing records
}

// EventCount is the number of book-update events inside a minute.
type EventCount struct {
	Minute time.Time
	Count  int
}

// AlignedMinuteRow holds every configured level's bucket for one minute.
type AlignedMinuteRow struct {
	Minute     time.Time
	NetDiff    []float64 // indexed by level
	Depth      []float64 // indexed by level
	EventCount int
}

// NormalizedRow is an aligned minute after depth normalization.
type NormalizedRow struct {
	Minute time.Time
	OFI    []float64 // net_diff / QM, indexed by level
	QM     float64   // 0.5 * average depth / event count
}

// MinuteReturn is the level-0 mid-price move inside a minute.
type MinuteReturn struct {
	Minute     time.Time
	StartMid   float64  // first mid-price in the minute
	EndMid     float64  // last mid-price in the minute
	PriceDelta *float64 // end - start, NULL if no mid-price in the minute
	LogReturn  *float64 // ln(end/start), NULL if start <= 0 or end <= 0
}
