package domain

import "time"

// FeatureRow is one minute of normalized order flow imbalance with its
// price-return label. Corresponds to ofi_features table in ClickHouse.
type FeatureRow struct {
	Symbol        string    // instrument identifier
	Minute        time.Time // minute start (ts_event in the output table)
	OFI           []float64 // normalized OFI per level, ofi_0..ofi_{n-1}
	LogReturn     float64   // ln(end_mid / start_mid)
	MidPriceDelta float64   // end_mid - start_mid
}

// Levels returns the number of depth levels carried by the row.
func (r *FeatureRow) Levels() int {
	return len(r.OFI)
}
