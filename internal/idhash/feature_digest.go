// Package idhash computes deterministic identifiers for feature tables.
package idhash

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"

	"orderflow-lab/internal/domain"
)

// ComputeConfigKey identifies the settings a feature table was built with.
// Formula: SHA256(symbol|max_levels|join_mode|boundary|numeric_policy)
// Returns hex-encoded hash (64 characters).
func ComputeConfigKey(
	symbol string,
	maxLevels int,
	joinMode string,
	boundary string,
	numericPolicy string,
) string {
	data := fmt.Sprintf("%s|%d|%s|%s|%s",
		symbol,
		maxLevels,
		joinMode,
		boundary,
		numericPolicy,
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

// ComputeFeatureDigest hashes the exact bit patterns of a feature table in
// row order. Two tables have the same digest only if every value is
// bit-identical.
func ComputeFeatureDigest(rows []*domain.FeatureRow) string {
	h := sha256.New()
	var buf [8]byte
	writeFloat := func(v float64) {
		binary.BigEndian.PutUint64(buf[:], math.Float64bits(v))
		h.Write(buf[:])
	}

	for _, r := range rows {
		h.Write([]byte(r.Symbol))
		h.Write([]byte{0})
		binary.BigEndian.PutUint64(buf[:], uint64(r.Minute.UnixNano()))
		h.Write(buf[:])
		binary.BigEndian.PutUint64(buf[:], uint64(len(r.OFI)))
		h.Write(buf[:])
		for _, v := range r.OFI {
			writeFloat(v)
		}
		writeFloat(r.LogReturn)
		writeFloat(r.MidPriceDelta)
	}
	return hex.EncodeToString(h.Sum(nil))
}
