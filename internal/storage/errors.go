// Package storage defines the snapshot and feature store contracts shared by
// the memory, PostgreSQL and ClickHouse backends.
package storage

import "errors"

// Storage errors for append-only stores.
var (
	// ErrDuplicateKey is returned when a batch carries a key that is already
	// stored or repeated within the batch. Nothing from the batch is written.
	ErrDuplicateKey = errors.New("duplicate key: append-only store does not allow updates")

	// ErrInvalidInput is returned for nil records, empty symbols or empty level sets.
	ErrInvalidInput = errors.New("invalid input")
)
