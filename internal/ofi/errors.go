package ofi

import "errors"

var (
	// ErrInputSchema is returned when the per-level quote columns required by
	// the configured depth are absent. Fatal for the symbol being built.
	ErrInputSchema = errors.New("input schema missing required level columns")

	// ErrNumeric is returned under NumericFail when a minute's depth scale
	// factor is zero and its normalized OFI would be undefined.
	ErrNumeric = errors.New("depth scale factor is zero")

	// ErrInvalidConfig is returned for out-of-range or unknown options.
	ErrInvalidConfig = errors.New("invalid pipeline configuration")
)
