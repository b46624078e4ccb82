package cluster

import "errors"

var (
	// ErrInvalidThreshold is returned for a NaN threshold
	ErrInvalidThreshold = errors.New("invalid threshold")

	// ErrInvalidMinSize is returned when the minimum cluster size is negative
	ErrInvalidMinSize = errors.New("minimum cluster size must be non-negative")

	// ErrInvalidPolicy is returned for an unknown or out-of-range boundary policy
	ErrInvalidPolicy = errors.New("invalid boundary policy")

	// ErrGridTooLarge is returned when the grid cannot be indexed with 32 bits
	ErrGridTooLarge = errors.New("grid too large")
)
