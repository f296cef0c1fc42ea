package runs

import "errors"

// Validation errors returned by grouping and aggregation.
var (
	// ErrInvalidKey is returned by GroupBy when a grouping key is not a
	// known column of the collection.
	ErrInvalidKey = errors.New("invalid grouping key")

	// ErrInvalidAggregation is returned by Aggregate when a map is not a
	// reduction defined by package aggregate.
	ErrInvalidAggregation = errors.New("invalid aggregation map")
)
