package timeseries

import "errors"

var (
	// ErrInvalidRange is returned when dateTo precedes dateFrom.
	ErrInvalidRange = errors.New("invalid range: dateTo precedes dateFrom")

	// ErrIncompatibleBuckets is returned when interpolating between buckets
	// read from different storage tiers.
	ErrIncompatibleBuckets = errors.New("buckets must have the same storage tier")

	// ErrGapTooWide is returned when the gap between two anchors is too wide
	// to upscale at the requested step.
	ErrGapTooWide = errors.New("gap too wide to upscale: reduce range or coarsen granularity")

	// ErrUnknownGranularity is returned for unrecognized granularity names.
	ErrUnknownGranularity = errors.New("unknown granularity")

	// ErrNotRollupTier is returned when rolling up into a tier that has no finer source tier.
	ErrNotRollupTier = errors.New("granularity is not a rollup target")
)
