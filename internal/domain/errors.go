package domain

import "errors"

// Failure taxonomy for the ingestion and analysis paths. Network errors from
// the HTTP client are retryable as-is; these sentinels classify everything
// else.
var (
	// ErrRateLimited means the provider returned HTTP 429 or a quota-exceeded
	// payload. Retryable only after the mandated cooldown.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrInvalidData means the payload shape was wrong or no usable pollutant
	// was present. Not retryable; the record is logged and skipped.
	ErrInvalidData = errors.New("invalid measurement data")

	// ErrCycleRunning is returned when an ingestion cycle is triggered while
	// another is still in flight. Cycles never interleave.
	ErrCycleRunning = errors.New("ingestion cycle already running")

	// ErrAllCitiesFailed is the hard failure of a cycle in which no city
	// succeeded. Partial failure is reported, not returned.
	ErrAllCitiesFailed = errors.New("ingestion cycle failed for all cities")

	// ErrUnknownAlgorithm is a caller error: the requested algorithm code is
	// not in the registry.
	ErrUnknownAlgorithm = errors.New("unknown algorithm code")

	// ErrUnknownCity is a caller error: the city is not in the configured set.
	ErrUnknownCity = errors.New("city not supported")
)
