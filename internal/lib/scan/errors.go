package scan

import "errors"

var (
	// ErrRangeQueryFailed wraps the provider error for a chunk that could not be fetched.
	ErrRangeQueryFailed = errors.New("log range query failed")
	ErrInvalidRange     = errors.New("invalid block range")
)
