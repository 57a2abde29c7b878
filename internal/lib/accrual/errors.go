package accrual

import "errors"

// ErrInvalidInput is returned (wrapped w/ the offending field) for inputs no reward can be derived from.
var ErrInvalidInput = errors.New("invalid accrual input")
