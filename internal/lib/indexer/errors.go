package indexer

import (
	"errors"
	"fmt"
)

var ErrMalformedResponse = errors.New("malformed indexer response")

// StatusError is a non 2xx indexer response.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer returned status %d: %s", e.StatusCode, e.Body)
}

func (e *StatusError) temporary() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}
