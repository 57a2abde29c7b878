package dashboard

import "errors"

var (
	ErrInvalidAddress = errors.New("invalid dashboard address")
	ErrNoPrice        = errors.New("no price sample")
)
