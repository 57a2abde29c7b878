package evm

import "errors"

var (
	ErrInvalidAddress = errors.New("invalid address")
	ErrWrongChain     = errors.New("rpc endpoint is on a different chain")
)
