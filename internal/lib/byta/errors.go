package byta

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rpc"
)

var (
	// ErrUnsupportedContractShape means the deployed contract doesn't have the view/event being asked for -
	// method missing from the abi, no code at the address, or a revert w/ no data.
	ErrUnsupportedContractShape = errors.New("contract does not support this call")
	ErrUndecodableLog           = errors.New("log does not decode as expected event")
	ErrNoScanner                = errors.New("no log scanner configured")
)

// classifyCallError maps a failed eth_call into ErrUnsupportedContractShape when the node reports a bare
// revert, which is what calling an unknown selector on a contract w/o a fallback looks like.
func classifyCallError(method string, err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if data, _ := dataErr.ErrorData().(string); data == "" || data == "0x" {
			return fmt.Errorf("%w: %s reverted w/o data: %w", ErrUnsupportedContractShape, method, err)
		}
		return fmt.Errorf("calling %s: %w", method, err)
	}
	if strings.TrimSpace(err.Error()) == "execution reverted" {
		return fmt.Errorf("%w: %s reverted w/o data: %w", ErrUnsupportedContractShape, method, err)
	}
	return fmt.Errorf("calling %s: %w", method, err)
}

func isUnsupported(err error) bool {
	return errors.Is(err, ErrUnsupportedContractShape)
}
