package referral

import (
	"errors"
	"fmt"

	"github.com/byta-labs/stakedash/internal/lib/evm"
)

var (
	// ErrGraphIntegrity is matched by every Violation.
	ErrGraphIntegrity = errors.New("referral graph integrity violation")
	ErrNodeCapReached = errors.New("team enumeration node cap reached")
)

// Violation is an edge that contradicts one already in the graph - a second referrer (or side) for an
// address that was already placed, or a self referral. The Conflicting edge is excluded from the graph.
type Violation struct {
	Referred    string `json:"referred"`
	Existing    *Edge  `json:"existing,omitempty"`
	Conflicting Edge   `json:"conflicting"`
	Block       uint64 `json:"block"`
	Reason      string `json:"reason"`
}

func (v Violation) Error() string {
	if v.Existing == nil {
		return fmt.Sprintf("%s: %s at block %d", v.Reason, v.Referred, v.Block)
	}
	return fmt.Sprintf("%s: %s placed under %s (%s) at block %d, again under %s (%s) at block %d",
		v.Reason, v.Referred,
		evm.CanonicalHex(v.Existing.Referrer), v.Existing.Side, v.Existing.Block,
		evm.CanonicalHex(v.Conflicting.Referrer), v.Conflicting.Side, v.Conflicting.Block)
}

func (v Violation) Unwrap() error {
	return ErrGraphIntegrity
}
