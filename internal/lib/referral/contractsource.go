package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"github.com/mailgun/holster/v4/syncutil"

	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
)

// ReferralReader is satisfied by *byta.Client.
type ReferralReader interface {
	DirectReferrals(ctx context.Context, user common.Address) ([]common.Address, error)
	UserInfo(ctx context.Context, user common.Address) (byta.UserInfo, error)
}

// DefaultMaxNodes bounds how many addresses a contract enumeration will visit.
const DefaultMaxNodes = 5000

// ContractSource enumerates a team breadth first through the contract's getDirectReferrals view, one
// tree level at a time.
type ContractSource struct {
	log         *slog.Logger
	reader      ReferralReader
	concurrency int
	maxNodes    int
}

func NewContractSource(log *slog.Logger, reader ReferralReader, concurrency, maxNodes int) *ContractSource {
	if concurrency <= 0 {
		concurrency = 4
	}
	if maxNodes <= 0 {
		maxNodes = DefaultMaxNodes
	}
	return &ContractSource{log: log, reader: reader, concurrency: concurrency, maxNodes: maxNodes}
}

func (s *ContractSource) Name() string {
	return BackingContract
}

type child struct {
	addr common.Address
	side Side
	err  error
}

type expansion struct {
	parent   common.Address
	children []child
	err      error
}

func (s *ContractSource) TeamOf(ctx context.Context, root common.Address) (*Team, error) {
	rootKids, err := s.reader.DirectReferrals(ctx, root)
	if err != nil {
		return nil, err
	}

	var (
		edges      []Edge
		incomplete bool
		capped     bool
		visited    = map[common.Address]struct{}{root: {}}
		frontier   = []common.Address{root}
		prefetched = map[common.Address][]common.Address{root: rootKids}
	)
	for len(frontier) > 0 && !capped {
		level := s.expand(ctx, frontier, prefetched)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var next []common.Address
	levelLoop:
		for _, exp := range level {
			if exp.err != nil {
				if errors.Is(exp.err, byta.ErrUnsupportedContractShape) {
					return nil, exp.err
				}
				misc.Warnf(s.log, "could not list referrals of %s: %v", evm.CanonicalHex(exp.parent), exp.err)
				incomplete = true
				continue
			}
			for _, kid := range exp.children {
				if kid.err != nil {
					if errors.Is(kid.err, byta.ErrUnsupportedContractShape) {
						return nil, kid.err
					}
					misc.Warnf(s.log, "could not read placement of %s: %v", evm.CanonicalHex(kid.addr), kid.err)
					incomplete = true
					continue
				}
				if _, seen := visited[kid.addr]; seen {
					continue
				}
				if len(visited)-1 >= s.maxNodes {
					misc.Warnf(s.log, "%v: stopping enumeration of %s at %d addresses", ErrNodeCapReached, evm.CanonicalHex(root), s.maxNodes)
					incomplete = true
					capped = true
					break levelLoop
				}
				visited[kid.addr] = struct{}{}
				edges = append(edges, Edge{Referrer: exp.parent, Referred: kid.addr, Side: kid.side})
				next = append(next, kid.addr)
			}
		}
		prefetched = nil
		frontier = next
	}

	team := TeamFromGraph(Build(edges), root, BackingContract)
	team.Incomplete = incomplete
	return team, nil
}

// expand fetches the direct referrals and their placement side for every node in frontier. Results are in
// frontier order.
func (s *ContractSource) expand(ctx context.Context, frontier []common.Address, prefetched map[common.Address][]common.Address) []expansion {
	results := make([]expansion, len(frontier))
	fanOut := syncutil.NewFanOut(s.concurrency)
	for i := range frontier {
		fanOut.Run(func(val any) error {
			idx := val.(int)
			parent := frontier[idx]
			results[idx].parent = parent
			kids, found := prefetched[parent]
			if !found {
				var err error
				if kids, err = s.reader.DirectReferrals(ctx, parent); err != nil {
					results[idx].err = fmt.Errorf("direct referrals: %w", err)
					return nil
				}
			}
			for _, kid := range kids {
				info, err := s.reader.UserInfo(ctx, kid)
				results[idx].children = append(results[idx].children, child{addr: kid, side: SideOf(info.IsLeft), err: err})
			}
			return nil
		}, i)
	}
	fanOut.Wait()
	return results
}
