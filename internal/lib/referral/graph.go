// Package referral reconstructs the binary referral tree and summarizes a member's team.
package referral

import (
	"maps"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"github.com/byta-labs/stakedash/internal/lib/evm"
)

// Edge places Referred under Referrer on Side. Block and LogIndex locate the event that created it.
type Edge struct {
	Referrer common.Address `json:"referrer"`
	Referred common.Address `json:"referred"`
	Side     Side           `json:"side"`
	Block    uint64         `json:"block"`
	LogIndex uint           `json:"logIndex"`
}

func (e Edge) sameAs(other Edge) bool {
	return e.Referrer == other.Referrer && e.Referred == other.Referred && e.Side == other.Side
}

// Graph is an immutable referral forest. Build and With return new graphs, so a *Graph can be shared
// between goroutines w/o locking.
type Graph struct {
	children   map[common.Address][]Edge
	parent     map[common.Address]Edge
	violations []Violation
	// edges is every edge inserted, in insertion order, including ones rejected as violations.
	edges []Edge
}

// Build creates a graph from edges in the order given (normally log order).
func Build(edges []Edge) *Graph {
	g := &Graph{
		children: make(map[common.Address][]Edge),
		parent:   make(map[common.Address]Edge),
	}
	for _, e := range edges {
		g.insert(e)
	}
	return g
}

// With returns a new graph containing g's edges followed by edges. g is unchanged.
func (g *Graph) With(edges []Edge) *Graph {
	ng := &Graph{
		children:   make(map[common.Address][]Edge, len(g.children)),
		parent:     maps.Clone(g.parent),
		violations: slices.Clone(g.violations),
		edges:      slices.Clone(g.edges),
	}
	for referrer, kids := range g.children {
		ng.children[referrer] = slices.Clone(kids)
	}
	for _, e := range edges {
		ng.insert(e)
	}
	return ng
}

func (g *Graph) insert(e Edge) {
	g.edges = append(g.edges, e)
	if e.Referrer == e.Referred {
		g.violations = append(g.violations, Violation{
			Referred:    evm.CanonicalHex(e.Referred),
			Conflicting: e,
			Block:       e.Block,
			Reason:      "self referral",
		})
		return
	}
	if existing, found := g.parent[e.Referred]; found {
		if existing.sameAs(e) {
			// same event seen twice from overlapping scans
			return
		}
		reason := "conflicting referrer"
		if existing.Referrer == e.Referrer {
			reason = "conflicting side"
		}
		g.violations = append(g.violations, Violation{
			Referred:    evm.CanonicalHex(e.Referred),
			Existing:    &existing,
			Conflicting: e,
			Block:       e.Block,
			Reason:      reason,
		})
		return
	}
	g.parent[e.Referred] = e
	g.children[e.Referrer] = append(g.children[e.Referrer], e)
}

// Edges returns every edge the graph was built from, in insertion order.
func (g *Graph) Edges() []Edge {
	return slices.Clone(g.edges)
}

// Len is the number of edges in the graph.
func (g *Graph) Len() int {
	return len(g.parent)
}

// Children returns the edges from referrer in first observed order.
func (g *Graph) Children(referrer common.Address) []Edge {
	return slices.Clone(g.children[referrer])
}

// Referrer returns the edge placing referred, if any.
func (g *Graph) Referrer(referred common.Address) (Edge, bool) {
	e, found := g.parent[referred]
	return e, found
}

func (g *Graph) Violations() []Violation {
	return slices.Clone(g.violations)
}

// CountDownline is the number of distinct addresses below root. Cycles and shared nodes are counted once.
func (g *Graph) CountDownline(root common.Address) int {
	return len(g.downline(root))
}

// downline walks the subtree under root iteratively, returning every address reached (root excluded).
func (g *Graph) downline(root common.Address) map[common.Address]struct{} {
	visited := map[common.Address]struct{}{root: {}}
	work := []common.Address{root}
	for len(work) > 0 {
		cur := work[len(work)-1]
		work = work[:len(work)-1]
		for _, e := range g.children[cur] {
			if _, seen := visited[e.Referred]; seen {
				continue
			}
			visited[e.Referred] = struct{}{}
			work = append(work, e.Referred)
		}
	}
	delete(visited, root)
	return visited
}
