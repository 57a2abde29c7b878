package referral

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
)

var tracer = otel.Tracer("github.com/byta-labs/stakedash/internal/lib/referral")

// Backing names, as used in configuration.
const (
	BackingLogs     = "logs"
	BackingContract = "contract"
	BackingIndexer  = "indexer"
)

// Member is a direct referral of the team root.
type Member struct {
	Address       common.Address `json:"address"`
	Side          Side           `json:"side"`
	Level         int            `json:"level"`
	DownlineCount int            `json:"indirectCount"`
}

type Team struct {
	Root       common.Address `json:"root"`
	Members    []Member       `json:"team"`
	LeftCount  int            `json:"leftCount"`
	RightCount int            `json:"rightCount"`
	TotalTeam  int            `json:"totalTeam"`
	Backing    string         `json:"backing"`
	// Incomplete is set when the data behind the counts has holes (failed log ranges, node cap hit).
	Incomplete bool `json:"incomplete"`
	// Unavailable is set when the backing can't answer at all for this contract; counts are zero.
	Unavailable bool        `json:"unavailable"`
	Violations  []Violation `json:"violations,omitempty"`
}

// EmptyTeam is the zero count team for root.
func EmptyTeam(root common.Address, backing string) *Team {
	return &Team{Root: root, Members: []Member{}, Backing: backing}
}

// TeamFromGraph summarizes root's direct referrals. Each side's count is the sum over that side's direct
// members of their downline plus the member itself.
func TeamFromGraph(g *Graph, root common.Address, backing string) *Team {
	team := EmptyTeam(root, backing)
	for _, e := range g.Children(root) {
		member := Member{
			Address:       e.Referred,
			Side:          e.Side,
			Level:         1,
			DownlineCount: g.CountDownline(e.Referred),
		}
		team.Members = append(team.Members, member)
		if member.Side == Left {
			team.LeftCount += member.DownlineCount + 1
		} else {
			team.RightCount += member.DownlineCount + 1
		}
	}
	team.TotalTeam = team.LeftCount + team.RightCount

	// Surface violations that touch this team so they can be inspected.
	subtree := g.downline(root)
	subtree[root] = struct{}{}
	for _, v := range g.violations {
		_, conflictIn := subtree[v.Conflicting.Referrer]
		existingIn := false
		if v.Existing != nil {
			_, existingIn = subtree[v.Existing.Referrer]
		}
		if conflictIn || existingIn {
			team.Violations = append(team.Violations, v)
		}
	}
	return team
}

// Source is one way of answering "who is in root's team".
type Source interface {
	Name() string
	TeamOf(ctx context.Context, root common.Address) (*Team, error)
}

// Aggregator fronts a Source, turning an unsupported contract into an empty team instead of an error.
type Aggregator struct {
	log    *slog.Logger
	source Source
}

func NewAggregator(log *slog.Logger, source Source) *Aggregator {
	return &Aggregator{log: log, source: source}
}

func (a *Aggregator) Backing() string {
	return a.source.Name()
}

func (a *Aggregator) TeamOf(ctx context.Context, root common.Address) (*Team, error) {
	ctx, span := tracer.Start(ctx, "referral.TeamOf", trace.WithAttributes(
		attribute.String("team.root", evm.CanonicalHex(root)),
		attribute.String("team.backing", a.source.Name()),
	))
	defer span.End()

	team, err := a.source.TeamOf(ctx, root)
	if errors.Is(err, byta.ErrUnsupportedContractShape) {
		misc.Warnf(a.log, "team backing %s unavailable for %s, reporting empty team: %v", a.source.Name(), evm.CanonicalHex(root), err)
		promTeamLookups.WithLabelValues(a.source.Name(), "unavailable").Inc()
		team = EmptyTeam(root, a.source.Name())
		team.Unavailable = true
		return team, nil
	}
	if err != nil {
		promTeamLookups.WithLabelValues(a.source.Name(), "error").Inc()
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("team of %s via %s: %w", evm.CanonicalHex(root), a.source.Name(), err)
	}
	promTeamLookups.WithLabelValues(a.source.Name(), "ok").Inc()
	span.SetAttributes(attribute.Int("team.total", team.TotalTeam), attribute.Bool("team.incomplete", team.Incomplete))
	return team, nil
}
