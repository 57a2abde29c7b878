package indexer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/referral"
)

// teamResponse is the indexer's /team/{address} body. Older deployments name the member address
// "wallet" and some put the side in "level".
type teamResponse struct {
	Team       []teamMember `json:"team"`
	LeftCount  *int         `json:"leftCount"`
	RightCount *int         `json:"rightCount"`
	TotalTeam  *int         `json:"totalTeam"`
}

type teamMember struct {
	Address       string          `json:"address"`
	Wallet        string          `json:"wallet"`
	Side          json.RawMessage `json:"side"`
	IsLeft        *bool           `json:"isLeft"`
	Level         json.RawMessage `json:"level"`
	IndirectCount *int            `json:"indirectCount"`
	TotalCount    *int            `json:"totalCount"`
}

// rawString returns the json value as a plain string - unquoting strings, passing numbers and bools through.
func rawString(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(string(raw))
}

func (m teamMember) normalize() (referral.Member, error) {
	rawAddr := m.Address
	if rawAddr == "" {
		rawAddr = m.Wallet
	}
	address, err := evm.ParseAddress(rawAddr)
	if err != nil {
		return referral.Member{}, err
	}
	member := referral.Member{Address: address, Level: 1}

	sideSet := false
	if side := rawString(m.Side); side != "" {
		if member.Side, err = referral.ParseSide(side); err != nil {
			return referral.Member{}, err
		}
		sideSet = true
	} else if m.IsLeft != nil {
		member.Side = referral.SideOf(*m.IsLeft)
		sideSet = true
	}

	if level := rawString(m.Level); level != "" {
		if n, err := strconv.Atoi(level); err == nil {
			member.Level = n
		} else if side, err := referral.ParseSide(level); err == nil && !sideSet {
			member.Side = side
			sideSet = true
		} else if !sideSet {
			return referral.Member{}, fmt.Errorf("unrecognized level %q", level)
		}
	}
	if !sideSet {
		return referral.Member{}, fmt.Errorf("member %s has no side", evm.CanonicalHex(address))
	}

	switch {
	case m.IndirectCount != nil:
		member.DownlineCount = *m.IndirectCount
	case m.TotalCount != nil:
		member.DownlineCount = *m.TotalCount
	}
	return member, nil
}

// toTeam converts the response, preferring the indexer's own counts when present.
func (r teamResponse) toTeam(root common.Address) (*referral.Team, []error) {
	team := referral.EmptyTeam(root, referral.BackingIndexer)
	var (
		skipped   []error
		multiLvl  bool
		left      int
		right     int
		flatLeft  int
		flatRight int
	)
	for i, m := range r.Team {
		member, err := m.normalize()
		if err != nil {
			skipped = append(skipped, fmt.Errorf("%w: member %d: %w", ErrMalformedResponse, i, err))
			continue
		}
		multiLvl = multiLvl || member.Level > 1
		if member.Level <= 1 {
			// deeper levels only count toward the totals
			team.Members = append(team.Members, member)
		}
		if member.Side == referral.Left {
			left += member.DownlineCount + 1
			flatLeft++
		} else {
			right += member.DownlineCount + 1
			flatRight++
		}
	}
	if multiLvl {
		// every level is listed, so each entry is one member
		left, right = flatLeft, flatRight
	}
	team.LeftCount, team.RightCount = left, right
	if r.LeftCount != nil {
		team.LeftCount = *r.LeftCount
	}
	if r.RightCount != nil {
		team.RightCount = *r.RightCount
	}
	team.TotalTeam = team.LeftCount + team.RightCount
	if r.TotalTeam != nil {
		team.TotalTeam = *r.TotalTeam
	}
	team.Incomplete = len(skipped) > 0
	return team, skipped
}
