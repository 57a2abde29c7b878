// Package accrual derives owed rewards from on-chain stake snapshots. Every function is pure and takes the
// evaluation time explicitly.
package accrual

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var bpDenominator = big.NewInt(BasisPoints)

// Position is a stake snapshot as read from the contract. Amount is in token base units, times are unix
// seconds. An Amount of zero is a closed (or never opened) position.
type Position struct {
	Owner          common.Address
	Amount         *big.Int
	LastClaim      int64
	LockMonths     int
	End            int64
	AutoRenewCount int64
}

func (p Position) Open() bool {
	return p.Amount != nil && p.Amount.Sign() > 0
}

// Result is the reward owed at a point in time. ClockSkew is set when the supplied now precedes the
// position's last claim, in which case Amount is zero.
type Result struct {
	Amount    *big.Int
	Periods   int64
	ClockSkew bool
}

func zeroResult() Result {
	return Result{Amount: new(big.Int)}
}

// FlatPeriodReward is amount x baseRate x completed periods since lastClaim.
func FlatPeriodReward(pos Position, cfg Config, now int64) (Result, error) {
	periods, skew, err := completedPeriods(pos, cfg, now)
	if err != nil || periods == 0 {
		res := zeroResult()
		res.ClockSkew = skew
		return res, err
	}
	reward := new(big.Int).Mul(pos.Amount, big.NewInt(cfg.baseRateBP))
	reward.Mul(reward, big.NewInt(periods))
	reward.Quo(reward, bpDenominator)
	return Result{Amount: reward, Periods: periods}, nil
}

// LockedBonusReward is the flat reward scaled by the lock duration's bonus multiplier. All multiplications
// happen before either division so nothing is truncated early.
func LockedBonusReward(pos Position, cfg Config, now int64) (Result, error) {
	if pos.LockMonths < 0 {
		return zeroResult(), fmt.Errorf("%w: lockMonths %d is negative", ErrInvalidInput, pos.LockMonths)
	}
	periods, skew, err := completedPeriods(pos, cfg, now)
	if err != nil || periods == 0 {
		res := zeroResult()
		res.ClockSkew = skew
		return res, err
	}
	reward := new(big.Int).Mul(pos.Amount, big.NewInt(cfg.baseRateBP))
	reward.Mul(reward, big.NewInt(periods))
	reward.Mul(reward, big.NewInt(cfg.BonusBP(pos.LockMonths)))
	reward.Quo(reward, bpDenominator)
	reward.Quo(reward, bpDenominator)
	return Result{Amount: reward, Periods: periods}, nil
}

// LockedSummary is the sum of LockedBonusReward over a set of positions. Results is index aligned w/ the
// input; closed positions get a zero result.
type LockedSummary struct {
	Total     *big.Int
	Results   []Result
	ClockSkew bool
}

func PendingLocked(positions []Position, cfg Config, now int64) (LockedSummary, error) {
	summary := LockedSummary{Total: new(big.Int), Results: make([]Result, len(positions))}
	for i, pos := range positions {
		if !pos.Open() {
			summary.Results[i] = zeroResult()
			continue
		}
		res, err := LockedBonusReward(pos, cfg, now)
		if err != nil {
			return LockedSummary{}, fmt.Errorf("position %d: %w", i, err)
		}
		summary.Results[i] = res
		summary.Total.Add(summary.Total, res.Amount)
		summary.ClockSkew = summary.ClockSkew || res.ClockSkew
	}
	return summary, nil
}

// completedPeriods validates inputs and returns the number of whole periods since the last claim.
func completedPeriods(pos Position, cfg Config, now int64) (int64, bool, error) {
	if err := cfg.validate(); err != nil {
		return 0, false, err
	}
	if pos.Amount != nil && pos.Amount.Sign() < 0 {
		return 0, false, fmt.Errorf("%w: amount %s is negative", ErrInvalidInput, pos.Amount)
	}
	if pos.LastClaim < 0 {
		return 0, false, fmt.Errorf("%w: lastClaim %d is negative", ErrInvalidInput, pos.LastClaim)
	}
	if !pos.Open() || pos.LastClaim == 0 {
		return 0, false, nil
	}
	if now < pos.LastClaim {
		return 0, true, nil
	}
	return (now - pos.LastClaim) / cfg.periodSeconds, false, nil
}
