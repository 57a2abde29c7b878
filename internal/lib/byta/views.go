package byta

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/byta-labs/stakedash/internal/lib/accrual"
	"github.com/byta-labs/stakedash/internal/lib/evm"
)

// StakeInfo is the flexible (unlocked) stake of a user.
type StakeInfo struct {
	Amount    *big.Int
	LastClaim int64
	StartTime int64
}

func (s StakeInfo) Position(owner common.Address) accrual.Position {
	return accrual.Position{Owner: owner, Amount: s.Amount, LastClaim: s.LastClaim}
}

// Lock is one long term locked stake. Index is its position in the contract's lock array.
type Lock struct {
	Index          int
	Amount         *big.Int
	Start          int64
	End            int64
	LastClaim      int64
	LockMonths     int
	AutoRenewCount int64
}

func (l Lock) Position(owner common.Address) accrual.Position {
	return accrual.Position{
		Owner:          owner,
		Amount:         l.Amount,
		LastClaim:      l.LastClaim,
		LockMonths:     l.LockMonths,
		End:            l.End,
		AutoRenewCount: l.AutoRenewCount,
	}
}

// lockTuple mirrors the abi tuple so unpacked values convert directly.
type lockTuple struct {
	Amount         *big.Int
	Start          *big.Int
	End            *big.Int
	LastClaim      *big.Int
	LockMonths     *big.Int
	AutoRenewCount *big.Int
}

type RewardParams struct {
	PerPeriodBP   int64
	PeriodSeconds int64
}

type Volumes struct {
	LeftUSD  *big.Int
	RightUSD *big.Int
}

// UserInfo is the referral placement of a user - zero Referrer if never referred.
type UserInfo struct {
	Referrer common.Address
	IsLeft   bool
}

func (c *Client) TokenBalance(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.callUint(ctx, c.TokenAddress, &c.tokenABI, MethodBalanceOf, user)
}

func (c *Client) Stake(ctx context.Context, user common.Address) (StakeInfo, error) {
	values, err := c.callStaking(ctx, MethodStakes, user)
	if err != nil {
		return StakeInfo{}, err
	}
	if len(values) < 2 {
		return StakeInfo{}, fmt.Errorf("%w: %s returned %d values", ErrUnsupportedContractShape, MethodStakes, len(values))
	}
	info := StakeInfo{Amount: asBig(values[0])}
	if info.LastClaim, err = toInt64(MethodStakes+".lastClaim", asBig(values[1])); err != nil {
		return StakeInfo{}, err
	}
	if len(values) > 2 {
		if info.StartTime, err = toInt64(MethodStakes+".startTime", asBig(values[2])); err != nil {
			return StakeInfo{}, err
		}
	}
	return info, nil
}

func (c *Client) Tier(ctx context.Context, user common.Address) (uint8, error) {
	values, err := c.callStaking(ctx, MethodTier, user)
	if err != nil {
		return 0, err
	}
	return *abi.ConvertType(values[0], new(uint8)).(*uint8), nil
}

// Volumes returns the left and right leg business volume (USD, 18 decimals) as tracked by the contract.
func (c *Client) Volumes(ctx context.Context, user common.Address) (Volumes, error) {
	left, err := c.callUint(ctx, c.StakingAddress, &c.stakingABI, MethodLeftVolumeUSD, user)
	if err != nil {
		return Volumes{}, err
	}
	right, err := c.callUint(ctx, c.StakingAddress, &c.stakingABI, MethodRightVolumeUSD, user)
	if err != nil {
		return Volumes{}, err
	}
	return Volumes{LeftUSD: left, RightUSD: right}, nil
}

func (c *Client) RewardParams(ctx context.Context) (RewardParams, error) {
	rate, err := c.callUint(ctx, c.StakingAddress, &c.stakingABI, MethodRewardPerPeriodBP)
	if err != nil {
		return RewardParams{}, err
	}
	period, err := c.callUint(ctx, c.StakingAddress, &c.stakingABI, MethodRewardPeriod)
	if err != nil {
		return RewardParams{}, err
	}
	var params RewardParams
	if params.PerPeriodBP, err = toInt64(MethodRewardPerPeriodBP, rate); err != nil {
		return RewardParams{}, err
	}
	if params.PeriodSeconds, err = toInt64(MethodRewardPeriod, period); err != nil {
		return RewardParams{}, err
	}
	return params, nil
}

// Config returns base w/ its period and rate replaced by the contract's values.
func (p RewardParams) Config(base accrual.Config) (accrual.Config, error) {
	return base.WithRate(p.PeriodSeconds, p.PerPeriodBP)
}

func (c *Client) PendingStakingRewardUSD(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.callUint(ctx, c.StakingAddress, &c.stakingABI, MethodPendingStakingRewardUSD, user)
}

func (c *Client) PendingDailyUSD(ctx context.Context, user common.Address) (*big.Int, error) {
	return c.callUint(ctx, c.StakingAddress, &c.stakingABI, MethodPendingDailyUSD, user)
}

// UserLocks returns the user's locks that still hold an amount.
func (c *Client) UserLocks(ctx context.Context, user common.Address) ([]Lock, error) {
	values, err := c.callStaking(ctx, MethodUserLocks, user)
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(values[0], new([]lockTuple)).(*[]lockTuple)
	locks := make([]Lock, 0, len(tuples))
	for i, tuple := range tuples {
		if tuple.Amount == nil || tuple.Amount.Sign() == 0 {
			continue
		}
		lock := Lock{Index: i, Amount: tuple.Amount}
		for _, field := range []struct {
			name string
			src  *big.Int
			dst  *int64
		}{
			{"start", tuple.Start, &lock.Start},
			{"end", tuple.End, &lock.End},
			{"lastClaim", tuple.LastClaim, &lock.LastClaim},
			{"autoRenewCount", tuple.AutoRenewCount, &lock.AutoRenewCount},
		} {
			if *field.dst, err = toInt64(MethodUserLocks+"."+field.name, field.src); err != nil {
				return nil, err
			}
		}
		months, err := toInt64(MethodUserLocks+".lockMonths", tuple.LockMonths)
		if err != nil {
			return nil, err
		}
		lock.LockMonths = int(months)
		locks = append(locks, lock)
	}
	return locks, nil
}

func (c *Client) DirectReferrals(ctx context.Context, user common.Address) ([]common.Address, error) {
	values, err := c.callStaking(ctx, MethodDirectReferrals, user)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(values[0], new([]common.Address)).(*[]common.Address), nil
}

func (c *Client) UserInfo(ctx context.Context, user common.Address) (UserInfo, error) {
	values, err := c.callStaking(ctx, MethodUsers, user)
	if err != nil {
		return UserInfo{}, err
	}
	if len(values) < 2 {
		return UserInfo{}, fmt.Errorf("%w: %s returned %d values", ErrUnsupportedContractShape, MethodUsers, len(values))
	}
	return UserInfo{
		Referrer: *abi.ConvertType(values[0], new(common.Address)).(*common.Address),
		IsLeft:   *abi.ConvertType(values[1], new(bool)).(*bool),
	}, nil
}

func (c *Client) Referrer(ctx context.Context, user common.Address) (common.Address, error) {
	values, err := c.callStaking(ctx, MethodReferrer, user)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(values[0], new(common.Address)).(*common.Address), nil
}

// ToUSD converts a token amount to USD (18 decimals) at the token contract's current price.
func (c *Client) ToUSD(ctx context.Context, tokenAmount *big.Int) (*big.Int, error) {
	return c.callUint(ctx, c.TokenAddress, &c.tokenABI, MethodToUSD, tokenAmount)
}

// ToToken converts a USD amount (18 decimals) to tokens at the token contract's current price.
func (c *Client) ToToken(ctx context.Context, usdAmount *big.Int) (*big.Int, error) {
	return c.callUint(ctx, c.TokenAddress, &c.tokenABI, MethodToToken, usdAmount)
}

// TokenPriceUSD is the USD value of exactly one token.
func (c *Client) TokenPriceUSD(ctx context.Context) (*big.Int, error) {
	return c.ToUSD(ctx, evm.OneToken)
}

func asBig(val any) *big.Int {
	return *abi.ConvertType(val, new(*big.Int)).(**big.Int)
}

func toInt64(field string, n *big.Int) (int64, error) {
	if n == nil {
		return 0, nil
	}
	if !n.IsInt64() {
		return 0, fmt.Errorf("%s value %s overflows int64", field, n)
	}
	return n.Int64(), nil
}
