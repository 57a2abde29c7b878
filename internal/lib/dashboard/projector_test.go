package dashboard

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/byta-labs/stakedash/internal/lib/accrual"
	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/referral"
	"github.com/byta-labs/stakedash/internal/lib/scan"
)

const (
	now   = int64(1_700_000_000)
	day   = int64(86400)
	user  = "0x00000000000000000000000000000000000000aa"
	other = "0x00000000000000000000000000000000000000bb"
)

var errNode = errors.New("node unavailable")

func units(t *testing.T, s string) *big.Int {
	t.Helper()
	n, err := evm.ParseUnits(s, evm.TokenDecimals)
	require.NoError(t, err)
	return n
}

type fakeChain struct {
	balance, pendingStaking, pendingDaily, price *big.Int
	stake                                        byta.StakeInfo
	tier                                         uint8
	volumes                                      byta.Volumes
	params                                       byta.RewardParams
	locks                                        []byta.Lock
	income                                       *byta.Income
	errs                                         map[string]error
}

func (f *fakeChain) TokenBalance(context.Context, common.Address) (*big.Int, error) {
	return f.balance, f.errs[FieldBalance]
}

func (f *fakeChain) Stake(context.Context, common.Address) (byta.StakeInfo, error) {
	return f.stake, f.errs[FieldStake]
}

func (f *fakeChain) Tier(context.Context, common.Address) (uint8, error) {
	return f.tier, f.errs[FieldTier]
}

func (f *fakeChain) Volumes(context.Context, common.Address) (byta.Volumes, error) {
	return f.volumes, f.errs[FieldVolumes]
}

func (f *fakeChain) RewardParams(context.Context) (byta.RewardParams, error) {
	return f.params, f.errs[FieldRewardParams]
}

func (f *fakeChain) PendingStakingRewardUSD(context.Context, common.Address) (*big.Int, error) {
	return f.pendingStaking, f.errs[FieldPendingStaking]
}

func (f *fakeChain) PendingDailyUSD(context.Context, common.Address) (*big.Int, error) {
	return f.pendingDaily, f.errs[FieldPendingDaily]
}

func (f *fakeChain) UserLocks(context.Context, common.Address) ([]byta.Lock, error) {
	return f.locks, f.errs[FieldLocks]
}

func (f *fakeChain) TokenPriceUSD(context.Context) (*big.Int, error) {
	if err := f.errs[FieldPrice]; err != nil {
		return nil, err
	}
	return f.price, nil
}

func (f *fakeChain) ReferralIncome(context.Context, byta.LogScanner, common.Address, uint64) (*byta.Income, error) {
	return f.income, f.errs[FieldReferralIncome]
}

type fakeTeams struct {
	team *referral.Team
	err  error
}

func (f fakeTeams) TeamOf(context.Context, common.Address) (*referral.Team, error) {
	return f.team, f.err
}

type nopScanner struct{}

func (nopScanner) ScanRecent(context.Context, ethereum.FilterQuery, uint64) (*scan.Result, error) {
	return &scan.Result{}, nil
}

func healthyChain(t *testing.T) *fakeChain {
	return &fakeChain{
		balance:        units(t, "100"),
		price:          units(t, "2"),
		stake:          byta.StakeInfo{Amount: units(t, "1000"), LastClaim: now - 3*day, StartTime: now - 10*day},
		tier:           3,
		volumes:        byta.Volumes{LeftUSD: units(t, "500"), RightUSD: units(t, "250")},
		params:         byta.RewardParams{PerPeriodBP: 100, PeriodSeconds: day},
		pendingStaking: units(t, "20"),
		pendingDaily:   units(t, "4"),
		locks: []byta.Lock{
			{Index: 0, Amount: units(t, "1000"), Start: now - 30*day, End: now + 335*day, LastClaim: now - 3*day, LockMonths: 12},
			{Index: 2, Amount: units(t, "10"), Start: now - 60*day, End: now - day, LastClaim: now - day/2, LockMonths: 1},
		},
		income: &byta.Income{Total: units(t, "5"), Payments: 2},
		errs:   map[string]error{},
	}
}

func newProjector(t *testing.T, chain *fakeChain, teams TeamReader, rewards accrual.Config) *Projector {
	t.Helper()
	id := uuid.MustParse("5f0e3e5c-7f43-4d5e-9b44-3f9a3e0b8a01")
	p, err := New(slog.Default(), Config{
		Chain:   chain,
		Teams:   teams,
		Scanner: nopScanner{},
		Rewards: rewards,
		NewID:   func() uuid.UUID { return id },
	})
	require.NoError(t, err)
	return p
}

func TestProjectHealthy(t *testing.T) {
	teams := fakeTeams{team: &referral.Team{Backing: referral.BackingLogs, LeftCount: 2, RightCount: 1, TotalTeam: 3}}
	p := newProjector(t, healthyChain(t), teams, accrual.DefaultConfig())

	snap, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)
	assert.Empty(t, snap.Failed)
	assert.Empty(t, snap.Anomalies)
	assert.Equal(t, "5f0e3e5c-7f43-4d5e-9b44-3f9a3e0b8a01", snap.ID.String())

	assert.Equal(t, units(t, "200"), snap.BalanceUSD)
	assert.Equal(t, units(t, "2000"), snap.StakedUSD)
	assert.Equal(t, "BYTA-3", snap.TierName)
	assert.True(t, snap.RewardParamsOnChain)

	assert.Equal(t, units(t, "30"), snap.Pending.Flat)
	assert.Equal(t, int64(3), snap.Pending.FlatPeriods)
	assert.Equal(t, units(t, "10"), snap.Pending.StakingToken)
	assert.Equal(t, units(t, "2"), snap.Pending.DailyToken)
	assert.Equal(t, units(t, "32.4"), snap.Pending.Locked)
	// contract staking figure (10) + daily (2) + locked (32.4)
	assert.Equal(t, units(t, "44.4"), snap.Pending.TotalToken)
	assert.Equal(t, units(t, "88.8"), snap.Pending.TotalUSD)

	require.Len(t, snap.Locks, 2)
	assert.Equal(t, int64(10800), snap.Locks[0].BonusBP)
	assert.False(t, snap.Locks[0].Matured)
	assert.True(t, snap.Locks[1].Matured)
	assert.Zero(t, snap.Locks[1].Pending.Sign())

	assert.Equal(t, units(t, "10"), snap.ReferralIncomeUSD)
	assert.Equal(t, 2, snap.ReferralPayments)
	assert.Equal(t, TeamCounts{Backing: referral.BackingLogs, Left: 2, Right: 1, Total: 3}, snap.Team)
}

func TestProjectPartialFailure(t *testing.T) {
	chain := healthyChain(t)
	chain.errs[FieldPrice] = errNode
	chain.errs[FieldTier] = errNode
	chain.errs[FieldPendingStaking] = byta.ErrUnsupportedContractShape
	p := newProjector(t, chain, fakeTeams{err: errNode}, accrual.DefaultConfig())

	snap, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)

	var fields []string
	for _, fe := range snap.Failed {
		fields = append(fields, fe.Field)
	}
	assert.Equal(t, []string{FieldPendingStaking, FieldPrice, FieldTeam, FieldTier}, fields)
	assert.ErrorIs(t, &snap.Failed[0], byta.ErrUnsupportedContractShape)

	assert.Equal(t, units(t, "100"), snap.TokenBalance)
	assert.Zero(t, snap.BalanceUSD.Sign())
	assert.Equal(t, "No Tier", snap.TierName)
	assert.True(t, snap.Team.Unavailable)
	// without a price the computed flat reward stands in for the contract's USD figure
	assert.Equal(t, units(t, "62.4"), snap.Pending.TotalToken)
	assert.Zero(t, snap.Pending.TotalUSD.Sign())
}

func TestProjectFallsBackToConfiguredRate(t *testing.T) {
	chain := healthyChain(t)
	chain.errs[FieldRewardParams] = errNode
	rewards, err := accrual.NewConfig(day, 200, accrual.DefaultBonusTable())
	require.NoError(t, err)
	p := newProjector(t, chain, nil, rewards)

	snap, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)
	assert.False(t, snap.RewardParamsOnChain)
	assert.Equal(t, int64(200), snap.RewardRateBP)
	assert.Equal(t, units(t, "60"), snap.Pending.Flat)
	assert.True(t, snap.FailedField(FieldRewardParams))
	assert.True(t, snap.Team.Unavailable)
}

func TestProjectBadOnChainParams(t *testing.T) {
	chain := healthyChain(t)
	chain.params = byta.RewardParams{PerPeriodBP: 100, PeriodSeconds: 0}
	p := newProjector(t, chain, nil, accrual.DefaultConfig())

	snap, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)
	assert.True(t, snap.FailedField(FieldRewardParams))
	assert.Equal(t, day, snap.RewardPeriodSeconds)
	assert.Equal(t, units(t, "30"), snap.Pending.Flat)
}

func TestProjectClockSkew(t *testing.T) {
	chain := healthyChain(t)
	chain.stake.LastClaim = now + 60
	chain.locks[0].LastClaim = now + 60
	p := newProjector(t, chain, nil, accrual.DefaultConfig())

	snap, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)
	assert.Zero(t, snap.Pending.Flat.Sign())
	assert.True(t, snap.Locks[0].ClockSkew)
	require.Len(t, snap.Anomalies, 2)
	assert.Equal(t, FieldFlatReward, snap.Anomalies[0].Field)
	assert.Equal(t, AnomalyClockSkew, snap.Anomalies[1].Kind)
}

func TestProjectWithoutScanner(t *testing.T) {
	p, err := New(slog.Default(), Config{Chain: healthyChain(t)})
	require.NoError(t, err)
	snap, err := p.Project(context.Background(), common.HexToAddress(other), now)
	require.NoError(t, err)
	require.Len(t, snap.Failed, 1)
	assert.Equal(t, FieldReferralIncome, snap.Failed[0].Field)
	assert.ErrorIs(t, &snap.Failed[0], byta.ErrNoScanner)
	assert.NotEqual(t, uuid.Nil, snap.ID)
}

func TestProjectIdempotent(t *testing.T) {
	p := newProjector(t, healthyChain(t), nil, accrual.DefaultConfig())
	first, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)
	second, err := p.Project(context.Background(), common.HexToAddress(user), now)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestProjectRejectsZeroAddress(t *testing.T) {
	p := newProjector(t, healthyChain(t), nil, accrual.DefaultConfig())
	_, err := p.Project(context.Background(), common.Address{}, now)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestNewRequiresChain(t *testing.T) {
	_, err := New(slog.Default(), Config{})
	assert.Error(t, err)
}
