// Package dashboard assembles a per address view of balances, rewards, referral income and team counts.
package dashboard

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/mailgun/holster/v4/syncutil"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/byta-labs/stakedash/internal/lib/accrual"
	"github.com/byta-labs/stakedash/internal/lib/byta"
	"github.com/byta-labs/stakedash/internal/lib/evm"
	"github.com/byta-labs/stakedash/internal/lib/misc"
	"github.com/byta-labs/stakedash/internal/lib/referral"
)

var tracer = otel.Tracer("github.com/byta-labs/stakedash/internal/lib/dashboard")

// ChainReader is the set of contract reads a snapshot needs. *byta.Client satisfies it.
type ChainReader interface {
	TokenBalance(ctx context.Context, user common.Address) (*big.Int, error)
	Stake(ctx context.Context, user common.Address) (byta.StakeInfo, error)
	Tier(ctx context.Context, user common.Address) (uint8, error)
	Volumes(ctx context.Context, user common.Address) (byta.Volumes, error)
	RewardParams(ctx context.Context) (byta.RewardParams, error)
	PendingStakingRewardUSD(ctx context.Context, user common.Address) (*big.Int, error)
	PendingDailyUSD(ctx context.Context, user common.Address) (*big.Int, error)
	UserLocks(ctx context.Context, user common.Address) ([]byta.Lock, error)
	TokenPriceUSD(ctx context.Context) (*big.Int, error)
	ReferralIncome(ctx context.Context, scanner byta.LogScanner, user common.Address, lookback uint64) (*byta.Income, error)
}

// TeamReader is satisfied by *referral.Aggregator.
type TeamReader interface {
	TeamOf(ctx context.Context, root common.Address) (*referral.Team, error)
}

type Config struct {
	Chain ChainReader
	// Teams is optional; without it the team is reported unavailable.
	Teams   TeamReader
	Scanner byta.LogScanner
	// Lookback is the number of blocks searched for referral payments.
	Lookback uint64
	// Rewards is used for period and rate when the contract's values can't be read, and always for the lock
	// bonus table.
	Rewards accrual.Config
	NewID   func() uuid.UUID
}

type Projector struct {
	log *slog.Logger
	cfg Config
}

func New(log *slog.Logger, cfg Config) (*Projector, error) {
	if cfg.Chain == nil {
		return nil, errors.New("dashboard projector requires a chain reader")
	}
	if cfg.Lookback == 0 {
		cfg.Lookback = evm.DefaultLookback
	}
	if cfg.Rewards.PeriodSeconds() == 0 {
		cfg.Rewards = accrual.DefaultConfig()
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.New
	}
	return &Projector{log: log, cfg: cfg}, nil
}

// reads holds the raw results of the concurrent reads, each written by exactly one goroutine.
type reads struct {
	balance        *big.Int
	stake          byta.StakeInfo
	tier           uint8
	volumes        byta.Volumes
	params         byta.RewardParams
	pendingStaking *big.Int
	pendingDaily   *big.Int
	locks          []byta.Lock
	price          *big.Int
	income         *byta.Income
	team           *referral.Team
}

// Project builds the snapshot of addr as of now (unix seconds). Individual read failures are listed in
// Snapshot.Failed; the only error returned is for an unusable address.
func (p *Projector) Project(ctx context.Context, addr common.Address, now int64) (*Snapshot, error) {
	if addr == (common.Address{}) {
		return nil, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	started := time.Now()
	defer func() { promProjectDuration.Observe(time.Since(started).Seconds()) }()
	promProjections.Inc()

	ctx, span := tracer.Start(ctx, "dashboard.Project", trace.WithAttributes(
		attribute.String("dashboard.address", evm.CanonicalHex(addr)),
		attribute.Int64("dashboard.now", now),
	))
	defer span.End()

	snap := newSnapshot(p.cfg.NewID(), addr, now)
	r, failed := p.read(ctx, addr)
	for _, fe := range failed {
		snap.Failed = append(snap.Failed, fe)
	}
	ok := func(field string) bool {
		_, bad := failed[field]
		return !bad
	}
	fail := func(field string, err error) {
		snap.Failed = append(snap.Failed, FieldError{Field: field, Message: err.Error(), Err: err})
	}

	var price *big.Int
	if ok(FieldPrice) {
		if r.price == nil || r.price.Sign() <= 0 {
			fail(FieldPrice, ErrNoPrice)
		} else {
			price = r.price
			snap.PriceUSD = price
		}
	}
	toUSD := func(amount *big.Int) *big.Int {
		if price == nil || amount == nil {
			return new(big.Int)
		}
		usd := new(big.Int).Mul(amount, price)
		return usd.Quo(usd, evm.OneToken)
	}
	toToken := func(usd *big.Int) *big.Int {
		if price == nil || usd == nil {
			return new(big.Int)
		}
		tokens := new(big.Int).Mul(usd, evm.OneToken)
		return tokens.Quo(tokens, price)
	}

	if ok(FieldBalance) && r.balance != nil {
		snap.TokenBalance = r.balance
		snap.BalanceUSD = toUSD(r.balance)
	}
	if ok(FieldTier) {
		snap.Tier = r.tier
	}
	snap.TierName = byta.TierName(snap.Tier)
	if ok(FieldVolumes) {
		snap.LeftVolumeUSD = orZero(r.volumes.LeftUSD)
		snap.RightVolumeUSD = orZero(r.volumes.RightUSD)
	}

	rewards := p.cfg.Rewards
	if ok(FieldRewardParams) {
		if onChain, err := r.params.Config(p.cfg.Rewards); err != nil {
			fail(FieldRewardParams, err)
		} else {
			rewards = onChain
			snap.RewardParamsOnChain = true
		}
	}
	snap.RewardPeriodSeconds = rewards.PeriodSeconds()
	snap.RewardRateBP = rewards.BaseRateBP()

	pending := &snap.Pending
	if ok(FieldStake) {
		snap.Staked = orZero(r.stake.Amount)
		snap.StakedUSD = toUSD(snap.Staked)
		snap.StakeStart = r.stake.StartTime
		snap.StakeLastClaim = r.stake.LastClaim
		flat, err := accrual.FlatPeriodReward(r.stake.Position(addr), rewards, now)
		if err != nil {
			fail(FieldFlatReward, err)
		} else {
			pending.Flat = flat.Amount
			pending.FlatPeriods = flat.Periods
			pending.FlatUSD = toUSD(flat.Amount)
			if flat.ClockSkew {
				p.clockSkew(snap, FieldFlatReward, fmt.Sprintf("lastClaim %d is after now %d", r.stake.LastClaim, now))
			}
		}
	}
	if ok(FieldPendingStaking) {
		pending.StakingUSD = orZero(r.pendingStaking)
		pending.StakingToken = toToken(pending.StakingUSD)
	}
	if ok(FieldPendingDaily) {
		pending.DailyUSD = orZero(r.pendingDaily)
		pending.DailyToken = toToken(pending.DailyUSD)
	}
	if ok(FieldLocks) {
		p.applyLocks(snap, r.locks, rewards, now, toUSD, fail)
	}

	// The contract's own staking figure wins over the local computation when both are usable.
	stakingPart := pending.Flat
	if ok(FieldPendingStaking) && price != nil {
		stakingPart = pending.StakingToken
	}
	pending.TotalToken = new(big.Int).Add(stakingPart, pending.DailyToken)
	pending.TotalToken.Add(pending.TotalToken, pending.Locked)
	pending.TotalUSD = toUSD(pending.TotalToken)

	if ok(FieldReferralIncome) && r.income != nil {
		snap.ReferralIncome = orZero(r.income.Total)
		snap.ReferralIncomeUSD = toUSD(snap.ReferralIncome)
		snap.ReferralPayments = r.income.Payments
		snap.ReferralIncomeIncomplete = r.income.Incomplete
	}

	switch {
	case !ok(FieldTeam):
		snap.Team.Unavailable = true
	case r.team == nil:
		snap.Team.Unavailable = true
	default:
		snap.Team = TeamCounts{
			Backing:     r.team.Backing,
			Left:        r.team.LeftCount,
			Right:       r.team.RightCount,
			Total:       r.team.TotalTeam,
			Incomplete:  r.team.Incomplete,
			Unavailable: r.team.Unavailable,
			Violations:  len(r.team.Violations),
		}
	}

	slices.SortFunc(snap.Failed, func(a, b FieldError) int { return cmp.Compare(a.Field, b.Field) })
	for _, fe := range snap.Failed {
		promFieldErrors.WithLabelValues(fe.Field).Inc()
		misc.Debugf(p.log, "dashboard %s: field %s failed: %s", evm.CanonicalHex(addr), fe.Field, fe.Message)
	}
	span.SetAttributes(attribute.Int("dashboard.failed_fields", len(snap.Failed)))
	return snap, nil
}

// read issues every independent chain/team read at once. The map holds the failures keyed by field.
func (p *Projector) read(ctx context.Context, addr common.Address) (*reads, map[string]FieldError) {
	var (
		wg       syncutil.WaitGroup
		r        reads
		mu       sync.Mutex
		failures = map[string]FieldError{}
	)
	run := func(field string, fn func() error) {
		wg.Run(func(val any) error {
			if err := fn(); err != nil {
				mu.Lock()
				failures[field] = FieldError{Field: field, Message: err.Error(), Err: err}
				mu.Unlock()
			}
			return nil
		}, field)
	}
	chain := p.cfg.Chain

	run(FieldBalance, func() (err error) {
		r.balance, err = chain.TokenBalance(ctx, addr)
		return err
	})
	run(FieldStake, func() (err error) {
		r.stake, err = chain.Stake(ctx, addr)
		return err
	})
	run(FieldTier, func() (err error) {
		r.tier, err = chain.Tier(ctx, addr)
		return err
	})
	run(FieldVolumes, func() (err error) {
		r.volumes, err = chain.Volumes(ctx, addr)
		return err
	})
	run(FieldRewardParams, func() (err error) {
		r.params, err = chain.RewardParams(ctx)
		return err
	})
	run(FieldPendingStaking, func() (err error) {
		r.pendingStaking, err = chain.PendingStakingRewardUSD(ctx, addr)
		return err
	})
	run(FieldPendingDaily, func() (err error) {
		r.pendingDaily, err = chain.PendingDailyUSD(ctx, addr)
		return err
	})
	run(FieldLocks, func() (err error) {
		r.locks, err = chain.UserLocks(ctx, addr)
		return err
	})
	run(FieldPrice, func() (err error) {
		r.price, err = chain.TokenPriceUSD(ctx)
		return err
	})
	run(FieldReferralIncome, func() (err error) {
		if p.cfg.Scanner == nil {
			return byta.ErrNoScanner
		}
		r.income, err = chain.ReferralIncome(ctx, p.cfg.Scanner, addr, p.cfg.Lookback)
		return err
	})
	if p.cfg.Teams != nil {
		run(FieldTeam, func() (err error) {
			r.team, err = p.cfg.Teams.TeamOf(ctx, addr)
			return err
		})
	}
	wg.Wait()
	return &r, failures
}

func (p *Projector) applyLocks(snap *Snapshot, locks []byta.Lock, rewards accrual.Config, now int64,
	toUSD func(*big.Int) *big.Int, fail func(string, error)) {
	positions := make([]accrual.Position, len(locks))
	for i, lock := range locks {
		positions[i] = lock.Position(snap.Address)
	}
	summary, err := accrual.PendingLocked(positions, rewards, now)
	if err != nil {
		fail(FieldLockedReward, err)
		return
	}
	for i, lock := range locks {
		res := summary.Results[i]
		snap.Locks = append(snap.Locks, LockSummary{
			Index:      lock.Index,
			Amount:     orZero(lock.Amount),
			LockMonths: lock.LockMonths,
			BonusBP:    rewards.BonusBP(lock.LockMonths),
			Start:      lock.Start,
			End:        lock.End,
			LastClaim:  lock.LastClaim,
			AutoRenews: lock.AutoRenewCount,
			Pending:    res.Amount,
			Periods:    res.Periods,
			Matured:    lock.End > 0 && lock.End <= now,
			ClockSkew:  res.ClockSkew,
		})
		if res.ClockSkew {
			p.clockSkew(snap, FieldLockedReward, fmt.Sprintf("lock %d lastClaim %d is after now %d", lock.Index, lock.LastClaim, now))
		}
	}
	snap.Pending.Locked = summary.Total
	snap.Pending.LockedUSD = toUSD(summary.Total)
}

func (p *Projector) clockSkew(snap *Snapshot, field, detail string) {
	snap.Anomalies = append(snap.Anomalies, Anomaly{Field: field, Kind: AnomalyClockSkew, Detail: detail})
	promClockSkew.WithLabelValues(field).Inc()
	misc.Warnf(p.log, "clock skew computing %s for %s: %s", field, evm.CanonicalHex(snap.Address), detail)
}

func orZero(n *big.Int) *big.Int {
	if n == nil {
		return new(big.Int)
	}
	return n
}
