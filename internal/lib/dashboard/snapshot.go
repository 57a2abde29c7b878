package dashboard

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

// Field names used in FieldError and Anomaly.
const (
	FieldBalance        = "balance"
	FieldStake          = "stake"
	FieldTier           = "tier"
	FieldVolumes        = "volumes"
	FieldRewardParams   = "rewardParams"
	FieldPendingStaking = "pendingStakingUSD"
	FieldPendingDaily   = "pendingDailyUSD"
	FieldLocks          = "locks"
	FieldPrice          = "price"
	FieldReferralIncome = "referralIncome"
	FieldTeam           = "team"
	FieldFlatReward     = "flatReward"
	FieldLockedReward   = "lockedReward"
)

const AnomalyClockSkew = "clock_skew"

// Snapshot is everything the dashboard shows for one address at one instant. Amounts are 18 decimal base
// units, USD figures are 18 decimal USD. A field listed in Failed holds zero.
type Snapshot struct {
	ID      uuid.UUID      `json:"id"`
	Address common.Address `json:"address"`
	Now     int64          `json:"now"`

	// PriceUSD is the USD value of one whole token, sampled once and used for every conversion below.
	PriceUSD *big.Int `json:"priceUSD"`

	TokenBalance *big.Int `json:"tokenBalance"`
	BalanceUSD   *big.Int `json:"balanceUSD"`

	Staked         *big.Int `json:"staked"`
	StakedUSD      *big.Int `json:"stakedUSD"`
	StakeStart     int64    `json:"stakeStart"`
	StakeLastClaim int64    `json:"stakeLastClaim"`

	Tier     uint8  `json:"tier"`
	TierName string `json:"tierName"`

	LeftVolumeUSD  *big.Int `json:"leftVolumeUSD"`
	RightVolumeUSD *big.Int `json:"rightVolumeUSD"`

	RewardPeriodSeconds int64 `json:"rewardPeriodSeconds"`
	RewardRateBP        int64 `json:"rewardRateBP"`
	// RewardParamsOnChain is false when the configured rate was used because the contract's couldn't be read.
	RewardParamsOnChain bool `json:"rewardParamsOnChain"`

	Pending Pending `json:"pending"`

	ReferralIncome           *big.Int `json:"referralIncome"`
	ReferralIncomeUSD        *big.Int `json:"referralIncomeUSD"`
	ReferralPayments         int      `json:"referralPayments"`
	ReferralIncomeIncomplete bool     `json:"referralIncomeIncomplete"`

	Locks []LockSummary `json:"locks"`
	Team  TeamCounts    `json:"team"`

	Failed    []FieldError `json:"failed"`
	Anomalies []Anomaly    `json:"anomalies"`
}

// Pending holds the reward figures per scheme. The contract reports staking and daily rewards in USD; their
// token equivalents use the snapshot's price sample.
type Pending struct {
	StakingUSD   *big.Int `json:"stakingUSD"`
	StakingToken *big.Int `json:"stakingToken"`
	DailyUSD     *big.Int `json:"dailyUSD"`
	DailyToken   *big.Int `json:"dailyToken"`

	// Flat is the locally computed flexible stake reward and FlatPeriods the whole periods behind it.
	Flat        *big.Int `json:"flat"`
	FlatPeriods int64    `json:"flatPeriods"`
	FlatUSD     *big.Int `json:"flatUSD"`

	Locked    *big.Int `json:"locked"`
	LockedUSD *big.Int `json:"lockedUSD"`

	TotalToken *big.Int `json:"totalToken"`
	TotalUSD   *big.Int `json:"totalUSD"`
}

type LockSummary struct {
	Index      int      `json:"index"`
	Amount     *big.Int `json:"amount"`
	LockMonths int      `json:"lockMonths"`
	BonusBP    int64    `json:"bonusBP"`
	Start      int64    `json:"start"`
	End        int64    `json:"end"`
	LastClaim  int64    `json:"lastClaim"`
	AutoRenews int64    `json:"autoRenewCount"`
	Pending    *big.Int `json:"pending"`
	Periods    int64    `json:"periods"`
	Matured    bool     `json:"matured"`
	ClockSkew  bool     `json:"clockSkew"`
}

type TeamCounts struct {
	Backing     string `json:"backing"`
	Left        int    `json:"left"`
	Right       int    `json:"right"`
	Total       int    `json:"total"`
	Incomplete  bool   `json:"incomplete"`
	Unavailable bool   `json:"unavailable"`
	Violations  int    `json:"violations"`
}

// FieldError records one read or derivation that failed.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"error"`
	Err     error  `json:"-"`
}

func (f *FieldError) Error() string {
	return f.Field + ": " + f.Message
}

func (f *FieldError) Unwrap() error {
	return f.Err
}

type Anomaly struct {
	Field  string `json:"field"`
	Kind   string `json:"kind"`
	Detail string `json:"detail"`
}

// FailedField reports whether name is among the snapshot's failed fields.
func (s *Snapshot) FailedField(name string) bool {
	for _, f := range s.Failed {
		if f.Field == name {
			return true
		}
	}
	return false
}

func newSnapshot(id uuid.UUID, addr common.Address, now int64) *Snapshot {
	zero := func() *big.Int { return new(big.Int) }
	return &Snapshot{
		ID:             id,
		Address:        addr,
		Now:            now,
		PriceUSD:       zero(),
		TokenBalance:   zero(),
		BalanceUSD:     zero(),
		Staked:         zero(),
		StakedUSD:      zero(),
		LeftVolumeUSD:  zero(),
		RightVolumeUSD: zero(),
		Pending: Pending{
			StakingUSD:   zero(),
			StakingToken: zero(),
			DailyUSD:     zero(),
			DailyToken:   zero(),
			Flat:         zero(),
			FlatUSD:      zero(),
			Locked:       zero(),
			LockedUSD:    zero(),
			TotalToken:   zero(),
			TotalUSD:     zero(),
		},
		ReferralIncome:    zero(),
		ReferralIncomeUSD: zero(),
		Locks:             []LockSummary{},
		Failed:            []FieldError{},
		Anomalies:         []Anomaly{},
	}
}
