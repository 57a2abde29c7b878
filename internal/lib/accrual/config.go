package accrual

import (
	"fmt"
	"maps"
	"slices"
)

// BasisPoints is the denominator for rates and bonus multipliers.
const BasisPoints = 10000

// DefaultBonusBP is the multiplier for lock durations missing from the bonus table (1x).
const DefaultBonusBP = BasisPoints

// Config is the reward period definition. It is immutable once constructed - the bonus table is copied
// in NewConfig and only read through BonusBP.
type Config struct {
	periodSeconds int64
	baseRateBP    int64
	bonusBP       map[int]int64
}

// NewConfig validates and copies the reward parameters.
func NewConfig(periodSeconds, baseRateBP int64, bonusBP map[int]int64) (Config, error) {
	if periodSeconds <= 0 {
		return Config{}, fmt.Errorf("%w: periodSeconds %d must be positive", ErrInvalidInput, periodSeconds)
	}
	if baseRateBP < 0 {
		return Config{}, fmt.Errorf("%w: baseRateBP %d is negative", ErrInvalidInput, baseRateBP)
	}
	for months, bp := range bonusBP {
		if months < 0 {
			return Config{}, fmt.Errorf("%w: bonus lockMonths %d is negative", ErrInvalidInput, months)
		}
		if bp < 0 {
			return Config{}, fmt.Errorf("%w: bonus for %d months is negative", ErrInvalidInput, months)
		}
	}
	return Config{
		periodSeconds: periodSeconds,
		baseRateBP:    baseRateBP,
		bonusBP:       maps.Clone(bonusBP),
	}, nil
}

// DefaultConfig is one percent per day w/ the lock bonus table the contract was deployed with.
func DefaultConfig() Config {
	cfg, _ := NewConfig(86400, 100, DefaultBonusTable())
	return cfg
}

func DefaultBonusTable() map[int]int64 {
	return map[int]int64{1: 10200, 3: 10400, 6: 10600, 12: 10800, 24: 11000}
}

func (c Config) PeriodSeconds() int64 { return c.periodSeconds }

func (c Config) BaseRateBP() int64 { return c.baseRateBP }

// BonusBP returns the multiplier for lockMonths, DefaultBonusBP if the table has no entry.
func (c Config) BonusBP(lockMonths int) int64 {
	if bp, ok := c.bonusBP[lockMonths]; ok {
		return bp
	}
	return DefaultBonusBP
}

// LockMonths returns the lock durations present in the bonus table in ascending order.
func (c Config) LockMonths() []int {
	return slices.Sorted(maps.Keys(c.bonusBP))
}

// WithRate returns a copy of c using a different period and base rate (ie: values read from the contract),
// keeping the bonus table.
func (c Config) WithRate(periodSeconds, baseRateBP int64) (Config, error) {
	return NewConfig(periodSeconds, baseRateBP, c.bonusBP)
}

func (c Config) validate() error {
	if c.periodSeconds <= 0 {
		return fmt.Errorf("%w: periodSeconds %d must be positive", ErrInvalidInput, c.periodSeconds)
	}
	if c.baseRateBP < 0 {
		return fmt.Errorf("%w: baseRateBP %d is negative", ErrInvalidInput, c.baseRateBP)
	}
	return nil
}
