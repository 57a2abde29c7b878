package accrual

import (
	"fmt"
	"maps"
	"math"
	"slices"
)

// NormalMonthlyRatePercent is the calculator's rate for unlocked stakes.
const NormalMonthlyRatePercent = 25.0

var longTermRates = map[int]float64{1: 27, 3: 29, 6: 31, 12: 33, 24: 35}

// Preview is an advisory projection, not a chain value.
type Preview struct {
	Reward float64
	Final  float64
}

// CompoundingPreview projects amount over months at monthlyRatePercent, simple or compounded monthly.
func CompoundingPreview(amount, monthlyRatePercent float64, months int, compound bool) (Preview, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return Preview{}, fmt.Errorf("%w: amount %v", ErrInvalidInput, amount)
	}
	if math.IsNaN(monthlyRatePercent) || math.IsInf(monthlyRatePercent, 0) || monthlyRatePercent < 0 {
		return Preview{}, fmt.Errorf("%w: rate %v", ErrInvalidInput, monthlyRatePercent)
	}
	if months < 0 {
		return Preview{}, fmt.Errorf("%w: months %d is negative", ErrInvalidInput, months)
	}
	rate := monthlyRatePercent / 100
	if !compound {
		reward := amount * rate * float64(months)
		return Preview{Reward: reward, Final: amount + reward}, nil
	}
	final := amount * math.Pow(1+rate, float64(months))
	return Preview{Reward: final - amount, Final: final}, nil
}

// LongTermPreviewRate is the calculator's monthly rate for a lock of months.
func LongTermPreviewRate(months int) (float64, error) {
	rate, ok := longTermRates[months]
	if !ok {
		return 0, fmt.Errorf("%w: no long term rate for %d months (have %v)", ErrInvalidInput, months, LongTermPreviewMonths())
	}
	return rate, nil
}

func LongTermPreviewMonths() []int {
	return slices.Sorted(maps.Keys(longTermRates))
}
