/**
 * @description
 * Currency-driven loyalty maths: how much spend earns a point, what a point is worth when
 * redeemed, and the smallest reward value a tenant may offer.
 *
 * @notes
 * - Earning always floors and cost always ceils, so fractional points never favour the
 *   customer on either side of the ledger.
 * - Amounts are handled as shopspring decimals in major units; storage uses int64 minor
 *   units and converts through ToMinor/ToMajor.
 */

package loyalty

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Burn-rate bounds, expressed as fractions of the earn unit.
const (
	MinBurnRate     = 0.01
	MaxBurnRate     = 0.05
	DefaultBurnRate = 0.02
)

var earnUnits = map[string]int64{
	"GBP": 1,
	"USD": 1,
	"EUR": 1,
	"CAD": 1,
	"AUD": 1,
	"NGN": 1000,
	"KES": 100,
	"GHS": 10,
	"ZAR": 10,
}

var minimumRewardValues = map[string]int64{
	"GBP": 5,
	"USD": 5,
	"EUR": 5,
	"CAD": 5,
	"AUD": 5,
	"NGN": 5000,
	"KES": 500,
	"GHS": 50,
	"ZAR": 50,
}

// Currencies without a minor unit.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"UGX": true,
	"RWF": true,
}

// unknownMinimumMultiplier scales the earn unit into a minimum reward value for currencies
// without an explicit floor.
const unknownMinimumMultiplier = 5

func normalizeCurrency(currency string) string {
	return strings.ToUpper(strings.TrimSpace(currency))
}

// EarnUnit returns the major-unit spend that earns exactly one point.
func EarnUnit(currency string) decimal.Decimal {
	if unit, ok := earnUnits[normalizeCurrency(currency)]; ok {
		return decimal.NewFromInt(unit)
	}
	return decimal.NewFromInt(1)
}

// PointsEarned returns floor(amountMajor / EarnUnit(currency)). Non-positive amounts earn nothing.
func PointsEarned(amountMajor decimal.Decimal, currency string) int64 {
	if !amountMajor.IsPositive() {
		return 0
	}
	return amountMajor.Div(EarnUnit(currency)).Floor().IntPart()
}

// PointsEarnedMinor is PointsEarned for an amount held in minor units.
func PointsEarnedMinor(amountMinor int64, currency string) int64 {
	return PointsEarned(ToMajor(amountMinor, currency), currency)
}

// ClampBurnRate bounds rate to [MinBurnRate, MaxBurnRate]; a non-positive rate means the default.
func ClampBurnRate(rate float64) decimal.Decimal {
	if rate <= 0 {
		return decimal.NewFromFloat(DefaultBurnRate)
	}
	d := decimal.NewFromFloat(rate)
	lower := decimal.NewFromFloat(MinBurnRate)
	upper := decimal.NewFromFloat(MaxBurnRate)
	if d.LessThan(lower) {
		return lower
	}
	if d.GreaterThan(upper) {
		return upper
	}
	return d
}

// PointValue is the major-unit value of one point when redeemed.
func PointValue(currency string, burnRate float64) decimal.Decimal {
	return EarnUnit(currency).Mul(ClampBurnRate(burnRate))
}

// PointsRequired returns ceil(rewardValueMajor / PointValue), never less than one point.
func PointsRequired(rewardValueMajor decimal.Decimal, currency string, burnRate float64) int64 {
	if !rewardValueMajor.IsPositive() {
		return 1
	}
	points := rewardValueMajor.Div(PointValue(currency, burnRate)).Ceil().IntPart()
	if points < 1 {
		return 1
	}
	return points
}

// MinimumRewardValue is the currency floor for a reward's monetary value.
func MinimumRewardValue(currency string) decimal.Decimal {
	if v, ok := minimumRewardValues[normalizeCurrency(currency)]; ok {
		return decimal.NewFromInt(v)
	}
	return EarnUnit(currency).Mul(decimal.NewFromInt(unknownMinimumMultiplier))
}

// EffectiveMinimumRewardValue applies a tenant override, which may raise the currency floor
// but never lower it.
func EffectiveMinimumRewardValue(currency string, tenantMinimum *float64) decimal.Decimal {
	floor := MinimumRewardValue(currency)
	if tenantMinimum == nil {
		return floor
	}
	return decimal.Max(floor, decimal.NewFromFloat(*tenantMinimum))
}

// MinorUnitExponent is the number of minor-unit digits for currency.
func MinorUnitExponent(currency string) int32 {
	if zeroDecimalCurrencies[normalizeCurrency(currency)] {
		return 0
	}
	return 2
}

// ToMinor converts a major-unit amount to minor units, rounding half away from zero.
func ToMinor(amountMajor decimal.Decimal, currency string) int64 {
	return amountMajor.Shift(MinorUnitExponent(currency)).Round(0).IntPart()
}

// ToMajor converts minor units to a major-unit decimal.
func ToMajor(amountMinor int64, currency string) decimal.Decimal {
	return decimal.New(amountMinor, -MinorUnitExponent(currency))
}
