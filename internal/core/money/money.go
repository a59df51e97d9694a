// Package money converts between major-unit decimals and the integer minor
// units the payment processor works in.
package money

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// ToMinorUnits rounds half away from zero to whole cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// Round2 rounds a major-unit amount to cents.
func Round2(amount decimal.Decimal) decimal.Decimal {
	return amount.Round(2)
}

func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
