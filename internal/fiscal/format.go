package fiscal

import (
	"pdv/internal/model"

	"github.com/shopspring/decimal"
)

// Money renders an amount with exactly two decimals ("25.00").
func Money(d decimal.Decimal) string { return d.StringFixed(2) }

// Percent renders a rate with exactly two decimals ("18.00").
func Percent(d decimal.Decimal) string { return d.StringFixed(2) }

// Quantity renders q with the precision of its unit of measure:
// "2" for countable units, "0.750" for kilograms.
func Quantity(q decimal.Decimal, unit string) string {
	return q.StringFixed(model.UnitPrecision(unit))
}

var hundred = decimal.NewFromInt(100)

// TaxAmount is base * rate%, rounded half-up to cents.
func TaxAmount(base, rate decimal.Decimal) decimal.Decimal {
	return base.Mul(rate).Div(hundred).Round(2)
}
