package usecase

import "github.com/shopspring/decimal"

// Price comparisons happen at a fixed number of fractional digits so that
// repeated invocations with near-identical floats cannot flip a gate
// verdict back and forth.
const priceDecimals = 10

// Order granularity. Amounts are always floored, never rounded up.
const (
	baseStep  = 0.000001 // base-currency quantity step
	quoteStep = 0.01     // quote-currency amount step
)

func roundPrice(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Round(priceDecimals)
}

func priceBelow(a, b float64) bool {
	return roundPrice(a).LessThan(roundPrice(b))
}

func priceAbove(a, b float64) bool {
	return roundPrice(a).GreaterThan(roundPrice(b))
}

func priceAtLeast(a, b float64) bool {
	return roundPrice(a).GreaterThanOrEqual(roundPrice(b))
}

func priceAtMost(a, b float64) bool {
	return roundPrice(a).LessThanOrEqual(roundPrice(b))
}

// floorToStep floors v down to a multiple of step.
func floorToStep(v, step float64) float64 {
	d := decimal.NewFromFloat(v)
	s := decimal.NewFromFloat(step)
	f, _ := d.Div(s).Floor().Mul(s).Float64()
	return f
}
