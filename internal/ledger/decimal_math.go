package ledger

import (
	"math"

	"github.com/shopspring/decimal"
)

// fullCloseEpsilon: a sell leaving less than this many shares counts as a
// full close.
const fullCloseEpsilon = 0.001

var decimalZero = decimal.Zero

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimalZero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLT(a, b float64) bool { return decimalCompare(a, b) < 0 }

// weightedAvgPrice folds a new fill into an existing position.
// Returns the blended per-share price over oldQty+newQty shares.
func weightedAvgPrice(oldQty, oldPrice, newQty, newPrice float64) float64 {
	total := decFromFloat(oldQty).Add(decFromFloat(newQty))
	if total.IsZero() {
		return 0
	}
	cost := decFromFloat(oldQty).Mul(decFromFloat(oldPrice)).
		Add(decFromFloat(newQty).Mul(decFromFloat(newPrice)))
	return decToFloat(cost.Div(total))
}

// realizedPnL computes (sell - basis) * qty without float drift.
func realizedPnL(qty, sellPrice, basisPerShare float64) float64 {
	return decToFloat(decFromFloat(sellPrice).Sub(decFromFloat(basisPerShare)).Mul(decFromFloat(qty)))
}

// isFullClose reports whether remaining shares round down to flat.
func isFullClose(remainingQty float64) bool {
	return decimalLT(remainingQty, fullCloseEpsilon)
}
