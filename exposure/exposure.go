package exposure

import (
	"math"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXPOSURE CALCULATOR - Delta/gamma for concentrated-liquidity positions
// ═══════════════════════════════════════════════════════════════════════════════
//
// Uses the closed-form sqrt-price amount functions:
//
//	below range:  amount0 = L * (1/sqrt(Pl) - 1/sqrt(Pu)),  amount1 = 0
//	above range:  amount0 = 0,  amount1 = L * (sqrt(Pu) - sqrt(Pl))
//	in range:     amount0 = L * (1/sqrt(P) - 1/sqrt(Pu))
//	              amount1 = L * (sqrt(P) - sqrt(Pl))
//
// Delta is the token0 (base) amount: the position's directional exposure in
// base-token units. Gamma is d(delta)/dP = -L / (2 * P^1.5) while in range,
// zero outside (token composition stops responding to price there).
//
// Sign convention: positive delta = long the base token.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Result holds the directional exposure of one position.
type Result struct {
	Delta decimal.Decimal
	Gamma decimal.Decimal
}

// Calculate returns delta and gamma for a position given its liquidity, price
// bounds and the current pool price. Degenerate inputs (zero liquidity,
// non-positive prices, inverted bounds) yield zeros, not errors.
func Calculate(liquidity, lowerPrice, upperPrice, currentPrice decimal.Decimal) Result {
	l := liquidity.InexactFloat64()
	pl := lowerPrice.InexactFloat64()
	pu := upperPrice.InexactFloat64()
	p := currentPrice.InexactFloat64()

	if l <= 0 || pl <= 0 || pu <= 0 || p <= 0 || pu <= pl {
		return Result{Delta: decimal.Zero, Gamma: decimal.Zero}
	}

	sqrtPl := math.Sqrt(pl)
	sqrtPu := math.Sqrt(pu)

	switch {
	case p <= pl:
		// Entirely token0: delta is the full base amount, no convexity.
		delta := l * (1/sqrtPl - 1/sqrtPu)
		return Result{Delta: decimal.NewFromFloat(delta), Gamma: decimal.Zero}

	case p >= pu:
		// Entirely token1: no base-token exposure left.
		return Result{Delta: decimal.Zero, Gamma: decimal.Zero}

	default:
		sqrtP := math.Sqrt(p)
		delta := l * (1/sqrtP - 1/sqrtPu)
		gamma := -l / (2 * p * sqrtP)
		return Result{
			Delta: decimal.NewFromFloat(delta),
			Gamma: decimal.NewFromFloat(gamma),
		}
	}
}

// Amounts returns the token0 and token1 holdings implied by liquidity, bounds
// and current price. Position sources use this to fill normalized records.
func Amounts(liquidity, lowerPrice, upperPrice, currentPrice decimal.Decimal) (amount0, amount1 decimal.Decimal) {
	l := liquidity.InexactFloat64()
	pl := lowerPrice.InexactFloat64()
	pu := upperPrice.InexactFloat64()
	p := currentPrice.InexactFloat64()

	if l <= 0 || pl <= 0 || pu <= 0 || p <= 0 || pu <= pl {
		return decimal.Zero, decimal.Zero
	}

	sqrtPl := math.Sqrt(pl)
	sqrtPu := math.Sqrt(pu)

	switch {
	case p <= pl:
		return decimal.NewFromFloat(l * (1/sqrtPl - 1/sqrtPu)), decimal.Zero
	case p >= pu:
		return decimal.Zero, decimal.NewFromFloat(l * (sqrtPu - sqrtPl))
	default:
		sqrtP := math.Sqrt(p)
		return decimal.NewFromFloat(l * (1/sqrtP - 1/sqrtPu)),
			decimal.NewFromFloat(l * (sqrtP - sqrtPl))
	}
}

// TickToPrice converts a tick index to a price (token1 per token0),
// price = 1.0001^tick, adjusted for the token decimal difference.
func TickToPrice(tick int, token0Decimals, token1Decimals int) decimal.Decimal {
	price := math.Pow(1.0001, float64(tick))
	price *= math.Pow(10, float64(token0Decimals-token1Decimals))
	return decimal.NewFromFloat(price)
}
