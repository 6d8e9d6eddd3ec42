package risk

import (
	"math"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exposure"
	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK METRICS - IL, fees, VaR per position
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every calculation here fails soft: malformed inputs (inverted bounds,
// non-positive prices) produce a zero metric and a log line, never an error.
// A bad position record must not take down the cycle.
//
// ═══════════════════════════════════════════════════════════════════════════════

var (
	two = decimal.NewFromInt(2)

	// Z-scores for the parametric VaR confidence levels.
	z99 = decimal.NewFromFloat(2.33)
	z95 = decimal.NewFromFloat(1.65)
	z90 = decimal.NewFromFloat(1.28)
)

// Calculator computes per-position risk metrics.
type Calculator struct {
	classifier Classifier

	varConfidence  decimal.Decimal
	varHorizonDays int
}

// NewCalculator builds a metrics calculator with the given risk-level
// thresholds and VaR parameters.
func NewCalculator(classifier Classifier, varConfidence decimal.Decimal, varHorizonDays int) *Calculator {
	return &Calculator{
		classifier:     classifier,
		varConfidence:  varConfidence,
		varHorizonDays: varHorizonDays,
	}
}

// ImpermanentLoss returns the constant-product IL fraction for a price move
// from entry to current: |2*sqrt(r)/(1+r) - 1| with r = current/entry.
// Non-positive prices yield zero.
func ImpermanentLoss(entryPrice, currentPrice decimal.Decimal) decimal.Decimal {
	if entryPrice.Sign() <= 0 || currentPrice.Sign() <= 0 {
		return decimal.Zero
	}

	ratio := currentPrice.Div(entryPrice)
	sqrtRatio := decimal.NewFromFloat(math.Sqrt(ratio.InexactFloat64()))

	il := two.Mul(sqrtRatio).Div(decimal.NewFromInt(1).Add(ratio)).Sub(decimal.NewFromInt(1))
	return il.Abs()
}

// ConcentratedIL approximates IL for a ranged position. Out of range the
// position is fully one-sided and plain IL applies; inside the range the loss
// is amplified by the concentration factor 2 / (range_width / mid_price).
//
// The concentration factor is a heuristic risk signal, not the exact
// closed-form integral.
func ConcentratedIL(currentPrice, lowerPrice, upperPrice, entryPrice decimal.Decimal) decimal.Decimal {
	if currentPrice.Sign() <= 0 || entryPrice.Sign() <= 0 {
		return decimal.Zero
	}

	if upperPrice.LessThanOrEqual(lowerPrice) {
		log.Warn().
			Str("lower", lowerPrice.String()).
			Str("upper", upperPrice.String()).
			Msg("Inverted price bounds, IL treated as zero")
		return decimal.Zero
	}

	base := ImpermanentLoss(entryPrice, currentPrice)

	// Out of range: fully one-sided, no further amplification.
	if currentPrice.LessThan(lowerPrice) || currentPrice.GreaterThan(upperPrice) {
		return base
	}

	mid := upperPrice.Add(lowerPrice).Div(two)
	if mid.Sign() <= 0 {
		log.Warn().Str("mid", mid.String()).Msg("Non-positive mid price, IL treated as zero")
		return decimal.Zero
	}

	width := upperPrice.Sub(lowerPrice)
	concentration := two.Div(width.Div(mid))

	return base.Mul(concentration)
}

// FeeValue converts both unclaimed fee amounts into quote terms at the
// current price.
func FeeValue(fees0, fees1, currentPrice decimal.Decimal) decimal.Decimal {
	return fees0.Mul(currentPrice).Add(fees1)
}

// ValueAtRisk returns the parametric VaR: z * vol * sqrt(horizon/365) * value.
// Zero volatility or value yields zero.
func (c *Calculator) ValueAtRisk(positionValue, volatility decimal.Decimal) decimal.Decimal {
	if positionValue.Sign() <= 0 || volatility.Sign() <= 0 {
		return decimal.Zero
	}

	z := z90
	switch {
	case c.varConfidence.GreaterThanOrEqual(decimal.NewFromFloat(0.99)):
		z = z99
	case c.varConfidence.GreaterThanOrEqual(decimal.NewFromFloat(0.95)):
		z = z95
	}

	timeFactor := decimal.NewFromFloat(math.Sqrt(float64(c.varHorizonDays) / 365.0))

	return positionValue.Mul(volatility).Mul(timeFactor).Mul(z)
}

// Assess builds the full risk snapshot for one position at the supplied
// annualized volatility. Entry price is approximated by the current price
// when the source does not track it, which zeroes the IL term but keeps
// delta, fees and VaR meaningful.
func (c *Calculator) Assess(pos types.Position, volatility decimal.Decimal) types.RiskMetrics {
	exp := exposure.Calculate(pos.Liquidity, pos.LowerPrice, pos.UpperPrice, pos.CurrentPrice)

	il := ConcentratedIL(pos.CurrentPrice, pos.LowerPrice, pos.UpperPrice, pos.CurrentPrice)
	ilValue := pos.TotalValueUSD.Mul(il)
	feeValue := FeeValue(pos.UnclaimedFees0, pos.UnclaimedFees1, pos.CurrentPrice)
	netPnL := feeValue.Sub(ilValue)

	m := types.RiskMetrics{
		PositionID:      pos.ID,
		Delta:           exp.Delta,
		Gamma:           exp.Gamma,
		ImpermanentLoss: il,
		ILValue:         ilValue,
		FeeValue:        feeValue,
		NetPnL:          netPnL,
		ValueAtRisk:     c.ValueAtRisk(pos.TotalValueUSD, volatility),
	}
	m.Level = c.classifier.Classify(m, pos.TotalValueUSD, pos.CurrentPrice)

	return m
}
