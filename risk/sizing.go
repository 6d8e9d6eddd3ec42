package risk

import (
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HEDGE SIZING - Signed adjustment to reach target net exposure
// ═══════════════════════════════════════════════════════════════════════════════
//
// Formula: adjustment = clamp(target - (lp_delta + current_hedge), ±max_size)
//
// lp_delta here is the raw aggregate LP delta, never pre-netted against the
// hedge. Netting it first and then subtracting the hedge again would
// double-count the hedge and oscillate the position.
//
// A deadband around the target suppresses churn: imbalances smaller than the
// delta threshold produce no order. The relative rebalance trigger overrides
// the deadband when the imbalance notional is large against the portfolio,
// so a small book still gets hedged.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Sizer computes hedge adjustments.
type Sizer struct {
	deltaThreshold  decimal.Decimal // deadband on |net - target|
	maxPositionSize decimal.Decimal // adjustment magnitude ceiling
	targetDelta     decimal.Decimal // normally zero
	rebalanceRatio  decimal.Decimal // imbalance notional / portfolio value trigger, zero disables
}

// NewSizer creates a hedge sizer. Target delta defaults to zero (fully
// delta-neutral).
func NewSizer(deltaThreshold, maxPositionSize decimal.Decimal) *Sizer {
	return &Sizer{
		deltaThreshold:  deltaThreshold,
		maxPositionSize: maxPositionSize,
		targetDelta:     decimal.Zero,
	}
}

// WithTarget returns a copy of the sizer aiming at a non-zero net exposure.
func (s *Sizer) WithTarget(target decimal.Decimal) *Sizer {
	c := *s
	c.targetDelta = target
	return &c
}

// WithRebalanceRatio returns a copy of the sizer that also acts when the
// imbalance notional exceeds this fraction of portfolio value, even inside
// the absolute deadband.
func (s *Sizer) WithRebalanceRatio(ratio decimal.Decimal) *Sizer {
	c := *s
	c.rebalanceRatio = ratio
	return &c
}

// Decide computes the signed adjustment needed to move net exposure
// (lpDelta + currentHedge) to the target, using only the absolute deadband.
// lpDelta must be the raw aggregate LP delta.
func (s *Sizer) Decide(lpDelta, currentHedge decimal.Decimal) types.HedgeDecision {
	return s.DecideForPortfolio(lpDelta, currentHedge, decimal.Zero, decimal.Zero)
}

// DecideForPortfolio is Decide with the relative rebalance trigger applied:
// price is the hedge instrument's current price, portfolioValue the aggregate
// LP value in quote terms. Either being non-positive disables the ratio check.
func (s *Sizer) DecideForPortfolio(lpDelta, currentHedge, price, portfolioValue decimal.Decimal) types.HedgeDecision {
	net := lpDelta.Add(currentHedge)
	imbalance := net.Sub(s.targetDelta)

	insideDeadband := imbalance.Abs().LessThan(s.deltaThreshold)
	ratioTriggered := insideDeadband && s.ratioExceeded(imbalance, price, portfolioValue)

	if insideDeadband && !ratioTriggered {
		log.Debug().
			Str("net_delta", net.String()).
			Str("threshold", s.deltaThreshold.String()).
			Msg("Net exposure within deadband")
		return types.HedgeDecision{
			Adjustment:  decimal.Zero,
			TargetDelta: s.targetDelta,
			Reason:      types.ReasonNoAction,
		}
	}
	if ratioTriggered {
		log.Info().
			Str("imbalance", imbalance.String()).
			Str("rebalance_ratio", s.rebalanceRatio.String()).
			Msg("⚖️ Delta-to-value ratio breached, rebalancing inside deadband")
	}

	adjustment := s.targetDelta.Sub(net)
	clamped := clamp(adjustment, s.maxPositionSize)
	if !clamped.Equal(adjustment) {
		log.Warn().
			Str("requested", adjustment.String()).
			Str("clamped", clamped.String()).
			Str("max_size", s.maxPositionSize.String()).
			Msg("Hedge adjustment clamped to max position size")
	}

	reason := types.ReasonRebalance
	if currentHedge.IsZero() && !ratioTriggered {
		reason = types.ReasonThresholdBreach
	}

	return types.HedgeDecision{
		Adjustment:  clamped,
		TargetDelta: s.targetDelta,
		Reason:      reason,
	}
}

// EmergencyClose returns the decision that flattens the current hedge
// entirely, ignoring the deadband. Used on shutdown or operator trigger.
func EmergencyClose(currentHedge decimal.Decimal) types.HedgeDecision {
	return types.HedgeDecision{
		Adjustment:  currentHedge.Neg(),
		TargetDelta: decimal.Zero,
		Reason:      types.ReasonEmergencyClose,
	}
}

func (s *Sizer) ratioExceeded(imbalance, price, portfolioValue decimal.Decimal) bool {
	if s.rebalanceRatio.Sign() <= 0 || price.Sign() <= 0 || portfolioValue.Sign() <= 0 {
		return false
	}
	ratio := imbalance.Abs().Mul(price).Div(portfolioValue)
	return ratio.GreaterThan(s.rebalanceRatio)
}

func clamp(v, limit decimal.Decimal) decimal.Decimal {
	if v.GreaterThan(limit) {
		return limit
	}
	if v.LessThan(limit.Neg()) {
		return limit.Neg()
	}
	return v
}
