package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED TYPES - Avoid import cycles
// ═══════════════════════════════════════════════════════════════════════════════

// Position represents a concentrated-liquidity position read from chain.
// Produced fresh every cycle by a position source; the engine never mutates it.
type Position struct {
	ID             string
	Protocol       string // "uniswap", "aerodrome", "sickle"
	Token0         string
	Token1         string
	Token0Symbol   string
	Token1Symbol   string
	Token0Decimals int
	Token1Decimals int

	Liquidity  decimal.Decimal
	TickLower  int
	TickUpper  int
	LowerPrice decimal.Decimal
	UpperPrice decimal.Decimal

	CurrentPrice   decimal.Decimal // token1 per token0
	Token0Amount   decimal.Decimal
	Token1Amount   decimal.Decimal
	UnclaimedFees0 decimal.Decimal
	UnclaimedFees1 decimal.Decimal
	TotalValueUSD  decimal.Decimal
}

// RiskLevel classifies how urgent a position's risk is.
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// RiskMetrics is the per-position risk snapshot for one cycle.
// Immutable once built; superseded next cycle.
type RiskMetrics struct {
	PositionID string

	Delta decimal.Decimal // base-token directional exposure, + = long
	Gamma decimal.Decimal // d(delta)/d(price)

	ImpermanentLoss decimal.Decimal // fraction, e.g. 0.05 = 5%
	ILValue         decimal.Decimal // quote terms
	FeeValue        decimal.Decimal // unclaimed fees in quote terms
	NetPnL          decimal.Decimal // FeeValue - ILValue
	ValueAtRisk     decimal.Decimal

	Level RiskLevel
}

// HedgeReason tags why a hedge decision was made.
type HedgeReason string

const (
	ReasonNoAction        HedgeReason = "no_action"
	ReasonThresholdBreach HedgeReason = "threshold_breach"
	ReasonRebalance       HedgeReason = "rebalance"
	ReasonEmergencyClose  HedgeReason = "emergency_close"
)

// HedgeDecision is the sizing engine's output, consumed immediately by the
// execution layer. Not retained across cycles.
type HedgeDecision struct {
	Adjustment  decimal.Decimal // signed size change, + = buy
	TargetDelta decimal.Decimal
	Reason      HedgeReason
}

// NoAction reports whether the decision requires no order.
func (d HedgeDecision) NoAction() bool {
	return d.Reason == ReasonNoAction || d.Adjustment.IsZero()
}

// HedgeState is the one piece of mutable state that survives across cycles.
// Owned exclusively by the orchestrator; updated only after a confirmed fill.
type HedgeState struct {
	HedgePosition decimal.Decimal // signed perp position, + = long
	LastLPDelta   decimal.Decimal
	DailyTrades   int
	TradeDay      int // YearDay marker for the daily counter
}

// RollDay resets the daily trade counter when the calendar day changes.
// Returns true if a rollover happened.
func (s *HedgeState) RollDay(now time.Time) bool {
	day := now.YearDay()
	if s.TradeDay == day {
		return false
	}
	s.TradeDay = day
	s.DailyTrades = 0
	return true
}

// CycleReport aggregates one cycle's totals for observability. Read-only sink:
// nothing in the decision path consumes it.
type CycleReport struct {
	Positions      int
	TotalValueUSD  decimal.Decimal
	TotalIL        decimal.Decimal
	TotalFees      decimal.Decimal
	TotalNetPnL    decimal.Decimal
	AggregateDelta decimal.Decimal
	HedgePosition  decimal.Decimal
	HedgesExecuted int
	Timestamp      time.Time
}
