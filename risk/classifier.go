package risk

import (
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RISK CLASSIFIER - Metrics snapshot → LOW / MEDIUM / HIGH
// ═══════════════════════════════════════════════════════════════════════════════
//
// Pure function of the current cycle's metrics and configured thresholds.
// Three triggers, each able to escalate on its own:
//
//	1. IL fraction above the configured ceiling
//	2. |delta| * price relative to position value above the ratio ceiling
//	3. net PnL below the negative floor
//
// Any trigger at or past its ceiling → HIGH. Any trigger past half its
// ceiling → MEDIUM. Otherwise LOW. A position with zero IL and zero fees but
// outsized delta is a legitimate HIGH (delta risk alone is intolerable), and
// the same position with small delta is a legitimate LOW, not an error state.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Classifier holds the configured escalation thresholds.
type Classifier struct {
	MaxImpermanentLoss decimal.Decimal // IL fraction ceiling
	MaxDeltaRatio      decimal.Decimal // |delta|*price / value ceiling
	MaxNegativePnL     decimal.Decimal // positive magnitude; PnL below -this is severe
}

// Classify maps one metrics snapshot to a risk level. It reads nothing but
// its arguments; orchestrator state must never leak in here.
func (c Classifier) Classify(m types.RiskMetrics, positionValue, currentPrice decimal.Decimal) types.RiskLevel {
	deltaRatio := decimal.Zero
	if positionValue.Sign() > 0 {
		deltaRatio = m.Delta.Abs().Mul(currentPrice).Div(positionValue)
	}

	severe := 0
	moderate := 0

	grade := func(value, ceiling decimal.Decimal) {
		if ceiling.Sign() <= 0 {
			return
		}
		switch {
		case value.GreaterThanOrEqual(ceiling):
			severe++
		case value.GreaterThanOrEqual(ceiling.Div(two)):
			moderate++
		}
	}

	grade(m.ImpermanentLoss, c.MaxImpermanentLoss)
	grade(deltaRatio, c.MaxDeltaRatio)
	grade(m.NetPnL.Neg(), c.MaxNegativePnL)

	switch {
	case severe > 0:
		return types.RiskHigh
	case moderate > 0:
		return types.RiskMedium
	default:
		return types.RiskLow
	}
}
