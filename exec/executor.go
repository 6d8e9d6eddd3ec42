package exec

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EXECUTION SAFETY LAYER - Decision → validated, bounded venue order
// ═══════════════════════════════════════════════════════════════════════════════
//
// Every order walks a fixed lifecycle:
//
//	PROPOSED → VALIDATED → SUBMITTED → FILLED
//	         ↘ REJECTED / FAILED     ↘ REJECTED / FAILED
//
// REJECTED means a safety gate said no (daily cap, margin); the decision is
// dropped, never resized or retried this cycle. FAILED means a venue call
// errored; before SUBMITTED that is a failed mid-price or margin read, after
// it a failed order placement. Either way the imbalance persists and next
// cycle's decision retries it naturally. Only FILLED mutates hedge state, and
// only by the filled amount.
//
// ═══════════════════════════════════════════════════════════════════════════════

// OrderState is a stage in the order lifecycle.
type OrderState string

const (
	StateProposed  OrderState = "PROPOSED"
	StateValidated OrderState = "VALIDATED"
	StateSubmitted OrderState = "SUBMITTED"
	StateFilled    OrderState = "FILLED"
	StateRejected  OrderState = "REJECTED"
	StateFailed    OrderState = "FAILED"
)

var validTransitions = map[OrderState][]OrderState{
	StateProposed:  {StateValidated, StateRejected, StateFailed},
	StateValidated: {StateSubmitted, StateRejected, StateFailed},
	StateSubmitted: {StateFilled, StateRejected, StateFailed},
}

// Order tracks one hedge adjustment through its lifecycle.
type Order struct {
	Symbol     string
	Size       decimal.Decimal // signed, + = buy
	LimitPrice decimal.Decimal
	Reason     types.HedgeReason

	State        OrderState
	RejectReason string
	VenueOrderID string
	FilledSize   decimal.Decimal // signed, same convention as Size
	AvgPrice     decimal.Decimal
	CreatedAt    time.Time
}

func (o *Order) transition(to OrderState) {
	for _, allowed := range validTransitions[o.State] {
		if allowed == to {
			o.State = to
			return
		}
	}
	// A bad transition is a programming error in this package, not a
	// runtime condition. Log loudly and refuse to move.
	log.Error().
		Str("from", string(o.State)).
		Str("to", string(to)).
		Msg("Illegal order state transition blocked")
}

func (o *Order) reject(reason string) {
	o.RejectReason = reason
	o.transition(StateRejected)
}

// Fill is the venue's answer to a submitted order.
type Fill struct {
	OrderID    string
	FilledSize decimal.Decimal // unsigned magnitude filled
	AvgPrice   decimal.Decimal
}

// Venue is the minimal derivatives-venue surface the executor needs.
type Venue interface {
	MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	AvailableMargin(ctx context.Context) (decimal.Decimal, error)
	PlaceLimitOrder(ctx context.Context, symbol string, size, limitPrice decimal.Decimal) (Fill, error)
}

// QuoteSource serves streamed mid prices. A zero mid means no quote yet.
type QuoteSource interface {
	Mid(symbol string) decimal.Decimal
}

// Config bounds what the executor is allowed to do.
type Config struct {
	Symbol            string
	MinOrderSize      decimal.Decimal
	MaxDailyTrades    int
	SlippageTolerance decimal.Decimal // fraction of mid, e.g. 0.005

	// EmergencyOverridesCap lets an emergency close through even when the
	// daily trade cap is exhausted.
	EmergencyOverridesCap bool
}

// Executor turns hedge decisions into venue orders, enforcing the safety
// gates. It never mutates hedge state; the caller applies fills.
type Executor struct {
	venue  Venue
	quotes QuoteSource
	cfg    Config
}

// NewExecutor creates an execution layer over the given venue.
func NewExecutor(venue Venue, cfg Config) *Executor {
	return &Executor{venue: venue, cfg: cfg}
}

// SetQuotes attaches a streamed quote source. When set, limit prices shape
// around the streamed mid; the venue's REST mid is the fallback while the
// stream is cold.
func (e *Executor) SetQuotes(q QuoteSource) {
	e.quotes = q
}

func (e *Executor) midPrice(ctx context.Context) (decimal.Decimal, error) {
	if e.quotes != nil {
		if mid := e.quotes.Mid(e.cfg.Symbol); mid.Sign() > 0 {
			return mid, nil
		}
	}
	return e.venue.MidPrice(ctx, e.cfg.Symbol)
}

// Execute runs one decision through the gates and, if it survives, the venue.
// A nil return means the decision needed no order (no-action or dust). The
// returned order's State tells the caller what happened; only StateFilled
// carries a FilledSize to apply.
func (e *Executor) Execute(ctx context.Context, d types.HedgeDecision, state types.HedgeState) (*Order, error) {
	if d.NoAction() {
		return nil, nil
	}

	emergency := d.Reason == types.ReasonEmergencyClose

	// Dust suppression. Emergency closes skip it: a residual position must
	// be flattened no matter how small.
	if !emergency && d.Adjustment.Abs().LessThan(e.cfg.MinOrderSize) {
		log.Debug().
			Str("adjustment", d.Adjustment.String()).
			Str("min_order", e.cfg.MinOrderSize.String()).
			Msg("Adjustment below minimum order size, skipping")
		return nil, nil
	}

	order := &Order{
		Symbol:    e.cfg.Symbol,
		Size:      d.Adjustment,
		Reason:    d.Reason,
		State:     StateProposed,
		CreatedAt: time.Now(),
	}

	// Daily trade cap.
	if state.DailyTrades >= e.cfg.MaxDailyTrades {
		if !emergency || !e.cfg.EmergencyOverridesCap {
			order.reject(fmt.Sprintf("daily trade limit reached (%d)", e.cfg.MaxDailyTrades))
			log.Warn().
				Int("daily_trades", state.DailyTrades).
				Int("max", e.cfg.MaxDailyTrades).
				Msg("🛑 Order rejected: daily trade limit")
			return order, nil
		}
		log.Warn().Msg("Emergency close overriding daily trade limit")
	}

	mid, err := e.midPrice(ctx)
	if err != nil {
		// Nothing was submitted; the order fails straight out of PROPOSED.
		order.transition(StateFailed)
		return order, fmt.Errorf("mid price: %w", err)
	}

	// Margin gate: the full notional must fit. An oversized order is
	// rejected outright, never silently shrunk to what margin allows.
	notional := order.Size.Abs().Mul(mid)
	margin, err := e.venue.AvailableMargin(ctx)
	if err != nil {
		order.transition(StateFailed)
		return order, fmt.Errorf("margin check: %w", err)
	}
	if margin.LessThan(notional) {
		order.reject(fmt.Sprintf("insufficient margin: need %s, have %s",
			notional.StringFixed(2), margin.StringFixed(2)))
		log.Warn().
			Str("notional", notional.StringFixed(2)).
			Str("margin", margin.StringFixed(2)).
			Msg("🛑 Order rejected: insufficient margin")
		return order, nil
	}

	order.transition(StateValidated)

	// Limit price shaped by slippage tolerance: buys pay up to mid*(1+tol),
	// sells accept down to mid*(1-tol).
	tol := e.cfg.SlippageTolerance
	if order.Size.Sign() > 0 {
		order.LimitPrice = mid.Mul(decimal.NewFromInt(1).Add(tol))
	} else {
		order.LimitPrice = mid.Mul(decimal.NewFromInt(1).Sub(tol))
	}

	order.transition(StateSubmitted)

	fill, err := e.venue.PlaceLimitOrder(ctx, order.Symbol, order.Size, order.LimitPrice)
	if err != nil {
		order.transition(StateFailed)
		log.Error().Err(err).
			Str("size", order.Size.String()).
			Str("limit", order.LimitPrice.StringFixed(4)).
			Msg("❌ Order submission failed")
		return order, fmt.Errorf("place order: %w", err)
	}

	order.VenueOrderID = fill.OrderID
	order.AvgPrice = fill.AvgPrice
	// Venue reports magnitude; re-sign it to the order's direction. Partial
	// fills leave a residual the next cycle picks up.
	order.FilledSize = fill.FilledSize.Abs()
	if order.Size.Sign() < 0 {
		order.FilledSize = order.FilledSize.Neg()
	}
	order.transition(StateFilled)

	log.Info().
		Str("order_id", order.VenueOrderID).
		Str("size", order.Size.String()).
		Str("filled", order.FilledSize.String()).
		Str("avg_price", order.AvgPrice.StringFixed(4)).
		Str("reason", string(order.Reason)).
		Msg("✅ Hedge order filled")

	return order, nil
}
