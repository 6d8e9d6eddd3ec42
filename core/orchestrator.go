package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exec"
	"github.com/web3guy0/deltahedge/positions"
	"github.com/web3guy0/deltahedge/risk"
	"github.com/web3guy0/deltahedge/storage"
	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CYCLE ORCHESTRATOR - Fetch → assess → decide → execute → report
// ═══════════════════════════════════════════════════════════════════════════════
//
// One cycle at a time, on a fixed interval. The orchestrator is the sole
// owner of HedgeState: fills apply here, the daily counter rolls here, and
// everything downstream sees copies.
//
// A cycle aborts only when every position source fails. Anything else
// degrades: a failed order stays FAILED and the imbalance is re-derived next
// cycle from fresh reads, so there is no retry queue to reconcile.
//
// ═══════════════════════════════════════════════════════════════════════════════

// CycleState is the orchestrator's current phase.
type CycleState string

const (
	StateIdle         CycleState = "IDLE"
	StateFetching     CycleState = "FETCHING"
	StateAssessing    CycleState = "ASSESSING"
	StateDeciding     CycleState = "DECIDING"
	StateExecuting    CycleState = "EXECUTING"
	StateReporting    CycleState = "REPORTING"
	StateShuttingDown CycleState = "SHUTTING_DOWN"
)

// VolProvider supplies the annualized volatility for VaR.
type VolProvider interface {
	Annualized() decimal.Decimal
}

// VenueReader reads the live hedge position for startup reconciliation.
type VenueReader interface {
	Position(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// Notifier receives operational events. Optional.
type Notifier interface {
	NotifyOrder(order *exec.Order)
	NotifyHighRisk(m types.RiskMetrics)
	NotifyCycle(report types.CycleReport)
	NotifyError(err error)
}

// Store persists cycle history. Optional.
type Store interface {
	SaveTrade(trade *storage.HedgeTrade)
	SaveCycle(report types.CycleReport)
}

// Config bounds the orchestrator.
type Config struct {
	Wallet            string
	Symbol            string
	Interval          time.Duration
	DefaultVolatility decimal.Decimal
	CloseOnShutdown   bool

	// ReportEvery throttles cycle summaries to the notifier. Zero means the
	// default of one hour; orders and high-risk alerts are never throttled.
	ReportEvery time.Duration
}

const defaultReportEvery = time.Hour

// Orchestrator drives the hedging loop.
type Orchestrator struct {
	cfg        Config
	sources    []positions.Source
	calculator *risk.Calculator
	sizer      *risk.Sizer
	executor   *exec.Executor
	venue      VenueReader
	vol        VolProvider
	store      Store
	notifier   Notifier

	mu              sync.RWMutex
	state           CycleState
	hedge           types.HedgeState
	lastReport      types.CycleReport
	lastCycleNotify time.Time

	running bool
	stopCh  chan struct{}
	closeCh chan struct{}
	doneCh  chan struct{}
}

// New wires the orchestrator. vol, store and notifier may be nil.
func New(cfg Config, sources []positions.Source, calculator *risk.Calculator, sizer *risk.Sizer, executor *exec.Executor, venue VenueReader, vol VolProvider, store Store, notifier Notifier) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		sources:    sources,
		calculator: calculator,
		sizer:      sizer,
		executor:   executor,
		venue:      venue,
		vol:        vol,
		store:      store,
		notifier:   notifier,
		state:      StateIdle,
		stopCh:     make(chan struct{}),
		closeCh:    make(chan struct{}, 1),
		doneCh:     make(chan struct{}),
	}
}

// SetNotifier attaches the notifier. Call before Start; the notifier
// usually needs the orchestrator as its status source, hence the two-step
// wiring.
func (o *Orchestrator) SetNotifier(n Notifier) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.notifier = n
}

// HedgeState returns a copy of the current hedge state.
func (o *Orchestrator) HedgeState() types.HedgeState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.hedge
}

// LastReport returns the most recent cycle report.
func (o *Orchestrator) LastReport() types.CycleReport {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.lastReport
}

// State returns the current cycle phase.
func (o *Orchestrator) State() CycleState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

// RequestClose asks the loop to flatten the hedge at the next opportunity.
// Safe from any goroutine; used by the Telegram /close command.
func (o *Orchestrator) RequestClose() {
	select {
	case o.closeCh <- struct{}{}:
	default:
	}
}

// Start reconciles hedge state against the venue and begins the loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return fmt.Errorf("orchestrator already running")
	}
	o.running = true
	o.mu.Unlock()

	// The venue is the source of truth for the hedge leg: a restart must
	// not assume flat when a position is live.
	if o.venue != nil {
		position, err := o.venue.Position(ctx, o.cfg.Symbol)
		if err != nil {
			return fmt.Errorf("reconcile hedge position: %w", err)
		}
		o.mu.Lock()
		o.hedge.HedgePosition = position
		o.hedge.TradeDay = time.Now().YearDay()
		o.mu.Unlock()

		log.Info().
			Str("symbol", o.cfg.Symbol).
			Str("position", position.String()).
			Msg("Hedge state reconciled with venue")
	}

	go o.loop(ctx)
	log.Info().
		Dur("interval", o.cfg.Interval).
		Str("wallet", o.cfg.Wallet).
		Msg("🔄 Hedging loop started")
	return nil
}

// Stop shuts the loop down, optionally flattening the hedge first.
func (o *Orchestrator) Stop(ctx context.Context) {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	o.state = StateShuttingDown
	o.mu.Unlock()

	close(o.stopCh)
	<-o.doneCh

	if o.cfg.CloseOnShutdown {
		if err := o.CloseHedge(ctx); err != nil {
			log.Error().Err(err).Msg("Emergency close on shutdown failed")
		}
	}

	log.Info().Msg("Hedging loop stopped")
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.doneCh)

	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()

	o.runAndLog(ctx)

	for {
		select {
		case <-o.stopCh:
			return
		case <-ctx.Done():
			return
		case <-o.closeCh:
			if err := o.CloseHedge(ctx); err != nil {
				log.Error().Err(err).Msg("Emergency close failed")
				o.notifyError(err)
			}
		case <-ticker.C:
			o.runAndLog(ctx)
		}
	}
}

func (o *Orchestrator) runAndLog(ctx context.Context) {
	if err := o.RunCycle(ctx); err != nil {
		log.Error().Err(err).Msg("Cycle aborted")
		o.notifyError(err)
	}
}

// RunCycle executes one full fetch → report pass.
func (o *Orchestrator) RunCycle(ctx context.Context) error {
	start := time.Now()

	o.setState(StateFetching)
	defer o.setState(StateIdle)

	o.mu.Lock()
	if o.hedge.RollDay(start) {
		log.Info().Msg("📅 Daily trade counter reset")
	}
	o.mu.Unlock()

	positionList, err := positions.FetchAll(ctx, o.cfg.Wallet, o.sources)
	if err != nil {
		return fmt.Errorf("fetch positions: %w", err)
	}

	o.setState(StateAssessing)

	volatility := o.cfg.DefaultVolatility
	if o.vol != nil {
		if v := o.vol.Annualized(); v.Sign() > 0 {
			volatility = v
		}
	}

	report := types.CycleReport{
		Positions: len(positionList),
		Timestamp: start,
	}
	aggregateDelta := decimal.Zero
	// Reference price for the delta-to-value rebalance trigger: the price of
	// the largest position by value.
	refPrice := decimal.Zero
	refValue := decimal.Zero

	for _, pos := range positionList {
		m := o.calculator.Assess(pos, volatility)

		aggregateDelta = aggregateDelta.Add(m.Delta)
		if pos.TotalValueUSD.GreaterThan(refValue) {
			refPrice = pos.CurrentPrice
			refValue = pos.TotalValueUSD
		}
		report.TotalValueUSD = report.TotalValueUSD.Add(pos.TotalValueUSD)
		report.TotalIL = report.TotalIL.Add(m.ILValue)
		report.TotalFees = report.TotalFees.Add(m.FeeValue)
		report.TotalNetPnL = report.TotalNetPnL.Add(m.NetPnL)

		log.Debug().
			Str("position", m.PositionID).
			Str("delta", m.Delta.StringFixed(4)).
			Str("il", m.ImpermanentLoss.StringFixed(4)).
			Str("level", string(m.Level)).
			Msg("Position assessed")

		if m.Level == types.RiskHigh {
			log.Warn().
				Str("position", m.PositionID).
				Str("net_pnl", m.NetPnL.StringFixed(2)).
				Msg("🔴 Position at HIGH risk")
			o.notifyHighRisk(m)
		}
	}
	report.AggregateDelta = aggregateDelta

	o.setState(StateDeciding)

	o.mu.Lock()
	o.hedge.LastLPDelta = aggregateDelta
	hedgeCopy := o.hedge
	o.mu.Unlock()

	decision := o.sizer.DecideForPortfolio(aggregateDelta, hedgeCopy.HedgePosition, refPrice, report.TotalValueUSD)

	o.setState(StateExecuting)

	order, execErr := o.executor.Execute(ctx, decision, hedgeCopy)
	o.applyOrder(order)
	if order != nil && order.State == exec.StateFilled {
		report.HedgesExecuted = 1
	}

	o.setState(StateReporting)

	reportEvery := o.cfg.ReportEvery
	if reportEvery <= 0 {
		reportEvery = defaultReportEvery
	}

	o.mu.Lock()
	report.HedgePosition = o.hedge.HedgePosition
	o.lastReport = report
	notifyCycle := time.Since(o.lastCycleNotify) >= reportEvery
	if notifyCycle {
		o.lastCycleNotify = time.Now()
	}
	o.mu.Unlock()

	if o.store != nil {
		o.store.SaveCycle(report)
	}
	if notifyCycle && o.notifier != nil {
		o.notifier.NotifyCycle(report)
	}

	log.Info().
		Int("positions", report.Positions).
		Str("value", report.TotalValueUSD.StringFixed(2)).
		Str("lp_delta", report.AggregateDelta.StringFixed(4)).
		Str("hedge", report.HedgePosition.StringFixed(4)).
		Str("net_pnl", report.TotalNetPnL.StringFixed(2)).
		Dur("took", time.Since(start)).
		Msg("Cycle complete")

	if execErr != nil {
		return fmt.Errorf("execute hedge: %w", execErr)
	}
	return nil
}

// CloseHedge flattens the current hedge immediately.
func (o *Orchestrator) CloseHedge(ctx context.Context) error {
	o.mu.RLock()
	hedgeCopy := o.hedge
	o.mu.RUnlock()

	if hedgeCopy.HedgePosition.IsZero() {
		log.Info().Msg("Hedge already flat")
		return nil
	}

	log.Warn().
		Str("position", hedgeCopy.HedgePosition.String()).
		Msg("🚨 Emergency close")

	decision := risk.EmergencyClose(hedgeCopy.HedgePosition)
	order, err := o.executor.Execute(ctx, decision, hedgeCopy)
	o.applyOrder(order)
	return err
}

// applyOrder folds an order outcome into hedge state and fans it out to the
// store and notifier. Only fills mutate state.
func (o *Orchestrator) applyOrder(order *exec.Order) {
	if order == nil {
		return
	}

	if order.State == exec.StateFilled {
		o.mu.Lock()
		o.hedge.HedgePosition = o.hedge.HedgePosition.Add(order.FilledSize)
		o.hedge.DailyTrades++
		o.mu.Unlock()
	}

	if o.store != nil {
		o.store.SaveTrade(&storage.HedgeTrade{
			Symbol:       order.Symbol,
			VenueOrderID: order.VenueOrderID,
			Size:         order.Size,
			FilledSize:   order.FilledSize,
			LimitPrice:   order.LimitPrice,
			AvgPrice:     order.AvgPrice,
			State:        string(order.State),
			Reason:       string(order.Reason),
			RejectReason: order.RejectReason,
			CreatedAt:    order.CreatedAt,
		})
	}
	if o.notifier != nil {
		o.notifier.NotifyOrder(order)
	}
}

func (o *Orchestrator) setState(s CycleState) {
	o.mu.Lock()
	// Shutdown wins over any in-flight phase change.
	if o.state != StateShuttingDown {
		o.state = s
	}
	o.mu.Unlock()
}

func (o *Orchestrator) notifyError(err error) {
	if o.notifier != nil {
		o.notifier.NotifyError(err)
	}
}

func (o *Orchestrator) notifyHighRisk(m types.RiskMetrics) {
	if o.notifier != nil {
		o.notifier.NotifyHighRisk(m)
	}
}
