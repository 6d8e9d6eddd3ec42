package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exec"
	"github.com/web3guy0/deltahedge/positions"
	"github.com/web3guy0/deltahedge/risk"
	"github.com/web3guy0/deltahedge/storage"
	"github.com/web3guy0/deltahedge/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

// fakeSource serves scripted positions.
type fakeSource struct {
	positions []types.Position
	err       error
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Fetch(ctx context.Context, wallet string) ([]types.Position, error) {
	return f.positions, f.err
}

// fakeVenue fills fully at the limit and tracks the venue-side position.
type fakeVenue struct {
	mid      decimal.Decimal
	margin   decimal.Decimal
	position decimal.Decimal
	placed   int
}

func (v *fakeVenue) MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return v.mid, nil
}

func (v *fakeVenue) AvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	return v.margin, nil
}

func (v *fakeVenue) PlaceLimitOrder(ctx context.Context, symbol string, size, limitPrice decimal.Decimal) (exec.Fill, error) {
	v.placed++
	v.position = v.position.Add(size)
	return exec.Fill{OrderID: "f-1", FilledSize: size.Abs(), AvgPrice: limitPrice}, nil
}

func (v *fakeVenue) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return v.position, nil
}

// recordingNotifier counts notifications per kind.
type recordingNotifier struct {
	orders int
	highs  int
	cycles int
	errs   int
}

func (n *recordingNotifier) NotifyOrder(order *exec.Order)      { n.orders++ }
func (n *recordingNotifier) NotifyHighRisk(m types.RiskMetrics) { n.highs++ }
func (n *recordingNotifier) NotifyCycle(r types.CycleReport)    { n.cycles++ }
func (n *recordingNotifier) NotifyError(err error)              { n.errs++ }

// recordingStore captures persistence calls.
type recordingStore struct {
	trades []storage.HedgeTrade
	cycles []types.CycleReport
}

func (s *recordingStore) SaveTrade(t *storage.HedgeTrade) { s.trades = append(s.trades, *t) }
func (s *recordingStore) SaveCycle(r types.CycleReport)   { s.cycles = append(s.cycles, r) }

// belowRangePosition yields delta = liquidity/20 with these bounds
// (1/sqrt(100) - 1/sqrt(400) = 0.05).
func belowRangePosition(id string, liquidity float64) types.Position {
	return types.Position{
		ID:            id,
		Liquidity:     dec(liquidity),
		LowerPrice:    dec(100),
		UpperPrice:    dec(400),
		CurrentPrice:  dec(50),
		TotalValueUSD: dec(liquidity).Mul(dec(0.05)).Mul(dec(50)),
	}
}

func newTestOrchestrator(sources []positions.Source, venue *fakeVenue, deltaThreshold float64, store Store) *Orchestrator {
	classifier := risk.Classifier{
		MaxImpermanentLoss: dec(0.05),
		MaxDeltaRatio:      dec(100), // delta risk not under test here
		MaxNegativePnL:     dec(1000),
	}
	calculator := risk.NewCalculator(classifier, dec(0.95), 1)
	sizer := risk.NewSizer(dec(deltaThreshold), dec(100))
	executor := exec.NewExecutor(venue, exec.Config{
		Symbol:            "ETH",
		MinOrderSize:      dec(0.001),
		MaxDailyTrades:    50,
		SlippageTolerance: dec(0.005),
	})

	return New(Config{
		Wallet:            "0xabc",
		Symbol:            "ETH",
		Interval:          time.Minute,
		DefaultVolatility: dec(0.5),
	}, sources, calculator, sizer, executor, venue, nil, store, nil)
}

func TestRunCycleHedgesAggregateDelta(t *testing.T) {
	// Two below-range positions: deltas 0.5 and 0.25, aggregate 0.75.
	src := &fakeSource{positions: []types.Position{
		belowRangePosition("p-1", 10),
		belowRangePosition("p-2", 5),
	}}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	store := &recordingStore{}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, store)

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	state := o.HedgeState()
	if !state.HedgePosition.Equal(dec(-0.75)) {
		t.Errorf("hedge = %v, want -0.75", state.HedgePosition)
	}
	if state.DailyTrades != 1 {
		t.Errorf("daily trades = %d, want 1", state.DailyTrades)
	}
	if !state.LastLPDelta.Equal(dec(0.75)) {
		t.Errorf("last LP delta = %v, want 0.75", state.LastLPDelta)
	}

	if len(store.trades) != 1 || store.trades[0].State != string(exec.StateFilled) {
		t.Errorf("stored trades = %+v", store.trades)
	}
	if len(store.cycles) != 1 {
		t.Fatalf("stored cycles = %d, want 1", len(store.cycles))
	}
	if store.cycles[0].HedgesExecuted != 1 {
		t.Errorf("report hedges = %d, want 1", store.cycles[0].HedgesExecuted)
	}
}

func TestRunCycleStaysInDeadband(t *testing.T) {
	src := &fakeSource{positions: []types.Position{belowRangePosition("p-1", 1)}} // delta 0.05
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.10, &recordingStore{})

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if venue.placed != 0 {
		t.Errorf("venue called %d times inside deadband", venue.placed)
	}
	if !o.HedgeState().HedgePosition.IsZero() {
		t.Errorf("hedge moved to %v without an order", o.HedgeState().HedgePosition)
	}
}

func TestRunCycleRebalanceRatioOverridesDeadband(t *testing.T) {
	// Delta 0.05 sits inside the 0.10 deadband, but against a 2.5 value book
	// at price 50 the ratio trigger forces the hedge anyway.
	src := &fakeSource{positions: []types.Position{belowRangePosition("p-1", 1)}}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.10, &recordingStore{})
	o.sizer = o.sizer.WithRebalanceRatio(dec(0.05))

	if err := o.RunCycle(context.Background()); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}

	if venue.placed != 1 {
		t.Fatalf("venue called %d times, want 1", venue.placed)
	}
	if !o.HedgeState().HedgePosition.Equal(dec(-0.05)) {
		t.Errorf("hedge = %v, want -0.05", o.HedgeState().HedgePosition)
	}
}

func TestRunCycleThrottlesCycleNotifications(t *testing.T) {
	src := &fakeSource{positions: []types.Position{belowRangePosition("p-1", 10)}}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, &recordingStore{})
	o.cfg.ReportEvery = time.Hour
	notifier := &recordingNotifier{}
	o.SetNotifier(notifier)
	ctx := context.Background()

	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	// First cycle reports immediately, the second lands inside the throttle.
	if notifier.cycles != 1 {
		t.Errorf("cycle notifications = %d, want 1", notifier.cycles)
	}
	// Order notifications are never throttled.
	if notifier.orders != 1 {
		t.Errorf("order notifications = %d, want 1", notifier.orders)
	}
}

func TestRunCycleSecondPassIsIdempotent(t *testing.T) {
	src := &fakeSource{positions: []types.Position{belowRangePosition("p-1", 10)}}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, &recordingStore{})
	ctx := context.Background()

	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	// The hedge landed on target in cycle one; cycle two must not churn.
	if venue.placed != 1 {
		t.Errorf("venue called %d times, want 1", venue.placed)
	}
	if !o.HedgeState().HedgePosition.Equal(dec(-0.5)) {
		t.Errorf("hedge = %v, want -0.5", o.HedgeState().HedgePosition)
	}
}

func TestRunCycleAbortsWhenAllSourcesFail(t *testing.T) {
	src := &fakeSource{err: errors.New("rpc down")}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, &recordingStore{})

	if err := o.RunCycle(context.Background()); err == nil {
		t.Fatal("expected cycle abort")
	}
	if venue.placed != 0 {
		t.Errorf("order placed on aborted cycle")
	}
}

func TestRunCycleUnwindsWhenPositionsGone(t *testing.T) {
	src := &fakeSource{positions: []types.Position{belowRangePosition("p-1", 10)}}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, &recordingStore{})
	ctx := context.Background()

	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("first cycle: %v", err)
	}

	// LP withdrawn: aggregate delta drops to zero, the hedge must flatten.
	src.positions = nil
	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("second cycle: %v", err)
	}

	if !o.HedgeState().HedgePosition.IsZero() {
		t.Errorf("hedge = %v after LP withdrawal, want flat", o.HedgeState().HedgePosition)
	}
}

func TestStartReconcilesVenuePosition(t *testing.T) {
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000), position: dec(-0.3)}
	// The failing source keeps the first background cycle from touching the
	// hedge while the test inspects the reconciled state.
	src := &fakeSource{err: errors.New("rpc down")}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, &recordingStore{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := o.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer o.Stop(context.Background())

	if !o.HedgeState().HedgePosition.Equal(dec(-0.3)) {
		t.Errorf("reconciled hedge = %v, want -0.3", o.HedgeState().HedgePosition)
	}
}

func TestCloseHedgeFlattens(t *testing.T) {
	src := &fakeSource{positions: []types.Position{belowRangePosition("p-1", 10)}}
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	store := &recordingStore{}
	o := newTestOrchestrator([]positions.Source{src}, venue, 0.01, store)
	ctx := context.Background()

	if err := o.RunCycle(ctx); err != nil {
		t.Fatalf("RunCycle: %v", err)
	}
	if err := o.CloseHedge(ctx); err != nil {
		t.Fatalf("CloseHedge: %v", err)
	}

	if !o.HedgeState().HedgePosition.IsZero() {
		t.Errorf("hedge = %v after close, want flat", o.HedgeState().HedgePosition)
	}
	if !venue.position.IsZero() {
		t.Errorf("venue position = %v after close", venue.position)
	}

	last := store.trades[len(store.trades)-1]
	if last.Reason != string(types.ReasonEmergencyClose) {
		t.Errorf("last trade reason = %q", last.Reason)
	}
}

func TestCloseHedgeNoopWhenFlat(t *testing.T) {
	venue := &fakeVenue{mid: dec(50), margin: dec(1_000_000)}
	o := newTestOrchestrator([]positions.Source{&fakeSource{}}, venue, 0.01, &recordingStore{})

	if err := o.CloseHedge(context.Background()); err != nil {
		t.Fatalf("CloseHedge: %v", err)
	}
	if venue.placed != 0 {
		t.Errorf("order placed while already flat")
	}
}
