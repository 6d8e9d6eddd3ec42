package risk

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/types"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name         string
		threshold    float64
		maxSize      float64
		lpDelta      float64
		currentHedge float64
		wantAdj      float64
		wantReason   types.HedgeReason
	}{
		{
			// Net exposure 0.20 - 0.15 = 0.05; adjustment shorts the remainder.
			"partial hedge topped up, not double counted",
			0.01, 10, 0.20, -0.15, -0.05, types.ReasonRebalance,
		},
		{
			"small imbalance inside deadband",
			0.10, 10, 0.03, 0, 0, types.ReasonNoAction,
		},
		{
			"fresh hedge from flat",
			0.01, 10, 0.50, 0, -0.50, types.ReasonThresholdBreach,
		},
		{
			"over-hedged position unwinds",
			0.01, 10, 0.10, -0.30, 0.20, types.ReasonRebalance,
		},
		{
			"short adjustment clamped to max size",
			0.01, 5, 20, 0, -5, types.ReasonThresholdBreach,
		},
		{
			"long adjustment clamped to max size",
			0.01, 5, -20, 0, 5, types.ReasonThresholdBreach,
		},
		{
			"perfectly hedged",
			0.01, 10, 0.25, -0.25, 0, types.ReasonNoAction,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSizer(dec(tt.threshold), dec(tt.maxSize))
			got := s.Decide(dec(tt.lpDelta), dec(tt.currentHedge))

			if !got.Adjustment.Equal(dec(tt.wantAdj)) {
				t.Errorf("adjustment = %v, want %v", got.Adjustment, tt.wantAdj)
			}
			if got.Reason != tt.wantReason {
				t.Errorf("reason = %v, want %v", got.Reason, tt.wantReason)
			}
		})
	}
}

func TestDecideOnAggregatedDeltas(t *testing.T) {
	// Portfolio of three positions with deltas 0.10, 0.05 and -0.02.
	lpDelta := dec(0.10).Add(dec(0.05)).Add(dec(-0.02))
	s := NewSizer(dec(0.05), dec(10))

	// An existing -0.10 hedge leaves net 0.03, inside the deadband.
	if got := s.Decide(lpDelta, dec(-0.10)); got.Reason != types.ReasonNoAction {
		t.Errorf("hedged portfolio: reason = %v, want no action", got.Reason)
	}

	// From flat the full aggregate gets shorted.
	got := s.Decide(lpDelta, decimal.Zero)
	if !got.Adjustment.Equal(dec(-0.13)) {
		t.Errorf("flat portfolio: adjustment = %v, want -0.13", got.Adjustment)
	}
	if got.Reason != types.ReasonThresholdBreach {
		t.Errorf("flat portfolio: reason = %v, want threshold breach", got.Reason)
	}
}

func TestDecideForPortfolioRatioTrigger(t *testing.T) {
	// Imbalance 0.05 sits inside the 0.10 deadband, but at price 2000 its
	// notional is 100 against a 500 portfolio: ratio 0.2 > 0.05 trigger.
	s := NewSizer(dec(0.10), dec(10)).WithRebalanceRatio(dec(0.05))

	got := s.DecideForPortfolio(dec(0.05), decimal.Zero, dec(2000), dec(500))
	if !got.Adjustment.Equal(dec(-0.05)) {
		t.Errorf("adjustment = %v, want -0.05", got.Adjustment)
	}
	if got.Reason != types.ReasonRebalance {
		t.Errorf("reason = %v, want rebalance", got.Reason)
	}

	// Same imbalance against a large book stays deadbanded: ratio 0.001.
	got = s.DecideForPortfolio(dec(0.05), decimal.Zero, dec(2000), dec(100_000))
	if got.Reason != types.ReasonNoAction {
		t.Errorf("large portfolio: reason = %v, want no action", got.Reason)
	}
}

func TestDecideForPortfolioRatioDisabled(t *testing.T) {
	tests := []struct {
		name                  string
		ratio                 float64
		price, portfolioValue float64
	}{
		{"no ratio configured", 0, 2000, 500},
		{"zero price", 0.05, 0, 500},
		{"zero portfolio value", 0.05, 2000, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSizer(dec(0.10), dec(10)).WithRebalanceRatio(dec(tt.ratio))
			got := s.DecideForPortfolio(dec(0.05), decimal.Zero, dec(tt.price), dec(tt.portfolioValue))
			if got.Reason != types.ReasonNoAction {
				t.Errorf("reason = %v, want no action with trigger disabled", got.Reason)
			}
		})
	}
}

func TestDecideWithNonZeroTarget(t *testing.T) {
	// Target +0.10 net long: lpDelta 0.30, hedge -0.05 → net 0.25, adjust -0.15.
	s := NewSizer(dec(0.01), dec(10)).WithTarget(dec(0.10))
	got := s.Decide(dec(0.30), dec(-0.05))

	if !got.Adjustment.Equal(dec(-0.15)) {
		t.Errorf("adjustment = %v, want -0.15", got.Adjustment)
	}
	if !got.TargetDelta.Equal(dec(0.10)) {
		t.Errorf("target = %v, want 0.10", got.TargetDelta)
	}
}

func TestDecideIsIdempotentAfterFill(t *testing.T) {
	// Applying the adjustment fully must put the next cycle in the deadband.
	s := NewSizer(dec(0.01), dec(10))
	first := s.Decide(dec(0.40), dec(-0.10))

	newHedge := dec(-0.10).Add(first.Adjustment)
	second := s.Decide(dec(0.40), newHedge)

	if second.Reason != types.ReasonNoAction {
		t.Errorf("second cycle reason = %v, want no action", second.Reason)
	}
	if !second.Adjustment.IsZero() {
		t.Errorf("second cycle adjustment = %v, want 0", second.Adjustment)
	}
}

func TestEmergencyClose(t *testing.T) {
	tests := []struct {
		name  string
		hedge float64
		want  float64
	}{
		{"short hedge closed with a buy", -0.75, 0.75},
		{"long hedge closed with a sell", 0.40, -0.40},
		{"flat hedge closes with zero", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EmergencyClose(dec(tt.hedge))
			if !got.Adjustment.Equal(dec(tt.want)) {
				t.Errorf("adjustment = %v, want %v", got.Adjustment, tt.want)
			}
			if got.Reason != types.ReasonEmergencyClose {
				t.Errorf("reason = %v, want emergency close", got.Reason)
			}
		})
	}
}

func TestEmergencyCloseIgnoresDeadband(t *testing.T) {
	// A tiny residual hedge still gets flattened even though Decide would
	// leave it alone.
	hedge := dec(0.001)
	s := NewSizer(dec(0.10), dec(10))

	if d := s.Decide(decimal.Zero, hedge); d.Reason != types.ReasonNoAction {
		t.Fatalf("sanity: Decide should deadband, got %v", d.Reason)
	}
	if got := EmergencyClose(hedge); !got.Adjustment.Equal(dec(-0.001)) {
		t.Errorf("emergency adjustment = %v, want -0.001", got.Adjustment)
	}
}
