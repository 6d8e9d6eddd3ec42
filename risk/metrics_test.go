package risk

import (
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/types"
)

func dec(f float64) decimal.Decimal { return decimal.NewFromFloat(f) }

func TestImpermanentLoss(t *testing.T) {
	tests := []struct {
		name    string
		entry   float64
		current float64
		want    float64
	}{
		{"no move no loss", 2000, 2000, 0},
		{"2x move", 2000, 4000, 1 - 2*math.Sqrt(2)/3}, // ~5.72%
		{"halving mirrors doubling", 2000, 1000, 1 - 2*math.Sqrt(0.5)/1.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ImpermanentLoss(dec(tt.entry), dec(tt.current)).InexactFloat64()
			if math.Abs(got-math.Abs(tt.want)) > 1e-9 {
				t.Errorf("IL = %v, want %v", got, math.Abs(tt.want))
			}
		})
	}
}

func TestImpermanentLossSoftFailure(t *testing.T) {
	tests := []struct {
		name    string
		entry   float64
		current float64
	}{
		{"zero entry", 0, 2000},
		{"zero current", 2000, 0},
		{"negative entry", -1, 2000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ImpermanentLoss(dec(tt.entry), dec(tt.current)); !got.IsZero() {
				t.Errorf("want zero, got %v", got)
			}
		})
	}
}

func TestConcentratedILGuards(t *testing.T) {
	tests := []struct {
		name                          string
		current, lower, upper, entry float64
	}{
		{"equal bounds", 2000, 1800, 1800, 1900},
		{"inverted bounds", 2000, 2500, 1500, 1900},
		{"zero current price", 0, 1500, 2500, 1900},
		{"zero entry price", 2000, 1500, 2500, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConcentratedIL(dec(tt.current), dec(tt.lower), dec(tt.upper), dec(tt.entry))
			if !got.IsZero() {
				t.Errorf("want zero IL, got %v", got)
			}
		})
	}
}

func TestConcentratedILAmplifiesInRange(t *testing.T) {
	current := dec(2000)
	entry := dec(1800)
	lower := dec(1500)
	upper := dec(2500)

	base := ImpermanentLoss(entry, current)
	concentrated := ConcentratedIL(current, lower, upper, entry)

	// Range width 1000 around mid 2000 → concentration factor 2/(1000/2000) = 4.
	want := base.Mul(decimal.NewFromInt(4))
	if !concentrated.Sub(want).Abs().LessThan(dec(1e-12)) {
		t.Errorf("concentrated IL = %v, want %v", concentrated, want)
	}
}

func TestConcentratedILOutOfRangeUsesBase(t *testing.T) {
	base := ImpermanentLoss(dec(1800), dec(3000))
	got := ConcentratedIL(dec(3000), dec(1500), dec(2500), dec(1800))
	if !got.Equal(base) {
		t.Errorf("out-of-range IL = %v, want plain IL %v", got, base)
	}
}

func TestFeeValue(t *testing.T) {
	// 0.5 token0 at 2000 + 300 token1 = 1300 quote.
	got := FeeValue(dec(0.5), dec(300), dec(2000))
	if !got.Equal(dec(1300)) {
		t.Errorf("fee value = %v, want 1300", got)
	}
}

func TestValueAtRiskZMapping(t *testing.T) {
	tests := []struct {
		name       string
		confidence float64
		wantZ      float64
	}{
		{"99 percent", 0.99, 2.33},
		{"95 percent", 0.95, 1.65},
		{"90 percent", 0.90, 1.28},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewCalculator(Classifier{}, dec(tt.confidence), 1)
			got := c.ValueAtRisk(dec(100000), dec(0.5)).InexactFloat64()
			want := 100000 * 0.5 * math.Sqrt(1.0/365.0) * tt.wantZ
			if math.Abs(got-want) > 1e-6 {
				t.Errorf("VaR = %v, want %v", got, want)
			}
		})
	}
}

func TestValueAtRiskHorizonScaling(t *testing.T) {
	oneDay := NewCalculator(Classifier{}, dec(0.95), 1)
	fourDays := NewCalculator(Classifier{}, dec(0.95), 4)

	v1 := oneDay.ValueAtRisk(dec(100000), dec(0.5)).InexactFloat64()
	v4 := fourDays.ValueAtRisk(dec(100000), dec(0.5)).InexactFloat64()

	// sqrt-of-time: 4 days = 2x the 1-day VaR.
	if math.Abs(v4-2*v1) > 1e-6 {
		t.Errorf("4-day VaR %v, want 2x 1-day VaR %v", v4, 2*v1)
	}
}

func TestValueAtRiskDegenerate(t *testing.T) {
	c := NewCalculator(Classifier{}, dec(0.95), 1)
	if got := c.ValueAtRisk(decimal.Zero, dec(0.5)); !got.IsZero() {
		t.Errorf("zero value VaR = %v, want 0", got)
	}
	if got := c.ValueAtRisk(dec(100000), decimal.Zero); !got.IsZero() {
		t.Errorf("zero vol VaR = %v, want 0", got)
	}
}

func TestAssessBuildsFullSnapshot(t *testing.T) {
	classifier := Classifier{
		MaxImpermanentLoss: dec(0.05),
		MaxDeltaRatio:      dec(0.2),
		MaxNegativePnL:     dec(100),
	}
	c := NewCalculator(classifier, dec(0.95), 1)

	pos := types.Position{
		ID:             "uniswap-42",
		Liquidity:      dec(1000),
		LowerPrice:     dec(1500),
		UpperPrice:     dec(2500),
		CurrentPrice:   dec(2000),
		UnclaimedFees0: dec(0.01),
		UnclaimedFees1: dec(20),
		TotalValueUSD:  dec(50000),
	}

	m := c.Assess(pos, dec(0.5))

	if m.PositionID != "uniswap-42" {
		t.Errorf("position ID = %q", m.PositionID)
	}
	if m.Delta.Sign() <= 0 {
		t.Errorf("in-range position should carry positive delta, got %v", m.Delta)
	}
	if m.Gamma.Sign() >= 0 {
		t.Errorf("in-range gamma should be negative, got %v", m.Gamma)
	}
	// Entry approximated by current price → zero IL, fees dominate PnL.
	if !m.ImpermanentLoss.IsZero() {
		t.Errorf("IL = %v, want 0 at entry==current", m.ImpermanentLoss)
	}
	if !m.NetPnL.Equal(m.FeeValue) {
		t.Errorf("net PnL %v should equal fee value %v with zero IL", m.NetPnL, m.FeeValue)
	}
	if m.ValueAtRisk.Sign() <= 0 {
		t.Errorf("VaR = %v, want positive", m.ValueAtRisk)
	}
	if m.Level == "" {
		t.Error("risk level not set")
	}
}
