package feeds

import (
	"math"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// VOLATILITY ESTIMATOR - Realized vol from streamed mids
// ═══════════════════════════════════════════════════════════════════════════════
//
// Samples the mid at a fixed cadence, keeps a rolling window of log returns
// and annualizes their standard deviation. Until the window has enough
// samples the configured default carries the VaR calculation.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	minutesPerYear = 365.25 * 24 * 60
)

// Volatility is a rolling realized-volatility estimator.
type Volatility struct {
	mu sync.RWMutex

	sampleEvery time.Duration
	window      int
	fallback    decimal.Decimal

	lastSample time.Time
	lastPrice  float64
	returns    []float64
}

// NewVolatility creates an estimator sampling at the given cadence over a
// rolling window. fallback is returned until the window is half full.
func NewVolatility(sampleEvery time.Duration, window int, fallback decimal.Decimal) *Volatility {
	return &Volatility{
		sampleEvery: sampleEvery,
		window:      window,
		fallback:    fallback,
	}
}

// Observe feeds one mid price observation. Prices arriving faster than the
// sample cadence are ignored so burst traffic cannot compress the window.
func (v *Volatility) Observe(mid decimal.Decimal, now time.Time) {
	price := mid.InexactFloat64()
	if price <= 0 {
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if !v.lastSample.IsZero() && now.Sub(v.lastSample) < v.sampleEvery {
		return
	}

	if v.lastPrice > 0 {
		v.returns = append(v.returns, math.Log(price/v.lastPrice))
		if len(v.returns) > v.window {
			v.returns = v.returns[len(v.returns)-v.window:]
		}
	}

	v.lastSample = now
	v.lastPrice = price
}

// Annualized returns the realized annualized volatility, or the fallback
// when the sample window has not warmed up yet.
func (v *Volatility) Annualized() decimal.Decimal {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if len(v.returns) < v.window/2 || len(v.returns) < 2 {
		return v.fallback
	}

	mean := 0.0
	for _, r := range v.returns {
		mean += r
	}
	mean /= float64(len(v.returns))

	variance := 0.0
	for _, r := range v.returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(v.returns) - 1)

	// Scale per-sample stddev to annual terms by sampling frequency.
	samplesPerYear := minutesPerYear / v.sampleEvery.Minutes()
	annualized := math.Sqrt(variance) * math.Sqrt(samplesPerYear)

	return decimal.NewFromFloat(annualized)
}
