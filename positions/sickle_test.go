package positions

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSickleFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("user"); got != "0xabc" {
			t.Errorf("user = %q, want 0xabc", got)
		}
		w.Write([]byte(`[
			{"id":"7","protocol":"aerodrome","token0Symbol":"WETH","token1Symbol":"USDC",
			 "token0Decimals":18,"token1Decimals":6,
			 "liquidity":"1000","tickLower":-203000,"tickUpper":-199000,
			 "currentPrice":"2000","unclaimedFees0":"0.01","unclaimedFees1":"25","valueUsd":"50000"},
			{"id":"8","protocol":"aerodrome","token0Symbol":"WETH","token1Symbol":"USDC",
			 "token0Decimals":18,"token1Decimals":6,
			 "liquidity":"0","tickLower":-203000,"tickUpper":-199000,
			 "currentPrice":"2000","unclaimedFees0":"0","unclaimedFees1":"0","valueUsd":"0"}
		]`))
	}))
	defer srv.Close()

	src := NewSickle(srv.URL)
	got, err := src.Fetch(context.Background(), "0xabc")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	// The zero-liquidity record is filtered out.
	if len(got) != 1 {
		t.Fatalf("got %d positions, want 1", len(got))
	}

	p := got[0]
	if p.ID != "sickle-7" {
		t.Errorf("ID = %q", p.ID)
	}
	if !p.TotalValueUSD.Equal(decimal.NewFromInt(50000)) {
		t.Errorf("value = %v, want 50000", p.TotalValueUSD)
	}
	if !p.CurrentPrice.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("price = %v", p.CurrentPrice)
	}
	if p.LowerPrice.GreaterThanOrEqual(p.UpperPrice) {
		t.Errorf("price bounds not ordered: [%v, %v]", p.LowerPrice, p.UpperPrice)
	}
}

func TestSickleFetchHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	src := NewSickle(srv.URL)
	// Shrink the retry schedule so the failing test path stays fast.
	src.retryCfg.InitialDelay = 0
	src.retryCfg.MaxAttempts = 1

	if _, err := src.Fetch(context.Background(), "0xabc"); err == nil {
		t.Error("expected error on HTTP 503")
	}
}
