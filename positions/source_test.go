package positions

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/types"
)

type fakeSource struct {
	name      string
	positions []types.Position
	err       error
}

func (f *fakeSource) Name() string { return f.name }

func (f *fakeSource) Fetch(ctx context.Context, wallet string) ([]types.Position, error) {
	return f.positions, f.err
}

func pos(id string) types.Position {
	return types.Position{ID: id, Liquidity: decimal.NewFromInt(1)}
}

func TestFetchAllMergesSources(t *testing.T) {
	sources := []Source{
		&fakeSource{name: "uniswap", positions: []types.Position{pos("u-1"), pos("u-2")}},
		&fakeSource{name: "aerodrome", positions: []types.Position{pos("a-1")}},
	}

	got, err := FetchAll(context.Background(), "0xabc", sources)
	if err != nil {
		t.Fatalf("FetchAll: %v", err)
	}
	if len(got) != 3 {
		t.Errorf("merged %d positions, want 3", len(got))
	}
}

func TestFetchAllToleratesPartialFailure(t *testing.T) {
	sources := []Source{
		&fakeSource{name: "uniswap", positions: []types.Position{pos("u-1")}},
		&fakeSource{name: "aerodrome", err: errors.New("rpc down")},
	}

	got, err := FetchAll(context.Background(), "0xabc", sources)
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(got) != 1 {
		t.Errorf("got %d positions, want 1 from the healthy source", len(got))
	}
}

func TestFetchAllFailsWhenAllSourcesFail(t *testing.T) {
	sources := []Source{
		&fakeSource{name: "uniswap", err: errors.New("rpc down")},
		&fakeSource{name: "aerodrome", err: errors.New("timeout")},
	}

	if _, err := FetchAll(context.Background(), "0xabc", sources); err == nil {
		t.Error("expected error when every source fails")
	}
}

func TestFetchAllNoSources(t *testing.T) {
	if _, err := FetchAll(context.Background(), "0xabc", nil); err == nil {
		t.Error("expected error with no sources")
	}
}
