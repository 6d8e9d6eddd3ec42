package positions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exposure"
	"github.com/web3guy0/deltahedge/internal/retry"
	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// SICKLE POSITION SOURCE - vfat.io API
// ═══════════════════════════════════════════════════════════════════════════════
//
// Positions managed through vfat Sickle contracts are not owned by the
// wallet directly, so NFT enumeration misses them. The vfat API reports them
// pre-normalized per wallet instead.
//
// ═══════════════════════════════════════════════════════════════════════════════

// SickleSource reads Sickle-managed positions from the vfat API.
type SickleSource struct {
	baseURL    string
	httpClient *http.Client
	retryCfg   retry.Config
}

// NewSickle creates the vfat API source.
func NewSickle(baseURL string) *SickleSource {
	return &SickleSource{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retryCfg:   retry.DefaultConfig(),
	}
}

func (s *SickleSource) Name() string { return "sickle" }

type sicklePosition struct {
	ID             string `json:"id"`
	Protocol       string `json:"protocol"`
	Token0Symbol   string `json:"token0Symbol"`
	Token1Symbol   string `json:"token1Symbol"`
	Token0Decimals int    `json:"token0Decimals"`
	Token1Decimals int    `json:"token1Decimals"`

	Liquidity    string `json:"liquidity"`
	TickLower    int    `json:"tickLower"`
	TickUpper    int    `json:"tickUpper"`
	CurrentPrice string `json:"currentPrice"`

	UnclaimedFees0 string `json:"unclaimedFees0"`
	UnclaimedFees1 string `json:"unclaimedFees1"`
	ValueUSD       string `json:"valueUsd"`
}

// Fetch pulls the wallet's Sickle positions and normalizes them.
func (s *SickleSource) Fetch(ctx context.Context, wallet string) ([]types.Position, error) {
	url := fmt.Sprintf("%s/v1/positions?user=%s", s.baseURL, wallet)

	body, err := retry.DoWithResult(ctx, s.retryCfg, "sickle_positions", func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(raw))
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}

	var records []sicklePosition
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("parse sickle response: %w", err)
	}

	positions := make([]types.Position, 0, len(records))
	for _, r := range records {
		pos, err := s.normalize(r)
		if err != nil {
			return nil, fmt.Errorf("position %s: %w", r.ID, err)
		}
		if pos.Liquidity.Sign() > 0 {
			positions = append(positions, pos)
		}
	}
	return positions, nil
}

func (s *SickleSource) normalize(r sicklePosition) (types.Position, error) {
	liquidity, err := decimal.NewFromString(r.Liquidity)
	if err != nil {
		return types.Position{}, fmt.Errorf("liquidity %q: %w", r.Liquidity, err)
	}
	currentPrice, err := decimal.NewFromString(r.CurrentPrice)
	if err != nil {
		return types.Position{}, fmt.Errorf("price %q: %w", r.CurrentPrice, err)
	}
	fees0, err := decimal.NewFromString(r.UnclaimedFees0)
	if err != nil {
		return types.Position{}, fmt.Errorf("fees0 %q: %w", r.UnclaimedFees0, err)
	}
	fees1, err := decimal.NewFromString(r.UnclaimedFees1)
	if err != nil {
		return types.Position{}, fmt.Errorf("fees1 %q: %w", r.UnclaimedFees1, err)
	}
	value, err := decimal.NewFromString(r.ValueUSD)
	if err != nil {
		return types.Position{}, fmt.Errorf("value %q: %w", r.ValueUSD, err)
	}

	lowerPrice := exposure.TickToPrice(r.TickLower, r.Token0Decimals, r.Token1Decimals)
	upperPrice := exposure.TickToPrice(r.TickUpper, r.Token0Decimals, r.Token1Decimals)
	amount0, amount1 := exposure.Amounts(liquidity, lowerPrice, upperPrice, currentPrice)

	return types.Position{
		ID:             fmt.Sprintf("sickle-%s", r.ID),
		Protocol:       r.Protocol,
		Token0Symbol:   r.Token0Symbol,
		Token1Symbol:   r.Token1Symbol,
		Token0Decimals: r.Token0Decimals,
		Token1Decimals: r.Token1Decimals,
		Liquidity:      liquidity,
		TickLower:      r.TickLower,
		TickUpper:      r.TickUpper,
		LowerPrice:     lowerPrice,
		UpperPrice:     upperPrice,
		CurrentPrice:   currentPrice,
		Token0Amount:   amount0,
		Token1Amount:   amount1,
		UnclaimedFees0: fees0,
		UnclaimedFees1: fees1,
		TotalValueUSD:  value,
	}, nil
}
