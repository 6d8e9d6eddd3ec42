package venue

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exec"
	"github.com/web3guy0/deltahedge/internal/retry"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HYPERLIQUID VENUE CLIENT
// ═══════════════════════════════════════════════════════════════════════════════
//
// Perp venue for the hedge leg. Reads go through the /info endpoint, orders
// through /exchange with a signed action payload.
//
// In dry-run mode nothing touches the network for orders: fills simulate at
// the limit price and the position is tracked in memory, so the whole
// decision loop can run against live market reads without trading.
//
// ═══════════════════════════════════════════════════════════════════════════════

// Config for the Hyperliquid client.
type Config struct {
	APIURL     string
	PrivateKey string // hex, empty in dry-run
	DryRun     bool
}

// Hyperliquid implements the executor's venue surface against the
// Hyperliquid perp API.
type Hyperliquid struct {
	apiURL     string
	privateKey *ecdsa.PrivateKey
	address    string
	dryRun     bool
	httpClient *http.Client
	retryCfg   retry.Config

	mu          sync.RWMutex
	simPosition map[string]decimal.Decimal // dry-run positions by symbol
}

// NewHyperliquid creates the venue client. A private key is required for
// live trading; dry-run works without one.
func NewHyperliquid(cfg Config) (*Hyperliquid, error) {
	h := &Hyperliquid{
		apiURL:      cfg.APIURL,
		dryRun:      cfg.DryRun,
		httpClient:  &http.Client{Timeout: 30 * time.Second},
		retryCfg:    retry.DefaultConfig(),
		simPosition: make(map[string]decimal.Decimal),
	}

	if cfg.PrivateKey != "" {
		pk, err := crypto.HexToECDSA(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("invalid private key: %w", err)
		}
		h.privateKey = pk
		h.address = crypto.PubkeyToAddress(pk.PublicKey).Hex()
	} else if !cfg.DryRun {
		return nil, fmt.Errorf("live trading requires HYPERLIQUID_PRIVATE_KEY")
	}

	mode := "LIVE"
	if cfg.DryRun {
		mode = "DRY RUN"
	}
	log.Info().
		Str("mode", mode).
		Str("address", h.address).
		Msg("🚀 Hyperliquid client initialized")

	return h, nil
}

// MidPrice returns the current mid for a symbol from the allMids snapshot.
func (h *Hyperliquid) MidPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return retry.DoWithResult(ctx, h.retryCfg, "mid_price", func() (decimal.Decimal, error) {
		resp, err := h.info(ctx, map[string]any{"type": "allMids"})
		if err != nil {
			return decimal.Zero, err
		}

		var mids map[string]string
		if err := json.Unmarshal(resp, &mids); err != nil {
			return decimal.Zero, fmt.Errorf("parse allMids: %w", err)
		}

		raw, ok := mids[symbol]
		if !ok {
			return decimal.Zero, fmt.Errorf("no mid for symbol %s", symbol)
		}

		mid, err := decimal.NewFromString(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse mid %q: %w", raw, err)
		}
		return mid, nil
	})
}

type clearinghouseState struct {
	Withdrawable   string `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin string `json:"coin"`
			Szi  string `json:"szi"`
		} `json:"position"`
	} `json:"assetPositions"`
}

// AvailableMargin returns the withdrawable balance, the capital free to back
// new orders.
func (h *Hyperliquid) AvailableMargin(ctx context.Context) (decimal.Decimal, error) {
	if h.dryRun && h.address == "" {
		// No account to query; simulate a deep-pocketed one.
		return decimal.NewFromInt(1_000_000), nil
	}

	state, err := h.fetchState(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	margin, err := decimal.NewFromString(state.Withdrawable)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse withdrawable %q: %w", state.Withdrawable, err)
	}
	return margin, nil
}

// Position returns the signed perp position for a symbol, zero if flat. Used
// at startup to reconcile in-memory hedge state with the venue.
func (h *Hyperliquid) Position(ctx context.Context, symbol string) (decimal.Decimal, error) {
	if h.dryRun {
		h.mu.RLock()
		defer h.mu.RUnlock()
		return h.simPosition[symbol], nil
	}

	state, err := h.fetchState(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	for _, ap := range state.AssetPositions {
		if ap.Position.Coin != symbol {
			continue
		}
		size, err := decimal.NewFromString(ap.Position.Szi)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parse position size %q: %w", ap.Position.Szi, err)
		}
		return size, nil
	}
	return decimal.Zero, nil
}

// PlaceLimitOrder submits a GTC limit order and reports how much filled.
func (h *Hyperliquid) PlaceLimitOrder(ctx context.Context, symbol string, size, limitPrice decimal.Decimal) (exec.Fill, error) {
	if h.dryRun {
		return h.simulateFill(symbol, size, limitPrice), nil
	}

	isBuy := size.Sign() > 0
	action := map[string]any{
		"type": "order",
		"orders": []map[string]any{{
			"coin":    symbol,
			"is_buy":  isBuy,
			"sz":      size.Abs().String(),
			"limitPx": limitPrice.String(),
			"orderType": map[string]any{
				"limit": map[string]any{"tif": "Gtc"},
			},
			"reduceOnly": false,
		}},
	}

	return retry.DoWithResult(ctx, h.retryCfg, "place_order", func() (exec.Fill, error) {
		resp, err := h.exchange(ctx, action)
		if err != nil {
			return exec.Fill{}, err
		}

		var result struct {
			Status   string `json:"status"`
			Response struct {
				Data struct {
					Statuses []struct {
						Filled *struct {
							TotalSz string `json:"totalSz"`
							AvgPx   string `json:"avgPx"`
							Oid     int64  `json:"oid"`
						} `json:"filled"`
						Resting *struct {
							Oid int64 `json:"oid"`
						} `json:"resting"`
						Error string `json:"error"`
					} `json:"statuses"`
				} `json:"data"`
			} `json:"response"`
		}
		if err := json.Unmarshal(resp, &result); err != nil {
			return exec.Fill{}, fmt.Errorf("parse order response: %w", err)
		}
		if result.Status != "ok" {
			return exec.Fill{}, fmt.Errorf("order rejected by venue: %s", string(resp))
		}
		if len(result.Response.Data.Statuses) == 0 {
			return exec.Fill{}, fmt.Errorf("empty order status")
		}

		st := result.Response.Data.Statuses[0]
		if st.Error != "" {
			return exec.Fill{}, fmt.Errorf("order error: %s", st.Error)
		}

		// Resting with no immediate fill still reports the resting size as
		// zero; the next cycle re-sizes against whatever fills by then.
		if st.Filled == nil {
			oid := ""
			if st.Resting != nil {
				oid = fmt.Sprintf("%d", st.Resting.Oid)
			}
			return exec.Fill{OrderID: oid, FilledSize: decimal.Zero, AvgPrice: decimal.Zero}, nil
		}

		filled, err := decimal.NewFromString(st.Filled.TotalSz)
		if err != nil {
			return exec.Fill{}, fmt.Errorf("parse filled size %q: %w", st.Filled.TotalSz, err)
		}
		avg, err := decimal.NewFromString(st.Filled.AvgPx)
		if err != nil {
			return exec.Fill{}, fmt.Errorf("parse avg price %q: %w", st.Filled.AvgPx, err)
		}

		return exec.Fill{
			OrderID:    fmt.Sprintf("%d", st.Filled.Oid),
			FilledSize: filled,
			AvgPrice:   avg,
		}, nil
	})
}

func (h *Hyperliquid) simulateFill(symbol string, size, limitPrice decimal.Decimal) exec.Fill {
	h.mu.Lock()
	h.simPosition[symbol] = h.simPosition[symbol].Add(size)
	h.mu.Unlock()

	orderID := fmt.Sprintf("DRY_%d", time.Now().UnixNano())
	log.Info().
		Str("order_id", orderID).
		Str("symbol", symbol).
		Str("size", size.String()).
		Str("limit", limitPrice.StringFixed(4)).
		Msg("📝 DRY RUN: simulated fill at limit")

	return exec.Fill{
		OrderID:    orderID,
		FilledSize: size.Abs(),
		AvgPrice:   limitPrice,
	}
}

func (h *Hyperliquid) fetchState(ctx context.Context) (*clearinghouseState, error) {
	return retry.DoWithResult(ctx, h.retryCfg, "clearinghouse_state", func() (*clearinghouseState, error) {
		resp, err := h.info(ctx, map[string]any{
			"type": "clearinghouseState",
			"user": h.address,
		})
		if err != nil {
			return nil, err
		}

		var state clearinghouseState
		if err := json.Unmarshal(resp, &state); err != nil {
			return nil, fmt.Errorf("parse clearinghouse state: %w", err)
		}
		return &state, nil
	})
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

func (h *Hyperliquid) info(ctx context.Context, body map[string]any) ([]byte, error) {
	return h.post(ctx, "/info", body)
}

func (h *Hyperliquid) exchange(ctx context.Context, action map[string]any) ([]byte, error) {
	nonce := time.Now().UnixMilli()
	signature, err := h.signAction(action, nonce)
	if err != nil {
		return nil, fmt.Errorf("sign action: %w", err)
	}

	return h.post(ctx, "/exchange", map[string]any{
		"action":    action,
		"nonce":     nonce,
		"signature": signature,
	})
}

func (h *Hyperliquid) post(ctx context.Context, path string, body map[string]any) ([]byte, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.apiURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	return respBody, nil
}

func (h *Hyperliquid) signAction(action map[string]any, nonce int64) (string, error) {
	if h.privateKey == nil {
		return "", fmt.Errorf("private key not loaded")
	}

	actionBytes, err := json.Marshal(action)
	if err != nil {
		return "", err
	}
	payload := append(actionBytes, []byte(fmt.Sprintf("%d", nonce))...)
	hash := crypto.Keccak256(payload)

	sig, err := crypto.Sign(hash, h.privateKey)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(sig), nil
}
