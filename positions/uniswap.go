package positions

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exposure"
	"github.com/web3guy0/deltahedge/internal/retry"
	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ON-CHAIN CL POSITION SOURCE - NFT position manager reads
// ═══════════════════════════════════════════════════════════════════════════════
//
// Uniswap v3 and Aerodrome Slipstream share the ERC-721 position manager
// shape: enumerate the wallet's NFTs, read each position struct, resolve the
// pool for its current price. The protocols differ only in the fifth field
// of positions() (fee vs tickSpacing) and the getPool key, so both ride the
// same source with protocol-specific ABI strings.
//
// ═══════════════════════════════════════════════════════════════════════════════

const uniswapManagerABI = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"tokenOfOwnerByIndex","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"index","type":"uint256"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"positions","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[
		{"name":"nonce","type":"uint96"},{"name":"operator","type":"address"},
		{"name":"token0","type":"address"},{"name":"token1","type":"address"},
		{"name":"fee","type":"uint24"},
		{"name":"tickLower","type":"int24"},{"name":"tickUpper","type":"int24"},
		{"name":"liquidity","type":"uint128"},
		{"name":"feeGrowthInside0LastX128","type":"uint256"},{"name":"feeGrowthInside1LastX128","type":"uint256"},
		{"name":"tokensOwed0","type":"uint128"},{"name":"tokensOwed1","type":"uint128"}]}
]`

const uniswapFactoryABI = `[
	{"name":"getPool","type":"function","stateMutability":"view","inputs":[{"name":"tokenA","type":"address"},{"name":"tokenB","type":"address"},{"name":"fee","type":"uint24"}],"outputs":[{"name":"","type":"address"}]}
]`

const uniswapPoolABI = `[
	{"name":"slot0","type":"function","stateMutability":"view","inputs":[],"outputs":[
		{"name":"sqrtPriceX96","type":"uint160"},{"name":"tick","type":"int24"},
		{"name":"observationIndex","type":"uint16"},{"name":"observationCardinality","type":"uint16"},
		{"name":"observationCardinalityNext","type":"uint16"},{"name":"feeProtocol","type":"uint8"},
		{"name":"unlocked","type":"bool"}]}
]`

const erc20ABI = `[
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

type tokenMeta struct {
	symbol   string
	decimals int
}

// chainSource reads CL positions from an NFT position manager contract.
type chainSource struct {
	name    string
	client  *ethclient.Client
	manager common.Address
	factory common.Address

	managerABI abi.ABI
	factoryABI abi.ABI
	poolABI    abi.ABI
	tokenABI   abi.ABI

	retryCfg retry.Config

	mu     sync.Mutex
	tokens map[common.Address]tokenMeta
}

// NewUniswapV3 creates a position source for the Uniswap v3 position manager.
func NewUniswapV3(rpcURL, managerAddr, factoryAddr string) (Source, error) {
	return newChainSource("uniswap", rpcURL, managerAddr, factoryAddr,
		uniswapManagerABI, uniswapFactoryABI, uniswapPoolABI)
}

func newChainSource(name, rpcURL, managerAddr, factoryAddr, managerJSON, factoryJSON, poolJSON string) (Source, error) {
	client, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial rpc: %w", err)
	}

	managerABI, err := abi.JSON(strings.NewReader(managerJSON))
	if err != nil {
		return nil, fmt.Errorf("parse manager abi: %w", err)
	}
	factoryABI, err := abi.JSON(strings.NewReader(factoryJSON))
	if err != nil {
		return nil, fmt.Errorf("parse factory abi: %w", err)
	}
	poolABI, err := abi.JSON(strings.NewReader(poolJSON))
	if err != nil {
		return nil, fmt.Errorf("parse pool abi: %w", err)
	}
	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}

	return &chainSource{
		name:       name,
		client:     client,
		manager:    common.HexToAddress(managerAddr),
		factory:    common.HexToAddress(factoryAddr),
		managerABI: managerABI,
		factoryABI: factoryABI,
		poolABI:    poolABI,
		tokenABI:   tokenABI,
		retryCfg:   retry.DefaultConfig(),
		tokens:     make(map[common.Address]tokenMeta),
	}, nil
}

func (s *chainSource) Name() string { return s.name }

// Fetch enumerates the wallet's position NFTs and normalizes each live one.
// A single unreadable position is skipped with a log line; it must not hide
// the others.
func (s *chainSource) Fetch(ctx context.Context, wallet string) ([]types.Position, error) {
	owner := common.HexToAddress(wallet)

	var balance *big.Int
	if err := s.callInto(ctx, s.manager, s.managerABI, &balance, "balanceOf", owner); err != nil {
		return nil, fmt.Errorf("balanceOf: %w", err)
	}

	count := int(balance.Int64())
	var positions []types.Position
	for i := 0; i < count; i++ {
		var tokenID *big.Int
		if err := s.callInto(ctx, s.manager, s.managerABI, &tokenID, "tokenOfOwnerByIndex", owner, big.NewInt(int64(i))); err != nil {
			log.Warn().Err(err).Int("index", i).Str("source", s.name).Msg("Skipping unreadable position slot")
			continue
		}

		pos, live, err := s.readPosition(ctx, tokenID)
		if err != nil {
			log.Warn().Err(err).Str("token_id", tokenID.String()).Str("source", s.name).Msg("Skipping unreadable position")
			continue
		}
		if live {
			positions = append(positions, pos)
		}
	}

	return positions, nil
}

func (s *chainSource) readPosition(ctx context.Context, tokenID *big.Int) (types.Position, bool, error) {
	raw, err := s.call(ctx, s.manager, s.managerABI, "positions", tokenID)
	if err != nil {
		return types.Position{}, false, err
	}
	if len(raw) < 12 {
		return types.Position{}, false, fmt.Errorf("positions returned %d fields", len(raw))
	}

	token0 := raw[2].(common.Address)
	token1 := raw[3].(common.Address)
	poolKey := raw[4].(*big.Int) // fee or tickSpacing, opaque to us
	tickLower := int(raw[5].(*big.Int).Int64())
	tickUpper := int(raw[6].(*big.Int).Int64())
	liquidity := raw[7].(*big.Int)
	tokensOwed0 := raw[10].(*big.Int)
	tokensOwed1 := raw[11].(*big.Int)

	// Burned or empty positions stay on the NFT forever; ignore them.
	if liquidity.Sign() == 0 {
		return types.Position{}, false, nil
	}

	meta0, err := s.tokenMeta(ctx, token0)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("token0 metadata: %w", err)
	}
	meta1, err := s.tokenMeta(ctx, token1)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("token1 metadata: %w", err)
	}

	currentPrice, err := s.poolPrice(ctx, token0, token1, poolKey, meta0.decimals, meta1.decimals)
	if err != nil {
		return types.Position{}, false, fmt.Errorf("pool price: %w", err)
	}

	lowerPrice := exposure.TickToPrice(tickLower, meta0.decimals, meta1.decimals)
	upperPrice := exposure.TickToPrice(tickUpper, meta0.decimals, meta1.decimals)

	humanLiquidity := scaleLiquidity(liquidity, meta0.decimals, meta1.decimals)
	amount0, amount1 := exposure.Amounts(humanLiquidity, lowerPrice, upperPrice, currentPrice)

	fees0 := scaleAmount(tokensOwed0, meta0.decimals)
	fees1 := scaleAmount(tokensOwed1, meta1.decimals)

	pos := types.Position{
		ID:             fmt.Sprintf("%s-%s", s.name, tokenID),
		Protocol:       s.name,
		Token0:         token0.Hex(),
		Token1:         token1.Hex(),
		Token0Symbol:   meta0.symbol,
		Token1Symbol:   meta1.symbol,
		Token0Decimals: meta0.decimals,
		Token1Decimals: meta1.decimals,
		Liquidity:      humanLiquidity,
		TickLower:      tickLower,
		TickUpper:      tickUpper,
		LowerPrice:     lowerPrice,
		UpperPrice:     upperPrice,
		CurrentPrice:   currentPrice,
		Token0Amount:   amount0,
		Token1Amount:   amount1,
		UnclaimedFees0: fees0,
		UnclaimedFees1: fees1,
		TotalValueUSD:  amount0.Mul(currentPrice).Add(amount1),
	}
	return pos, true, nil
}

func (s *chainSource) poolPrice(ctx context.Context, token0, token1 common.Address, poolKey *big.Int, dec0, dec1 int) (decimal.Decimal, error) {
	var pool common.Address
	if err := s.callInto(ctx, s.factory, s.factoryABI, &pool, "getPool", token0, token1, poolKey); err != nil {
		return decimal.Zero, fmt.Errorf("getPool: %w", err)
	}
	if pool == (common.Address{}) {
		return decimal.Zero, fmt.Errorf("no pool for %s/%s", token0.Hex(), token1.Hex())
	}

	raw, err := s.call(ctx, pool, s.poolABI, "slot0")
	if err != nil {
		return decimal.Zero, fmt.Errorf("slot0: %w", err)
	}
	if len(raw) == 0 {
		return decimal.Zero, fmt.Errorf("empty slot0")
	}

	sqrtPriceX96 := raw[0].(*big.Int)
	return sqrtPriceToPrice(sqrtPriceX96, dec0, dec1), nil
}

func (s *chainSource) tokenMeta(ctx context.Context, token common.Address) (tokenMeta, error) {
	s.mu.Lock()
	if meta, ok := s.tokens[token]; ok {
		s.mu.Unlock()
		return meta, nil
	}
	s.mu.Unlock()

	var symbol string
	if err := s.callInto(ctx, token, s.tokenABI, &symbol, "symbol"); err != nil {
		return tokenMeta{}, fmt.Errorf("symbol: %w", err)
	}
	var decimals uint8
	if err := s.callInto(ctx, token, s.tokenABI, &decimals, "decimals"); err != nil {
		return tokenMeta{}, fmt.Errorf("decimals: %w", err)
	}

	meta := tokenMeta{symbol: symbol, decimals: int(decimals)}
	s.mu.Lock()
	s.tokens[token] = meta
	s.mu.Unlock()
	return meta, nil
}

// call packs, executes and unpacks one view call with retry.
func (s *chainSource) call(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	output, err := retry.DoWithResult(ctx, s.retryCfg, method, func() ([]byte, error) {
		return s.client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	})
	if err != nil {
		return nil, err
	}

	return contractABI.Unpack(method, output)
}

// callInto is call for single-output methods, decoding into out.
func (s *chainSource) callInto(ctx context.Context, to common.Address, contractABI abi.ABI, out any, method string, args ...any) error {
	raw, err := s.call(ctx, to, contractABI, method, args...)
	if err != nil {
		return err
	}
	if len(raw) == 0 {
		return fmt.Errorf("%s: empty result", method)
	}
	return assign(out, raw[0])
}

func assign(out, value any) error {
	switch o := out.(type) {
	case **big.Int:
		v, ok := value.(*big.Int)
		if !ok {
			return fmt.Errorf("expected *big.Int, got %T", value)
		}
		*o = v
	case *common.Address:
		v, ok := value.(common.Address)
		if !ok {
			return fmt.Errorf("expected address, got %T", value)
		}
		*o = v
	case *string:
		v, ok := value.(string)
		if !ok {
			return fmt.Errorf("expected string, got %T", value)
		}
		*o = v
	case *uint8:
		v, ok := value.(uint8)
		if !ok {
			return fmt.Errorf("expected uint8, got %T", value)
		}
		*o = v
	default:
		return fmt.Errorf("unsupported output type %T", out)
	}
	return nil
}

// sqrtPriceToPrice converts a Q64.96 sqrt price to a human token1/token0
// price adjusted for token decimals.
func sqrtPriceToPrice(sqrtPriceX96 *big.Int, dec0, dec1 int) decimal.Decimal {
	sp := new(big.Float).SetInt(sqrtPriceX96)
	q96 := new(big.Float).SetInt(new(big.Int).Lsh(big.NewInt(1), 96))
	ratio := new(big.Float).Quo(sp, q96)
	priceFloat, _ := new(big.Float).Mul(ratio, ratio).Float64()
	priceFloat *= math.Pow(10, float64(dec0-dec1))
	return decimal.NewFromFloat(priceFloat)
}

// scaleLiquidity converts raw pool liquidity to human units. The geometric
// mean of the token decimals matches how L relates to the two raw amounts.
func scaleLiquidity(liquidity *big.Int, dec0, dec1 int) decimal.Decimal {
	l, _ := new(big.Float).SetInt(liquidity).Float64()
	l /= math.Pow(10, float64(dec0+dec1)/2)
	return decimal.NewFromFloat(l)
}

func scaleAmount(raw *big.Int, decimals int) decimal.Decimal {
	v, _ := new(big.Float).SetInt(raw).Float64()
	v /= math.Pow(10, float64(decimals))
	return decimal.NewFromFloat(v)
}
