package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// Config holds all configuration for the bot
type Config struct {
	// Wallet being monitored for LP positions
	WalletAddress string

	// Base chain RPC
	RPCURL string

	// Position manager and factory contracts
	UniswapV3NFTAddress     string
	UniswapV3FactoryAddress string
	AerodromeNFTAddress     string
	AerodromeFactoryAddress string
	SickleAPIURL            string

	// Hyperliquid venue
	HyperliquidAPIURL  string
	HyperliquidWSURL   string
	HyperliquidKey     string
	HyperliquidTestnet bool

	// Hedge instrument
	HedgeSymbol string

	// Risk thresholds
	DeltaThreshold     decimal.Decimal // net delta deadband
	RebalanceThreshold decimal.Decimal // delta-to-value ratio triggering rebalance
	MaxImpermanentLoss decimal.Decimal // IL fraction escalating risk level
	MaxDeltaRatio      decimal.Decimal // |delta|*price/value ratio escalating to HIGH
	MaxNegativePnL     decimal.Decimal // net PnL floor (quote terms) escalating to HIGH

	// VaR parameters
	VaRConfidence     decimal.Decimal // e.g. 0.95
	VaRHorizonDays    int
	VolatilityDefault decimal.Decimal // annualized, used until the feed warms up

	// Execution safety limits
	MaxPositionSize   decimal.Decimal
	MinOrderSize      decimal.Decimal
	MaxDailyTrades    int
	SlippageTolerance decimal.Decimal

	// Cycle cadence
	UpdateInterval time.Duration

	// Telegram cycle-summary throttle
	ReportInterval time.Duration

	// Shutdown behavior
	CloseOnShutdown bool

	// Mode
	DryRun bool
	Debug  bool

	// Database (sqlite path or postgres:// DSN; empty disables persistence)
	DatabasePath string

	// Telegram (optional; notifier disabled when token empty)
	TelegramToken  string
	TelegramChatID int64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	p := &envParser{}

	testnet := getEnvBool("HYPERLIQUID_TESTNET", true)
	apiDefault := "https://api.hyperliquid.xyz"
	wsDefault := "wss://api.hyperliquid.xyz/ws"
	if testnet {
		apiDefault = "https://api.hyperliquid-testnet.xyz"
		wsDefault = "wss://api.hyperliquid-testnet.xyz/ws"
	}

	cfg := &Config{
		WalletAddress: os.Getenv("WALLET_ADDRESS"),
		RPCURL:        os.Getenv("RPC_URL"),

		UniswapV3NFTAddress:     os.Getenv("UNISWAP_V3_NFT_ADDRESS"),
		UniswapV3FactoryAddress: os.Getenv("UNISWAP_V3_FACTORY_ADDRESS"),
		AerodromeNFTAddress:     os.Getenv("AERODROME_NFT_ADDRESS"),
		AerodromeFactoryAddress: os.Getenv("AERODROME_FACTORY_ADDRESS"),
		SickleAPIURL:            getEnv("VFAT_API_URL", "https://api.vfat.io"),

		HyperliquidAPIURL:  getEnv("HYPERLIQUID_API_URL", apiDefault),
		HyperliquidWSURL:   getEnv("HYPERLIQUID_WS_URL", wsDefault),
		HyperliquidKey:     os.Getenv("HYPERLIQUID_PRIVATE_KEY"),
		HyperliquidTestnet: testnet,

		HedgeSymbol: getEnv("HEDGE_SYMBOL", "ETH"),

		DeltaThreshold:     p.decimal("DELTA_THRESHOLD", decimal.NewFromFloat(0.1)),
		RebalanceThreshold: p.decimal("REBALANCE_THRESHOLD", decimal.NewFromFloat(0.05)),
		MaxImpermanentLoss: p.decimal("MAX_IMPERMANENT_LOSS", decimal.NewFromFloat(0.05)),
		MaxDeltaRatio:      p.decimal("MAX_DELTA_RATIO", decimal.NewFromFloat(0.2)),
		MaxNegativePnL:     p.decimal("MAX_NEGATIVE_PNL", decimal.NewFromFloat(100)),

		VaRConfidence:     p.decimal("VAR_CONFIDENCE", decimal.NewFromFloat(0.95)),
		VaRHorizonDays:    p.int("VAR_HORIZON_DAYS", 1),
		VolatilityDefault: p.decimal("VOLATILITY_DEFAULT", decimal.NewFromFloat(0.5)),

		MaxPositionSize:   p.decimal("MAX_POSITION_SIZE", decimal.NewFromFloat(10)),
		MinOrderSize:      p.decimal("MIN_ORDER_SIZE", decimal.NewFromFloat(0.01)),
		MaxDailyTrades:    p.int("MAX_DAILY_TRADES", 100),
		SlippageTolerance: p.decimal("SLIPPAGE_TOLERANCE", decimal.NewFromFloat(0.005)),

		UpdateInterval: time.Duration(p.int("UPDATE_INTERVAL_SECONDS", 60)) * time.Second,
		ReportInterval: time.Duration(p.int("REPORT_INTERVAL_MINUTES", 60)) * time.Minute,

		CloseOnShutdown: getEnvBool("CLOSE_ON_SHUTDOWN", false),

		DryRun: getEnvBool("DRY_RUN", true),
		Debug:  getEnvBool("DEBUG", false),

		DatabasePath: getEnv("DATABASE_PATH", "data/deltahedge.db"),

		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
	}
	if p.err != nil {
		return nil, p.err
	}

	// Parse chat ID
	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		id, err := strconv.ParseInt(chatID, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID: %w", err)
		}
		cfg.TelegramChatID = id
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects startup when a required threshold is missing or
// non-positive. Misconfigured limits are a programming error, not something
// to mask at runtime.
func (c *Config) Validate() error {
	if c.WalletAddress == "" {
		return fmt.Errorf("WALLET_ADDRESS is required")
	}
	if c.RPCURL == "" {
		return fmt.Errorf("RPC_URL is required")
	}

	positives := []struct {
		name  string
		value decimal.Decimal
	}{
		{"DELTA_THRESHOLD", c.DeltaThreshold},
		{"REBALANCE_THRESHOLD", c.RebalanceThreshold},
		{"MAX_POSITION_SIZE", c.MaxPositionSize},
		{"MIN_ORDER_SIZE", c.MinOrderSize},
		{"SLIPPAGE_TOLERANCE", c.SlippageTolerance},
		{"MAX_IMPERMANENT_LOSS", c.MaxImpermanentLoss},
		{"MAX_DELTA_RATIO", c.MaxDeltaRatio},
		{"VOLATILITY_DEFAULT", c.VolatilityDefault},
	}
	for _, p := range positives {
		if p.value.Sign() <= 0 {
			return fmt.Errorf("%s must be positive, got %s", p.name, p.value)
		}
	}

	if c.MaxDailyTrades <= 0 {
		return fmt.Errorf("MAX_DAILY_TRADES must be positive, got %d", c.MaxDailyTrades)
	}
	if c.VaRHorizonDays <= 0 {
		return fmt.Errorf("VAR_HORIZON_DAYS must be positive, got %d", c.VaRHorizonDays)
	}
	if c.VaRConfidence.Sign() <= 0 || c.VaRConfidence.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("VAR_CONFIDENCE must be in (0, 1), got %s", c.VaRConfidence)
	}
	if c.MinOrderSize.GreaterThan(c.MaxPositionSize) {
		return fmt.Errorf("MIN_ORDER_SIZE %s exceeds MAX_POSITION_SIZE %s", c.MinOrderSize, c.MaxPositionSize)
	}
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("UPDATE_INTERVAL_SECONDS must be positive")
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("REPORT_INTERVAL_MINUTES must not be negative")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

// envParser reads typed env values and remembers the first parse failure, so
// a mistyped limit aborts startup instead of silently running on defaults.
type envParser struct {
	err error
}

func (p *envParser) int(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(value)
	if err != nil {
		p.fail(key, value)
		return defaultValue
	}
	return i
}

func (p *envParser) decimal(key string, defaultValue decimal.Decimal) decimal.Decimal {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		p.fail(key, value)
		return defaultValue
	}
	return d
}

func (p *envParser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid %s: %q is not a number", key, value)
	}
}
