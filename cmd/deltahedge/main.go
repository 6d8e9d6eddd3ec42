// Deltahedge - Delta-neutral hedging bot for concentrated-liquidity LPs
//
// Reads LP positions from Uniswap v3, Aerodrome and vfat Sickle, measures
// their directional exposure and impermanent loss, and keeps the net delta
// inside a configured band with short perp hedges on Hyperliquid.
//
// Loop:
// 1. Fetch positions from all sources concurrently
// 2. Compute delta, gamma, IL, fees and VaR per position
// 3. Size the hedge adjustment against the live perp position
// 4. Execute through the safety gates (size, margin, daily cap, slippage)
// 5. Report the cycle to storage and Telegram
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/web3guy0/deltahedge/bot"
	"github.com/web3guy0/deltahedge/core"
	"github.com/web3guy0/deltahedge/exec"
	"github.com/web3guy0/deltahedge/feeds"
	"github.com/web3guy0/deltahedge/internal/config"
	"github.com/web3guy0/deltahedge/positions"
	"github.com/web3guy0/deltahedge/risk"
	"github.com/web3guy0/deltahedge/storage"
	"github.com/web3guy0/deltahedge/venue"
)

const version = "1.0.0"

func main() {
	// Setup logging
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// Load environment
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, using environment variables")
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if cfg.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	log.Info().
		Str("version", version).
		Str("wallet", cfg.WalletAddress).
		Str("symbol", cfg.HedgeSymbol).
		Bool("dry_run", cfg.DryRun).
		Msg("🛡️ Deltahedge starting...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database
	db, err := storage.New(cfg.DatabasePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	// ====== POSITION SOURCES ======

	var sources []positions.Source

	if cfg.UniswapV3NFTAddress != "" {
		src, err := positions.NewUniswapV3(cfg.RPCURL, cfg.UniswapV3NFTAddress, cfg.UniswapV3FactoryAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Uniswap source")
		}
		sources = append(sources, src)
		log.Info().Msg("🦄 Uniswap v3 source ready")
	}

	if cfg.AerodromeNFTAddress != "" {
		src, err := positions.NewAerodrome(cfg.RPCURL, cfg.AerodromeNFTAddress, cfg.AerodromeFactoryAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Aerodrome source")
		}
		sources = append(sources, src)
		log.Info().Msg("✈️ Aerodrome source ready")
	}

	if cfg.SickleAPIURL != "" {
		sources = append(sources, positions.NewSickle(cfg.SickleAPIURL))
		log.Info().Msg("🌾 Sickle source ready")
	}

	if len(sources) == 0 {
		log.Fatal().Msg("No position sources configured")
	}

	// ====== VENUE & EXECUTION ======

	hl, err := venue.NewHyperliquid(venue.Config{
		APIURL:     cfg.HyperliquidAPIURL,
		PrivateKey: cfg.HyperliquidKey,
		DryRun:     cfg.DryRun,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize Hyperliquid client")
	}

	executor := exec.NewExecutor(hl, exec.Config{
		Symbol:                cfg.HedgeSymbol,
		MinOrderSize:          cfg.MinOrderSize,
		MaxDailyTrades:        cfg.MaxDailyTrades,
		SlippageTolerance:     cfg.SlippageTolerance,
		EmergencyOverridesCap: cfg.CloseOnShutdown,
	})

	// ====== RISK ENGINE ======

	classifier := risk.Classifier{
		MaxImpermanentLoss: cfg.MaxImpermanentLoss,
		MaxDeltaRatio:      cfg.MaxDeltaRatio,
		MaxNegativePnL:     cfg.MaxNegativePnL,
	}
	calculator := risk.NewCalculator(classifier, cfg.VaRConfidence, cfg.VaRHorizonDays)
	sizer := risk.NewSizer(cfg.DeltaThreshold, cfg.MaxPositionSize).
		WithRebalanceRatio(cfg.RebalanceThreshold)

	// ====== MARKET FEED ======

	volatility := feeds.NewVolatility(time.Minute, 60, cfg.VolatilityDefault)
	feed := feeds.NewHyperliquidFeed(cfg.HyperliquidWSURL)
	feed.Track(cfg.HedgeSymbol, volatility)
	feed.Start()
	defer feed.Stop()

	// Streamed mids shape limit prices; REST is the cold-start fallback.
	executor.SetQuotes(feed)

	// ====== ORCHESTRATOR ======

	orchestrator := core.New(core.Config{
		Wallet:            cfg.WalletAddress,
		Symbol:            cfg.HedgeSymbol,
		Interval:          cfg.UpdateInterval,
		DefaultVolatility: cfg.VolatilityDefault,
		CloseOnShutdown:   cfg.CloseOnShutdown,
		ReportEvery:       cfg.ReportInterval,
	}, sources, calculator, sizer, executor, hl, volatility, db, nil)

	// ====== TELEGRAM BOT ======

	var telegramBot *bot.TelegramBot
	if cfg.TelegramToken != "" {
		telegramBot, err = bot.NewTelegramBot(cfg.TelegramToken, cfg.TelegramChatID, orchestrator)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize Telegram bot")
		}
		telegramBot.SetCloseHandler(orchestrator.RequestClose)
		orchestrator.SetNotifier(telegramBot)
		if db.IsEnabled() {
			telegramBot.SetHistory(db)
		}
		telegramBot.Start()
		defer telegramBot.Stop()

		mode := "LIVE"
		if cfg.DryRun {
			mode = "DRY RUN"
		}
		telegramBot.NotifyStartup(mode, cfg.HedgeSymbol)
	} else {
		log.Warn().Msg("TELEGRAM_BOT_TOKEN not set, notifications disabled")
	}

	if err := orchestrator.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to start hedging loop")
	}

	log.Info().Msg("✅ All systems online")

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("🛑 Received shutdown signal")
	case <-ctx.Done():
		log.Info().Msg("🛑 Context cancelled")
	}

	log.Info().Msg("Shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	orchestrator.Stop(shutdownCtx)

	log.Info().Msg("👋 Goodbye!")
}
