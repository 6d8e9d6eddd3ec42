package bot

import (
	"fmt"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/web3guy0/deltahedge/exec"
	"github.com/web3guy0/deltahedge/storage"
	"github.com/web3guy0/deltahedge/types"
)

// ═══════════════════════════════════════════════════════════════════════════════
// TELEGRAM BOT - Hedge notifications & control
// ═══════════════════════════════════════════════════════════════════════════════
//
// Features:
//   🛡️ Hedge execution and rejection alerts
//   📊 Cycle summaries with delta and PnL
//   🎛️ Control commands (/status, /report, /close)
//
// ═══════════════════════════════════════════════════════════════════════════════

// StatusProvider exposes the orchestrator state the bot reports on.
type StatusProvider interface {
	HedgeState() types.HedgeState
	LastReport() types.CycleReport
}

// History serves persisted trade and cycle rows for the report commands.
// Optional; commands degrade gracefully without it.
type History interface {
	RecentTrades(limit int) ([]storage.HedgeTrade, error)
	RecentCycles(limit int) ([]storage.CycleSnapshot, error)
}

// TelegramBot manages the Telegram interface.
type TelegramBot struct {
	mu      sync.RWMutex
	api     *tgbotapi.BotAPI
	chatID  int64
	running bool
	stopCh  chan struct{}

	provider StatusProvider
	history  History

	// Emergency close requested over chat; picked up by the orchestrator.
	onClose func()
}

// NewTelegramBot creates the bot. Returns an error when the token is
// invalid; callers treat an empty token as "notifications disabled" before
// ever getting here.
func NewTelegramBot(token string, chatID int64, provider StatusProvider) (*TelegramBot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	bot := &TelegramBot{
		api:      api,
		chatID:   chatID,
		stopCh:   make(chan struct{}),
		provider: provider,
	}

	log.Info().Str("username", api.Self.UserName).Msg("🤖 Telegram bot initialized")
	return bot, nil
}

// SetCloseHandler registers the /close callback.
func (b *TelegramBot) SetCloseHandler(onClose func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onClose = onClose
}

// SetHistory attaches the persisted history backing /report and /history.
func (b *TelegramBot) SetHistory(h History) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history = h
}

// Start begins listening for commands.
func (b *TelegramBot) Start() {
	b.mu.Lock()
	if b.running {
		b.mu.Unlock()
		return
	}
	b.running = true
	b.mu.Unlock()

	go b.commandLoop()
	log.Info().Msg("📱 Telegram bot started")
}

// Stop stops the bot.
func (b *TelegramBot) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.running {
		return
	}

	b.running = false
	close(b.stopCh)
	log.Info().Msg("Telegram bot stopped")
}

// ═══════════════════════════════════════════════════════════════════════════════
// NOTIFICATIONS
// ═══════════════════════════════════════════════════════════════════════════════

// NotifyOrder reports one hedge order outcome.
func (b *TelegramBot) NotifyOrder(order *exec.Order) {
	if order == nil {
		return
	}

	switch order.State {
	case exec.StateFilled:
		side := "BUY"
		if order.Size.Sign() < 0 {
			side = "SELL"
		}
		emoji := "🛡️"
		if order.Reason == types.ReasonEmergencyClose {
			emoji = "🚨"
		}
		b.sendMarkdown(fmt.Sprintf(`%s *HEDGE FILLED*

📊 %s %s
📦 Size: *%s* (filled *%s*)
💵 Avg: *$%s*`,
			emoji,
			order.Symbol, side,
			order.Size.Abs().StringFixed(4), order.FilledSize.Abs().StringFixed(4),
			order.AvgPrice.StringFixed(2),
		))

	case exec.StateRejected:
		b.sendMarkdown(fmt.Sprintf(`🛑 *HEDGE REJECTED*

📊 %s, size *%s*
📝 %s`,
			order.Symbol, order.Size.StringFixed(4), order.RejectReason,
		))

	case exec.StateFailed:
		b.sendMarkdown(fmt.Sprintf(`⚠️ *HEDGE FAILED*

📊 %s, size *%s*
Will retry next cycle`,
			order.Symbol, order.Size.StringFixed(4),
		))
	}
}

// NotifyHighRisk alerts on a position escalating to HIGH.
func (b *TelegramBot) NotifyHighRisk(m types.RiskMetrics) {
	b.sendMarkdown(fmt.Sprintf(`🔴 *HIGH RISK*

📊 Position: *%s*
📉 IL: *%s%%*
⚖️ Delta: *%s*
💵 Net PnL: *$%s*`,
		m.PositionID,
		m.ImpermanentLoss.Mul(decimal.NewFromInt(100)).StringFixed(2),
		m.Delta.StringFixed(4),
		m.NetPnL.StringFixed(2),
	))
}

// NotifyCycle sends a cycle summary. The orchestrator calls it on a throttle
// from the reporting phase; /report triggers it on demand.
func (b *TelegramBot) NotifyCycle(report types.CycleReport) {
	emoji := "📈"
	if report.TotalNetPnL.IsNegative() {
		emoji = "📉"
	}

	b.sendMarkdown(fmt.Sprintf(`%s *CYCLE SUMMARY*
━━━━━━━━━━━━━━━━━━━━

💼 Positions: *%d*
💰 Value: *$%s*
⚖️ LP Delta: *%s*
🛡️ Hedge: *%s*

━━━━━━━━━━━━━━━━━━━━
📉 IL: *$%s*
💵 Fees: *$%s*
💵 Net PnL: *$%s*`,
		emoji,
		report.Positions,
		report.TotalValueUSD.StringFixed(2),
		report.AggregateDelta.StringFixed(4),
		report.HedgePosition.StringFixed(4),
		report.TotalIL.StringFixed(2),
		report.TotalFees.StringFixed(2),
		report.TotalNetPnL.StringFixed(2),
	))
}

// NotifyError sends an error alert.
func (b *TelegramBot) NotifyError(err error) {
	b.sendMarkdown(fmt.Sprintf("⚠️ *ERROR*\n\n`%s`", err.Error()))
}

// NotifyStartup sends the startup banner.
func (b *TelegramBot) NotifyStartup(mode, symbol string) {
	b.sendMarkdown(fmt.Sprintf(`🚀 *DELTAHEDGE STARTED*
━━━━━━━━━━━━━━━━━━━━

🛡️ Instrument: *%s*
📊 Mode: *%s*

Use /help for commands`, symbol, mode))
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMMAND HANDLING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) commandLoop() {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-b.stopCh:
			return
		case update := <-updates:
			if update.Message == nil || !update.Message.IsCommand() {
				continue
			}

			// Only respond to authorized chat
			if update.Message.Chat.ID != b.chatID {
				continue
			}

			b.handleCommand(update.Message)
		}
	}
}

func (b *TelegramBot) handleCommand(msg *tgbotapi.Message) {
	cmd := strings.ToLower(msg.Command())

	switch cmd {
	case "start", "help":
		b.cmdHelp()
	case "status":
		b.cmdStatus()
	case "report":
		b.cmdReport()
	case "history":
		b.cmdHistory()
	case "close":
		b.cmdClose()
	case "ping":
		b.send("🏓 Pong!")
	default:
		b.send("❓ Unknown command. Use /help")
	}
}

func (b *TelegramBot) cmdHelp() {
	b.sendMarkdown(`🤖 *DELTAHEDGE COMMANDS*
━━━━━━━━━━━━━━━━━━━━

📊 /status — Hedge state
📈 /report — Last cycle summary + recent trades
📜 /history — Recent cycle snapshots
🚨 /close — Emergency close hedge
🏓 /ping — Test connection`)
}

func (b *TelegramBot) cmdStatus() {
	if b.provider == nil {
		b.send("No status available")
		return
	}

	state := b.provider.HedgeState()
	b.sendMarkdown(fmt.Sprintf(`📊 *HEDGE STATE*
━━━━━━━━━━━━━━━━━━━━

🛡️ Position: *%s*
⚖️ Last LP Delta: *%s*
🔢 Trades today: *%d*`,
		state.HedgePosition.StringFixed(4),
		state.LastLPDelta.StringFixed(4),
		state.DailyTrades,
	))
}

func (b *TelegramBot) cmdReport() {
	if b.provider == nil {
		b.send("No report available")
		return
	}
	b.NotifyCycle(b.provider.LastReport())

	b.mu.RLock()
	history := b.history
	b.mu.RUnlock()
	if history == nil {
		return
	}

	trades, err := history.RecentTrades(5)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load recent trades")
		return
	}
	if len(trades) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("🗂 *RECENT TRADES*\n")
	for _, tr := range trades {
		sb.WriteString(fmt.Sprintf("\n`%s` %s %s @ $%s — %s",
			tr.CreatedAt.Format("01-02 15:04"),
			tr.Symbol,
			tr.FilledSize.StringFixed(4),
			tr.AvgPrice.StringFixed(2),
			tr.State,
		))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdHistory() {
	b.mu.RLock()
	history := b.history
	b.mu.RUnlock()
	if history == nil {
		b.send("No history available (persistence disabled)")
		return
	}

	cycles, err := history.RecentCycles(6)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load recent cycles")
		b.send("History unavailable")
		return
	}
	if len(cycles) == 0 {
		b.send("No cycles recorded yet")
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 *CYCLE HISTORY*\n")
	for _, c := range cycles {
		sb.WriteString(fmt.Sprintf("\n`%s` %d pos, Δ %s, hedge %s, PnL $%s",
			c.CreatedAt.Format("01-02 15:04"),
			c.Positions,
			c.AggregateDelta.StringFixed(4),
			c.HedgePosition.StringFixed(4),
			c.TotalNetPnL.StringFixed(2),
		))
	}
	b.sendMarkdown(sb.String())
}

func (b *TelegramBot) cmdClose() {
	b.mu.RLock()
	onClose := b.onClose
	b.mu.RUnlock()

	if onClose == nil {
		b.send("Emergency close not wired")
		return
	}

	b.send("🚨 Emergency close requested")
	onClose()
}

// ═══════════════════════════════════════════════════════════════════════════════
// SENDING
// ═══════════════════════════════════════════════════════════════════════════════

func (b *TelegramBot) send(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Failed to send Telegram message")
	}
}

func (b *TelegramBot) sendMarkdown(text string) {
	msg := tgbotapi.NewMessage(b.chatID, text)
	msg.ParseMode = tgbotapi.ModeMarkdown
	if _, err := b.api.Send(msg); err != nil {
		log.Warn().Err(err).Msg("Failed to send Telegram message")
	}
}
