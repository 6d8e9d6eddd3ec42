package feeds

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// ═══════════════════════════════════════════════════════════════════════════════
// HYPERLIQUID WEBSOCKET FEED
// ═══════════════════════════════════════════════════════════════════════════════
//
// Streams mid prices over the allMids channel. The feed is the primary quote
// for limit shaping and feeds the volatility estimators; when the stream is
// cold or disconnected the executor falls back to the venue's REST mid, so a
// dead feed degrades quote freshness, never execution.
//
// ═══════════════════════════════════════════════════════════════════════════════

const (
	wsReconnectDelay = 5 * time.Second
	wsPingInterval   = 30 * time.Second
)

// HyperliquidFeed maintains the WS connection and latest mids.
type HyperliquidFeed struct {
	mu sync.RWMutex

	wsURL     string
	conn      *websocket.Conn
	connected bool
	running   bool
	stopCh    chan struct{}

	mids map[string]decimal.Decimal

	// Volatility estimators fed on every mid update.
	estimators map[string]*Volatility
}

// NewHyperliquidFeed creates the feed. Call Track before Start for every
// symbol whose volatility should be estimated.
func NewHyperliquidFeed(wsURL string) *HyperliquidFeed {
	return &HyperliquidFeed{
		wsURL:      wsURL,
		stopCh:     make(chan struct{}),
		mids:       make(map[string]decimal.Decimal),
		estimators: make(map[string]*Volatility),
	}
}

// Track registers a volatility estimator for a symbol.
func (f *HyperliquidFeed) Track(symbol string, estimator *Volatility) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimators[symbol] = estimator
}

// Start connects and begins processing.
func (f *HyperliquidFeed) Start() {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return
	}
	f.running = true
	f.mu.Unlock()

	go f.connectionLoop()
	log.Info().Str("url", f.wsURL).Msg("📡 Hyperliquid feed started")
}

// Stop closes the connection.
func (f *HyperliquidFeed) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.running {
		return
	}

	f.running = false
	close(f.stopCh)

	if f.conn != nil {
		f.conn.Close()
	}

	log.Info().Msg("Hyperliquid feed stopped")
}

// Mid returns the latest streamed mid for a symbol, zero if none seen yet.
func (f *HyperliquidFeed) Mid(symbol string) decimal.Decimal {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mids[symbol]
}

func (f *HyperliquidFeed) connectionLoop() {
	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		if err := f.connect(); err != nil {
			log.Error().Err(err).Msg("Hyperliquid WS connection failed, retrying...")
			time.Sleep(wsReconnectDelay)
			continue
		}

		f.readLoop()
		time.Sleep(wsReconnectDelay)
	}
}

func (f *HyperliquidFeed) connect() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}

	sub := map[string]any{
		"method":       "subscribe",
		"subscription": map[string]string{"type": "allMids"},
	}
	if err := conn.WriteJSON(sub); err != nil {
		conn.Close()
		return err
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.mu.Unlock()

	go f.pingLoop(conn)

	log.Info().Msg("Hyperliquid WS connected")
	return nil
}

func (f *HyperliquidFeed) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-f.stopCh:
			return
		case <-ticker.C:
			if err := conn.WriteJSON(map[string]string{"method": "ping"}); err != nil {
				return
			}
		}
	}
}

type wsMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Mids map[string]string `json:"mids"`
	} `json:"data"`
}

func (f *HyperliquidFeed) readLoop() {
	defer func() {
		f.mu.Lock()
		f.connected = false
		if f.conn != nil {
			f.conn.Close()
		}
		f.mu.Unlock()
	}()

	for {
		select {
		case <-f.stopCh:
			return
		default:
		}

		f.mu.RLock()
		conn := f.conn
		f.mu.RUnlock()

		_, raw, err := conn.ReadMessage()
		if err != nil {
			log.Warn().Err(err).Msg("Hyperliquid WS read error")
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Channel != "allMids" {
			continue
		}

		f.applyMids(msg.Data.Mids)
	}
}

func (f *HyperliquidFeed) applyMids(mids map[string]string) {
	now := time.Now()

	f.mu.Lock()
	defer f.mu.Unlock()

	for symbol, raw := range mids {
		mid, err := decimal.NewFromString(raw)
		if err != nil {
			continue
		}
		f.mids[symbol] = mid

		if est, ok := f.estimators[symbol]; ok {
			est.Observe(mid, now)
		}
	}
}
