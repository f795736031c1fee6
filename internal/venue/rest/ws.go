package rest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

const (
	pingInterval     = 50 * time.Second
	readTimeout      = 90 * time.Second
	maxReconnectWait = 30 * time.Second
	writeTimeout     = 10 * time.Second
	bookBufferSize   = 256
)

// bookEvent is one decoded top-of-book update, already translated from the
// venue's market identifier back to our internal symbol.
type bookEvent struct {
	symbol string
	bid    decimal.Decimal
	ask    decimal.Decimal
}

// wireBookMsg is the generic top-of-book wire shape: {"market":"...",
// "bids":[["100.5","2"]], "asks":[["100.6","1"]]}. Venues vary in field
// names; a concrete venue's feed normalizer lives here if it diverges.
type wireBookMsg struct {
	Market string      `json:"market"`
	Bids   [][2]string `json:"bids"`
	Asks   [][2]string `json:"asks"`
}

// wsFeed manages a single WebSocket connection to a venue's public book
// channel, with auto-reconnect and exponential backoff, mirroring the
// teacher's market-channel WSFeed.
type wsFeed struct {
	url      string
	bySymbol map[string]string // venue market id -> our symbol

	connMu sync.Mutex
	conn   *websocket.Conn

	subscribedMu sync.RWMutex
	subscribed   []string

	bookCh chan bookEvent
	logger *slog.Logger
}

func newWSFeed(url string, bySymbol map[string]string, logger *slog.Logger) *wsFeed {
	return &wsFeed{
		url:      url,
		bySymbol: bySymbol,
		bookCh:   make(chan bookEvent, bookBufferSize),
		logger:   logger.With("component", "ws_feed"),
	}
}

func (f *wsFeed) subscribe(markets []string) error {
	f.subscribedMu.Lock()
	f.subscribed = markets
	f.subscribedMu.Unlock()
	return f.writeJSON(map[string]any{"op": "subscribe", "markets": markets})
}

func (f *wsFeed) close() error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn != nil {
		return f.conn.Close()
	}
	return nil
}

// run connects and maintains the connection with auto-reconnect. Blocks
// until ctx is cancelled.
func (f *wsFeed) run(ctx context.Context) error {
	backoff := time.Second
	for {
		err := f.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.Warn("ws disconnected, reconnecting", "err", err, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxReconnectWait {
			backoff = maxReconnectWait
		}
	}
}

func (f *wsFeed) connectAndRead(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	f.connMu.Lock()
	f.conn = conn
	f.connMu.Unlock()
	defer func() {
		f.connMu.Lock()
		conn.Close()
		f.conn = nil
		f.connMu.Unlock()
	}()

	f.subscribedMu.RLock()
	markets := f.subscribed
	f.subscribedMu.RUnlock()
	if len(markets) > 0 {
		if err := f.writeJSON(map[string]any{"op": "subscribe", "markets": markets}); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.pingLoop(pingCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		f.dispatch(msg)
	}
}

func (f *wsFeed) dispatch(data []byte) {
	var msg wireBookMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		f.logger.Debug("ignoring non-json ws message", "data", string(data))
		return
	}
	if msg.Market == "" || len(msg.Bids) == 0 || len(msg.Asks) == 0 {
		return
	}
	symbol, ok := f.bySymbol[msg.Market]
	if !ok {
		return
	}
	bid, err := decimal.NewFromString(msg.Bids[0][0])
	if err != nil {
		return
	}
	ask, err := decimal.NewFromString(msg.Asks[0][0])
	if err != nil {
		return
	}

	select {
	case f.bookCh <- bookEvent{symbol: symbol, bid: bid, ask: ask}:
	default:
		f.logger.Warn("book channel full, dropping event", "symbol", symbol)
	}
}

func (f *wsFeed) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := f.writeMessage(websocket.PingMessage, nil); err != nil {
				f.logger.Warn("ping failed", "err", err)
				return
			}
		}
	}
}

func (f *wsFeed) writeJSON(v any) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteJSON(v)
}

func (f *wsFeed) writeMessage(msgType int, data []byte) error {
	f.connMu.Lock()
	defer f.connMu.Unlock()
	if f.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	f.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return f.conn.WriteMessage(msgType, data)
}
