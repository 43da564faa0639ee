package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/polycopy/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// PriceHandler is called for every last-trade-price tick.
type PriceHandler func(PriceUpdate)

// MarketStream is a WebSocket client for the CLOB market channel. It keeps
// one connection alive across reconnects and streams last-trade prices for
// the watched assets into registered handlers; the price service uses it to
// keep the cache warm for held positions.
type MarketStream struct {
	wsURL string
	conn  *websocket.Conn

	mu     sync.RWMutex
	closed bool
	assets []string

	handlerMu sync.RWMutex
	handlers  []PriceHandler

	// done is closed when the stream is shut down.
	done chan struct{}
}

// NewMarketStream creates a stream client for the given WebSocket URL,
// e.g. "wss://ws-subscriptions-clob.polymarket.com/ws/market".
func NewMarketStream(wsURL string) *MarketStream {
	return &MarketStream{
		wsURL: wsURL,
		done:  make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection and restores the current
// asset subscription.
func (s *MarketStream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("polymarket/ws: %w", domain.ErrWSDisconnect)
	}

	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, s.wsURL, nil)
	if err != nil {
		return fmt.Errorf("polymarket/ws: connect: %w", err)
	}
	s.conn = conn

	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	go s.readLoop()
	go s.pingLoop()

	if len(s.assets) > 0 {
		if err := s.sendCommand(WSCommand{Type: "market", Assets: s.assets}); err != nil {
			return fmt.Errorf("polymarket/ws: restore subscription: %w", err)
		}
	}
	return nil
}

// Watch replaces the watched asset set. The new subscription is applied to
// the live connection and survives reconnects.
func (s *MarketStream) Watch(assetIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assets = append([]string(nil), assetIDs...)
	if s.conn == nil || len(s.assets) == 0 {
		return nil
	}
	if err := s.sendCommand(WSCommand{Type: "market", Assets: s.assets}); err != nil {
		return fmt.Errorf("polymarket/ws: subscribe: %w", err)
	}
	return nil
}

// OnPrice registers a handler for last-trade-price ticks.
func (s *MarketStream) OnPrice(handler PriceHandler) {
	s.handlerMu.Lock()
	defer s.handlerMu.Unlock()
	s.handlers = append(s.handlers, handler)
}

// Close shuts down the connection and stops the read loop.
func (s *MarketStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	close(s.done)

	if s.conn != nil {
		_ = s.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return s.conn.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Internal methods
// --------------------------------------------------------------------------

// sendCommand sends a JSON command to the WebSocket. Caller must hold s.mu.
func (s *MarketStream) sendCommand(cmd WSCommand) error {
	s.conn.SetWriteDeadline(time.Now().Add(writeWait))

	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("marshal command: %w", err)
	}
	return s.conn.WriteMessage(websocket.TextMessage, data)
}

// readLoop reads frames and dispatches price ticks until shutdown. On
// disconnect it hands off to reconnect, which restarts the loop.
func (s *MarketStream) readLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.reconnect()
			return
		}

		s.handleMessage(message)
	}
}

// pingLoop sends periodic pings to keep the connection alive.
func (s *MarketStream) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}

			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage decodes a frame and fans last-trade-price ticks out to the
// handlers. The market channel may deliver a single object or an array.
func (s *MarketStream) handleMessage(raw []byte) {
	var frames []WSPriceMessage
	if err := json.Unmarshal(raw, &frames); err != nil {
		var single WSPriceMessage
		if err := json.Unmarshal(raw, &single); err != nil {
			return // drop unparseable frames
		}
		frames = []WSPriceMessage{single}
	}

	s.handlerMu.RLock()
	handlers := s.handlers
	s.handlerMu.RUnlock()

	for i := range frames {
		if frames[i].EventType != "last_trade_price" || frames[i].AssetID == "" {
			continue
		}
		update := frames[i].ToPriceUpdate()
		if update.Price <= 0 {
			continue
		}
		for _, h := range handlers {
			h(update)
		}
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the stream is closed.
func (s *MarketStream) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-s.done:
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := s.Connect(ctx)
		cancel()
		if err == nil {
			return
		}

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
