package trade

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/stockquest/trading-engine/internal/metrics"
)

const (
	wsWriteWait  = 5 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 64
)

// WSMessage is a JSON message sent to WebSocket clients. Instrument keys
// are sent as-is; real tickers are never broadcast.
type WSMessage struct {
	Type          string `json:"type"`
	SessionID     string `json:"session_id"`
	OrderID       string `json:"order_id,omitempty"`
	InstrumentKey string `json:"instrument_key,omitempty"`
	Side          string `json:"side,omitempty"`
	Quantity      string `json:"quantity,omitempty"`
	Price         string `json:"price,omitempty"`
	Balance       string `json:"balance,omitempty"`
	Status        string `json:"status,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

// wsClient is one connection and its outbound queue. An empty sessionID
// subscribes to every session.
type wsClient struct {
	conn      *websocket.Conn
	sessionID string
	send      chan []byte
}

func (c *wsClient) wants(sessionID string) bool {
	return c.sessionID == "" || c.sessionID == sessionID
}

type wsEvent struct {
	sessionID string
	data      []byte
}

// WSHub fans execution and session events out to WebSocket clients,
// optionally filtered by session.
type WSHub struct {
	clients    map[*wsClient]struct{}
	events     chan wsEvent
	register   chan *wsClient
	unregister chan *wsClient
	mu         sync.RWMutex
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*wsClient]struct{}),
		events:     make(chan wsEvent, 256),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
	}
}

// Run starts the hub's main event loop. Must be called in a goroutine.
func (h *WSHub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			h.mu.Unlock()
			h.observe()
			slog.Info("ws client connected", "session_filter", c.sessionID, "total", h.ClientCount())

		case c := <-h.unregister:
			h.mu.Lock()
			h.drop(c)
			h.mu.Unlock()
			h.observe()

		case ev := <-h.events:
			h.mu.Lock()
			for c := range h.clients {
				if !c.wants(ev.sessionID) {
					continue
				}
				select {
				case c.send <- ev.data:
				default:
					// Slow consumer: disconnect rather than stall the feed.
					h.drop(c)
				}
			}
			h.mu.Unlock()
			h.observe()
		}
	}
}

// drop removes c and closes its queue. Caller holds h.mu.
func (h *WSHub) drop(c *wsClient) {
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
}

func (h *WSHub) observe() {
	metrics.WebSocketClients.Set(float64(h.ClientCount()))
}

// ClientCount returns the number of registered clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast queues msg for every client subscribed to msg.SessionID.
// It never blocks order execution; events are dropped when the queue is
// full.
func (h *WSHub) Broadcast(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.events <- wsEvent{sessionID: msg.SessionID, data: data}:
	default:
		slog.Warn("ws event dropped", "type", msg.Type, "session_id", msg.SessionID)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // Allow all origins during development.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/ws. The
// optional session_id query parameter limits the feed to one session.
func (h *WSHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{
		conn:      conn,
		sessionID: r.URL.Query().Get("session_id"),
		send:      make(chan []byte, wsSendBuffer),
	}
	h.register <- c

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards inbound frames and detects disconnects.
func (h *WSHub) readPump(c *wsClient) {
	defer func() { h.unregister <- c }()
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the only writer of data frames on c.conn. It exits when
// the hub closes c.send.
func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
