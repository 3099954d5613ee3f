package stub

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // development stub, any origin
	},
}

// Hub fans push messages out to every connected console. The stub only
// pushes; anything a peer sends besides control frames is discarded.
type Hub struct {
	logger zerolog.Logger

	peers      map[*peer]bool
	broadcast  chan []byte
	register   chan *peer
	unregister chan *peer
	mu         sync.RWMutex
}

type peer struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// pushMessage is the envelope every push event travels in.
type pushMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp string      `json:"timestamp"`
}

// NewHub creates the push hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:     logger.With().Str("component", "stubhub").Logger(),
		peers:      make(map[*peer]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *peer),
		unregister: make(chan *peer),
	}
}

// Run drives the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case p := <-h.register:
			h.mu.Lock()
			h.peers[p] = true
			h.mu.Unlock()

		case p := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.peers[p]; ok {
				delete(h.peers, p)
				close(p.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.Lock()
			for p := range h.peers {
				select {
				case p.send <- message:
				default:
					close(p.send)
					delete(h.peers, p)
				}
			}
			h.mu.Unlock()
		}
	}
}

// Broadcast delivers one typed payload to every connected peer.
func (h *Hub) Broadcast(msgType string, payload interface{}) error {
	msg := pushMessage{
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.broadcast <- data
	return nil
}

// PeerCount returns the number of connected peers.
func (h *Hub) PeerCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.peers)
}

// HandleWebSocket upgrades the request and attaches the peer to the hub.
func (h *Hub) HandleWebSocket(c echo.Context) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	p := &peer{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	h.register <- p

	go p.writePump()
	go p.readPump()

	return nil
}

// readPump drains the connection so control frames are processed; the stub
// ignores peer payloads.
func (p *peer) readPump() {
	defer func() {
		p.hub.unregister <- p
		p.conn.Close()
	}()

	p.conn.SetReadLimit(maxMessageSize)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := p.conn.ReadMessage(); err != nil {
			return
		}
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
	}
}

// writePump pumps hub messages to the connection and keeps it pinged.
func (p *peer) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case message, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(p.send)
			for i := 0; i < n; i++ {
				if err := p.conn.WriteMessage(websocket.TextMessage, <-p.send); err != nil {
					return
				}
			}

		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
