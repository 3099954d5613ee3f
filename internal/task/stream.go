package task

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// pushEnvelope is the wire shape of a push-channel message.
type pushEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// taskUpdatePayload is the payload of a task_update event.
type taskUpdatePayload struct {
	Action string                 `json:"action"`
	Task   map[string]interface{} `json:"task"`
}

// Stream maintains the persistent push-channel connection feeding the task
// mirror. Connect is idempotent; a second call while connected is a no-op.
type Stream struct {
	svc     *Service
	url     string
	tokenFn func() string
	logger  zerolog.Logger

	// OnDisconnect, when set, runs after the connection drops for any
	// reason other than an explicit Disconnect.
	OnDisconnect func(err error)

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	closing   bool
	done      chan struct{}
}

// NewStream creates a push-channel consumer for svc. baseURL is the
// backend's HTTP base; pushPath the channel path (e.g. /api/ws).
func NewStream(svc *Service, baseURL, pushPath string, tokenFn func() string, logger zerolog.Logger) (*Stream, error) {
	wsURL, err := toWebsocketURL(baseURL, pushPath)
	if err != nil {
		return nil, err
	}

	return &Stream{
		svc:     svc,
		url:     wsURL,
		tokenFn: tokenFn,
		logger:  logger.With().Str("component", "taskstream").Logger(),
	}, nil
}

func toWebsocketURL(baseURL, pushPath string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + pushPath
	return u.String(), nil
}

// Connect establishes the push channel. Calling Connect while already
// connected is a no-op.
func (s *Stream) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	header := http.Header{}
	if s.tokenFn != nil {
		if token := s.tokenFn(); token != "" {
			header.Set("Authorization", "Bearer "+token)
		}
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("push channel dial failed (status %d): %w", resp.StatusCode, err)
		}
		return fmt.Errorf("push channel dial failed: %w", err)
	}

	s.conn = conn
	s.connected = true
	s.closing = false
	s.done = make(chan struct{})

	go s.readPump(conn, s.done)
	go s.pingPump(conn, s.done)

	s.logger.Info().Str("url", s.url).Msg("Push channel connected")
	return nil
}

// Connected reports whether the push channel is up.
func (s *Stream) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

// Disconnect tears the channel down. Safe to call when not connected.
func (s *Stream) Disconnect() {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		return
	}
	s.closing = true
	conn := s.conn
	done := s.done
	s.mu.Unlock()

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(writeWait))
	conn.Close()
	<-done
}

// readPump applies incoming events until the connection drops.
func (s *Stream) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			s.handleDrop(err)
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))
		s.handleMessage(message)
	}
}

// pingPump keeps the connection alive until it drops.
func (s *Stream) pingPump(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Stream) handleMessage(message []byte) {
	var env pushEnvelope
	if err := json.Unmarshal(message, &env); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping unparseable push message")
		return
	}
	if env.Type != "task_update" {
		return
	}

	var payload taskUpdatePayload
	if err := json.Unmarshal(env.Payload, &payload); err != nil {
		s.logger.Warn().Err(err).Msg("Dropping malformed task_update payload")
		return
	}

	s.svc.Apply(Action(payload.Action), payload.Task)
}

func (s *Stream) handleDrop(err error) {
	s.mu.Lock()
	wasClosing := s.closing
	s.connected = false
	s.conn = nil
	s.mu.Unlock()

	if wasClosing {
		s.logger.Info().Msg("Push channel closed")
		return
	}

	s.logger.Warn().Err(err).Msg("Push channel dropped")
	if s.OnDisconnect != nil {
		s.OnDisconnect(err)
	}
}
