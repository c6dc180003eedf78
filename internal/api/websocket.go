package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pumplink/pumplink-core/internal/auth"
	"github.com/pumplink/pumplink-core/internal/infrastructure/config"
	"github.com/pumplink/pumplink-core/internal/infrastructure/logging"
	"github.com/pumplink/pumplink-core/internal/stream"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// wsSendBufferSize is the per-client outbound message buffer size.
	wsSendBufferSize = 256
)

// WSMessage represents a message sent to/from a WebSocket client.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	DeviceID  string `json:"deviceId,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// errClientGone marks a client whose outbound buffer is closed or full.
// The broker drops such clients; they resubscribe for a fresh replay.
var errClientGone = errors.New("api: websocket client gone")

// upgrader configures the WebSocket upgrader.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Token auth is the gate; viewers connect from anywhere on the ward network.
		return true
	},
}

// wsClient is a connected viewer. It is the concrete stream.Subscriber:
// the broker calls Send for every event on the device rooms the client
// has joined.
type wsClient struct {
	id      string
	conn    *websocket.Conn
	send    chan []byte
	broker  *stream.Broker
	logger  *logging.Logger
	subject string

	mu     sync.Mutex
	closed bool
}

// ID uniquely identifies the client within the broker.
func (c *wsClient) ID() string { return c.id }

// Send queues one stream event for delivery. It never blocks: a closed
// or saturated client reports errClientGone and the broker removes it.
func (c *wsClient) Send(event stream.Event) error {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		DeviceID:  event.DeviceID,
		Timestamp: event.Timestamp.Format(time.RFC3339),
		Payload: map[string]any{
			"type": event.Type,
			"data": event.Payload,
		},
	})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errClientGone
	}

	select {
	case c.send <- data:
		return nil
	default:
		return errClientGone
	}
}

// close marks the client dead and closes its send channel once.
func (c *wsClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// handleWebSocket upgrades the HTTP connection to a WebSocket connection.
// Authentication is via the token query parameter, since browser WebSocket
// clients cannot set an Authorization header.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeUnauthorized(w, "token query parameter is required")
		return
	}
	claims, err := auth.VerifyToken(token, s.secCfg.JWT.Secret, s.secCfg.JWT.Issuer)
	if err != nil {
		writeUnauthorized(w, "invalid or expired token")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		id:      uuid.New().String(),
		conn:    conn,
		send:    make(chan []byte, wsSendBufferSize),
		broker:  s.broker,
		logger:  s.logger,
		subject: claims.Subject,
	}

	s.logger.Info("viewer connected", "subject", claims.Subject, "client_id", client.id)

	go client.writePump(s.wsCfg)
	go client.readPump(s.wsCfg)
}

// readPump reads subscribe/unsubscribe messages from the connection.
// On exit the client leaves every room and the connection closes.
func (c *wsClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.broker.UnsubscribeAll(c)
		c.close()
		c.conn.Close()
		c.logger.Info("viewer disconnected", "subject", c.subject, "client_id", c.id)
	}()

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	pongWait := time.Duration(cfg.PongTimeout) * time.Second
	//nolint:errcheck // Best-effort deadline on connection setup
	c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", "client_id", c.id, "error", err)
			}
			return
		}
		// Any client message resets the read deadline.
		//nolint:errcheck // Best-effort deadline reset
		c.conn.SetReadDeadline(time.Now().Add(pingInterval + pongWait))
		c.handleMessage(message)
	}
}

// writePump writes queued messages and protocol pings to the connection.
func (c *wsClient) writePump(cfg config.WebSocketConfig) {
	pingInterval := time.Duration(cfg.PingInterval) * time.Second
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	pongWait := time.Duration(cfg.PongTimeout) * time.Second

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				//nolint:errcheck // Best-effort close message
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			//nolint:errcheck // Best-effort deadline; write error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			c.conn.SetWriteDeadline(time.Now().Add(pongWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming WebSocket message.
func (c *wsClient) handleMessage(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe:
		c.handleSubscribe(msg)
	case WSTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case WSTypePing:
		c.sendResponse(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

// handleSubscribe joins the client to a device room. The broker sends
// the subscribed ack and replay itself; a rejection for an unknown
// device also arrives as a broker error event.
func (c *wsClient) handleSubscribe(msg WSMessage) {
	if msg.DeviceID == "" {
		c.sendError(msg.ID, "deviceId is required")
		return
	}

	if err := c.broker.Subscribe(context.Background(), c, msg.DeviceID); err != nil {
		c.logger.Debug("subscription rejected",
			"client_id", c.id, "device_id", msg.DeviceID, "error", err)
		return
	}
	c.logger.Debug("viewer subscribed", "client_id", c.id, "device_id", msg.DeviceID)
}

// handleUnsubscribe removes the client from a device room.
func (c *wsClient) handleUnsubscribe(msg WSMessage) {
	if msg.DeviceID == "" {
		c.sendError(msg.ID, "deviceId is required")
		return
	}

	c.broker.Unsubscribe(c, msg.DeviceID)
	c.sendResponse(msg.ID, WSTypeResponse, map[string]any{
		"unsubscribed": msg.DeviceID,
	})
}

// sendResponse sends a response message to the client.
func (c *wsClient) sendResponse(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- data:
	default:
		// Client buffer full, skip
	}
}

// sendError sends an error message to the client.
func (c *wsClient) sendError(id, message string) {
	c.sendResponse(id, WSTypeError, map[string]string{"message": message})
}
