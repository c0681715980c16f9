package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codehound/reviewhub/internal/auth"
)

// CloseForbidden is the close code sent when a handshake presents a missing,
// invalid, or expired token, or when the identity does not match the group.
const CloseForbidden = 4003

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendQueueSize  = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Conn is one persistent subscriber connection. The identity attached at
// handshake time travels with the connection; handlers never consult ambient
// state.
type Conn struct {
	hub      *Hub
	ws       *websocket.Conn
	send     chan []byte
	identity auth.Identity
	logger   *slog.Logger
}

// Attach upgrades the request to a websocket, joins it to group, and starts
// the connection pumps. The caller must have authenticated the identity
// before calling.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, group string, identity auth.Identity) error {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	conn := &Conn{
		hub:      h,
		ws:       ws,
		send:     make(chan []byte, sendQueueSize),
		identity: identity,
		logger:   h.logger,
	}
	h.Subscribe(group, conn)

	go conn.writePump()
	go conn.readPump()

	h.logger.Info("websocket connected", "group", group, "user_id", identity.UserID, "remote", ws.RemoteAddr())
	return nil
}

// Refuse upgrades the request just far enough to deliver the forbidden close
// code, so clients can tell an auth failure from a network error.
func (h *Hub) Refuse(w http.ResponseWriter, r *http.Request, reason string) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(CloseForbidden, reason)
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	_ = ws.Close()
	h.logger.Warn("websocket connection refused", "reason", reason, "remote", ws.RemoteAddr())
}

// RemoteAddr identifies the peer for logging.
func (c *Conn) RemoteAddr() string {
	return c.ws.RemoteAddr().String()
}

// readPump consumes inbound frames. The only client-to-server message is the
// application-level ping, answered with a pong carrying the same timestamp;
// it has no effect on subscription state.
func (c *Conn) readPump() {
	defer func() {
		c.hub.Drop(c)
		_ = c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read error", "remote", c.RemoteAddr(), "error", err)
			}
			return
		}
		// Reading a frame is as good as a pong for liveness.
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		var msg struct {
			Type      string `json:"type"`
			Timestamp any    `json:"timestamp"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			c.logger.Debug("ignoring malformed client frame", "remote", c.RemoteAddr())
			continue
		}
		if msg.Type == "ping" {
			reply, _ := json.Marshal(map[string]any{"type": "pong", "timestamp": msg.Timestamp})
			select {
			case c.send <- reply:
			default:
			}
		}
	}
}

// writePump drains the send queue and keeps the transport alive with
// protocol-level pings.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
