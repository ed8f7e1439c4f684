package hub

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// maxClientMessage bounds frames read from clients; they only send keepalives.
const maxClientMessage = 512

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The frontend is served from a different origin.
	CheckOrigin: func(*http.Request) bool { return true },
}

type wsClient struct {
	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once
}

// Send queues msg without blocking. A full queue means the client cannot keep up.
func (c *wsClient) Send(msg []byte) error {
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrClientSlow
	}
}

// Close stops the write pump, which then closes the connection.
func (c *wsClient) Close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ServeWS upgrades the request, registers the connection and blocks until the client goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	log := h.log.With(slog.String("func", "ServeWS"), slog.String("remote_addr", r.RemoteAddr))

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.WarnContext(r.Context(), "ws upgrade failed", slog.Any("error", err))

		return
	}

	client := &wsClient{
		hub:  h,
		conn: conn,
		send: make(chan []byte, max(h.cfg.ClientBuffer, 1)),
	}

	if err := h.Register(client); err != nil {
		log.WarnContext(r.Context(), "ws register failed", slog.Any("error", err))
		conn.Close()

		return
	}

	go client.writePump()

	client.readPump()

	log.DebugContext(r.Context(), "ws client disconnected")
}

// readPump discards incoming frames and returns when the connection fails or closes.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongTimeout := c.hub.cfg.PongTimeout

	c.conn.SetReadLimit(maxClientMessage)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Debug("ws read failed", slog.Any("error", err))
			}

			return
		}

		// any client frame counts as keepalive
		_ = c.conn.SetReadDeadline(time.Now().Add(pongTimeout))
	}
}

// writePump drains the send queue and pings the client until the queue is closed or a write fails.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval())

	defer func() {
		ticker.Stop()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	writeTimeout := c.hub.cfg.WriteTimeout

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))

				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				if !errors.Is(err, websocket.ErrCloseSent) {
					c.hub.log.Debug("ws write failed", slog.Any("error", err))
				}

				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
