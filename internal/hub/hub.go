// Package hub fans session events out to connected clients.
//
// A single loop goroutine owns the set of active clients. Every other goroutine
// (HTTP handlers, session goroutines) talks to it through channels, so events
// handed to Broadcast by one goroutine reach every client in the order they were
// handed over.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"ourtube/internal/config"
	"ourtube/internal/entity"
	"ourtube/internal/observability"
)

const (
	defaultPongTimeout  = 60 * time.Second
	defaultWriteTimeout = 10 * time.Second
)

var (
	// ErrHubClosed is returned when the hub loop is no longer running.
	ErrHubClosed = errors.New("hub closed")
	// ErrClientSlow is returned by a client whose outgoing buffer is full.
	ErrClientSlow = errors.New("client buffer full")
)

// Client is a connected receiver of broadcast messages.
// Send must not block. Close releases the client and may be called once by the hub.
type Client interface {
	Send(msg []byte) error
	Close()
}

// Hub maintains the set of connected clients and delivers events to all of them.
type Hub struct {
	log     *slog.Logger
	cfg     config.Hub
	metrics *observability.Metrics

	register   chan Client
	unregister chan Client
	broadcast  chan []byte
	done       chan struct{}

	// owned by Run
	clients map[Client]struct{}
	count   atomic.Int64
}

// New creates a hub. Run must be started before clients register.
func New(log *slog.Logger, cfg *config.Config, metrics *observability.Metrics) *Hub {
	hubCfg := cfg.Hub
	if hubCfg.PongTimeout <= 0 {
		hubCfg.PongTimeout = defaultPongTimeout
	}

	if hubCfg.WriteTimeout <= 0 {
		hubCfg.WriteTimeout = defaultWriteTimeout
	}

	return &Hub{
		log:        log.With(slog.String("package", "hub")),
		cfg:        hubCfg,
		metrics:    metrics,
		register:   make(chan Client),
		unregister: make(chan Client),
		broadcast:  make(chan []byte, max(cfg.Hub.BroadcastBuffer, 1)),
		done:       make(chan struct{}),
		clients:    make(map[Client]struct{}),
	}
}

// Run processes registrations and broadcasts until ctx is done, then closes every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)

	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.setCount()

			h.log.DebugContext(ctx, "client registered", slog.Int("clients", len(h.clients)))
		case c := <-h.unregister:
			if _, ok := h.clients[c]; !ok {
				continue
			}

			delete(h.clients, c)
			c.Close()
			h.setCount()

			h.log.DebugContext(ctx, "client unregistered", slog.Int("clients", len(h.clients)))
		case msg := <-h.broadcast:
			h.deliver(ctx, msg)
		case <-ctx.Done():
			for c := range h.clients {
				delete(h.clients, c)
				c.Close()
			}

			h.setCount()
			h.log.InfoContext(ctx, "hub stopped", slog.Any("reason", ctx.Err()))

			return
		}
	}
}

func (h *Hub) deliver(ctx context.Context, msg []byte) {
	dropped := 0

	for c := range h.clients {
		if err := c.Send(msg); err != nil {
			delete(h.clients, c)
			c.Close()

			dropped++

			h.log.WarnContext(ctx, "client dropped", slog.Any("error", err))
		}
	}

	if dropped > 0 {
		h.setCount()
	}

	if h.metrics != nil {
		h.metrics.RecordBroadcast(dropped)
	}
}

func (h *Hub) setCount() {
	h.count.Store(int64(len(h.clients)))

	if h.metrics != nil {
		h.metrics.SetHubClients(len(h.clients))
	}
}

// Register adds a client to the active set.
func (h *Hub) Register(c Client) error {
	select {
	case h.register <- c:
		return nil
	case <-h.done:
		return ErrHubClosed
	}
}

// Unregister removes a client from the active set. Removing an absent client is a no-op.
func (h *Hub) Unregister(c Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// Broadcast hands the event to the hub loop for delivery to every active client.
// Delivery failures are handled by the loop and never reported to the caller.
func (h *Hub) Broadcast(ev entity.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.log.Error("marshal event", slog.Any("error", err), slog.Any("event", ev))

		return
	}

	select {
	case h.broadcast <- msg:
	case <-h.done:
		h.log.Debug("event discarded after hub stop", slog.Any("event", ev))
	}
}

// Count returns the number of active clients.
func (h *Hub) Count() int {
	return int(h.count.Load())
}

// Done is closed once Run has returned.
func (h *Hub) Done() <-chan struct{} {
	return h.done
}
