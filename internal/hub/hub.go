// Package hub implements the realtime fan-out layer: named subscription
// groups over persistent websocket connections.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/codehound/reviewhub/internal/core"
)

type subscription struct {
	group string
	conn  *Conn
}

type groupMessage struct {
	group string
	frame []byte
}

// Hub maintains group membership tables and pushes events to every member of
// a group. All membership mutation happens on the Run goroutine, so no locks
// are needed on the tables. Delivery is at-most-once and best-effort: a slow
// subscriber loses messages rather than stalling the publisher.
type Hub struct {
	logger *slog.Logger

	register   chan subscription
	unregister chan subscription
	detach     chan *Conn
	broadcast  chan groupMessage
	done       chan struct{}

	groups      map[string]map[*Conn]struct{}
	memberships map[*Conn]map[string]struct{}
}

// New creates a hub. Call Run before attaching connections.
func New(logger *slog.Logger) *Hub {
	return &Hub{
		logger:      logger,
		register:    make(chan subscription),
		unregister:  make(chan subscription),
		detach:      make(chan *Conn),
		broadcast:   make(chan groupMessage, 256),
		done:        make(chan struct{}),
		groups:      make(map[string]map[*Conn]struct{}),
		memberships: make(map[*Conn]map[string]struct{}),
	}
}

// Run processes membership changes and broadcasts until ctx is cancelled.
// Once it returns, membership calls become no-ops instead of blocking.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			return
		case sub := <-h.register:
			h.add(sub.group, sub.conn)
		case sub := <-h.unregister:
			h.remove(sub.group, sub.conn)
		case conn := <-h.detach:
			for group := range h.memberships[conn] {
				h.remove(group, conn)
			}
			close(conn.send)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Subscribe joins a connection to a group.
func (h *Hub) Subscribe(group string, conn *Conn) {
	select {
	case h.register <- subscription{group: group, conn: conn}:
	case <-h.done:
	}
}

// Unsubscribe removes a connection from one group. Other memberships are
// unaffected.
func (h *Hub) Unsubscribe(group string, conn *Conn) {
	select {
	case h.unregister <- subscription{group: group, conn: conn}:
	case <-h.done:
	}
}

// Drop removes a connection from every group and releases its send queue.
// Called by the connection's read pump on disconnect.
func (h *Hub) Drop(conn *Conn) {
	select {
	case h.detach <- conn:
	case <-h.done:
	}
}

// Publish fans an event out to every member of a group. It never blocks: if
// the hub itself is saturated the event is dropped with a warning, keeping
// notification strictly a side channel for the state machine.
func (h *Hub) Publish(group string, event core.Event) {
	frame, err := encodeFrame(event)
	if err != nil {
		h.logger.Error("failed to encode fan-out event", "group", group, "type", event.Type, "error", err)
		return
	}
	select {
	case h.broadcast <- groupMessage{group: group, frame: frame}:
	default:
		h.logger.Warn("fan-out queue saturated, dropping event", "group", group, "type", event.Type)
	}
}

func (h *Hub) add(group string, conn *Conn) {
	members, ok := h.groups[group]
	if !ok {
		members = make(map[*Conn]struct{})
		h.groups[group] = members
	}
	members[conn] = struct{}{}

	subs, ok := h.memberships[conn]
	if !ok {
		subs = make(map[string]struct{})
		h.memberships[conn] = subs
	}
	subs[group] = struct{}{}

	h.logger.Debug("subscriber joined group", "group", group, "members", len(members))
}

func (h *Hub) remove(group string, conn *Conn) {
	if members, ok := h.groups[group]; ok {
		delete(members, conn)
		if len(members) == 0 {
			delete(h.groups, group)
		}
	}
	if subs, ok := h.memberships[conn]; ok {
		delete(subs, group)
		if len(subs) == 0 {
			delete(h.memberships, conn)
		}
	}
}

// deliver pushes a frame to each member. Per-subscriber order matches publish
// order because both the hub loop and each send queue are FIFO; a full send
// queue drops the frame for that subscriber only.
func (h *Hub) deliver(msg groupMessage) {
	for conn := range h.groups[msg.group] {
		select {
		case conn.send <- msg.frame:
		default:
			h.logger.Warn("subscriber backpressure, dropping frame",
				"group", msg.group, "remote", conn.RemoteAddr())
		}
	}
}

func encodeFrame(event core.Event) ([]byte, error) {
	frame := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		frame[k] = v
	}
	frame["type"] = event.Type
	return json.Marshal(frame)
}
