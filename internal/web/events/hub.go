// Package events pushes packet ingest notifications to websocket clients.
package events

import (
	"context"
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/mrc-ide/outpack-server/internal/metadata"
)

// TypePacketAdded is the type of the message sent for each ingested packet
const TypePacketAdded = "packet_added"

// Message is one event sent to clients
type Message struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// PacketAdded is the payload of a packet_added message
type PacketAdded struct {
	ID         string                    `json:"id"`
	Name       string                    `json:"name"`
	Parameters map[string]metadata.Value `json:"parameters"`
	Time       metadata.PacketTime       `json:"time"`
}

// ClientObserver is told when clients come and go
type ClientObserver interface {
	ClientConnected()
	ClientDisconnected()
}

// Hub fans messages out to every connected client
type Hub struct {
	clients   map[*Client]bool
	clientsMu sync.RWMutex

	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	logger   *zap.Logger
	observer ClientObserver

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewHub creates a hub. Call Run to start it.
func NewHub(ctx context.Context, logger *zap.Logger, observer ClientObserver) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	hubCtx, cancel := context.WithCancel(ctx)

	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		broadcast:  make(chan []byte, 1024),
		logger:     logger,
		observer:   observer,
		ctx:        hubCtx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns once the hub's context is
// cancelled, after disconnecting every client.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.cleanup()
			return

		case client := <-h.register:
			h.clientsMu.Lock()
			h.clients[client] = true
			h.clientsMu.Unlock()
			if h.observer != nil {
				h.observer.ClientConnected()
			}
			h.logger.Debug("event client connected", zap.String("client", client.ID), zap.Int("total", h.ClientCount()))

		case client := <-h.unregister:
			h.remove(client)

		case data := <-h.broadcast:
			h.clientsMu.RLock()
			for client := range h.clients {
				select {
				case client.send <- data:
				default:
					h.logger.Warn("dropping event for slow client", zap.String("client", client.ID))
				}
			}
			h.clientsMu.RUnlock()
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.clientsMu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.clientsMu.Unlock()

	if ok {
		if h.observer != nil {
			h.observer.ClientDisconnected()
		}
		h.logger.Debug("event client disconnected", zap.String("client", client.ID))
	}
}

// Broadcast queues msg for every client. It never blocks; when the queue is
// full the message is dropped.
func (h *Hub) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("failed to encode event", zap.Error(err))
		return
	}

	select {
	case h.broadcast <- data:
	case <-h.ctx.Done():
	default:
		h.logger.Warn("event queue full, message dropped", zap.String("type", msg.Type))
	}
}

// PacketAdded broadcasts a packet_added event. It has the shape of an
// index.Listener.
func (h *Hub) PacketAdded(p *metadata.Packet) {
	h.Broadcast(Message{
		Type: TypePacketAdded,
		Data: PacketAdded{
			ID:         p.ID,
			Name:       p.Name,
			Parameters: p.Parameters,
			Time:       p.Time,
		},
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.clientsMu.RLock()
	defer h.clientsMu.RUnlock()
	return len(h.clients)
}

func (h *Hub) cleanup() {
	h.clientsMu.Lock()
	clients := h.clients
	h.clients = make(map[*Client]bool)
	h.clientsMu.Unlock()

	for client := range clients {
		close(client.send)
		if h.observer != nil {
			h.observer.ClientDisconnected()
		}
	}
	h.logger.Info("event hub stopped", zap.Int("clients", len(clients)))
}

// Shutdown stops the hub and waits for Run to return
func (h *Hub) Shutdown() {
	h.cancel()
	<-h.done
}
