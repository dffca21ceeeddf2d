// Package ws pushes view model snapshots to WebSocket clients. Clients join
// named groups and receive data messages in their negotiated protocol.
package ws

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Hub manages WebSocket connections and group subscriptions.
type Hub struct {
	clients    map[*Client]bool
	groups     map[string]map[*Client]bool // group -> clients
	register   chan *Client
	unregister chan *Client
	codec      *Codec
	done       chan struct{}
	stopped    chan struct{}
	pumps      sync.WaitGroup // connections that may still use the codec
	mu         sync.RWMutex
	logger     *zap.Logger
}

// NewHub creates a new Hub.
func NewHub(codec *Codec, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		groups:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		codec:      codec,
		done:       make(chan struct{}),
		stopped:    make(chan struct{}),
		logger:     logger,
	}
}

// Run processes hub events. Call this in a goroutine.
// Returns when context is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.logger.Info("hub shutting down")
			h.shutdown()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", zap.String("connID", client.connID))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				// Remove from all groups
				for group := range client.groups {
					if clients, ok := h.groups[group]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.groups, group)
						}
					}
				}
				client.closeSend()
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", zap.String("connID", client.connID))
		}
	}
}

// shutdown closes all client connections. Connections accepted afterwards
// are closed immediately.
func (h *Hub) shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()

	close(h.done)
	for client := range h.clients {
		client.closeSend()
		client.conn.Close()
		delete(h.clients, client)
	}
	h.groups = make(map[string]map[*Client]bool)
}

// Wait blocks until Run has returned and every connection's read loop has
// exited. After Wait the codec is no longer used by the hub's connections.
// Call it only once Run's context has been cancelled.
func (h *Hub) Wait() {
	<-h.stopped
	h.pumps.Wait()
}

// track reserves a pump slot. It reports false once the hub has shut down.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	select {
	case <-h.done:
		return false
	default:
	}
	h.pumps.Add(1)
	return true
}

// JoinGroup adds a client to a group.
func (h *Hub) JoinGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.groups[group] == nil {
		h.groups[group] = make(map[*Client]bool)
	}
	h.groups[group][client] = true
	client.groups[group] = true

	h.logger.Debug("client joined group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// LeaveGroup removes a client from a group.
func (h *Hub) LeaveGroup(client *Client, group string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if clients, ok := h.groups[group]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.groups, group)
		}
	}
	delete(client.groups, group)

	h.logger.Debug("client left group",
		zap.String("connID", client.connID),
		zap.String("group", group),
	)
}

// GetActiveGroups returns all groups with at least one subscriber.
func (h *Hub) GetActiveGroups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var groups []string
	for group, clients := range h.groups {
		if len(clients) > 0 {
			groups = append(groups, group)
		}
	}
	return groups
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// BroadcastData sends one data message to all clients in a group. The
// envelope is encoded at most once per protocol.
func (h *Hub) BroadcastData(group string, version uint64, data map[string]any) {
	h.mu.RLock()
	clients, ok := h.groups[group]
	if !ok {
		h.mu.RUnlock()
		return
	}
	// Copy clients to avoid holding lock during send
	clientList := make([]*Client, 0, len(clients))
	for client := range clients {
		clientList = append(clientList, client)
	}
	h.mu.RUnlock()

	msg := dataMessage(group, version, data)
	encoded := make(map[Protocol][]byte, 2)

	for _, client := range clientList {
		frame, ok := encoded[client.protocol]
		if !ok {
			var err error
			frame, err = h.codec.Encode(client.protocol, msg)
			if err != nil {
				h.logger.Error("failed to encode data message",
					zap.String("group", group),
					zap.String("protocol", string(client.protocol)),
					zap.Error(err),
				)
				return
			}
			encoded[client.protocol] = frame
		}

		if !client.trySend(frame) {
			// Buffer full, schedule disconnect
			go h.remove(client)
		}
	}
}

// remove unregisters a client unless the hub has already shut down.
func (h *Hub) remove(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
