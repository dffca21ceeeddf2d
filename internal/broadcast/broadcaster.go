// Package broadcast pushes rendered view snapshots to Server-Sent Events clients.
package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dgnsrekt/gexlive/internal/viewmodel"
)

// Source renders the current view and notifies on change.
type Source interface {
	View() viewmodel.View
	Subscribe(bufSize int) (int, <-chan viewmodel.Update)
	Unsubscribe(id int)
}

// Broadcaster fans view updates out to connected SSE clients.
type Broadcaster struct {
	source    Source
	heartbeat time.Duration
	logger    *zap.Logger

	mu      sync.RWMutex
	clients map[*sseClient]bool
}

// sseClient represents a connected SSE subscriber.
type sseClient struct {
	id      string
	dataCh  chan []byte
	flusher http.Flusher
	writer  http.ResponseWriter
}

// New creates a broadcaster. A heartbeat comment is written every heartbeat
// interval so idle proxies keep the connection open.
func New(source Source, heartbeat time.Duration, logger *zap.Logger) *Broadcaster {
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}
	return &Broadcaster{
		source:    source,
		heartbeat: heartbeat,
		logger:    logger,
		clients:   make(map[*sseClient]bool),
	}
}

// Run forwards every view model update until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	id, updates := b.source.Subscribe(16)
	defer b.source.Unsubscribe(id)

	b.logger.Info("sse broadcaster starting", zap.Duration("heartbeat", b.heartbeat))

	ticker := time.NewTicker(b.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("sse broadcaster stopping")
			return
		case _, ok := <-updates:
			if !ok {
				return
			}
			b.broadcastView()
		case <-ticker.C:
			b.broadcastRaw([]byte(": ping\n\n"))
		}
	}
}

// HandleSSE streams view events to one subscriber.
func (b *Broadcaster) HandleSSE(w http.ResponseWriter, r *http.Request) {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client := &sseClient{
		id:      uuid.NewString(),
		dataCh:  make(chan []byte, 10),
		flusher: flusher,
		writer:  w,
	}

	b.addClient(client)
	defer b.removeClient(client)

	b.logger.Info("sse client connected",
		zap.String("client_id", client.id),
		zap.String("remote_addr", r.RemoteAddr),
	)

	// Send initial snapshot
	snapshot, err := formatEvent("snapshot", b.source.View())
	if err != nil {
		b.logger.Error("failed to encode snapshot", zap.Error(err))
		return
	}
	if err := client.write(snapshot); err != nil {
		b.logger.Debug("failed to send snapshot", zap.Error(err))
		return
	}

	for {
		select {
		case <-r.Context().Done():
			b.logger.Info("sse client disconnected", zap.String("client_id", client.id))
			return
		case eventData := <-client.dataCh:
			if err := client.write(eventData); err != nil {
				b.logger.Debug("failed to write to client", zap.Error(err))
				return
			}
		}
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) addClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.clients[client] = true
}

func (b *Broadcaster) removeClient(client *sseClient) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.clients, client)
}

func (b *Broadcaster) broadcastView() {
	eventData, err := formatEvent("view", b.source.View())
	if err != nil {
		b.logger.Error("failed to encode view", zap.Error(err))
		return
	}
	b.broadcastRaw(eventData)
}

func (b *Broadcaster) broadcastRaw(eventData []byte) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.dataCh <- eventData:
		default:
			// Channel full, client is slow
			b.logger.Debug("client channel full, dropping event",
				zap.String("client_id", client.id),
			)
		}
	}
}

func (c *sseClient) write(eventData []byte) error {
	if _, err := c.writer.Write(eventData); err != nil {
		return err
	}
	c.flusher.Flush()
	return nil
}

func formatEvent(eventType string, view viewmodel.View) ([]byte, error) {
	jsonData, err := json.Marshal(view)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf("event: %s\nid: %d\ndata: %s\n\n", eventType, view.Version, jsonData)), nil
}
