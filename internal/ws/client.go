package ws

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	// Send buffer size per client.
	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // dashboard may be served from another origin
	Subprotocols:    []string{SubprotocolProtobuf, SubprotocolJSON},
}

// Client represents a WebSocket client connection.
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	connID   string
	groups   map[string]bool
	logger   *zap.Logger
	protocol Protocol

	// sendMu guards send against a concurrent close by the hub.
	sendMu sync.Mutex
	closed bool
}

// HandleWS upgrades the connection. The client is joined to the view group
// unless the "groups" query parameter is present and empty.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	protocol := ProtocolJSON
	var responseHeader http.Header
	for _, proto := range websocket.Subprotocols(r) {
		switch proto {
		case SubprotocolProtobuf:
			protocol = ProtocolProtobuf
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		case SubprotocolJSON:
			protocol = ProtocolJSON
			responseHeader = http.Header{"Sec-WebSocket-Protocol": {proto}}
		}
		if responseHeader != nil {
			break
		}
	}

	conn, err := upgrader.Upgrade(w, r, responseHeader)
	if err != nil {
		h.logger.Error("websocket upgrade failed", zap.Error(err))
		return
	}
	if !h.track() {
		conn.Close()
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBufferSize),
		connID:   uuid.New().String(),
		groups:   make(map[string]bool),
		logger:   h.logger,
		protocol: protocol,
	}

	h.logger.Debug("websocket connected",
		zap.String("connID", client.connID),
		zap.String("protocol", string(protocol)),
	)

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		h.pumps.Done()
		return
	}
	client.sendEnvelope(connectedMessage(client.connID))

	if !r.URL.Query().Has("groups") {
		h.JoinGroup(client, GroupView)
	}

	// Start read/write pumps
	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.remove(c)
		c.conn.Close()
		c.hub.pumps.Done()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Debug("websocket read error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
			}
			break
		}
		c.handleMessage(message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	msgType := websocket.BinaryMessage
	if c.protocol == ProtocolJSON {
		msgType = websocket.TextMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed, send close message
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(msgType, message); err != nil {
				c.logger.Debug("websocket write error",
					zap.String("connID", c.connID),
					zap.Error(err),
				)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming upstream message.
func (c *Client) handleMessage(data []byte) {
	env, err := c.hub.codec.Decode(c.protocol, data)
	if err != nil {
		c.logger.Debug("failed to decode upstream message",
			zap.String("connID", c.connID),
			zap.String("protocol", string(c.protocol)),
			zap.Error(err),
		)
		return
	}
	msg, err := parseUpstream(env)
	if err != nil {
		c.logger.Debug("failed to parse upstream message",
			zap.String("connID", c.connID),
			zap.Error(err),
		)
		return
	}

	switch m := msg.(type) {
	case *joinGroupRequest:
		ok := validGroups[m.group]
		if ok {
			c.hub.JoinGroup(c, m.group)
		} else {
			c.logger.Debug("invalid group name",
				zap.String("connID", c.connID),
				zap.String("group", m.group),
			)
		}
		if m.ackID != nil {
			c.sendEnvelope(ackMessage(*m.ackID, ok))
		}

	case *leaveGroupRequest:
		c.hub.LeaveGroup(c, m.group)
		if m.ackID != nil {
			c.sendEnvelope(ackMessage(*m.ackID, true))
		}

	case *pingRequest:
		c.sendEnvelope(pongMessage())
	}
}

func (c *Client) sendEnvelope(msg map[string]any) {
	frame, err := c.hub.codec.Encode(c.protocol, msg)
	if err != nil {
		c.logger.Error("failed to encode message", zap.String("connID", c.connID), zap.Error(err))
		return
	}
	c.trySend(frame)
}

// trySend queues a frame without blocking. It reports false when the buffer is full.
func (c *Client) trySend(frame []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once. Called by the hub.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}
