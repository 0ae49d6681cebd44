package mockapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// PushMessage is the frame the relay writes to a subscribed device.
type PushMessage struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Hub fans pushed frames out to the websocket connections of each
// device.
type Hub struct {
	mu      sync.RWMutex
	devices map[string]map[*wsClient]bool
	log     zerolog.Logger
}

type wsClient struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	device string
}

// NewHub creates an empty Hub.
func NewHub(log zerolog.Logger) *Hub {
	return &Hub{
		devices: make(map[string]map[*wsClient]bool),
		log:     log,
	}
}

// Connected returns how many connections device currently has.
func (h *Hub) Connected(device string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.devices[device])
}

// Send queues msg for every connection of device. Slow connections are
// dropped rather than allowed to block the sender.
func (h *Hub) Send(device string, msg []byte) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := 0
	for c := range h.devices[device] {
		select {
		case c.send <- msg:
			sent++
		default:
			h.removeLocked(c)
		}
	}
	return sent
}

// CloseAll disconnects every device.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, clients := range h.devices {
		for c := range clients {
			h.removeLocked(c)
		}
	}
}

func (h *Hub) register(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.devices[c.device] == nil {
		h.devices[c.device] = make(map[*wsClient]bool)
	}
	h.devices[c.device][c] = true
	h.log.Debug().Str("device", c.device).Msg("push client connected")
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *Hub) removeLocked(c *wsClient) {
	clients, ok := h.devices[c.device]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	if len(clients) == 0 {
		delete(h.devices, c.device)
	}
	h.log.Debug().Str("device", c.device).Msg("push client disconnected")
}

// handle upgrades GET /push/:device.
func (h *Hub) handle(ctx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		device := c.Param("device")
		if device == "" {
			abortDetail(c, http.StatusBadRequest, "device is required")
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.log.Warn().Err(err).Msg("websocket upgrade")
			return
		}

		client := &wsClient{
			hub:    h,
			conn:   conn,
			send:   make(chan []byte, 64),
			device: device,
		}
		h.register(client)

		go client.writePump(ctx)
		go client.readPump()
	}
}

// readPump discards inbound frames and keeps the read deadline fresh.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug().Err(err).Msg("push client read")
			}
			return
		}
	}
}

func (c *wsClient) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
			return

		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
