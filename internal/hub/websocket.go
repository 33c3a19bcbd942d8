package hub

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Dashboards are served from a separate origin.
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS upgrades an HTTP request to a websocket dashboard subscription.
// The client receives the snapshot frame first, then live broadcasts
// until it disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade websocket", "error", err)
		return
	}

	// The subscription must outlive this handler: net/http cancels
	// r.Context() as soon as ServeWS returns, even on an upgraded
	// connection. The pumps own the lifetime through cancel.
	ctx, cancel := context.WithCancel(context.Background())
	frames, unsubscribe, err := h.Subscribe(ctx)
	if err != nil {
		h.logger.Error("Websocket subscribe failed", "error", err)
		cancel()
		conn.Close()
		return
	}

	client := &wsClient{
		conn:   conn,
		frames: frames,
		cancel: cancel,
		logger: h.logger,
	}
	go client.writePump()
	go client.readPump()

	// Unsubscribe when the subscription context ends, whichever pump
	// cancels it first.
	go func() {
		<-ctx.Done()
		unsubscribe()
	}()
}

// wsClient is a middleman between one websocket connection and the hub.
type wsClient struct {
	conn   *websocket.Conn
	frames <-chan []byte
	cancel context.CancelFunc
	logger *slog.Logger
}

// readPump consumes inbound frames. Dashboard clients never send
// meaningful data, but reading is required to process close frames.
func (c *wsClient) readPump() {
	defer func() {
		c.cancel()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("Websocket client closed unexpectedly", "error", err)
			}
			return
		}
	}
}

// writePump pumps broadcast frames from the hub to the websocket.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.frames:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
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
