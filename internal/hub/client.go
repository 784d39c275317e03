package hub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// MessageHandler processes one inbound text frame of a client
type MessageHandler interface {
	HandleMessage(ctx context.Context, client *Client, message []byte)
}

// MessageHandlerFunc adapts a function to MessageHandler
type MessageHandlerFunc func(ctx context.Context, client *Client, message []byte)

// HandleMessage calls f(ctx, client, message)
func (f MessageHandlerFunc) HandleMessage(ctx context.Context, client *Client, message []byte) {
	f(ctx, client, message)
}

// Client is one WebSocket connection streaming a single chart
type Client struct {
	hub     *Hub
	chartID string
	conn    *websocket.Conn
	handler MessageHandler

	mu     sync.Mutex
	send   chan interface{}
	closed bool

	lastActive atomic.Int64
}

// NewClient wraps an upgraded connection. The client does nothing until
// passed to Serve.
func (h *Hub) NewClient(conn *websocket.Conn, chartID string, handler MessageHandler) *Client {
	c := &Client{
		hub:     h,
		chartID: chartID,
		conn:    conn,
		handler: handler,
		send:    make(chan interface{}, h.opts.SendBuffer),
	}
	c.touch()
	return c
}

// ChartID returns the chart the client streams
func (c *Client) ChartID() string {
	return c.chartID
}

// Send queues a JSON frame without blocking. It reports false if the client
// is closed or its buffer is full.
func (c *Client) Send(frame interface{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) touch() {
	c.lastActive.Store(time.Now().UnixNano())
}

// LastActive returns the time of the last inbound message or outbound ping
func (c *Client) LastActive() time.Time {
	return time.Unix(0, c.lastActive.Load())
}

// closeWith sends a close frame with the given code and drops the connection
func (c *Client) closeWith(code int, reason string) {
	deadline := time.Now().Add(c.hub.opts.WriteWait)
	if err := c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline); err != nil {
		c.hub.logger.Debug("Failed to send close frame", zap.Error(err), zap.String("chartID", c.chartID))
	}
	c.conn.Close()
}

// readPump handles incoming messages until the connection fails
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
		c.hub.logger.Debug("Client disconnected", zap.String("chartID", c.chartID))
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.hub.logger.Info("WebSocket error", zap.Error(err), zap.String("chartID", c.chartID))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.touch()
		if c.handler != nil {
			c.handler.HandleMessage(ctx, c, message)
		}
	}
}

// writePump sends queued frames and protocol pings to the client
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteJSON(frame); err != nil {
				c.hub.logger.Debug("Write error", zap.Error(err), zap.String("chartID", c.chartID))
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
