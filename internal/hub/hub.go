package hub

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/service"
)

// Close codes and reasons sent by the hub
const (
	CloseReasonTimeout  = "Connection timeout"
	CloseReasonShutdown = "Server shutting down"
)

// Source hands out per-chart event subscriptions
type Source interface {
	Subscribe(chartID string, sink service.EventSink) func()
}

// Options tunes connection handling
type Options struct {
	Timeout         time.Duration
	PingInterval    time.Duration
	CleanupInterval time.Duration
	WriteWait       time.Duration
	MaxMessageSize  int64
	SendBuffer      int
}

// DefaultOptions returns the stock connection settings
func DefaultOptions() Options {
	return Options{
		Timeout:         300 * time.Second,
		PingInterval:    30 * time.Second,
		CleanupInterval: 60 * time.Second,
		WriteWait:       10 * time.Second,
		MaxMessageSize:  512 * 1024,
		SendBuffer:      256,
	}
}

// PingFrame is the application level keepalive sent to every client
type PingFrame struct {
	Type      string  `json:"type"`
	Timestamp float64 `json:"timestamp"`
}

type broadcastMessage struct {
	chartID string
	frame   interface{}
}

type resubscription struct {
	chartID     string
	unsubscribe func()
}

type chartClients struct {
	clients     map[*Client]struct{}
	unsubscribe func()
}

// Hub tracks the clients of every chart. Its run loop owns the registry;
// other goroutines reach it through channels.
type Hub struct {
	source Source
	opts   Options
	logger *zap.Logger

	charts map[string]*chartClients

	register   chan *Client
	unregister chan *Client
	broadcast   chan broadcastMessage
	resubscribe chan resubscription
	done        chan struct{}

	connections atomic.Int64
}

// NewHub creates a hub that subscribes to source while a chart has clients
func NewHub(source Source, opts Options, logger *zap.Logger) *Hub {
	defaults := DefaultOptions()
	if opts.Timeout <= 0 {
		opts.Timeout = defaults.Timeout
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = defaults.PingInterval
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = defaults.CleanupInterval
	}
	if opts.WriteWait <= 0 {
		opts.WriteWait = defaults.WriteWait
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = defaults.MaxMessageSize
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaults.SendBuffer
	}

	return &Hub{
		source:      source,
		opts:        opts,
		logger:      logger,
		charts:      make(map[string]*chartClients),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan broadcastMessage, 256),
		resubscribe: make(chan resubscription),
		done:        make(chan struct{}),
	}
}

// Serve registers the client and starts its pumps. It returns false when
// the hub is shutting down, in which case the connection is closed.
func (h *Hub) Serve(ctx context.Context, c *Client) bool {
	select {
	case h.register <- c:
	case <-h.done:
		c.closeWith(1001, CloseReasonShutdown)
		return false
	}

	go c.writePump()
	go c.readPump(ctx)
	return true
}

// HandleEvent relays a datafeed event to the clients of its chart. The
// subscriptions of a deleted chart are dropped by the datafeed; the hub
// subscribes again before relaying the deletion.
func (h *Hub) HandleEvent(ctx context.Context, event model.Event) error {
	if event.Type == model.EventChartDeleted {
		r := resubscription{
			chartID:     event.ChartID,
			unsubscribe: h.source.Subscribe(event.ChartID, h),
		}
		select {
		case h.resubscribe <- r:
		case <-h.done:
			r.unsubscribe()
			return nil
		case <-ctx.Done():
			r.unsubscribe()
			return ctx.Err()
		}
	}

	select {
	case h.broadcast <- broadcastMessage{chartID: event.ChartID, frame: event}:
		return nil
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connections returns the number of registered clients
func (h *Hub) Connections() int {
	return int(h.connections.Load())
}

// Run is the hub loop. It returns after ctx is cancelled and every client
// has been sent a shutdown close frame.
func (h *Hub) Run(ctx context.Context) error {
	cleanup := time.NewTicker(h.opts.CleanupInterval)
	ping := time.NewTicker(h.opts.PingInterval)
	defer func() {
		cleanup.Stop()
		ping.Stop()
	}()

	for {
		select {
		case c := <-h.register:
			h.addClient(c)

		case c := <-h.unregister:
			h.removeClient(c)

		case msg := <-h.broadcast:
			h.fanout(msg)

		case r := <-h.resubscribe:
			h.replaceSubscription(r)

		case <-cleanup.C:
			h.closeStale(time.Now())

		case <-ping.C:
			h.pingAll()

		case <-ctx.Done():
			h.shutdown()
			return nil
		}
	}
}

func (h *Hub) unregisterClient(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) addClient(c *Client) {
	cc, ok := h.charts[c.chartID]
	if !ok {
		cc = &chartClients{clients: make(map[*Client]struct{})}
		chartID := c.chartID
		cc.unsubscribe = h.source.Subscribe(chartID, h)
		h.charts[chartID] = cc
	}
	cc.clients[c] = struct{}{}
	h.connections.Add(1)

	h.logger.Debug("Client connected",
		zap.String("chartID", c.chartID),
		zap.Int("chartClients", len(cc.clients)))
}

// replaceSubscription installs a fresh subscription for a chart. The one it
// replaces is released, so a chart never holds more than one.
func (h *Hub) replaceSubscription(r resubscription) {
	cc, ok := h.charts[r.chartID]
	if !ok {
		r.unsubscribe()
		return
	}
	cc.unsubscribe()
	cc.unsubscribe = r.unsubscribe

	h.logger.Debug("Chart resubscribed", zap.String("chartID", r.chartID))
}

// removeClient drops the client and closes its send channel
func (h *Hub) removeClient(c *Client) bool {
	if !h.detach(c) {
		return false
	}
	c.closeSend()
	return true
}

// detach removes the client from the registry. The chart is unsubscribed
// once its last client has gone.
func (h *Hub) detach(c *Client) bool {
	cc, ok := h.charts[c.chartID]
	if !ok {
		return false
	}
	if _, ok := cc.clients[c]; !ok {
		return false
	}

	delete(cc.clients, c)
	h.connections.Add(-1)

	if len(cc.clients) == 0 {
		cc.unsubscribe()
		delete(h.charts, c.chartID)
	}
	return true
}

func (h *Hub) fanout(msg broadcastMessage) {
	cc, ok := h.charts[msg.chartID]
	if !ok {
		return
	}
	for c := range cc.clients {
		if c.Send(msg.frame) {
			c.touch()
			continue
		}
		// Client too slow, disconnect so the hub never blocks
		h.logger.Warn("Dropping slow client", zap.String("chartID", msg.chartID))
		h.removeClient(c)
	}
}

func (h *Hub) closeStale(now time.Time) {
	for _, cc := range h.charts {
		for c := range cc.clients {
			if now.Sub(c.LastActive()) <= h.opts.Timeout {
				continue
			}
			h.logger.Info("Closing stale connection", zap.String("chartID", c.chartID))
			h.detach(c)
			go func(c *Client) {
				c.closeWith(1000, CloseReasonTimeout)
				c.closeSend()
			}(c)
		}
	}
}

func (h *Hub) pingAll() {
	frame := PingFrame{Type: "ping", Timestamp: float64(time.Now().UnixNano()) / 1e9}
	for _, cc := range h.charts {
		for c := range cc.clients {
			if c.Send(frame) {
				c.touch()
			}
		}
	}
}

func (h *Hub) shutdown() {
	close(h.done)

	var all []*Client
	for _, cc := range h.charts {
		for c := range cc.clients {
			all = append(all, c)
		}
	}
	for _, c := range all {
		h.detach(c)
		c.closeWith(1001, CloseReasonShutdown)
		c.closeSend()
	}

	h.logger.Info("Closed WebSocket connections during shutdown", zap.Int("count", len(all)))
}
