package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/hub"
	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/service"
	"github.com/yourorg/chart-datafeed/internal/validator"
)

// Stream message types
const (
	MessageConnected       = "connected"
	MessageRequestHistory  = "request_history"
	MessageHistoryResponse = "history_response"
	MessageGetInitialData  = "get_initial_data"
	MessageInitialData     = "initial_data_response"
	MessagePing            = "ping"
	MessagePong            = "pong"
	MessageError           = "error"
)

// maxCloseReason is the longest reason a close frame can carry
const maxCloseReason = 123

type connectedFrame struct {
	Type    string `json:"type"`
	ChartID string `json:"chartId"`
}

type typeFrame struct {
	Type string `json:"type"`
}

// ErrorFrame reports a failed request on the stream
type ErrorFrame struct {
	Type      string `json:"type"`
	Error     string `json:"error"`
	ErrorCode string `json:"errorCode,omitempty"`
}

type historyFrame struct {
	Type    string `json:"type"`
	ChartID string `json:"chartId"`
	PaneID  int    `json:"paneId"`
	*model.HistoryPayload
}

type seriesInitialFrame struct {
	Type    string `json:"type"`
	ChartID string `json:"chartId"`
	*model.SeriesPayload
}

type chartInitialFrame struct {
	Type string `json:"type"`
	*model.ChartPayload
}

// StreamHandler upgrades chart streams and answers their requests
type StreamHandler struct {
	ctx      context.Context
	datafeed *service.DatafeedService
	hub      *hub.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewStreamHandler creates a stream handler. ctx bounds the work done for
// inbound messages and is normally the server's lifetime.
func NewStreamHandler(ctx context.Context, datafeed *service.DatafeedService, h *hub.Hub, allowedOrigins []string, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{
		ctx:      ctx,
		datafeed: datafeed,
		hub:      h,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// originChecker accepts requests without an Origin header and those from
// the allowed list
func originChecker(allowedOrigins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(allowedOrigins))
	allowAll := false
	for _, o := range allowedOrigins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "*" {
			allowAll = true
		}
		allowed[o] = struct{}{}
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || allowAll {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}

// ServeWS upgrades the connection and attaches it to the chart's stream
// GET /ws/charts/:chartId
func (h *StreamHandler) ServeWS(c *gin.Context) {
	chartID, idErr := validator.ValidateIdentifier(c.Param("chartId"), "chartId")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Info("Failed to upgrade websocket", zap.Error(err), zap.String("client_ip", c.ClientIP()))
		return
	}

	if idErr != nil {
		reason := idErr.Error()
		if len(reason) > maxCloseReason {
			reason = reason[:maxCloseReason]
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason), deadline)
		conn.Close()
		return
	}

	client := h.hub.NewClient(conn, chartID, h)
	client.Send(connectedFrame{Type: MessageConnected, ChartID: chartID})
	if !h.hub.Serve(h.ctx, client) {
		return
	}

	h.logger.Debug("WebSocket connected", zap.String("chartID", chartID), zap.String("client_ip", c.ClientIP()))
}

// HandleMessage answers one client request
func (h *StreamHandler) HandleMessage(ctx context.Context, client *hub.Client, message []byte) {
	var msg map[string]interface{}
	decoder := json.NewDecoder(bytes.NewReader(message))
	decoder.UseNumber()
	if err := decoder.Decode(&msg); err != nil {
		h.reply(client, ErrorFrame{Type: MessageError, Error: "Invalid JSON: " + err.Error()})
		return
	}

	msgType, _ := msg["type"].(string)
	switch msgType {
	case MessageRequestHistory:
		frame, err := h.requestHistory(ctx, client.ChartID(), msg)
		if err != nil {
			h.replyError(client, err)
			return
		}
		h.reply(client, frame)

	case MessageGetInitialData:
		frame, err := h.initialData(ctx, client.ChartID(), msg)
		if err != nil {
			h.replyError(client, err)
			return
		}
		h.reply(client, frame)

	case MessagePing:
		h.reply(client, typeFrame{Type: MessagePong})

	default:
		h.logger.Debug("Ignoring unknown message type", zap.String("chartID", client.ChartID()), zap.String("type", msgType))
	}
}

func (h *StreamHandler) requestHistory(ctx context.Context, chartID string, msg map[string]interface{}) (interface{}, error) {
	paneID, err := validator.ValidatePaneID(msg["paneId"])
	if err != nil {
		return nil, err
	}
	seriesID, err := validator.ValidateIdentifier(msg["seriesId"], "seriesId")
	if err != nil {
		return nil, err
	}
	beforeTime, err := validator.ValidateBeforeTime(msg["beforeTime"])
	if err != nil {
		return nil, err
	}
	count, err := validator.ValidateCount(msg["count"])
	if err != nil {
		return nil, err
	}

	history, err := h.datafeed.GetHistory(ctx, chartID, paneID, seriesID, validator.TimeBound(beforeTime), count)
	if err != nil {
		return nil, err
	}

	return historyFrame{
		Type:           MessageHistoryResponse,
		ChartID:        chartID,
		PaneID:         paneID,
		HistoryPayload: history,
	}, nil
}

func (h *StreamHandler) initialData(ctx context.Context, chartID string, msg map[string]interface{}) (interface{}, error) {
	var paneID *int
	if raw, ok := msg["paneId"]; ok && raw != nil {
		p, err := validator.ValidatePaneID(raw)
		if err != nil {
			return nil, err
		}
		paneID = &p
	}

	var seriesID string
	if raw, ok := msg["seriesId"]; ok && raw != nil && raw != "" {
		id, err := validator.ValidateIdentifier(raw, "seriesId")
		if err != nil {
			return nil, err
		}
		seriesID = id
	}

	payload, err := h.datafeed.GetInitialData(ctx, chartID, paneID, seriesID)
	if err != nil {
		return nil, err
	}

	switch p := payload.(type) {
	case *model.SeriesPayload:
		return seriesInitialFrame{Type: MessageInitialData, ChartID: chartID, SeriesPayload: p}, nil
	case *model.ChartPayload:
		return chartInitialFrame{Type: MessageInitialData, ChartPayload: p}, nil
	default:
		return nil, errors.New("unexpected initial data payload")
	}
}

func (h *StreamHandler) replyError(client *hub.Client, err error) {
	frame := ErrorFrame{Type: MessageError, Error: err.Error()}
	var coded model.CodedError
	if errors.As(err, &coded) {
		frame.ErrorCode = coded.Code()
	}
	h.reply(client, frame)
}

func (h *StreamHandler) reply(client *hub.Client, frame interface{}) {
	if !client.Send(frame) {
		h.logger.Debug("Dropped reply to closed or slow client", zap.String("chartID", client.ChartID()))
	}
}
