package handler

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/hub"
	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/service"
)

type streamFixture struct {
	datafeed *service.DatafeedService
	server   *httptest.Server
}

func newStreamFixture(t *testing.T) *streamFixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	datafeed := service.NewDatafeedService(100, zap.NewNop())
	h := hub.NewHub(datafeed, hub.DefaultOptions(), zap.NewNop())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = h.Run(ctx)
	}()

	stream := NewStreamHandler(ctx, datafeed, h, []string{"http://localhost:3000"}, zap.NewNop())
	r := gin.New()
	r.GET("/ws/charts/:chartId", stream.ServeWS)
	server := httptest.NewServer(r)

	t.Cleanup(func() {
		cancel()
		<-done
		server.Close()
	})
	return &streamFixture{datafeed: datafeed, server: server}
}

func (f *streamFixture) dial(t *testing.T, chartID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/charts/" + chartID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// connect dials and consumes the connected acknowledgement
func (f *streamFixture) connect(t *testing.T, chartID string) *websocket.Conn {
	t.Helper()
	conn := f.dial(t, chartID)
	frame := readJSON(t, conn)
	require.Equal(t, "connected", frame["type"])
	require.Equal(t, chartID, frame["chartId"])
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var frame map[string]interface{}
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func request(t *testing.T, conn *websocket.Conn, msg interface{}) map[string]interface{} {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
	return readJSON(t, conn)
}

func TestStream_PingAndInvalidJSON(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.connect(t, "btc")

	assert.Equal(t, "pong", request(t, conn, map[string]string{"type": "ping"})["type"])

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	frame := readJSON(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.True(t, strings.HasPrefix(frame["error"].(string), "Invalid JSON: "))
}

func TestStream_RejectsInvalidChartID(t *testing.T) {
	f := newStreamFixture(t)
	conn := f.dial(t, "a..b")

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	closeErr, ok := err.(*websocket.CloseError)
	require.True(t, ok, "expected close error, got %v", err)
	assert.Equal(t, websocket.ClosePolicyViolation, closeErr.Code)
	assert.Contains(t, closeErr.Text, "path traversal")
}

func TestStream_RequestHistory(t *testing.T) {
	f := newStreamFixture(t)
	_, err := f.datafeed.SetSeriesData(context.Background(), "btc", 0, "price", "line", toPoints(linePoints(10)), nil)
	require.NoError(t, err)
	conn := f.connect(t, "btc")

	frame := request(t, conn, map[string]interface{}{
		"type": "request_history", "paneId": 0, "seriesId": "price", "beforeTime": 4, "count": 2,
	})
	assert.Equal(t, "history_response", frame["type"])
	assert.Equal(t, "btc", frame["chartId"])
	assert.Equal(t, 0.0, frame["paneId"])
	assert.Equal(t, "price", frame["seriesId"])
	data := frame["data"].([]interface{})
	require.Len(t, data, 2)
	assert.Equal(t, 2.0, data[0].(map[string]interface{})["time"])
	assert.Equal(t, true, frame["hasMoreBefore"])

	latest := request(t, conn, map[string]interface{}{"type": "request_history", "seriesId": "price"})
	assert.Len(t, latest["data"], 10)

	frame = request(t, conn, map[string]interface{}{"type": "request_history", "paneId": 0, "seriesId": "nope"})
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, model.CodeSeriesNotFound, frame["errorCode"])

	frame = request(t, conn, map[string]interface{}{"type": "request_history", "paneId": 0})
	assert.Equal(t, model.CodeValidation, frame["errorCode"])
	assert.Contains(t, frame["error"], "seriesId")

	frame = request(t, conn, map[string]interface{}{"type": "request_history", "paneId": 1.5, "seriesId": "price"})
	assert.Equal(t, model.CodeValidation, frame["errorCode"])

	frame = request(t, conn, map[string]interface{}{"type": "request_history", "seriesId": "price", "count": 20000})
	assert.Equal(t, model.CodeValidation, frame["errorCode"])
}

func TestStream_GetInitialData(t *testing.T) {
	f := newStreamFixture(t)
	_, err := f.datafeed.SetSeriesData(context.Background(), "btc", 0, "price", "line", toPoints(linePoints(3)), nil)
	require.NoError(t, err)
	conn := f.connect(t, "btc")

	frame := request(t, conn, map[string]interface{}{"type": "get_initial_data", "paneId": 0, "seriesId": "price"})
	assert.Equal(t, "initial_data_response", frame["type"])
	assert.Equal(t, "btc", frame["chartId"])
	assert.Equal(t, "price", frame["seriesId"])
	assert.Equal(t, 3.0, frame["totalCount"])

	frame = request(t, conn, map[string]interface{}{"type": "get_initial_data"})
	assert.Equal(t, "initial_data_response", frame["type"])
	assert.Equal(t, "btc", frame["chartId"])
	require.Len(t, frame["panes"], 1)

	missing := f.connect(t, "missing")
	frame = request(t, missing, map[string]interface{}{"type": "get_initial_data"})
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, model.CodeChartNotFound, frame["errorCode"])
}

func TestStream_RelaysDataUpdates(t *testing.T) {
	f := newStreamFixture(t)
	_, err := f.datafeed.SetSeriesData(context.Background(), "btc", 0, "price", "line", toPoints(linePoints(3)), nil)
	require.NoError(t, err)

	a := f.connect(t, "btc")
	b := f.connect(t, "btc")
	require.Eventually(t, func() bool { return f.datafeed.SubscriberCount("btc") == 1 }, time.Second, 10*time.Millisecond)

	_, err = f.datafeed.AppendSeriesData(context.Background(), "btc", 0, "price", []model.DataPoint{{"time": 4, "value": 1.0}})
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{a, b} {
		frame := readJSON(t, conn)
		assert.Equal(t, "data_update", frame["type"])
		assert.Equal(t, "btc", frame["chartId"])
		assert.Equal(t, "price", frame["seriesId"])
		assert.Equal(t, 1.0, frame["count"])
		assert.Equal(t, true, frame["append"])
	}
}

func TestStream_RecreatedChartReachesOldAndNewClients(t *testing.T) {
	ctx := context.Background()
	f := newStreamFixture(t)
	f.datafeed.CreateChart(ctx, "c", nil)

	old := f.connect(t, "c")
	require.Eventually(t, func() bool { return f.datafeed.SubscriberCount("c") == 1 }, time.Second, 10*time.Millisecond)

	require.True(t, f.datafeed.DeleteChart(ctx, "c"))
	assert.Equal(t, map[string]interface{}{"type": "chart_deleted", "chartId": "c"}, readJSON(t, old))
	assert.Equal(t, 1, f.datafeed.SubscriberCount("c"))

	f.datafeed.CreateChart(ctx, "c", nil)
	fresh := f.connect(t, "c")

	_, err := f.datafeed.SetSeriesData(ctx, "c", 0, "price", "line", toPoints(linePoints(2)), nil)
	require.NoError(t, err)

	for _, conn := range []*websocket.Conn{old, fresh} {
		frame := readJSON(t, conn)
		assert.Equal(t, "data_update", frame["type"])
		assert.Equal(t, "c", frame["chartId"])
		assert.Equal(t, 2.0, frame["count"])
	}
	assert.Equal(t, 1, f.datafeed.SubscriberCount("c"), "one subscription per chart")
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:3000"})

	req := httptest.NewRequest("GET", "/ws/charts/btc", nil)
	assert.True(t, check(req), "no origin header")

	req.Header.Set("Origin", "http://localhost:3000")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
