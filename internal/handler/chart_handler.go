package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/middleware"
	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/service"
	"github.com/yourorg/chart-datafeed/internal/utils"
	"github.com/yourorg/chart-datafeed/internal/validator"
)

// ChartHandler handles chart and series HTTP requests
type ChartHandler struct {
	datafeed *service.DatafeedService
	logger   *zap.Logger
}

// NewChartHandler creates a new chart handler
func NewChartHandler(datafeed *service.DatafeedService, logger *zap.Logger) *ChartHandler {
	return &ChartHandler{
		datafeed: datafeed,
		logger:   logger,
	}
}

// ChartOptionsRequest is the optional body of chart creation
type ChartOptionsRequest struct {
	Width     *int                   `json:"width" binding:"omitempty,min=100,max=10000"`
	Height    *int                   `json:"height" binding:"omitempty,min=100,max=10000"`
	Layout    map[string]interface{} `json:"layout"`
	Crosshair map[string]interface{} `json:"crosshair"`
	Grid      map[string]interface{} `json:"grid"`
	TimeScale map[string]interface{} `json:"timeScale"`
}

// toOptions keeps only the fields that were sent
func (r ChartOptionsRequest) toOptions() map[string]interface{} {
	options := make(map[string]interface{})
	if r.Width != nil {
		options["width"] = *r.Width
	}
	if r.Height != nil {
		options["height"] = *r.Height
	}
	if r.Layout != nil {
		options["layout"] = r.Layout
	}
	if r.Crosshair != nil {
		options["crosshair"] = r.Crosshair
	}
	if r.Grid != nil {
		options["grid"] = r.Grid
	}
	if r.TimeScale != nil {
		options["timeScale"] = r.TimeScale
	}
	return options
}

// SetSeriesDataRequest is the body of a full series replacement
type SetSeriesDataRequest struct {
	PaneID     *int                   `json:"paneId" binding:"omitempty,min=0,max=100"`
	SeriesType string                 `json:"seriesType" binding:"required"`
	Data       []model.DataPoint      `json:"data" binding:"required"`
	Options    map[string]interface{} `json:"options"`
}

// AppendSeriesDataRequest is the body of an incremental update
type AppendSeriesDataRequest struct {
	PaneID *int              `json:"paneId" binding:"omitempty,min=0,max=100"`
	Data   []model.DataPoint `json:"data" binding:"required"`
}

// GetHistoryRequest is the body of a history page request. beforeTime and
// count are decoded by the datafeed validators so integer input keeps its type.
type GetHistoryRequest struct {
	PaneID     *int            `json:"paneId" binding:"required,min=0,max=100"`
	SeriesID   string          `json:"seriesId" binding:"required"`
	BeforeTime json.RawMessage `json:"beforeTime"`
	Count      json.RawMessage `json:"count"`
}

// SeriesResponse summarizes a series after a write
type SeriesResponse struct {
	SeriesID   string `json:"seriesId"`
	SeriesType string `json:"seriesType"`
	Count      int    `json:"count"`
}

func paneOrDefault(paneID *int) int {
	if paneID == nil {
		return 0
	}
	return *paneID
}

// bindJSON decodes the request body. Malformed bodies are reported as
// validation errors.
func bindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		utils.SendDatafeedError(c, model.NewValidationError(err.Error(), "body"))
		return false
	}
	return true
}

// pathIdentifier validates an identifier taken from the route
func pathIdentifier(c *gin.Context, param, field string) (string, bool) {
	id, err := validator.ValidateIdentifier(c.Param(param), field)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return "", false
	}
	return id, true
}

func pathPaneID(c *gin.Context) (int, bool) {
	raw := c.Param("paneId")
	n, err := strconv.Atoi(raw)
	if err != nil {
		utils.SendDatafeedError(c, model.NewValidationError("paneId must be an integer, got "+strconv.Quote(raw), "paneId"))
		return 0, false
	}
	paneID, err := validator.ValidatePaneID(n)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return 0, false
	}
	return paneID, true
}

// ListCharts handles listing the registered charts
// GET /api/v1/charts
func (h *ChartHandler) ListCharts(c *gin.Context) {
	ids := h.datafeed.ChartIDs()

	// Scoped tokens only see their own charts
	if principal, ok := middleware.PrincipalFrom(c); ok {
		visible := make([]string, 0, len(ids))
		for _, id := range ids {
			if principal.CanAccessChart(id) {
				visible = append(visible, id)
			}
		}
		ids = visible
	}

	c.JSON(http.StatusOK, gin.H{"charts": ids, "count": len(ids)})
}

// GetChart handles retrieving a chart with all its panes and series
// GET /api/v1/charts/:chartId
func (h *ChartHandler) GetChart(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}

	payload, err := h.datafeed.GetChartInitialData(c.Request.Context(), chartID)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return
	}

	c.JSON(http.StatusOK, payload)
}

// CreateChart handles creating a chart. Creating an existing chart returns
// it unchanged.
// POST /api/v1/charts/:chartId
func (h *ChartHandler) CreateChart(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}

	var request ChartOptionsRequest
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		utils.SendDatafeedError(c, model.NewValidationError(err.Error(), "body"))
		return
	}

	chart := h.datafeed.CreateChart(c.Request.Context(), chartID, request.toOptions())

	c.JSON(http.StatusOK, gin.H{"chartId": chart.ChartID, "options": chart.Options})
}

// DeleteChart handles removing a chart and its subscriptions
// DELETE /api/v1/charts/:chartId
func (h *ChartHandler) DeleteChart(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}

	if !h.datafeed.DeleteChart(c.Request.Context(), chartID) {
		utils.SendDatafeedError(c, &model.ChartNotFoundError{ChartID: chartID})
		return
	}

	c.JSON(http.StatusOK, gin.H{"chartId": chartID, "deleted": true})
}

// GetSeriesData handles retrieving the initial data of one series
// GET /api/v1/charts/:chartId/data/:paneId/:seriesId
func (h *ChartHandler) GetSeriesData(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}
	paneID, ok := pathPaneID(c)
	if !ok {
		return
	}
	seriesID, ok := pathIdentifier(c, "seriesId", "seriesId")
	if !ok {
		return
	}

	payload, err := h.datafeed.GetSeriesInitialData(c.Request.Context(), chartID, paneID, seriesID)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return
	}

	c.JSON(http.StatusOK, payload)
}

// SetSeriesData handles creating or replacing a series
// POST /api/v1/charts/:chartId/data/:seriesId
func (h *ChartHandler) SetSeriesData(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}
	seriesID, ok := pathIdentifier(c, "seriesId", "seriesId")
	if !ok {
		return
	}

	var request SetSeriesDataRequest
	if !bindJSON(c, &request) {
		return
	}

	series, err := h.datafeed.SetSeriesData(
		c.Request.Context(),
		chartID,
		paneOrDefault(request.PaneID),
		seriesID,
		request.SeriesType,
		request.Data,
		request.Options,
	)
	if err != nil {
		h.logger.Debug("Rejected series data", zap.Error(err), zap.String("chartID", chartID), zap.String("seriesID", seriesID))
		utils.SendDatafeedError(c, err)
		return
	}

	c.JSON(http.StatusOK, SeriesResponse{SeriesID: series.SeriesID, SeriesType: series.SeriesType, Count: series.Len()})
}

// AppendSeriesData handles appending newer points to a series
// PATCH /api/v1/charts/:chartId/data/:seriesId
func (h *ChartHandler) AppendSeriesData(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}
	seriesID, ok := pathIdentifier(c, "seriesId", "seriesId")
	if !ok {
		return
	}

	var request AppendSeriesDataRequest
	if !bindJSON(c, &request) {
		return
	}

	series, err := h.datafeed.AppendSeriesData(
		c.Request.Context(),
		chartID,
		paneOrDefault(request.PaneID),
		seriesID,
		request.Data,
	)
	if err != nil {
		h.logger.Debug("Rejected append", zap.Error(err), zap.String("chartID", chartID), zap.String("seriesID", seriesID))
		utils.SendDatafeedError(c, err)
		return
	}

	c.JSON(http.StatusOK, SeriesResponse{SeriesID: series.SeriesID, SeriesType: series.SeriesType, Count: series.Len()})
}

// GetHistory handles retrieving a page of older data
// GET /api/v1/charts/:chartId/history/:paneId/:seriesId?before_time=&count=
func (h *ChartHandler) GetHistory(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}
	paneID, ok := pathPaneID(c)
	if !ok {
		return
	}
	seriesID, ok := pathIdentifier(c, "seriesId", "seriesId")
	if !ok {
		return
	}

	var rawBefore, rawCount interface{}
	if v, ok := c.GetQuery("before_time"); ok && v != "" {
		rawBefore = json.Number(v)
	}
	if v, ok := c.GetQuery("count"); ok && v != "" {
		rawCount = json.Number(v)
	}

	h.sendHistory(c, chartID, paneID, seriesID, rawBefore, rawCount)
}

// GetHistoryBatch handles retrieving a page of older data from a JSON body
// POST /api/v1/charts/:chartId/history
func (h *ChartHandler) GetHistoryBatch(c *gin.Context) {
	chartID, ok := pathIdentifier(c, "chartId", "chartId")
	if !ok {
		return
	}

	var request GetHistoryRequest
	if !bindJSON(c, &request) {
		return
	}

	seriesID, err := validator.ValidateIdentifier(request.SeriesID, "seriesId")
	if err != nil {
		utils.SendDatafeedError(c, err)
		return
	}

	rawBefore, err := decodeOptional(request.BeforeTime)
	if err != nil {
		utils.SendDatafeedError(c, model.NewValidationError("Invalid beforeTime: "+err.Error(), "beforeTime"))
		return
	}
	rawCount, err := decodeOptional(request.Count)
	if err != nil {
		utils.SendDatafeedError(c, model.NewValidationError("Invalid count: "+err.Error(), "count"))
		return
	}

	h.sendHistory(c, chartID, *request.PaneID, seriesID, rawBefore, rawCount)
}

// decodeOptional decodes a raw body field with numbers kept as json.Number.
// An absent field or null yields nil.
func decodeOptional(raw json.RawMessage) (interface{}, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var value interface{}
	if err := dec.Decode(&value); err != nil {
		return nil, err
	}
	return value, nil
}

func (h *ChartHandler) sendHistory(c *gin.Context, chartID string, paneID int, seriesID string, rawBefore, rawCount interface{}) {
	beforeTime, err := validator.ValidateBeforeTime(rawBefore)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return
	}
	count, err := validator.ValidateCount(rawCount)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return
	}

	history, err := h.datafeed.GetHistory(c.Request.Context(), chartID, paneID, seriesID, validator.TimeBound(beforeTime), count)
	if err != nil {
		utils.SendDatafeedError(c, err)
		return
	}

	c.JSON(http.StatusOK, history)
}
