package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/yourorg/chart-datafeed/internal/model"
	"github.com/yourorg/chart-datafeed/internal/repository"
	"github.com/yourorg/chart-datafeed/internal/validator"
)

// DefaultChunkSizeThreshold is the series length from which initial data is chunked
const DefaultChunkSizeThreshold = 500

// DatafeedService is the concurrency-safe registry of charts.
//
// mu guards charts, chartLocks, subscribers and globalSinks and is only held
// for short registry operations. Each chart has its own lock guarding its
// panes and series. mu may be acquired while holding a chart lock, never
// the other way around.
type DatafeedService struct {
	chunkSizeThreshold int
	logger             *zap.Logger

	mu          sync.Mutex
	charts      map[string]*repository.ChartState
	chartLocks  map[string]*sync.Mutex
	subscribers map[string][]subscription
	globalSinks []subscription
	nextSubID   uint64
}

// NewDatafeedService creates an empty datafeed. A non-positive threshold
// falls back to DefaultChunkSizeThreshold.
func NewDatafeedService(chunkSizeThreshold int, logger *zap.Logger) *DatafeedService {
	if chunkSizeThreshold <= 0 {
		chunkSizeThreshold = DefaultChunkSizeThreshold
	}
	return &DatafeedService{
		chunkSizeThreshold: chunkSizeThreshold,
		logger:             logger,
		charts:             make(map[string]*repository.ChartState),
		chartLocks:         make(map[string]*sync.Mutex),
		subscribers:        make(map[string][]subscription),
	}
}

// ChunkSizeThreshold returns the configured chunking cutover
func (s *DatafeedService) ChunkSizeThreshold() int {
	return s.chunkSizeThreshold
}

// chartLock returns the registered lock of a chart, creating it on first use
func (s *DatafeedService) chartLock(chartID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, ok := s.chartLocks[chartID]
	if !ok {
		lock = &sync.Mutex{}
		s.chartLocks[chartID] = lock
	}
	return lock
}

// lockChart acquires the chart's lock and returns the chart, registering it
// with options when missing. The registry is re-checked under mu after the
// lock is held; if the chart was deleted and its lock replaced meanwhile the
// acquisition is retried with the current lock.
func (s *DatafeedService) lockChart(chartID string, options map[string]interface{}) (*sync.Mutex, *repository.ChartState) {
	for {
		lock := s.chartLock(chartID)
		lock.Lock()

		s.mu.Lock()
		if s.chartLocks[chartID] != lock {
			s.mu.Unlock()
			lock.Unlock()
			continue
		}
		chart, ok := s.charts[chartID]
		if !ok {
			chart = repository.NewChartState(chartID, repository.CopyOptions(options))
			s.charts[chartID] = chart
		}
		s.mu.Unlock()

		if !ok {
			s.logger.Info("Chart created", zap.String("chartID", chartID))
		}
		return lock, chart
	}
}

// lockExistingChart acquires the lock of a registered chart. Unknown charts
// never grow the lock table.
func (s *DatafeedService) lockExistingChart(chartID string) (*sync.Mutex, *repository.ChartState, bool) {
	for {
		s.mu.Lock()
		_, exists := s.charts[chartID]
		lock := s.chartLocks[chartID]
		s.mu.Unlock()
		if !exists || lock == nil {
			return nil, nil, false
		}

		lock.Lock()

		s.mu.Lock()
		chart, exists := s.charts[chartID]
		current := s.chartLocks[chartID]
		s.mu.Unlock()

		if exists && current == lock {
			return lock, chart, true
		}
		lock.Unlock()
	}
}

// CreateChart registers an empty chart. If the chart already exists it is
// returned unchanged and options are ignored.
func (s *DatafeedService) CreateChart(ctx context.Context, chartID string, options map[string]interface{}) *repository.ChartState {
	lock, chart := s.lockChart(chartID, options)
	defer lock.Unlock()

	return chart.Clone()
}

// GetChart returns an independent copy of a chart
func (s *DatafeedService) GetChart(ctx context.Context, chartID string) (*repository.ChartState, bool) {
	lock, chart, ok := s.lockExistingChart(chartID)
	if !ok {
		return nil, false
	}
	defer lock.Unlock()

	return chart.Clone(), true
}

// ChartIDs lists the registered charts in lexical order
func (s *DatafeedService) ChartIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.charts))
	for id := range s.charts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SetSeriesData replaces a series, creating the chart if needed. The data is
// validated before any lock is taken and copied before it is stored.
func (s *DatafeedService) SetSeriesData(
	ctx context.Context,
	chartID string,
	paneID int,
	seriesID string,
	seriesType string,
	data []model.DataPoint,
	options map[string]interface{},
) (*repository.SeriesData, error) {
	validated, err := validator.ValidateSeriesData(data, seriesType, true, true)
	if err != nil {
		return nil, err
	}

	points := repository.CopyPoints(validated)
	opts := repository.CopyOptions(options)

	lock, chart := s.lockChart(chartID, nil)
	series := repository.NewSeriesData(chartID, paneID, seriesID, seriesType, nil, opts)
	series.Replace(points)
	chart.SetSeries(paneID, seriesID, series)
	result := series.Clone()

	lock.Unlock()

	s.logger.Debug("Series data set",
		zap.String("chartID", chartID),
		zap.Int("paneID", paneID),
		zap.String("seriesID", seriesID),
		zap.Int("count", len(points)))

	s.notifySubscribers(ctx, chartID, model.UpdatePayload{
		PaneID:   paneID,
		SeriesID: seriesID,
		Count:    len(points),
	})

	return result, nil
}

// AppendSeriesData extends an existing series with newer points. The first
// new point must be strictly after the last stored one.
func (s *DatafeedService) AppendSeriesData(
	ctx context.Context,
	chartID string,
	paneID int,
	seriesID string,
	data []model.DataPoint,
) (*repository.SeriesData, error) {
	result, appended, err := s.appendLocked(chartID, paneID, seriesID, data)
	if err != nil {
		return nil, err
	}

	if appended > 0 {
		s.notifySubscribers(ctx, chartID, model.UpdatePayload{
			PaneID:   paneID,
			SeriesID: seriesID,
			Count:    appended,
			Append:   true,
		})
	}

	return result, nil
}

func (s *DatafeedService) appendLocked(
	chartID string,
	paneID int,
	seriesID string,
	data []model.DataPoint,
) (*repository.SeriesData, int, error) {
	lock, chart, ok := s.lockExistingChart(chartID)
	if !ok {
		return nil, 0, &model.ChartNotFoundError{ChartID: chartID}
	}
	defer lock.Unlock()

	series, ok := chart.GetSeries(paneID, seriesID)
	if !ok {
		return nil, 0, &model.SeriesNotFoundError{ChartID: chartID, PaneID: paneID, SeriesID: seriesID}
	}

	validated, err := validator.ValidateSeriesData(data, series.SeriesType, true, true)
	if err != nil {
		return nil, 0, err
	}
	if len(validated) == 0 {
		return series.Clone(), 0, nil
	}

	// Intra-batch order is already enforced, so comparing the batch head
	// with the stored tail is enough to rule out duplicates.
	if last, ok := series.LastTime(); ok {
		first := validated[0].Time()
		if first <= last {
			return nil, 0, model.NewInvalidTimestampError(
				fmt.Sprintf("Cannot append data: first new timestamp %s must be > last existing timestamp %s",
					model.FormatNumber(first), model.FormatNumber(last)),
				0, first)
		}
	}

	series.Append(repository.CopyPoints(validated))

	s.logger.Debug("Series data appended",
		zap.String("chartID", chartID),
		zap.Int("paneID", paneID),
		zap.String("seriesID", seriesID),
		zap.Int("count", len(validated)),
		zap.Int("total", series.Len()))

	return series.Clone(), len(validated), nil
}

// GetInitialData returns the initial payload of one series when both paneID
// and seriesID are given, otherwise of the whole chart. Large series are
// chunked to their newest points.
func (s *DatafeedService) GetInitialData(ctx context.Context, chartID string, paneID *int, seriesID string) (interface{}, error) {
	if paneID != nil && seriesID != "" {
		return s.GetSeriesInitialData(ctx, chartID, *paneID, seriesID)
	}
	return s.GetChartInitialData(ctx, chartID)
}

// GetSeriesInitialData returns the initial payload of one series
func (s *DatafeedService) GetSeriesInitialData(ctx context.Context, chartID string, paneID int, seriesID string) (*model.SeriesPayload, error) {
	lock, chart, ok := s.lockExistingChart(chartID)
	if !ok {
		return nil, &model.ChartNotFoundError{ChartID: chartID}
	}
	defer lock.Unlock()

	series, ok := chart.GetSeries(paneID, seriesID)
	if !ok {
		return nil, &model.SeriesNotFoundError{ChartID: chartID, PaneID: paneID, SeriesID: seriesID}
	}

	payload := s.seriesPayload(seriesID, series)
	return &payload, nil
}

// GetChartInitialData returns the initial payload of every series of a chart
func (s *DatafeedService) GetChartInitialData(ctx context.Context, chartID string) (*model.ChartPayload, error) {
	lock, chart, ok := s.lockExistingChart(chartID)
	if !ok {
		return nil, &model.ChartNotFoundError{ChartID: chartID}
	}
	defer lock.Unlock()

	paneIDs := chart.PaneIDs()
	panes := make([]model.PanePayload, 0, len(paneIDs))
	for _, paneID := range paneIDs {
		seriesIDs := chart.SeriesIDs(paneID)
		list := make([]model.SeriesPayload, 0, len(seriesIDs))
		for _, seriesID := range seriesIDs {
			series, _ := chart.GetSeries(paneID, seriesID)
			list = append(list, s.seriesPayload(seriesID, series))
		}
		panes = append(panes, model.PanePayload{PaneID: paneID, Series: list})
	}

	return &model.ChartPayload{
		ChartID: chartID,
		Panes:   panes,
		Options: repository.CopyOptions(chart.Options),
	}, nil
}

// seriesPayload applies smart chunking. Callers hold the chart lock.
func (s *DatafeedService) seriesPayload(seriesID string, series *repository.SeriesData) model.SeriesPayload {
	payload := model.SeriesPayload{
		SeriesID:   seriesID,
		SeriesType: series.SeriesType,
		Options:    repository.CopyOptions(series.Options),
	}

	total := series.Len()
	if total < s.chunkSizeThreshold {
		payload.Data = series.Points()
		payload.TotalCount = total
		return payload
	}

	chunk := series.GetDataChunk(nil, s.chunkSizeThreshold)
	payload.Data = chunk.Data
	payload.Chunked = true
	payload.ChunkInfo = &chunk.ChunkInfo
	payload.HasMoreBefore = &chunk.HasMoreBefore
	payload.HasMoreAfter = &chunk.HasMoreAfter
	payload.TotalCount = chunk.TotalAvailable
	return payload
}

// GetHistory returns up to count points before beforeTime, or the newest
// points when beforeTime is nil
func (s *DatafeedService) GetHistory(
	ctx context.Context,
	chartID string,
	paneID int,
	seriesID string,
	beforeTime *float64,
	count int,
) (*model.HistoryPayload, error) {
	lock, chart, ok := s.lockExistingChart(chartID)
	if !ok {
		return nil, &model.ChartNotFoundError{ChartID: chartID}
	}
	defer lock.Unlock()

	series, ok := chart.GetSeries(paneID, seriesID)
	if !ok {
		return nil, &model.SeriesNotFoundError{ChartID: chartID, PaneID: paneID, SeriesID: seriesID}
	}

	chunk := series.GetDataChunk(beforeTime, count)
	return &model.HistoryPayload{
		SeriesID:      seriesID,
		Data:          chunk.Data,
		ChunkInfo:     chunk.ChunkInfo,
		HasMoreBefore: chunk.HasMoreBefore,
		HasMoreAfter:  chunk.HasMoreAfter,
		TotalCount:    chunk.TotalAvailable,
	}, nil
}

// DeleteChart removes a chart together with its lock and chart subscribers.
// The dropped chart subscribers receive a final chart_deleted event. It
// reports whether the chart existed.
func (s *DatafeedService) DeleteChart(ctx context.Context, chartID string) bool {
	s.mu.Lock()
	_, existed := s.charts[chartID]
	delete(s.chartLocks, chartID)
	var dropped []subscription
	if existed {
		delete(s.charts, chartID)
		dropped = s.subscribers[chartID]
		delete(s.subscribers, chartID)
	}
	s.mu.Unlock()

	if !existed {
		return false
	}

	s.logger.Info("Chart deleted", zap.String("chartID", chartID))
	s.notifyDeleted(ctx, chartID, dropped)
	return true
}

// Stats is a summary of the registry
type Stats struct {
	Charts      int `json:"charts"`
	Subscribers int `json:"subscribers"`
}

// Stats returns registry counters
func (s *DatafeedService) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := len(s.globalSinks)
	for _, list := range s.subscribers {
		subs += len(list)
	}
	return Stats{Charts: len(s.charts), Subscribers: subs}
}
