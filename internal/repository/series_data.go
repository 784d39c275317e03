package repository

import (
	"encoding/json"
	"sort"

	"github.com/mitchellh/copystructure"

	"github.com/yourorg/chart-datafeed/internal/model"
)

// SeriesData holds the ordered points of one series. It is not safe for
// concurrent use; the datafeed service guards it with the owning chart's lock.
type SeriesData struct {
	ChartID    string
	PaneID     int
	SeriesID   string
	SeriesType string
	Options    map[string]interface{}

	data   []model.DataPoint
	sorted bool
}

// NewSeriesData creates a series that takes ownership of data and options
func NewSeriesData(chartID string, paneID int, seriesID, seriesType string, data []model.DataPoint, options map[string]interface{}) *SeriesData {
	if options == nil {
		options = make(map[string]interface{})
	}
	if data == nil {
		data = []model.DataPoint{}
	}
	return &SeriesData{
		ChartID:    chartID,
		PaneID:     paneID,
		SeriesID:   seriesID,
		SeriesType: seriesType,
		Options:    options,
		data:       data,
	}
}

// ensureSorted sorts the points by time once after a mutation
func (s *SeriesData) ensureSorted() {
	if s.sorted {
		return
	}
	sort.SliceStable(s.data, func(i, j int) bool {
		return s.data[i].Time() < s.data[j].Time()
	})
	s.sorted = true
}

// Sorted reports whether the points are known to be in time order
func (s *SeriesData) Sorted() bool {
	return s.sorted
}

// Len returns the number of points
func (s *SeriesData) Len() int {
	return len(s.data)
}

// Replace swaps the whole content of the series and sorts it once
func (s *SeriesData) Replace(data []model.DataPoint) {
	if data == nil {
		data = []model.DataPoint{}
	}
	s.data = data
	s.sorted = false
	s.ensureSorted()
}

// Append adds points that are already known to follow the last stored point.
// The series is not re-sorted.
func (s *SeriesData) Append(points []model.DataPoint) {
	s.ensureSorted()
	s.data = append(s.data, points...)
}

// LastTime returns the time of the newest point
func (s *SeriesData) LastTime() (float64, bool) {
	if len(s.data) == 0 {
		return 0, false
	}
	s.ensureSorted()
	return s.data[len(s.data)-1].Time(), true
}

// Points returns a copy of all points in time order
func (s *SeriesData) Points() []model.DataPoint {
	s.ensureSorted()
	return clonePoints(s.data)
}

// GetDataRange returns the points with startTime <= time <= endTime
func (s *SeriesData) GetDataRange(startTime, endTime float64) []model.DataPoint {
	s.ensureSorted()

	lo := s.searchTime(startTime)
	hi := sort.Search(len(s.data), func(i int) bool {
		return s.data[i].Time() > endTime
	})
	if lo >= hi {
		return []model.DataPoint{}
	}
	return clonePoints(s.data[lo:hi])
}

// GetDataChunk returns up to count points strictly before beforeTime, or the
// newest count points when beforeTime is nil.
func (s *SeriesData) GetDataChunk(beforeTime *float64, count int) model.DataChunk {
	total := len(s.data)
	if total == 0 {
		return model.DataChunk{Data: []model.DataPoint{}, ChunkInfo: model.EmptyChunkInfo(0, 0)}
	}

	s.ensureSorted()

	end := total
	if beforeTime != nil {
		end = s.searchTime(*beforeTime)
	}
	start := end - count
	if start < 0 {
		start = 0
	}

	slice := clonePoints(s.data[start:end])
	info := model.EmptyChunkInfo(start, end)
	if len(slice) > 0 {
		info.StartTime = slice[0]["time"]
		info.EndTime = slice[len(slice)-1]["time"]
		info.Count = len(slice)
	}

	return model.DataChunk{
		Data:           slice,
		ChunkInfo:      info,
		HasMoreBefore:  start > 0,
		HasMoreAfter:   end < total,
		TotalAvailable: total,
	}
}

// searchTime returns the index of the first point with time >= t
func (s *SeriesData) searchTime(t float64) int {
	return sort.Search(len(s.data), func(i int) bool {
		return s.data[i].Time() >= t
	})
}

// Snapshot returns the full content of the series
func (s *SeriesData) Snapshot() model.SeriesSnapshot {
	return model.SeriesSnapshot{
		SeriesType: s.SeriesType,
		Data:       s.Points(),
		Options:    CopyOptions(s.Options),
	}
}

// Clone returns an independent copy of the series
func (s *SeriesData) Clone() *SeriesData {
	s.ensureSorted()
	return &SeriesData{
		ChartID:    s.ChartID,
		PaneID:     s.PaneID,
		SeriesID:   s.SeriesID,
		SeriesType: s.SeriesType,
		Options:    CopyOptions(s.Options),
		data:       clonePoints(s.data),
		sorted:     true,
	}
}

// CopyPoints returns a copy of the slice and of each point's fields.
// Nested field values are shared with the input.
func CopyPoints(points []model.DataPoint) []model.DataPoint {
	cp := make([]model.DataPoint, len(points))
	for i, p := range points {
		cp[i] = p.Copy()
	}
	return cp
}

// clonePoints copies points handed out of the store. Nested field values
// are deep copied so callers never reach stored state.
func clonePoints(points []model.DataPoint) []model.DataPoint {
	cp := make([]model.DataPoint, len(points))
	for i, p := range points {
		cp[i] = clonePoint(p)
	}
	return cp
}

func clonePoint(p model.DataPoint) model.DataPoint {
	cp := make(model.DataPoint, len(p))
	for k, v := range p {
		if isScalar(v) {
			cp[k] = v
			continue
		}
		nested, err := copystructure.Copy(v)
		if err != nil {
			cp[k] = v
			continue
		}
		cp[k] = nested
	}
	return cp
}

func isScalar(v interface{}) bool {
	switch v.(type) {
	case nil, bool, string, json.Number,
		float64, float32, int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

// CopyOptions deep copies an options map. nil yields an empty map.
func CopyOptions(options map[string]interface{}) map[string]interface{} {
	if options == nil {
		return make(map[string]interface{})
	}
	cp, err := copystructure.Copy(options)
	if err != nil {
		shallow := make(map[string]interface{}, len(options))
		for k, v := range options {
			shallow[k] = v
		}
		return shallow
	}
	return cp.(map[string]interface{})
}
