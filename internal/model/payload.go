package model

// ChunkInfo describes the position of a chunk inside its series. The times
// are the stored "time" values of the first and last point, or 0 for an
// empty chunk.
type ChunkInfo struct {
	StartIndex int         `json:"start_index"`
	EndIndex   int         `json:"end_index"`
	StartTime  interface{} `json:"start_time"`
	EndTime    interface{} `json:"end_time"`
	Count      int         `json:"count"`
}

// EmptyChunkInfo is the position reported for a chunk without points
func EmptyChunkInfo(startIndex, endIndex int) ChunkInfo {
	return ChunkInfo{StartIndex: startIndex, EndIndex: endIndex, StartTime: 0, EndTime: 0}
}

// DataChunk is a bounded slice of a series returned for pagination
type DataChunk struct {
	Data           []DataPoint `json:"data"`
	ChunkInfo      ChunkInfo   `json:"chunk_info"`
	HasMoreBefore  bool        `json:"has_more_before"`
	HasMoreAfter   bool        `json:"has_more_after"`
	TotalAvailable int         `json:"total_available"`
}

// SeriesSnapshot is the full content of one series
type SeriesSnapshot struct {
	SeriesType string                 `json:"seriesType"`
	Data       []DataPoint            `json:"data"`
	Options    map[string]interface{} `json:"options"`
}

// SeriesPayload is the initial data of one series. Chunk metadata is only
// present when the series was chunked.
type SeriesPayload struct {
	SeriesID      string                 `json:"seriesId"`
	SeriesType    string                 `json:"seriesType"`
	Data          []DataPoint            `json:"data"`
	Options       map[string]interface{} `json:"options"`
	Chunked       bool                   `json:"chunked"`
	ChunkInfo     *ChunkInfo             `json:"chunkInfo,omitempty"`
	HasMoreBefore *bool                  `json:"hasMoreBefore,omitempty"`
	HasMoreAfter  *bool                  `json:"hasMoreAfter,omitempty"`
	TotalCount    int                    `json:"totalCount"`
}

// PanePayload groups the series of one pane
type PanePayload struct {
	PaneID int             `json:"paneId"`
	Series []SeriesPayload `json:"series"`
}

// ChartPayload is the initial data of a whole chart
type ChartPayload struct {
	ChartID string                 `json:"chartId"`
	Panes   []PanePayload          `json:"panes"`
	Options map[string]interface{} `json:"options"`
}

// HistoryPayload is a page of older data for one series
type HistoryPayload struct {
	SeriesID      string      `json:"seriesId"`
	Data          []DataPoint `json:"data"`
	ChunkInfo     ChunkInfo   `json:"chunkInfo"`
	HasMoreBefore bool        `json:"hasMoreBefore"`
	HasMoreAfter  bool        `json:"hasMoreAfter"`
	TotalCount    int         `json:"totalCount"`
}
