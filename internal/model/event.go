package model

import "encoding/json"

// Event types
const (
	// EventDataUpdate is emitted after every successful set or append
	EventDataUpdate = "data_update"
	// EventChartDeleted is emitted once to the sinks of a deleted chart
	EventChartDeleted = "chart_deleted"
)

// UpdatePayload describes which series changed
type UpdatePayload struct {
	PaneID   int    `json:"paneId"`
	SeriesID string `json:"seriesId"`
	Count    int    `json:"count"`
	Append   bool   `json:"append,omitempty"`
}

// Event is a chart change notification. It marshals to the flat frame
// relayed to stream listeners: {"type", "chartId", "paneId", ...}.
// A chart_deleted event carries only type and chartId.
type Event struct {
	Type    string `json:"type"`
	ChartID string `json:"chartId"`
	UpdatePayload
}

// MarshalJSON implements json.Marshaler
func (e Event) MarshalJSON() ([]byte, error) {
	if e.Type == EventChartDeleted {
		return json.Marshal(struct {
			Type    string `json:"type"`
			ChartID string `json:"chartId"`
		}{e.Type, e.ChartID})
	}
	type event Event
	return json.Marshal(event(e))
}
