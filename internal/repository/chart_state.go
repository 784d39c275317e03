package repository

import "github.com/yourorg/chart-datafeed/internal/model"

// pane keeps its series in insertion order
type pane struct {
	series map[string]*SeriesData
	order  []string
}

// ChartState is a named collection of panes, each holding named series.
// Like SeriesData it relies on the datafeed service for locking.
type ChartState struct {
	ChartID string
	Options map[string]interface{}

	panes     map[int]*pane
	paneOrder []int
}

// NewChartState creates an empty chart that takes ownership of options
func NewChartState(chartID string, options map[string]interface{}) *ChartState {
	if options == nil {
		options = make(map[string]interface{})
	}
	return &ChartState{
		ChartID: chartID,
		Options: options,
		panes:   make(map[int]*pane),
	}
}

// GetSeries looks up a series of a pane
func (c *ChartState) GetSeries(paneID int, seriesID string) (*SeriesData, bool) {
	p, ok := c.panes[paneID]
	if !ok {
		return nil, false
	}
	s, ok := p.series[seriesID]
	return s, ok
}

// SetSeries stores a series, creating the pane on first use
func (c *ChartState) SetSeries(paneID int, seriesID string, series *SeriesData) {
	p, ok := c.panes[paneID]
	if !ok {
		p = &pane{series: make(map[string]*SeriesData)}
		c.panes[paneID] = p
		c.paneOrder = append(c.paneOrder, paneID)
	}
	if _, exists := p.series[seriesID]; !exists {
		p.order = append(p.order, seriesID)
	}
	p.series[seriesID] = series
}

// PaneIDs returns the pane indices in creation order
func (c *ChartState) PaneIDs() []int {
	ids := make([]int, len(c.paneOrder))
	copy(ids, c.paneOrder)
	return ids
}

// SeriesIDs returns the series of a pane in creation order
func (c *ChartState) SeriesIDs(paneID int) []string {
	p, ok := c.panes[paneID]
	if !ok {
		return nil
	}
	ids := make([]string, len(p.order))
	copy(ids, p.order)
	return ids
}

// SeriesCount returns the number of series across all panes
func (c *ChartState) SeriesCount() int {
	n := 0
	for _, p := range c.panes {
		n += len(p.series)
	}
	return n
}

// GetAllSeriesData returns a snapshot of every series keyed by pane and series id
func (c *ChartState) GetAllSeriesData() map[int]map[string]model.SeriesSnapshot {
	result := make(map[int]map[string]model.SeriesSnapshot, len(c.panes))
	for _, paneID := range c.paneOrder {
		p := c.panes[paneID]
		series := make(map[string]model.SeriesSnapshot, len(p.series))
		for _, id := range p.order {
			series[id] = p.series[id].Snapshot()
		}
		result[paneID] = series
	}
	return result
}

// Clone returns a deep, independent copy of the chart
func (c *ChartState) Clone() *ChartState {
	cp := &ChartState{
		ChartID:   c.ChartID,
		Options:   CopyOptions(c.Options),
		panes:     make(map[int]*pane, len(c.panes)),
		paneOrder: make([]int, len(c.paneOrder)),
	}
	copy(cp.paneOrder, c.paneOrder)

	for id, p := range c.panes {
		np := &pane{
			series: make(map[string]*SeriesData, len(p.series)),
			order:  make([]string, len(p.order)),
		}
		copy(np.order, p.order)
		for sid, s := range p.series {
			np.series[sid] = s.Clone()
		}
		cp.panes[id] = np
	}

	return cp
}
