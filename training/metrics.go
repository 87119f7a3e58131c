package training

import (
	"encoding/json"
	"fmt"
	"os"
)

// resultGroup is one of the three nested metric logs of the results file:
// metric name → task id → ordered scalar values.
type resultGroup struct {
	Losses   map[int][]float64 `json:"losses"`
	Accuracy map[int][]float64 `json:"accuracy"`
}

func newResultGroup() resultGroup {
	return resultGroup{
		Losses:   make(map[int][]float64),
		Accuracy: make(map[int][]float64),
	}
}

func (g *resultGroup) record(task int, loss, acc float64) {
	g.Losses[task] = append(g.Losses[task], loss)
	g.Accuracy[task] = append(g.Accuracy[task], acc)
}

// MetricsLog is the append-only metrics store owned by the trainer. The
// inner/outer/test groups are what Flush writes to the results file; the
// flat plot series feeds the end-of-run metric plots. It is an explicit
// object with trainer lifecycle, not process-global state.
type MetricsLog struct {
	Inner resultGroup `json:"inner"`
	Outer resultGroup `json:"outer"`
	Test  resultGroup `json:"test"`

	plotOrder  []string
	plotSeries map[string][]float64
}

// NewMetricsLog creates an empty metrics log.
func NewMetricsLog() *MetricsLog {
	return &MetricsLog{
		Inner:      newResultGroup(),
		Outer:      newResultGroup(),
		Test:       newResultGroup(),
		plotSeries: make(map[string][]float64),
	}
}

// RecordInner appends an inner-loop loss/accuracy observation for a task.
func (m *MetricsLog) RecordInner(task int, loss, acc float64) { m.Inner.record(task, loss, acc) }

// RecordOuter appends an outer-loop (query) loss/accuracy observation.
func (m *MetricsLog) RecordOuter(task int, loss, acc float64) { m.Outer.record(task, loss, acc) }

// RecordTest appends a validation loss/accuracy observation.
func (m *MetricsLog) RecordTest(task int, loss, acc float64) { m.Test.record(task, loss, acc) }

// Track appends one value to a named plot series, registering the series on
// first use.
func (m *MetricsLog) Track(name string, value float64) {
	if _, ok := m.plotSeries[name]; !ok {
		m.plotOrder = append(m.plotOrder, name)
	}
	m.plotSeries[name] = append(m.plotSeries[name], value)
}

// PlotSeries returns the tracked series names in registration order and the
// series map.
func (m *MetricsLog) PlotSeries() ([]string, map[string][]float64) {
	return append([]string(nil), m.plotOrder...), m.plotSeries
}

// Flush writes the three metric groups to path as JSON, fully overwriting
// any previous contents.
func (m *MetricsLog) Flush(path string) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("metrics flush: %w", err)
	}
	if err := os.WriteFile(path, payload, 0o644); err != nil {
		return fmt.Errorf("metrics flush: %w", err)
	}
	return nil
}
