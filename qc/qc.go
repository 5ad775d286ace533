// Package qc screens outgoing velocity samples against a rolling baseline.
// A reading far outside the recent spread is flagged questionable rather
// than dropped; downstream consumers decide what to do with it.
package qc

import (
	"gonum.org/v1/gonum/stat"

	"github.com/marhydro/oceandrv/sample"
)

const (
	DefaultWindow    = 30
	DefaultThreshold = 4.0
)

// Monitor keeps a bounded window of recent beam velocities per beam and
// flags samples that sit more than Threshold standard deviations from the
// window mean. Not safe for concurrent use; drive it from the publish path.
type Monitor struct {
	Window    int
	Threshold float64

	beams map[string][]float64
}

func NewMonitor() *Monitor {
	return &Monitor{Window: DefaultWindow, Threshold: DefaultThreshold,
		beams: make(map[string][]float64)}
}

// beamValueIDs are the fields screened on each velocity sample.
var beamValueIDs = []string{"velocity_beam1", "velocity_beam2", "velocity_beam3"}

// Observe screens one sample and then folds it into the baseline. Samples
// already marked bad keep their flag and are excluded from the baseline so
// a corrupt burst cannot drag the window.
func (m *Monitor) Observe(rec *sample.Record) {
	if rec == nil {
		return
	}
	suspect := false
	values := make(map[string]float64, len(beamValueIDs))
	for _, v := range rec.Values {
		n, ok := asFloat(v.Value)
		if !ok {
			continue
		}
		for _, id := range beamValueIDs {
			if v.ID == id {
				values[id] = n
				if m.outlier(id, n) {
					suspect = true
				}
			}
		}
	}

	if rec.Quality != sample.QualityOK {
		return
	}
	if suspect {
		rec.Quality = sample.QualityQuestionable
		return
	}
	for id, n := range values {
		m.fold(id, n)
	}
}

// outlier reports whether x breaks away from the rolling window for id.
// The window must be at least half full before it can vote.
func (m *Monitor) outlier(id string, x float64) bool {
	w := m.beams[id]
	if len(w) < m.Window/2 {
		return false
	}
	mean, std := stat.MeanStdDev(w, nil)
	if std == 0 {
		return x != mean
	}
	d := x - mean
	if d < 0 {
		d = -d
	}
	return d > m.Threshold*std
}

func (m *Monitor) fold(id string, x float64) {
	w := append(m.beams[id], x)
	if len(w) > m.Window {
		w = w[len(w)-m.Window:]
	}
	m.beams[id] = w
}

// Baseline reports the current window mean and standard deviation for one
// beam, and false until the window has any data.
func (m *Monitor) Baseline(id string) (mean, std float64, ok bool) {
	w := m.beams[id]
	if len(w) == 0 {
		return 0, 0, false
	}
	mean, std = stat.MeanStdDev(w, nil)
	return mean, std, true
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}
