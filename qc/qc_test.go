package qc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marhydro/oceandrv/sample"
)

func velocitySample(v1, v2, v3 int) *sample.Record {
	rec := sample.New("velpt_velocity_data", nil, time.Time{})
	rec.Append("velocity_beam1", v1)
	rec.Append("velocity_beam2", v2)
	rec.Append("velocity_beam3", v3)
	return rec
}

func TestSteadyFlowStaysClean(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 40; i++ {
		rec := velocitySample(100+i%3, -50, 7)
		m.Observe(rec)
		assert.Equal(t, sample.QualityOK, rec.Quality)
	}

	mean, _, ok := m.Baseline("velocity_beam2")
	require.True(t, ok)
	assert.InDelta(t, -50, mean, 0.01)
}

func TestSpikeIsFlaggedQuestionable(t *testing.T) {
	m := NewMonitor()
	for i := 0; i < 30; i++ {
		m.Observe(velocitySample(100+i%5, 0, 0))
	}

	spike := velocitySample(5000, 0, 0)
	m.Observe(spike)
	assert.Equal(t, sample.QualityQuestionable, spike.Quality)

	// the spike must not poison the baseline
	next := velocitySample(102, 0, 0)
	m.Observe(next)
	assert.Equal(t, sample.QualityOK, next.Quality)
}

func TestColdWindowNeverVotes(t *testing.T) {
	m := NewMonitor()
	first := velocitySample(0, 0, 0)
	m.Observe(first)
	wild := velocitySample(30000, -30000, 30000)
	m.Observe(wild)
	assert.Equal(t, sample.QualityOK, wild.Quality)
}

func TestBadSamplesKeepTheirFlag(t *testing.T) {
	m := NewMonitor()
	rec := velocitySample(1, 2, 3)
	rec.Quality = sample.QualityChecksumFailed
	m.Observe(rec)
	assert.Equal(t, sample.QualityChecksumFailed, rec.Quality)

	// and stay out of the baseline
	_, _, ok := m.Baseline("velocity_beam1")
	assert.False(t, ok)
}
