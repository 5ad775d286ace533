package file

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadPersistRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"SERIAL": {"PORT": "/dev/ttyUSB0", "BAUDRATE": 9600},
		"SCHEDULE": {"CLOCKSYNC": "1h"},
		"DEBUG": true
	}`), 0o644))

	p, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB0", p.SERIAL.PORT)
	assert.True(t, p.DEBUG)

	// normalization fills the monitor section
	require.NotNil(t, p.MONITOR)
	assert.Equal(t, ":8585", p.MONITOR.ADDR)

	cs, err := p.SCHEDULE.ClockSyncInterval()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, cs)
	as, err := p.SCHEDULE.AcquireStatusInterval()
	require.NoError(t, err)
	assert.Zero(t, as)

	p.SERIAL.PORT = "/dev/ttyUSB1"
	p.SetSnapshot([]byte{0xA5, 0x00, 0x00, 0x01})
	require.NoError(t, PersistParameters(path, p))

	back, err := LoadParameters(path)
	require.NoError(t, err)
	assert.Equal(t, "/dev/ttyUSB1", back.SERIAL.PORT)
	snap, err := back.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, []byte{0xA5, 0x00, 0x00, 0x01}, snap)
}

func TestLoadRejectsBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0o644))
	_, err := LoadParameters(path)
	assert.Error(t, err)
}

func TestBadScheduleInterval(t *testing.T) {
	s := &SCHEDULE{CLOCKSYNC: "soon"}
	_, err := s.ClockSyncInterval()
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "CLOCKSYNC"))
}

func TestAppendJSONLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	require.NoError(t, AppendJSONLine(path, map[string]interface{}{"stream_name": "velpt_velocity_data"}))
	require.NoError(t, AppendJSONLine(path, map[string]interface{}{"stream_name": "velpt_battery_voltage"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], "velpt_velocity_data")
}
