package transport

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListByGlobDedupesAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB1", "ttyUSB0", "ttyACM0"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
	}

	got := listByGlob(
		filepath.Join(dir, "ttyUSB*"),
		filepath.Join(dir, "ttyACM*"),
		filepath.Join(dir, "tty*"), // overlaps both patterns above
	)
	assert.Equal(t, []string{
		filepath.Join(dir, "ttyACM0"),
		filepath.Join(dir, "ttyUSB0"),
		filepath.Join(dir, "ttyUSB1"),
	}, got)
}

func TestModeInquiryProbeRecognizesAck(t *testing.T) {
	inquiry, recognize := ModeInquiryProbe()
	assert.Equal(t, []byte("II"), inquiry)
	assert.True(t, recognize([]byte{0x02, 0x00, 0x06, 0x06}))
	assert.False(t, recognize([]byte("garbage")))
	assert.False(t, recognize(nil))
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings("/dev/ttyUSB0")
	assert.Equal(t, 9600, s.Baud)
	assert.NotZero(t, s.ReadTimeout)
}
