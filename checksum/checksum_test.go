package checksum

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWords(t *testing.T) {
	assert.Equal(t, Seed, Words(Seed, nil))
	assert.Equal(t, uint16(Seed+3), Words(Seed, []uint16{1, 2}))
	// 16-bit wraparound
	assert.Equal(t, uint16(0xB58B), Words(Seed, []uint16{0xFFFF}))
}

func TestComputeMatchesWordSum(t *testing.T) {
	payload := []byte{0x01, 0x00, 0x02, 0x00, 0xFF, 0xFF}
	want := Words(Seed, []uint16{0x0001, 0x0002, 0xFFFF})
	assert.Equal(t, want, Compute(payload))
}

func TestComputeIgnoresTrailingOddByte(t *testing.T) {
	even := []byte{0x10, 0x20, 0x30, 0x40}
	odd := append(append([]byte{}, even...), 0x7F)
	assert.Equal(t, Compute(even), Compute(odd))
}

func TestValidate(t *testing.T) {
	payload := []byte{0xA5, 0x01, 0x15, 0x00, 0xAA, 0xBB}
	sum := Compute(payload)

	assert.True(t, Validate(payload, sum))
	assert.False(t, Validate(payload, sum+1))

	// corrupting any payload word breaks validation
	corrupt := append([]byte{}, payload...)
	corrupt[2] ^= 0x01
	assert.False(t, Validate(corrupt, sum))
}

func TestAppendRoundTrip(t *testing.T) {
	body := []byte{0xA5, 0x00, 0x00, 0x01, 0x02, 0x00}
	frame := Append(append([]byte{}, body...))
	require.Len(t, frame, len(body)+2)

	claimed := binary.LittleEndian.Uint16(frame[len(frame)-2:])
	assert.True(t, Validate(frame[:len(frame)-2], claimed))
}
