package chunker

import (
	"bytes"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	shortSync = []byte{0xA5, 0x01}
	longSync  = []byte{0xA5, 0x05}
)

func frame(sync []byte, length int, fill byte) []byte {
	f := make([]byte, length)
	copy(f, sync)
	for i := len(sync); i < length; i++ {
		f[i] = fill
	}
	return f
}

func TestSyncMatcherFind(t *testing.T) {
	m := SyncMatcher{Sync: shortSync, Length: 8}

	buf := append(frame(shortSync, 8, 0x11), frame(shortSync, 8, 0x22)...)
	spans := m.Find(buf)
	require.Len(t, spans, 2)
	assert.Equal(t, Span{0, 8}, spans[0])
	assert.Equal(t, Span{8, 16}, spans[1])

	// sync present but window incomplete
	assert.Empty(t, m.Find(buf[:6]))
	assert.Empty(t, m.Find([]byte{0x00, 0xA5}))
}

func TestCombinationWithNoise(t *testing.T) {
	c := New(0, SyncMatcher{Sync: shortSync, Length: 8})

	noise := []byte{0x00, 0xFF, 0x7E}
	f1 := frame(shortSync, 8, 0x11)
	f2 := frame(shortSync, 8, 0x22)
	var stream []byte
	stream = append(stream, noise...)
	stream = append(stream, f1...)
	stream = append(stream, noise...)
	stream = append(stream, f2...)

	c.Add(stream, time.Unix(100, 0))

	got := c.Drain()
	require.Len(t, got, 2)
	assert.Equal(t, f1, got[0].Data)
	assert.Equal(t, f2, got[1].Data)

	_, ok := c.Next()
	assert.False(t, ok)
}

func TestFragmentationInvariance(t *testing.T) {
	f1 := frame(shortSync, 8, 0x11)
	f2 := frame(longSync, 12, 0x22)
	var stream []byte
	stream = append(stream, 0x13) // leading noise
	stream = append(stream, f1...)
	stream = append(stream, f2...)

	// every possible two-way split of the stream yields the same two chunks
	for cut := 0; cut <= len(stream); cut++ {
		c := New(0,
			SyncMatcher{Sync: shortSync, Length: 8},
			SyncMatcher{Sync: longSync, Length: 12})
		c.Add(stream[:cut], time.Unix(1, 0))
		c.Add(stream[cut:], time.Unix(2, 0))

		got := c.Drain()
		require.Len(t, got, 2, "cut=%d", cut)
		assert.Equal(t, f1, got[0].Data, "cut=%d", cut)
		assert.Equal(t, f2, got[1].Data, "cut=%d", cut)
	}
}

func TestChunkPortTimeIsFirstByteArrival(t *testing.T) {
	c := New(0, SyncMatcher{Sync: shortSync, Length: 8})
	f := frame(shortSync, 8, 0x33)

	t1 := time.Unix(10, 0)
	t2 := time.Unix(11, 0)
	c.Add(f[:3], t1)
	_, ok := c.Next()
	require.False(t, ok)

	c.Add(f[3:], t2)
	ch, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, f, ch.Data)
	assert.Equal(t, t1, ch.PortTime)
}

func TestOverlapPrefersLongestSpan(t *testing.T) {
	// the short pattern also occurs inside the long frame's body
	long := frame(longSync, 16, 0x00)
	copy(long[6:], shortSync)

	c := New(0,
		SyncMatcher{Sync: shortSync, Length: 8},
		SyncMatcher{Sync: longSync, Length: 16})
	c.Add(long, time.Unix(5, 0))

	got := c.Drain()
	require.Len(t, got, 1)
	assert.Equal(t, long, got[0].Data)
}

func TestRegexMatcherASCII(t *testing.T) {
	c := New(0, RegexMatcher{Pattern: regexp.MustCompile(`(?s)AQUADOPP.*?VERSION \d+\.\d+`)})

	c.Add([]byte("garbageAQUADOPP 3000 "), time.Unix(1, 0))
	_, ok := c.Next()
	require.False(t, ok)

	c.Add([]byte("VERSION 1.3\r\n"), time.Unix(2, 0))
	ch, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, "AQUADOPP 3000 VERSION 1.3", string(ch.Data))
}

func TestNoiseOnlyBufferIsBounded(t *testing.T) {
	c := New(64, SyncMatcher{Sync: shortSync, Length: 8})
	for i := 0; i < 100; i++ {
		c.Add(bytes.Repeat([]byte{0x55}, 10), time.Unix(int64(i), 0))
	}
	assert.LessOrEqual(t, len(c.buf), 64)
	_, ok := c.Next()
	assert.False(t, ok)

	// a frame arriving after the noise flood is still recognized
	c.Add(frame(shortSync, 8, 0x44), time.Unix(200, 0))
	ch, ok := c.Next()
	require.True(t, ok)
	assert.Equal(t, frame(shortSync, 8, 0x44), ch.Data)
}

func TestResetDropsEverything(t *testing.T) {
	c := New(0, SyncMatcher{Sync: shortSync, Length: 8})
	c.Add(frame(shortSync, 8, 0x11), time.Unix(1, 0))
	c.Reset()
	_, ok := c.Next()
	assert.False(t, ok)
	assert.Empty(t, c.buf)
}
