package record

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marhydro/oceandrv/checksum"
)

var testSync = []byte{0xA5, 0x7F}

func testSchema(t *testing.T) *Schema {
	t.Helper()
	s, err := New("test_record", testSync,
		Field{Name: "interval", Length: 2, Codec: U16Codec, Vis: ReadWrite, Default: 60},
		Field{Name: "heading", Length: 2, Codec: I16Codec, Vis: ReadOnly},
		Field{Name: "tcr", Length: 2, Codec: U16Codec, Vis: ReadWrite, Default: 0},
		Field{Name: "profile_type", Bits: &BitRange{Parent: "tcr", Shift: 1, Width: 1}, Vis: ReadWrite},
		Field{Name: "power_level", Bits: &BitRange{Parent: "tcr", Shift: 5, Width: 2}, Vis: ReadWrite},
		SpareBytes(2),
		Field{Name: "name", Length: 4, Codec: StringCodec, Vis: Immutable, Startup: true, Default: ""},
		Field{Name: "clock", Length: 6, Codec: BCDTimeCodec, Vis: ReadOnly},
	)
	require.NoError(t, err)
	return s
}

func TestSchemaLayoutInvariant(t *testing.T) {
	s := testSchema(t)
	// sync(2) + 2+2+2+2+4+6 fields + checksum(2)
	assert.Equal(t, 22, s.TotalLength())

	off, ok := s.Offset("name")
	require.True(t, ok)
	assert.Equal(t, 10, off)

	// bit fields occupy no bytes
	_, ok = s.Offset("profile_type")
	assert.False(t, ok)
}

func TestSchemaRejectsMalformedTables(t *testing.T) {
	_, err := New("bad", testSync,
		Field{Name: "orphan", Bits: &BitRange{Parent: "missing", Shift: 0, Width: 1}})
	assert.Error(t, err)

	_, err = New("bad", testSync,
		Field{Name: "a", Length: 2, Codec: U16Codec},
		Field{Name: "a", Length: 2, Codec: U16Codec})
	assert.Error(t, err)

	_, err = New("bad", testSync, Field{Name: "zero", Codec: U16Codec})
	assert.Error(t, err)
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	s := testSchema(t)
	values := map[string]interface{}{
		"interval": 300,
		"heading":  -125,
		"tcr":      0x0062,
		"name":     "aq1",
		"clock":    []int{30, 15, 26, 11, 24, 6},
	}

	raw, err := s.Encode(values)
	require.NoError(t, err)
	require.Len(t, raw, s.TotalLength())
	assert.Equal(t, testSync, raw[:2])

	d, err := s.Decode(raw)
	require.NoError(t, err)
	assert.True(t, d.ChecksumValid)
	assert.Empty(t, d.FieldErrors)

	for name, want := range values {
		assert.Equal(t, want, d.Values[name], name)
	}
	// bit fields come back as views on the parent word
	assert.Equal(t, 1, d.Values["profile_type"])
	assert.Equal(t, 3, d.Values["power_level"])
}

func TestEncodeAuthoritativeOrder(t *testing.T) {
	s := testSchema(t)
	// encoding the same values twice must be byte-identical: the wire format
	// is positional and cannot depend on map iteration order
	values := map[string]interface{}{"interval": 1, "heading": 2, "tcr": 3, "name": "x"}
	a, err := s.Encode(values)
	require.NoError(t, err)
	b, err := s.Encode(values)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSpareRegionsEncodeAsZeros(t *testing.T) {
	s := testSchema(t)
	raw, err := s.Encode(map[string]interface{}{"spare0": []byte{0xDE, 0xAD}})
	require.NoError(t, err)

	off, _ := s.Offset("spare0")
	assert.Equal(t, []byte{0, 0}, raw[off:off+2])
}

func TestStringEncodeIsLossy(t *testing.T) {
	s := testSchema(t)
	raw, err := s.Encode(map[string]interface{}{"name": "overlong"})
	require.NoError(t, err)

	d, err := s.Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, "over", d.Values["name"])
}

func TestDecodeTruncatedFrameFailsWholeRecord(t *testing.T) {
	s := testSchema(t)
	raw, err := s.Encode(nil)
	require.NoError(t, err)

	_, err = s.Decode(raw[:s.TotalLength()-3])
	var fe *FrameError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "test_record", fe.Stream)
}

func TestDecodeBadSyncFailsWholeRecord(t *testing.T) {
	s := testSchema(t)
	raw, err := s.Encode(nil)
	require.NoError(t, err)
	raw[0] = 0x00

	var fe *FrameError
	_, err = s.Decode(raw)
	assert.ErrorAs(t, err, &fe)
}

func TestPartialDecodeSurvivesFieldFailure(t *testing.T) {
	s := testSchema(t)
	raw, err := s.Encode(map[string]interface{}{
		"interval": 300,
		"clock":    []int{30, 15, 26, 11, 24, 6},
	})
	require.NoError(t, err)

	// corrupt the BCD clock field only; 0xFF is not a BCD byte
	off, _ := s.Offset("clock")
	raw[off] = 0xFF
	// refresh the checksum so only the one field is at fault
	sum := checksum.Compute(raw[:s.TotalLength()-2])
	binary.LittleEndian.PutUint16(raw[s.TotalLength()-2:], sum)

	d, err := s.Decode(raw)
	require.NoError(t, err)
	assert.True(t, d.ChecksumValid)
	assert.Contains(t, d.FieldErrors, "clock")
	assert.NotContains(t, d.Values, "clock")
	assert.Equal(t, 300, d.Values["interval"])
}

func TestChecksumMismatchDoesNotBlockDecode(t *testing.T) {
	s := testSchema(t)
	raw, err := s.Encode(map[string]interface{}{"interval": 300})
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0xFF

	d, err := s.Decode(raw)
	require.NoError(t, err)
	assert.False(t, d.ChecksumValid)
	assert.Equal(t, 300, d.Values["interval"])
}

func TestDecodeStripsAckTrailer(t *testing.T) {
	s := testSchema(t)
	s.Trailer = []byte{0x06, 0x06}

	raw, err := s.Encode(nil)
	require.NoError(t, err)

	d, err := s.Decode(append(raw, 0x06, 0x06))
	require.NoError(t, err)
	assert.True(t, d.ChecksumValid)

	_, err = s.Decode(append(raw, 0x15, 0x15))
	assert.Error(t, err)
}

func TestConfigSetVisibility(t *testing.T) {
	s := testSchema(t)
	c := s.NewConfig()

	require.NoError(t, c.Set("interval", 120))

	err := c.Set("heading", 5)
	assert.ErrorIs(t, err, ErrProtected)

	// immutable: rejected at runtime, accepted at startup
	err = c.Set("name", "aqd")
	assert.ErrorIs(t, err, ErrProtected)
	assert.NoError(t, c.SetStartup("name", "aqd"))

	err = c.Set("no_such_parameter", 1)
	assert.ErrorIs(t, err, ErrUnknownField)

	// failed sets leave the configuration unchanged
	v, _ := c.Get("heading")
	assert.Nil(t, v)
}

func TestConfigBitFieldReadModifyWrite(t *testing.T) {
	s := testSchema(t)
	c := s.NewConfig()
	require.NoError(t, c.Set("tcr", 0x0040))

	require.NoError(t, c.Set("profile_type", 1))
	v, err := c.Get("tcr")
	require.NoError(t, err)
	assert.Equal(t, 0x0042, v)

	require.NoError(t, c.Set("power_level", 3))
	v, _ = c.Get("tcr")
	assert.Equal(t, 0x0062, v)

	// width overflow is rejected and leaves the word alone
	assert.Error(t, c.Set("power_level", 4))
	v, _ = c.Get("tcr")
	assert.Equal(t, 0x0062, v)

	pl, err := c.Get("power_level")
	require.NoError(t, err)
	assert.Equal(t, 3, pl)
}

func TestConfigHydrateEncodeRoundTrip(t *testing.T) {
	s := testSchema(t)
	c := s.NewConfig()
	require.NoError(t, c.Set("interval", 900))
	require.NoError(t, c.Set("tcr", 0x0130))
	require.NoError(t, c.SetStartup("name", "a1"))

	raw, err := c.Encode()
	require.NoError(t, err)

	back, err := s.HydrateConfig(raw)
	require.NoError(t, err)

	// re-applying an encoded snapshot reproduces the parameter set (spares
	// and read-only zero regions excluded, they decode to zero values)
	for _, name := range []string{"interval", "tcr", "name", "profile_type", "power_level"} {
		want, _ := c.Get(name)
		got, _ := back.Get(name)
		assert.Equal(t, want, got, name)
	}
}

func TestConfigDirectSnapshotRestore(t *testing.T) {
	s, err := New("da", testSync,
		Field{Name: "a", Length: 2, Codec: U16Codec, Vis: ReadWrite, Direct: true, Default: 7},
		Field{Name: "b", Length: 2, Codec: U16Codec, Vis: ReadWrite, Default: 9},
	)
	require.NoError(t, err)

	c := s.NewConfig()
	snap := c.DirectSnapshot()
	assert.Equal(t, map[string]interface{}{"a": 7}, snap)

	require.NoError(t, c.Set("a", 1))
	require.NoError(t, c.Set("b", 2))
	c.RestoreDirect(snap)

	a, _ := c.Get("a")
	b, _ := c.Get("b")
	assert.Equal(t, 7, a)
	assert.Equal(t, 2, b) // non-direct parameters are left alone
}

func TestBCDCodec(t *testing.T) {
	v, err := BCDTimeCodec.Decode([]byte{0x30, 0x15, 0x26, 0x11, 0x24, 0x06})
	require.NoError(t, err)
	assert.Equal(t, []int{30, 15, 26, 11, 24, 6}, v)

	_, err = BCDTimeCodec.Decode([]byte{0xFA, 0, 0, 0, 0, 0})
	assert.Error(t, err)

	b, err := BCDTimeCodec.Encode([]int{59, 1, 31, 23, 99, 12})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x59, 0x01, 0x31, 0x23, 0x99, 0x12}, b)
}

func TestCodecRangeErrors(t *testing.T) {
	_, err := U8Codec.Encode(256)
	assert.Error(t, err)
	_, err = U16Codec.Encode(-1)
	assert.Error(t, err)
	_, err = I16Codec.Encode(0x8000)
	assert.Error(t, err)
	_, err = U16Codec.Encode("nope")
	assert.Error(t, err)
}

func TestFrameErrorIsDistinctFromFieldError(t *testing.T) {
	s := testSchema(t)
	_, err := s.Decode(nil)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrProtected))
	assert.Contains(t, err.Error(), "bad frame")
}

func TestConfigCloneIsIndependent(t *testing.T) {
	s, err := New("clone", testSync,
		Field{Name: "a", Length: 2, Codec: U16Codec, Vis: ReadWrite, Default: 7},
		Field{Name: "blob", Length: 2, Codec: RawCodec, Vis: ReadWrite, Default: []byte{1, 2}},
	)
	require.NoError(t, err)

	c := s.NewConfig()
	cp := c.Clone()

	require.NoError(t, cp.Set("a", 900))
	v, _ := c.Get("a")
	assert.Equal(t, 7, v)

	// raw byte values are duplicated, not shared
	b, _ := cp.Get("blob")
	b.([]byte)[0] = 0xFF
	orig, _ := c.Get("blob")
	assert.Equal(t, []byte{1, 2}, orig)
}
