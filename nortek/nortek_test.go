package nortek

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marhydro/oceandrv/checksum"
	"github.com/marhydro/oceandrv/chunker"
	"github.com/marhydro/oceandrv/protocol"
	"github.com/marhydro/oceandrv/record"
	"github.com/marhydro/oceandrv/sample"
)

func TestSchemaWireLengths(t *testing.T) {
	assert.Equal(t, 42, VelocitySchema.TotalLength())
	assert.Equal(t, 48, HardwareSchema.TotalLength())
	assert.Equal(t, 224, HeadSchema.TotalLength())
	assert.Equal(t, 512, UserConfigSchema.TotalLength())
}

func velocityFrame(t *testing.T, values map[string]interface{}) []byte {
	t.Helper()
	raw, err := VelocitySchema.Encode(values)
	require.NoError(t, err)
	require.Len(t, raw, 42)
	return raw
}

func valueByID(rec *sample.Record, id string) (interface{}, bool) {
	for _, v := range rec.Values {
		if v.ID == id {
			return v.Value, true
		}
	}
	return nil, false
}

func TestVelocityRecordDecode(t *testing.T) {
	raw := velocityFrame(t, map[string]interface{}{
		"date_time":               []int{15, 30, 28, 9, 26, 8}, // 2026-08-28 09:15:30
		"battery_voltage_dv":      147,
		"sound_speed_dms":         14832,
		"heading_decidegree":      1665,
		"pitch_decidegree":        -32,
		"roll_decidegree":         51,
		"pressure_msb":            1,
		"pressure_lsw":            5,
		"temperature_centidegree": 1244,
		"velocity_beam1":          -212,
		"velocity_beam2":          340,
		"velocity_beam3":          12,
		"amplitude_beam1":         78,
		"amplitude_beam2":         79,
		"amplitude_beam3":         81,
	})

	recs, err := DecodeChunk(chunker.Chunk{Data: raw, PortTime: time.Now()})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, StreamVelocity, rec.Stream)
	assert.Equal(t, sample.QualityOK, rec.Quality)

	for id, want := range map[string]interface{}{
		"battery_voltage_dv":  147,
		"heading_decidegree":  1665,
		"pitch_decidegree":    -32,
		"pressure_mbar":       1*0x10000 + 5,
		"velocity_beam1":      -212,
		"amplitude_beam3":     81,
		"date_time_string":    "28/08/2026 09:15:30",
	} {
		got, ok := valueByID(rec, id)
		require.True(t, ok, id)
		assert.Equal(t, want, got, id)
	}

	want := sample.Timestamp(time.Date(2026, 8, 28, 9, 15, 30, 0, time.UTC))
	assert.InDelta(t, want, rec.InternalTimestamp, sample.TimestampEpsilon)
}

func TestVelocityChecksumFlagsQuality(t *testing.T) {
	raw := velocityFrame(t, map[string]interface{}{"heading_decidegree": 900})
	raw[20] ^= 0xFF

	recs, err := DecodeChunk(chunker.Chunk{Data: raw})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, sample.QualityChecksumFailed, recs[0].Quality)

	// the payload still decodes
	got, ok := valueByID(recs[0], "heading_decidegree")
	require.True(t, ok)
	assert.Equal(t, 900, got)
}

func TestTruncatedVelocityFrame(t *testing.T) {
	raw := velocityFrame(t, nil)[:19]

	_, err := VelocitySchema.Decode(raw)
	var fe *record.FrameError
	require.ErrorAs(t, err, &fe)

	// and the chunker holds it rather than emitting a partial frame
	c := chunker.New(chunker.DefaultMaxBuffer, NewProfile().Matchers...)
	c.Add(raw, time.Now())
	_, ok := c.Next()
	assert.False(t, ok)
}

func TestCombinedIdentBatteryChunk(t *testing.T) {
	data := append([]byte("AQD 9984  "), Ack...)
	data = append(data, 0x88, 0x13) // 5000 mV
	data = append(data, Ack...)

	recs, err := DecodeChunk(chunker.Chunk{Data: data})
	require.NoError(t, err)
	require.Len(t, recs, 2)

	assert.Equal(t, StreamID, recs[0].Stream)
	id, _ := valueByID(recs[0], "identification_string")
	assert.Equal(t, "AQD 9984", id)

	assert.Equal(t, StreamBattery, recs[1].Stream)
	mv, _ := valueByID(recs[1], "battery_voltage_mv")
	assert.Equal(t, 5000, mv)
}

func TestCombinedMatcherFindsPairInStream(t *testing.T) {
	c := chunker.New(chunker.DefaultMaxBuffer, NewProfile().Matchers...)
	stream := append([]byte{0x00, 0xFF}, []byte("VEC 8181")...)
	stream = append(stream, Ack...)
	stream = append(stream, 0x20, 0x25)
	stream = append(stream, Ack...)
	c.Add(stream, time.Now())

	ch, ok := c.Next()
	require.True(t, ok)
	recs, err := DecodeChunk(ch)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	id, _ := valueByID(recs[0], "identification_string")
	assert.Equal(t, "VEC 8181", id)
}

func TestClockChunkDecode(t *testing.T) {
	// minute, second, day, hour, year, month in BCD
	data := append([]byte{0x41, 0x09, 0x30, 0x17, 0x26, 0x08}, Ack...)

	recs, err := DecodeChunk(chunker.Chunk{Data: data})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, StreamClock, recs[0].Stream)
	arr, _ := valueByID(recs[0], "date_time_array")
	assert.Equal(t, []int{41, 9, 30, 17, 26, 8}, arr)
}

func TestHardwareRecordDecode(t *testing.T) {
	raw, err := HardwareSchema.Encode(map[string]interface{}{
		"instmt_type_serial_number": "AQD 9984",
		"config":                    3, // recorder and compass fitted
		"board_frequency":           65535,
		"pic_version":               0,
		"hardware_revision":         4,
		"recorder_size":             144,
		"status":                    1,
		"firmware_version":          "3.36",
	})
	require.NoError(t, err)

	recs, err := DecodeChunk(chunker.Chunk{Data: raw})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]
	assert.Equal(t, StreamHardware, rec.Stream)

	for id, want := range map[string]interface{}{
		"instmt_type_serial_number": "AQD 9984",
		"recorder_installed":        1,
		"compass_installed":         1,
		"velocity_range":            1,
		"firmware_version":          "3.36",
	} {
		got, ok := valueByID(rec, id)
		require.True(t, ok, id)
		assert.Equal(t, want, got, id)
	}
}

func TestHeadRecordCarriesBinarySystemData(t *testing.T) {
	system := make([]byte, 176)
	for i := range system {
		system[i] = byte(i)
	}
	raw, err := HeadSchema.Encode(map[string]interface{}{
		"config":             0x0F,
		"head_frequency":     2000,
		"head_serial_number": "A3L 5258",
		"system_data":        system,
		"number_beams":       3,
	})
	require.NoError(t, err)

	recs, err := DecodeChunk(chunker.Chunk{Data: raw})
	require.NoError(t, err)
	rec := recs[0]

	var sys sample.Value
	for _, v := range rec.Values {
		if v.ID == "system_data" {
			sys = v
		}
	}
	require.NotNil(t, sys.Value)
	assert.True(t, sys.Binary)
	assert.Equal(t, system, sys.Value)

	tiltMount, _ := valueByID(rec, "tilt_sensor_mount")
	assert.Equal(t, 1, tiltMount)
}

func TestUserConfigEncodeHydrateRoundTrip(t *testing.T) {
	cfg := UserConfigSchema.NewConfig()
	require.NoError(t, cfg.Set("average_interval", 61))
	require.NoError(t, cfg.Set("deployment_name", "GP02"))
	require.NoError(t, cfg.Set("profile_type", 1))

	raw, err := cfg.Encode()
	require.NoError(t, err)
	require.Len(t, raw, 512)

	back, err := UserConfigSchema.HydrateConfig(raw)
	require.NoError(t, err)
	assert.True(t, cfg.Equal(back))

	v, err := back.Get("average_interval")
	require.NoError(t, err)
	assert.Equal(t, 61, v)
	pt, err := back.Get("profile_type")
	require.NoError(t, err)
	assert.Equal(t, 1, pt)
}

func TestUserConfigBitsShareTimingWord(t *testing.T) {
	cfg := UserConfigSchema.NewConfig()

	// the factory default timing word has the profile and sync-out bits set
	tcr, err := cfg.Get("timing_control_register")
	require.NoError(t, err)
	assert.Equal(t, 130, tcr)
	pt, err := cfg.Get("profile_type")
	require.NoError(t, err)
	assert.Equal(t, 1, pt)

	require.NoError(t, cfg.Set("start_on_sync", 1))
	tcr, err = cfg.Get("timing_control_register")
	require.NoError(t, err)
	assert.Equal(t, 130|1<<9, tcr)
}

func TestNumberBeamsIsReadOnly(t *testing.T) {
	cfg := UserConfigSchema.NewConfig()
	err := cfg.Set("number_beams", 4)
	assert.ErrorIs(t, err, record.ErrProtected)
}

func TestModeClassification(t *testing.T) {
	st, err := classifyMode(ModeCommand)
	require.NoError(t, err)
	assert.Equal(t, protocol.StateCommand, st)

	for _, mode := range []int{ModeMeasurement, ModeDataRetrieval, ModeConfirmation} {
		st, err = classifyMode(mode)
		require.NoError(t, err)
		assert.Equal(t, protocol.StateAutosample, st)
	}

	_, err = classifyMode(ModeFirmwareUpgrade)
	var se *protocol.StateError
	require.ErrorAs(t, err, &se)

	_, err = classifyMode(9)
	assert.True(t, errors.As(err, &se))
}

func TestClockBytesRoundTrip(t *testing.T) {
	at := time.Date(2026, 8, 30, 23, 59, 1, 0, time.UTC)
	raw := ClockBytes(at)
	require.Len(t, raw, 6)
	assert.Equal(t, []byte{0x59, 0x01, 0x30, 0x23, 0x26, 0x08}, raw)

	v, err := record.BCDTimeCodec.Decode(raw)
	require.NoError(t, err)
	back, err := ClockTime(v.([]int))
	require.NoError(t, err)
	assert.True(t, at.Equal(back))
}

func TestProfileCommandShapes(t *testing.T) {
	p := NewProfile()

	assert.Equal(t, []byte("GC"), p.ReadConfig.Data)
	assert.Equal(t, 514, p.ReadConfig.Expect)
	assert.True(t, p.DoubleSendConfigure)

	cc := p.BuildConfigure(make([]byte, 512))
	assert.Equal(t, []byte("CC"), cc.Data[:2])
	assert.Len(t, cc.Data, 514)

	sc := p.SetClock(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	assert.Equal(t, []byte("SC"), sc.Data[:2])
	assert.Len(t, sc.Data, 8)

	require.Len(t, p.Status, 5)
	assert.Equal(t, "IDBV", p.Status[0].Name)
}

func TestParseUserConfigLocatesFrame(t *testing.T) {
	raw, err := UserConfigSchema.NewConfig().Encode()
	require.NoError(t, err)

	// response with echo noise ahead of the frame and the trailing ack
	data := append([]byte("GC"), raw...)
	data = append(data, Ack...)
	cfg, err := parseUserConfig(protocol.Response{Data: data})
	require.NoError(t, err)
	v, err := cfg.Get("cell_size")
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	_, err = parseUserConfig(protocol.Response{Data: []byte("no frame here")})
	var pe *protocol.ProtocolError
	assert.ErrorAs(t, err, &pe)
}

func TestVelocityFieldErrorIsReported(t *testing.T) {
	raw := velocityFrame(t, map[string]interface{}{"heading_decidegree": 900})
	// mangle one clock byte into a non-BCD value, then repair the checksum
	// so only that field is at fault
	raw[4] = 0xFF
	binary.LittleEndian.PutUint16(raw[40:], checksum.Compute(raw[:40]))

	recs, err := DecodeChunk(chunker.Chunk{Data: raw})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	rec := recs[0]

	assert.Equal(t, sample.QualityOK, rec.Quality)
	assert.Contains(t, rec.EncodingErrors, "date_time")

	// the failed field yields no value, and nothing derived from it
	_, ok := valueByID(rec, "date_time_string")
	assert.False(t, ok)
	for _, v := range rec.Values {
		assert.NotNil(t, v.Value, v.ID)
	}

	// the intact fields still come through
	got, ok := valueByID(rec, "heading_decidegree")
	require.True(t, ok)
	assert.Equal(t, 900, got)

	env, err := rec.Envelope()
	require.NoError(t, err)
	assert.Equal(t, []string{"date_time"}, env[sample.KeyEncodingErrors])
}

func TestModeInquiryAcceptsAnyModeByte(t *testing.T) {
	p := NewProfile()

	// an answer carrying a mode outside the classification table still
	// terminates the inquiry; rejection is classifyMode's job
	wire := []byte{0x03, 0x00, 0x06, 0x06}
	m := p.ModeTerse.Pattern.FindSubmatch(wire)
	require.NotNil(t, m)

	mode, err := p.ParseMode(protocol.Response{Match: m})
	require.NoError(t, err)
	assert.Equal(t, 3, mode)

	_, err = classifyMode(mode)
	var se *protocol.StateError
	require.ErrorAs(t, err, &se)

	// high-bit mode bytes survive the regexp's rune handling
	m = p.ModeTerse.Pattern.FindSubmatch([]byte{0xF0, 0x00, 0x06, 0x06})
	require.NotNil(t, m)
	mode, err = p.ParseMode(protocol.Response{Match: m})
	require.NoError(t, err)
	assert.Equal(t, 0xF0, mode)
}
