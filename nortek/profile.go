package nortek

import (
	"bytes"
	"fmt"
	"regexp"
	"time"

	"github.com/marhydro/oceandrv/chunker"
	"github.com/marhydro/oceandrv/protocol"
	"github.com/marhydro/oceandrv/record"
	"github.com/marhydro/oceandrv/sample"
)

// Instrument commands, two ASCII letters each unless noted.
const (
	CmdConfigure          = "CC"
	CmdReadUserConfig     = "GC"
	CmdReadHWConfig       = "GP"
	CmdReadHeadConfig     = "GH"
	CmdReadClock          = "RC"
	CmdSetClock           = "SC"
	CmdReadBattery        = "BV"
	CmdReadID             = "ID"
	CmdStartMeasurement   = "ST"
	CmdAcquireData        = "AD"
	CmdConfirmation       = "MC"
	CmdWhatModeCommand    = "I"
	CmdWhatModeSample     = "II"
	SoftBreakFirstHalf    = "@@@@@@"
	SoftBreakSecondHalf   = "K1W%!Q"
	AutosampleBreakString = "@"
)

// Prompts.
var (
	PromptCommandMode  = []byte("Command mode")
	PromptConfirmation = []byte("Confirm:")
)

// Timing. The terse mode inquiry gets a short leash so discovery can fall
// back to the verbose form quickly when the instrument swallows it.
const (
	terseModeTimeout   = 2 * time.Second
	statusTimeout      = 30 * time.Second
	configureDelay     = 500 * time.Millisecond
	ClockSyncOffset    = 2 * time.Second
	ClockSyncTolerance = 2 * time.Second
)

// Instrument mode words reported by the I/II inquiries.
const (
	ModeFirmwareUpgrade = 0
	ModeMeasurement     = 1
	ModeCommand         = 2
	ModeDataRetrieval   = 4
	ModeConfirmation    = 5
)

// Response patterns. These are rune-safe: every explicit byte class stays
// below 0x80 and arbitrary binary bytes are consumed with a dot, which
// matches any single invalid byte as well.
var (
	// The mode byte is captured unconstrained so an unlisted value still
	// terminates the inquiry and reaches classifyMode, which rejects it.
	modePattern  = regexp.MustCompile(`(?s)(.\x00)\x06\x06`)
	clockPattern = regexp.MustCompile(`(?s)([\x00-\x60][\x00-\x60][\x01-\x31][\x00-\x24].[\x01-\x12])\x06\x06`)

	// The battery response is two bare bytes, so on its own it has no
	// recognizable shape. Reading ID and BV back to back gives the pair a
	// unique lead-in to key on.
	idBatteryPattern = regexp.MustCompile(`(?s)((?:AQD|VEC) ?[0-9]{4,5}) {0,6}\x06\x06(.[\x13-\x46])\x06\x06`)
)

// Constraints rejected before any device traffic.
var parameterConstraints = map[string]protocol.Constraint{
	"average_interval":     {Min: 1, Max: 65535},
	"cell_size":            {Min: 1, Max: 65535},
	"blanking_distance":    {Min: 1, Max: 65535},
	"coordinate_system":    {Min: 0, Max: 2},
	"measurement_interval": {Min: 0, Max: 65535},
}

func ascii(s string) []byte { return []byte(s) }

// ClockBytes renders a wall-clock time in the instrument's 6-byte BCD block.
func ClockBytes(t time.Time) []byte {
	raw, _ := record.BCDTimeCodec.Encode([]int{
		t.Minute(), t.Second(), t.Day(), t.Hour(), t.Year() % 100, int(t.Month()),
	})
	return raw
}

// ClockTime converts a decoded 6-value BCD block back to a wall-clock time.
func ClockTime(vals []int) (time.Time, error) {
	if len(vals) != 6 {
		return time.Time{}, fmt.Errorf("clock block needs 6 values, have %d", len(vals))
	}
	return time.Date(2000+vals[4], time.Month(vals[5]), vals[2],
		vals[3], vals[0], vals[1], 0, time.UTC), nil
}

func classifyMode(mode int) (protocol.State, error) {
	switch mode {
	case ModeFirmwareUpgrade:
		return protocol.StateUnknown, &protocol.StateError{
			Detail: "instrument is in firmware upgrade mode"}
	case ModeMeasurement, ModeDataRetrieval, ModeConfirmation:
		return protocol.StateAutosample, nil
	case ModeCommand:
		return protocol.StateCommand, nil
	default:
		return protocol.StateUnknown, &protocol.StateError{
			Detail: fmt.Sprintf("unrecognized instrument mode %d", mode)}
	}
}

// NewProfile builds the protocol personality for Aquadopp family current
// meters. The caller owns the returned profile's Config.
func NewProfile() protocol.Profile {
	return protocol.Profile{
		Name: "aquadopp",

		Matchers: []chunker.Matcher{
			chunker.SyncMatcher{Sync: VelocitySync, Length: VelocitySchema.TotalLength()},
			chunker.SyncMatcher{Sync: HardwareSync, Length: HardwareSchema.TotalLength()},
			chunker.SyncMatcher{Sync: HeadSync, Length: HeadSchema.TotalLength()},
			chunker.SyncMatcher{Sync: UserConfigSync, Length: UserConfigSchema.TotalLength()},
			chunker.RegexMatcher{Pattern: idBatteryPattern},
			chunker.RegexMatcher{Pattern: clockPattern},
		},
		Decode: DecodeChunk,

		Config:      UserConfigSchema.NewConfig(),
		Constraints: parameterConstraints,
		BuildConfigure: func(raw []byte) protocol.Command {
			return protocol.Command{
				Name:    CmdConfigure,
				Data:    append(ascii(CmdConfigure), raw...),
				Prompts: [][]byte{Ack, Nack},
			}
		},
		ReadConfig: protocol.Command{
			Name:   CmdReadUserConfig,
			Data:   ascii(CmdReadUserConfig),
			Expect: UserConfigSchema.TotalLength() + len(Ack),
		},
		ParseConfig: parseUserConfig,

		// The instrument drops the first CC after a mode change, so the
		// write goes out twice with a settle gap.
		DoubleSendConfigure: true,
		ConfigureDelay:      configureDelay,

		Ack:  Ack,
		Nack: Nack,

		AutosampleBreak: ascii(AutosampleBreakString),
		ModeTerse: protocol.Command{
			Name: CmdWhatModeCommand, Data: ascii(CmdWhatModeCommand),
			Timeout: terseModeTimeout, Pattern: modePattern,
		},
		ModeVerbose: protocol.Command{
			Name: CmdWhatModeSample, Data: ascii(CmdWhatModeSample),
			Pattern: modePattern,
		},
		ParseMode: func(resp protocol.Response) (int, error) {
			return int(resp.Match[1][0]), nil
		},
		ClassifyMode: classifyMode,

		SoftBreakFirst: ascii(SoftBreakFirstHalf),
		SoftBreakSecond: protocol.Command{
			Name: "soft break", Data: ascii(SoftBreakSecondHalf),
			Prompts: [][]byte{PromptConfirmation, PromptCommandMode, Ack},
		},
		ConfirmPrompt: PromptConfirmation,
		Confirmation: protocol.Command{
			Name: CmdConfirmation, Data: ascii(CmdConfirmation),
			Prompts: [][]byte{Ack},
		},

		StartMeasurement: protocol.Command{
			Name: CmdStartMeasurement, Data: ascii(CmdStartMeasurement),
			Timeout: protocol.SampleTimeout, Prompts: [][]byte{Ack},
		},
		AcquireData: protocol.Command{
			Name: CmdAcquireData, Data: ascii(CmdAcquireData),
			Timeout: protocol.SampleTimeout,
			Expect:  VelocitySchema.TotalLength(),
		},

		SetClock: func(t time.Time) protocol.Command {
			return protocol.Command{
				Name: CmdSetClock, Data: append(ascii(CmdSetClock), ClockBytes(t)...),
				Prompts: [][]byte{Ack},
			}
		},
		ReadClock: protocol.Command{
			Name: CmdReadClock, Data: ascii(CmdReadClock),
			Pattern: clockPattern,
		},
		ParseClock: func(resp protocol.Response) (time.Time, error) {
			v, err := record.BCDTimeCodec.Decode(resp.Match[1])
			if err != nil {
				return time.Time{}, err
			}
			return ClockTime(v.([]int))
		},
		ClockSyncOffset:    ClockSyncOffset,
		ClockSyncTolerance: ClockSyncTolerance,

		Status: []protocol.Command{
			// ID and BV issued as one transaction; see idBatteryPattern.
			{Name: CmdReadID + CmdReadBattery, Data: ascii(CmdReadID + CmdReadBattery),
				Timeout: statusTimeout, Pattern: idBatteryPattern},
			{Name: CmdReadClock, Data: ascii(CmdReadClock), Pattern: clockPattern},
			{Name: CmdReadHWConfig, Data: ascii(CmdReadHWConfig),
				Expect: HardwareSchema.TotalLength() + len(Ack)},
			{Name: CmdReadHeadConfig, Data: ascii(CmdReadHeadConfig),
				Expect: HeadSchema.TotalLength() + len(Ack)},
			{Name: CmdReadUserConfig, Data: ascii(CmdReadUserConfig),
				Expect: UserConfigSchema.TotalLength() + len(Ack)},
		},
	}
}

func parseUserConfig(resp protocol.Response) (*record.Config, error) {
	i := bytes.Index(resp.Data, UserConfigSync)
	if i < 0 || i+UserConfigSchema.TotalLength() > len(resp.Data) {
		return nil, &protocol.ProtocolError{
			Op: CmdReadUserConfig, Detail: "no user configuration frame in response"}
	}
	return UserConfigSchema.HydrateConfig(resp.Data[i : i+UserConfigSchema.TotalLength()])
}

// DecodeChunk turns one recognized frame into outward samples. Binary
// records dispatch on their sync prefix; the remaining chunks are the ASCII
// identification-plus-battery pair and the BCD clock block.
func DecodeChunk(ch chunker.Chunk) ([]*sample.Record, error) {
	switch {
	case bytes.HasPrefix(ch.Data, VelocitySync):
		return one(decodeVelocity(ch))
	case bytes.HasPrefix(ch.Data, HardwareSync):
		return one(decodeRecord(HardwareSchema, ch))
	case bytes.HasPrefix(ch.Data, HeadSync):
		return one(decodeRecord(HeadSchema, ch))
	case bytes.HasPrefix(ch.Data, UserConfigSync):
		return one(decodeRecord(UserConfigSchema, ch))
	case idBatteryPattern.Match(ch.Data):
		return decodeIDBattery(ch)
	case clockPattern.Match(ch.Data):
		return one(decodeClock(ch))
	}
	return nil, fmt.Errorf("unrecognized frame %x", ch.Data[:min(len(ch.Data), 8)])
}

func one(rec *sample.Record, err error) ([]*sample.Record, error) {
	if err != nil {
		return nil, err
	}
	return []*sample.Record{rec}, nil
}

func decodeVelocity(ch chunker.Chunk) (*sample.Record, error) {
	d, err := VelocitySchema.Decode(ch.Data)
	if err != nil {
		return nil, err
	}
	rec := sample.New(StreamVelocity, ch.Data, ch.PortTime)
	rec.EncodingErrors = d.FieldErrors
	if !d.ChecksumValid {
		rec.Quality = sample.QualityChecksumFailed
	}

	clock, clockOK := d.Values["date_time"].([]int)
	if clockOK {
		if t, err := ClockTime(clock); err == nil {
			rec.InternalTimestamp = sample.Timestamp(t)
			rec.Append("date_time_string", t.Format("02/01/2006 15:04:05"))
		}
	}

	for _, name := range []string{
		"error_code", "analog1", "battery_voltage_dv", "sound_speed_dms",
		"heading_decidegree", "pitch_decidegree", "roll_decidegree", "status",
	} {
		if v, ok := d.Values[name]; ok {
			rec.Append(name, v)
		}
	}

	msb, _ := d.Values["pressure_msb"].(int)
	lsw, _ := d.Values["pressure_lsw"].(int)
	rec.Append("pressure_mbar", msb*0x10000+lsw)

	for _, name := range []string{
		"temperature_centidegree",
		"velocity_beam1", "velocity_beam2", "velocity_beam3",
		"amplitude_beam1", "amplitude_beam2", "amplitude_beam3",
	} {
		if v, ok := d.Values[name]; ok {
			rec.Append(name, v)
		}
	}
	return rec, nil
}

// decodeRecord maps every named non-spare field of a configuration record
// straight into the sample, raw regions as base64 payloads.
func decodeRecord(s *record.Schema, ch chunker.Chunk) (*sample.Record, error) {
	d, err := s.Decode(ch.Data)
	if err != nil {
		return nil, err
	}
	rec := sample.New(s.Stream, ch.Data, ch.PortTime)
	rec.EncodingErrors = d.FieldErrors
	if !d.ChecksumValid {
		rec.Quality = sample.QualityChecksumFailed
	}
	for _, name := range s.Names() {
		f, _ := s.FieldByName(name)
		if f.Spare {
			continue
		}
		v, ok := d.Values[name]
		if !ok {
			continue
		}
		if b, isRaw := v.([]byte); isRaw {
			rec.AppendBinary(name, b)
			continue
		}
		rec.Append(name, v)
	}
	return rec, nil
}

func decodeIDBattery(ch chunker.Chunk) ([]*sample.Record, error) {
	m := idBatteryPattern.FindSubmatch(ch.Data)
	if m == nil {
		return nil, fmt.Errorf("identification/battery frame did not parse: %q", ch.Data)
	}

	idRec := sample.New(StreamID, ch.Data, ch.PortTime)
	idRec.Append("identification_string", string(bytes.TrimSpace(m[1])))

	battRec := sample.New(StreamBattery, ch.Data, ch.PortTime)
	mv := int(m[2][0]) | int(m[2][1])<<8
	battRec.Append("battery_voltage_mv", mv)

	return []*sample.Record{idRec, battRec}, nil
}

// decodeClock handles streamed 6-byte BCD clock reads.
func decodeClock(ch chunker.Chunk) (*sample.Record, error) {
	m := clockPattern.FindSubmatch(ch.Data)
	if m == nil {
		return nil, fmt.Errorf("clock frame did not parse: %q", ch.Data)
	}
	v, err := record.BCDTimeCodec.Decode(m[1])
	if err != nil {
		return nil, err
	}
	rec := sample.New(StreamClock, ch.Data, ch.PortTime)
	rec.Append("date_time_array", v.([]int))
	return rec, nil
}
