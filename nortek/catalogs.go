package nortek

import "github.com/marhydro/oceandrv/record"

// Outward stream names.
const (
	StreamVelocity   = "velpt_velocity_data"
	StreamHardware   = "velpt_hardware_configuration"
	StreamHead       = "velpt_head_configuration"
	StreamUserConfig = "velpt_user_configuration"
	StreamClock      = "velpt_clock_data"
	StreamBattery    = "velpt_battery_voltage"
	StreamID         = "velpt_identification_string"
)

// Frame sync prefixes. The instrument frames every binary record with a one
// byte sync (0xA5), an id byte and a 16-bit size in words; together they are
// a fixed four byte prefix per record type.
var (
	VelocitySync   = []byte{0xA5, 0x01, 0x15, 0x00} // 42 bytes
	HardwareSync   = []byte{0xA5, 0x05, 0x18, 0x00} // 48 bytes
	HeadSync       = []byte{0xA5, 0x04, 0x70, 0x00} // 224 bytes
	UserConfigSync = []byte{0xA5, 0x00, 0x00, 0x01} // 512 bytes

	// Ack and Nack trail command responses on the wire.
	Ack  = []byte{0x06, 0x06}
	Nack = []byte{0x15, 0x15}
)

// VelocitySchema is the single on-demand/streamed measurement record.
var VelocitySchema = record.MustNew(StreamVelocity, VelocitySync,
	record.Field{Name: "date_time", Length: 6, Codec: record.BCDTimeCodec, Vis: record.ReadOnly},
	record.Field{Name: "error_code", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
	record.Field{Name: "analog1", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
	record.Field{Name: "battery_voltage_dv", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
	record.Field{Name: "sound_speed_dms", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
	record.Field{Name: "heading_decidegree", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "pitch_decidegree", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "roll_decidegree", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "pressure_msb", Length: 1, Codec: record.U8Codec, Vis: record.ReadOnly},
	record.Field{Name: "status", Length: 1, Codec: record.U8Codec, Vis: record.ReadOnly},
	record.Field{Name: "pressure_lsw", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
	record.Field{Name: "temperature_centidegree", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "velocity_beam1", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "velocity_beam2", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "velocity_beam3", Length: 2, Codec: record.I16Codec, Vis: record.ReadOnly},
	record.Field{Name: "amplitude_beam1", Length: 1, Codec: record.U8Codec, Vis: record.ReadOnly},
	record.Field{Name: "amplitude_beam2", Length: 1, Codec: record.U8Codec, Vis: record.ReadOnly},
	record.Field{Name: "amplitude_beam3", Length: 1, Codec: record.U8Codec, Vis: record.ReadOnly},
	record.SpareBytes(1),
)

// HardwareSchema is the read-only hardware configuration record (GP).
var HardwareSchema = func() *record.Schema {
	s := record.MustNew(StreamHardware, HardwareSync,
		record.Field{Name: "instmt_type_serial_number", Length: 14, Codec: record.StringCodec, Vis: record.ReadOnly},
		record.Field{Name: "config", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "recorder_installed", Bits: &record.BitRange{Parent: "config", Shift: 0, Width: 1}, Vis: record.ReadOnly},
		record.Field{Name: "compass_installed", Bits: &record.BitRange{Parent: "config", Shift: 1, Width: 1}, Vis: record.ReadOnly},
		record.Field{Name: "board_frequency", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "pic_version", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "hardware_revision", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "recorder_size", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "status", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "velocity_range", Bits: &record.BitRange{Parent: "status", Shift: 0, Width: 1}, Vis: record.ReadOnly},
		record.SpareBytes(12),
		record.Field{Name: "firmware_version", Length: 4, Codec: record.StringCodec, Vis: record.ReadOnly},
	)
	s.Trailer = Ack
	return s
}()

// HeadSchema is the read-only transducer head configuration record (GH).
var HeadSchema = func() *record.Schema {
	s := record.MustNew(StreamHead, HeadSync,
		record.Field{Name: "config", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "pressure_sensor", Bits: &record.BitRange{Parent: "config", Shift: 0, Width: 1}, Vis: record.ReadOnly},
		record.Field{Name: "mag_sensor", Bits: &record.BitRange{Parent: "config", Shift: 1, Width: 1}, Vis: record.ReadOnly},
		record.Field{Name: "tilt_sensor", Bits: &record.BitRange{Parent: "config", Shift: 2, Width: 1}, Vis: record.ReadOnly},
		record.Field{Name: "tilt_sensor_mount", Bits: &record.BitRange{Parent: "config", Shift: 3, Width: 1}, Vis: record.ReadOnly},
		record.Field{Name: "head_frequency", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "head_type", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
		record.Field{Name: "head_serial_number", Length: 12, Codec: record.StringCodec, Vis: record.ReadOnly},
		record.Field{Name: "system_data", Length: 176, Codec: record.RawCodec, Vis: record.ReadOnly},
		record.SpareBytes(22),
		record.Field{Name: "number_beams", Length: 2, Codec: record.U16Codec, Vis: record.ReadOnly},
	)
	s.Trailer = Ack
	return s
}()

// UserConfigSchema is the writable deployment configuration record: read
// back with GC, written with CC. Several logical switches pack as bit ranges
// of the timing control, power control, mode, mode test and wave mode words;
// the words stay the wire source of truth.
var UserConfigSchema = func() *record.Schema {
	rw := record.ReadWrite
	ro := record.ReadOnly
	s := record.MustNew(StreamUserConfig, UserConfigSync,
		record.Field{Name: "transmit_pulse_length", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 125},
		record.Field{Name: "blanking_distance", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 49},
		record.Field{Name: "receive_length", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 32},
		record.Field{Name: "time_between_pings", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 437},
		record.Field{Name: "time_between_bursts", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 512},
		record.Field{Name: "number_pings", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 1},
		record.Field{Name: "average_interval", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 60},
		record.Field{Name: "number_beams", Length: 2, Codec: record.U16Codec, Vis: ro, Default: 3},

		record.Field{Name: "timing_control_register", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 130},
		record.Field{Name: "profile_type", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 1, Width: 1}, Vis: rw},
		record.Field{Name: "mode_type", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 2, Width: 1}, Vis: rw},
		record.Field{Name: "power_level_tcm1", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 5, Width: 1}, Vis: rw},
		record.Field{Name: "power_level_tcm2", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 6, Width: 1}, Vis: rw},
		record.Field{Name: "sync_out_position", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 7, Width: 1}, Vis: rw},
		record.Field{Name: "sample_on_sync", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 8, Width: 1}, Vis: rw},
		record.Field{Name: "start_on_sync", Bits: &record.BitRange{Parent: "timing_control_register", Shift: 9, Width: 1}, Vis: rw},

		record.Field{Name: "power_control_register", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "power_level_pcr1", Bits: &record.BitRange{Parent: "power_control_register", Shift: 5, Width: 1}, Vis: rw},
		record.Field{Name: "power_level_pcr2", Bits: &record.BitRange{Parent: "power_control_register", Shift: 6, Width: 1}, Vis: rw},

		record.SpareBytes(4),
		record.SpareBytes(2),

		record.Field{Name: "compass_update_rate", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 1},
		record.Field{Name: "coordinate_system", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 2},
		record.Field{Name: "number_cells", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 1},
		record.Field{Name: "cell_size", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 7},
		record.Field{Name: "measurement_interval", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 3600},
		record.Field{Name: "deployment_name", Length: 6, Codec: record.StringCodec, Vis: rw, Direct: true, Default: ""},
		record.Field{Name: "wrap_mode", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "deployment_start_time", Length: 6, Codec: record.BCDTimeCodec, Vis: rw, Direct: true, Default: []int{0, 0, 0, 0, 0, 0}},
		record.Field{Name: "diagnostic_interval_low", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 43200},
		record.Field{Name: "diagnostic_interval_high", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},

		record.Field{Name: "mode", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 48},
		record.Field{Name: "use_specified_sound_speed", Bits: &record.BitRange{Parent: "mode", Shift: 0, Width: 1}, Vis: rw},
		record.Field{Name: "diagnostics_mode_enable", Bits: &record.BitRange{Parent: "mode", Shift: 1, Width: 1}, Vis: rw},
		record.Field{Name: "analog_output_enable", Bits: &record.BitRange{Parent: "mode", Shift: 2, Width: 1}, Vis: rw},
		record.Field{Name: "output_format_nortek", Bits: &record.BitRange{Parent: "mode", Shift: 3, Width: 1}, Vis: rw},
		record.Field{Name: "scaling", Bits: &record.BitRange{Parent: "mode", Shift: 4, Width: 1}, Vis: rw},
		record.Field{Name: "serial_output_enable", Bits: &record.BitRange{Parent: "mode", Shift: 5, Width: 1}, Vis: rw},
		record.Field{Name: "stage_enable", Bits: &record.BitRange{Parent: "mode", Shift: 7, Width: 1}, Vis: rw},
		record.Field{Name: "analog_power_output", Bits: &record.BitRange{Parent: "mode", Shift: 8, Width: 1}, Vis: rw},

		record.Field{Name: "sound_speed_adjust_factor", Length: 2, Codec: record.U16Codec, Vis: rw, Startup: true, Direct: true, Default: 16657},
		record.Field{Name: "number_diagnostics_samples", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 20},
		record.Field{Name: "number_beams_per_cell", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 1},
		record.Field{Name: "number_pings_diagnostic", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 1},

		record.Field{Name: "mode_test", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 4},
		record.Field{Name: "use_dsp_filter", Bits: &record.BitRange{Parent: "mode_test", Shift: 0, Width: 1}, Vis: rw},
		record.Field{Name: "filter_data_output", Bits: &record.BitRange{Parent: "mode_test", Shift: 1, Width: 1}, Vis: rw},

		record.Field{Name: "analog_input_address", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "software_version", Length: 2, Codec: record.U16Codec, Vis: ro, Default: 0},
		record.SpareBytes(2),
		record.Field{Name: "velocity_adjustment_factor", Length: 180, Codec: record.RawCodec, Vis: ro, Default: make([]byte, 180)},
		record.Field{Name: "file_comments", Length: 180, Codec: record.StringCodec, Vis: rw, Direct: true, Default: ""},

		record.Field{Name: "wave_mode", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "wave_data_rate", Bits: &record.BitRange{Parent: "wave_mode", Shift: 0, Width: 1}, Vis: rw},
		record.Field{Name: "wave_cell_position", Bits: &record.BitRange{Parent: "wave_mode", Shift: 1, Width: 1}, Vis: rw},
		record.Field{Name: "dynamic_position_type", Bits: &record.BitRange{Parent: "wave_mode", Shift: 2, Width: 1}, Vis: rw},

		record.Field{Name: "percent_wave_cell_position", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "wave_transmit_pulse", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "fixed_wave_blanking_distance", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "wave_measurement_cell_size", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "number_diagnostics_per_wave", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.SpareBytes(2),
		record.SpareBytes(2),
		record.Field{Name: "number_samples_per_burst", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "sample_rate", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "analog_scale_factor", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.Field{Name: "correlation_threshold", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 0},
		record.SpareBytes(2),
		record.Field{Name: "transmit_pulse_length_2nd", Length: 2, Codec: record.U16Codec, Vis: rw, Direct: true, Default: 2},
		record.SpareBytes(30),
		record.Field{Name: "filter_constants", Length: 16, Codec: record.RawCodec, Vis: ro, Default: make([]byte, 16)},
	)
	s.Trailer = Ack
	return s
}()
