// Package sample builds the canonical outward unit published for every
// decoded instrument record: the record's fields plus acquisition metadata
// (three timestamps, a preferred-timestamp selector and a data quality flag),
// serialized into a flat envelope.
package sample

import (
	"encoding/base64"
	"fmt"
	"math"
	"time"
)

// FormatID identifies the envelope layout; Version is its revision.
const (
	FormatID = "JSON_Data"
	Version  = 1
)

// Envelope key names.
const (
	KeyFormatID          = "pkt_format_id"
	KeyVersion           = "pkt_version"
	KeyStreamName        = "stream_name"
	KeyInternalTimestamp = "internal_timestamp"
	KeyPortTimestamp     = "port_timestamp"
	KeyDriverTimestamp   = "driver_timestamp"
	KeyPreferred         = "preferred_timestamp"
	KeyQuality           = "quality_flag"
	KeyEncodingErrors    = "encoding_errors"
	KeyValues            = "values"
	KeyValueID           = "value_id"
	KeyValue             = "value"
	KeyBinary            = "binary"
)

// Quality is the per-record data quality flag.
type Quality string

const (
	QualityOK             Quality = "ok"
	QualityChecksumFailed Quality = "checksum_failed"
	QualityOutOfRange     Quality = "out_of_range"
	QualityInvalid        Quality = "invalid"
	QualityQuestionable   Quality = "questionable"
)

// TimestampEpsilon is the allowed difference between internal timestamps of
// records considered equal. Timestamps pass through floating point
// conversion, so equality is never bit-exact.
const TimestampEpsilon = 1e-6

// Timestamp converts a wall-clock time to the envelope's float seconds form.
// The zero time maps to 0, the "unset" sentinel.
func Timestamp(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}

// Value is one named field of a record. Binary values are base64-encoded
// when the envelope is generated.
type Value struct {
	ID     string
	Value  interface{}
	Binary bool
}

// Record is one outward sample: decoded field values plus acquisition
// metadata. A timestamp of 0 means unset.
type Record struct {
	Stream string
	Raw    []byte

	PortTimestamp     float64 // from the transport, first byte arrival
	InternalTimestamp float64 // parsed from the device payload, when present
	DriverTimestamp   float64 // capture time of this process

	Preferred      string // which timestamp field is authoritative
	Quality        Quality
	Values         []Value
	EncodingErrors []string
}

// New returns a Record for stream with the driver timestamp taken now and
// the port timestamp preferred.
func New(stream string, raw []byte, portTime time.Time) *Record {
	return &Record{
		Stream:          stream,
		Raw:             append([]byte{}, raw...),
		PortTimestamp:   Timestamp(portTime),
		DriverTimestamp: Timestamp(time.Now()),
		Preferred:       KeyPortTimestamp,
		Quality:         QualityOK,
	}
}

// Append adds one named value to the record.
func (r *Record) Append(id string, v interface{}) {
	r.Values = append(r.Values, Value{ID: id, Value: v})
}

// AppendBinary adds one named binary value; it is base64-encoded in the
// envelope.
func (r *Record) AppendBinary(id string, b []byte) {
	r.Values = append(r.Values, Value{ID: id, Value: b, Binary: true})
}

// Envelope serializes the record into the flat outward structure. Unset port
// and internal timestamps are omitted rather than emitted as zeros. When the
// preferred selector names the port timestamp but the port timestamp is
// unset and an internal timestamp exists, the preference demotes to the
// internal timestamp; it is the closest truth available, not an error.
func (r *Record) Envelope() (map[string]interface{}, error) {
	if r.Preferred == "" {
		return nil, fmt.Errorf("%s: no preferred timestamp selector", r.Stream)
	}
	preferred := r.Preferred
	if preferred == KeyPortTimestamp && r.PortTimestamp == 0 && r.InternalTimestamp != 0 {
		preferred = KeyInternalTimestamp
	}

	values := make([]map[string]interface{}, 0, len(r.Values))
	for _, v := range r.Values {
		entry := map[string]interface{}{KeyValueID: v.ID}
		if v.Binary {
			b, ok := v.Value.([]byte)
			if !ok {
				return nil, fmt.Errorf("%s: binary value %s is %T, not bytes", r.Stream, v.ID, v.Value)
			}
			entry[KeyValue] = base64.StdEncoding.EncodeToString(b)
			entry[KeyBinary] = true
		} else {
			entry[KeyValue] = v.Value
		}
		values = append(values, entry)
	}

	env := map[string]interface{}{
		KeyFormatID:        FormatID,
		KeyVersion:         Version,
		KeyStreamName:      r.Stream,
		KeyDriverTimestamp: r.DriverTimestamp,
		KeyPreferred:       preferred,
		KeyQuality:         string(r.Quality),
		KeyValues:          values,
	}
	if len(r.EncodingErrors) > 0 {
		env[KeyEncodingErrors] = r.EncodingErrors
	}
	if r.PortTimestamp != 0 {
		env[KeyPortTimestamp] = r.PortTimestamp
	}
	if r.InternalTimestamp != 0 {
		env[KeyInternalTimestamp] = r.InternalTimestamp
	}
	return env, nil
}

// Equal reports whether two records describe the same captured sample: the
// raw source bytes match and the internal timestamps agree within
// TimestampEpsilon.
func (r *Record) Equal(other *Record) bool {
	if other == nil || len(r.Raw) != len(other.Raw) {
		return false
	}
	for i := range r.Raw {
		if r.Raw[i] != other.Raw[i] {
			return false
		}
	}
	return math.Abs(r.InternalTimestamp-other.InternalTimestamp) <= TimestampEpsilon
}
