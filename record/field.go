// Package record implements the declarative, bidirectional mapping between a
// named parameter space and a fixed binary record layout ("parameter
// dictionary"). A Schema owns an ordered list of Field descriptors; field
// order is authoritative for the wire layout, not any map iteration order.
package record

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Visibility controls whether a parameter may be written by a caller.
type Visibility int

const (
	// ReadWrite parameters may be set at any time.
	ReadWrite Visibility = iota
	// ReadOnly parameters are never writable by callers.
	ReadOnly
	// Immutable parameters are writable only in a startup context.
	Immutable
)

// String implements fmt.Stringer.
func (v Visibility) String() string {
	switch v {
	case ReadWrite:
		return "READ_WRITE"
	case ReadOnly:
		return "READ_ONLY"
	case Immutable:
		return "IMMUTABLE"
	default:
		return fmt.Sprintf("Visibility(%d)", int(v))
	}
}

// Codec decodes a field's byte span into a logical value and encodes it back.
// Decode always receives exactly the field's declared length; Encode output is
// fitted (zero padded or truncated) to the declared length by the schema.
type Codec struct {
	Decode func(b []byte) (interface{}, error)
	Encode func(v interface{}) ([]byte, error)
}

// BitRange marks a field as a sub-parameter packed into a parent word field.
// Shift counts from the least-significant bit of the parent's 16-bit value.
// Bit fields occupy no bytes of their own; setting one is a read-modify-write
// of the parent word.
type BitRange struct {
	Parent string
	Shift  uint
	Width  uint
}

// Mask returns the parent-word mask covering this bit range.
func (b BitRange) Mask() int {
	return ((1 << b.Width) - 1) << b.Shift
}

// Extract reads the bit range out of a parent word value.
func (b BitRange) Extract(word int) int {
	return (word >> b.Shift) & ((1 << b.Width) - 1)
}

// Inject writes v into the bit range of word and returns the new word.
func (b BitRange) Inject(word, v int) (int, error) {
	if v < 0 || v >= 1<<b.Width {
		return 0, fmt.Errorf("value %d does not fit in %d bit(s)", v, b.Width)
	}
	return (word &^ b.Mask()) | (v << b.Shift), nil
}

// Field describes one logical parameter of a record layout.
//
// Layout fields (Bits == nil) occupy Length bytes in declaration order.
// Spare fields are reserved regions: they decode to their raw bytes and always
// encode as zeros of the declared width, regardless of any stored value.
type Field struct {
	Name    string
	Length  int
	Codec   Codec
	Vis     Visibility
	Startup bool // settable during driver startup even when Immutable
	Direct  bool // restored after a direct-access session
	Default interface{}
	Spare   bool
	Bits    *BitRange
}

// SpareBytes returns a reserved padding field of n bytes. Schemas assign
// spare names (spare0, spare1, ...) in declaration order.
func SpareBytes(n int) Field {
	return Field{Length: n, Spare: true, Codec: RawCodec, Vis: ReadOnly}
}

func asInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint16:
		return int(n), nil
	case uint8:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

// U8Codec maps one byte to an int.
var U8Codec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		if len(b) != 1 {
			return nil, fmt.Errorf("need 1 byte, have %d", len(b))
		}
		return int(b[0]), nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 0xFF {
			return nil, fmt.Errorf("value %d out of range for u8", n)
		}
		return []byte{byte(n)}, nil
	},
}

// U16Codec maps a little-endian unsigned 16-bit word to an int.
var U16Codec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		if len(b) != 2 {
			return nil, fmt.Errorf("need 2 bytes, have %d", len(b))
		}
		return int(binary.LittleEndian.Uint16(b)), nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		if n < 0 || n > 0xFFFF {
			return nil, fmt.Errorf("value %d out of range for u16", n)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(n)), nil
	},
}

// I16Codec maps a little-endian signed 16-bit word to an int.
var I16Codec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		if len(b) != 2 {
			return nil, fmt.Errorf("need 2 bytes, have %d", len(b))
		}
		return int(int16(binary.LittleEndian.Uint16(b))), nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		if n < -0x8000 || n > 0x7FFF {
			return nil, fmt.Errorf("value %d out of range for i16", n)
		}
		return binary.LittleEndian.AppendUint16(nil, uint16(int16(n))), nil
	},
}

// U32Codec maps a little-endian unsigned 32-bit value to an int.
var U32Codec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		if len(b) != 4 {
			return nil, fmt.Errorf("need 4 bytes, have %d", len(b))
		}
		return int(binary.LittleEndian.Uint32(b)), nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		n, err := asInt(v)
		if err != nil {
			return nil, err
		}
		if n < 0 || int64(n) > 0xFFFFFFFF {
			return nil, fmt.Errorf("value %d out of range for u32", n)
		}
		return binary.LittleEndian.AppendUint32(nil, uint32(n)), nil
	},
}

// RawCodec passes the field bytes through untouched. Raw values are treated
// as binary in the outward envelope (base64-encoded).
var RawCodec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		b, ok := v.([]byte)
		if !ok {
			return nil, fmt.Errorf("expected []byte, got %T", v)
		}
		out := make([]byte, len(b))
		copy(out, b)
		return out, nil
	},
}

// StringCodec maps a NUL-padded fixed-width region to a string. Encoding is
// deliberately lossy: values longer than the field are truncated, shorter
// values are NUL padded.
var StringCodec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		if i := bytes.IndexByte(b, 0); i >= 0 {
			b = b[:i]
		}
		return string(b), nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %T", v)
		}
		return []byte(s), nil
	},
}

// BCDTimeCodec maps the instrument's 6-byte BCD date/time block
// (minute, second, day, hour, year, month) to a []int in the same order.
var BCDTimeCodec = Codec{
	Decode: func(b []byte) (interface{}, error) {
		if len(b) != 6 {
			return nil, fmt.Errorf("need 6 bytes, have %d", len(b))
		}
		out := make([]int, 6)
		for i, c := range b {
			v, err := bcdByte(c)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	},
	Encode: func(v interface{}) ([]byte, error) {
		vals, ok := v.([]int)
		if !ok {
			return nil, fmt.Errorf("expected []int, got %T", v)
		}
		if len(vals) != 6 {
			return nil, fmt.Errorf("need 6 values, have %d", len(vals))
		}
		out := make([]byte, 6)
		for i, n := range vals {
			c, err := toBCD(n)
			if err != nil {
				return nil, err
			}
			out[i] = c
		}
		return out, nil
	},
}

// bcdByte converts one binary-coded-decimal byte (e.g. 0x45) to its decimal
// reading (45).
func bcdByte(c byte) (int, error) {
	hi, lo := int(c>>4), int(c&0x0F)
	if hi > 9 || lo > 9 {
		return 0, fmt.Errorf("byte %#02x is not BCD", c)
	}
	return hi*10 + lo, nil
}

func toBCD(n int) (byte, error) {
	if n < 0 || n > 99 {
		return 0, fmt.Errorf("value %d out of BCD range", n)
	}
	return byte(n/10<<4 | n%10), nil
}
