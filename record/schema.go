package record

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/marhydro/oceandrv/checksum"
)

// Schema is an ordered collection of Field descriptors plus the frame
// boundaries of one record type: sync prefix, total length and a trailing
// little-endian 16-bit checksum occupying the final two bytes.
//
// Declaration order is authoritative for the wire layout. Layout fields are
// assigned contiguous offsets starting right after the sync bytes; the sum of
// all field spans plus sync plus checksum must equal the total length, which
// New verifies at construction time.
type Schema struct {
	Stream  string
	Sync    []byte
	Trailer []byte // fixed acknowledgement bytes that may follow the record on the wire

	fields  []Field
	byName  map[string]int
	offsets map[string]int
	total   int
}

// New builds a Schema from a declarative field table. Spare fields are named
// spare0, spare1, ... in declaration order. Bit-range fields occupy no bytes;
// their parent word must be declared before them.
func New(stream string, sync []byte, fields ...Field) (*Schema, error) {
	s := &Schema{
		Stream:  stream,
		Sync:    append([]byte{}, sync...),
		byName:  make(map[string]int),
		offsets: make(map[string]int),
	}
	offset := len(sync)
	spares := 0
	for _, f := range fields {
		if f.Spare && f.Name == "" {
			f.Name = fmt.Sprintf("spare%d", spares)
			spares++
		}
		if f.Name == "" {
			return nil, fmt.Errorf("%s: unnamed field at offset %d", stream, offset)
		}
		if _, dup := s.byName[f.Name]; dup {
			return nil, fmt.Errorf("%s: duplicate field %q", stream, f.Name)
		}
		if f.Bits != nil {
			parent, ok := s.byName[f.Bits.Parent]
			if !ok {
				return nil, fmt.Errorf("%s: bit field %q declared before parent %q", stream, f.Name, f.Bits.Parent)
			}
			if s.fields[parent].Bits != nil {
				return nil, fmt.Errorf("%s: bit field %q parent %q is itself a bit field", stream, f.Name, f.Bits.Parent)
			}
			if f.Bits.Shift+f.Bits.Width > 16 {
				return nil, fmt.Errorf("%s: bit field %q exceeds parent word", stream, f.Name)
			}
		} else {
			if f.Length <= 0 {
				return nil, fmt.Errorf("%s: field %q has no length", stream, f.Name)
			}
			s.offsets[f.Name] = offset
			offset += f.Length
		}
		s.byName[f.Name] = len(s.fields)
		s.fields = append(s.fields, f)
	}
	s.total = offset + 2 // trailing checksum word
	return s, nil
}

// MustNew is New for static catalog tables; it panics on a malformed table.
func MustNew(stream string, sync []byte, fields ...Field) *Schema {
	s, err := New(stream, sync, fields...)
	if err != nil {
		panic(err)
	}
	return s
}

// TotalLength is the full record size in bytes, sync and checksum included
// (the Trailer, when present, is extra wire bytes beyond the record proper).
func (s *Schema) TotalLength() int { return s.total }

// Has reports whether the schema knows a parameter by name.
func (s *Schema) Has(name string) bool {
	_, ok := s.byName[name]
	return ok
}

// Names returns all parameter names in declaration order, spares included.
func (s *Schema) Names() []string {
	out := make([]string, len(s.fields))
	for i, f := range s.fields {
		out[i] = f.Name
	}
	return out
}

// FieldByName returns the descriptor for name.
func (s *Schema) FieldByName(name string) (Field, bool) {
	i, ok := s.byName[name]
	if !ok {
		return Field{}, false
	}
	return s.fields[i], true
}

// Offset returns the byte offset of a layout field within the record.
func (s *Schema) Offset(name string) (int, bool) {
	off, ok := s.offsets[name]
	return off, ok
}

// Decoded is the result of Schema.Decode: best-effort field values, the names
// of fields whose individual decode failed, and the checksum quality signal.
// Decode never mutates the source bytes.
type Decoded struct {
	Stream        string
	Values        map[string]interface{}
	FieldErrors   []string
	Checksum      int
	ChecksumValid bool
}

// Decode hydrates a Decoded record from one captured frame.
//
// Whole-record problems (wrong length, wrong sync) fail with *FrameError. A
// single field's decode failure does not: the field is recorded in
// FieldErrors and the rest of the record is still extracted. Checksum
// mismatch never blocks decoding; it is reported via ChecksumValid.
func (s *Schema) Decode(raw []byte) (*Decoded, error) {
	if len(s.Trailer) > 0 && len(raw) == s.total+len(s.Trailer) {
		tail := raw[s.total:]
		for i := range tail {
			if tail[i] != s.Trailer[i] {
				return nil, &FrameError{Stream: s.Stream, Reason: "bad trailer bytes"}
			}
		}
		raw = raw[:s.total]
	}
	if len(raw) != s.total {
		return nil, &FrameError{Stream: s.Stream,
			Reason: fmt.Sprintf("length %d, expected %d", len(raw), s.total)}
	}
	for i := range s.Sync {
		if raw[i] != s.Sync[i] {
			return nil, &FrameError{Stream: s.Stream, Reason: "sync bytes do not match"}
		}
	}

	d := &Decoded{Stream: s.Stream, Values: make(map[string]interface{}, len(s.fields))}
	for _, f := range s.fields {
		if f.Bits != nil {
			continue // derived below from the parent word
		}
		off := s.offsets[f.Name]
		v, err := f.Codec.Decode(raw[off : off+f.Length])
		if err != nil {
			d.FieldErrors = append(d.FieldErrors, f.Name)
			continue
		}
		d.Values[f.Name] = v
	}
	for _, f := range s.fields {
		if f.Bits == nil {
			continue
		}
		word, ok := d.Values[f.Bits.Parent].(int)
		if !ok {
			d.FieldErrors = append(d.FieldErrors, f.Name)
			continue
		}
		d.Values[f.Name] = f.Bits.Extract(word)
	}

	claimed := binary.LittleEndian.Uint16(raw[s.total-2:])
	d.Checksum = int(claimed)
	d.ChecksumValid = checksum.Validate(raw[:s.total-2], claimed)
	return d, nil
}

// Encode serializes a parameter mapping into one checksummed frame.
//
// Fields are written in the schema's authoritative declaration order, never
// the mapping's iteration order. Spare regions always encode as zeros of
// their declared width regardless of any value passed. Missing values fall
// back to the field default; fields with no value and no default leave their
// region zeroed.
func (s *Schema) Encode(values map[string]interface{}) ([]byte, error) {
	buf := make([]byte, s.total)
	copy(buf, s.Sync)

	for _, f := range s.fields {
		if f.Bits != nil || f.Spare {
			continue
		}
		v, ok := values[f.Name]
		if !ok {
			if f.Default == nil {
				continue
			}
			v = f.Default
		}
		enc, err := f.Codec.Encode(v)
		if err != nil {
			return nil, fmt.Errorf("%s: encode %s: %w", s.Stream, f.Name, err)
		}
		off := s.offsets[f.Name]
		if len(enc) > f.Length {
			enc = enc[:f.Length] // deliberately lossy (fixed-width strings)
		}
		copy(buf[off:off+f.Length], enc)
	}

	sum := checksum.Compute(buf[:s.total-2])
	binary.LittleEndian.PutUint16(buf[s.total-2:], sum)
	return buf, nil
}

// Config is a live parameter set over a Schema: current values plus the
// mutability rules. Bit-range parameters are views over their parent word;
// the parent word remains the single source of truth for the wire bytes.
type Config struct {
	schema *Schema
	values map[string]interface{}
}

// NewConfig returns a Config populated with the schema defaults.
func (s *Schema) NewConfig() *Config {
	c := &Config{schema: s, values: make(map[string]interface{})}
	for _, f := range s.fields {
		if f.Bits == nil && f.Default != nil {
			c.values[f.Name] = f.Default
		}
	}
	return c
}

// HydrateConfig decodes a captured frame and returns a Config holding its
// parameter values.
func (s *Schema) HydrateConfig(raw []byte) (*Config, error) {
	d, err := s.Decode(raw)
	if err != nil {
		return nil, err
	}
	c := &Config{schema: s, values: make(map[string]interface{}, len(d.Values))}
	for _, f := range s.fields {
		if f.Bits != nil {
			continue
		}
		if v, ok := d.Values[f.Name]; ok {
			c.values[f.Name] = v
		}
	}
	return c, nil
}

// Schema returns the schema this configuration is bound to.
func (c *Config) Schema() *Schema { return c.schema }

// Get returns the current value of a parameter. Bit-range parameters are
// extracted from their parent word on the fly.
func (c *Config) Get(name string) (interface{}, error) {
	f, ok := c.schema.FieldByName(name)
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownField)
	}
	if f.Bits != nil {
		word, _ := c.values[f.Bits.Parent].(int)
		return f.Bits.Extract(word), nil
	}
	v, ok := c.values[name]
	if !ok {
		return nil, nil
	}
	return v, nil
}

// All returns a copy of the full parameter mapping, bit-range views included.
func (c *Config) All() map[string]interface{} {
	out := make(map[string]interface{}, len(c.schema.fields))
	for _, f := range c.schema.fields {
		if f.Spare {
			continue
		}
		if f.Bits != nil {
			word, _ := c.values[f.Bits.Parent].(int)
			out[f.Name] = f.Bits.Extract(word)
			continue
		}
		if v, ok := c.values[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}

// Set updates a parameter in a normal (runtime) context.
func (c *Config) Set(name string, v interface{}) error {
	return c.set(name, v, false)
}

// SetStartup updates a parameter in a startup context, where Immutable
// parameters are still writable.
func (c *Config) SetStartup(name string, v interface{}) error {
	return c.set(name, v, true)
}

func (c *Config) set(name string, v interface{}, startup bool) error {
	f, ok := c.schema.FieldByName(name)
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownField)
	}
	switch f.Vis {
	case ReadOnly:
		return fmt.Errorf("%s: %w", name, ErrProtected)
	case Immutable:
		if !startup {
			return fmt.Errorf("%s: %w", name, ErrProtected)
		}
	}
	if f.Bits != nil {
		n, err := asInt(v)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		word, _ := c.values[f.Bits.Parent].(int)
		word, err = f.Bits.Inject(word, n)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		c.values[f.Bits.Parent] = word
		return nil
	}
	c.values[name] = v
	return nil
}

// Encode serializes the current parameter set into one checksummed frame.
func (c *Config) Encode() ([]byte, error) {
	return c.schema.Encode(c.values)
}

// Clone returns an independent copy of the configuration. Raw byte values
// are duplicated so neither side observes the other's writes.
func (c *Config) Clone() *Config {
	out := &Config{schema: c.schema, values: make(map[string]interface{}, len(c.values))}
	for k, v := range c.values {
		if b, ok := v.([]byte); ok {
			v = append([]byte{}, b...)
		}
		out.values[k] = v
	}
	return out
}

// Equal reports whether two configurations hold the same parameter values.
func (c *Config) Equal(other *Config) bool {
	if other == nil || c.schema != other.schema {
		return false
	}
	return reflect.DeepEqual(c.values, other.values)
}

// DirectSnapshot captures the values of all direct-access parameters, for
// restoring after a pass-through session may have perturbed them.
func (c *Config) DirectSnapshot() map[string]interface{} {
	out := make(map[string]interface{})
	for _, f := range c.schema.fields {
		if !f.Direct || f.Bits != nil || f.Spare {
			continue
		}
		if v, ok := c.values[f.Name]; ok {
			out[f.Name] = v
		}
	}
	return out
}

// RestoreDirect writes a DirectSnapshot back into the configuration.
func (c *Config) RestoreDirect(snap map[string]interface{}) {
	for _, f := range c.schema.fields {
		if !f.Direct || f.Bits != nil || f.Spare {
			continue
		}
		if v, ok := snap[f.Name]; ok {
			c.values[f.Name] = v
		}
	}
}
