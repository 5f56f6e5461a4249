// Package bytebuf implements a compact, non-self-describing binary codec
// for Go values.
//
// An encoded buffer is exactly the concatenation of each value's own
// encoding. No header, field names, type tags, or checksums are ever
// written; the shape of the value is supplied by the caller at decode
// time through the type it decodes into. A request for the wrong shape
// against the wrong bytes either fails explicitly (where the layout has a
// structural marker, such as string termination) or parses a logically
// wrong value (where two layouts share a byte pattern, such as two
// different 4-byte integers). Callers are responsible for decoding with
// the same shape that was encoded.
//
// # Byte layout
//
//   - bool: one byte, 0 or 1
//   - fixed-width integers: 1/2/4/8 bytes in the declared byte order
//     (little-endian unless configured otherwise); int and uint always
//     encode as 8 bytes regardless of platform
//   - float32/float64: the IEEE 754 bit pattern as a 4/8-byte integer
//   - Char: the Unicode scalar value as a 4-byte integer
//   - string: UTF-8 bytes followed by the Terminator byte
//   - []byte: raw bytes, no framing (tail positions only, see below)
//   - pointer: one presence byte (0 absent, 1 present), then the value
//   - slice: 8-byte length, then each element
//   - array: each element, no prefix (arity is static)
//   - map: 8-byte length, then each key/value pair in ascending order of
//     encoded key bytes
//   - struct: exported fields in declared order, no names or prefix;
//     a field tagged `bytebuf:"-"` is skipped
//   - registered union interface: 4-byte variant index, then the
//     variant's payload (see RegisterUnion)
//
// # Basic usage
//
//	type Point struct {
//	    X, Y  int32
//	    Label string
//	}
//
//	buf, err := bytebuf.Marshal(Point{X: 1, Y: 2, Label: "origin"})
//	if err != nil {
//	    return err
//	}
//
//	var p Point
//	if err := bytebuf.Unmarshal(buf, &p); err != nil {
//	    return err
//	}
//
// For repeated encoding, construct an Encoder once and release it when
// done; its scratch buffer is pooled:
//
//	enc, _ := bytebuf.NewEncoder()
//	defer enc.Release()
//	for _, v := range values {
//	    buf, err := enc.Marshal(v)
//	    ...
//	}
//
// # Tail positions
//
// A value is in tail position when its scope provably extends to the end
// of the buffer: the top-level value, the final field of a struct in tail
// position, the final element of an array in tail position, the payload
// of a present pointer in tail position, and the final field of a union
// variant in tail position. Raw []byte values carry no framing and are
// therefore legal only in tail position; sequence and map elements are
// never in tail position. Fixed-width values in tail position must occupy
// their scope exactly, and a string in tail position must end with the
// Terminator byte.
//
// # Preconditions
//
// String content must not contain the Terminator byte; the codec does not
// check this on encode, and a violating string will not round-trip. A
// Char must hold a valid Unicode scalar value; the decoder rejects
// anything else. Recursion depth is bounded only by the nesting depth of
// the value being processed.
//
// Encoders and decoders hold no shared state; independent calls may run
// concurrently without coordination.
package bytebuf

import (
	"reflect"

	"github.com/flatwire/bytebuf/endian"
	"github.com/flatwire/bytebuf/internal/options"
)

// Terminator is the reserved byte that marks the end of an encoded
// string. Encoded string content must never contain it.
const Terminator byte = 0x04

// Char is a Unicode scalar value. The dedicated type exists because rune
// is an alias of int32: a bare rune field would encode under the 4-byte
// integer rules with no scalar-value validation on decode.
type Char rune

// Marshaler is implemented by types that encode themselves through the
// per-kind write methods of an Encoder. An error returned from
// MarshalValue aborts the encode and is reported wrapped with
// errs.ErrCustom.
//
// Marshaler is consulted for every kind except pointers (always the
// option encoding) and interfaces (always the union encoding).
type Marshaler interface {
	MarshalValue(enc *Encoder) error
}

// Unmarshaler is implemented by types that decode themselves through the
// per-kind read methods of a Decoder. The bytes consumed by the reads
// determine where the next sibling value begins.
type Unmarshaler interface {
	UnmarshalValue(dec *Decoder) error
}

var (
	charType        = reflect.TypeFor[Char]()
	marshalerType   = reflect.TypeFor[Marshaler]()
	unmarshalerType = reflect.TypeFor[Unmarshaler]()
)

// config carries the settings shared by Encoder and Decoder.
type config struct {
	engine endian.EndianEngine
}

func defaultConfig() config {
	return config{engine: endian.GetLittleEndianEngine()}
}

// Option configures an Encoder or Decoder.
type Option = options.Option[*config]

// WithLittleEndian selects little-endian byte order. It is the default.
func WithLittleEndian() Option {
	return options.NoError(func(c *config) {
		c.engine = endian.GetLittleEndianEngine()
	})
}

// WithBigEndian selects big-endian byte order. Both sides of a buffer
// must agree on the byte order; the format carries no negotiation.
func WithBigEndian() Option {
	return options.NoError(func(c *config) {
		c.engine = endian.GetBigEndianEngine()
	})
}

// Marshal encodes v with the default little-endian engine and returns its
// byte encoding. A failed encode returns no partial buffer.
func Marshal(v any) ([]byte, error) {
	enc, err := NewEncoder()
	if err != nil {
		return nil, err
	}
	defer enc.Release()

	return enc.Marshal(v)
}

// Unmarshal decodes data into the value v points to, using v's type as
// the requested shape. The buffer must be complete: decoding never
// operates over partial input, and bytes left over after the top-level
// value fail with errs.ErrWrongShape.
func Unmarshal(data []byte, v any) error {
	dec, err := NewDecoder(data)
	if err != nil {
		return err
	}

	return dec.Unmarshal(v)
}

// fieldInfo identifies one encoded struct field.
type fieldInfo struct {
	index int
	name  string
}

// structFields returns the encoded fields of a struct type in declared
// order: exported fields not tagged `bytebuf:"-"`.
func structFields(t reflect.Type) []fieldInfo {
	fields := make([]fieldInfo, 0, t.NumField())
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		if f.Tag.Get("bytebuf") == "-" {
			continue
		}
		fields = append(fields, fieldInfo{index: i, name: f.Name})
	}

	return fields
}
