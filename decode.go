package bytebuf

import (
	"bytes"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"github.com/flatwire/bytebuf/endian"
	"github.com/flatwire/bytebuf/errs"
	"github.com/flatwire/bytebuf/internal/options"
)

const (
	lenPrefixSize    = 8
	variantIndexSize = 4
)

// Decoder parses values out of a complete byte buffer. It holds no
// cursor structure: position is carried by narrowing the remaining slice,
// one recursion level per nested value. The per-kind Read methods are the
// deserializer half of the traversal protocol, consumed directly by
// Unmarshaler implementations.
//
// A Decoder is not safe for concurrent use; construct one per buffer.
type Decoder struct {
	buf    []byte
	engine endian.EndianEngine
}

// NewDecoder creates a decoder over data. The buffer must be complete;
// the codec has no notion of partial input.
func NewDecoder(data []byte, opts ...Option) (*Decoder, error) {
	cfg := defaultConfig()
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}

	return &Decoder{buf: data, engine: cfg.engine}, nil
}

// Remaining returns the number of bytes not yet consumed.
func (d *Decoder) Remaining() int {
	return len(d.buf)
}

// Unmarshal decodes the next value into the value v points to, using
// v's type as the requested shape. The top-level value must consume the
// remaining buffer exactly; leftover bytes fail with errs.ErrWrongShape.
func (d *Decoder) Unmarshal(v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return errors.Wrap(errs.ErrUnsupportedShape, "target must be a non-nil pointer")
	}

	n, err := d.decodeValue(d.buf, rv.Elem(), true)
	if err != nil {
		return err
	}
	if n != len(d.buf) {
		return errors.Wrapf(errs.ErrWrongShape, "%d trailing bytes after top-level value", len(d.buf)-n)
	}
	d.buf = d.buf[n:]

	return nil
}

// ReadBool consumes one byte and interprets it as a boolean.
func (d *Decoder) ReadBool() (bool, error) {
	v, err := d.boolByte(d.buf, false)
	if err != nil {
		return false, err
	}
	d.buf = d.buf[1:]

	return v, nil
}

// ReadUint8 consumes one byte.
func (d *Decoder) ReadUint8() (uint8, error) {
	p, err := d.fixed(d.buf, 1, false)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[1:]

	return p[0], nil
}

// ReadUint16 consumes 2 bytes in the declared byte order.
func (d *Decoder) ReadUint16() (uint16, error) {
	p, err := d.fixed(d.buf, 2, false)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[2:]

	return d.engine.Uint16(p), nil
}

// ReadUint32 consumes 4 bytes in the declared byte order.
func (d *Decoder) ReadUint32() (uint32, error) {
	p, err := d.fixed(d.buf, 4, false)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[4:]

	return d.engine.Uint32(p), nil
}

// ReadUint64 consumes 8 bytes in the declared byte order.
func (d *Decoder) ReadUint64() (uint64, error) {
	p, err := d.fixed(d.buf, 8, false)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[8:]

	return d.engine.Uint64(p), nil
}

// ReadInt8 consumes one byte as a two's complement value.
func (d *Decoder) ReadInt8() (int8, error) {
	v, err := d.ReadUint8()
	return int8(v), err
}

// ReadInt16 consumes 2 bytes as a two's complement value.
func (d *Decoder) ReadInt16() (int16, error) {
	v, err := d.ReadUint16()
	return int16(v), err
}

// ReadInt32 consumes 4 bytes as a two's complement value.
func (d *Decoder) ReadInt32() (int32, error) {
	v, err := d.ReadUint32()
	return int32(v), err
}

// ReadInt64 consumes 8 bytes as a two's complement value.
func (d *Decoder) ReadInt64() (int64, error) {
	v, err := d.ReadUint64()
	return int64(v), err
}

// ReadFloat32 consumes 4 bytes and reinterprets the bit pattern.
func (d *Decoder) ReadFloat32() (float32, error) {
	v, err := d.ReadUint32()
	return math.Float32frombits(v), err
}

// ReadFloat64 consumes 8 bytes and reinterprets the bit pattern.
func (d *Decoder) ReadFloat64() (float64, error) {
	v, err := d.ReadUint64()
	return math.Float64frombits(v), err
}

// ReadChar consumes 4 bytes and validates them as a Unicode scalar
// value.
func (d *Decoder) ReadChar() (Char, error) {
	c, err := d.char(d.buf, false)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[4:]

	return c, nil
}

// ReadString consumes bytes up to and including the first Terminator
// byte and validates the content as UTF-8.
func (d *Decoder) ReadString() (string, error) {
	s, n, err := d.str(d.buf, false)
	if err != nil {
		return "", err
	}
	d.buf = d.buf[n:]

	return s, nil
}

// ReadBytes consumes the entire remaining buffer and returns a copy.
// Blobs carry no framing, so this is only meaningful in tail position.
func (d *Decoder) ReadBytes() ([]byte, error) {
	out := bytes.Clone(d.buf)
	d.buf = d.buf[len(d.buf):]

	return out, nil
}

// ReadOptionTag consumes the 1-byte presence discriminant of an optional
// value. When it returns true, the inner value's reads must follow.
func (d *Decoder) ReadOptionTag() (bool, error) {
	if len(d.buf) == 0 {
		return false, errors.Wrap(errs.ErrEmptyBuffer, "option presence tag")
	}
	tag := d.buf[0]
	if tag > 1 {
		return false, errors.Wrapf(errs.ErrInvalidValue, "option tag byte %#x", tag)
	}
	d.buf = d.buf[1:]

	return tag == 1, nil
}

// ReadLen consumes an 8-byte container length.
func (d *Decoder) ReadLen() (int, error) {
	n, err := d.length(d.buf)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[lenPrefixSize:]

	return n, nil
}

// ReadVariantIndex consumes a 4-byte tagged-union variant index.
func (d *Decoder) ReadVariantIndex() (uint32, error) {
	idx, err := d.variantIndex(d.buf)
	if err != nil {
		return 0, err
	}
	d.buf = d.buf[variantIndexSize:]

	return idx, nil
}

// fixed returns the leading width bytes of b. In tail position the value
// must occupy its scope exactly; elsewhere at least width bytes must
// remain.
func (d *Decoder) fixed(b []byte, width int, tail bool) ([]byte, error) {
	if len(b) < width {
		return nil, errors.Wrapf(errs.ErrWrongShape, "need %d bytes, have %d", width, len(b))
	}
	if tail && len(b) != width {
		return nil, errors.Wrapf(errs.ErrWrongShape, "%d trailing bytes after %d-byte value", len(b)-width, width)
	}

	return b[:width], nil
}

func (d *Decoder) boolByte(b []byte, tail bool) (bool, error) {
	p, err := d.fixed(b, 1, tail)
	if err != nil {
		return false, err
	}
	if p[0] > 1 {
		return false, errors.Wrapf(errs.ErrInvalidValue, "boolean byte %#x", p[0])
	}

	return p[0] == 1, nil
}

func (d *Decoder) char(b []byte, tail bool) (Char, error) {
	p, err := d.fixed(b, 4, tail)
	if err != nil {
		return 0, err
	}
	u := d.engine.Uint32(p)
	if !utf8.ValidRune(rune(u)) {
		return 0, errors.Wrapf(errs.ErrInvalidValue, "code point %#x is not a Unicode scalar value", u)
	}

	return Char(u), nil
}

// str decodes a string from b and returns it with the number of bytes
// consumed. In tail position the final byte of b must be the Terminator;
// elsewhere the first Terminator byte delimits the string.
func (d *Decoder) str(b []byte, tail bool) (string, int, error) {
	var (
		content []byte
		n       int
	)
	if tail {
		if len(b) == 0 || b[len(b)-1] != Terminator {
			return "", 0, errors.Wrap(errs.ErrTerminatorNotFound, "string does not end with terminator")
		}
		content, n = b[:len(b)-1], len(b)
	} else {
		i := bytes.IndexByte(b, Terminator)
		if i < 0 {
			return "", 0, errors.Wrapf(errs.ErrTerminatorNotFound, "no terminator in %d bytes", len(b))
		}
		content, n = b[:i], i+1
	}

	if !utf8.Valid(content) {
		return "", 0, errors.Wrap(errs.ErrMalformedString, "string content")
	}

	return string(content), n, nil
}

func (d *Decoder) length(b []byte) (int, error) {
	p, err := d.fixed(b, lenPrefixSize, false)
	if err != nil {
		return 0, errors.Wrap(err, "length prefix")
	}
	u := d.engine.Uint64(p)
	if u > uint64(math.MaxInt) {
		return 0, errors.Wrapf(errs.ErrInvalidValue, "length %d overflows int", u)
	}

	return int(u), nil
}

func (d *Decoder) variantIndex(b []byte) (uint32, error) {
	p, err := d.fixed(b, variantIndexSize, false)
	if err != nil {
		return 0, errors.Wrap(err, "variant index")
	}

	return d.engine.Uint32(p), nil
}

// unmarshalerOf reports whether v decodes itself. The value must be
// addressable so the pointer method set is reachable.
func unmarshalerOf(v reflect.Value) (Unmarshaler, bool) {
	if v.CanAddr() && reflect.PointerTo(v.Type()).Implements(unmarshalerType) {
		return v.Addr().Interface().(Unmarshaler), true
	}

	return nil, false
}

// decodeValue decodes one value of v's type from the front of b and
// returns the number of bytes consumed. tail reports whether the value's
// scope extends to the end of the buffer. A child that consumes the
// wrong span leaves b mis-aligned for the next sibling; that surfaces as
// a decode error on the sibling, not here.
func (d *Decoder) decodeValue(b []byte, v reflect.Value, tail bool) (int, error) {
	t := v.Type()

	if t == charType {
		c, err := d.char(b, tail)
		if err != nil {
			return 0, err
		}
		v.SetInt(int64(c))

		return 4, nil
	}

	kind := v.Kind()
	if kind != reflect.Pointer && kind != reflect.Interface {
		if um, ok := unmarshalerOf(v); ok {
			child := &Decoder{buf: b, engine: d.engine}
			if err := um.UnmarshalValue(child); err != nil {
				return 0, errors.Mark(errors.Wrapf(err, "unmarshal %s", t), errs.ErrCustom)
			}

			return len(b) - len(child.buf), nil
		}
	}

	switch kind {
	case reflect.Bool:
		x, err := d.boolByte(b, tail)
		if err != nil {
			return 0, err
		}
		v.SetBool(x)

		return 1, nil
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64, reflect.Int:
		return d.decodeInt(b, v, tail)
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uint:
		return d.decodeUint(b, v, tail)
	case reflect.Float32:
		p, err := d.fixed(b, 4, tail)
		if err != nil {
			return 0, err
		}
		v.SetFloat(float64(math.Float32frombits(d.engine.Uint32(p))))

		return 4, nil
	case reflect.Float64:
		p, err := d.fixed(b, 8, tail)
		if err != nil {
			return 0, err
		}
		v.SetFloat(math.Float64frombits(d.engine.Uint64(p)))

		return 8, nil
	case reflect.String:
		s, n, err := d.str(b, tail)
		if err != nil {
			return 0, err
		}
		v.SetString(s)

		return n, nil
	case reflect.Slice:
		return d.decodeSlice(b, v, tail)
	case reflect.Array:
		return d.decodeArray(b, v, tail)
	case reflect.Map:
		return d.decodeMap(b, v)
	case reflect.Pointer:
		return d.decodeOption(b, v, tail)
	case reflect.Struct:
		return d.decodeStruct(b, v, tail)
	case reflect.Interface:
		return d.decodeUnion(b, v, tail)
	default:
		return 0, errors.Wrapf(errs.ErrUnsupportedShape, "%s", t)
	}
}

var intWidths = map[reflect.Kind]int{
	reflect.Int8:   1,
	reflect.Int16:  2,
	reflect.Int32:  4,
	reflect.Int64:  8,
	reflect.Int:    8,
	reflect.Uint8:  1,
	reflect.Uint16: 2,
	reflect.Uint32: 4,
	reflect.Uint64: 8,
	reflect.Uint:   8,
}

func (d *Decoder) decodeInt(b []byte, v reflect.Value, tail bool) (int, error) {
	width := intWidths[v.Kind()]
	p, err := d.fixed(b, width, tail)
	if err != nil {
		return 0, err
	}

	var x int64
	switch width {
	case 1:
		x = int64(int8(p[0]))
	case 2:
		x = int64(int16(d.engine.Uint16(p)))
	case 4:
		x = int64(int32(d.engine.Uint32(p)))
	default:
		x = int64(d.engine.Uint64(p))
	}
	if v.OverflowInt(x) {
		return 0, errors.Wrapf(errs.ErrInvalidValue, "value %d overflows %s", x, v.Type())
	}
	v.SetInt(x)

	return width, nil
}

func (d *Decoder) decodeUint(b []byte, v reflect.Value, tail bool) (int, error) {
	width := intWidths[v.Kind()]
	p, err := d.fixed(b, width, tail)
	if err != nil {
		return 0, err
	}

	var x uint64
	switch width {
	case 1:
		x = uint64(p[0])
	case 2:
		x = uint64(d.engine.Uint16(p))
	case 4:
		x = uint64(d.engine.Uint32(p))
	default:
		x = d.engine.Uint64(p)
	}
	if v.OverflowUint(x) {
		return 0, errors.Wrapf(errs.ErrInvalidValue, "value %d overflows %s", x, v.Type())
	}
	v.SetUint(x)

	return width, nil
}

func (d *Decoder) decodeSlice(b []byte, v reflect.Value, tail bool) (int, error) {
	t := v.Type()
	if t.Elem().Kind() == reflect.Uint8 {
		if !tail {
			return 0, errors.Wrapf(errs.ErrUnframedBlob, "%s", t)
		}
		v.SetBytes(bytes.Clone(b))

		return len(b), nil
	}

	n, err := d.length(b)
	if err != nil {
		return 0, err
	}
	rem := len(b) - lenPrefixSize
	if min := minEncodedSize(t.Elem()); min > 0 && n > rem/min {
		return 0, errors.Wrapf(errs.ErrWrongShape, "sequence length %d exceeds %d remaining bytes", n, rem)
	}

	out := reflect.MakeSlice(t, n, n)
	off := lenPrefixSize
	for i := range n {
		m, err := d.decodeValue(b[off:], out.Index(i), false)
		if err != nil {
			return 0, errors.Wrapf(err, "element %d", i)
		}
		off += m
	}
	v.Set(out)

	return off, nil
}

func (d *Decoder) decodeArray(b []byte, v reflect.Value, tail bool) (int, error) {
	n := v.Len()
	off := 0
	for i := range n {
		m, err := d.decodeValue(b[off:], v.Index(i), tail && i == n-1)
		if err != nil {
			return 0, errors.Wrapf(err, "element %d", i)
		}
		off += m
	}

	return off, nil
}

func (d *Decoder) decodeMap(b []byte, v reflect.Value) (int, error) {
	t := v.Type()
	n, err := d.length(b)
	if err != nil {
		return 0, err
	}
	rem := len(b) - lenPrefixSize
	if min := minEncodedSize(t.Key()) + minEncodedSize(t.Elem()); min > 0 && n > rem/min {
		return 0, errors.Wrapf(errs.ErrWrongShape, "map length %d exceeds %d remaining bytes", n, rem)
	}

	out := reflect.MakeMapWithSize(t, n)
	off := lenPrefixSize
	for i := range n {
		key := reflect.New(t.Key()).Elem()
		m, err := d.decodeValue(b[off:], key, false)
		if err != nil {
			return 0, errors.Wrapf(err, "key of entry %d", i)
		}
		off += m

		val := reflect.New(t.Elem()).Elem()
		m, err = d.decodeValue(b[off:], val, false)
		if err != nil {
			return 0, errors.Wrapf(err, "value of entry %d", i)
		}
		off += m

		out.SetMapIndex(key, val)
	}
	v.Set(out)

	return off, nil
}

func (d *Decoder) decodeOption(b []byte, v reflect.Value, tail bool) (int, error) {
	if len(b) == 0 {
		return 0, errors.Wrap(errs.ErrEmptyBuffer, "option presence tag")
	}

	switch b[0] {
	case 0:
		v.SetZero()
		if tail {
			// The caller's scope ends at the tag; the remainder is
			// ignored by this value.
			return len(b), nil
		}

		return 1, nil
	case 1:
		inner := reflect.New(v.Type().Elem())
		n, err := d.decodeValue(b[1:], inner.Elem(), tail)
		if err != nil {
			return 0, err
		}
		v.Set(inner)

		return 1 + n, nil
	default:
		return 0, errors.Wrapf(errs.ErrInvalidValue, "option tag byte %#x", b[0])
	}
}

func (d *Decoder) decodeStruct(b []byte, v reflect.Value, tail bool) (int, error) {
	t := v.Type()
	fields := structFields(t)
	if len(fields) == 0 {
		if tail && len(b) != 0 {
			return 0, errors.Wrapf(errs.ErrWrongShape, "%d bytes for unit value", len(b))
		}

		return 0, nil
	}

	off := 0
	for i, f := range fields {
		n, err := d.decodeValue(b[off:], v.Field(f.index), tail && i == len(fields)-1)
		if err != nil {
			return 0, errors.Wrapf(err, "field %s.%s", t, f.name)
		}
		off += n
	}

	return off, nil
}

func (d *Decoder) decodeUnion(b []byte, v reflect.Value, tail bool) (int, error) {
	t := v.Type()
	u, ok := lookupUnion(t)
	if !ok {
		return 0, errors.Wrapf(errs.ErrUnsupportedShape, "interface %s has no registered variants", t)
	}

	idx, err := d.variantIndex(b)
	if err != nil {
		return 0, err
	}
	if idx >= uint32(len(u.variants)) {
		return 0, errors.Wrapf(errs.ErrInvalidValue, "variant index %d out of range for %s (%d variants)", idx, t, len(u.variants))
	}

	va := u.variants[idx]
	cv := reflect.New(va.rtype).Elem()
	off := variantIndexSize

	switch va.class {
	case unitVariant:
		// Index only.
	case newtypeVariant:
		n, err := d.decodeValue(b[off:], cv, tail)
		if err != nil {
			return 0, errors.Wrapf(err, "variant %s", va.rtype)
		}
		off += n
	default: // structVariant
		cnt, err := d.length(b[off:])
		if err != nil {
			return 0, errors.Wrapf(err, "variant %s field count", va.rtype)
		}
		fields := structFields(va.rtype)
		if cnt != len(fields) {
			return 0, errors.Wrapf(errs.ErrInvalidValue, "variant %s field count %d, want %d", va.rtype, cnt, len(fields))
		}
		off += lenPrefixSize
		for i, f := range fields {
			n, err := d.decodeValue(b[off:], cv.Field(f.index), tail && i == len(fields)-1)
			if err != nil {
				return 0, errors.Wrapf(err, "field %s.%s", va.rtype, f.name)
			}
			off += n
		}
	}
	v.Set(cv)

	return off, nil
}

// minEncodedSize returns the smallest number of bytes an encoding of t
// can occupy, used to reject hostile length prefixes before allocating.
// Zero means no useful lower bound.
func minEncodedSize(t reflect.Type) int {
	switch t.Kind() {
	case reflect.Bool, reflect.Int8, reflect.Uint8:
		return 1
	case reflect.Int16, reflect.Uint16:
		return 2
	case reflect.Int32, reflect.Uint32, reflect.Float32:
		return 4
	case reflect.Int64, reflect.Uint64, reflect.Int, reflect.Uint, reflect.Float64:
		return 8
	case reflect.String, reflect.Pointer:
		return 1
	case reflect.Slice, reflect.Map:
		return lenPrefixSize
	case reflect.Interface:
		return variantIndexSize
	case reflect.Array:
		return t.Len() * minEncodedSize(t.Elem())
	case reflect.Struct:
		size := 0
		for _, f := range structFields(t) {
			size += minEncodedSize(t.Field(f.index).Type)
		}

		return size
	default:
		return 0
	}
}
