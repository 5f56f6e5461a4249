package bytebuf

import (
	"bytes"
	"math"
	"reflect"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slices"

	"github.com/flatwire/bytebuf/endian"
	"github.com/flatwire/bytebuf/errs"
	"github.com/flatwire/bytebuf/internal/options"
	"github.com/flatwire/bytebuf/internal/pool"
)

// Encoder walks a value and appends its encoding to a pooled scratch
// buffer. The per-kind Write methods are the serializer half of the
// traversal protocol: the reflection walk drives them for ordinary Go
// values, and Marshaler implementations drive them directly.
//
// An Encoder is not safe for concurrent use; construct one per goroutine.
type Encoder struct {
	buf    *pool.ByteBuffer
	engine endian.EndianEngine
}

// NewEncoder creates an encoder with a pooled scratch buffer. Call
// Release when the encoder is no longer needed to return the buffer to
// the pool.
func NewEncoder(opts ...Option) (*Encoder, error) {
	cfg := defaultConfig()
	if err := options.Apply(&cfg, opts...); err != nil {
		return nil, err
	}

	return &Encoder{
		engine: cfg.engine,
		buf:    pool.GetValueBuffer(),
	}, nil
}

// Release returns the scratch buffer to the pool. The encoder must not
// be used afterwards.
func (e *Encoder) Release() {
	pool.PutValueBuffer(e.buf)
	e.buf = nil
}

// Marshal encodes v and returns a fresh copy of its byte encoding. The
// scratch buffer is reset first, so an Encoder may be reused across
// calls. A failed encode returns no partial buffer.
//
// Panics if Release has been called.
func (e *Encoder) Marshal(v any) ([]byte, error) {
	if e.buf == nil {
		panic("encoder already released - cannot marshal after Release()")
	}

	e.buf.Reset()
	if err := e.encodeValue(reflect.ValueOf(v), true); err != nil {
		return nil, err
	}

	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())

	return out, nil
}

// Bytes returns a copy of everything written so far. It is mainly
// useful when driving the Write methods directly instead of through
// Marshal.
//
// Panics if Release has been called.
func (e *Encoder) Bytes() []byte {
	if e.buf == nil {
		panic("encoder already released - cannot read after Release()")
	}

	out := make([]byte, e.buf.Len())
	copy(out, e.buf.Bytes())

	return out
}

// WriteBool appends a boolean as a single 0 or 1 byte.
func (e *Encoder) WriteBool(v bool) {
	if v {
		e.buf.MustWrite([]byte{1})
		return
	}
	e.buf.MustWrite([]byte{0})
}

// WriteUint8 appends a single byte.
func (e *Encoder) WriteUint8(v uint8) {
	e.buf.MustWrite([]byte{v})
}

// WriteUint16 appends 2 bytes in the declared byte order.
func (e *Encoder) WriteUint16(v uint16) {
	e.buf.B = e.engine.AppendUint16(e.buf.B, v)
}

// WriteUint32 appends 4 bytes in the declared byte order.
func (e *Encoder) WriteUint32(v uint32) {
	e.buf.B = e.engine.AppendUint32(e.buf.B, v)
}

// WriteUint64 appends 8 bytes in the declared byte order.
func (e *Encoder) WriteUint64(v uint64) {
	e.buf.B = e.engine.AppendUint64(e.buf.B, v)
}

// WriteUint appends a uint as a fixed 8-byte value, independent of the
// platform word size.
func (e *Encoder) WriteUint(v uint) {
	e.WriteUint64(uint64(v))
}

// WriteInt8 appends a signed byte in two's complement.
func (e *Encoder) WriteInt8(v int8) {
	e.WriteUint8(uint8(v))
}

// WriteInt16 appends 2 bytes in two's complement and the declared order.
func (e *Encoder) WriteInt16(v int16) {
	e.WriteUint16(uint16(v))
}

// WriteInt32 appends 4 bytes in two's complement and the declared order.
func (e *Encoder) WriteInt32(v int32) {
	e.WriteUint32(uint32(v))
}

// WriteInt64 appends 8 bytes in two's complement and the declared order.
func (e *Encoder) WriteInt64(v int64) {
	e.WriteUint64(uint64(v))
}

// WriteInt appends an int as a fixed 8-byte value, independent of the
// platform word size.
func (e *Encoder) WriteInt(v int) {
	e.WriteInt64(int64(v))
}

// WriteFloat32 appends the IEEE 754 bit pattern as a 4-byte integer.
func (e *Encoder) WriteFloat32(v float32) {
	e.WriteUint32(math.Float32bits(v))
}

// WriteFloat64 appends the IEEE 754 bit pattern as an 8-byte integer.
func (e *Encoder) WriteFloat64(v float64) {
	e.WriteUint64(math.Float64bits(v))
}

// WriteChar appends a Unicode scalar value as a 4-byte integer. The
// value is not validated; the decoder rejects non-scalar values.
func (e *Encoder) WriteChar(c Char) {
	e.WriteUint32(uint32(c))
}

// WriteString appends the UTF-8 bytes of s followed by the Terminator
// byte. The content must not contain the Terminator byte; this is a
// precondition, not something the encoder detects.
func (e *Encoder) WriteString(s string) {
	e.buf.Grow(len(s) + 1)
	e.buf.MustWrite([]byte(s))
	e.buf.MustWrite([]byte{Terminator})
}

// WriteBytes appends raw bytes with no length prefix or terminator. The
// reflection walk only reaches this in tail position; Marshaler
// implementations carry the same obligation.
func (e *Encoder) WriteBytes(b []byte) {
	e.buf.MustWrite(b)
}

// WriteOptionTag appends the 1-byte presence discriminant of an optional
// value. A present value's encoding must follow a true tag.
func (e *Encoder) WriteOptionTag(present bool) {
	e.WriteBool(present)
}

// WriteLen appends a container length as a fixed 8-byte unsigned value.
// A negative n means the length is not known up front, which the format
// cannot represent; it fails with errs.ErrUnsizedContainer and appends
// nothing.
func (e *Encoder) WriteLen(n int) error {
	if n < 0 {
		return errors.Wrapf(errs.ErrUnsizedContainer, "length %d", n)
	}
	e.appendLen(n)

	return nil
}

// WriteVariantIndex appends a tagged-union variant index as a 4-byte
// unsigned value.
func (e *Encoder) WriteVariantIndex(idx uint32) {
	e.WriteUint32(idx)
}

func (e *Encoder) appendLen(n int) {
	e.WriteUint64(uint64(n))
}

// marshalerOf reports whether v encodes itself. Addressable values are
// also probed through their pointer method set.
func marshalerOf(v reflect.Value) (Marshaler, bool) {
	if v.Type().Implements(marshalerType) {
		return v.Interface().(Marshaler), true
	}
	if v.CanAddr() && reflect.PointerTo(v.Type()).Implements(marshalerType) {
		return v.Addr().Interface().(Marshaler), true
	}

	return nil, false
}

// encodeValue appends the encoding of v. tail reports whether v's scope
// extends to the end of the buffer, which is the only place an unframed
// byte blob is legal.
func (e *Encoder) encodeValue(v reflect.Value, tail bool) error {
	if !v.IsValid() {
		return errors.Wrap(errs.ErrUnsupportedType, "untyped nil")
	}

	if v.Type() == charType {
		e.WriteChar(Char(v.Int()))
		return nil
	}

	// Pointers always take the option encoding and interfaces the union
	// encoding, so a custom Marshaler on either would break the
	// encode/decode symmetry; it is only consulted for other kinds.
	kind := v.Kind()
	if kind != reflect.Pointer && kind != reflect.Interface {
		if m, ok := marshalerOf(v); ok {
			if err := m.MarshalValue(e); err != nil {
				return errors.Mark(errors.Wrapf(err, "marshal %s", v.Type()), errs.ErrCustom)
			}
			return nil
		}
	}

	switch kind {
	case reflect.Bool:
		e.WriteBool(v.Bool())
	case reflect.Int8:
		e.WriteInt8(int8(v.Int()))
	case reflect.Int16:
		e.WriteInt16(int16(v.Int()))
	case reflect.Int32:
		e.WriteInt32(int32(v.Int()))
	case reflect.Int64, reflect.Int:
		e.WriteInt64(v.Int())
	case reflect.Uint8:
		e.WriteUint8(uint8(v.Uint()))
	case reflect.Uint16:
		e.WriteUint16(uint16(v.Uint()))
	case reflect.Uint32:
		e.WriteUint32(uint32(v.Uint()))
	case reflect.Uint64, reflect.Uint:
		e.WriteUint64(v.Uint())
	case reflect.Float32:
		e.WriteFloat32(float32(v.Float()))
	case reflect.Float64:
		e.WriteFloat64(v.Float())
	case reflect.String:
		e.WriteString(v.String())
	case reflect.Slice:
		return e.encodeSlice(v, tail)
	case reflect.Array:
		return e.encodeArray(v, tail)
	case reflect.Map:
		return e.encodeMap(v)
	case reflect.Pointer:
		if v.IsNil() {
			e.WriteOptionTag(false)
			return nil
		}
		e.WriteOptionTag(true)

		return e.encodeValue(v.Elem(), tail)
	case reflect.Struct:
		return e.encodeStruct(v, tail)
	case reflect.Interface:
		return e.encodeUnion(v, tail)
	default:
		return errors.Wrapf(errs.ErrUnsupportedType, "%s", v.Type())
	}

	return nil
}

func (e *Encoder) encodeSlice(v reflect.Value, tail bool) error {
	if v.Type().Elem().Kind() == reflect.Uint8 {
		if !tail {
			return errors.Wrapf(errs.ErrUnframedBlob, "%s", v.Type())
		}
		e.WriteBytes(v.Bytes())

		return nil
	}

	n := v.Len()
	e.appendLen(n)
	for i := range n {
		if err := e.encodeValue(v.Index(i), false); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}

	return nil
}

func (e *Encoder) encodeArray(v reflect.Value, tail bool) error {
	n := v.Len()
	for i := range n {
		if err := e.encodeValue(v.Index(i), tail && i == n-1); err != nil {
			return errors.Wrapf(err, "element %d", i)
		}
	}

	return nil
}

func (e *Encoder) encodeStruct(v reflect.Value, tail bool) error {
	fields := structFields(v.Type())
	for i, f := range fields {
		if err := e.encodeValue(v.Field(f.index), tail && i == len(fields)-1); err != nil {
			return errors.Wrapf(err, "field %s.%s", v.Type(), f.name)
		}
	}

	return nil
}

// encodeMap writes the length prefix and the entries in ascending order
// of their encoded key bytes. Go map iteration order is random; sorting
// by key encoding makes the output deterministic without affecting
// round-trip.
func (e *Encoder) encodeMap(v reflect.Value) error {
	e.appendLen(v.Len())

	type entry struct {
		key, val *pool.ByteBuffer
	}
	entries := make([]entry, 0, v.Len())
	defer func() {
		for _, en := range entries {
			pool.PutValueBuffer(en.key)
			pool.PutValueBuffer(en.val)
		}
	}()

	iter := v.MapRange()
	for iter.Next() {
		kb := pool.GetValueBuffer()
		kenc := &Encoder{engine: e.engine, buf: kb}
		if err := kenc.encodeValue(iter.Key(), false); err != nil {
			pool.PutValueBuffer(kb)
			return errors.Wrap(err, "map key")
		}

		vb := pool.GetValueBuffer()
		venc := &Encoder{engine: e.engine, buf: vb}
		if err := venc.encodeValue(iter.Value(), false); err != nil {
			pool.PutValueBuffer(kb)
			pool.PutValueBuffer(vb)

			return errors.Wrap(err, "map value")
		}

		entries = append(entries, entry{key: kb, val: vb})
	}

	slices.SortFunc(entries, func(a, b entry) int {
		return bytes.Compare(a.key.Bytes(), b.key.Bytes())
	})

	for _, en := range entries {
		e.buf.MustWrite(en.key.Bytes())
		e.buf.MustWrite(en.val.Bytes())
	}

	return nil
}

func (e *Encoder) encodeUnion(v reflect.Value, tail bool) error {
	u, ok := lookupUnion(v.Type())
	if !ok {
		return errors.Wrapf(errs.ErrUnsupportedType, "interface %s has no registered variants", v.Type())
	}
	if v.IsNil() {
		return errors.Wrapf(errs.ErrUnsupportedType, "nil %s value", v.Type())
	}

	cv := v.Elem()
	idx, va, ok := u.variantOf(cv.Type())
	if !ok {
		return errors.Wrapf(errs.ErrUnsupportedType, "%s is not a registered variant of %s", cv.Type(), v.Type())
	}
	e.WriteVariantIndex(uint32(idx))

	switch va.class {
	case unitVariant:
		return nil
	case newtypeVariant:
		return e.encodeValue(cv, tail)
	default: // structVariant
		fields := structFields(cv.Type())
		e.appendLen(len(fields))
		for i, f := range fields {
			if err := e.encodeValue(cv.Field(f.index), tail && i == len(fields)-1); err != nil {
				return errors.Wrapf(err, "field %s.%s", cv.Type(), f.name)
			}
		}

		return nil
	}
}
