package bytebuf

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"github.com/flatwire/bytebuf/endian"
	"github.com/flatwire/bytebuf/errs"
)

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()

	buf, err := Marshal(v)
	require.NoError(t, err)

	return buf
}

func TestEncode_FixedWidths(t *testing.T) {
	require.Equal(t, []byte{1}, mustMarshal(t, true))
	require.Equal(t, []byte{0}, mustMarshal(t, false))
	require.Equal(t, []byte{0xFF}, mustMarshal(t, int8(-1)))
	require.Equal(t, []byte{0x02, 0x01}, mustMarshal(t, uint16(0x0102)))
	require.Equal(t, []byte{7, 0, 0, 0}, mustMarshal(t, int32(7)))
	require.Equal(t, []byte{5, 0, 0, 0, 0, 0, 0, 0}, mustMarshal(t, 5))
	require.Equal(t, []byte{0, 0, 0xC0, 0x3F}, mustMarshal(t, float32(1.5)))

	f64 := mustMarshal(t, 1.5)
	require.Len(t, f64, 8)
	require.Equal(t, math.Float64bits(1.5), endian.GetLittleEndianEngine().Uint64(f64))

	require.Equal(t, []byte{'A', 0, 0, 0}, mustMarshal(t, Char('A')))
}

func TestEncode_WidthProperties(t *testing.T) {
	cases := map[string]struct {
		value any
		width int
	}{
		"bool":    {true, 1},
		"int8":    {int8(-128), 1},
		"uint8":   {uint8(255), 1},
		"int16":   {int16(-1), 2},
		"uint16":  {uint16(1), 2},
		"int32":   {int32(-1), 4},
		"uint32":  {uint32(1), 4},
		"float32": {float32(math.Pi), 4},
		"char":    {Char(0x10FFFF), 4},
		"int64":   {int64(-1), 8},
		"uint64":  {uint64(1), 8},
		"int":     {int(-1), 8},
		"uint":    {uint(1), 8},
		"float64": {math.Pi, 8},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			require.Len(t, mustMarshal(t, tc.value), tc.width)
		})
	}
}

func TestEncode_String(t *testing.T) {
	require.Equal(t, []byte{'a', 'b', 'c', Terminator}, mustMarshal(t, "abc"))
	require.Equal(t, []byte{Terminator}, mustMarshal(t, ""))
}

func TestEncode_Bytes(t *testing.T) {
	// Raw bytes, no framing at all.
	require.Equal(t, []byte{9, 8, 7}, mustMarshal(t, []byte{9, 8, 7}))
	require.Equal(t, []byte{}, mustMarshal(t, []byte{}))
}

func TestEncode_Options(t *testing.T) {
	require.Equal(t, []byte{0}, mustMarshal(t, (*uint8)(nil)))
	require.Equal(t, []byte{1, 7}, mustMarshal(t, ptr(uint8(7))))
}

func TestEncode_Unit(t *testing.T) {
	require.Empty(t, mustMarshal(t, struct{}{}))
}

func TestEncode_NewtypeTransparency(t *testing.T) {
	type userID uint32

	require.Equal(t, mustMarshal(t, uint32(88)), mustMarshal(t, userID(88)))
}

func TestEncode_SequenceFraming(t *testing.T) {
	buf := mustMarshal(t, []int8{10, 20, 30})
	require.Equal(t, []byte{3, 0, 0, 0, 0, 0, 0, 0, 10, 20, 30}, buf)
}

func TestEncode_TupleHasNoPrefix(t *testing.T) {
	require.Equal(t, []byte{10, 20, 30}, mustMarshal(t, [3]int8{10, 20, 30}))
}

func TestEncode_StructFieldsConcatenated(t *testing.T) {
	type point struct {
		X, Y int16
	}

	require.Equal(t, []byte{1, 0, 2, 0}, mustMarshal(t, point{X: 1, Y: 2}))
}

func TestEncode_StructTagSkipsField(t *testing.T) {
	type record struct {
		Keep uint8
		Skip uint8 `bytebuf:"-"`
		Also uint8
	}

	require.Equal(t, []byte{1, 3}, mustMarshal(t, record{Keep: 1, Skip: 2, Also: 3}))
}

func TestEncode_UnexportedFieldsSkipped(t *testing.T) {
	type record struct {
		Exported uint8
		hidden   uint8
	}

	require.Equal(t, []byte{1}, mustMarshal(t, record{Exported: 1, hidden: 2}))
}

func TestEncode_UnsupportedTypes(t *testing.T) {
	cases := map[string]any{
		"nil":     nil,
		"chan":    make(chan int),
		"func":    func() {},
		"complex": complex(1, 2),
	}

	for name, v := range cases {
		t.Run(name, func(t *testing.T) {
			buf, err := Marshal(v)
			require.ErrorIs(t, err, errs.ErrUnsupportedType)
			require.Nil(t, buf)
		})
	}
}

func TestEncode_UnsupportedFieldCarriesContext(t *testing.T) {
	type holder struct {
		F func()
	}

	_, err := Marshal(holder{})
	require.ErrorIs(t, err, errs.ErrUnsupportedType)
	require.Contains(t, err.Error(), "holder.F")
}

func TestEncode_BlobPlacement(t *testing.T) {
	t.Run("final struct field is legal", func(t *testing.T) {
		type rec struct {
			N    uint8
			Tail []byte
		}
		require.Equal(t, []byte{1, 0xAA, 0xBB}, mustMarshal(t, rec{N: 1, Tail: []byte{0xAA, 0xBB}}))
	})

	t.Run("non-final struct field is rejected", func(t *testing.T) {
		type rec struct {
			Blob []byte
			N    uint8
		}
		_, err := Marshal(rec{Blob: []byte{1}, N: 2})
		require.ErrorIs(t, err, errs.ErrUnframedBlob)
	})

	t.Run("sequence element is rejected", func(t *testing.T) {
		_, err := Marshal([][]byte{{1}, {2}})
		require.ErrorIs(t, err, errs.ErrUnframedBlob)
	})

	t.Run("map value is rejected", func(t *testing.T) {
		_, err := Marshal(map[uint8][]byte{1: {2}})
		require.ErrorIs(t, err, errs.ErrUnframedBlob)
	})
}

type version struct {
	Major, Minor uint8
}

func (v version) MarshalValue(enc *Encoder) error {
	enc.WriteUint8(v.Major)
	enc.WriteUint8(v.Minor)

	return nil
}

func (v *version) UnmarshalValue(dec *Decoder) error {
	var err error
	if v.Major, err = dec.ReadUint8(); err != nil {
		return err
	}
	v.Minor, err = dec.ReadUint8()

	return err
}

func TestEncode_CustomMarshaler(t *testing.T) {
	require.Equal(t, []byte{1, 9}, mustMarshal(t, version{Major: 1, Minor: 9}))

	var out version
	require.NoError(t, Unmarshal([]byte{1, 9}, &out))
	require.Equal(t, version{Major: 1, Minor: 9}, out)
}

func TestEncode_CustomMarshalerInsideStruct(t *testing.T) {
	type release struct {
		V    version
		Name string
	}

	in := release{V: version{Major: 2, Minor: 1}, Name: "aurora"}
	buf := mustMarshal(t, in)
	require.Equal(t, byte(2), buf[0])
	require.Equal(t, byte(1), buf[1])

	var out release
	require.NoError(t, Unmarshal(buf, &out))
	require.Equal(t, in, out)
}

type failing struct{}

var errBoom = errors.New("boom")

func (failing) MarshalValue(*Encoder) error {
	return errBoom
}

func TestEncode_CustomErrorIsMarked(t *testing.T) {
	buf, err := Marshal(failing{})
	require.Nil(t, buf)
	require.ErrorIs(t, err, errs.ErrCustom)
	require.ErrorIs(t, err, errBoom)
}

type unsized struct{}

func (unsized) MarshalValue(enc *Encoder) error {
	return enc.WriteLen(-1)
}

func TestEncode_UnsizedContainerRejected(t *testing.T) {
	buf, err := Marshal(unsized{})
	require.Nil(t, buf)
	require.ErrorIs(t, err, errs.ErrUnsizedContainer)
}

func TestEncode_UnregisteredInterfaceField(t *testing.T) {
	type holder struct {
		V interface{ unheard() }
	}

	_, err := Marshal(holder{})
	require.ErrorIs(t, err, errs.ErrUnsupportedType)
}

func TestEncode_NilUnionValue(t *testing.T) {
	type holder struct {
		S shape
	}

	_, err := Marshal(holder{S: nil})
	require.ErrorIs(t, err, errs.ErrUnsupportedType)
}
