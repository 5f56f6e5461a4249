package bytebuf

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flatwire/bytebuf/errs"
)

// shapeBox pins the static type of its field to the interface so the
// union layout applies. The struct itself adds no bytes.
type shapeBox struct {
	S shape
}

type signalBox struct {
	S signal
}

func TestUnion_RoundTripEachClass(t *testing.T) {
	for _, in := range []shape{
		origin{},
		circle{Radius: 2.5},
		rect{W: 3, H: 4},
		scale(0.5),
	} {
		out := roundTrip(t, shapeBox{S: in})
		require.Equal(t, in, out.S)
		require.Equal(t, in.area(), out.S.area())
	}
}

func TestUnion_UnitVariantIsIndexOnly(t *testing.T) {
	buf := mustMarshal(t, signalBox{S: sigStop{}})
	require.Equal(t, []byte{1, 0, 0, 0}, buf)

	var out signalBox
	require.NoError(t, Unmarshal(buf, &out))
	require.Equal(t, sigStop{}, out.S)
}

func TestUnion_NewtypeVariantLayout(t *testing.T) {
	buf := mustMarshal(t, shapeBox{S: scale(1.5)})

	// Index 3, then the float64 bit pattern of 1.5.
	require.Equal(t, []byte{
		3, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0xF8, 0x3F,
	}, buf)
}

func TestUnion_StructVariantLayout(t *testing.T) {
	buf := mustMarshal(t, shapeBox{S: circle{Radius: 1.5}})

	// Index 1, an 8-byte field count of 1, then the Radius field.
	require.Equal(t, []byte{
		1, 0, 0, 0,
		1, 0, 0, 0, 0, 0, 0, 0,
		0, 0, 0, 0, 0, 0, 0xF8, 0x3F,
	}, buf)
}

func TestUnion_DecodeErrors(t *testing.T) {
	t.Run("index out of range", func(t *testing.T) {
		var out shapeBox
		err := Unmarshal([]byte{99, 0, 0, 0}, &out)
		require.ErrorIs(t, err, errs.ErrInvalidValue)
	})

	t.Run("truncated index", func(t *testing.T) {
		var out shapeBox
		require.ErrorIs(t, Unmarshal([]byte{1, 0}, &out), errs.ErrWrongShape)
	})

	t.Run("field count mismatch", func(t *testing.T) {
		buf := []byte{
			1, 0, 0, 0,
			2, 0, 0, 0, 0, 0, 0, 0,
			0, 0, 0, 0, 0, 0, 0xF8, 0x3F,
		}
		var out shapeBox
		require.ErrorIs(t, Unmarshal(buf, &out), errs.ErrInvalidValue)
	})

	t.Run("trailing bytes after unit variant", func(t *testing.T) {
		var out signalBox
		err := Unmarshal([]byte{0, 0, 0, 0, 0xAA}, &out)
		require.ErrorIs(t, err, errs.ErrWrongShape)
	})
}

func TestUnion_InsideContainers(t *testing.T) {
	in := []shape{origin{}, circle{Radius: 1}, scale(9)}
	require.Equal(t, in, roundTrip(t, in))

	m := map[uint8]signal{1: sigStart{}, 2: sigStop{}}
	require.Equal(t, m, roundTrip(t, m))
}

func TestRegisterUnion_Panics(t *testing.T) {
	type notIface struct{}

	t.Run("non-interface type parameter", func(t *testing.T) {
		require.Panics(t, func() { RegisterUnion[notIface](notIface{}) })
	})

	t.Run("no variants", func(t *testing.T) {
		require.Panics(t, func() { RegisterUnion[interface{ a() }]() })
	})

	t.Run("nil variant", func(t *testing.T) {
		require.Panics(t, func() { RegisterUnion[any](nil) })
	})

	t.Run("pointer variant", func(t *testing.T) {
		require.Panics(t, func() { RegisterUnion[any](&notIface{}) })
	})

	t.Run("duplicate variant", func(t *testing.T) {
		require.Panics(t, func() { RegisterUnion[any](notIface{}, notIface{}) })
	})

	t.Run("already registered", func(t *testing.T) {
		require.Panics(t, func() { RegisterUnion[shape](origin{}) })
	})
}
