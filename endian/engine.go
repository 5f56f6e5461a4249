// Package endian provides byte order utilities for the bytebuf codec.
//
// The bytebuf format stores every multi-byte value in a declared byte
// order instead of the host's in-memory layout, so buffers written on one
// machine decode on any other. Little-endian is the codec default; the
// big-endian engine exists for interoperability with systems that already
// speak big-endian.
//
// EndianEngine combines ByteOrder and AppendByteOrder from
// encoding/binary into one interface so encoders can append fixed-width
// values without staging them through a temporary slice:
//
//	engine := endian.GetLittleEndianEngine()
//	buf = engine.AppendUint64(buf, value)
//
// The returned engines are the standard library's binary.LittleEndian and
// binary.BigEndian values: immutable, stateless, and safe for concurrent
// use.
package endian

import (
	"encoding/binary"
	"unsafe"
)

// EndianEngine is the byte order contract shared by the encoder and
// decoder. It is satisfied by binary.LittleEndian and binary.BigEndian.
type EndianEngine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// CheckEndianness probes a fixed integer value to determine the host's
// native byte order. The codec never encodes in native order; this exists
// so callers and tests can tell whether the declared order matches the
// host (and therefore whether decoding involves byte swapping).
func CheckEndianness() binary.ByteOrder {
	// 256 is 0x0100: a little-endian host stores the 0x00 byte first,
	// a big-endian host stores the 0x01 byte first.
	var i uint16 = 0x0100

	b := (*[2]byte)(unsafe.Pointer(&i))
	if b[0] == 0x01 {
		return binary.BigEndian
	}

	return binary.LittleEndian
}

// IsNativeLittleEndian reports whether the host stores integers
// little-endian.
func IsNativeLittleEndian() bool {
	return CheckEndianness() == binary.LittleEndian
}

// IsNativeBigEndian reports whether the host stores integers big-endian.
func IsNativeBigEndian() bool {
	return CheckEndianness() == binary.BigEndian
}

// GetLittleEndianEngine returns the little-endian engine, the codec's
// default byte order.
func GetLittleEndianEngine() EndianEngine {
	return binary.LittleEndian
}

// GetBigEndianEngine returns the big-endian engine.
func GetBigEndianEngine() EndianEngine {
	return binary.BigEndian
}
