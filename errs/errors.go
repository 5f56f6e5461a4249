// Package errs defines the sentinel errors returned by the bytebuf codec.
//
// Encoding and decoding fail for structurally different reasons, so the
// sentinels form two taxonomies. Call sites wrap them with additional
// context; callers classify failures with errors.Is:
//
//	if errors.Is(err, errs.ErrInvalidValue) {
//	    // bytes decoded to a value outside its legal domain
//	}
package errs

import "github.com/cockroachdb/errors"

// Encode-side errors.
var (
	// ErrUnsizedContainer indicates an attempt to encode a sequence or map
	// whose length is not known before its elements. The format stores an
	// upfront length prefix and cannot represent unbounded containers.
	ErrUnsizedContainer = errors.New("container length is not known up front")

	// ErrCustom marks a failure raised by a value's own traversal logic
	// (a Marshaler or Unmarshaler implementation). The original error is
	// preserved and remains reachable through errors.Is/errors.As.
	ErrCustom = errors.New("custom traversal failure")

	// ErrUnsupportedType indicates a Go type the format has no encoding
	// rule for: channels, funcs, complex numbers, or an interface value
	// whose type is not a registered union.
	ErrUnsupportedType = errors.New("type has no encoding rule")
)

// Errors raised by both directions.
var (
	// ErrUnframedBlob indicates a raw byte slice outside tail position.
	// Blobs carry no length prefix or terminator, so they are only legal
	// where they may consume the entire remainder of the buffer.
	ErrUnframedBlob = errors.New("raw byte slice outside tail position")
)

// Decode-side errors.
var (
	// ErrWrongShape indicates the remaining bytes do not fit the requested
	// shape: too few bytes for a fixed-width value, a truncated length
	// prefix, or bytes left over after the value's scope ends.
	ErrWrongShape = errors.New("buffer does not match the requested shape")

	// ErrTerminatorNotFound indicates a string was requested but no
	// terminator byte delimits it in the remaining buffer.
	ErrTerminatorNotFound = errors.New("string terminator not found")

	// ErrInvalidValue indicates bytes that parsed structurally but decode
	// to a value outside its legal domain: a boolean byte other than 0 or
	// 1, a character that is not a Unicode scalar value, a variant index
	// beyond the registered variant count, or a length prefix that cannot
	// be represented on this platform.
	ErrInvalidValue = errors.New("decoded value outside its legal domain")

	// ErrMalformedString indicates string content that is not valid UTF-8.
	ErrMalformedString = errors.New("string bytes are not valid UTF-8")

	// ErrEmptyBuffer indicates a value required at least one byte (an
	// option presence tag) but none remain.
	ErrEmptyBuffer = errors.New("empty buffer")

	// ErrUnsupportedShape indicates a decode request the format cannot
	// satisfy: the buffer carries no type information, so shapes cannot be
	// inferred, and interfaces without registered variants cannot be
	// produced.
	ErrUnsupportedShape = errors.New("shape cannot be inferred from the buffer")
)
