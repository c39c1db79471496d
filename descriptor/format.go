// Package descriptor defines the stream schema: the immutable core
// fields describing a stream's shape and identity, the hosting fields
// assigned when a descriptor is bound to an outlet, the extended
// description tree carrying channel metadata, and the XML form used on
// the wire and in recorded headers.
package descriptor

import (
	"fmt"

	"github.com/c360/labstream/errors"
)

// ChannelFormat is the element type of every value in a sample.
// The numeric values are part of the protocol and must not change.
type ChannelFormat int

const (
	// Undefined cannot be transmitted; constructing a descriptor with
	// it fails.
	Undefined ChannelFormat = 0
	// Float32 suits measurements with up to 24-bit precision;
	// integers from -16777216 to 16777216 are exact.
	Float32 ChannelFormat = 1
	// Double64 suits universal numeric data; the largest exactly
	// representable integer is 53-bit.
	Double64 ChannelFormat = 2
	// String suits variable-length strings or data blobs such as
	// event descriptions.
	String ChannelFormat = 3
	// Int32 suits high-rate digitized formats and event codes.
	Int32 ChannelFormat = 4
	// Int16 suits very high bandwidth signals such as raw audio.
	Int16 ChannelFormat = 5
	// Int8 suits binary signals and other coded data.
	Int8 ChannelFormat = 6
	// Int64 support is not available on all builds and platforms.
	Int64 ChannelFormat = 7
)

// String returns the canonical format name used in the XML form.
func (f ChannelFormat) String() string {
	switch f {
	case Float32:
		return "float32"
	case Double64:
		return "double64"
	case String:
		return "string"
	case Int32:
		return "int32"
	case Int16:
		return "int16"
	case Int8:
		return "int8"
	case Int64:
		return "int64"
	default:
		return "undefined"
	}
}

// Valid reports whether the format is transmittable.
func (f ChannelFormat) Valid() bool {
	return f >= Float32 && f <= Int64
}

// SizeBytes returns the wire width of one value, or 0 for
// variable-length formats.
func (f ChannelFormat) SizeBytes() int {
	switch f {
	case Float32, Int32:
		return 4
	case Double64, Int64:
		return 8
	case Int16:
		return 2
	case Int8:
		return 1
	default:
		return 0
	}
}

// ParseChannelFormat maps a format name from the XML form back to its
// enum value.
func ParseChannelFormat(s string) (ChannelFormat, error) {
	switch s {
	case "float32":
		return Float32, nil
	case "double64":
		return Double64, nil
	case "string":
		return String, nil
	case "int32":
		return Int32, nil
	case "int16":
		return Int16, nil
	case "int8":
		return Int8, nil
	case "int64":
		return Int64, nil
	default:
		return Undefined, errors.WrapInvalid(
			fmt.Errorf("unknown channel format %q", s),
			"ChannelFormat", "ParseChannelFormat", "format lookup")
	}
}
