// Package wire implements the on-wire representations of the engine:
// packed binary sample and chunk payloads, the framed TCP session
// protocol, and the discovery query/reply datagrams.
//
// All multi-byte numeric values are little-endian. Strings travel as
// length-prefixed blobs; decoding copies them out of the read buffer so
// delivered samples never alias network memory.
package wire

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/errors"
)

// SupportsInt64 reports whether this build can transmit int64 samples.
// It is false on platforms without native 64-bit atomics on the hot
// path; pushing or pulling Int64 data then fails with NotSupported
// instead of silently truncating.
var SupportsInt64 = supportsInt64

// Codec encodes and decodes fixed-length sample vectors of one
// descriptor's format and channel count. It is selected once at outlet
// or inlet construction and cached on the handle.
type Codec struct {
	format   descriptor.ChannelFormat
	channels int
}

// NewCodec builds the codec for a format/channel pair. Undefined
// formats are a constructor-time failure; Int64 fails on builds
// without support.
func NewCodec(format descriptor.ChannelFormat, channels int) (Codec, error) {
	if !format.Valid() {
		return Codec{}, errors.WrapInvalid(errors.ErrInvalidFormat,
			"Codec", "NewCodec", "format validation")
	}
	if channels < 1 {
		return Codec{}, errors.WrapInvalid(
			fmt.Errorf("channel count %d: %w", channels, errors.ErrInvalidArgument),
			"Codec", "NewCodec", "channel validation")
	}
	if format == descriptor.Int64 && !SupportsInt64 {
		return Codec{}, errors.WrapNotSupported(errors.ErrInt64Unsupported,
			"Codec", "NewCodec", "format capability check")
	}
	return Codec{format: format, channels: channels}, nil
}

// Format returns the element type the codec transmits.
func (c Codec) Format() descriptor.ChannelFormat { return c.format }

// Channels returns the fixed vector length of every sample.
func (c Codec) Channels() int { return c.channels }

// CheckValues validates that values matches the codec's format and
// channel count without encoding anything. Values must be a slice of
// the format's element type ([]float32, []float64, []string, []int32,
// []int16, []int8 or []int64) with exactly Channels elements.
func (c Codec) CheckValues(values any) error {
	n, err := c.valueLen(values)
	if err != nil {
		return err
	}
	if n != c.channels {
		return errors.WrapInvalid(
			fmt.Errorf("got %d values for %d channels: %w", n, c.channels, errors.ErrChannelMismatch),
			"Codec", "CheckValues", "length validation")
	}
	return nil
}

func (c Codec) valueLen(values any) (int, error) {
	switch c.format {
	case descriptor.Float32:
		if v, ok := values.([]float32); ok {
			return len(v), nil
		}
	case descriptor.Double64:
		if v, ok := values.([]float64); ok {
			return len(v), nil
		}
	case descriptor.String:
		if v, ok := values.([]string); ok {
			return len(v), nil
		}
	case descriptor.Int32:
		if v, ok := values.([]int32); ok {
			return len(v), nil
		}
	case descriptor.Int16:
		if v, ok := values.([]int16); ok {
			return len(v), nil
		}
	case descriptor.Int8:
		if v, ok := values.([]int8); ok {
			return len(v), nil
		}
	case descriptor.Int64:
		if v, ok := values.([]int64); ok {
			return len(v), nil
		}
	}
	return 0, errors.WrapInvalid(
		fmt.Errorf("values of type %T do not carry %s data: %w",
			values, c.format, errors.ErrInvalidArgument),
		"Codec", "CheckValues", "type validation")
}

// AppendSample appends one timestamped sample to buf and returns the
// extended buffer. The values are validated first; nothing is appended
// on error.
func (c Codec) AppendSample(buf []byte, values any, timestamp float64) ([]byte, error) {
	if err := c.CheckValues(values); err != nil {
		return buf, err
	}

	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(timestamp))

	switch c.format {
	case descriptor.Float32:
		for _, v := range values.([]float32) {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(v))
		}
	case descriptor.Double64:
		for _, v := range values.([]float64) {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	case descriptor.String:
		for _, v := range values.([]string) {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
			buf = append(buf, v...)
		}
	case descriptor.Int32:
		for _, v := range values.([]int32) {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(v))
		}
	case descriptor.Int16:
		for _, v := range values.([]int16) {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(v))
		}
	case descriptor.Int8:
		for _, v := range values.([]int8) {
			buf = append(buf, byte(v))
		}
	case descriptor.Int64:
		for _, v := range values.([]int64) {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(v))
		}
	}
	return buf, nil
}

// DecodeSample reads one timestamped sample from data, returning the
// decoded values, the timestamp, and the number of bytes consumed.
// Decoded values own their memory: string data is copied out of the
// wire buffer.
func (c Codec) DecodeSample(data []byte) (any, float64, int, error) {
	if len(data) < 8 {
		return nil, 0, 0, c.truncated("timestamp")
	}
	timestamp := math.Float64frombits(binary.LittleEndian.Uint64(data))
	pos := 8

	switch c.format {
	case descriptor.Float32:
		need := 4 * c.channels
		if len(data)-pos < need {
			return nil, 0, 0, c.truncated("float32 vector")
		}
		out := make([]float32, c.channels)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		return out, timestamp, pos, nil

	case descriptor.Double64:
		need := 8 * c.channels
		if len(data)-pos < need {
			return nil, 0, 0, c.truncated("double64 vector")
		}
		out := make([]float64, c.channels)
		for i := range out {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[pos:]))
			pos += 8
		}
		return out, timestamp, pos, nil

	case descriptor.String:
		out := make([]string, c.channels)
		for i := range out {
			if len(data)-pos < 4 {
				return nil, 0, 0, c.truncated("string length")
			}
			n := int(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
			if n < 0 || len(data)-pos < n {
				return nil, 0, 0, c.truncated("string payload")
			}
			// string() copies, detaching from the wire buffer.
			out[i] = string(data[pos : pos+n])
			pos += n
		}
		return out, timestamp, pos, nil

	case descriptor.Int32:
		need := 4 * c.channels
		if len(data)-pos < need {
			return nil, 0, 0, c.truncated("int32 vector")
		}
		out := make([]int32, c.channels)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[pos:]))
			pos += 4
		}
		return out, timestamp, pos, nil

	case descriptor.Int16:
		need := 2 * c.channels
		if len(data)-pos < need {
			return nil, 0, 0, c.truncated("int16 vector")
		}
		out := make([]int16, c.channels)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[pos:]))
			pos += 2
		}
		return out, timestamp, pos, nil

	case descriptor.Int8:
		if len(data)-pos < c.channels {
			return nil, 0, 0, c.truncated("int8 vector")
		}
		out := make([]int8, c.channels)
		for i := range out {
			out[i] = int8(data[pos])
			pos++
		}
		return out, timestamp, pos, nil

	case descriptor.Int64:
		need := 8 * c.channels
		if len(data)-pos < need {
			return nil, 0, 0, c.truncated("int64 vector")
		}
		out := make([]int64, c.channels)
		for i := range out {
			out[i] = int64(binary.LittleEndian.Uint64(data[pos:]))
			pos += 8
		}
		return out, timestamp, pos, nil
	}

	return nil, 0, 0, errors.WrapInternal(errors.ErrInvalidFormat,
		"Codec", "DecodeSample", "format dispatch")
}

func (c Codec) truncated(what string) error {
	return errors.WrapInvalid(
		fmt.Errorf("truncated %s: %w", what, errors.ErrInvalidArgument),
		"Codec", "DecodeSample", "payload validation")
}

// EncodeChunk encodes count samples into one chunk payload:
// a uint32 sample count followed by the packed samples.
func (c Codec) EncodeChunk(values []any, timestamps []float64) ([]byte, error) {
	if len(values) != len(timestamps) {
		return nil, errors.WrapInvalid(
			fmt.Errorf("%d samples but %d timestamps: %w",
				len(values), len(timestamps), errors.ErrInvalidArgument),
			"Codec", "EncodeChunk", "length validation")
	}

	// Validate the whole chunk before writing a single byte, so a
	// mismatch mid-chunk cannot leave a truncated payload.
	for _, v := range values {
		if err := c.CheckValues(v); err != nil {
			return nil, err
		}
	}

	buf := binary.LittleEndian.AppendUint32(nil, uint32(len(values)))
	var err error
	for i, v := range values {
		if buf, err = c.AppendSample(buf, v, timestamps[i]); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// minSampleBytes is the smallest encoding one sample can have: the
// timestamp plus each channel's value, where a string value is at
// least its empty-string length prefix.
func (c Codec) minSampleBytes() int {
	per := c.format.SizeBytes()
	if c.format == descriptor.String {
		per = 4
	}
	return 8 + c.channels*per
}

// DecodeChunk decodes a chunk payload back into samples and their
// timestamps.
func (c Codec) DecodeChunk(data []byte) ([]any, []float64, error) {
	if len(data) < 4 {
		return nil, nil, c.truncated("chunk header")
	}
	count := int(binary.LittleEndian.Uint32(data))
	pos := 4

	// The count arrives off the network; reject it before allocating
	// when the payload cannot possibly hold that many samples.
	if count > (len(data)-pos)/c.minSampleBytes() {
		return nil, nil, errors.WrapInvalid(
			fmt.Errorf("chunk declares %d samples in %d bytes: %w",
				count, len(data), errors.ErrInvalidArgument),
			"Codec", "DecodeChunk", "count validation")
	}

	values := make([]any, 0, count)
	timestamps := make([]float64, 0, count)
	for i := 0; i < count; i++ {
		v, ts, n, err := c.DecodeSample(data[pos:])
		if err != nil {
			return nil, nil, err
		}
		values = append(values, v)
		timestamps = append(timestamps, ts)
		pos += n
	}
	return values, timestamps, nil
}
