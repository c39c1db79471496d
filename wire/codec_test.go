package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/descriptor"
	"github.com/c360/labstream/errors"
)

func TestCodecRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		format descriptor.ChannelFormat
		values any
	}{
		{"float32", descriptor.Float32, []float32{1.5, -2.25, 3}},
		{"double64", descriptor.Double64, []float64{1.000000001, -9e100, 0}},
		{"string", descriptor.String, []string{"hello", "", "wörld"}},
		{"int32", descriptor.Int32, []int32{-1, 0, 1 << 30}},
		{"int16", descriptor.Int16, []int16{-32768, 0, 32767}},
		{"int8", descriptor.Int8, []int8{-128, 0, 127}},
		{"int64", descriptor.Int64, []int64{-1, 0, 1 << 62}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewCodec(tt.format, 3)
			require.NoError(t, err)

			buf, err := c.AppendSample(nil, tt.values, 12.345)
			require.NoError(t, err)

			got, ts, n, err := c.DecodeSample(buf)
			require.NoError(t, err)
			assert.Equal(t, tt.values, got)
			assert.Equal(t, 12.345, ts)
			assert.Equal(t, len(buf), n)
		})
	}
}

func TestCodecRejectsMismatchedValues(t *testing.T) {
	c, err := NewCodec(descriptor.Float32, 3)
	require.NoError(t, err)

	// Wrong length: channel count mismatch.
	buf, err := c.AppendSample(nil, []float32{1, 2}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Empty(t, buf, "nothing may be written on error")

	// Wrong element type.
	_, err = c.AppendSample(nil, []int32{1, 2, 3}, 0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestCodecConstructorValidation(t *testing.T) {
	_, err := NewCodec(descriptor.Undefined, 3)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))

	_, err = NewCodec(descriptor.Float32, 0)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestCodecInt64Capability(t *testing.T) {
	orig := SupportsInt64
	defer func() { SupportsInt64 = orig }()

	SupportsInt64 = false
	_, err := NewCodec(descriptor.Int64, 2)
	require.Error(t, err)
	assert.True(t, errors.IsNotSupported(err))

	SupportsInt64 = true
	_, err = NewCodec(descriptor.Int64, 2)
	require.NoError(t, err)
}

func TestCodecStringOwnership(t *testing.T) {
	c, err := NewCodec(descriptor.String, 1)
	require.NoError(t, err)

	buf, err := c.AppendSample(nil, []string{"marker"}, 1)
	require.NoError(t, err)

	got, _, _, err := c.DecodeSample(buf)
	require.NoError(t, err)

	// Scribbling over the wire buffer must not change the sample.
	for i := range buf {
		buf[i] = 0xFF
	}
	assert.Equal(t, []string{"marker"}, got)
}

func TestCodecTruncatedPayloads(t *testing.T) {
	c, err := NewCodec(descriptor.Float32, 4)
	require.NoError(t, err)

	buf, err := c.AppendSample(nil, []float32{1, 2, 3, 4}, 0)
	require.NoError(t, err)

	for cut := 0; cut < len(buf); cut++ {
		_, _, _, err := c.DecodeSample(buf[:cut])
		require.Error(t, err, "cut at %d should fail", cut)
		assert.True(t, errors.IsInvalidArgument(err))
	}
}

func TestChunkRoundTrip(t *testing.T) {
	c, err := NewCodec(descriptor.Int16, 2)
	require.NoError(t, err)

	values := []any{
		[]int16{1, 2},
		[]int16{3, 4},
		[]int16{5, 6},
	}
	timestamps := []float64{1.0, 1.01, 1.02}

	payload, err := c.EncodeChunk(values, timestamps)
	require.NoError(t, err)

	gotValues, gotStamps, err := c.DecodeChunk(payload)
	require.NoError(t, err)
	assert.Equal(t, values, gotValues)
	assert.Equal(t, timestamps, gotStamps)
}

func TestChunkRejectedBeforeAnyByteWritten(t *testing.T) {
	c, err := NewCodec(descriptor.Float32, 2)
	require.NoError(t, err)

	// Third sample has the wrong width: the whole chunk is refused.
	values := []any{
		[]float32{1, 2},
		[]float32{3, 4},
		[]float32{5},
	}
	payload, err := c.EncodeChunk(values, []float64{1, 2, 3})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
	assert.Nil(t, payload)

	// Timestamp count mismatch.
	_, err = c.EncodeChunk(values[:2], []float64{1})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestChunkCountBeyondPayloadRejected(t *testing.T) {
	c, err := NewCodec(descriptor.Float32, 1)
	require.NoError(t, err)

	// A header-only payload claiming the maximum count must fail with
	// a decode error, not attempt a matching allocation.
	header := binary.LittleEndian.AppendUint32(nil, 0xFFFFFFFF)
	_, _, err = c.DecodeChunk(header)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))

	// One declared sample short of its encoding is rejected too.
	payload, err := c.EncodeChunk([]any{[]float32{7}}, []float64{1})
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(payload, 2)
	_, _, err = c.DecodeChunk(payload)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))

	// Strings have no fixed width; the bound still holds.
	sc, err := NewCodec(descriptor.String, 2)
	require.NoError(t, err)
	_, _, err = sc.DecodeChunk(binary.LittleEndian.AppendUint32(nil, 1<<20))
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestEmptyChunk(t *testing.T) {
	c, err := NewCodec(descriptor.Float32, 2)
	require.NoError(t, err)

	payload, err := c.EncodeChunk(nil, nil)
	require.NoError(t, err)

	values, stamps, err := c.DecodeChunk(payload)
	require.NoError(t, err)
	assert.Empty(t, values)
	assert.Empty(t, stamps)
}
