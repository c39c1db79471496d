package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/labstream/errors"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)

	require.NoError(t, w.WriteFrame(FrameHello, []byte("<info/>")))
	require.NoError(t, w.WriteFrame(FrameHeartbeat, nil))
	require.NoError(t, w.WriteFrame(FrameSample, []byte{1, 2, 3}))

	r := NewFrameReader(&buf, 1<<20)

	ft, payload, err := r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FrameHello, ft)
	assert.Equal(t, []byte("<info/>"), payload)

	ft, payload, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FrameHeartbeat, ft)
	assert.Empty(t, payload)

	ft, payload, err = r.ReadFrame()
	require.NoError(t, err)
	assert.Equal(t, FrameSample, ft)
	assert.Equal(t, []byte{1, 2, 3}, payload)
}

func TestFrameReaderRejectsBadMagic(t *testing.T) {
	r := NewFrameReader(bytes.NewReader([]byte("XX\x01\x00\x00\x00\x00")), 1<<20)
	_, _, err := r.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestFrameReaderEnforcesSizeLimit(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.WriteFrame(FrameChunk, make([]byte, 128)))

	r := NewFrameReader(&buf, 64)
	_, _, err := r.ReadFrame()
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestFrameReaderTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf)
	require.NoError(t, w.WriteFrame(FrameSample, []byte{1, 2, 3, 4}))

	data := buf.Bytes()
	r := NewFrameReader(bytes.NewReader(data[:len(data)-2]), 1<<20)
	_, _, err := r.ReadFrame()
	require.Error(t, err)
}

func TestClockProbeEncoding(t *testing.T) {
	ping := EncodeClockPing(123.456)
	t0, err := DecodeClockPing(ping)
	require.NoError(t, err)
	assert.Equal(t, 123.456, t0)

	pong := EncodeClockPong(123.456, 789.012)
	t0Echo, tRemote, err := DecodeClockPong(pong)
	require.NoError(t, err)
	assert.Equal(t, 123.456, t0Echo)
	assert.Equal(t, 789.012, tRemote)

	_, err = DecodeClockPing([]byte{1, 2})
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))

	_, _, err = DecodeClockPong(ping)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidArgument(err))
}

func TestFrameTypeStrings(t *testing.T) {
	assert.Equal(t, "hello", FrameHello.String())
	assert.Equal(t, "chunk", FrameChunk.String())
	assert.Equal(t, "bye", FrameBye.String())
	assert.Equal(t, "frame(99)", FrameType(99).String())
}
