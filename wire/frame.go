package wire

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/c360/labstream/errors"
)

// FrameType identifies the payload carried by one session frame.
type FrameType byte

// Session frame types. Hello/HelloAck open a session by exchanging
// descriptor XML; Sample and Chunk carry data; ClockPing/ClockPong run
// time probes over the same connection; Bye announces an orderly
// shutdown. FullInfoRequest asks the producer for the complete
// descriptor including the extended metadata subtree.
const (
	FrameHello FrameType = iota + 1
	FrameHelloAck
	FrameSample
	FrameChunk
	FrameHeartbeat
	FrameClockPing
	FrameClockPong
	FrameBye
	FrameFullInfoRequest
	FrameFullInfo
)

func (t FrameType) String() string {
	switch t {
	case FrameHello:
		return "hello"
	case FrameHelloAck:
		return "hello-ack"
	case FrameSample:
		return "sample"
	case FrameChunk:
		return "chunk"
	case FrameHeartbeat:
		return "heartbeat"
	case FrameClockPing:
		return "clock-ping"
	case FrameClockPong:
		return "clock-pong"
	case FrameBye:
		return "bye"
	case FrameFullInfoRequest:
		return "full-info-request"
	case FrameFullInfo:
		return "full-info"
	}
	return fmt.Sprintf("frame(%d)", byte(t))
}

// frameMagic opens every frame so a desynchronized reader fails fast
// instead of interpreting payload bytes as a header.
var frameMagic = [2]byte{'L', 'S'}

const frameHeaderLen = 2 + 1 + 4 // magic, type, payload length

// FrameWriter writes length-prefixed frames to one connection. It is
// not safe for concurrent use; sessions serialize writes through a
// single sender goroutine.
type FrameWriter struct {
	w      *bufio.Writer
	header [frameHeaderLen]byte
}

// NewFrameWriter wraps w with frame encoding and an output buffer.
func NewFrameWriter(w io.Writer) *FrameWriter {
	fw := &FrameWriter{w: bufio.NewWriter(w)}
	fw.header[0] = frameMagic[0]
	fw.header[1] = frameMagic[1]
	return fw
}

// WriteFrame writes one frame and flushes it to the connection.
func (fw *FrameWriter) WriteFrame(frameType FrameType, payload []byte) error {
	fw.header[2] = byte(frameType)
	binary.LittleEndian.PutUint32(fw.header[3:], uint32(len(payload)))
	if _, err := fw.w.Write(fw.header[:]); err != nil {
		return errors.Wrap(err, "FrameWriter", "WriteFrame", "header write failed")
	}
	if _, err := fw.w.Write(payload); err != nil {
		return errors.Wrap(err, "FrameWriter", "WriteFrame", "payload write failed")
	}
	if err := fw.w.Flush(); err != nil {
		return errors.Wrap(err, "FrameWriter", "WriteFrame", "flush failed")
	}
	return nil
}

// FrameReader reads length-prefixed frames from one connection.
// Not safe for concurrent use.
type FrameReader struct {
	r        *bufio.Reader
	maxBytes int
}

// NewFrameReader wraps r with frame decoding. Frames whose declared
// payload exceeds maxBytes are rejected rather than allocated.
func NewFrameReader(r io.Reader, maxBytes int) *FrameReader {
	return &FrameReader{r: bufio.NewReader(r), maxBytes: maxBytes}
}

// ReadFrame reads the next frame. The returned payload is freshly
// allocated and owned by the caller.
func (fr *FrameReader) ReadFrame() (FrameType, []byte, error) {
	var header [frameHeaderLen]byte
	if _, err := io.ReadFull(fr.r, header[:]); err != nil {
		return 0, nil, errors.Wrap(err, "FrameReader", "ReadFrame", "header read failed")
	}
	if header[0] != frameMagic[0] || header[1] != frameMagic[1] {
		return 0, nil, errors.WrapInvalid(
			fmt.Errorf("bad frame magic %q: %w", header[:2], errors.ErrInvalidArgument),
			"FrameReader", "ReadFrame", "magic validation")
	}
	frameType := FrameType(header[2])
	length := int(binary.LittleEndian.Uint32(header[3:]))
	if length > fr.maxBytes {
		return 0, nil, errors.WrapInvalid(
			fmt.Errorf("frame of %d bytes exceeds limit %d: %w",
				length, fr.maxBytes, errors.ErrInvalidArgument),
			"FrameReader", "ReadFrame", "length validation")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		return 0, nil, errors.Wrap(err, "FrameReader", "ReadFrame", "payload read failed")
	}
	return frameType, payload, nil
}

// EncodeClockPing packs a clock probe: the sender's local clock reading
// at transmit time.
func EncodeClockPing(t0 float64) []byte {
	return binary.LittleEndian.AppendUint64(nil, math.Float64bits(t0))
}

// DecodeClockPing unpacks a clock probe payload.
func DecodeClockPing(payload []byte) (float64, error) {
	if len(payload) != 8 {
		return 0, errors.WrapInvalid(
			fmt.Errorf("clock ping payload of %d bytes: %w", len(payload), errors.ErrInvalidArgument),
			"wire", "DecodeClockPing", "payload validation")
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(payload)), nil
}

// EncodeClockPong packs a clock probe reply: the echoed t0 from the
// ping plus the responder's local clock at receipt.
func EncodeClockPong(t0Echo, tRemote float64) []byte {
	buf := binary.LittleEndian.AppendUint64(nil, math.Float64bits(t0Echo))
	return binary.LittleEndian.AppendUint64(buf, math.Float64bits(tRemote))
}

// DecodeClockPong unpacks a clock probe reply.
func DecodeClockPong(payload []byte) (t0Echo, tRemote float64, err error) {
	if len(payload) != 16 {
		return 0, 0, errors.WrapInvalid(
			fmt.Errorf("clock pong payload of %d bytes: %w", len(payload), errors.ErrInvalidArgument),
			"wire", "DecodeClockPong", "payload validation")
	}
	t0Echo = math.Float64frombits(binary.LittleEndian.Uint64(payload))
	tRemote = math.Float64frombits(binary.LittleEndian.Uint64(payload[8:]))
	return t0Echo, tRemote, nil
}
