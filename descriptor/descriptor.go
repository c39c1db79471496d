package descriptor

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/c360/labstream/errors"
	"github.com/c360/labstream/pkg/clock"
)

// ProtocolVersion is the stream protocol version: major*100 + minor.
// Peers with different major versions refuse to interoperate; minor
// versions are compatible.
const ProtocolVersion = 110

// IrregularRate marks a stream without a regular sampling rate.
const IrregularRate = 0.0

// StreamDescriptor stores the declaration of a data stream. The core
// fields are immutable for the descriptor's lifetime: every sample
// transmitted under it has exactly ChannelCount values of Format.
// Hosting fields are assigned once when the descriptor is bound to an
// outlet. The extended description tree carries channel metadata and
// arbitrary vendor sections.
type StreamDescriptor struct {
	// core
	name         string
	streamType   string
	channelCount int
	nominalRate  float64
	format       ChannelFormat
	sourceID     string

	// hosting, assigned on Bind
	version   int
	createdAt float64
	uid       string
	sessionID string
	hostname  string

	// endpoint is a resolver annotation, not part of the XML form:
	// the host:port of the outlet's data listener.
	endpoint string

	desc *DescriptionTree
}

// New declares a stream. The name must be non-empty and describes the
// device or source; streamType is the content type (such as "EEG");
// channelCount is fixed for the descriptor's lifetime; nominalRate is
// the sampling rate in Hz or IrregularRate; format is the element type
// of all channel values; sourceID is an optional stable identifier of
// the producing device that enables session recovery after restarts.
func New(name, streamType string, channelCount int, nominalRate float64,
	format ChannelFormat, sourceID string) (*StreamDescriptor, error) {

	if name == "" {
		return nil, errors.WrapInvalid(errors.ErrEmptyName,
			"StreamDescriptor", "New", "name validation")
	}
	if channelCount < 1 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("channel count %d, need at least 1: %w", channelCount, errors.ErrInvalidArgument),
			"StreamDescriptor", "New", "channel count validation")
	}
	if nominalRate < 0 {
		return nil, errors.WrapInvalid(
			fmt.Errorf("nominal rate %g must not be negative: %w", nominalRate, errors.ErrInvalidArgument),
			"StreamDescriptor", "New", "rate validation")
	}
	if !format.Valid() {
		return nil, errors.WrapInvalid(errors.ErrInvalidFormat,
			"StreamDescriptor", "New", "format validation")
	}

	return &StreamDescriptor{
		name:         name,
		streamType:   streamType,
		channelCount: channelCount,
		nominalRate:  nominalRate,
		format:       format,
		sourceID:     sourceID,
		desc:         NewTree("desc"),
	}, nil
}

// Name returns the stream name.
func (d *StreamDescriptor) Name() string { return d.name }

// Type returns the content type of the stream.
func (d *StreamDescriptor) Type() string { return d.streamType }

// ChannelCount returns the number of values per sample.
func (d *StreamDescriptor) ChannelCount() int { return d.channelCount }

// NominalRate returns the declared sampling rate in Hz, or
// IrregularRate for streams without one.
func (d *StreamDescriptor) NominalRate() float64 { return d.nominalRate }

// Format returns the element type of all channel values.
func (d *StreamDescriptor) Format() ChannelFormat { return d.format }

// SourceID returns the stable source identifier, or "" if none was
// declared.
func (d *StreamDescriptor) SourceID() string { return d.sourceID }

// Version returns the protocol version the descriptor was bound with,
// or 0 before binding.
func (d *StreamDescriptor) Version() int { return d.version }

// CreatedAt returns the local clock reading at binding time.
func (d *StreamDescriptor) CreatedAt() float64 { return d.createdAt }

// UID returns the unique identifier of the bound stream instance.
// Distinct on every outlet creation, even for the same source.
func (d *StreamDescriptor) UID() string { return d.uid }

// SessionID returns the session grouping identifier.
func (d *StreamDescriptor) SessionID() string { return d.sessionID }

// Hostname returns the host the bound outlet runs on.
func (d *StreamDescriptor) Hostname() string { return d.hostname }

// Bound reports whether hosting fields have been assigned.
func (d *StreamDescriptor) Bound() bool { return d.uid != "" }

// Endpoint returns the host:port of the outlet's data listener, as
// annotated by the resolver, or "" if unknown.
func (d *StreamDescriptor) Endpoint() string { return d.endpoint }

// SetEndpoint annotates the descriptor with the outlet's data
// endpoint. The endpoint is runtime-only and never serialized.
func (d *StreamDescriptor) SetEndpoint(ep string) { d.endpoint = ep }

// Desc returns the root of the extended description tree.
func (d *StreamDescriptor) Desc() Node { return d.desc.Root() }

// Bind returns a copy with hosting fields assigned: a fresh instance
// UID, the current protocol version and clock reading, and the given
// hostname and session id. The original descriptor is not modified.
func (d *StreamDescriptor) Bind(hostname, sessionID string) *StreamDescriptor {
	bound := d.Clone()
	bound.version = ProtocolVersion
	bound.createdAt = clock.Now()
	bound.uid = uuid.NewString()
	bound.sessionID = sessionID
	bound.hostname = hostname
	return bound
}

// Clone returns a deep copy of the descriptor including its
// description tree.
func (d *StreamDescriptor) Clone() *StreamDescriptor {
	c := *d
	if d.desc != nil {
		c.desc = d.desc.Clone()
	} else {
		c.desc = NewTree("desc")
	}
	return &c
}

// SampleBytes returns the wire size of one sample, or 0 for
// variable-length formats.
func (d *StreamDescriptor) SampleBytes() int {
	return d.format.SizeBytes() * d.channelCount
}
