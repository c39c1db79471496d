package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindString(t *testing.T) {
	tests := []struct {
		kind Kind
		want string
	}{
		{KindTimeout, "timeout"},
		{KindLost, "lost"},
		{KindInvalidArgument, "invalid_argument"},
		{KindInternal, "internal"},
		{KindNotSupported, "not_supported"},
		{KindUnknown, "unknown"},
		{Kind(42), "unknown"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.kind.String())
	}
}

func TestKindOfSentinels(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"timeout", ErrTimeout, KindTimeout},
		{"lost", ErrLost, KindLost},
		{"invalid argument", ErrInvalidArgument, KindInvalidArgument},
		{"channel mismatch", ErrChannelMismatch, KindInvalidArgument},
		{"empty name", ErrEmptyName, KindInvalidArgument},
		{"bad predicate", ErrInvalidPredicate, KindInvalidArgument},
		{"not supported", ErrNotSupported, KindNotSupported},
		{"int64 unsupported", ErrInt64Unsupported, KindNotSupported},
		{"internal", ErrInternal, KindInternal},
		{"engine closed", ErrEngineClosed, KindInternal},
		{"plain error", fmt.Errorf("something else"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestKindOfWrapped(t *testing.T) {
	// Wrapping must preserve the kind through fmt.Errorf chains.
	err := WrapLost(ErrNotConnected, "Inlet", "PullSample", "read frame")
	wrapped := fmt.Errorf("outer context: %w", err)

	assert.Equal(t, KindLost, KindOf(wrapped))
	assert.True(t, IsLost(wrapped))
	assert.False(t, IsTimeout(wrapped))
}

func TestWrapFormatsMessage(t *testing.T) {
	err := WrapInvalid(ErrChannelMismatch, "Outlet", "PushSample", "value validation")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Outlet.PushSample: value validation failed")
	assert.ErrorIs(t, err, ErrChannelMismatch)
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, "c", "m", "a"))
	assert.NoError(t, WrapTimeout(nil, "c", "m", "a"))
	assert.NoError(t, WrapLost(nil, "c", "m", "a"))
	assert.NoError(t, WrapInvalid(nil, "c", "m", "a"))
	assert.NoError(t, WrapInternal(nil, "c", "m", "a"))
	assert.NoError(t, WrapNotSupported(nil, "c", "m", "a"))
}

func TestCodeRoundTrip(t *testing.T) {
	tests := []struct {
		err  error
		code int
	}{
		{nil, CodeOK},
		{ErrTimeout, CodeTimeout},
		{ErrLost, CodeLost},
		{ErrInvalidArgument, CodeInvalidArgument},
		{ErrNotSupported, CodeNotSupported},
		{ErrInternal, CodeInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.code, Code(tt.err))
		if tt.err == nil {
			assert.NoError(t, FromCode(tt.code))
		} else {
			assert.ErrorIs(t, FromCode(tt.code), tt.err)
		}
	}
}

func TestCodeUnknownKindMapsToInternal(t *testing.T) {
	assert.Equal(t, CodeInternal, Code(fmt.Errorf("mystery failure")))
}

func TestFromCodeUnknown(t *testing.T) {
	err := FromCode(-99)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.Contains(t, err.Error(), "-99")
}

func TestClassifiedErrorCarriesOrigin(t *testing.T) {
	err := WrapInternal(ErrInternal, "Engine", "Close", "socket teardown")

	var ce *ClassifiedError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "Engine", ce.Component)
	assert.Equal(t, "Close", ce.Operation)
	assert.Equal(t, KindInternal, ce.Kind)
}
