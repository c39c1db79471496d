// Package errors provides the standardized failure taxonomy for the
// labstream engine. It includes error kinds, standard error variables,
// helper functions for consistent wrapping and classification, and the
// numeric wire codes exchanged with language bindings.
package errors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for handling purposes.
type Kind int

const (
	// KindUnknown represents failures that could not be classified
	KindUnknown Kind = iota
	// KindTimeout represents an operation whose deadline elapsed
	KindTimeout
	// KindLost represents a remote stream source that is unreachable
	// and not recoverable
	KindLost
	// KindInvalidArgument represents malformed input such as a bad
	// descriptor, a mismatched channel count, or an invalid format
	KindInvalidArgument
	// KindInternal represents an engine-side invariant violation
	KindInternal
	// KindNotSupported represents a format or feature unavailable on
	// this build or platform
	KindNotSupported
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindLost:
		return "lost"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindInternal:
		return "internal"
	case KindNotSupported:
		return "not_supported"
	default:
		return "unknown"
	}
}

// Numeric codes used on the binding boundary. Zero is success, any
// negative value not listed here is reported as KindUnknown.
const (
	CodeOK              = 0
	CodeTimeout         = -1
	CodeLost            = -2
	CodeInvalidArgument = -3
	CodeInternal        = -4
	CodeNotSupported    = -5
)

// Standard error variables for common conditions
var (
	// Deadline and liveness errors
	ErrTimeout      = errors.New("operation timed out")
	ErrLost         = errors.New("stream source lost")
	ErrNoConsumers  = errors.New("no consumers connected")
	ErrNotConnected = errors.New("stream not connected")

	// Argument and descriptor errors
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidFormat    = errors.New("invalid channel format")
	ErrChannelMismatch  = errors.New("value count does not match channel count")
	ErrEmptyName        = errors.New("stream name must not be empty")
	ErrInvalidPredicate = errors.New("malformed resolver predicate")

	// Engine and lifecycle errors
	ErrInternal       = errors.New("internal engine error")
	ErrEngineClosed   = errors.New("engine already closed")
	ErrStreamClosed   = errors.New("stream already closed")
	ErrResolverClosed = errors.New("resolver already closed")

	// Capability errors
	ErrNotSupported     = errors.New("feature not supported")
	ErrInt64Unsupported = errors.New("int64 transmission not supported on this build")
)

// ClassifiedError wraps an error with its kind and origin.
type ClassifiedError struct {
	Kind      Kind
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// KindOf returns the kind of an error. Sentinel errors map to their
// natural kind; wrapped classified errors keep the kind they were
// wrapped with; everything else is KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}

	switch {
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrLost):
		return KindLost
	case errors.Is(err, ErrInvalidArgument),
		errors.Is(err, ErrInvalidFormat),
		errors.Is(err, ErrChannelMismatch),
		errors.Is(err, ErrEmptyName),
		errors.Is(err, ErrInvalidPredicate):
		return KindInvalidArgument
	case errors.Is(err, ErrNotSupported),
		errors.Is(err, ErrInt64Unsupported):
		return KindNotSupported
	case errors.Is(err, ErrInternal),
		errors.Is(err, ErrEngineClosed),
		errors.Is(err, ErrStreamClosed),
		errors.Is(err, ErrResolverClosed):
		return KindInternal
	default:
		return KindUnknown
	}
}

// IsTimeout checks if an error represents an elapsed deadline
func IsTimeout(err error) bool {
	return err != nil && KindOf(err) == KindTimeout
}

// IsLost checks if an error represents an unrecoverable source loss
func IsLost(err error) bool {
	return err != nil && KindOf(err) == KindLost
}

// IsInvalidArgument checks if an error is due to invalid input
func IsInvalidArgument(err error) bool {
	return err != nil && KindOf(err) == KindInvalidArgument
}

// IsInternal checks if an error is an engine-side invariant violation
func IsInternal(err error) bool {
	return err != nil && KindOf(err) == KindInternal
}

// IsNotSupported checks if an error marks an unavailable capability
func IsNotSupported(err error) bool {
	return err != nil && KindOf(err) == KindNotSupported
}

// Code maps an error to its numeric wire code.
func Code(err error) int {
	if err == nil {
		return CodeOK
	}
	switch KindOf(err) {
	case KindTimeout:
		return CodeTimeout
	case KindLost:
		return CodeLost
	case KindInvalidArgument:
		return CodeInvalidArgument
	case KindNotSupported:
		return CodeNotSupported
	default:
		return CodeInternal
	}
}

// FromCode maps a numeric wire code back to a sentinel error. Code 0
// maps to nil; unlisted negative codes map to ErrInternal wrapped with
// the original code for diagnostics.
func FromCode(code int) error {
	switch code {
	case CodeOK:
		return nil
	case CodeTimeout:
		return ErrTimeout
	case CodeLost:
		return ErrLost
	case CodeInvalidArgument:
		return ErrInvalidArgument
	case CodeNotSupported:
		return ErrNotSupported
	case CodeInternal:
		return ErrInternal
	default:
		return fmt.Errorf("unknown error code %d: %w", code, ErrInternal)
	}
}

// newClassified creates a new classified error.
// This is an internal helper - use the Wrap* functions instead.
func newClassified(kind Kind, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Kind:      kind,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// wrapKind wraps an error with a kind and context
func wrapKind(kind Kind, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(kind, wrappedErr, component, method, wrappedErr.Error())
}

// WrapTimeout wraps an error as a deadline failure with context
func WrapTimeout(err error, component, method, action string) error {
	return wrapKind(KindTimeout, err, component, method, action)
}

// WrapLost wraps an error as an unrecoverable source loss with context
func WrapLost(err error, component, method, action string) error {
	return wrapKind(KindLost, err, component, method, action)
}

// WrapInvalid wraps an error as invalid input with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapKind(KindInvalidArgument, err, component, method, action)
}

// WrapInternal wraps an error as an engine invariant violation with context
func WrapInternal(err error, component, method, action string) error {
	return wrapKind(KindInternal, err, component, method, action)
}

// WrapNotSupported wraps an error as a missing capability with context
func WrapNotSupported(err error, component, method, action string) error {
	return wrapKind(KindNotSupported, err, component, method, action)
}
