package buffer

import (
	"github.com/c360/labstream/metric"
)

// OverflowPolicy controls what happens when a full Ring is written to.
type OverflowPolicy int

const (
	// DropOldest evicts the oldest item to make room (default)
	DropOldest OverflowPolicy = iota
	// DropNewest rejects the incoming item when full
	DropNewest
	// Block makes writers wait for available space
	Block
)

// DropCallback is invoked with each item dropped by the overflow policy.
type DropCallback[T any] func(item T)

// Option configures buffer behavior using the functional options pattern.
type Option[T any] func(*options[T])

// options holds internal configuration for buffer instances.
// Stats are always collected; Prometheus export is opt-in.
type options[T any] struct {
	overflowPolicy OverflowPolicy
	dropCallback   DropCallback[T]

	// metricsReg is optional - if provided, buffer stats are also
	// exported as Prometheus metrics under the given component label
	metricsReg *metric.MetricsRegistry
	component  string
}

// WithOverflowPolicy sets the overflow behavior for the buffer.
// Defaults to DropOldest if not specified.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(opts *options[T]) {
		opts.overflowPolicy = policy
	}
}

// WithMetrics enables Prometheus metrics export for buffer statistics.
// If registry is nil or component is empty, this option is ignored.
func WithMetrics[T any](registry *metric.MetricsRegistry, component string) Option[T] {
	return func(opts *options[T]) {
		if registry != nil && component != "" {
			opts.metricsReg = registry
			opts.component = component
		}
	}
}

// WithDropCallback sets a callback invoked with each dropped item.
func WithDropCallback[T any](callback DropCallback[T]) Option[T] {
	return func(opts *options[T]) {
		opts.dropCallback = callback
	}
}

func applyOptions[T any](opts ...Option[T]) *options[T] {
	o := &options[T]{
		overflowPolicy: DropOldest,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}
