// Package buffer provides the thread-safe sample buffers used by the
// transport layer: a circular Ring with configurable overflow policies
// for inlet receive queues, and a FanoutRing with independent consumer
// cursors for outlet fan-out.
//
// # Ring
//
// Ring is a generic circular buffer. When full, behavior follows the
// configured OverflowPolicy:
//
//   - DropOldest: evict the oldest item to make room (default — this is
//     the transport's eviction contract for slow consumers)
//   - DropNewest: reject new items when full
//   - Block: writers wait for available space
//
// Readers may poll (Read, ReadBatch) or block with a bounded wait
// (ReadWait, ReadBatchWait); a zero timeout is a non-blocking poll.
//
// # FanoutRing
//
// FanoutRing is written by a single producer and read through any
// number of attached cursors. Each cursor advances independently; a
// cursor that falls more than the ring's capacity behind the writer
// loses the oldest unread items. Eviction is per-cursor and never
// exerts back-pressure on the writer.
//
// # Observability
//
// Both buffers always collect Statistics via atomic counters. The
// WithMetrics option additionally exports the counters as Prometheus
// metrics through a metric.MetricsRegistry.
package buffer
