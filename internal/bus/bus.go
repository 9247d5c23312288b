// Package bus carries ingestion events into the intake pipeline. The Bus
// port is the sole write path into the exception store: producers publish,
// the intake consumer subscribes, and nothing writes exceptions directly.
package bus

import (
	"context"
	"errors"
	"hash/fnv"

	"github.com/dotcommander/exceptd/internal/models"
)

// Bus is the producer-facing port of the event transport. Delivery is
// at-least-once and ordered within a partition; partitioning is by tenant
// so one tenant's events never reorder against each other.
type Bus interface {
	Publish(ctx context.Context, ev models.IngestionEvent) error
}

// ErrClosed is returned by Publish after Close.
var ErrClosed = errors.New("bus is closed")

// Inproc is the in-process reference transport: N buffered channels, one
// per partition. A real broker adapter would implement the same contract;
// the consumer only depends on Partitions/Receive.
type Inproc struct {
	partitions []chan models.IngestionEvent
	done       chan struct{}
}

// NewInproc creates a bus with n partitions and the given per-partition
// buffer. n < 1 is clamped to 1.
func NewInproc(n, buffer int) *Inproc {
	if n < 1 {
		n = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	parts := make([]chan models.IngestionEvent, n)
	for i := range parts {
		parts[i] = make(chan models.IngestionEvent, buffer)
	}
	return &Inproc{partitions: parts, done: make(chan struct{})}
}

// partitionFor hashes the tenant id so all of a tenant's events land on one
// partition. Events without a tenant (malformed; dead-lettered downstream)
// go to partition 0.
func (b *Inproc) partitionFor(tenantID string) int {
	if tenantID == "" {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(tenantID))
	return int(h.Sum32() % uint32(len(b.partitions)))
}

// Publish enqueues an event on its tenant's partition, blocking until the
// partition has room, the context is canceled, or the bus is closed.
func (b *Inproc) Publish(ctx context.Context, ev models.IngestionEvent) error {
	select {
	case <-b.done:
		return ErrClosed
	default:
	}

	select {
	case b.partitions[b.partitionFor(ev.TenantID)] <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-b.done:
		return ErrClosed
	}
}

// Partitions returns the partition count.
func (b *Inproc) Partitions() int {
	return len(b.partitions)
}

// Receive returns the delivery channel for one partition. The channel is
// closed after Close once drained.
func (b *Inproc) Receive(partition int) <-chan models.IngestionEvent {
	return b.partitions[partition]
}

// Close stops accepting publishes and closes the partition channels, so
// consumers drain what is buffered and then stop. Safe to call once.
func (b *Inproc) Close() {
	close(b.done)
	for _, p := range b.partitions {
		close(p)
	}
}
