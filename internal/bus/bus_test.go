package bus

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/models"
)

func event(id, tenant string) models.IngestionEvent {
	return models.IngestionEvent{EventID: id, TenantID: tenant, RawType: "x"}
}

// All of one tenant's events land on one partition, in publish order.
func TestPublishPartitionOrdering(t *testing.T) {
	b := NewInproc(4, 16)
	defer b.Close()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		require.NoError(t, b.Publish(ctx, event(fmt.Sprintf("e%d", i), "acme")))
	}

	p := b.partitionFor("acme")
	for i := 0; i < 10; i++ {
		ev := <-b.Receive(p)
		require.Equal(t, fmt.Sprintf("e%d", i), ev.EventID)
	}
}

func TestPartitionForDeterministic(t *testing.T) {
	b := NewInproc(8, 0)
	defer b.Close()

	p := b.partitionFor("acme")
	for i := 0; i < 100; i++ {
		require.Equal(t, p, b.partitionFor("acme"))
	}

	// Tenantless events are routed, not dropped.
	require.Equal(t, 0, b.partitionFor(""))
}

func TestPublishAfterClose(t *testing.T) {
	b := NewInproc(2, 4)
	b.Close()

	err := b.Publish(context.Background(), event("e1", "acme"))
	require.ErrorIs(t, err, ErrClosed)
}

func TestPublishHonorsContext(t *testing.T) {
	b := NewInproc(1, 0)
	defer b.Close()

	// Unbuffered partition with no consumer: Publish must respect the deadline.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := b.Publish(ctx, event("e1", "acme"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

// Close lets consumers drain what is buffered, then the channels end.
func TestCloseDrains(t *testing.T) {
	b := NewInproc(1, 4)

	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, event("e1", "acme")))
	require.NoError(t, b.Publish(ctx, event("e2", "acme")))
	b.Close()

	var got []string
	for ev := range b.Receive(0) {
		got = append(got, ev.EventID)
	}
	require.Equal(t, []string{"e1", "e2"}, got)
}

func TestNewInprocClamps(t *testing.T) {
	b := NewInproc(0, -5)
	defer b.Close()
	require.Equal(t, 1, b.Partitions())
}
