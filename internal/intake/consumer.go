// Package intake consumes ingestion events from the bus and drives the
// exception pipeline: normalize, create exactly once, resolve tenant
// policy, match a playbook. It is the only writer of exception records.
package intake

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/dotcommander/exceptd/internal/bus"
	"github.com/dotcommander/exceptd/internal/catalog"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/playbook"
	"github.com/dotcommander/exceptd/internal/policy"
	"github.com/dotcommander/exceptd/internal/store"
)

// malformedEventError marks validation failures that must dead-letter
// immediately instead of retrying.
type malformedEventError struct {
	field string
}

func (e *malformedEventError) Error() string {
	return fmt.Sprintf("malformed ingestion event: missing %s", e.field)
}

// Consumer orchestrates the pipeline. One worker runs per bus partition, so
// events within a partition (one tenant's stream) process in delivery order
// while partitions proceed in parallel.
type Consumer struct {
	DB       *sql.DB
	Bus      *bus.Inproc
	Catalog  *catalog.Service
	Resolver *policy.Resolver

	// MaxElapsed bounds transient-failure retries per event before the
	// event is dead-lettered. Zero means the default.
	MaxElapsed time.Duration

	// MaxAttempts caps retry attempts per event within MaxElapsed. Zero
	// means the default.
	MaxAttempts int

	// ResolveTimeout bounds the policy cache population wait per event.
	// Zero means the default.
	ResolveTimeout time.Duration
}

const (
	defaultMaxElapsed     = 5 * time.Second
	defaultMaxAttempts    = 5
	defaultResolveTimeout = 2 * time.Second
)

// Run starts one worker per partition and blocks until the bus closes or
// ctx is canceled. Workers stop only between events: an in-flight event is
// either fully processed or not consumed at all, so redelivery is safe.
func (c *Consumer) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.Bus.Partitions(); i++ {
		partition := i
		g.Go(func() error {
			return c.runWorker(ctx, partition)
		})
	}
	return g.Wait()
}

func (c *Consumer) runWorker(ctx context.Context, partition int) error {
	deliveries := c.Bus.Receive(partition)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-deliveries:
			if !ok {
				return nil
			}
			if err := c.Process(ctx, ev); err != nil {
				// Process dead-letters everything it cannot handle; an
				// error here means even that failed. Surface it and stop
				// the worker rather than silently losing the event.
				return fmt.Errorf("partition %d: event %s: %w", partition, ev.EventID, err)
			}
		}
	}
}

// Process runs the full pipeline for one event: exactly one logical
// creation, then policy resolution and playbook matching, all before the
// event is considered consumed. Safe to call again with the same event.
func (c *Consumer) Process(ctx context.Context, ev models.IngestionEvent) error {
	if err := validateEvent(ev); err != nil {
		slog.Warn("rejecting malformed ingestion event", "event_id", ev.EventID, "error", err.Error())
		_, dlErr := store.InsertDeadLetter(c.DB, ev, models.DeadLetterReasonMalformed, err.Error())
		return dlErr
	}

	err := c.processValid(ctx, ev)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		// Shutdown, not a poison event: leave it for redelivery.
		return err
	}

	slog.Error("pipeline retries exhausted, dead-lettering event",
		"event_id", ev.EventID, "tenant", ev.TenantID, "error", err.Error())
	_, dlErr := store.InsertDeadLetter(c.DB, ev, models.DeadLetterReasonExhausted, err.Error())
	return dlErr
}

// processValid retries the persistence steps with exponential backoff,
// bounded by MaxElapsed, then gives up so Process can dead-letter.
func (c *Consumer) processValid(ctx context.Context, ev models.IngestionEvent) error {
	maxElapsed := c.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 50 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = maxElapsed

	return backoff.Retry(func() error {
		err := c.pipeline(ctx, ev)
		if err == nil {
			return nil
		}
		var malformed *malformedEventError
		if errors.As(err, &malformed) || ctx.Err() != nil {
			return backoff.Permanent(err)
		}
		return err
	}, backoff.WithMaxRetries(backoff.WithContext(b, ctx), uint64(maxAttempts-1)))
}

func (c *Consumer) pipeline(ctx context.Context, ev models.IngestionEvent) error {
	// Normalization happens here and only here: the bus is the single
	// trust boundary, so every persisted type code went through exactly
	// one transform.
	code := catalog.Normalize(ev.RawType)
	defaultSeverity := c.Catalog.DefaultSeverity(code)

	exc, replayed, err := store.CreateExceptionIdempotent(c.DB, ev, code, defaultSeverity)
	if err != nil {
		return fmt.Errorf("create exception: %w", err)
	}
	if replayed {
		slog.Debug("ingestion event redelivered, replaying creation",
			"event_id", ev.EventID, "exception_id", exc.ID)
	}

	resolveTimeout := c.ResolveTimeout
	if resolveTimeout <= 0 {
		resolveTimeout = defaultResolveTimeout
	}
	rctx, cancel := context.WithTimeout(ctx, resolveTimeout)
	res := c.Resolver.Resolve(rctx, ev.TenantID, code, defaultSeverity)
	cancel()

	if res.Source == models.SeveritySourcePolicyOverride &&
		(exc.Severity != res.Severity || exc.SeveritySource != res.Source) {
		if err := store.ApplySeverityOverride(c.DB, exc.ID, res.Severity, res.PackVersion); err != nil {
			return fmt.Errorf("apply severity override: %w", err)
		}
	}

	pb, err := playbook.Match(c.DB, ev.TenantID, code)
	if err != nil {
		return fmt.Errorf("match playbook: %w", err)
	}
	if pb != nil && exc.PlaybookID != pb.ID {
		if err := store.AssignPlaybook(c.DB, exc.ID, pb.ID); err != nil {
			return fmt.Errorf("assign playbook: %w", err)
		}
	}
	return nil
}

func validateEvent(ev models.IngestionEvent) error {
	if ev.EventID == "" {
		return &malformedEventError{field: "event_id"}
	}
	if ev.TenantID == "" {
		return &malformedEventError{field: "tenant_id"}
	}
	if ev.RawType == "" {
		return &malformedEventError{field: "raw_exception_type"}
	}
	return nil
}
