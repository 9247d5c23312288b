package intake

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dotcommander/exceptd/internal/bus"
	"github.com/dotcommander/exceptd/internal/catalog"
	"github.com/dotcommander/exceptd/internal/models"
	"github.com/dotcommander/exceptd/internal/policy"
	"github.com/dotcommander/exceptd/internal/store"
)

const testCatalogYAML = `
unknown_severity: MEDIUM
entries:
  - raw: ": fin_settlement_fail"
    type_code: FIN_SETTLEMENT_FAIL
    default_severity: HIGH
`

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := store.InitDBWithPath(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testConsumer(t *testing.T, db *sql.DB, partitions int) (*Consumer, *bus.Inproc) {
	t.Helper()
	c, err := catalog.Load([]byte(testCatalogYAML))
	require.NoError(t, err)

	b := bus.NewInproc(partitions, 16)
	consumer := &Consumer{
		DB:             db,
		Bus:            b,
		Catalog:        catalog.NewService(c, time.Minute),
		Resolver:       policy.NewResolver(db, time.Minute, time.Minute),
		MaxElapsed:     500 * time.Millisecond,
		ResolveTimeout: time.Second,
	}
	return consumer, b
}

// runAll publishes events, closes the bus, and waits for the workers to
// drain, mirroring how the CLI drives one pipeline run.
func runAll(t *testing.T, consumer *Consumer, b *bus.Inproc, events ...models.IngestionEvent) {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- consumer.Run(context.Background()) }()

	for _, ev := range events {
		require.NoError(t, b.Publish(context.Background(), ev))
	}
	b.Close()
	require.NoError(t, <-done)
}

func event(id, tenant, rawType string) models.IngestionEvent {
	return models.IngestionEvent{
		EventID:    id,
		TenantID:   tenant,
		RawType:    rawType,
		Payload:    []byte(`{"ref":"ord-1"}`),
		OccurredAt: time.Now().UTC(),
	}
}

// Two messy variants of the same type, with an ACTIVE policy pack lowering
// its severity: both rows come out canonical and overridden.
func TestPipelineNormalizesAndOverrides(t *testing.T) {
	db := testDB(t)
	consumer, b := testConsumer(t, db, 2)

	pack, err := store.CreatePolicyPack(db, "acme")
	require.NoError(t, err)
	require.NoError(t, store.AddPolicyRule(db, pack.ID, models.PolicyOverrideRule{
		TypeCode: "FIN_SETTLEMENT_FAIL", Field: models.OverrideFieldSeverity, Value: "LOW",
	}))
	_, err = consumer.Resolver.Activate(pack.ID)
	require.NoError(t, err)

	runAll(t, consumer, b,
		event("evt-1", "acme", ": fin_settlement_fail"),
		event("evt-2", "acme", "fin_settlement_fail"),
	)

	for _, id := range []string{"evt-1", "evt-2"} {
		exc, err := store.GetExceptionByEventID(db, id)
		require.NoError(t, err)
		require.Equal(t, "FIN_SETTLEMENT_FAIL", exc.TypeCode)
		require.Equal(t, models.SeverityLow, exc.Severity)
		require.Equal(t, models.SeveritySourcePolicyOverride, exc.SeveritySource)
	}

	count, err := store.CountExceptions(db, "acme")
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestPipelineCatalogDefaultWithoutPack(t *testing.T) {
	db := testDB(t)
	consumer, b := testConsumer(t, db, 1)

	runAll(t, consumer, b, event("evt-1", "acme", "fin_settlement_fail"))

	exc, err := store.GetExceptionByEventID(db, "evt-1")
	require.NoError(t, err)
	require.Equal(t, models.SeverityHigh, exc.Severity)
	require.Equal(t, models.SeveritySourceCatalogDefault, exc.SeveritySource)
}

// An uncataloged type fails closed: UNKNOWN code, unknown-severity default.
func TestPipelineUnknownType(t *testing.T) {
	db := testDB(t)
	consumer, b := testConsumer(t, db, 1)

	runAll(t, consumer, b, event("evt-1", "acme", " ::: "))

	exc, err := store.GetExceptionByEventID(db, "evt-1")
	require.NoError(t, err)
	require.True(t, exc.IsUnknownType())
	require.Equal(t, models.SeverityMedium, exc.Severity)
}

// Redelivering an event produces exactly one exception row.
func TestPipelineRedelivery(t *testing.T) {
	db := testDB(t)
	consumer, b := testConsumer(t, db, 1)

	ev := event("evt-dup", "acme", "fin_settlement_fail")
	runAll(t, consumer, b, ev, ev, ev)

	count, err := store.CountExceptions(db, "acme")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestPipelineAssignsPlaybook(t *testing.T) {
	db := testDB(t)
	consumer, b := testConsumer(t, db, 1)

	pb, err := store.CreatePlaybook(db, "core", "", "FIN_SETTLEMENT_FAIL", "default settle")
	require.NoError(t, err)

	runAll(t, consumer, b, event("evt-1", "acme", "fin_settlement_fail"))

	exc, err := store.GetExceptionByEventID(db, "evt-1")
	require.NoError(t, err)
	require.Equal(t, pb.ID, exc.PlaybookID)
}

// A malformed event dead-letters immediately; no exception row appears.
func TestPipelineMalformedEventDeadLetters(t *testing.T) {
	db := testDB(t)
	consumer, b := testConsumer(t, db, 1)

	runAll(t, consumer, b, models.IngestionEvent{EventID: "evt-bad", TenantID: "acme"})

	letters, err := store.ListDeadLetters(db, true, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, models.DeadLetterReasonMalformed, letters[0].Reason)
	require.Equal(t, "evt-bad", letters[0].EventID)

	count, err := store.CountExceptions(db, "")
	require.NoError(t, err)
	require.Zero(t, count)
}

// A persistently failing event exhausts its bounded retries and lands in
// the dead-letter store with the full payload, never silently dropped.
func TestPipelineExhaustedRetriesDeadLetters(t *testing.T) {
	db := testDB(t)
	consumer, _ := testConsumer(t, db, 1)
	consumer.MaxElapsed = 200 * time.Millisecond
	consumer.MaxAttempts = 2

	// Occupy the event id outside the idempotency protocol, so every
	// creation attempt hits the UNIQUE(event_id) backstop.
	_, err := db.Exec(`
		INSERT INTO exceptions (id, event_id, tenant_id, type_code, raw_type, severity, severity_source, status)
		VALUES ('exc_squatter', 'evt-stuck', 'acme', 'X', 'x', 'LOW', 'catalog_default', 'open')
	`)
	require.NoError(t, err)

	require.NoError(t, consumer.Process(context.Background(), event("evt-stuck", "acme", "fin_settlement_fail")))

	letters, err := store.ListDeadLetters(db, true, 0)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	require.Equal(t, models.DeadLetterReasonExhausted, letters[0].Reason)
	require.Equal(t, "evt-stuck", letters[0].EventID)
}

func TestProcessDirectRedelivery(t *testing.T) {
	db := testDB(t)
	consumer, _ := testConsumer(t, db, 1)

	ev := event("evt-1", "acme", "fin_settlement_fail")
	require.NoError(t, consumer.Process(context.Background(), ev))
	require.NoError(t, consumer.Process(context.Background(), ev))

	count, err := store.CountExceptions(db, "acme")
	require.NoError(t, err)
	require.Equal(t, int64(1), count)
}

func TestValidateEvent(t *testing.T) {
	require.NoError(t, validateEvent(event("e", "t", "x")))
	require.Error(t, validateEvent(models.IngestionEvent{TenantID: "t", RawType: "x"}))
	require.Error(t, validateEvent(models.IngestionEvent{EventID: "e", RawType: "x"}))
	require.Error(t, validateEvent(models.IngestionEvent{EventID: "e", TenantID: "t"}))
}
