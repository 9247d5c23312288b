// Package demo generates synthetic ingestion events for demos and load
// testing. It is a producer like any other: events go through the bus and
// the intake pipeline, never directly into the store.
package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/dotcommander/exceptd/internal/bus"
	"github.com/dotcommander/exceptd/internal/models"
)

// rawTypes deliberately mixes clean, decorated, lowercase, mixed-case, and
// unknown tokens so a demo exercises the normalizer's whole contract.
var rawTypes = []string{
	"FIN_SETTLEMENT_FAIL",
	": fin_settlement_fail",
	"::fin_settlement_fail",
	"fin_chargeback_dispute",
	"Fin_Limit_Breach",
	"ops_reconciliation_mismatch",
	"-- sys_feed_timeout",
	"completely_novel_failure_mode",
}

var tenants = []string{"acme", "globex", "initech"}

// Generator publishes synthetic events.
type Generator struct {
	Bus bus.Bus
	// Seed fixes the random sequence for reproducible demos; 0 seeds from
	// the clock.
	Seed int64
}

// Publish emits n synthetic events and returns their event ids.
func (g *Generator) Publish(ctx context.Context, n int) ([]string, error) {
	seed := g.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(map[string]any{
			"amount":    rng.Intn(100000),
			"reference": fmt.Sprintf("demo-%04d", i),
		})
		ev := models.IngestionEvent{
			EventID:    uuid.NewString(),
			TenantID:   tenants[rng.Intn(len(tenants))],
			RawType:    rawTypes[rng.Intn(len(rawTypes))],
			Payload:    payload,
			OccurredAt: time.Now().UTC(),
		}
		if err := g.Bus.Publish(ctx, ev); err != nil {
			return ids, fmt.Errorf("publish demo event %d: %w", i, err)
		}
		ids = append(ids, ev.EventID)
	}
	return ids, nil
}
