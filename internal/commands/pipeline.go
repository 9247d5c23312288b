package commands

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"github.com/dotcommander/exceptd/internal/app"
	"github.com/dotcommander/exceptd/internal/bus"
	"github.com/dotcommander/exceptd/internal/catalog"
	"github.com/dotcommander/exceptd/internal/intake"
	"github.com/dotcommander/exceptd/internal/policy"
)

// loadCatalogService loads the catalog source file. A missing file is not
// fatal: the pipeline still runs, every code resolves to the unknown
// severity, and the operator sees a warning.
func loadCatalogService() (*catalog.Service, string, error) {
	path, err := app.GetCatalogPath()
	if err != nil {
		return nil, "", err
	}

	cfg := app.EffectivePipelineSettings()
	c, err := catalog.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Warn("catalog source not found, all types resolve to unknown severity", "path", path)
			return catalog.NewService(catalog.Empty(), cfg.CatalogMissTTL), path, nil
		}
		return nil, "", err
	}
	return catalog.NewService(c, cfg.CatalogMissTTL), path, nil
}

// runPipeline wires bus → consumer → store for one CLI invocation, lets
// publish enqueue events, then closes the bus and waits for the workers to
// drain. The published events are fully processed (or dead-lettered) by the
// time it returns.
func runPipeline(db *DB, publish func(ctx context.Context, b bus.Bus) error) error {
	cfg := app.EffectivePipelineSettings()

	catSvc, catPath, err := loadCatalogService()
	if err != nil {
		return err
	}

	b := bus.NewInproc(cfg.Partitions, 64)
	consumer := &intake.Consumer{
		DB:             db,
		Bus:            b,
		Catalog:        catSvc,
		Resolver:       policy.NewResolver(db, cfg.PolicyCacheTTL, cfg.PolicyMissTTL),
		MaxAttempts:    cfg.MaxAttempts,
		ResolveTimeout: cfg.ResolveTimeout,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The catalog source is externally maintained; keep reloading it while
	// the pipeline runs so long drains pick up new entries.
	refresher := &catalog.Refresher{Service: catSvc, Path: catPath, Interval: cfg.CatalogRefresh}
	go func() { _ = refresher.Run(ctx) }()

	done := make(chan error, 1)
	go func() { done <- consumer.Run(ctx) }()

	pubErr := publish(ctx, b)
	b.Close()

	if runErr := <-done; runErr != nil {
		return runErr
	}
	return pubErr
}
