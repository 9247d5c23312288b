package catalog

import (
	"context"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"
)

// Refresher reloads the catalog source file on a schedule and swaps the
// service snapshot. A failed reload keeps the previous snapshot serving;
// the catalog source is externally maintained and may be mid-write.
type Refresher struct {
	Service  *Service
	Path     string
	Interval time.Duration
}

// Run blocks, refreshing every Interval until ctx is canceled.
func (r *Refresher) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.RefreshOnce(ctx)
		}
	}
}

// RefreshOnce attempts one reload with bounded fibonacci backoff on read
// failures. Errors are logged, not returned: the stale-but-valid snapshot
// stays in service.
func (r *Refresher) RefreshOnce(ctx context.Context) {
	b := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		c, err := LoadFile(r.Path)
		if err != nil {
			return retry.RetryableError(err)
		}
		r.Service.Replace(c)
		return nil
	})
	if err != nil {
		slog.Warn("catalog refresh failed, keeping previous snapshot",
			"path", r.Path, "error", err.Error())
	}
}
