// Package jobs holds scheduler.Job implementations that run on the cron
// schedule alongside the Supervisor's own tick loop: periodic maintenance
// that is not part of any single trading decision.
package jobs

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kiteflow/trader/internal/broker/live"
)

// CatalogRefreshJob re-downloads the instrument master from the connected
// live broker and republishes it through the Catalog. A no-op while the
// live adapter isn't connected (the paper adapter has no instrument master
// to download).
type CatalogRefreshJob struct {
	log     zerolog.Logger
	adapter *live.Adapter
	timeout time.Duration
}

// NewCatalogRefreshJob constructs the job. adapter may be nil when no live
// broker is configured; Run is then a no-op.
func NewCatalogRefreshJob(adapter *live.Adapter, log zerolog.Logger) *CatalogRefreshJob {
	return &CatalogRefreshJob{
		log:     log.With().Str("job", "catalog_refresh").Logger(),
		adapter: adapter,
		timeout: 30 * time.Second,
	}
}

// Name returns the job name.
func (j *CatalogRefreshJob) Name() string { return "catalog_refresh" }

// Run fetches and republishes the instrument master.
func (j *CatalogRefreshJob) Run() error {
	if j.adapter == nil || !j.adapter.IsConnected() {
		j.log.Debug().Msg("no connected live broker, skipping catalog refresh")
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	return j.adapter.RefreshCatalog(ctx)
}
