package batch

import (
	"context"
	"fmt"
	"log"
)

// Pipeline sequences one worker cycle: refresh censored records first, then
// sync new outcomes, then refit every curve. The refit must see the records
// the first two passes produced.
type Pipeline struct {
	// Refresh is optional; nil disables the censored re-evaluation pass.
	Refresh *RefreshJob
	Sync    *SyncJob
	Refit   *RefitJob
}

// Run executes the cycle and logs per-job stats. A failed job aborts the
// cycle; the worker retries on its next tick.
func (p *Pipeline) Run(ctx context.Context) error {
	if p.Refresh != nil {
		refreshStats, err := p.Refresh.Run(ctx)
		if err != nil {
			return fmt.Errorf("refresh censored outcomes: %w", err)
		}
		log.Printf("censored refresh: scanned=%d updated=%d page_errors=%d",
			refreshStats.Scanned, refreshStats.Updated, refreshStats.PageErrors)
	}

	syncStats, err := p.Sync.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync outcomes: %w", err)
	}
	log.Printf("outcome sync: scanned=%d created=%d skipped=%d page_errors=%d",
		syncStats.Scanned, syncStats.Created, syncStats.Skipped, syncStats.PageErrors)

	refitStats, err := p.Refit.Run(ctx)
	if err != nil {
		return fmt.Errorf("refit curves: %w", err)
	}
	log.Printf("curve refit: records=%d segments=%d curves=%d segment_errors=%d",
		refitStats.Records, refitStats.Segments, refitStats.CurvesWritten, refitStats.SegmentErrors)
	return nil
}
