package batch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/quaymark/shipsight/internal/platform/metrics"
	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
)

// RefreshStats reports one run of the censored-record refresh.
type RefreshStats struct {
	Scanned    int
	Updated    int
	PageErrors int
}

// RefreshJob re-evaluates outcome records still labeled censored against
// their current snapshots and claims. Without it a shipment labeled censored
// once would keep that label forever, since the sync job is create-only.
// Terminal records are never touched.
type RefreshJob struct {
	snapshots storage.SnapshotSource
	claims    storage.ClaimSource
	outcomes  storage.OutcomeStore
	pageSize  int
	now       func() time.Time
}

// NewRefreshJob wires a refresh job. A non-positive pageSize takes the hard
// cap; a nil clock uses time.Now.
func NewRefreshJob(snapshots storage.SnapshotSource, claims storage.ClaimSource, outcomes storage.OutcomeStore, pageSize int, now func() time.Time) *RefreshJob {
	if pageSize <= 0 || pageSize > storage.MaxPageSize {
		pageSize = storage.MaxPageSize
	}
	if now == nil {
		now = time.Now
	}
	return &RefreshJob{snapshots: snapshots, claims: claims, outcomes: outcomes, pageSize: pageSize, now: now}
}

// Run pages through censored records and upserts the ones whose
// classification changed. Failed pages are counted and skipped.
func (j *RefreshJob) Run(ctx context.Context) (RefreshStats, error) {
	var stats RefreshStats
	cursor := ""
	for {
		page, err := j.outcomes.ListCensoredOutcomes(ctx, cursor, j.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list censored outcomes after %q: %w", cursor, err)
		}
		if len(page.Records) == 0 {
			return stats, nil
		}
		stats.Scanned += len(page.Records)

		if err := j.refreshPage(ctx, page.Records, &stats); err != nil {
			stats.PageErrors++
			metrics.BatchUnitErrors.WithLabelValues("refresh").Inc()
			log.Printf("censored refresh page after %q: %v", cursor, err)
		}

		if page.NextShipmentID == "" {
			return stats, nil
		}
		cursor = page.NextShipmentID
	}
}

func (j *RefreshJob) refreshPage(ctx context.Context, records []domain.OutcomeRecord, stats *RefreshStats) error {
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		ids = append(ids, rec.ShipmentID)
	}
	snaps, err := j.snapshots.Snapshots(ctx, ids)
	if err != nil {
		return fmt.Errorf("load snapshots: %w", err)
	}
	claims, err := j.claims.LossClaims(ctx, ids)
	if err != nil {
		return fmt.Errorf("load loss claims: %w", err)
	}

	now := j.now()
	var changed []domain.OutcomeRecord
	for _, rec := range records {
		snap := snaps[rec.ShipmentID]
		if snap == nil {
			continue
		}
		var claim *domain.Claim
		if c, ok := claims[rec.ShipmentID]; ok {
			claim = &c
		}
		fresh, ok := domain.ClassifyOutcome(snap, claim, now)
		if !ok || fresh.Outcome == rec.Outcome {
			continue
		}
		changed = append(changed, fresh)
	}
	if len(changed) == 0 {
		return nil
	}
	if err := j.outcomes.UpsertOutcomes(ctx, changed); err != nil {
		return fmt.Errorf("upsert refreshed outcomes: %w", err)
	}
	stats.Updated += len(changed)
	metrics.CensoredRefreshed.Add(float64(len(changed)))
	return nil
}
