// Package batch implements the periodic jobs that keep outcome records and
// survival curves current: the incremental outcome sync, the censored-record
// refresh, and the full curve refit.
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

// SyncStats reports one run of the incremental outcome sync.
type SyncStats struct {
	Scanned    int
	Created    int
	Skipped    int
	PageErrors int
}

// SyncJob creates outcome records for shipments that have started transit
// but have no record yet. The job is strictly create-only: shipments already
// labeled are never re-evaluated here (RefreshJob covers censored ones).
type SyncJob struct {
	snapshots storage.SnapshotSource
	claims    storage.ClaimSource
	outcomes  storage.OutcomeStore
	pageSize  int
	now       func() time.Time
}

// NewSyncJob wires a sync job. A non-positive pageSize takes the hard cap;
// a nil clock uses time.Now.
func NewSyncJob(snapshots storage.SnapshotSource, claims storage.ClaimSource, outcomes storage.OutcomeStore, pageSize int, now func() time.Time) *SyncJob {
	if pageSize <= 0 || pageSize > storage.MaxPageSize {
		pageSize = storage.MaxPageSize
	}
	if now == nil {
		now = time.Now
	}
	return &SyncJob{snapshots: snapshots, claims: claims, outcomes: outcomes, pageSize: pageSize, now: now}
}

// Run pages through all in-transit snapshots with an ascending shipment-id
// cursor and labels the ones not yet recorded. A failed page is counted and
// skipped; the run continues with the next cursor position.
func (j *SyncJob) Run(ctx context.Context) (SyncStats, error) {
	var stats SyncStats
	cursor := ""
	for {
		page, err := j.snapshots.ListInTransit(ctx, cursor, j.pageSize)
		if err != nil {
			// Without the page there is no cursor to advance past it.
			return stats, fmt.Errorf("list in-transit snapshots after %q: %w", cursor, err)
		}
		if len(page.Snapshots) == 0 {
			return stats, nil
		}
		stats.Scanned += len(page.Snapshots)

		if err := j.syncPage(ctx, page.Snapshots, &stats); err != nil {
			stats.PageErrors++
			metrics.BatchUnitErrors.WithLabelValues("sync").Inc()
			log.Printf("outcome sync page after %q: %v", cursor, err)
		}

		if page.NextShipmentID == "" {
			return stats, nil
		}
		cursor = page.NextShipmentID
	}
}

// syncPage labels and persists the unrecorded shipments of one page.
func (j *SyncJob) syncPage(ctx context.Context, snaps []domain.Snapshot, stats *SyncStats) error {
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.ShipmentID)
	}
	existing, err := j.outcomes.ExistingShipmentIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("check existing outcomes: %w", err)
	}

	var pending []domain.Snapshot
	var pendingIDs []string
	for _, snap := range snaps {
		if existing[snap.ShipmentID] {
			stats.Skipped++
			continue
		}
		pending = append(pending, snap)
		pendingIDs = append(pendingIDs, snap.ShipmentID)
	}
	if len(pending) == 0 {
		return nil
	}

	claims, err := j.claims.LossClaims(ctx, pendingIDs)
	if err != nil {
		return fmt.Errorf("load loss claims: %w", err)
	}

	now := j.now()
	records := make([]domain.OutcomeRecord, 0, len(pending))
	for i := range pending {
		snap := pending[i]
		var claim *domain.Claim
		if c, ok := claims[snap.ShipmentID]; ok {
			claim = &c
		}
		record, ok := domain.ClassifyOutcome(&snap, claim, now)
		if !ok {
			continue
		}
		records = append(records, record)
	}
	if len(records) == 0 {
		return nil
	}
	if err := j.outcomes.UpsertOutcomes(ctx, records); err != nil {
		return fmt.Errorf("upsert outcomes: %w", err)
	}
	stats.Created += len(records)
	metrics.OutcomesSynced.Add(float64(len(records)))
	return nil
}
