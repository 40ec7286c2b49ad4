// Package storage defines persistence contracts for the delivery
// intelligence engine.
package storage

import (
	"context"
	"errors"

	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// MaxPageSize is the hard cap on rows returned by any list query. Larger
// limits are clamped, never honored; full scans must page with ascending
// shipment-id cursors.
const MaxPageSize = 1000

// SnapshotPage is one cursor page of tracking snapshots. An empty
// NextShipmentID means the scan is exhausted.
type SnapshotPage struct {
	Snapshots      []domain.Snapshot
	NextShipmentID string
}

// OutcomePage is one cursor page of outcome records.
type OutcomePage struct {
	Records        []domain.OutcomeRecord
	NextShipmentID string
}

// SnapshotSource reads shipment tracking snapshots. Snapshots are owned by
// the upstream carrier-feed sync; this service never writes them.
type SnapshotSource interface {
	// Snapshot returns one shipment's snapshot, ErrNotFound when unknown.
	Snapshot(ctx context.Context, shipmentID string) (*domain.Snapshot, error)
	// Snapshots returns the snapshots for the given ids in one query;
	// unknown ids are absent from the result.
	Snapshots(ctx context.Context, shipmentIDs []string) (map[string]*domain.Snapshot, error)
	// ListInTransit pages over snapshots that have a transit-start event,
	// ordered by shipment id ascending, starting after the cursor.
	ListInTransit(ctx context.Context, afterShipmentID string, limit int) (SnapshotPage, error)
}

// ClaimSource looks up loss-type support claims linked to shipments.
type ClaimSource interface {
	// LossClaims returns the most recently filed loss-type claim per
	// shipment. Shipments without one are absent from the map.
	LossClaims(ctx context.Context, shipmentIDs []string) (map[string]domain.Claim, error)
}

// CarrierStats aggregates outcome counts for one carrier.
type CarrierStats struct {
	Carrier       string  `json:"carrier"`
	Total         int     `json:"total"`
	Delivered     int     `json:"delivered"`
	Lost          int     `json:"lost"`
	Censored      int     `json:"censored"`
	DeliveredRate float64 `json:"delivered_rate"`
	LostRate      float64 `json:"lost_rate"`
}

// OutcomeStore persists labeled outcome records, one per shipment.
type OutcomeStore interface {
	// UpsertOutcomes writes records keyed by shipment id in one
	// transaction; existing rows are updated in place.
	UpsertOutcomes(ctx context.Context, records []domain.OutcomeRecord) error
	// ExistingShipmentIDs reports which of the given ids already have a
	// record, for the incremental sync's create-only contract.
	ExistingShipmentIDs(ctx context.Context, shipmentIDs []string) (map[string]bool, error)
	// ListOutcomes pages over all records by shipment id ascending.
	ListOutcomes(ctx context.Context, afterShipmentID string, limit int) (OutcomePage, error)
	// ListCensoredOutcomes pages over records still labeled censored.
	ListCensoredOutcomes(ctx context.Context, afterShipmentID string, limit int) (OutcomePage, error)
	// OutcomeSummary counts records by outcome label.
	OutcomeSummary(ctx context.Context) (map[domain.Outcome]int, error)
	// CarrierPerformance aggregates delivery and loss rates per carrier.
	CarrierPerformance(ctx context.Context) ([]CarrierStats, error)
}

// HeatmapCell is one carrier-by-zone cell of the curve confidence heatmap.
type HeatmapCell struct {
	Carrier    string            `json:"carrier"`
	ZoneBucket string            `json:"zone_bucket"`
	SampleSize int               `json:"sample_size"`
	Confidence domain.Confidence `json:"confidence"`
}

// CurveStore persists fitted survival curves keyed by segment.
type CurveStore interface {
	domain.CurveFinder
	// ReplaceCurve swaps the curve stored for the given segment key in a
	// single transaction. The key's service component may be null, which
	// a unique index cannot enforce, hence delete-then-insert.
	ReplaceCurve(ctx context.Context, curve domain.Curve) error
	// ConfidenceDistribution counts persisted curves per confidence grade.
	ConfidenceDistribution(ctx context.Context) (map[domain.Confidence]int, error)
	// ConfidenceHeatmap reports the best sample size per carrier and zone.
	ConfidenceHeatmap(ctx context.Context) ([]HeatmapCell, error)
}
