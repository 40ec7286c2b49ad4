package batch

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/quaymark/shipsight/internal/platform/metrics"
	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
)

// RefitStats reports one run of the full curve recomputation.
type RefitStats struct {
	Records       int
	Segments      int
	CurvesWritten int
	SegmentErrors int
}

// RefitJob recomputes every survival curve from the full outcome record set:
// one curve per exact segment observed plus the three aggregation tiers.
type RefitJob struct {
	outcomes storage.OutcomeStore
	curves   storage.CurveStore
	pageSize int
	now      func() time.Time
}

// NewRefitJob wires a refit job. A non-positive pageSize takes the hard cap;
// a nil clock uses time.Now.
func NewRefitJob(outcomes storage.OutcomeStore, curves storage.CurveStore, pageSize int, now func() time.Time) *RefitJob {
	if pageSize <= 0 || pageSize > storage.MaxPageSize {
		pageSize = storage.MaxPageSize
	}
	if now == nil {
		now = time.Now
	}
	return &RefitJob{outcomes: outcomes, curves: curves, pageSize: pageSize, now: now}
}

// Run scans all outcome records once with an ascending shipment-id cursor,
// groups their observations by segment key, fits one curve per key, and
// replaces each persisted curve. A record feeds its exact segment and every
// roll-up tier, so a tier's group is the union of the exact groups beneath
// it. A failed persist is counted and skipped; the run continues.
func (j *RefitJob) Run(ctx context.Context) (RefitStats, error) {
	var stats RefitStats
	groups := make(map[domain.SegmentKey][]domain.Observation)
	exact := make(map[domain.SegmentKey]bool)

	cursor := ""
	for {
		page, err := j.outcomes.ListOutcomes(ctx, cursor, j.pageSize)
		if err != nil {
			return stats, fmt.Errorf("list outcomes after %q: %w", cursor, err)
		}
		for _, rec := range page.Records {
			stats.Records++
			obs := domain.NewObservation(rec)
			key := domain.SegmentKey{
				Carrier:       rec.Carrier,
				Service:       rec.Service,
				ServiceBucket: rec.ServiceBucket,
				ZoneBucket:    rec.ZoneBucket,
				SeasonBucket:  rec.SeasonBucket,
			}
			exact[key] = true
			groups[key] = append(groups[key], obs)
			previous := key
			for _, tier := range domain.RollUps(key) {
				// A record with no exact service name already feeds the
				// tier key directly; skip the duplicate.
				if tier == previous {
					continue
				}
				groups[tier] = append(groups[tier], obs)
				previous = tier
			}
		}
		if page.NextShipmentID == "" {
			break
		}
		cursor = page.NextShipmentID
	}
	stats.Segments = len(exact)

	fittedAt := j.now()
	for _, key := range sortedKeys(groups) {
		curve := domain.FitCurve(key, groups[key], fittedAt)
		if err := j.curves.ReplaceCurve(ctx, curve); err != nil {
			stats.SegmentErrors++
			metrics.BatchUnitErrors.WithLabelValues("refit").Inc()
			log.Printf("replace curve for segment %+v: %v", key, err)
			continue
		}
		stats.CurvesWritten++
		metrics.CurvesFitted.Inc()
	}
	return stats, nil
}

// sortedKeys orders segment keys for a stable persistence sequence.
func sortedKeys(groups map[domain.SegmentKey][]domain.Observation) []domain.SegmentKey {
	keys := make([]domain.SegmentKey, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, k int) bool {
		a, b := keys[i], keys[k]
		switch {
		case a.Carrier != b.Carrier:
			return a.Carrier < b.Carrier
		case a.Service != b.Service:
			return a.Service < b.Service
		case a.ServiceBucket != b.ServiceBucket:
			return a.ServiceBucket < b.ServiceBucket
		case a.ZoneBucket != b.ZoneBucket:
			return a.ZoneBucket < b.ZoneBucket
		}
		return a.SeasonBucket < b.SeasonBucket
	})
	return keys
}
