package domain

import (
	"context"
	"fmt"
	"time"
)

// Risk-flag fallbacks used when a curve never crossed the percentile.
const (
	defaultP90FlagDays = 7.0
	defaultP95FlagDays = 10.0
)

// Transit-day thresholds in the risk grading ladder.
const (
	riskExceptionCriticalDays = 15.0
	riskElevatedDays          = 8.0
)

// SnapshotReader provides read-only access to shipment tracking snapshots.
type SnapshotReader interface {
	// Snapshot returns one shipment's snapshot.
	Snapshot(ctx context.Context, shipmentID string) (*Snapshot, error)
	// Snapshots returns the snapshots for the given ids in one query.
	// Unknown ids are simply absent from the result.
	Snapshots(ctx context.Context, shipmentIDs []string) (map[string]*Snapshot, error)
}

// Estimator computes per-shipment delivery probability estimates by blending
// a resolved survival curve with live risk signals.
type Estimator struct {
	snapshots SnapshotReader
	resolver  *Resolver
	policy    RiskPolicy
}

// NewEstimator wires an estimator. A nil policy takes the default heuristic.
func NewEstimator(snapshots SnapshotReader, resolver *Resolver, policy RiskPolicy) *Estimator {
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Estimator{snapshots: snapshots, resolver: resolver, policy: policy}
}

// Estimate looks up one shipment's snapshot and estimates it. A nil estimate
// with a nil error means the shipment has not started transit yet.
func (e *Estimator) Estimate(ctx context.Context, shipmentID string, now time.Time) (*Estimate, error) {
	snap, err := e.snapshots.Snapshot(ctx, shipmentID)
	if err != nil {
		return nil, fmt.Errorf("load snapshot %s: %w", shipmentID, err)
	}
	return e.EstimateSnapshot(ctx, snap, now)
}

// EstimateBatch estimates many shipments from a single snapshot fetch. Each
// shipment is estimated independently; ids with no snapshot or no transit
// start are absent from the result rather than errors.
func (e *Estimator) EstimateBatch(ctx context.Context, shipmentIDs []string, now time.Time) (map[string]*Estimate, error) {
	snaps, err := e.snapshots.Snapshots(ctx, shipmentIDs)
	if err != nil {
		return nil, fmt.Errorf("load snapshots: %w", err)
	}
	estimates := make(map[string]*Estimate, len(snaps))
	for id, snap := range snaps {
		estimate, err := e.EstimateSnapshot(ctx, snap, now)
		if err != nil {
			return nil, err
		}
		if estimate != nil {
			estimates[id] = estimate
		}
	}
	return estimates, nil
}

// EstimateSnapshot estimates a shipment from an already-loaded snapshot.
// A nil estimate with a nil error means the shipment is not yet eligible:
// it has no transit-start event, so there is nothing to measure against.
func (e *Estimator) EstimateSnapshot(ctx context.Context, snap *Snapshot, now time.Time) (*Estimate, error) {
	if snap == nil || snap.InTransitAt == nil {
		return nil, nil
	}
	segment := Classify(snap)

	if snap.DeliveredAt != nil {
		return &Estimate{
			ShipmentID:     snap.ShipmentID,
			Delivered:      true,
			Probability:    1.0,
			StillInTransit: 0,
			DaysInTransit:  daysBetween(*snap.InTransitAt, *snap.DeliveredAt),
			Risk:           RiskLow,
			RiskFactors:    []string{},
			Confidence:     ConfidenceHigh,
			Segment:        segment,
		}, nil
	}

	days := daysBetween(*snap.InTransitAt, now)
	if days < 0 {
		days = 0
	}
	hasException := HasExceptionLanguage(snap.Events)
	hasFailedAttempt := snap.AttemptFailedAt != nil

	curve, err := e.resolver.Resolve(ctx, segment)
	if err != nil {
		return nil, fmt.Errorf("resolve curve: %w", err)
	}

	estimate := &Estimate{
		ShipmentID:    snap.ShipmentID,
		DaysInTransit: days,
	}

	p90 := defaultP90FlagDays
	p95 := defaultP95FlagDays
	if curve != nil {
		if curve.P90Days != nil {
			p90 = *curve.P90Days
		}
		if curve.P95Days != nil {
			p95 = *curve.P95Days
		}
	}
	pastP90 := days > p90
	pastP95 := days > p95

	factors := []string{}
	if hasException {
		factors = append(factors, RiskFactorException)
	}
	if hasFailedAttempt {
		factors = append(factors, RiskFactorFailedAttempt)
	}
	if pastP90 {
		factors = append(factors, RiskFactorPastP90)
	}
	if pastP95 {
		factors = append(factors, RiskFactorPastP95)
	}
	estimate.RiskFactors = factors
	estimate.Risk = gradeRisk(days, hasException, hasFailedAttempt, pastP90, pastP95)

	if curve == nil {
		estimate.Probability, estimate.StillInTransit = e.policy.NoCurveProbability(days)
		estimate.Confidence = ConfidenceInsufficient
		estimate.Segment = segment
		return estimate, nil
	}

	estimate.Probability = e.policy.EventualProbability(
		curve.DeliveryRate(), days, curve.P95Days, hasException, hasFailedAttempt)
	estimate.StillInTransit = curve.SurvivalAt(days)
	estimate.Confidence = curve.Confidence
	estimate.SampleSize = curve.SampleSize
	estimate.Segment = curve.Segment
	estimate.Percentiles = curve.Percentiles()
	return estimate, nil
}

// gradeRisk walks the risk ladder from most to least severe and returns the
// first rung that applies.
func gradeRisk(days float64, hasException, hasFailedAttempt, pastP90, pastP95 bool) RiskLevel {
	anyFactor := hasException || hasFailedAttempt || pastP90 || pastP95
	switch {
	case pastP95 && (hasException || hasFailedAttempt),
		days > riskExceptionCriticalDays && hasException:
		return RiskCritical
	case pastP95,
		hasException && days > riskElevatedDays:
		return RiskHigh
	case pastP90,
		hasFailedAttempt,
		days > riskElevatedDays && anyFactor:
		return RiskMedium
	}
	return RiskLow
}
