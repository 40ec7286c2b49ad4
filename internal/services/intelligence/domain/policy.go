package domain

import "math"

// RiskPolicy turns a segment's historical delivery rate and a shipment's
// live risk signals into an eventual-delivery probability. It exists as an
// interface so the hand-tuned constants below can be retuned or replaced
// without touching curve fitting.
type RiskPolicy interface {
	// EventualProbability blends the base delivery rate with how overdue
	// the shipment is and which risk signals fired. p95Days is the curve's
	// 95th-percentile delivery day, nil when the curve never crossed it.
	EventualProbability(deliveryRate, daysInTransit float64, p95Days *float64, hasException, hasFailedAttempt bool) float64
	// NoCurveProbability estimates a shipment with no usable curve at all.
	NoCurveProbability(daysInTransit float64) (eventual, stillInTransit float64)
}

// HeuristicPolicy is the tuned production policy: no decay inside the normal
// delivery window, geometric decay per full P95 interval overdue, an
// exception penalty that grows with lateness, and a flat penalty for a
// failed delivery attempt.
type HeuristicPolicy struct {
	// OverdueDecay multiplies the probability once per full P95 interval
	// past the normal window.
	OverdueDecay float64
	// ExceptionPenaltyRate scales the exception penalty by overdue ratio;
	// ExceptionPenaltyCap bounds it.
	ExceptionPenaltyRate float64
	ExceptionPenaltyCap  float64
	// FailedAttemptFactor multiplies the probability after a failed
	// delivery attempt.
	FailedAttemptFactor float64
	// MinProbability and MaxProbability clamp the final estimate.
	MinProbability float64
	MaxProbability float64
	// DecayWindowDays stands in for P95 when the curve never crossed it.
	DecayWindowDays float64
	// NoCurveProb is the optimistic default when no curve resolves;
	// NoCurveDecayRate drives its exponential still-in-transit decay.
	NoCurveProb      float64
	NoCurveDecayRate float64
}

// DefaultPolicy returns the tuned constants.
func DefaultPolicy() HeuristicPolicy {
	return HeuristicPolicy{
		OverdueDecay:         0.7,
		ExceptionPenaltyRate: 0.1,
		ExceptionPenaltyCap:  0.5,
		FailedAttemptFactor:  0.85,
		MinProbability:       0.05,
		MaxProbability:       0.999,
		DecayWindowDays:      7,
		NoCurveProb:          0.95,
		NoCurveDecayRate:     0.5,
	}
}

// EventualProbability implements RiskPolicy.
func (p HeuristicPolicy) EventualProbability(deliveryRate, daysInTransit float64, p95Days *float64, hasException, hasFailedAttempt bool) float64 {
	window := p.DecayWindowDays
	if p95Days != nil && *p95Days > 0 {
		window = *p95Days
	}
	overdueRatio := 0.0
	if window > 0 {
		overdueRatio = daysInTransit / window
	}

	probability := deliveryRate
	if daysInTransit > window {
		probability *= math.Pow(p.OverdueDecay, overdueRatio-1)
	}
	if hasException {
		penalty := p.ExceptionPenaltyRate * overdueRatio
		if penalty > p.ExceptionPenaltyCap {
			penalty = p.ExceptionPenaltyCap
		}
		probability *= 1 - penalty
	}
	if hasFailedAttempt {
		probability *= p.FailedAttemptFactor
	}
	return clamp(probability, p.MinProbability, p.MaxProbability)
}

// NoCurveProbability implements RiskPolicy.
func (p HeuristicPolicy) NoCurveProbability(daysInTransit float64) (float64, float64) {
	still := math.Exp(-p.NoCurveDecayRate * daysInTransit)
	return p.NoCurveProb, clamp(still, 0, 1)
}

var _ RiskPolicy = HeuristicPolicy{}
