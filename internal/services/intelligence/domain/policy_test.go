package domain

import (
	"math"
	"testing"
)

func TestHeuristicPolicyClampsFloor(t *testing.T) {
	policy := DefaultPolicy()
	got := policy.EventualProbability(0.9, 100, floatPtr(7), true, true)
	if got != policy.MinProbability {
		t.Fatalf("probability = %v, want floor %v", got, policy.MinProbability)
	}
}

func TestHeuristicPolicyClampsCeiling(t *testing.T) {
	policy := DefaultPolicy()
	got := policy.EventualProbability(1.0, 1, floatPtr(10), false, false)
	if got != policy.MaxProbability {
		t.Fatalf("probability = %v, want ceiling %v", got, policy.MaxProbability)
	}
}

func TestHeuristicPolicyExceptionPenaltyCapped(t *testing.T) {
	policy := DefaultPolicy()
	// Overdue ratio 6 would imply a 60% penalty without the cap. Compare
	// against the decayed base with exactly a 50% penalty.
	decayed := 0.9 * math.Pow(policy.OverdueDecay, 6-1)
	want := clamp(decayed*0.5, policy.MinProbability, policy.MaxProbability)
	got := policy.EventualProbability(0.9, 60, floatPtr(10), true, false)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("probability = %v, want %v with capped penalty", got, want)
	}
}

func TestHeuristicPolicyUsesDefaultWindowWithoutP95(t *testing.T) {
	policy := DefaultPolicy()
	// Without a curve P95 the seven-day default window applies, so day 7
	// is still inside the window and day 8 is overdue.
	inside := policy.EventualProbability(0.8, 7, nil, false, false)
	if math.Abs(inside-0.8) > 1e-9 {
		t.Fatalf("probability = %v, want undecayed 0.8", inside)
	}
	overdue := policy.EventualProbability(0.8, 8, nil, false, false)
	if overdue >= inside {
		t.Fatalf("overdue probability %v not below %v", overdue, inside)
	}
}

func TestHeuristicPolicyNoCurve(t *testing.T) {
	policy := DefaultPolicy()
	eventual, still := policy.NoCurveProbability(2)
	if eventual != policy.NoCurveProb {
		t.Fatalf("eventual = %v, want %v", eventual, policy.NoCurveProb)
	}
	want := math.Exp(-1)
	if math.Abs(still-want) > 1e-9 {
		t.Fatalf("still in transit = %v, want %v", still, want)
	}
}
