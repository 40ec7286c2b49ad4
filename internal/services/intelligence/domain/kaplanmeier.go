package domain

import (
	"math"
	"sort"
	"time"
)

// Sample-size thresholds backing each confidence grade.
const (
	confidenceHighMin   = 500
	confidenceMediumMin = 100
	confidenceLowMin    = 50
)

// ConfidenceFor grades a curve by its sample size.
func ConfidenceFor(sampleSize int) Confidence {
	switch {
	case sampleSize >= confidenceHighMin:
		return ConfidenceHigh
	case sampleSize >= confidenceMediumMin:
		return ConfidenceMedium
	case sampleSize >= confidenceLowMin:
		return ConfidenceLow
	}
	return ConfidenceInsufficient
}

// ObservationClass collapses the five outcome labels into the three roles an
// observation plays in the estimator: a delivery event, a censoring, or a
// loss that leaves the risk pool without delivering.
type ObservationClass int

const (
	ClassDelivered ObservationClass = iota
	ClassCensored
	ClassLost
)

// Observation is one outcome record reduced to what curve fitting needs.
type Observation struct {
	Day   int
	Class ObservationClass
}

// NewObservation reduces an outcome record to its fitting observation.
// Observed days are floored into whole-day buckets.
func NewObservation(rec OutcomeRecord) Observation {
	obs := Observation{Day: int(math.Floor(rec.ObservedDays))}
	switch {
	case rec.Outcome == OutcomeDelivered:
		obs.Class = ClassDelivered
	case rec.Outcome.Lost():
		obs.Class = ClassLost
	default:
		obs.Class = ClassCensored
	}
	return obs
}

// dayCounts accumulates per-day activity while grouping observations.
type dayCounts struct {
	events     int
	censorings int
	losses     int
}

// FitCurve computes the Kaplan-Meier delivery-time survival curve for one
// segment's observations. Delivery is the tracked event, so survival at day t
// is the probability a shipment is still in transit after t days.
//
// Lost shipments are removed from the at-risk pool on their observed day
// without ever counting as a delivery event, the same way censorings are.
// The fit is a pure function of its inputs: the same observation set always
// produces identical points, counts, and percentiles regardless of order.
func FitCurve(key SegmentKey, observations []Observation, fittedAt time.Time) Curve {
	curve := Curve{
		Segment:    key,
		SampleSize: len(observations),
		FittedAt:   fittedAt,
	}

	byDay := make(map[int]*dayCounts)
	for _, obs := range observations {
		day := obs.Day
		if day < 0 {
			day = 0
		}
		counts := byDay[day]
		if counts == nil {
			counts = &dayCounts{}
			byDay[day] = counts
		}
		switch obs.Class {
		case ClassDelivered:
			counts.events++
			curve.DeliveredCount++
		case ClassLost:
			counts.losses++
			curve.LostCount++
		default:
			counts.censorings++
			curve.CensoredCount++
		}
	}

	days := make([]int, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Ints(days)

	atRisk := curve.SampleSize
	survival := 1.0
	cumulativeEvents := 0
	curve.Points = append(curve.Points, CurvePoint{Day: 0, Survival: 1.0, AtRisk: atRisk})

	for _, day := range days {
		counts := byDay[day]
		if counts.events > 0 && atRisk > 0 {
			survival *= 1 - float64(counts.events)/float64(atRisk)
			survival = clamp(survival, 0, 1)
		}
		cumulativeEvents += counts.events
		if counts.events > 0 || counts.censorings > 0 {
			curve.Points = append(curve.Points, CurvePoint{
				Day:              day,
				Survival:         survival,
				AtRisk:           atRisk,
				Events:           counts.events,
				CumulativeEvents: cumulativeEvents,
			})
		}
		atRisk -= counts.events + counts.censorings + counts.losses
		if atRisk < 0 {
			atRisk = 0
		}
	}

	curve.MedianDays = percentileDay(curve.Points, 0.50)
	curve.P75Days = percentileDay(curve.Points, 0.75)
	curve.P90Days = percentileDay(curve.Points, 0.90)
	curve.P95Days = percentileDay(curve.Points, 0.95)
	curve.Confidence = ConfidenceFor(curve.SampleSize)
	return curve
}

// percentileDay finds the first day at which the delivered fraction reaches
// p, i.e. survival has fallen to 1-p or below. Nil when the curve never gets
// there within the observed range.
func percentileDay(points []CurvePoint, p float64) *float64 {
	threshold := 1 - p
	for _, point := range points {
		if point.Survival <= threshold {
			day := float64(point.Day)
			return &day
		}
	}
	return nil
}

func clamp(value, lo, hi float64) float64 {
	if value < lo {
		return lo
	}
	if value > hi {
		return hi
	}
	return value
}

// RollUps returns the three aggregation-tier keys for an exact segment, in
// broadening order. Each rule drops one more dimension to its sentinel:
// first the exact service name, then the carrier, then the service bucket.
// Zone and season survive every tier.
func RollUps(key SegmentKey) []SegmentKey {
	rules := []func(*SegmentKey){
		func(k *SegmentKey) { k.Service = "" },
		func(k *SegmentKey) { k.Carrier = SegmentAll },
		func(k *SegmentKey) { k.ServiceBucket = SegmentAll },
	}
	tiers := make([]SegmentKey, 0, len(rules))
	tier := key
	for _, drop := range rules {
		drop(&tier)
		tiers = append(tiers, tier)
	}
	return tiers
}
