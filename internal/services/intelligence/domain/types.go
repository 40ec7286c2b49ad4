package domain

import "time"

// Outcome labels the terminal (or not yet terminal) state of one shipment.
type Outcome string

const (
	// OutcomeDelivered indicates the carrier confirmed delivery.
	OutcomeDelivered Outcome = "delivered"
	// OutcomeLostClaim indicates a loss claim was approved or resolved.
	OutcomeLostClaim Outcome = "lost_claim"
	// OutcomeLostException indicates the shipment timed out with exception
	// language in its tracking log.
	OutcomeLostException Outcome = "lost_exception"
	// OutcomeLostTimeout indicates the shipment timed out silently.
	OutcomeLostTimeout Outcome = "lost_timeout"
	// OutcomeCensored indicates the shipment is still plausibly in transit;
	// its true delivery time is unknown, only a lower bound.
	OutcomeCensored Outcome = "censored"
)

// Lost reports whether the outcome is one of the lost_* terminal states.
func (o Outcome) Lost() bool {
	switch o {
	case OutcomeLostClaim, OutcomeLostException, OutcomeLostTimeout:
		return true
	}
	return false
}

// Confidence grades how many observations back a fitted curve.
type Confidence string

const (
	// ConfidenceHigh is assigned to curves fitted on 500+ observations.
	ConfidenceHigh Confidence = "high"
	// ConfidenceMedium is assigned to curves fitted on 100+ observations.
	ConfidenceMedium Confidence = "medium"
	// ConfidenceLow is assigned to curves fitted on 50+ observations.
	ConfidenceLow Confidence = "low"
	// ConfidenceInsufficient is assigned below the low threshold.
	ConfidenceInsufficient Confidence = "insufficient"
)

// RiskLevel classifies how worried a caller should be about a shipment.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Risk factor identifiers reported on estimates.
const (
	RiskFactorException     = "exception_detected"
	RiskFactorFailedAttempt = "delivery_attempt_failed"
	RiskFactorPastP90       = "past_p90"
	RiskFactorPastP95       = "past_p95"
)

// TrackingEvent is one free-text entry in a shipment's tracking log.
type TrackingEvent struct {
	OccurredAt  time.Time `json:"occurred_at"`
	Description string    `json:"description"`
	Location    string    `json:"location,omitempty"`
}

// Snapshot is the read-only tracking state of one shipment as synced by the
// upstream carrier feed. Missing timestamps mean the event has not happened
// yet, never that the snapshot is malformed.
type Snapshot struct {
	ShipmentID  string
	Carrier     string
	Service     string // raw carrier service name; "" when the carrier gave none
	Zone        *int   // numeric shipping zone; nil when unknown
	DestCountry string
	DestState   string

	InTransitAt      *time.Time
	OutForDeliveryAt *time.Time
	DeliveredAt      *time.Time
	AttemptFailedAt  *time.Time

	Events []TrackingEvent
}

// Claim is the most relevant loss-type support claim linked to a shipment.
type Claim struct {
	Status    string
	IssueType string
	FiledAt   time.Time
}

// OutcomeRecord is the labeled, possibly censored observation derived from
// one shipment's snapshot. One record exists per shipment, upserted by id.
type OutcomeRecord struct {
	ShipmentID    string
	Carrier       string
	Service       string // raw service name carried for exact-segment fitting; "" = none
	ServiceBucket string
	ZoneBucket    string
	SeasonBucket  string

	Outcome      Outcome
	ObservedDays float64 // transit start to delivery, or to evaluation time; never negative
	Censored     bool    // invariant: true iff Outcome == OutcomeCensored

	HasException     bool
	HasFailedAttempt bool
	EventCount       int

	TotalTransitDays     float64
	DaysToOutForDelivery *float64
	DaysLastMile         *float64

	EvaluatedAt time.Time
}

// SegmentKey identifies the traffic segment a curve belongs to. Carrier and
// ServiceBucket may hold the SegmentAll sentinel on aggregated tiers;
// Service is empty both for shipments without a service name and for tiers
// that roll the exact service name up.
type SegmentKey struct {
	Carrier       string `json:"carrier"`
	Service       string `json:"carrier_service,omitempty"`
	ServiceBucket string `json:"service_bucket"`
	ZoneBucket    string `json:"zone_bucket"`
	SeasonBucket  string `json:"season_bucket,omitempty"`
}

// SegmentAll is the sentinel for a rolled-up carrier or service bucket.
const SegmentAll = "all"

// CurvePoint is one step of a fitted survival curve. Field names follow the
// persisted curve_data JSON contract.
type CurvePoint struct {
	Day              int     `json:"day"`
	Survival         float64 `json:"survival_probability"`
	AtRisk           int     `json:"at_risk_count"`
	Events           int     `json:"event_count"`
	CumulativeEvents int     `json:"cumulative_events"`
}

// Curve is a Kaplan-Meier delivery-time survival curve for one segment.
// Survival at day t is the probability a shipment is still in transit after
// t days; 1 - survival is the probability it has delivered.
type Curve struct {
	Segment SegmentKey
	Points  []CurvePoint

	SampleSize     int
	DeliveredCount int
	LostCount      int
	CensoredCount  int

	MedianDays *float64
	P75Days    *float64
	P90Days    *float64
	P95Days    *float64

	Confidence Confidence
	FittedAt   time.Time
}

// Percentiles is the nullable percentile snapshot reported on estimates.
type Percentiles struct {
	Median *float64 `json:"median_days"`
	P75    *float64 `json:"p75_days"`
	P90    *float64 `json:"p90_days"`
	P95    *float64 `json:"p95_days"`
}

// Percentiles returns the curve's percentile snapshot.
func (c *Curve) Percentiles() Percentiles {
	return Percentiles{Median: c.MedianDays, P75: c.P75Days, P90: c.P90Days, P95: c.P95Days}
}

// DeliveryRate is the fraction of the curve's sample that delivered.
func (c *Curve) DeliveryRate() float64 {
	if c.SampleSize <= 0 {
		return 0
	}
	return float64(c.DeliveredCount) / float64(c.SampleSize)
}

// SurvivalAt linearly interpolates the curve at an elapsed number of days.
// Before the first point the curve reads 1.0; beyond the last point it holds
// the final value. Same-day steps resolve to the later point.
func (c *Curve) SurvivalAt(days float64) float64 {
	pts := c.Points
	if len(pts) == 0 {
		return 1.0
	}
	if days < float64(pts[0].Day) {
		return 1.0
	}
	for i := 0; i+1 < len(pts); i++ {
		x0 := float64(pts[i].Day)
		x1 := float64(pts[i+1].Day)
		if days > x1 {
			continue
		}
		if x1 == x0 {
			return pts[i+1].Survival
		}
		frac := (days - x0) / (x1 - x0)
		return pts[i].Survival + frac*(pts[i+1].Survival-pts[i].Survival)
	}
	return pts[len(pts)-1].Survival
}

// Estimate is the ephemeral delivery-probability result returned to callers.
// It is never persisted.
type Estimate struct {
	ShipmentID     string      `json:"shipment_id"`
	Delivered      bool        `json:"delivered"`
	Probability    float64     `json:"delivery_probability"`
	StillInTransit float64     `json:"still_in_transit_probability"`
	DaysInTransit  float64     `json:"days_in_transit"`
	Risk           RiskLevel   `json:"risk_level"`
	RiskFactors    []string    `json:"risk_factors"`
	Confidence     Confidence  `json:"confidence"`
	SampleSize     int         `json:"sample_size"`
	Segment        SegmentKey  `json:"segment_used"`
	Percentiles    Percentiles `json:"percentiles"`
}
