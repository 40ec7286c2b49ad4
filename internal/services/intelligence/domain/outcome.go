package domain

import (
	"strings"
	"time"
)

// Claim status and issue-type values recognized when labeling losses. These
// mirror the support service's claim workflow states.
const (
	ClaimIssueLoss            = "Loss"
	ClaimStatusCreditApproved = "Credit Approved"
	ClaimStatusResolved       = "Resolved"
)

const (
	// tooFreshDomesticDays is how recently a domestic shipment must have
	// moved for it to be obviously still in flight.
	tooFreshDomesticDays = 15.0
	// tooFreshInternationalDays is the same bar for zones above 10.
	tooFreshInternationalDays = 20.0
	// timeoutTransitDays is the point past which an undelivered shipment
	// with no excuse is written off.
	timeoutTransitDays = 45.0
)

// exceptionPhrases flag carrier problem language in tracking logs.
var exceptionPhrases = []string{
	"exception",
	"unable to locate",
	"delivery attempt failed",
	"address issue",
}

// HasExceptionLanguage reports whether any tracking event contains carrier
// exception language. The search is case-insensitive.
func HasExceptionLanguage(events []TrackingEvent) bool {
	for _, event := range events {
		text := strings.ToLower(event.Description)
		for _, phrase := range exceptionPhrases {
			if strings.Contains(text, phrase) {
				return true
			}
		}
	}
	return false
}

// lossClaimApproved reports whether the linked claim settles the shipment
// as lost.
func lossClaimApproved(claim *Claim) bool {
	if claim == nil || claim.IssueType != ClaimIssueLoss {
		return false
	}
	return claim.Status == ClaimStatusCreditApproved || claim.Status == ClaimStatusResolved
}

// daysBetween converts the span from a to b into fractional days.
func daysBetween(a, b time.Time) float64 {
	return b.Sub(a).Hours() / 24
}

// ClassifyOutcome labels one shipment snapshot as a terminal or censored
// observation. The second return is false when the shipment has no transit
// start yet and is therefore not eligible for labeling; that is an expected
// state, not an error.
//
// Decision order: a delivery confirmation wins outright; an approved loss
// claim settles the shipment as lost; shipments with recent tracking
// activity stay censored regardless of age; past 45 days in transit the
// shipment is written off, as an exception loss when the log carries
// exception language and as a timeout otherwise; anything else remains
// censored.
func ClassifyOutcome(snap *Snapshot, claim *Claim, now time.Time) (OutcomeRecord, bool) {
	if snap == nil || snap.InTransitAt == nil {
		return OutcomeRecord{}, false
	}
	start := *snap.InTransitAt
	segment := Classify(snap)

	totalTransitDays := daysBetween(start, now)
	if snap.DeliveredAt != nil {
		totalTransitDays = daysBetween(start, *snap.DeliveredAt)
	}

	record := OutcomeRecord{
		ShipmentID:       snap.ShipmentID,
		Carrier:          segment.Carrier,
		Service:          segment.Service,
		ServiceBucket:    segment.ServiceBucket,
		ZoneBucket:       segment.ZoneBucket,
		SeasonBucket:     segment.SeasonBucket,
		HasException:     HasExceptionLanguage(snap.Events),
		HasFailedAttempt: snap.AttemptFailedAt != nil,
		EventCount:       len(snap.Events),
		TotalTransitDays: totalTransitDays,
		EvaluatedAt:      now,
	}
	if snap.OutForDeliveryAt != nil {
		days := daysBetween(start, *snap.OutForDeliveryAt)
		record.DaysToOutForDelivery = &days
	}
	if snap.DeliveredAt != nil && snap.OutForDeliveryAt != nil {
		days := daysBetween(*snap.OutForDeliveryAt, *snap.DeliveredAt)
		record.DaysLastMile = &days
	}

	switch {
	case snap.DeliveredAt != nil:
		record.Outcome = OutcomeDelivered
		record.ObservedDays = daysBetween(start, *snap.DeliveredAt)

	case lossClaimApproved(claim):
		record.Outcome = OutcomeLostClaim
		record.ObservedDays = daysBetween(start, now)

	default:
		record.Outcome = classifyInTransit(snap, start, now, record.HasException)
		record.ObservedDays = daysBetween(start, now)
	}

	if record.ObservedDays < 0 {
		record.ObservedDays = 0
	}
	record.Censored = record.Outcome == OutcomeCensored
	return record, true
}

// classifyInTransit labels an undelivered, unclaimed shipment.
func classifyInTransit(snap *Snapshot, start, now time.Time, hasException bool) Outcome {
	lastActivity := start
	if snap.OutForDeliveryAt != nil && snap.OutForDeliveryAt.After(lastActivity) {
		lastActivity = *snap.OutForDeliveryAt
	}
	if snap.AttemptFailedAt != nil && snap.AttemptFailedAt.After(lastActivity) {
		lastActivity = *snap.AttemptFailedAt
	}

	tooFresh := tooFreshDomesticDays
	if snap.Zone != nil && *snap.Zone > 10 {
		tooFresh = tooFreshInternationalDays
	}
	if daysBetween(lastActivity, now) < tooFresh {
		return OutcomeCensored
	}

	if daysBetween(start, now) > timeoutTransitDays {
		if hasException {
			return OutcomeLostException
		}
		return OutcomeLostTimeout
	}
	return OutcomeCensored
}
