package domain

import (
	"fmt"
	"strings"
	"time"
)

// Service tier buckets. Unrecognized and missing service names fall back to
// ground, by far the most common tier.
const (
	ServiceBucketExpress = "express"
	ServiceBucket2Day    = "2day"
	ServiceBucketPremium = "premium"
	ServiceBucketGround  = "ground"
)

// Season buckets. Peak covers the November-January holiday surge.
const (
	SeasonPeak   = "peak"
	SeasonNormal = "normal"
)

// ZoneInternational collapses every zone of 11 or above.
const ZoneInternational = "international"

// defaultZoneBucket stands in when the carrier reported no zone; zone 5 is
// the volume-weighted center of the domestic distribution.
const defaultZoneBucket = "zone_5"

// ZoneBucket maps a numeric shipping zone to its curve bucket. Zones 1-10
// each carry enough historical volume for their own curve; nil or
// non-positive zones take the default, and 11+ collapses to international.
func ZoneBucket(zone *int) string {
	if zone == nil || *zone <= 0 {
		return defaultZoneBucket
	}
	if *zone > 10 {
		return ZoneInternational
	}
	return fmt.Sprintf("zone_%d", *zone)
}

// AdjacentZoneBuckets returns the zone_n±1 buckets neighboring the given
// zone, for callers that want to widen a sparse zone lookup. The fallback
// resolver holds zone fixed and does not use this.
func AdjacentZoneBuckets(zone *int) []string {
	if zone == nil || *zone <= 0 || *zone > 10 {
		return nil
	}
	var buckets []string
	if *zone > 1 {
		buckets = append(buckets, fmt.Sprintf("zone_%d", *zone-1))
	}
	if *zone < 10 {
		buckets = append(buckets, fmt.Sprintf("zone_%d", *zone+1))
	}
	return buckets
}

// serviceBucketRules maps case-insensitive service-name fragments to tiers,
// checked in order. First match wins.
var serviceBucketRules = []struct {
	fragments []string
	bucket    string
}{
	{[]string{"priority overnight", "overnight", "next day"}, ServiceBucketExpress},
	{[]string{"2day", "2 day"}, ServiceBucket2Day},
	{[]string{"premium"}, ServiceBucketPremium},
	{[]string{"ground", "parcel", "standard", "economy", "advantage"}, ServiceBucketGround},
}

// ServiceBucket maps a raw carrier service name to its tier bucket.
func ServiceBucket(service string) string {
	name := strings.ToLower(service)
	for _, rule := range serviceBucketRules {
		for _, fragment := range rule.fragments {
			if strings.Contains(name, fragment) {
				return rule.bucket
			}
		}
	}
	return ServiceBucketGround
}

// SeasonBucket maps a transit-start time to peak or normal season.
func SeasonBucket(t time.Time) string {
	switch t.Month() {
	case time.November, time.December, time.January:
		return SeasonPeak
	}
	return SeasonNormal
}

// US regions, informational only; no curve is keyed on them.
const (
	RegionWestCoast = "west_coast"
	RegionMountain  = "mountain"
	RegionMidwest   = "midwest"
	RegionSouth     = "south"
	RegionNortheast = "northeast"
	RegionRemote    = "remote"
)

var stateRegions = map[string]string{
	"CA": RegionWestCoast, "OR": RegionWestCoast, "WA": RegionWestCoast,

	"AZ": RegionMountain, "CO": RegionMountain, "ID": RegionMountain,
	"MT": RegionMountain, "NM": RegionMountain, "NV": RegionMountain,
	"UT": RegionMountain, "WY": RegionMountain,

	"IA": RegionMidwest, "IL": RegionMidwest, "IN": RegionMidwest,
	"KS": RegionMidwest, "MI": RegionMidwest, "MN": RegionMidwest,
	"MO": RegionMidwest, "ND": RegionMidwest, "NE": RegionMidwest,
	"OH": RegionMidwest, "SD": RegionMidwest, "WI": RegionMidwest,

	"AL": RegionSouth, "AR": RegionSouth, "DC": RegionSouth,
	"DE": RegionSouth, "FL": RegionSouth, "GA": RegionSouth,
	"KY": RegionSouth, "LA": RegionSouth, "MD": RegionSouth,
	"MS": RegionSouth, "NC": RegionSouth, "OK": RegionSouth,
	"SC": RegionSouth, "TN": RegionSouth, "TX": RegionSouth,
	"VA": RegionSouth, "WV": RegionSouth,

	"CT": RegionNortheast, "MA": RegionNortheast, "ME": RegionNortheast,
	"NH": RegionNortheast, "NJ": RegionNortheast, "NY": RegionNortheast,
	"PA": RegionNortheast, "RI": RegionNortheast, "VT": RegionNortheast,

	"AK": RegionRemote, "HI": RegionRemote, "PR": RegionRemote,
	"GU": RegionRemote, "VI": RegionRemote,
}

// Region maps a US destination to a coarse geographic region. Non-US
// destinations and unmapped state codes report as international.
func Region(country, state string) string {
	switch strings.ToUpper(strings.TrimSpace(country)) {
	case "US", "USA":
	default:
		return ZoneInternational
	}
	if region, ok := stateRegions[strings.ToUpper(strings.TrimSpace(state))]; ok {
		return region
	}
	return ZoneInternational
}

// Classify derives the full segment key for a snapshot. The season comes
// from the transit-start timestamp; snapshots that have not started transit
// classify as normal season.
func Classify(snap *Snapshot) SegmentKey {
	season := SeasonNormal
	if snap.InTransitAt != nil {
		season = SeasonBucket(*snap.InTransitAt)
	}
	return SegmentKey{
		Carrier:       snap.Carrier,
		Service:       snap.Service,
		ServiceBucket: ServiceBucket(snap.Service),
		ZoneBucket:    ZoneBucket(snap.Zone),
		SeasonBucket:  season,
	}
}
