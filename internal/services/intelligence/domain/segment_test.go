package domain

import (
	"reflect"
	"testing"
	"time"
)

func intPtr(v int) *int { return &v }

func TestZoneBucket(t *testing.T) {
	tests := []struct {
		name string
		zone *int
		want string
	}{
		{"nil defaults to zone 5", nil, "zone_5"},
		{"zero defaults to zone 5", intPtr(0), "zone_5"},
		{"negative defaults to zone 5", intPtr(-2), "zone_5"},
		{"zone 1", intPtr(1), "zone_1"},
		{"zone 8", intPtr(8), "zone_8"},
		{"zone 10", intPtr(10), "zone_10"},
		{"zone 11 is international", intPtr(11), "international"},
		{"zone 14 is international", intPtr(14), "international"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := ZoneBucket(tc.zone); got != tc.want {
				t.Fatalf("ZoneBucket = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestAdjacentZoneBuckets(t *testing.T) {
	tests := []struct {
		name string
		zone *int
		want []string
	}{
		{"middle zone has both neighbors", intPtr(5), []string{"zone_4", "zone_6"}},
		{"zone 1 has only upper neighbor", intPtr(1), []string{"zone_2"}},
		{"zone 10 has only lower neighbor", intPtr(10), []string{"zone_9"}},
		{"nil has none", nil, nil},
		{"international has none", intPtr(12), nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := AdjacentZoneBuckets(tc.zone); !reflect.DeepEqual(got, tc.want) {
				t.Fatalf("AdjacentZoneBuckets = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestServiceBucket(t *testing.T) {
	tests := []struct {
		service string
		want    string
	}{
		{"FedEx Priority Overnight", "express"},
		{"UPS Next Day Air", "express"},
		{"OVERNIGHT SAVER", "express"},
		{"FedEx 2Day", "2day"},
		{"UPS 2 Day Air", "2day"},
		{"DHL Premium", "premium"},
		{"UPS Ground", "ground"},
		{"Ground Advantage", "ground"},
		{"Parcel Select", "ground"},
		{"Standard Post", "ground"},
		{"Economy", "ground"},
		{"Something Unrecognized", "ground"},
		{"", "ground"},
	}
	for _, tc := range tests {
		t.Run(tc.service, func(t *testing.T) {
			if got := ServiceBucket(tc.service); got != tc.want {
				t.Fatalf("ServiceBucket(%q) = %q, want %q", tc.service, got, tc.want)
			}
		})
	}
}

func TestSeasonBucket(t *testing.T) {
	tests := []struct {
		month time.Month
		want  string
	}{
		{time.January, "peak"},
		{time.February, "normal"},
		{time.June, "normal"},
		{time.October, "normal"},
		{time.November, "peak"},
		{time.December, "peak"},
	}
	for _, tc := range tests {
		t.Run(tc.month.String(), func(t *testing.T) {
			at := time.Date(2025, tc.month, 15, 0, 0, 0, 0, time.UTC)
			if got := SeasonBucket(at); got != tc.want {
				t.Fatalf("SeasonBucket(%v) = %q, want %q", tc.month, got, tc.want)
			}
		})
	}
}

func TestRegion(t *testing.T) {
	tests := []struct {
		country string
		state   string
		want    string
	}{
		{"US", "CA", "west_coast"},
		{"US", "co", "mountain"},
		{"USA", "OH", "midwest"},
		{"US", "TX", "south"},
		{"US", "NY", "northeast"},
		{"US", "HI", "remote"},
		{"US", "ZZ", "international"},
		{"CA", "ON", "international"},
		{"", "", "international"},
	}
	for _, tc := range tests {
		t.Run(tc.country+"/"+tc.state, func(t *testing.T) {
			if got := Region(tc.country, tc.state); got != tc.want {
				t.Fatalf("Region(%q, %q) = %q, want %q", tc.country, tc.state, got, tc.want)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	start := time.Date(2025, time.December, 2, 12, 0, 0, 0, time.UTC)
	snap := &Snapshot{
		ShipmentID: "SHP-1",
		Carrier:    "UPS",
		Service:    "UPS 2 Day Air",
		Zone:       intPtr(4),
		InTransitAt: &start,
	}

	got := Classify(snap)
	want := SegmentKey{
		Carrier:       "UPS",
		Service:       "UPS 2 Day Air",
		ServiceBucket: "2day",
		ZoneBucket:    "zone_4",
		SeasonBucket:  "peak",
	}
	if got != want {
		t.Fatalf("Classify = %+v, want %+v", got, want)
	}
}

func TestClassifyWithoutTransitStartIsNormalSeason(t *testing.T) {
	snap := &Snapshot{ShipmentID: "SHP-2", Carrier: "FedEx"}
	got := Classify(snap)
	if got.SeasonBucket != SeasonNormal {
		t.Fatalf("season = %q, want %q", got.SeasonBucket, SeasonNormal)
	}
	if got.ZoneBucket != "zone_5" {
		t.Fatalf("zone = %q, want zone_5", got.ZoneBucket)
	}
}
