package domain

import "context"

// CurveFilter narrows a curve lookup to one candidate set. Service is a
// three-state match: nil matches curves with no exact service name (the
// rolled-up tiers), a non-nil value matches that exact name. An empty
// SeasonBucket matches any season; among several seasonal candidates the
// largest sample wins.
type CurveFilter struct {
	Carrier       string
	Service       *string
	ServiceBucket string
	ZoneBucket    string
	SeasonBucket  string
	MinSampleSize int
}

// CurveFinder looks up the best persisted curve matching a filter. A nil
// curve with a nil error means no candidate qualified; that is an expected
// result, not an error.
type CurveFinder interface {
	FindCurve(ctx context.Context, filter CurveFilter) (*Curve, error)
}

// DefaultMinSampleSize is the observation floor a curve must meet before the
// resolver will trust it over a broader tier.
const DefaultMinSampleSize = 100

// Resolver picks the most specific survival curve available for a segment,
// falling back through progressively broader aggregation tiers when the
// exact segment is too sparse.
type Resolver struct {
	curves        CurveFinder
	minSampleSize int
}

// NewResolver builds a resolver over a curve finder. A non-positive
// minSampleSize takes the default floor.
func NewResolver(curves CurveFinder, minSampleSize int) *Resolver {
	if minSampleSize <= 0 {
		minSampleSize = DefaultMinSampleSize
	}
	return &Resolver{curves: curves, minSampleSize: minSampleSize}
}

// nullableService maps the domain's ""-means-none service encoding onto the
// filter's three-state match.
func nullableService(service string) *string {
	if service == "" {
		return nil
	}
	return &service
}

// Resolve tries five lookups from most to least specific and returns the
// first curve meeting the sample floor, or nil when none qualifies. The
// service bucket and shipping zone are held fixed through every step: a
// ground shipment never borrows an express curve, and no zone substitutes
// for another. Only the exact service name, the season, and finally the
// carrier are broadened away.
func (r *Resolver) Resolve(ctx context.Context, key SegmentKey) (*Curve, error) {
	filters := []CurveFilter{
		{
			Carrier:       key.Carrier,
			Service:       nullableService(key.Service),
			ServiceBucket: key.ServiceBucket,
			ZoneBucket:    key.ZoneBucket,
			SeasonBucket:  key.SeasonBucket,
		},
		{
			Carrier:       key.Carrier,
			Service:       nullableService(key.Service),
			ServiceBucket: key.ServiceBucket,
			ZoneBucket:    key.ZoneBucket,
		},
		{
			Carrier:       key.Carrier,
			ServiceBucket: key.ServiceBucket,
			ZoneBucket:    key.ZoneBucket,
		},
		{
			Carrier:       SegmentAll,
			ServiceBucket: key.ServiceBucket,
			ZoneBucket:    key.ZoneBucket,
		},
		{
			Carrier:       SegmentAll,
			ServiceBucket: SegmentAll,
			ZoneBucket:    key.ZoneBucket,
		},
	}

	for _, filter := range filters {
		filter.MinSampleSize = r.minSampleSize
		curve, err := r.curves.FindCurve(ctx, filter)
		if err != nil {
			return nil, err
		}
		if curve != nil {
			return curve, nil
		}
	}
	return nil, nil
}
