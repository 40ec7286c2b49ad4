package batch

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
)

// fakeSnapshotSource serves snapshots from memory with the same cursor
// semantics as the sqlite store: ascending shipment id, next cursor set to
// the last row when more remain.
type fakeSnapshotSource struct {
	byID    map[string]*domain.Snapshot
	listErr error
	ops     *[]string
}

func (f *fakeSnapshotSource) Snapshot(_ context.Context, shipmentID string) (*domain.Snapshot, error) {
	snap, ok := f.byID[shipmentID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return snap, nil
}

func (f *fakeSnapshotSource) Snapshots(_ context.Context, shipmentIDs []string) (map[string]*domain.Snapshot, error) {
	result := make(map[string]*domain.Snapshot)
	for _, id := range shipmentIDs {
		if snap, ok := f.byID[id]; ok {
			result[id] = snap
		}
	}
	return result, nil
}

func (f *fakeSnapshotSource) ListInTransit(_ context.Context, after string, limit int) (storage.SnapshotPage, error) {
	f.log("ListInTransit")
	if f.listErr != nil {
		return storage.SnapshotPage{}, f.listErr
	}
	var ids []string
	for id, snap := range f.byID {
		if id > after && snap.InTransitAt != nil {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var page storage.SnapshotPage
	for i, id := range ids {
		if i == limit {
			page.NextShipmentID = ids[i-1]
			break
		}
		page.Snapshots = append(page.Snapshots, *f.byID[id])
	}
	return page, nil
}

func (f *fakeSnapshotSource) log(op string) {
	if f.ops != nil {
		*f.ops = append(*f.ops, op)
	}
}

type fakeClaimSource struct {
	byID map[string]domain.Claim
}

func (f *fakeClaimSource) LossClaims(_ context.Context, shipmentIDs []string) (map[string]domain.Claim, error) {
	result := make(map[string]domain.Claim)
	for _, id := range shipmentIDs {
		if claim, ok := f.byID[id]; ok {
			result[id] = claim
		}
	}
	return result, nil
}

type fakeOutcomeStore struct {
	records          map[string]domain.OutcomeRecord
	upserts          [][]domain.OutcomeRecord
	failExistingOnce bool
	ops              *[]string
}

func newFakeOutcomeStore() *fakeOutcomeStore {
	return &fakeOutcomeStore{records: make(map[string]domain.OutcomeRecord)}
}

func (f *fakeOutcomeStore) UpsertOutcomes(_ context.Context, records []domain.OutcomeRecord) error {
	f.log("UpsertOutcomes")
	f.upserts = append(f.upserts, records)
	for _, rec := range records {
		f.records[rec.ShipmentID] = rec
	}
	return nil
}

func (f *fakeOutcomeStore) ExistingShipmentIDs(_ context.Context, shipmentIDs []string) (map[string]bool, error) {
	if f.failExistingOnce {
		f.failExistingOnce = false
		return nil, errors.New("transient failure")
	}
	existing := make(map[string]bool)
	for _, id := range shipmentIDs {
		if _, ok := f.records[id]; ok {
			existing[id] = true
		}
	}
	return existing, nil
}

func (f *fakeOutcomeStore) ListOutcomes(_ context.Context, after string, limit int) (storage.OutcomePage, error) {
	f.log("ListOutcomes")
	return f.list(after, limit, false), nil
}

func (f *fakeOutcomeStore) ListCensoredOutcomes(_ context.Context, after string, limit int) (storage.OutcomePage, error) {
	f.log("ListCensoredOutcomes")
	return f.list(after, limit, true), nil
}

func (f *fakeOutcomeStore) list(after string, limit int, censoredOnly bool) storage.OutcomePage {
	var ids []string
	for id, rec := range f.records {
		if id > after && (!censoredOnly || rec.Censored) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	var page storage.OutcomePage
	for i, id := range ids {
		if i == limit {
			page.NextShipmentID = ids[i-1]
			break
		}
		page.Records = append(page.Records, f.records[id])
	}
	return page
}

func (f *fakeOutcomeStore) OutcomeSummary(context.Context) (map[domain.Outcome]int, error) {
	summary := make(map[domain.Outcome]int)
	for _, rec := range f.records {
		summary[rec.Outcome]++
	}
	return summary, nil
}

func (f *fakeOutcomeStore) CarrierPerformance(context.Context) ([]storage.CarrierStats, error) {
	return nil, nil
}

func (f *fakeOutcomeStore) log(op string) {
	if f.ops != nil {
		*f.ops = append(*f.ops, op)
	}
}

type fakeCurveStore struct {
	curves   map[domain.SegmentKey]domain.Curve
	failKeys map[domain.SegmentKey]bool
	ops      *[]string
}

func newFakeCurveStore() *fakeCurveStore {
	return &fakeCurveStore{curves: make(map[domain.SegmentKey]domain.Curve)}
}

func (f *fakeCurveStore) ReplaceCurve(_ context.Context, curve domain.Curve) error {
	if f.ops != nil {
		*f.ops = append(*f.ops, "ReplaceCurve")
	}
	if f.failKeys[curve.Segment] {
		return errors.New("write failed")
	}
	f.curves[curve.Segment] = curve
	return nil
}

func (f *fakeCurveStore) FindCurve(context.Context, domain.CurveFilter) (*domain.Curve, error) {
	return nil, nil
}

func (f *fakeCurveStore) ConfidenceDistribution(context.Context) (map[domain.Confidence]int, error) {
	return nil, nil
}

func (f *fakeCurveStore) ConfidenceHeatmap(context.Context) ([]storage.HeatmapCell, error) {
	return nil, nil
}

var (
	_ storage.SnapshotSource = (*fakeSnapshotSource)(nil)
	_ storage.ClaimSource    = (*fakeClaimSource)(nil)
	_ storage.OutcomeStore   = (*fakeOutcomeStore)(nil)
	_ storage.CurveStore     = (*fakeCurveStore)(nil)
)

var testNow = time.Date(2025, time.June, 20, 0, 0, 0, 0, time.UTC)

func clock() time.Time { return testNow }

func daysAgo(days float64) *time.Time {
	t := testNow.Add(-time.Duration(days * 24 * float64(time.Hour)))
	return &t
}

func intPtr(v int) *int { return &v }

// deliveredSnapshot finished transit two days after starting.
func deliveredSnapshot(id string) *domain.Snapshot {
	return &domain.Snapshot{
		ShipmentID:  id,
		Carrier:     "UPS",
		Service:     "UPS Ground",
		Zone:        intPtr(5),
		InTransitAt: daysAgo(6),
		DeliveredAt: daysAgo(4),
	}
}

// inFlightSnapshot started recently and classifies as censored.
func inFlightSnapshot(id string) *domain.Snapshot {
	return &domain.Snapshot{
		ShipmentID:  id,
		Carrier:     "FedEx",
		Zone:        intPtr(5),
		InTransitAt: daysAgo(5),
	}
}

func censoredRecord(id string) domain.OutcomeRecord {
	return domain.OutcomeRecord{
		ShipmentID:    id,
		Carrier:       "UPS",
		Service:       "UPS Ground",
		ServiceBucket: "ground",
		ZoneBucket:    "zone_5",
		SeasonBucket:  "normal",
		Outcome:       domain.OutcomeCensored,
		ObservedDays:  5,
		Censored:      true,
		EvaluatedAt:   testNow.Add(-24 * time.Hour),
	}
}

func TestSyncCreatesOnlyUnrecorded(t *testing.T) {
	snapshots := &fakeSnapshotSource{byID: map[string]*domain.Snapshot{
		"SHP-1": deliveredSnapshot("SHP-1"),
		"SHP-2": inFlightSnapshot("SHP-2"),
		"SHP-3": deliveredSnapshot("SHP-3"),
	}}
	outcomes := newFakeOutcomeStore()
	outcomes.records["SHP-3"] = censoredRecord("SHP-3")

	job := NewSyncJob(snapshots, &fakeClaimSource{}, outcomes, 2, clock)
	stats, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.Scanned != 3 || stats.Created != 2 || stats.Skipped != 1 || stats.PageErrors != 0 {
		t.Fatalf("stats = %+v, want scanned 3 created 2 skipped 1", stats)
	}
	if got := outcomes.records["SHP-1"].Outcome; got != domain.OutcomeDelivered {
		t.Fatalf("SHP-1 outcome = %q, want delivered", got)
	}
	if got := outcomes.records["SHP-2"].Outcome; got != domain.OutcomeCensored {
		t.Fatalf("SHP-2 outcome = %q, want censored", got)
	}
	// SHP-3 was already labeled; the sync must not have re-evaluated it.
	if got := outcomes.records["SHP-3"].Outcome; got != domain.OutcomeCensored {
		t.Fatalf("SHP-3 outcome = %q, want the pre-existing label", got)
	}
}

func TestSyncLabelsApprovedLossClaims(t *testing.T) {
	snap := inFlightSnapshot("SHP-1")
	snap.InTransitAt = daysAgo(20)
	snapshots := &fakeSnapshotSource{byID: map[string]*domain.Snapshot{"SHP-1": snap}}
	claims := &fakeClaimSource{byID: map[string]domain.Claim{
		"SHP-1": {Status: domain.ClaimStatusResolved, IssueType: domain.ClaimIssueLoss, FiledAt: testNow},
	}}
	outcomes := newFakeOutcomeStore()

	job := NewSyncJob(snapshots, claims, outcomes, 0, clock)
	if _, err := job.Run(context.Background()); err != nil {
		t.Fatalf("sync: %v", err)
	}
	if got := outcomes.records["SHP-1"].Outcome; got != domain.OutcomeLostClaim {
		t.Fatalf("outcome = %q, want lost_claim", got)
	}
}

func TestSyncContinuesAfterPageFailure(t *testing.T) {
	snapshots := &fakeSnapshotSource{byID: map[string]*domain.Snapshot{
		"SHP-1": deliveredSnapshot("SHP-1"),
		"SHP-2": deliveredSnapshot("SHP-2"),
		"SHP-3": deliveredSnapshot("SHP-3"),
	}}
	outcomes := newFakeOutcomeStore()
	outcomes.failExistingOnce = true

	job := NewSyncJob(snapshots, &fakeClaimSource{}, outcomes, 2, clock)
	stats, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if stats.PageErrors != 1 {
		t.Fatalf("page errors = %d, want 1", stats.PageErrors)
	}
	if stats.Created != 1 {
		t.Fatalf("created = %d, want 1 from the surviving page", stats.Created)
	}
}

func TestSyncFailsWhenListingFails(t *testing.T) {
	snapshots := &fakeSnapshotSource{listErr: errors.New("db down")}
	job := NewSyncJob(snapshots, &fakeClaimSource{}, newFakeOutcomeStore(), 0, clock)
	if _, err := job.Run(context.Background()); err == nil {
		t.Fatal("expected the run to fail without a page to advance past")
	}
}

func TestRefreshUpdatesOnlyChangedRecords(t *testing.T) {
	snapshots := &fakeSnapshotSource{byID: map[string]*domain.Snapshot{
		"SHP-1": deliveredSnapshot("SHP-1"), // censored record, now delivered
		"SHP-2": inFlightSnapshot("SHP-2"),  // still censored
	}}
	outcomes := newFakeOutcomeStore()
	outcomes.records["SHP-1"] = censoredRecord("SHP-1")
	outcomes.records["SHP-2"] = censoredRecord("SHP-2")

	job := NewRefreshJob(snapshots, &fakeClaimSource{}, outcomes, 0, clock)
	stats, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if stats.Scanned != 2 || stats.Updated != 1 {
		t.Fatalf("stats = %+v, want scanned 2 updated 1", stats)
	}
	if got := outcomes.records["SHP-1"].Outcome; got != domain.OutcomeDelivered {
		t.Fatalf("SHP-1 outcome = %q, want delivered after refresh", got)
	}
	if len(outcomes.upserts) != 1 || len(outcomes.upserts[0]) != 1 {
		t.Fatalf("upserts = %+v, want one batch with only the changed record", outcomes.upserts)
	}
	if outcomes.upserts[0][0].ShipmentID != "SHP-1" {
		t.Fatalf("upserted %q, want SHP-1", outcomes.upserts[0][0].ShipmentID)
	}
}

func TestRefitFitsExactAndRollupCurves(t *testing.T) {
	outcomes := newFakeOutcomeStore()
	upsRecord := censoredRecord("SHP-1")
	upsRecord.Outcome = domain.OutcomeDelivered
	upsRecord.Censored = false
	upsRecord.ObservedDays = 3
	fedexRecord := domain.OutcomeRecord{
		ShipmentID:    "SHP-2",
		Carrier:       "FedEx",
		ServiceBucket: "ground",
		ZoneBucket:    "zone_5",
		SeasonBucket:  "normal",
		Outcome:       domain.OutcomeDelivered,
		ObservedDays:  5,
	}
	outcomes.records["SHP-1"] = upsRecord
	outcomes.records["SHP-2"] = fedexRecord
	curves := newFakeCurveStore()

	job := NewRefitJob(outcomes, curves, 1, clock)
	stats, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("refit: %v", err)
	}
	if stats.Records != 2 || stats.Segments != 2 {
		t.Fatalf("stats = %+v, want 2 records across 2 exact segments", stats)
	}
	// Exact keys plus the distinct tiers: the FedEx record has no service
	// name, so its exact key doubles as its first tier.
	if stats.CurvesWritten != 5 || len(curves.curves) != 5 {
		t.Fatalf("curves written = %d (%d stored), want 5", stats.CurvesWritten, len(curves.curves))
	}

	sharedTier := domain.SegmentKey{
		Carrier: domain.SegmentAll, ServiceBucket: "ground",
		ZoneBucket: "zone_5", SeasonBucket: "normal",
	}
	if got := curves.curves[sharedTier].SampleSize; got != 2 {
		t.Fatalf("shared tier sample = %d, want the union of both carriers", got)
	}
	exact := domain.SegmentKey{
		Carrier: "UPS", Service: "UPS Ground", ServiceBucket: "ground",
		ZoneBucket: "zone_5", SeasonBucket: "normal",
	}
	if got := curves.curves[exact].SampleSize; got != 1 {
		t.Fatalf("exact UPS sample = %d, want 1", got)
	}
	fedexExact := domain.SegmentKey{
		Carrier: "FedEx", ServiceBucket: "ground",
		ZoneBucket: "zone_5", SeasonBucket: "normal",
	}
	if got := curves.curves[fedexExact].SampleSize; got != 1 {
		t.Fatalf("exact FedEx sample = %d, want 1, not a double-fed duplicate", got)
	}
}

func TestRefitContinuesAfterPersistFailure(t *testing.T) {
	outcomes := newFakeOutcomeStore()
	rec := censoredRecord("SHP-1")
	rec.Outcome = domain.OutcomeDelivered
	rec.Censored = false
	outcomes.records["SHP-1"] = rec
	curves := newFakeCurveStore()
	curves.failKeys = map[domain.SegmentKey]bool{
		{Carrier: "UPS", Service: "UPS Ground", ServiceBucket: "ground",
			ZoneBucket: "zone_5", SeasonBucket: "normal"}: true,
	}

	job := NewRefitJob(outcomes, curves, 0, clock)
	stats, err := job.Run(context.Background())
	if err != nil {
		t.Fatalf("refit: %v", err)
	}
	if stats.SegmentErrors != 1 {
		t.Fatalf("segment errors = %d, want 1", stats.SegmentErrors)
	}
	if stats.CurvesWritten != 3 {
		t.Fatalf("curves written = %d, want the 3 surviving tiers", stats.CurvesWritten)
	}
}

func TestPipelineRunsRefreshSyncRefitInOrder(t *testing.T) {
	var ops []string
	snapshots := &fakeSnapshotSource{
		byID: map[string]*domain.Snapshot{"SHP-1": deliveredSnapshot("SHP-1")},
		ops:  &ops,
	}
	outcomes := newFakeOutcomeStore()
	outcomes.ops = &ops
	curves := newFakeCurveStore()
	curves.ops = &ops
	claims := &fakeClaimSource{}

	pipeline := &Pipeline{
		Refresh: NewRefreshJob(snapshots, claims, outcomes, 0, clock),
		Sync:    NewSyncJob(snapshots, claims, outcomes, 0, clock),
		Refit:   NewRefitJob(outcomes, curves, 0, clock),
	}
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	first := func(op string) int {
		for i, got := range ops {
			if got == op {
				return i
			}
		}
		t.Fatalf("op %q never ran (ops: %v)", op, ops)
		return -1
	}
	refresh := first("ListCensoredOutcomes")
	sync := first("ListInTransit")
	refit := first("ListOutcomes")
	replace := first("ReplaceCurve")
	if !(refresh < sync && sync < refit && refit < replace) {
		t.Fatalf("ops out of order: %v", ops)
	}
	if len(curves.curves) == 0 {
		t.Fatal("refit must see the records the sync created")
	}
}

func TestPipelineRefreshOptional(t *testing.T) {
	var ops []string
	snapshots := &fakeSnapshotSource{
		byID: map[string]*domain.Snapshot{"SHP-1": deliveredSnapshot("SHP-1")},
		ops:  &ops,
	}
	outcomes := newFakeOutcomeStore()
	outcomes.ops = &ops
	claims := &fakeClaimSource{}

	pipeline := &Pipeline{
		Sync:  NewSyncJob(snapshots, claims, outcomes, 0, clock),
		Refit: NewRefitJob(outcomes, newFakeCurveStore(), 0, clock),
	}
	if err := pipeline.Run(context.Background()); err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	for _, op := range ops {
		if op == "ListCensoredOutcomes" {
			t.Fatal("refresh ran despite being disabled")
		}
	}
}
