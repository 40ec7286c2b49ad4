package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
)

const curveColumns = `carrier, carrier_service, service_bucket, zone_bucket,
       season_bucket, curve_data, sample_size, delivered_count, lost_count,
       censored_count, median_days, p75_days, p90_days, p95_days,
       confidence, fitted_at`

func nullService(service string) any {
	if service == "" {
		return nil
	}
	return service
}

func scanCurve(scan func(dest ...any) error) (domain.Curve, error) {
	var curve domain.Curve
	var service sql.NullString
	var curveData string
	var median, p75, p90, p95 sql.NullFloat64
	var confidence string
	var fittedAt int64
	if err := scan(
		&curve.Segment.Carrier,
		&service,
		&curve.Segment.ServiceBucket,
		&curve.Segment.ZoneBucket,
		&curve.Segment.SeasonBucket,
		&curveData,
		&curve.SampleSize,
		&curve.DeliveredCount,
		&curve.LostCount,
		&curve.CensoredCount,
		&median,
		&p75,
		&p90,
		&p95,
		&confidence,
		&fittedAt,
	); err != nil {
		return domain.Curve{}, err
	}
	curve.Segment.Service = service.String
	if err := json.Unmarshal([]byte(curveData), &curve.Points); err != nil {
		return domain.Curve{}, fmt.Errorf("decode curve data: %w", err)
	}
	for _, pair := range []struct {
		src sql.NullFloat64
		dst **float64
	}{
		{median, &curve.MedianDays},
		{p75, &curve.P75Days},
		{p90, &curve.P90Days},
		{p95, &curve.P95Days},
	} {
		if pair.src.Valid {
			v := pair.src.Float64
			*pair.dst = &v
		}
	}
	curve.Confidence = domain.Confidence(confidence)
	curve.FittedAt = fromMillis(fittedAt)
	return curve, nil
}

// ReplaceCurve swaps the persisted curve for a segment key inside one
// transaction. The unique segment index cannot catch duplicate NULL-service
// rows, so the replace is an explicit delete-then-insert rather than an
// upsert; the transaction keeps the segment from reading as briefly absent
// mid-replacement.
func (s *Store) ReplaceCurve(ctx context.Context, curve domain.Curve) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if curve.Segment.Carrier == "" || curve.Segment.ServiceBucket == "" ||
		curve.Segment.ZoneBucket == "" || curve.Segment.SeasonBucket == "" {
		return fmt.Errorf("curve segment key is incomplete")
	}
	curveData, err := json.Marshal(curve.Points)
	if err != nil {
		return fmt.Errorf("encode curve data: %w", err)
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin curve replace: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(
		ctx,
		`DELETE FROM survival_curves
		  WHERE carrier = ? AND carrier_service IS ?
		    AND service_bucket = ? AND zone_bucket = ? AND season_bucket = ?`,
		curve.Segment.Carrier,
		nullService(curve.Segment.Service),
		curve.Segment.ServiceBucket,
		curve.Segment.ZoneBucket,
		curve.Segment.SeasonBucket,
	); err != nil {
		return fmt.Errorf("delete curve: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT INTO survival_curves (
		   carrier, carrier_service, service_bucket, zone_bucket, season_bucket,
		   curve_data, sample_size, delivered_count, lost_count, censored_count,
		   median_days, p75_days, p90_days, p95_days, confidence, fitted_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		curve.Segment.Carrier,
		nullService(curve.Segment.Service),
		curve.Segment.ServiceBucket,
		curve.Segment.ZoneBucket,
		curve.Segment.SeasonBucket,
		string(curveData),
		curve.SampleSize,
		curve.DeliveredCount,
		curve.LostCount,
		curve.CensoredCount,
		nullFloat(curve.MedianDays),
		nullFloat(curve.P75Days),
		nullFloat(curve.P90Days),
		nullFloat(curve.P95Days),
		string(curve.Confidence),
		toMillis(curve.FittedAt),
	); err != nil {
		return fmt.Errorf("insert curve: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit curve replace: %w", err)
	}
	return nil
}

// FindCurve returns the best curve matching the filter, preferring the
// largest sample among candidates. A nil curve with a nil error means no
// candidate met the sample floor.
func (s *Store) FindCurve(ctx context.Context, filter domain.CurveFilter) (*domain.Curve, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}

	query := `SELECT ` + curveColumns + `
	   FROM survival_curves
	  WHERE carrier = ? AND carrier_service IS ?
	    AND service_bucket = ? AND zone_bucket = ?`
	var serviceArg any
	if filter.Service != nil {
		serviceArg = *filter.Service
	}
	args := []any{filter.Carrier, serviceArg, filter.ServiceBucket, filter.ZoneBucket}
	if filter.SeasonBucket != "" {
		query += ` AND season_bucket = ?`
		args = append(args, filter.SeasonBucket)
	}
	query += ` AND sample_size >= ? ORDER BY sample_size DESC LIMIT 1`
	args = append(args, filter.MinSampleSize)

	row := s.sqlDB.QueryRowContext(ctx, query, args...)
	curve, err := scanCurve(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("find curve: %w", err)
	}
	return &curve, nil
}

// ConfidenceDistribution counts persisted curves per confidence grade.
func (s *Store) ConfidenceDistribution(ctx context.Context) (map[domain.Confidence]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT confidence, COUNT(*) FROM survival_curves GROUP BY confidence`,
	)
	if err != nil {
		return nil, fmt.Errorf("confidence distribution: %w", err)
	}
	defer rows.Close()

	distribution := make(map[domain.Confidence]int)
	for rows.Next() {
		var confidence string
		var count int
		if err := rows.Scan(&confidence, &count); err != nil {
			return nil, fmt.Errorf("confidence distribution: %w", err)
		}
		distribution[domain.Confidence(confidence)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("confidence distribution: %w", err)
	}
	return distribution, nil
}

// ConfidenceHeatmap reports, per carrier and zone, the largest sample size
// among that cell's curves and its confidence grade. Rolled-up all-carrier
// tiers are excluded; they would smear every zone across one row.
func (s *Store) ConfidenceHeatmap(ctx context.Context) ([]storage.HeatmapCell, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT carrier, zone_bucket, MAX(sample_size)
		   FROM survival_curves
		  WHERE carrier != ?
		  GROUP BY carrier, zone_bucket
		  ORDER BY carrier ASC, zone_bucket ASC`,
		domain.SegmentAll,
	)
	if err != nil {
		return nil, fmt.Errorf("confidence heatmap: %w", err)
	}
	defer rows.Close()

	var cells []storage.HeatmapCell
	for rows.Next() {
		var cell storage.HeatmapCell
		if err := rows.Scan(&cell.Carrier, &cell.ZoneBucket, &cell.SampleSize); err != nil {
			return nil, fmt.Errorf("confidence heatmap: %w", err)
		}
		cell.Confidence = domain.ConfidenceFor(cell.SampleSize)
		cells = append(cells, cell)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("confidence heatmap: %w", err)
	}
	return cells, nil
}

var _ storage.CurveStore = (*Store)(nil)
