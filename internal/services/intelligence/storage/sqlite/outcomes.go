package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
)

const outcomeColumns = `shipment_id, carrier, carrier_service, service_bucket,
       zone_bucket, season_bucket, outcome, observed_days, is_censored,
       has_exception, has_failed_attempt, event_count, total_transit_days,
       days_to_out_for_delivery, days_last_mile, evaluated_at`

func scanOutcome(scan func(dest ...any) error) (domain.OutcomeRecord, error) {
	var rec domain.OutcomeRecord
	var outcome string
	var daysToOFD, daysLastMile sql.NullFloat64
	var evaluatedAt int64
	if err := scan(
		&rec.ShipmentID,
		&rec.Carrier,
		&rec.Service,
		&rec.ServiceBucket,
		&rec.ZoneBucket,
		&rec.SeasonBucket,
		&outcome,
		&rec.ObservedDays,
		&rec.Censored,
		&rec.HasException,
		&rec.HasFailedAttempt,
		&rec.EventCount,
		&rec.TotalTransitDays,
		&daysToOFD,
		&daysLastMile,
		&evaluatedAt,
	); err != nil {
		return domain.OutcomeRecord{}, err
	}
	rec.Outcome = domain.Outcome(outcome)
	if daysToOFD.Valid {
		v := daysToOFD.Float64
		rec.DaysToOutForDelivery = &v
	}
	if daysLastMile.Valid {
		v := daysLastMile.Float64
		rec.DaysLastMile = &v
	}
	rec.EvaluatedAt = fromMillis(evaluatedAt)
	return rec, nil
}

func nullFloat(value *float64) any {
	if value == nil {
		return nil
	}
	return *value
}

// UpsertOutcomes writes outcome records keyed by shipment id in a single
// transaction. Existing rows are updated in place.
func (s *Store) UpsertOutcomes(ctx context.Context, records []domain.OutcomeRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin outcome upsert: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO outcome_records (
		   shipment_id, carrier, carrier_service, service_bucket,
		   zone_bucket, season_bucket, outcome, observed_days, is_censored,
		   has_exception, has_failed_attempt, event_count, total_transit_days,
		   days_to_out_for_delivery, days_last_mile, evaluated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (shipment_id) DO UPDATE SET
		   carrier = excluded.carrier,
		   carrier_service = excluded.carrier_service,
		   service_bucket = excluded.service_bucket,
		   zone_bucket = excluded.zone_bucket,
		   season_bucket = excluded.season_bucket,
		   outcome = excluded.outcome,
		   observed_days = excluded.observed_days,
		   is_censored = excluded.is_censored,
		   has_exception = excluded.has_exception,
		   has_failed_attempt = excluded.has_failed_attempt,
		   event_count = excluded.event_count,
		   total_transit_days = excluded.total_transit_days,
		   days_to_out_for_delivery = excluded.days_to_out_for_delivery,
		   days_last_mile = excluded.days_last_mile,
		   evaluated_at = excluded.evaluated_at`,
	)
	if err != nil {
		return fmt.Errorf("prepare outcome upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.ShipmentID == "" {
			return fmt.Errorf("outcome record without shipment id")
		}
		if _, err := stmt.ExecContext(
			ctx,
			rec.ShipmentID,
			rec.Carrier,
			rec.Service,
			rec.ServiceBucket,
			rec.ZoneBucket,
			rec.SeasonBucket,
			string(rec.Outcome),
			rec.ObservedDays,
			rec.Censored,
			rec.HasException,
			rec.HasFailedAttempt,
			rec.EventCount,
			rec.TotalTransitDays,
			nullFloat(rec.DaysToOutForDelivery),
			nullFloat(rec.DaysLastMile),
			toMillis(rec.EvaluatedAt),
		); err != nil {
			return fmt.Errorf("upsert outcome %s: %w", rec.ShipmentID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit outcome upsert: %w", err)
	}
	return nil
}

// ExistingShipmentIDs reports which of the given shipment ids already have
// an outcome record.
func (s *Store) ExistingShipmentIDs(ctx context.Context, shipmentIDs []string) (map[string]bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	existing := make(map[string]bool)
	for _, chunk := range chunkIDs(shipmentIDs) {
		query := `SELECT shipment_id FROM outcome_records WHERE shipment_id IN (` +
			placeholders(len(chunk)) + `)`
		rows, err := s.sqlDB.QueryContext(ctx, query, chunk...)
		if err != nil {
			return nil, fmt.Errorf("list existing outcomes: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("list existing outcomes: %w", err)
			}
			existing[id] = true
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list existing outcomes: %w", err)
		}
		rows.Close()
	}
	return existing, nil
}

func (s *Store) listOutcomes(ctx context.Context, where string, afterShipmentID string, limit int, extraArgs ...any) (storage.OutcomePage, error) {
	if err := ctx.Err(); err != nil {
		return storage.OutcomePage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.OutcomePage{}, fmt.Errorf("storage is not configured")
	}
	limit = clampLimit(limit)

	args := append([]any{}, extraArgs...)
	args = append(args, afterShipmentID, limit+1)
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+outcomeColumns+`
		   FROM outcome_records
		  WHERE `+where+` shipment_id > ?
		  ORDER BY shipment_id ASC
		  LIMIT ?`,
		args...,
	)
	if err != nil {
		return storage.OutcomePage{}, fmt.Errorf("list outcomes: %w", err)
	}
	defer rows.Close()

	page := storage.OutcomePage{Records: make([]domain.OutcomeRecord, 0, limit)}
	for rows.Next() {
		rec, err := scanOutcome(rows.Scan)
		if err != nil {
			return storage.OutcomePage{}, fmt.Errorf("list outcomes: %w", err)
		}
		page.Records = append(page.Records, rec)
	}
	if err := rows.Err(); err != nil {
		return storage.OutcomePage{}, fmt.Errorf("list outcomes: %w", err)
	}
	if len(page.Records) > limit {
		page.NextShipmentID = page.Records[limit-1].ShipmentID
		page.Records = page.Records[:limit]
	}
	return page, nil
}

// ListOutcomes returns one cursor page over all outcome records.
func (s *Store) ListOutcomes(ctx context.Context, afterShipmentID string, limit int) (storage.OutcomePage, error) {
	return s.listOutcomes(ctx, "", afterShipmentID, limit)
}

// ListCensoredOutcomes returns one cursor page over records still censored.
func (s *Store) ListCensoredOutcomes(ctx context.Context, afterShipmentID string, limit int) (storage.OutcomePage, error) {
	return s.listOutcomes(ctx, "outcome = ? AND", afterShipmentID, limit, string(domain.OutcomeCensored))
}

// OutcomeSummary counts outcome records by label.
func (s *Store) OutcomeSummary(ctx context.Context) (map[domain.Outcome]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT outcome, COUNT(*) FROM outcome_records GROUP BY outcome`,
	)
	if err != nil {
		return nil, fmt.Errorf("outcome summary: %w", err)
	}
	defer rows.Close()

	summary := make(map[domain.Outcome]int)
	for rows.Next() {
		var outcome string
		var count int
		if err := rows.Scan(&outcome, &count); err != nil {
			return nil, fmt.Errorf("outcome summary: %w", err)
		}
		summary[domain.Outcome(outcome)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome summary: %w", err)
	}
	return summary, nil
}

// CarrierPerformance aggregates delivered, lost, and censored counts and
// rates per carrier.
func (s *Store) CarrierPerformance(ctx context.Context) ([]storage.CarrierStats, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT carrier,
		        COUNT(*),
		        SUM(CASE WHEN outcome = 'delivered' THEN 1 ELSE 0 END),
		        SUM(CASE WHEN outcome IN ('lost_claim', 'lost_exception', 'lost_timeout') THEN 1 ELSE 0 END),
		        SUM(CASE WHEN outcome = 'censored' THEN 1 ELSE 0 END)
		   FROM outcome_records
		  GROUP BY carrier
		  ORDER BY carrier ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("carrier performance: %w", err)
	}
	defer rows.Close()

	var stats []storage.CarrierStats
	for rows.Next() {
		var row storage.CarrierStats
		if err := rows.Scan(&row.Carrier, &row.Total, &row.Delivered, &row.Lost, &row.Censored); err != nil {
			return nil, fmt.Errorf("carrier performance: %w", err)
		}
		if row.Total > 0 {
			row.DeliveredRate = float64(row.Delivered) / float64(row.Total)
			row.LostRate = float64(row.Lost) / float64(row.Total)
		}
		stats = append(stats, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("carrier performance: %w", err)
	}
	return stats, nil
}

var _ storage.OutcomeStore = (*Store)(nil)
