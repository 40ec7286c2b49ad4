// Package sqlite provides a SQLite-backed intelligence storage implementation.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/quaymark/shipsight/internal/platform/storage/sqlitemigrate"
	"github.com/quaymark/shipsight/internal/services/intelligence/domain"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage"
	"github.com/quaymark/shipsight/internal/services/intelligence/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store persists intelligence state in SQLite.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func toNullMillis(value *time.Time) any {
	if value == nil {
		return nil
	}
	return toMillis(*value)
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// clampLimit bounds list query limits to the hard page cap.
func clampLimit(limit int) int {
	if limit <= 0 || limit > storage.MaxPageSize {
		return storage.MaxPageSize
	}
	return limit
}

// Open opens a SQLite intelligence store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, ""); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// Ping verifies the database connection, for health checks.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	return s.sqlDB.PingContext(ctx)
}

const snapshotColumns = `shipment_id, carrier, carrier_service, zone,
       dest_country, dest_state,
       in_transit_at, out_for_delivery_at, delivered_at, attempt_failed_at,
       events`

func scanSnapshot(scan func(dest ...any) error) (domain.Snapshot, error) {
	var snap domain.Snapshot
	var service sql.NullString
	var zone sql.NullInt64
	var inTransitAt, outForDeliveryAt, deliveredAt, attemptFailedAt sql.NullInt64
	var events string
	if err := scan(
		&snap.ShipmentID,
		&snap.Carrier,
		&service,
		&zone,
		&snap.DestCountry,
		&snap.DestState,
		&inTransitAt,
		&outForDeliveryAt,
		&deliveredAt,
		&attemptFailedAt,
		&events,
	); err != nil {
		return domain.Snapshot{}, err
	}
	snap.Service = service.String
	if zone.Valid {
		z := int(zone.Int64)
		snap.Zone = &z
	}
	snap.InTransitAt = fromNullMillis(inTransitAt)
	snap.OutForDeliveryAt = fromNullMillis(outForDeliveryAt)
	snap.DeliveredAt = fromNullMillis(deliveredAt)
	snap.AttemptFailedAt = fromNullMillis(attemptFailedAt)
	if events != "" {
		if err := json.Unmarshal([]byte(events), &snap.Events); err != nil {
			return domain.Snapshot{}, fmt.Errorf("decode events for %s: %w", snap.ShipmentID, err)
		}
	}
	return snap, nil
}

// UpsertSnapshot writes one tracking snapshot. The upstream carrier-feed
// sync owns this table in production; this write path exists for seeding
// and tests.
func (s *Store) UpsertSnapshot(ctx context.Context, snap domain.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if strings.TrimSpace(snap.ShipmentID) == "" {
		return fmt.Errorf("shipment id is required")
	}
	events, err := json.Marshal(snap.Events)
	if err != nil {
		return fmt.Errorf("encode events: %w", err)
	}
	var service any
	if snap.Service != "" {
		service = snap.Service
	}
	var zone any
	if snap.Zone != nil {
		zone = *snap.Zone
	}
	_, err = s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO tracking_snapshots (
		   shipment_id, carrier, carrier_service, zone,
		   dest_country, dest_state,
		   in_transit_at, out_for_delivery_at, delivered_at, attempt_failed_at,
		   events, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (shipment_id) DO UPDATE SET
		   carrier = excluded.carrier,
		   carrier_service = excluded.carrier_service,
		   zone = excluded.zone,
		   dest_country = excluded.dest_country,
		   dest_state = excluded.dest_state,
		   in_transit_at = excluded.in_transit_at,
		   out_for_delivery_at = excluded.out_for_delivery_at,
		   delivered_at = excluded.delivered_at,
		   attempt_failed_at = excluded.attempt_failed_at,
		   events = excluded.events,
		   updated_at = excluded.updated_at`,
		snap.ShipmentID,
		snap.Carrier,
		service,
		zone,
		snap.DestCountry,
		snap.DestState,
		toNullMillis(snap.InTransitAt),
		toNullMillis(snap.OutForDeliveryAt),
		toNullMillis(snap.DeliveredAt),
		toNullMillis(snap.AttemptFailedAt),
		string(events),
		toMillis(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert snapshot: %w", err)
	}
	return nil
}

// Snapshot returns one shipment's tracking snapshot.
func (s *Store) Snapshot(ctx context.Context, shipmentID string) (*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return nil, fmt.Errorf("shipment id is required")
	}
	row := s.sqlDB.QueryRowContext(
		ctx,
		`SELECT `+snapshotColumns+` FROM tracking_snapshots WHERE shipment_id = ?`,
		shipmentID,
	)
	snap, err := scanSnapshot(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return &snap, nil
}

// Snapshots returns the snapshots for the given ids in one query per chunk.
// Unknown ids are absent from the result.
func (s *Store) Snapshots(ctx context.Context, shipmentIDs []string) (map[string]*domain.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	result := make(map[string]*domain.Snapshot, len(shipmentIDs))
	for _, chunk := range chunkIDs(shipmentIDs) {
		query := `SELECT ` + snapshotColumns + ` FROM tracking_snapshots WHERE shipment_id IN (` +
			placeholders(len(chunk)) + `)`
		rows, err := s.sqlDB.QueryContext(ctx, query, chunk...)
		if err != nil {
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		for rows.Next() {
			snap, err := scanSnapshot(rows.Scan)
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("list snapshots: %w", err)
			}
			copied := snap
			result[snap.ShipmentID] = &copied
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list snapshots: %w", err)
		}
		rows.Close()
	}
	return result, nil
}

// ListInTransit returns one cursor page of snapshots that have started
// transit, ordered by shipment id ascending.
func (s *Store) ListInTransit(ctx context.Context, afterShipmentID string, limit int) (storage.SnapshotPage, error) {
	if err := ctx.Err(); err != nil {
		return storage.SnapshotPage{}, err
	}
	if s == nil || s.sqlDB == nil {
		return storage.SnapshotPage{}, fmt.Errorf("storage is not configured")
	}
	limit = clampLimit(limit)

	rows, err := s.sqlDB.QueryContext(
		ctx,
		`SELECT `+snapshotColumns+`
		   FROM tracking_snapshots
		  WHERE in_transit_at IS NOT NULL AND shipment_id > ?
		  ORDER BY shipment_id ASC
		  LIMIT ?`,
		afterShipmentID,
		limit+1,
	)
	if err != nil {
		return storage.SnapshotPage{}, fmt.Errorf("list in-transit snapshots: %w", err)
	}
	defer rows.Close()

	page := storage.SnapshotPage{Snapshots: make([]domain.Snapshot, 0, limit)}
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return storage.SnapshotPage{}, fmt.Errorf("list in-transit snapshots: %w", err)
		}
		page.Snapshots = append(page.Snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return storage.SnapshotPage{}, fmt.Errorf("list in-transit snapshots: %w", err)
	}
	if len(page.Snapshots) > limit {
		page.NextShipmentID = page.Snapshots[limit-1].ShipmentID
		page.Snapshots = page.Snapshots[:limit]
	}
	return page, nil
}

// AddClaim records one support claim for a shipment, for seeding and tests;
// the support service owns this table in production.
func (s *Store) AddClaim(ctx context.Context, shipmentID string, claim domain.Claim) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	shipmentID = strings.TrimSpace(shipmentID)
	if shipmentID == "" {
		return fmt.Errorf("shipment id is required")
	}
	filedAt := claim.FiledAt
	if filedAt.IsZero() {
		filedAt = time.Now()
	}
	_, err := s.sqlDB.ExecContext(
		ctx,
		`INSERT INTO claims (shipment_id, status, issue_type, filed_at) VALUES (?, ?, ?, ?)`,
		shipmentID,
		claim.Status,
		claim.IssueType,
		toMillis(filedAt),
	)
	if err != nil {
		return fmt.Errorf("add claim: %w", err)
	}
	return nil
}

// LossClaims returns the most recently filed loss-type claim per shipment.
func (s *Store) LossClaims(ctx context.Context, shipmentIDs []string) (map[string]domain.Claim, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s == nil || s.sqlDB == nil {
		return nil, fmt.Errorf("storage is not configured")
	}
	result := make(map[string]domain.Claim)
	for _, chunk := range chunkIDs(shipmentIDs) {
		query := `SELECT shipment_id, status, issue_type, filed_at
		            FROM claims
		           WHERE issue_type = ? AND shipment_id IN (` + placeholders(len(chunk)) + `)
		           ORDER BY filed_at ASC`
		args := append([]any{domain.ClaimIssueLoss}, chunk...)
		rows, err := s.sqlDB.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("list loss claims: %w", err)
		}
		for rows.Next() {
			var shipmentID string
			var claim domain.Claim
			var filedAt int64
			if err := rows.Scan(&shipmentID, &claim.Status, &claim.IssueType, &filedAt); err != nil {
				rows.Close()
				return nil, fmt.Errorf("list loss claims: %w", err)
			}
			claim.FiledAt = fromMillis(filedAt)
			// Ascending order means the last row per shipment is the
			// most recently filed claim.
			result[shipmentID] = claim
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("list loss claims: %w", err)
		}
		rows.Close()
	}
	return result, nil
}

// chunkIDs splits an id list into IN-clause-sized batches.
func chunkIDs(ids []string) [][]any {
	if len(ids) == 0 {
		return nil
	}
	var chunks [][]any
	for start := 0; start < len(ids); start += storage.MaxPageSize {
		end := start + storage.MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make([]any, 0, end-start)
		for _, id := range ids[start:end] {
			chunk = append(chunk, id)
		}
		chunks = append(chunks, chunk)
	}
	return chunks
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

var (
	_ storage.SnapshotSource = (*Store)(nil)
	_ storage.ClaimSource    = (*Store)(nil)
)
