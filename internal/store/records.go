package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/specexplorer/specsync/internal/schema"
)

// Predicate filters records in QueryByTenant. A nil predicate keeps everything.
type Predicate func(schema.Record) bool

// FieldEquals returns a predicate matching records whose payload field equals value.
func FieldEquals(field string, value any) Predicate {
	return func(r schema.Record) bool {
		return fmt.Sprint(r.Data[field]) == fmt.Sprint(value)
	}
}

// QueryByTenant returns the tenant's records in collection c that satisfy pred,
// ordered by created_at then id.
func (s *Store) QueryByTenant(ctx context.Context, tenant string, c schema.Collection, pred Predicate) ([]schema.Record, error) {
	tbl, err := table(c)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, tenant_id, data, created_at, updated_at
		FROM ` + tbl + `
		WHERE tenant_id = ?
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.conn.QueryContext(ctx, query, tenant)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", c, err)
	}
	if pred == nil {
		return records, nil
	}

	filtered := records[:0]
	for _, r := range records {
		if pred(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// GetRecord returns one record, or sql.ErrNoRows when it does not exist.
func (s *Store) GetRecord(ctx context.Context, tenant string, c schema.Collection, id string) (schema.Record, error) {
	tbl, err := table(c)
	if err != nil {
		return schema.Record{}, err
	}

	rows, err := s.conn.QueryContext(ctx, `
		SELECT id, tenant_id, data, created_at, updated_at
		FROM `+tbl+` WHERE tenant_id = ? AND id = ?`, tenant, id)
	if err != nil {
		return schema.Record{}, fmt.Errorf("failed to get %s/%s: %w", c, id, err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return schema.Record{}, err
	}
	if len(records) == 0 {
		return schema.Record{}, sql.ErrNoRows
	}
	return records[0], nil
}

// BulkUpsert writes records into collection c with overwrite semantics.
//
// Records are keyed by (tenant_id, id); writing the same set twice leaves the
// table unchanged. The whole batch is applied in one transaction. Calling it
// with no records is a no-op.
func (s *Store) BulkUpsert(ctx context.Context, c schema.Collection, records []schema.Record) error {
	tbl, err := table(c)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO `+tbl+` (id, tenant_id, data, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(tenant_id, id) DO UPDATE SET
		data = excluded.data,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid %s record: %w", c, err)
		}

		payload := r.Data
		if payload == nil {
			payload = map[string]any{}
		}
		dataJSON, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s/%s: %w", c, r.ID, err)
		}

		if _, err := stmt.ExecContext(ctx,
			r.ID,
			r.TenantID,
			string(dataJSON),
			nullTime(r.CreatedAt),
			nullTime(r.UpdatedAt),
		); err != nil {
			return fmt.Errorf("failed to upsert %s/%s: %w", c, r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upsert: %w", err)
	}
	return nil
}

// DeleteRecords removes the tenant's records with the given ids.
// Missing ids are ignored.
func (s *Store) DeleteRecords(ctx context.Context, c schema.Collection, tenant string, ids []string) error {
	tbl, err := table(c)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}

	args := make([]any, 0, len(ids)+1)
	args = append(args, tenant)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")

	query := `DELETE FROM ` + tbl + ` WHERE tenant_id = ? AND id IN (` + placeholders + `)`
	if _, err := s.conn.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to delete from %s: %w", c, err)
	}
	return nil
}

// Stats returns the tenant's record count per tracked collection.
func (s *Store) Stats(ctx context.Context, tenant string) (map[schema.Collection]int, error) {
	stats := make(map[schema.Collection]int)
	for _, c := range schema.Tracked() {
		var count int
		err := s.conn.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM `+string(c)+` WHERE tenant_id = ?`, tenant).Scan(&count)
		if err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", c, err)
		}
		stats[c] = count
	}
	return stats, nil
}

// scanRecords is a helper to scan record rows.
func scanRecords(rows *sql.Rows) ([]schema.Record, error) {
	var records []schema.Record

	for rows.Next() {
		var (
			rec                  schema.Record
			dataJSON             string
			createdAt, updatedAt sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.TenantID, &dataJSON, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(dataJSON), &rec.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal record %s: %w", rec.ID, err)
		}
		rec.CreatedAt = parseNullTime(createdAt)
		rec.UpdatedAt = parseNullTime(updatedAt)
		records = append(records, rec)
	}

	return records, rows.Err()
}
