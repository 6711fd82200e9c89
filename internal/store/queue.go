package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/specexplorer/specsync/internal/schema"
)

// ErrQueueItemNotFound is returned when updating a queue item that does not exist.
var ErrQueueItemNotFound = errors.New("queue item not found")

// Enqueue appends item to the durable FIFO queue and returns its fresh id.
//
// The id, status and retry count are always assigned here; the timestamp
// defaults to now when unset.
func (s *Store) Enqueue(ctx context.Context, item schema.QueueItem) (string, error) {
	if err := item.Validate(); err != nil {
		return "", fmt.Errorf("invalid queue item: %w", err)
	}

	dataJSON, err := json.Marshal(item.Data)
	if err != nil {
		return "", fmt.Errorf("failed to marshal queue payload: %w", err)
	}

	ts := item.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	id := uuid.NewString()

	_, err = s.conn.ExecContext(ctx, `
	INSERT INTO sync_queue (id, tenant_id, collection, operation, data, timestamp, retries, error, status)
	VALUES (?, ?, ?, ?, ?, ?, 0, NULL, ?)
	`,
		id,
		item.TenantID,
		string(item.Collection),
		string(item.Operation),
		string(dataJSON),
		schema.FormatTime(ts),
		string(schema.QueuePending),
	)
	if err != nil {
		return "", fmt.Errorf("failed to enqueue %s %s: %w", item.Operation, item.Collection, err)
	}

	return id, nil
}

// QueueFilter narrows ListQueue results. Zero values match everything.
type QueueFilter struct {
	Status schema.QueueStatus
	Tenant string
	Since  time.Time
	Limit  int
}

// ListQueue returns queue items matching f in drain order
// (enqueue timestamp ascending, insertion order breaking ties).
func (s *Store) ListQueue(ctx context.Context, f QueueFilter) ([]schema.QueueItem, error) {
	var (
		conditions []string
		args       []any
	)

	if f.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Tenant != "" {
		conditions = append(conditions, "tenant_id = ?")
		args = append(args, f.Tenant)
	}
	if !f.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, schema.FormatTime(f.Since))
	}

	query := `
		SELECT id, tenant_id, collection, operation, data, timestamp, retries, error, status
		FROM sync_queue`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY timestamp ASC, seq ASC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list queue: %w", err)
	}
	defer rows.Close()

	return scanQueueItems(rows)
}

// ListPending returns pending items, oldest enqueue timestamp first.
func (s *Store) ListPending(ctx context.Context) ([]schema.QueueItem, error) {
	return s.ListQueue(ctx, QueueFilter{Status: schema.QueuePending})
}

// ListDeadLetters returns items that exhausted their retries.
func (s *Store) ListDeadLetters(ctx context.Context) ([]schema.QueueItem, error) {
	return s.ListQueue(ctx, QueueFilter{Status: schema.QueueDead})
}

// RemoveQueueItem deletes a queue item.
// Returns nil if the item doesn't exist (idempotent).
func (s *Store) RemoveQueueItem(ctx context.Context, id string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queue item %s: %w", id, err)
	}
	return nil
}

// UpdateQueueItem records a failed attempt in place: retry count and last error.
func (s *Store) UpdateQueueItem(ctx context.Context, id string, retries int, lastError string) error {
	return s.updateQueueItem(ctx, id, `UPDATE sync_queue SET retries = ?, error = ? WHERE id = ?`,
		retries, nullString(lastError), id)
}

// MarkDeadLetter moves an item to the dead-letter status. It stays in the
// queue table but is no longer returned by ListPending.
func (s *Store) MarkDeadLetter(ctx context.Context, id string, lastError string) error {
	return s.updateQueueItem(ctx, id, `UPDATE sync_queue SET status = ?, error = ? WHERE id = ?`,
		string(schema.QueueDead), nullString(lastError), id)
}

func (s *Store) updateQueueItem(ctx context.Context, id, query string, args ...any) error {
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update queue item %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update queue item %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrQueueItemNotFound, id)
	}
	return nil
}

// RequeueDeadLetters resets every dead-lettered item to pending with zero
// retries. Returns the number of items requeued.
func (s *Store) RequeueDeadLetters(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		`UPDATE sync_queue SET status = ?, retries = 0, error = NULL WHERE status = ?`,
		string(schema.QueuePending), string(schema.QueueDead))
	if err != nil {
		return 0, fmt.Errorf("failed to requeue dead letters: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// PurgeDeadLetters deletes every dead-lettered item. Returns the number removed.
func (s *Store) PurgeDeadLetters(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue WHERE status = ?`, string(schema.QueueDead))
	if err != nil {
		return 0, fmt.Errorf("failed to purge dead letters: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearQueue drops every queue item regardless of status.
func (s *Store) ClearQueue(ctx context.Context) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM sync_queue`); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	return nil
}

// PendingCount returns the number of items awaiting push.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	return s.countQueue(ctx, schema.QueuePending)
}

// DeadLetterCount returns the number of dead-lettered items.
func (s *Store) DeadLetterCount(ctx context.Context) (int, error) {
	return s.countQueue(ctx, schema.QueueDead)
}

func (s *Store) countQueue(ctx context.Context, status schema.QueueStatus) (int, error) {
	var count int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_queue WHERE status = ?`, string(status)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s queue items: %w", status, err)
	}
	return count, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// scanQueueItems is a helper to scan queue rows.
func scanQueueItems(rows *sql.Rows) ([]schema.QueueItem, error) {
	var items []schema.QueueItem

	for rows.Next() {
		var (
			item                       schema.QueueItem
			collection, op, status, ts string
			dataJSON                   string
			lastErr                    sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.TenantID, &collection, &op, &dataJSON, &ts, &item.Retries, &lastErr, &status); err != nil {
			return nil, fmt.Errorf("failed to scan queue item: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &item.Data); err != nil {
			return nil, fmt.Errorf("failed to unmarshal queue item %s: %w", item.ID, err)
		}
		parsed, err := schema.ParseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp on queue item %s: %w", item.ID, err)
		}

		item.Collection = schema.Collection(collection)
		item.Operation = schema.Operation(op)
		item.Status = schema.QueueStatus(status)
		item.Timestamp = parsed
		item.Error = lastErr.String
		items = append(items, item)
	}

	return items, rows.Err()
}
