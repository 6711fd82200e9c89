package schema

import (
	"fmt"
	"time"
)

// Operation is the kind of mutation a queue item carries.
// Create and update are both applied remotely as an upsert.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether op is a known operation.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// QueueStatus separates items still being retried from items that exhausted
// their retries and wait for manual review.
type QueueStatus string

const (
	QueuePending QueueStatus = "pending"
	QueueDead    QueueStatus = "dead"
)

// QueueItem is one local mutation not yet acknowledged by the remote backend.
type QueueItem struct {
	ID         string         `json:"id"`
	TenantID   string         `json:"tenant_id"`
	Collection Collection     `json:"collection"`
	Operation  Operation      `json:"operation"`
	Data       map[string]any `json:"data"`
	Timestamp  time.Time      `json:"timestamp"`
	Retries    int            `json:"retries"`
	Error      string         `json:"error,omitempty"`
	Status     QueueStatus    `json:"status"`
}

// NewUpsertItem builds a create item carrying the full record snapshot.
func NewUpsertItem(c Collection, tenant string, rec Record) QueueItem {
	if rec.TenantID == "" {
		rec.TenantID = tenant
	}
	return QueueItem{
		TenantID:   tenant,
		Collection: c,
		Operation:  OpCreate,
		Data:       rec.Map(),
	}
}

// NewDeleteItem builds a delete item carrying only the record id.
func NewDeleteItem(c Collection, tenant, id string) QueueItem {
	return QueueItem{
		TenantID:   tenant,
		Collection: c,
		Operation:  OpDelete,
		Data:       map[string]any{FieldID: id},
	}
}

// Validate checks the fields required before an item is enqueued.
func (q QueueItem) Validate() error {
	if q.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if err := q.Collection.Validate(); err != nil {
		return err
	}
	if !q.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", q.Operation)
	}
	if q.TargetID() == "" {
		return fmt.Errorf("data.id is required")
	}
	return nil
}

// TargetID returns the id of the record the item mutates.
func (q QueueItem) TargetID() string {
	id, _ := q.Data[FieldID].(string)
	return id
}

// Record decodes the payload snapshot of a create/update item.
func (q QueueItem) Record() (Record, error) {
	rec, err := RecordFromMap(q.Data)
	if err != nil {
		return Record{}, fmt.Errorf("queue item %s: %w", q.ID, err)
	}
	if rec.TenantID == "" {
		rec.TenantID = q.TenantID
	}
	return rec, nil
}
