// Package schema provides the data structures shared by the local store, the
// remote backend adapters and the sync engine.
package schema

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"
)

// Collection names a tenant-scoped set of records.
type Collection string

// Tracked collections. The pull phase walks these in this order.
const (
	TaxonomySources Collection = "taxonomy_sources"
	DNASequences    Collection = "dna_sequences"
	Projects        Collection = "projects"
	ProjectItems    Collection = "project_items"
)

var tracked = []Collection{TaxonomySources, DNASequences, Projects, ProjectItems}

// Tracked returns the fixed set of collections kept in sync.
func Tracked() []Collection {
	out := make([]Collection, len(tracked))
	copy(out, tracked)
	return out
}

// IsTracked reports whether c is one of the tracked collections.
func (c Collection) IsTracked() bool {
	for _, t := range tracked {
		if t == c {
			return true
		}
	}
	return false
}

var identRe = regexp.MustCompile(`^[a-z][a-z0-9_]{0,62}$`)

// Validate checks that c is usable as a table or endpoint name.
func (c Collection) Validate() error {
	if !identRe.MatchString(string(c)) {
		return fmt.Errorf("invalid collection name %q", c)
	}
	return nil
}

// ParseCollection validates s and returns it as a Collection.
func ParseCollection(s string) (Collection, error) {
	c := Collection(s)
	if err := c.Validate(); err != nil {
		return "", err
	}
	return c, nil
}

// ValidField reports whether name is safe to use as a filter key.
func ValidField(name string) bool {
	return identRe.MatchString(name)
}

// Reserved wire keys of a record.
const (
	FieldID        = "id"
	FieldTenantID  = "tenant_id"
	FieldCreatedAt = "created_at"
	FieldUpdatedAt = "updated_at"
)

// Record is one domain entity (taxonomy source, sequence, project, project item).
//
// On the wire a record is a flat JSON object: the reserved keys id, tenant_id,
// created_at and updated_at sit next to the payload keys held in Data.
// The ID is authoritative across local and remote copies.
type Record struct {
	ID        string
	TenantID  string
	Data      map[string]any
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks the fields every stored record must carry.
func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("id is required")
	}
	if r.TenantID == "" {
		return fmt.Errorf("tenant_id is required (record %s)", r.ID)
	}
	return nil
}

// Map returns the flat wire form of the record.
func (r Record) Map() map[string]any {
	out := make(map[string]any, len(r.Data)+4)
	for k, v := range r.Data {
		out[k] = v
	}
	out[FieldID] = r.ID
	if r.TenantID != "" {
		out[FieldTenantID] = r.TenantID
	}
	if !r.CreatedAt.IsZero() {
		out[FieldCreatedAt] = FormatTime(r.CreatedAt)
	}
	if !r.UpdatedAt.IsZero() {
		out[FieldUpdatedAt] = FormatTime(r.UpdatedAt)
	}
	return out
}

// MarshalJSON encodes the record in its flat wire form.
func (r Record) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.Map())
}

// UnmarshalJSON decodes a flat wire object.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	rec, err := RecordFromMap(raw)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// RecordFromMap splits a flat wire object into a Record.
// Timestamps that do not parse as RFC 3339 stay in Data untouched.
func RecordFromMap(m map[string]any) (Record, error) {
	var rec Record
	data := make(map[string]any, len(m))
	for k, v := range m {
		data[k] = v
	}

	switch id := data[FieldID].(type) {
	case string:
		rec.ID = id
	case float64:
		rec.ID = fmt.Sprintf("%.0f", id)
	case nil:
		return Record{}, fmt.Errorf("record is missing %q", FieldID)
	default:
		return Record{}, fmt.Errorf("record %q has unsupported type %T", FieldID, id)
	}
	delete(data, FieldID)

	if tenant, ok := data[FieldTenantID].(string); ok {
		rec.TenantID = tenant
		delete(data, FieldTenantID)
	}
	if ts, ok := parseTimeField(data, FieldCreatedAt); ok {
		rec.CreatedAt = ts
	}
	if ts, ok := parseTimeField(data, FieldUpdatedAt); ok {
		rec.UpdatedAt = ts
	}

	rec.Data = data
	return rec, nil
}

func parseTimeField(data map[string]any, key string) (time.Time, bool) {
	s, ok := data[key].(string)
	if !ok {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	delete(data, key)
	return ts, true
}

// TimeLayout is a fixed-width ISO-8601 layout. Values formatted with it in UTC
// sort lexically in time order, which the queue table relies on.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in UTC using TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses any RFC 3339 timestamp, including TimeLayout values.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}
