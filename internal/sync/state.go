package sync

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/specexplorer/specsync/internal/schema"
)

// Status is the engine's coarse sync status.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSyncing Status = "syncing"
	StatusError   Status = "error"
	StatusOffline Status = "offline"
)

// ParseStatus validates s.
func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusIdle, StatusSyncing, StatusError, StatusOffline:
		return st, nil
	}
	return "", fmt.Errorf("unknown sync status %q", s)
}

// State is a snapshot of the engine's sync state. Values handed to
// listeners are copies; mutating them has no effect on the engine.
type State struct {
	Status         Status
	LastSyncedAt   *time.Time
	PendingChanges int
	DeadLetters    int
	Error          string
}

func (s State) clone() State {
	if s.LastSyncedAt != nil {
		t := *s.LastSyncedAt
		s.LastSyncedAt = &t
	}
	return s
}

type stateJSON struct {
	Status         Status  `json:"status" yaml:"status"`
	LastSyncedAt   *string `json:"lastSyncedAt" yaml:"lastSyncedAt"`
	PendingChanges int     `json:"pendingChanges" yaml:"pendingChanges"`
	DeadLetters    int     `json:"deadLetters" yaml:"deadLetters"`
	Error          *string `json:"error" yaml:"error"`
}

func (s State) wire() stateJSON {
	out := stateJSON{
		Status:         s.Status,
		PendingChanges: s.PendingChanges,
		DeadLetters:    s.DeadLetters,
	}
	if s.LastSyncedAt != nil {
		ts := schema.FormatTime(*s.LastSyncedAt)
		out.LastSyncedAt = &ts
	}
	if s.Error != "" {
		msg := s.Error
		out.Error = &msg
	}
	return out
}

// MarshalJSON renders the status surface:
// {status, lastSyncedAt|null, pendingChanges, deadLetters, error|null}.
func (s State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.wire())
}

// UnmarshalJSON parses the status surface.
func (s *State) UnmarshalJSON(b []byte) error {
	var w stateJSON
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	st, err := ParseStatus(string(w.Status))
	if err != nil {
		return err
	}
	out := State{Status: st, PendingChanges: w.PendingChanges, DeadLetters: w.DeadLetters}
	if w.LastSyncedAt != nil {
		ts, err := schema.ParseTime(*w.LastSyncedAt)
		if err != nil {
			return fmt.Errorf("invalid lastSyncedAt: %w", err)
		}
		out.LastSyncedAt = &ts
	}
	if w.Error != nil {
		out.Error = *w.Error
	}
	*s = out
	return nil
}

// MarshalYAML renders the same surface as MarshalJSON.
func (s State) MarshalYAML() (any, error) {
	return s.wire(), nil
}
