// Package transfer moves tenant data in and out of the local store as JSONL.
//
// Each line is one Entry: the collection name and the record in its flat
// wire form. Exports are written to a Sink (a local directory or an S3
// bucket); imports go through the sync engine so they reach the backend
// the same way interactive writes do.
package transfer

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/specexplorer/specsync/internal/schema"
)

// Entry is one line of a JSONL export.
type Entry struct {
	Collection schema.Collection `json:"collection"`
	Record     schema.Record     `json:"record"`
}

// ReadJSONL decodes entries until EOF. Blank lines are skipped.
func ReadJSONL(r io.Reader) ([]Entry, error) {
	var entries []Entry
	dec := json.NewDecoder(bufio.NewReader(r))
	for line := 1; ; line++ {
		var e Entry
		if err := dec.Decode(&e); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to decode entry %d: %w", line, err)
		}
		if err := e.Collection.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", line, err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// ReadFile decodes a JSONL file.
func ReadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSONL(f)
}

// WriteJSONL encodes entries one per line.
func WriteJSONL(w io.Writer, entries []Entry) error {
	enc := json.NewEncoder(w)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to encode %s/%s: %w", e.Collection, e.Record.ID, err)
		}
	}
	return nil
}
