package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Version is the payload format version written by Encode.
const Version = 2

// Metadata describes who produced a payload and when.
type Metadata struct {
	DeviceID   string `json:"device_id,omitempty"`
	ExportedAt string `json:"exported_at,omitempty"`
	App        string `json:"app,omitempty"`
}

// Document is a decoded sync payload.
type Document struct {
	Version     int
	Metadata    Metadata
	Collections map[Collection][]Record
}

// NewDocument returns an empty document at the current version.
func NewDocument() *Document {
	return &Document{
		Version:     Version,
		Collections: make(map[Collection][]Record),
	}
}

// Records returns the records of one collection (nil if absent).
func (d *Document) Records(c Collection) []Record {
	if d == nil || d.Collections == nil {
		return nil
	}
	return d.Collections[c]
}

// Set replaces the records of one collection.
func (d *Document) Set(c Collection, records []Record) {
	if d.Collections == nil {
		d.Collections = make(map[Collection][]Record)
	}
	d.Collections[c] = records
}

// Len returns the total number of records across all collections.
func (d *Document) Len() int {
	n := 0
	for _, recs := range d.Collections {
		n += len(recs)
	}
	return n
}

// MarshalJSON writes the version, metadata and one array per collection.
// Empty collections are written as empty arrays so readers see every key.
func (d Document) MarshalJSON() ([]byte, error) {
	out := map[string]any{
		"version":  d.Version,
		"metadata": d.Metadata,
	}
	for _, c := range append(append([]Collection{}, Collections...), Conf) {
		recs := d.Collections[c]
		if recs == nil {
			recs = []Record{}
		}
		out[string(c)] = recs
	}
	return json.Marshal(out)
}

// UnmarshalJSON reads a payload, ignoring keys it does not know about.
// Known keys with the wrong shape are an error.
func (d *Document) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("failed to decode payload: %w", err)
	}
	if raw == nil {
		return fmt.Errorf("payload must be a JSON object")
	}

	doc := Document{Collections: make(map[Collection][]Record)}

	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &doc.Version); err != nil {
			return fmt.Errorf("invalid version: %w", err)
		}
	}
	if m, ok := raw["metadata"]; ok && !isNull(m) {
		if err := json.Unmarshal(m, &doc.Metadata); err != nil {
			return fmt.Errorf("invalid metadata: %w", err)
		}
	}

	for key, value := range raw {
		c := Collection(key)
		if !c.Valid() || isNull(value) {
			continue
		}
		var items []json.RawMessage
		if err := json.Unmarshal(value, &items); err != nil {
			return fmt.Errorf("collection %s must be an array: %w", c, err)
		}
		recs := make([]Record, 0, len(items))
		for i, item := range items {
			rec, err := DecodeRecord(item)
			if err != nil {
				return fmt.Errorf("collection %s item %d: %w", c, i, err)
			}
			recs = append(recs, rec)
		}
		doc.Collections[c] = recs
	}

	*d = doc
	return nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
