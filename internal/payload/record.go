package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Well-known record fields.
const (
	FieldID       = "_id"
	FieldParentID = "parent_id"
	FieldUUID     = "uuid"
	FieldNote     = "note"
	FieldDeleted  = "deleted"

	// Conf records are key/value pairs.
	FieldKey = "key"
	FieldVal = "val"
)

// Record is a single flat entity as it appears in a payload.
// Values are restricted to nil, bool, int64, float64 and string.
type Record map[string]any

// Int returns the field as an integer. Missing or non-numeric values yield 0.
func (r Record) Int(key string) int64 {
	switch v := r[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		if f, err := v.Float64(); err == nil {
			return int64(f)
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
			return n
		}
	}
	return 0
}

// String returns the field as a string. Missing values yield "".
func (r Record) String(key string) string {
	switch v := r[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

// Truthy reports whether the field holds a true-ish value (true, non-zero, "1", "true").
func (r Record) Truthy(key string) bool {
	switch v := r[key].(type) {
	case bool:
		return v
	case string:
		b, err := strconv.ParseBool(v)
		return err == nil && b
	case nil:
		return false
	default:
		return r.Int(key) != 0
	}
}

// ID returns the transient payload id.
func (r Record) ID() int64 { return r.Int(FieldID) }

// ParentID returns the transient parent id, 0 for roots.
func (r Record) ParentID() int64 { return r.Int(FieldParentID) }

// Clone returns a shallow copy. Values are primitives so this is a full copy.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// DecodeRecord parses a single JSON object into a Record, normalizing numbers
// and dropping non-primitive values.
func DecodeRecord(data []byte) (Record, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	if raw == nil {
		return nil, fmt.Errorf("record must be a JSON object")
	}
	rec := make(Record, len(raw))
	for k, v := range raw {
		if nv, ok := NormalizeValue(v); ok {
			rec[k] = nv
		}
	}
	return rec, nil
}

// NormalizeValue converts a decoded JSON value into one of the primitive
// record types. It returns false for objects and arrays.
func NormalizeValue(v any) (any, bool) {
	switch x := v.(type) {
	case nil, bool, string, int64, float64:
		return x, true
	case int:
		return int64(x), true
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
		if f, err := x.Float64(); err == nil {
			return f, true
		}
		return x.String(), true
	default:
		return nil, false
	}
}
