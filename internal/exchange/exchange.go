// Package exchange converts between sync payloads and the local store.
//
// Import (Loader) runs every collection through the hierarchy resolver,
// assigns durable UUIDs and rewrites "_id"/"parent_id" and cross-collection
// references into UUID links. Export (Dumper) does the inverse: it numbers
// the stored objects with fresh transient ids and writes them back as
// "_id"/"parent_id" records.
//
// Collections are written one at a time. A failure part way through leaves
// the collections written so far in place; nothing is rolled back.
package exchange

import (
	"context"

	"github.com/gtdsync/gtdsync/internal/payload"
)

// Object is a stored entity with UUID links.
type Object struct {
	Collection payload.Collection
	UUID       string
	ParentUUID string
	// Refs maps a reference field (e.g. "context_id") to the target's UUID.
	Refs    map[string]string
	Fields  payload.Record
	Deleted bool
}

// Writer receives imported objects.
type Writer interface {
	WriteObjects(ctx context.Context, c payload.Collection, objs []Object) error
	SetConf(ctx context.Context, key, val string) error
}

// Reader provides objects to export.
type Reader interface {
	// Objects returns the non-deleted objects of a collection.
	Objects(ctx context.Context, c payload.Collection) ([]Object, error)
	ConfEntries(ctx context.Context) (map[string]string, error)
	DeviceID(ctx context.Context) (string, error)
}

// LoadStats reports what an import did.
type LoadStats struct {
	Objects      map[payload.Collection]int
	Orphans      int
	DanglingRefs int
	// Reassigned counts records whose uuid repeated an earlier record of
	// the same payload and was replaced by a fresh one.
	Reassigned int
	Conf       int
}

// Total returns the number of imported objects.
func (s *LoadStats) Total() int {
	n := 0
	for _, v := range s.Objects {
		n += v
	}
	return n
}

// confDeviceKey is the conf entry holding the local device id. It is never
// imported from a remote payload.
const confDeviceKey = "deviceId"

// fields that are rebuilt rather than copied
var structuralFields = map[string]bool{
	payload.FieldID:       true,
	payload.FieldParentID: true,
	payload.FieldUUID:     true,
	payload.FieldDeleted:  true,
}
