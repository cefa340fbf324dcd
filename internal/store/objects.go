package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gtdsync/gtdsync/internal/exchange"
	"github.com/gtdsync/gtdsync/internal/payload"
)

// WriteObjects upserts a batch of objects of one collection in a single
// transaction.
func (db *DB) WriteObjects(ctx context.Context, c payload.Collection, objs []exchange.Object) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	stmt, err := tx.PrepareContext(ctx, `
	INSERT INTO objects (uuid, collection, parent_uuid, refs, fields, deleted, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(uuid) DO UPDATE SET
		collection = excluded.collection,
		parent_uuid = excluded.parent_uuid,
		refs = excluded.refs,
		fields = excluded.fields,
		deleted = excluded.deleted,
		updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, obj := range objs {
		refs, err := json.Marshal(nonNilRefs(obj.Refs))
		if err != nil {
			return fmt.Errorf("failed to marshal refs of %s: %w", obj.UUID, err)
		}
		fields, err := json.Marshal(nonNilFields(obj.Fields))
		if err != nil {
			return fmt.Errorf("failed to marshal fields of %s: %w", obj.UUID, err)
		}
		if _, err := stmt.ExecContext(ctx,
			obj.UUID,
			string(c),
			nullString(obj.ParentUUID),
			string(refs),
			string(fields),
			boolToInt(obj.Deleted),
			now,
		); err != nil {
			return fmt.Errorf("failed to upsert %s %s: %w", c, obj.UUID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", c, err)
	}
	return nil
}

// Objects returns the non-deleted objects of a collection in insertion order.
func (db *DB) Objects(ctx context.Context, c payload.Collection) ([]exchange.Object, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT uuid, parent_uuid, refs, fields
	FROM objects
	WHERE collection = ? AND deleted = 0
	ORDER BY rowid
	`, string(c))
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", c, err)
	}
	defer rows.Close()

	var out []exchange.Object
	for rows.Next() {
		var (
			obj            = exchange.Object{Collection: c}
			parent         sql.NullString
			refs, fieldsJS string
		)
		if err := rows.Scan(&obj.UUID, &parent, &refs, &fieldsJS); err != nil {
			return nil, fmt.Errorf("failed to scan %s: %w", c, err)
		}
		obj.ParentUUID = parent.String
		if err := json.Unmarshal([]byte(refs), &obj.Refs); err != nil {
			return nil, fmt.Errorf("corrupt refs for %s: %w", obj.UUID, err)
		}
		rec, err := payload.DecodeRecord([]byte(fieldsJS))
		if err != nil {
			return nil, fmt.Errorf("corrupt fields for %s: %w", obj.UUID, err)
		}
		obj.Fields = rec
		out = append(out, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate %s: %w", c, err)
	}
	return out, nil
}

// Get returns one object by UUID, deleted or not.
func (db *DB) Get(ctx context.Context, id string) (*exchange.Object, error) {
	var (
		obj            exchange.Object
		collection     string
		parent         sql.NullString
		refs, fieldsJS string
		deleted        int
	)
	err := db.conn.QueryRowContext(ctx, `
	SELECT collection, parent_uuid, refs, fields, deleted FROM objects WHERE uuid = ?
	`, id).Scan(&collection, &parent, &refs, &fieldsJS, &deleted)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("object %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", id, err)
	}

	obj.UUID = id
	obj.Collection = payload.Collection(collection)
	obj.ParentUUID = parent.String
	obj.Deleted = deleted != 0
	if err := json.Unmarshal([]byte(refs), &obj.Refs); err != nil {
		return nil, fmt.Errorf("corrupt refs for %s: %w", id, err)
	}
	if obj.Fields, err = payload.DecodeRecord([]byte(fieldsJS)); err != nil {
		return nil, fmt.Errorf("corrupt fields for %s: %w", id, err)
	}
	return &obj, nil
}

// Counts returns the number of non-deleted objects per collection.
func (db *DB) Counts(ctx context.Context) (map[payload.Collection]int, error) {
	rows, err := db.conn.QueryContext(ctx, `
	SELECT collection, COUNT(*) FROM objects WHERE deleted = 0 GROUP BY collection
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count objects: %w", err)
	}
	defer rows.Close()

	counts := make(map[payload.Collection]int)
	for rows.Next() {
		var (
			c string
			n int
		)
		if err := rows.Scan(&c, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[payload.Collection(c)] = n
	}
	return counts, rows.Err()
}

func nonNilRefs(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func nonNilFields(r payload.Record) payload.Record {
	if r == nil {
		return payload.Record{}
	}
	return r
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
