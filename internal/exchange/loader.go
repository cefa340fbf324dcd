package exchange

import (
	"context"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/gtdsync/gtdsync/internal/hierarchy"
	"github.com/gtdsync/gtdsync/internal/payload"
)

// Loader imports payload documents into a Writer.
type Loader struct {
	w      Writer
	codec  *payload.Codec
	fs     afero.Fs
	logger *log.Logger
	newID  func() string
}

// NewLoader creates a loader. If logger is nil, a default stderr logger is used.
func NewLoader(w Writer, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "import"})
	}
	return &Loader{
		w:      w,
		codec:  payload.NewCodec(logger),
		fs:     afero.NewOsFs(),
		logger: logger,
		newID:  uuid.NewString,
	}
}

// WithFs sets the filesystem used by LoadFile.
func (l *Loader) WithFs(fs afero.Fs) *Loader {
	l.fs = fs
	return l
}

// Import decodes a zip or JSON payload and loads it.
func (l *Loader) Import(ctx context.Context, data []byte) (*LoadStats, error) {
	doc, err := l.codec.Decode(data)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, doc)
}

// LoadFile reads a payload file and loads it.
func (l *Loader) LoadFile(ctx context.Context, path string) (*LoadStats, error) {
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.Import(ctx, data)
}

// Load writes every collection of doc. Collections are written in
// payload.Collections order so references always point at loaded objects.
// On error, the returned stats describe what was written before the failure.
func (l *Loader) Load(ctx context.Context, doc *payload.Document) (*LoadStats, error) {
	stats := &LoadStats{Objects: make(map[payload.Collection]int)}
	idMaps := make(map[payload.Collection]map[int64]string, len(payload.Collections))
	// uuid is the primary key of every stored object, so a repeat anywhere
	// in the payload would overwrite the earlier record.
	seen := make(map[string]bool)

	for _, c := range payload.Collections {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		resolved, report := hierarchy.ResolveReport(doc.Records(c), l.logger.With("collection", c))
		stats.Orphans += len(report.Orphaned)

		ids := make(map[int64]string, len(resolved))
		idMaps[c] = ids

		objs := make([]Object, 0, len(resolved))
		for _, rec := range resolved {
			obj := Object{
				Collection: c,
				UUID:       l.uuidFor(rec, seen, stats),
				Deleted:    rec.Truthy(payload.FieldDeleted),
			}
			if id := rec.ID(); id != 0 {
				ids[id] = obj.UUID
			}
			if pid := rec.ParentID(); pid != 0 {
				obj.ParentUUID = ids[pid]
			}

			refs := payload.References[c]
			for field, target := range refs {
				ref := rec.Int(field)
				if ref == 0 {
					continue
				}
				u, ok := idMaps[target][ref]
				if !ok {
					stats.DanglingRefs++
					continue
				}
				if obj.Refs == nil {
					obj.Refs = make(map[string]string)
				}
				obj.Refs[field] = u
			}

			obj.Fields = make(payload.Record, len(rec))
			for k, v := range rec {
				if structuralFields[k] {
					continue
				}
				if _, isRef := refs[k]; isRef {
					continue
				}
				obj.Fields[k] = v
			}
			objs = append(objs, obj)
		}

		if len(objs) == 0 {
			continue
		}
		if err := l.w.WriteObjects(ctx, c, objs); err != nil {
			return stats, fmt.Errorf("failed to import %s: %w", c, err)
		}
		stats.Objects[c] = len(objs)
	}

	for _, rec := range doc.Records(payload.Conf) {
		key := rec.String(payload.FieldKey)
		if key == "" || key == confDeviceKey {
			continue
		}
		if err := l.w.SetConf(ctx, key, rec.String(payload.FieldVal)); err != nil {
			return stats, fmt.Errorf("failed to import conf %s: %w", key, err)
		}
		stats.Conf++
	}

	if stats.Reassigned > 0 {
		l.logger.Warn("duplicate uuids replaced with fresh ones", "count", stats.Reassigned)
	}
	if stats.DanglingRefs > 0 {
		l.logger.Warn("references to missing objects dropped", "count", stats.DanglingRefs)
	}
	l.logger.Info("payload imported", "objects", stats.Total(), "orphans", stats.Orphans,
		"conf", stats.Conf)
	return stats, nil
}

// uuidFor keeps a well-formed uuid carried by the record unless an earlier
// record of the same load already claimed it, and mints one otherwise.
func (l *Loader) uuidFor(rec payload.Record, seen map[string]bool, stats *LoadStats) string {
	if s := rec.String(payload.FieldUUID); s != "" {
		if u, err := uuid.Parse(s); err == nil {
			id := u.String()
			if !seen[id] {
				seen[id] = true
				return id
			}
			stats.Reassigned++
			l.logger.Debug("uuid repeated in payload", "uuid", id, "_id", rec.ID())
		}
	}
	id := l.newID()
	seen[id] = true
	return id
}
