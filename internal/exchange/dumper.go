package exchange

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/gtdsync/gtdsync/internal/payload"
)

// AppName is written into exported payload metadata.
const AppName = "gtdsync"

// ErrNoDeviceID may be returned by Reader.DeviceID; the export proceeds
// without a device id in that case.
var ErrNoDeviceID = errors.New("device id not set")

// Dumper exports the local store as a payload document.
type Dumper struct {
	r      Reader
	codec  *payload.Codec
	fs     afero.Fs
	logger *log.Logger
	now    func() time.Time
}

// NewDumper creates a dumper. If logger is nil, a default stderr logger is used.
func NewDumper(r Reader, logger *log.Logger) *Dumper {
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "export"})
	}
	return &Dumper{
		r:      r,
		codec:  payload.NewCodec(logger),
		fs:     afero.NewOsFs(),
		logger: logger,
		now:    time.Now,
	}
}

// WithFs sets the filesystem used by SaveFile.
func (d *Dumper) WithFs(fs afero.Fs) *Dumper {
	d.fs = fs
	return d
}

// Dump builds a document from every non-deleted object.
func (d *Dumper) Dump(ctx context.Context) (*payload.Document, error) {
	doc := payload.NewDocument()
	doc.Metadata = payload.Metadata{
		ExportedAt: d.now().UTC().Format(time.RFC3339),
		App:        AppName,
	}

	deviceID, err := d.r.DeviceID(ctx)
	switch {
	case err == nil:
		doc.Metadata.DeviceID = deviceID
	case errors.Is(err, ErrNoDeviceID):
		d.logger.Debug("exporting without device id")
	default:
		return nil, fmt.Errorf("failed to read device id: %w", err)
	}

	// First pass orders each collection parent-first and numbers it, so
	// references across collections resolve regardless of order.
	objects := make(map[payload.Collection][]Object, len(payload.Collections))
	ids := make(map[payload.Collection]map[string]int64, len(payload.Collections))
	for _, c := range payload.Collections {
		objs, err := d.r.Objects(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", c, err)
		}
		objs = parentFirst(objs)
		objects[c] = objs
		m := make(map[string]int64, len(objs))
		for i, obj := range objs {
			m[obj.UUID] = int64(i + 1)
		}
		ids[c] = m
	}

	for _, c := range payload.Collections {
		objs := objects[c]
		recs := make([]payload.Record, 0, len(objs))
		for _, obj := range objs {
			rec := obj.Fields.Clone()
			rec[payload.FieldID] = ids[c][obj.UUID]
			rec[payload.FieldParentID] = ids[c][obj.ParentUUID]
			rec[payload.FieldUUID] = obj.UUID
			for field, target := range payload.References[c] {
				rec[field] = ids[target][obj.Refs[field]]
			}
			recs = append(recs, rec)
		}
		doc.Set(c, recs)
	}

	conf, err := d.r.ConfEntries(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read conf: %w", err)
	}
	keys := make([]string, 0, len(conf))
	for k := range conf {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	confRecs := make([]payload.Record, 0, len(keys))
	for _, k := range keys {
		confRecs = append(confRecs, payload.Record{payload.FieldKey: k, payload.FieldVal: conf[k]})
	}
	doc.Set(payload.Conf, confRecs)

	d.logger.Debug("store dumped", "records", doc.Len())
	return doc, nil
}

// Export dumps the store and encodes it as a zip payload.
func (d *Dumper) Export(ctx context.Context) ([]byte, error) {
	doc, err := d.Dump(ctx)
	if err != nil {
		return nil, err
	}
	return d.codec.Encode(doc)
}

// SaveFile exports the store to path.
func (d *Dumper) SaveFile(ctx context.Context, path string) error {
	data, err := d.Export(ctx)
	if err != nil {
		return err
	}
	if err := afero.WriteFile(d.fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// parentFirst returns objs reordered so every parent precedes its children.
// Relative order is otherwise kept. An object whose parent is not among objs
// counts as a root. Objects on a parent cycle, which only a corrupted store
// can hold, come last, each cycle entered at one member and followed by its
// subtree; the importing side demotes them.
func parentFirst(objs []Object) []Object {
	index := make(map[string]int, len(objs))
	for i, o := range objs {
		index[o.UUID] = i
	}

	out := make([]Object, 0, len(objs))
	placed := make(map[string]bool, len(objs))
	waiting := make(map[string][]int)

	place := func(i int) {
		stack := []int{i}
		for len(stack) > 0 {
			j := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			o := objs[j]
			if placed[o.UUID] {
				continue
			}
			placed[o.UUID] = true
			out = append(out, o)
			kids := waiting[o.UUID]
			delete(waiting, o.UUID)
			for k := len(kids) - 1; k >= 0; k-- {
				stack = append(stack, kids[k])
			}
		}
	}

	for i, o := range objs {
		p := o.ParentUUID
		if _, ok := index[p]; p == "" || p == o.UUID || !ok || placed[p] {
			place(i)
			continue
		}
		waiting[p] = append(waiting[p], i)
	}

	// Whatever is left hangs below a cycle. Climb to a cycle member and
	// start from there so its subtree still follows it.
	for i, o := range objs {
		if placed[o.UUID] {
			continue
		}
		visited := map[int]bool{}
		j := i
		for {
			visited[j] = true
			k, ok := index[objs[j].ParentUUID]
			if !ok || visited[k] || placed[objs[k].UUID] {
				break
			}
			j = k
		}
		place(j)
	}
	return out
}
