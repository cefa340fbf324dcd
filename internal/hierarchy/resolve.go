// Package hierarchy orders flat payload records so parents precede children.
//
// Resolve is a stable topological sort over the "_id"/"parent_id" relation of
// one collection. Records whose parent can never be placed (the parent id is
// absent from the input, or the record sits on a parent cycle) are orphans:
// they are moved to the root and annotated with a note naming the lost parent.
// Nothing is dropped; the output always has the same length as the input.
package hierarchy

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"

	"github.com/gtdsync/gtdsync/internal/payload"
)

// NoteDelimiter separates an orphan note from pre-existing note text.
const NoteDelimiter = "\n"

// Report summarizes what Resolve repaired.
type Report struct {
	// Orphaned holds the payload ids of demoted records, in output order.
	Orphaned []int64
	// Cycles counts demoted records that were part of a parent cycle.
	Cycles int
}

// OrphanNote returns the diagnostic note for a record whose parent was lost.
func OrphanNote(parentID int64) string {
	return fmt.Sprintf("[ORPHANED TASK: original parent %d not found]", parentID)
}

// Resolve returns the records ordered parent-first. See ResolveReport.
func Resolve(records []payload.Record, logger *log.Logger) []payload.Record {
	out, _ := ResolveReport(records, logger)
	return out
}

// ResolveReport returns the records ordered parent-first together with a
// report of repaired orphans.
//
// The input slice and its records are never modified; the output holds copies.
// Independent subtrees keep their relative input order. A single warning is
// logged per call when orphans were repaired.
func ResolveReport(records []payload.Record, logger *log.Logger) ([]payload.Record, Report) {
	var report Report
	if len(records) == 0 {
		return []payload.Record{}, report
	}
	if logger == nil {
		logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: "hierarchy"})
	}

	r := newResolver(records)

	// Main pass: place whatever is reachable from a root, in input order.
	for i := range r.recs {
		pid := r.recs[i].ParentID()
		if pid == 0 || r.placed[pid] {
			r.place(i)
		} else {
			r.waiting[pid] = append(r.waiting[pid], i)
		}
	}

	// Parents that do not exist anywhere in the input.
	for i := range r.recs {
		if r.done[i] {
			continue
		}
		if pid := r.recs[i].ParentID(); !r.exists[pid] {
			r.demote(i, &report)
			r.place(i)
		}
	}

	// Whatever remains hangs off a cycle. Demote every cycle member before
	// placing so members never wait on each other.
	if r.count < len(r.recs) {
		members := r.cycleMembers()
		for _, i := range members {
			r.demote(i, &report)
			report.Cycles++
		}
		for _, i := range members {
			r.place(i)
		}
	}

	// Records that share an id with a cycle member but were not chosen as its
	// representative can still be left behind.
	for i := range r.recs {
		if !r.done[i] {
			r.demote(i, &report)
			r.place(i)
		}
	}

	if n := len(report.Orphaned); n > 0 {
		logger.Warn("orphaned records moved to root", "count", n, "cycles", report.Cycles)
	}
	return r.out, report
}

type resolver struct {
	recs    []payload.Record
	exists  map[int64]bool
	first   map[int64]int
	placed  map[int64]bool
	waiting map[int64][]int
	done    []bool
	out     []payload.Record
	count   int
}

func newResolver(records []payload.Record) *resolver {
	r := &resolver{
		recs:    make([]payload.Record, len(records)),
		exists:  make(map[int64]bool, len(records)),
		first:   make(map[int64]int, len(records)),
		placed:  make(map[int64]bool, len(records)),
		waiting: make(map[int64][]int),
		done:    make([]bool, len(records)),
		out:     make([]payload.Record, 0, len(records)),
	}
	for i, rec := range records {
		r.recs[i] = rec.Clone()
		id := r.recs[i].ID()
		if !r.exists[id] {
			r.first[id] = i
		}
		r.exists[id] = true
	}
	// A root id of 0 is never a real parent.
	r.exists[0] = true
	return r
}

// place emits record i and then, depth-first, every waiting descendant.
func (r *resolver) place(i int) {
	stack := []int{i}
	for len(stack) > 0 {
		j := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if r.done[j] {
			continue
		}
		r.done[j] = true
		r.out = append(r.out, r.recs[j])
		r.count++

		id := r.recs[j].ID()
		if r.placed[id] {
			continue
		}
		r.placed[id] = true
		kids := r.waiting[id]
		delete(r.waiting, id)
		for k := len(kids) - 1; k >= 0; k-- {
			stack = append(stack, kids[k])
		}
	}
}

// cycleMembers returns, in input order, the unplaced records that lie on a
// parent cycle. Each id is represented by its first unplaced record.
func (r *resolver) cycleMembers() []int {
	const (
		white = iota
		grey
		black
	)
	rep := make(map[int64]int)
	for i := range r.recs {
		if r.done[i] {
			continue
		}
		if _, ok := rep[r.recs[i].ID()]; !ok {
			rep[r.recs[i].ID()] = i
		}
	}

	color := make(map[int]int, len(rep))
	onCycle := make(map[int]bool)
	for i := range r.recs {
		if r.done[i] || rep[r.recs[i].ID()] != i || color[i] != white {
			continue
		}
		var path []int
		cur := i
		for {
			color[cur] = grey
			path = append(path, cur)
			next, ok := rep[r.recs[cur].ParentID()]
			if !ok || r.done[next] {
				break
			}
			if color[next] == grey {
				for k := len(path) - 1; k >= 0; k-- {
					onCycle[path[k]] = true
					if path[k] == next {
						break
					}
				}
				break
			}
			if color[next] == black {
				break
			}
			cur = next
		}
		for _, p := range path {
			color[p] = black
		}
	}

	members := make([]int, 0, len(onCycle))
	for i := range r.recs {
		if onCycle[i] {
			members = append(members, i)
		}
	}
	return members
}

// demote moves record i to the root and records the lost parent in its note.
func (r *resolver) demote(i int, report *Report) {
	rec := r.recs[i]
	pid := rec.ParentID()
	note := OrphanNote(pid)
	if existing := rec.String(payload.FieldNote); existing != "" {
		note = existing + NoteDelimiter + note
	}
	rec[payload.FieldNote] = note
	rec[payload.FieldParentID] = int64(0)
	report.Orphaned = append(report.Orphaned, rec.ID())
}
