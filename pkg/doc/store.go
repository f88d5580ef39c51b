// Package doc materializes the current canvas state from applied
// operations. The store is a cache over the log: replaying the same set of
// operations, in any causally-valid order, always produces the same state.
package doc

import (
	"sort"

	"github.com/telescrawl/telescrawl/pkg/op"
)

// write is one candidate value for a slot (a canvas position or a shape
// id), together with the causal context it was minted under.
type write[P any] struct {
	id      op.ID
	deps    op.Vector
	payload P
}

// merge folds an incoming write into a slot's maximal set: the writes not
// causally covered by any other write on the same slot. An incoming write
// covered by a kept one is dropped, and kept writes covered by the incoming
// one are evicted. The surviving set is a function of which writes were
// seen, never of their arrival order; a pairwise comparison against a
// single stored winner would not be, since causal domination does not chain
// through an already-evicted write.
func merge[P any](kept []write[P], in write[P]) []write[P] {
	for _, w := range kept {
		if w.id == in.id || w.deps.Includes(in.id) {
			return kept
		}
	}
	out := kept[:0]
	for _, w := range kept {
		if !in.deps.Includes(w.id) {
			out = append(out, w)
		}
	}
	return append(out, in)
}

// winner picks the materialized write: the maximal set member with the
// highest id. Concurrent survivors fall back to the total order on ids,
// identically on every replica.
func winner[P any](writes []write[P]) write[P] {
	best := writes[0]
	for _, w := range writes[1:] {
		if w.id.Compare(best.id) > 0 {
			best = w
		}
	}
	return best
}

// shapeSlot tracks every observed edit of one shape id. Deleted slots are
// tombstones: permanent, and dominant over every other edit.
type shapeSlot struct {
	writes  []write[*op.Shape]
	created op.ID
	deleted bool
}

// Store holds the materialized canvas. It is owned by a single session and
// must only be touched from its event loop.
type Store struct {
	cells     map[op.Point][]write[*op.Cell]
	shapes    map[string]*shapeSlot
	listeners []func()
}

func NewStore() *Store {
	return &Store{
		cells:  make(map[op.Point][]write[*op.Cell]),
		shapes: make(map[string]*shapeSlot),
	}
}

// Subscribe registers a callback invoked after each successfully applied
// batch. Callbacks run on the session's event loop and must not block.
func (s *Store) Subscribe(fn func()) {
	s.listeners = append(s.listeners, fn)
}

// Apply folds a batch of causally-ready operations into the materialized
// state and notifies subscribers once. Operations must come from the log's
// apply order; the store itself never rejects anything.
func (s *Store) Apply(ops []*op.Operation) {
	if len(ops) == 0 {
		return
	}
	for _, o := range ops {
		s.applyOne(o)
	}
	for _, fn := range s.listeners {
		fn()
	}
}

func (s *Store) applyOne(o *op.Operation) {
	switch o.Payload.Kind {
	case op.PayloadSetCells:
		for _, put := range o.Payload.Cells {
			s.applyCell(o, put)
		}
	case op.PayloadUpsertShape:
		s.applyUpsertShape(o)
	case op.PayloadDeleteShape:
		s.applyDeleteShape(o)
	}
}

func (s *Store) applyCell(o *op.Operation, put op.CellPut) {
	var cell *op.Cell
	if put.Cell != nil {
		c := *put.Cell
		cell = &c
	}
	// A cleared cell stays in the slot as a candidate so the clear still
	// beats concurrent lower-ordered writes arriving later.
	s.cells[put.At] = merge(s.cells[put.At], write[*op.Cell]{id: o.ID, deps: o.Deps, payload: cell})
}

func (s *Store) applyUpsertShape(o *op.Operation) {
	shape := o.Payload.Shape
	slot, ok := s.shapes[shape.ID]
	if !ok {
		s.shapes[shape.ID] = &shapeSlot{
			writes:  []write[*op.Shape]{{id: o.ID, deps: o.Deps, payload: shape.Clone()}},
			created: o.ID,
		}
		return
	}
	if slot.deleted {
		// Tombstones are permanent: the edit stays in the log for
		// convergence but has no materialized effect.
		return
	}
	slot.writes = merge(slot.writes, write[*op.Shape]{id: o.ID, deps: o.Deps, payload: shape.Clone()})
	// Creation id is the minimum over all observed upserts so z order does
	// not depend on arrival order.
	if o.ID.Compare(slot.created) < 0 {
		slot.created = o.ID
	}
}

func (s *Store) applyDeleteShape(o *op.Operation) {
	slot, ok := s.shapes[o.Payload.ShapeID]
	if !ok {
		s.shapes[o.Payload.ShapeID] = &shapeSlot{created: o.ID, deleted: true}
		return
	}
	if slot.deleted {
		return
	}
	slot.deleted = true
	slot.writes = nil
}

// Shape returns the live shape with the given id, or nil.
func (s *Store) Shape(id string) *op.Shape {
	slot, ok := s.shapes[id]
	if !ok || slot.deleted {
		return nil
	}
	return winner(slot.writes).payload.Clone()
}

// ShapeDeleted reports whether the shape id has been tombstoned.
func (s *Store) ShapeDeleted(id string) bool {
	slot, ok := s.shapes[id]
	return ok && slot.deleted
}

// liveShapes returns the winning write of every non-deleted shape in
// deterministic z order: creation id order, which every replica agrees on.
func (s *Store) liveShapes() []*op.Shape {
	type entry struct {
		created op.ID
		shape   *op.Shape
	}
	entries := make([]entry, 0, len(s.shapes))
	for _, slot := range s.shapes {
		if !slot.deleted {
			entries = append(entries, entry{created: slot.created, shape: winner(slot.writes).payload})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if c := entries[i].created.Compare(entries[j].created); c != 0 {
			return c < 0
		}
		return entries[i].shape.ID < entries[j].shape.ID
	})
	out := make([]*op.Shape, len(entries))
	for i, e := range entries {
		out[i] = e.shape
	}
	return out
}
