// Package op defines the replicated operation model: identifiers, version
// vectors, payloads, and the append-only operation log with causal delivery.
//
// Every mutation of the shared canvas is an Operation minted by exactly one
// actor. Ids are (actor, seq) pairs, dense per actor, which makes them both
// globally unique and totally orderable. Causal dependencies are carried as
// the creator's full version vector at mint time (everything it had
// observed, not just the frontier), so "A happened before B" is a single
// map lookup rather than a graph walk.
package op

import "sort"

// ActorID identifies one participant for the lifetime of its process.
type ActorID string

// ID is the globally unique identifier of a single operation.
type ID struct {
	Actor ActorID `json:"actor"`
	Seq   uint64  `json:"seq"`
}

// Compare orders ids by (actor, seq). This is the total order used for
// last-writer-wins resolution of concurrent edits.
func (a ID) Compare(b ID) int {
	if a.Actor != b.Actor {
		if a.Actor < b.Actor {
			return -1
		}
		return 1
	}
	switch {
	case a.Seq < b.Seq:
		return -1
	case a.Seq > b.Seq:
		return 1
	}
	return 0
}

func (a ID) IsZero() bool {
	return a.Actor == "" && a.Seq == 0
}

// Vector is a version vector: the highest sequence number seen per actor.
// Operations carry one as their causal dependency set, and peers exchange
// them to compute sync deltas.
type Vector map[ActorID]uint64

// Includes reports whether the vector covers the given operation id.
func (v Vector) Includes(id ID) bool {
	return v[id.Actor] >= id.Seq
}

// Observe raises the vector to include id. Vectors stay dense because the
// log only admits operations in per-actor sequence order.
func (v Vector) Observe(id ID) {
	if v[id.Actor] < id.Seq {
		v[id.Actor] = id.Seq
	}
}

// Covers reports whether v includes everything in other.
func (v Vector) Covers(other Vector) bool {
	for actor, seq := range other {
		if v[actor] < seq {
			return false
		}
	}
	return true
}

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	for actor, seq := range v {
		out[actor] = seq
	}
	return out
}

// Actors returns the actor ids in the vector in sorted order, for
// deterministic iteration.
func (v Vector) Actors() []ActorID {
	out := make([]ActorID, 0, len(v))
	for actor := range v {
		out = append(out, actor)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Point addresses one canvas cell.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Cell is the content of one canvas position. Absent cells are sparse, not
// zero-filled, so a Cell only ever exists with content.
type Cell struct {
	Ch    string `json:"ch"`
	Brush string `json:"brush,omitempty"`
	Style string `json:"style,omitempty"`
}

// CellPut assigns (or, with a nil Cell, clears) one canvas position.
type CellPut struct {
	At   Point `json:"at"`
	Cell *Cell `json:"cell,omitempty"`
}

// ShapeKind enumerates the shape variants the drawing tools produce.
type ShapeKind string

const (
	ShapeText      ShapeKind = "text"
	ShapeLine      ShapeKind = "line"
	ShapeArrow     ShapeKind = "arrow"
	ShapeRectangle ShapeKind = "rectangle"
	ShapeBox       ShapeKind = "box"
	ShapeDiamond   ShapeKind = "diamond"
	ShapeEllipse   ShapeKind = "ellipse"
	ShapeFreehand  ShapeKind = "freehand"
)

// Shape is a re-editable grouping of cells with its geometric parameters.
// Cells are rasterized by the drawing-tool layer before submission; the
// engine only replicates and composites them.
type Shape struct {
	ID    string    `json:"id"`
	Kind  ShapeKind `json:"kind"`
	From  Point     `json:"from"`
	To    Point     `json:"to"`
	Label string    `json:"label,omitempty"`
	Cells []CellPut `json:"cells,omitempty"`
}

// Clone returns a deep copy of the shape.
func (s *Shape) Clone() *Shape {
	if s == nil {
		return nil
	}
	out := *s
	out.Cells = make([]CellPut, len(s.Cells))
	for i, put := range s.Cells {
		out.Cells[i] = put
		if put.Cell != nil {
			c := *put.Cell
			out.Cells[i].Cell = &c
		}
	}
	return &out
}

// PayloadKind tags the payload variants.
type PayloadKind string

const (
	PayloadSetCells    PayloadKind = "set_cells"
	PayloadUpsertShape PayloadKind = "upsert_shape"
	PayloadDeleteShape PayloadKind = "delete_shape"
)

// Payload is the effect of one operation. Exactly one variant is populated
// depending on Kind. Move and resize are whole-shape upserts so the same
// conflict rule covers every shape edit.
type Payload struct {
	Kind    PayloadKind `json:"kind"`
	Cells   []CellPut   `json:"cells,omitempty"`
	Shape   *Shape      `json:"shape,omitempty"`
	ShapeID string      `json:"shape_id,omitempty"`
}

// Operation is one atomic, causally-stamped mutation.
type Operation struct {
	ID      ID      `json:"id"`
	Deps    Vector  `json:"deps,omitempty"`
	Payload Payload `json:"payload"`
}

// Change is the batch of operations produced by one local action. Undo
// reverts a whole Change, never an individual operation.
type Change struct {
	Actor ActorID      `json:"actor"`
	Ops   []*Operation `json:"ops"`
}
