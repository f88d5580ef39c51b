package doc

import (
	"github.com/google/uuid"

	"github.com/telescrawl/telescrawl/pkg/op"
)

// Invert derives the payloads that would restore the store's current state
// after the given payloads are applied. It must run BEFORE the forward
// payloads are applied, since it reads the pre-change values.
//
// Shape deletions are permanent tombstones, so the inverse of a delete is
// an upsert under a fresh id carrying the same geometry and cells. The
// composited canvas round-trips exactly; shape identity does not.
func Invert(s *Store, payloads []op.Payload) []op.Payload {
	inverse := make([]op.Payload, 0, len(payloads))
	for i := len(payloads) - 1; i >= 0; i-- {
		p := payloads[i]
		switch p.Kind {
		case op.PayloadSetCells:
			puts := make([]op.CellPut, 0, len(p.Cells))
			for _, put := range p.Cells {
				prior := op.CellPut{At: put.At}
				if writes, ok := s.cells[put.At]; ok {
					if c := winner(writes).payload; c != nil {
						cc := *c
						prior.Cell = &cc
					}
				}
				puts = append(puts, prior)
			}
			inverse = append(inverse, op.Payload{Kind: op.PayloadSetCells, Cells: puts})
		case op.PayloadUpsertShape:
			if prior := s.Shape(p.Shape.ID); prior != nil {
				inverse = append(inverse, op.Payload{Kind: op.PayloadUpsertShape, Shape: prior})
			} else {
				inverse = append(inverse, op.Payload{Kind: op.PayloadDeleteShape, ShapeID: p.Shape.ID})
			}
		case op.PayloadDeleteShape:
			if prior := s.Shape(p.ShapeID); prior != nil {
				revived := prior.Clone()
				revived.ID = uuid.NewString()
				inverse = append(inverse, op.Payload{Kind: op.PayloadUpsertShape, Shape: revived})
			}
		}
	}
	return inverse
}

// FreshenShapeIDs rewrites upserts that target tombstoned shape ids to use
// fresh ids, so a redo of "create shape" is not silently swallowed by the
// tombstone of its earlier undo.
func FreshenShapeIDs(s *Store, payloads []op.Payload) []op.Payload {
	out := make([]op.Payload, len(payloads))
	for i, p := range payloads {
		if p.Kind == op.PayloadUpsertShape && s.ShapeDeleted(p.Shape.ID) {
			shape := p.Shape.Clone()
			shape.ID = uuid.NewString()
			p.Shape = shape
		}
		out[i] = p
	}
	return out
}
