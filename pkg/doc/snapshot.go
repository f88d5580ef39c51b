package doc

import (
	"sort"
	"strings"

	"github.com/telescrawl/telescrawl/pkg/op"
)

// Snapshot is an immutable view of the canvas for rendering and export.
// Shape cells are composited over the freehand plane in creation order.
type Snapshot struct {
	cells  map[op.Point]op.Cell
	shapes []*op.Shape
}

// Snapshot builds a point-in-time copy of the materialized state.
func (s *Store) Snapshot() *Snapshot {
	snap := &Snapshot{cells: make(map[op.Point]op.Cell, len(s.cells))}
	for pt, writes := range s.cells {
		if c := winner(writes).payload; c != nil {
			snap.cells[pt] = *c
		}
	}
	for _, shape := range s.liveShapes() {
		snap.shapes = append(snap.shapes, shape.Clone())
		for _, put := range shape.Cells {
			if put.Cell != nil {
				snap.cells[put.At] = *put.Cell
			}
		}
	}
	return snap
}

// CellAt returns the composited cell at a position.
func (s *Snapshot) CellAt(p op.Point) (op.Cell, bool) {
	c, ok := s.cells[p]
	return c, ok
}

// Shapes returns the live shapes in z order.
func (s *Snapshot) Shapes() []*op.Shape {
	return s.shapes
}

// CellCount returns the number of occupied positions after compositing.
func (s *Snapshot) CellCount() int {
	return len(s.cells)
}

// Bounds returns the bounding box of occupied cells, or ok=false for an
// empty canvas.
func (s *Snapshot) Bounds() (minX, minY, maxX, maxY int, ok bool) {
	for pt := range s.cells {
		if !ok {
			minX, minY, maxX, maxY, ok = pt.X, pt.Y, pt.X, pt.Y, true
			continue
		}
		if pt.X < minX {
			minX = pt.X
		}
		if pt.X > maxX {
			maxX = pt.X
		}
		if pt.Y < minY {
			minY = pt.Y
		}
		if pt.Y > maxY {
			maxY = pt.Y
		}
	}
	return
}

// String renders the occupied bounding box as plain text, one line per row.
// Mostly useful in tests and debug logs.
func (s *Snapshot) String() string {
	minX, minY, maxX, maxY, ok := s.Bounds()
	if !ok {
		return ""
	}
	var b strings.Builder
	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if c, ok := s.cells[op.Point{X: x, Y: y}]; ok && c.Ch != "" {
				b.WriteString(c.Ch)
			} else {
				b.WriteByte(' ')
			}
		}
		if y < maxY {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// Equal reports whether two snapshots composite to the same cells. Shape
// identity is deliberately ignored: undo re-creates shapes under fresh ids.
func (s *Snapshot) Equal(other *Snapshot) bool {
	if len(s.cells) != len(other.cells) {
		return false
	}
	for pt, c := range s.cells {
		oc, ok := other.cells[pt]
		if !ok || oc != c {
			return false
		}
	}
	return true
}

// Points returns the occupied positions in row-major order.
func (s *Snapshot) Points() []op.Point {
	out := make([]op.Point, 0, len(s.cells))
	for pt := range s.cells {
		out = append(out, pt)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Y != out[j].Y {
			return out[i].Y < out[j].Y
		}
		return out[i].X < out[j].X
	})
	return out
}
