package doc

import (
	"math/rand"
	"testing"

	"github.com/telescrawl/telescrawl/pkg/op"
)

// replay builds a store by feeding the operations through a fresh log in
// the given arrival order, exactly as a replica would.
func replay(t *testing.T, ops []*op.Operation) *Store {
	t.Helper()
	l := op.NewLog()
	s := NewStore()
	for _, o := range ops {
		res := l.Append(o)
		s.Apply(res.Applied)
	}
	if l.PendingLen() != 0 {
		t.Fatalf("replay left %d ops buffered, history is not causally closed", l.PendingLen())
	}
	return s
}

func setCell(actor op.ActorID, seq uint64, deps op.Vector, x, y int, ch string) *op.Operation {
	return &op.Operation{
		ID:   op.ID{Actor: actor, Seq: seq},
		Deps: deps,
		Payload: op.Payload{
			Kind:  op.PayloadSetCells,
			Cells: []op.CellPut{{At: op.Point{X: x, Y: y}, Cell: &op.Cell{Ch: ch}}},
		},
	}
}

func clearCell(actor op.ActorID, seq uint64, deps op.Vector, x, y int) *op.Operation {
	return &op.Operation{
		ID:   op.ID{Actor: actor, Seq: seq},
		Deps: deps,
		Payload: op.Payload{
			Kind:  op.PayloadSetCells,
			Cells: []op.CellPut{{At: op.Point{X: x, Y: y}}},
		},
	}
}

func TestConvergenceUnderShuffledDelivery(t *testing.T) {
	// Two actors write a small overlapping scene with causal gaps between
	// their own ops; every delivery order must converge to one canvas.
	history := []*op.Operation{
		setCell("alice", 1, nil, 0, 0, "a"),
		setCell("alice", 2, op.Vector{"alice": 1}, 1, 0, "b"),
		setCell("alice", 3, op.Vector{"alice": 2, "bob": 1}, 2, 0, "c"),
		setCell("bob", 1, nil, 1, 0, "B"),
		setCell("bob", 2, op.Vector{"bob": 1, "alice": 2}, 0, 1, "d"),
		clearCell("bob", 3, op.Vector{"bob": 2, "alice": 2}, 0, 0),
	}
	reference := replay(t, history).Snapshot()

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 50; i++ {
		shuffled := make([]*op.Operation, len(history))
		copy(shuffled, history)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := replay(t, shuffled).Snapshot()
		if !got.Equal(reference) {
			t.Fatalf("iteration %d diverged:\n%q\nwant:\n%q", i, got.String(), reference.String())
		}
	}
}

func TestApplyIsIdempotent(t *testing.T) {
	o := setCell("alice", 1, nil, 0, 0, "#")
	s := NewStore()
	s.Apply([]*op.Operation{o})
	first := s.Snapshot()
	s.Apply([]*op.Operation{o})
	if !s.Snapshot().Equal(first) {
		t.Fatalf("applying the same op twice changed the state")
	}
}

func TestDisjointOpsCommute(t *testing.T) {
	a := setCell("alice", 1, nil, 0, 0, "x")
	b := setCell("bob", 1, nil, 5, 5, "y")

	ab := NewStore()
	ab.Apply([]*op.Operation{a, b})
	ba := NewStore()
	ba.Apply([]*op.Operation{b, a})
	if !ab.Snapshot().Equal(ba.Snapshot()) {
		t.Fatalf("causally-unrelated disjoint ops did not commute")
	}
}

func TestConcurrentSameCellHigherIDWins(t *testing.T) {
	// bob > alice in the (actor, seq) total order, so bob's write must win
	// on every replica regardless of arrival order.
	a := setCell("alice", 1, nil, 0, 0, "*")
	b := setCell("bob", 1, nil, 0, 0, "#")

	for _, order := range [][]*op.Operation{{a, b}, {b, a}} {
		s := NewStore()
		s.Apply(order)
		c, ok := s.Snapshot().CellAt(op.Point{X: 0, Y: 0})
		if !ok || c.Ch != "#" {
			t.Fatalf("want bob's '#' to win, got %+v ok=%v", c, ok)
		}
	}
}

func TestCausallyLaterWriteBeatsHigherID(t *testing.T) {
	// zed has the highest actor id, but alice saw zed's write before
	// overwriting it, so causal order beats the id tie-break.
	first := setCell("zed", 1, nil, 0, 0, "z")
	second := setCell("alice", 1, op.Vector{"zed": 1}, 0, 0, "a")

	for _, order := range [][]*op.Operation{{first, second}, {second, first}} {
		s := NewStore()
		s.Apply(order)
		c, _ := s.Snapshot().CellAt(op.Point{X: 0, Y: 0})
		if c.Ch != "a" {
			t.Fatalf("causally later write should win, got %q", c.Ch)
		}
	}
}

func TestDominatedWriterConvergesInEveryOrder(t *testing.T) {
	// zed's write is causally overwritten by alice, who is concurrent with
	// mike. The winner must be a function of the op set alone: mike holds
	// the highest id among the writes nobody overwrote, so mike's "z" wins
	// no matter which replica saw which op first.
	x := setCell("zed", 1, nil, 0, 0, "x")
	y := setCell("alice", 1, op.Vector{"zed": 1}, 0, 0, "y")
	z := setCell("mike", 1, nil, 0, 0, "z")

	orders := [][]*op.Operation{
		{x, y, z}, {x, z, y}, {y, x, z}, {y, z, x}, {z, x, y}, {z, y, x},
	}
	for i, order := range orders {
		s := NewStore()
		s.Apply(order)
		c, ok := s.Snapshot().CellAt(op.Point{X: 0, Y: 0})
		if !ok || c.Ch != "z" {
			t.Fatalf("order %d: got %q ok=%v, want %q", i, c.Ch, ok, "z")
		}
	}
}

func TestDominatedShapeEditConvergesInEveryOrder(t *testing.T) {
	// Same pattern on one shape id: alice's edit overwrote zed's, mike's is
	// concurrent with both.
	x := upsertShape("zed", 1, nil, boxShape("s1", 0, 0, "x"))
	y := upsertShape("alice", 1, op.Vector{"zed": 1}, boxShape("s1", 0, 0, "y"))
	z := upsertShape("mike", 1, nil, boxShape("s1", 0, 0, "z"))

	orders := [][]*op.Operation{
		{x, y, z}, {x, z, y}, {y, x, z}, {y, z, x}, {z, x, y}, {z, y, x},
	}
	for i, order := range orders {
		s := NewStore()
		s.Apply(order)
		shape := s.Shape("s1")
		if shape == nil || shape.Cells[0].Cell.Ch != "z" {
			t.Fatalf("order %d: want mike's edit to win, got %+v", i, shape)
		}
	}
}

func TestOfflineConflictScenario(t *testing.T) {
	// Two replicas edit (0,0) while partitioned; after exchanging ops both
	// must show the write with the higher (actor, seq).
	a := setCell("walter", 1, nil, 0, 0, "#")
	b := setCell("jesse", 1, nil, 0, 0, "*")

	r1 := replay(t, []*op.Operation{a, b})
	r2 := replay(t, []*op.Operation{b, a})
	c1, _ := r1.Snapshot().CellAt(op.Point{X: 0, Y: 0})
	c2, _ := r2.Snapshot().CellAt(op.Point{X: 0, Y: 0})
	if c1.Ch != "#" || c2.Ch != "#" {
		t.Fatalf("replicas disagree or wrong winner: %q vs %q", c1.Ch, c2.Ch)
	}
}

func upsertShape(actor op.ActorID, seq uint64, deps op.Vector, shape *op.Shape) *op.Operation {
	return &op.Operation{
		ID:      op.ID{Actor: actor, Seq: seq},
		Deps:    deps,
		Payload: op.Payload{Kind: op.PayloadUpsertShape, Shape: shape},
	}
}

func deleteShape(actor op.ActorID, seq uint64, deps op.Vector, id string) *op.Operation {
	return &op.Operation{
		ID:      op.ID{Actor: actor, Seq: seq},
		Deps:    deps,
		Payload: op.Payload{Kind: op.PayloadDeleteShape, ShapeID: id},
	}
}

func boxShape(id string, x, y int, ch string) *op.Shape {
	return &op.Shape{
		ID:   id,
		Kind: op.ShapeRectangle,
		From: op.Point{X: x, Y: y},
		To:   op.Point{X: x, Y: y},
		Cells: []op.CellPut{
			{At: op.Point{X: x, Y: y}, Cell: &op.Cell{Ch: ch}},
		},
	}
}

func TestShapeDeleteDominatesConcurrentEdit(t *testing.T) {
	create := upsertShape("alice", 1, nil, boxShape("s1", 0, 0, "+"))
	resize := upsertShape("zed", 1, op.Vector{"alice": 1}, boxShape("s1", 0, 0, "@"))
	del := deleteShape("bob", 1, op.Vector{"alice": 1}, "s1")

	orders := [][]*op.Operation{
		{create, resize, del},
		{create, del, resize},
	}
	for i, order := range orders {
		s := NewStore()
		s.Apply(order)
		if s.Shape("s1") != nil {
			t.Fatalf("order %d: deleted shape still materialized", i)
		}
		if !s.ShapeDeleted("s1") {
			t.Fatalf("order %d: tombstone missing", i)
		}
		if s.Snapshot().CellCount() != 0 {
			t.Fatalf("order %d: deleted shape left cells behind", i)
		}
	}
}

func TestShapeConcurrentUpsertsResolveByID(t *testing.T) {
	create := upsertShape("alice", 1, nil, boxShape("s1", 0, 0, "+"))
	editLow := upsertShape("bob", 1, op.Vector{"alice": 1}, boxShape("s1", 0, 0, "b"))
	editHigh := upsertShape("zed", 1, op.Vector{"alice": 1}, boxShape("s1", 0, 0, "z"))

	for _, order := range [][]*op.Operation{
		{create, editLow, editHigh},
		{create, editHigh, editLow},
	} {
		s := NewStore()
		s.Apply(order)
		shape := s.Shape("s1")
		if shape == nil || shape.Cells[0].Cell.Ch != "z" {
			t.Fatalf("highest-id concurrent upsert should win, got %+v", shape)
		}
	}
}

func TestShapeCellsCompositeOverBasePlane(t *testing.T) {
	s := NewStore()
	s.Apply([]*op.Operation{
		setCell("alice", 1, nil, 0, 0, "."),
		upsertShape("alice", 2, op.Vector{"alice": 1}, boxShape("s1", 0, 0, "#")),
	})
	c, _ := s.Snapshot().CellAt(op.Point{X: 0, Y: 0})
	if c.Ch != "#" {
		t.Fatalf("shape cell should cover the base plane, got %q", c.Ch)
	}
	s.Apply([]*op.Operation{deleteShape("alice", 3, op.Vector{"alice": 2}, "s1")})
	c, _ = s.Snapshot().CellAt(op.Point{X: 0, Y: 0})
	if c.Ch != "." {
		t.Fatalf("base plane should reappear after shape delete, got %q", c.Ch)
	}
}

func TestSubscribeFiresOncePerBatch(t *testing.T) {
	s := NewStore()
	var calls int
	s.Subscribe(func() { calls++ })
	s.Apply([]*op.Operation{
		setCell("alice", 1, nil, 0, 0, "a"),
		setCell("alice", 2, op.Vector{"alice": 1}, 1, 0, "b"),
	})
	if calls != 1 {
		t.Fatalf("expected one notification per batch, got %d", calls)
	}
	s.Apply(nil)
	if calls != 1 {
		t.Fatalf("empty batch should not notify, got %d", calls)
	}
}

func TestSnapshotString(t *testing.T) {
	s := NewStore()
	s.Apply([]*op.Operation{
		setCell("alice", 1, nil, 0, 0, "h"),
		setCell("alice", 2, op.Vector{"alice": 1}, 1, 0, "i"),
		setCell("alice", 3, op.Vector{"alice": 2}, 0, 1, "!"),
	})
	want := "hi\n! "
	if got := s.Snapshot().String(); got != want {
		t.Fatalf("render mismatch: got %q want %q", got, want)
	}
}
