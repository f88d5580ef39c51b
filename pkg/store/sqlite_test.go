package store

import (
	"path/filepath"
	"testing"

	"github.com/telescrawl/telescrawl/pkg/op"
)

func sampleOps() []*op.Operation {
	return []*op.Operation{
		{
			ID:   op.ID{Actor: "alice", Seq: 1},
			Deps: op.Vector{},
			Payload: op.Payload{
				Kind:  op.PayloadSetCells,
				Cells: []op.CellPut{{At: op.Point{X: 0, Y: 0}, Cell: &op.Cell{Ch: "a"}}},
			},
		},
		{
			ID:   op.ID{Actor: "bob", Seq: 1},
			Deps: op.Vector{"alice": 1},
			Payload: op.Payload{
				Kind:    op.PayloadDeleteShape,
				ShapeID: "s1",
			},
		},
		{
			ID:   op.ID{Actor: "alice", Seq: 2},
			Deps: op.Vector{"alice": 1, "bob": 1},
			Payload: op.Payload{
				Kind:  op.PayloadUpsertShape,
				Shape: &op.Shape{ID: "s2", Kind: op.ShapeRectangle, From: op.Point{X: 1, Y: 1}, To: op.Point{X: 3, Y: 2}},
			},
		},
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer db.Close()

	ops := sampleOps()
	if err := db.SaveOps("doc-1", ops); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	docID, loaded, err := db.LoadOps()
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if docID != "doc-1" {
		t.Fatalf("doc id: got %q want %q", docID, "doc-1")
	}
	if len(loaded) != len(ops) {
		t.Fatalf("op count: got %d want %d", len(loaded), len(ops))
	}
	// Rows come back ordered by actor then seq.
	wantOrder := []op.ID{{Actor: "alice", Seq: 1}, {Actor: "alice", Seq: 2}, {Actor: "bob", Seq: 1}}
	for i, o := range loaded {
		if o.ID != wantOrder[i] {
			t.Fatalf("order[%d]: got %v want %v", i, o.ID, wantOrder[i])
		}
	}
	if loaded[1].Deps["bob"] != 1 || loaded[1].Payload.Shape.Kind != op.ShapeRectangle {
		t.Fatalf("deps or payload mangled: %+v", loaded[1])
	}
}

func TestSaveIsIdempotent(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer db.Close()

	ops := sampleOps()
	if err := db.SaveOps("doc-1", ops); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	if err := db.SaveOps("doc-1", ops); err != nil {
		t.Fatalf("second save failed: %v", err)
	}
	_, loaded, err := db.LoadOps()
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if len(loaded) != len(ops) {
		t.Fatalf("re-saving must not duplicate rows: got %d want %d", len(loaded), len(ops))
	}
}

func TestFreshDatabaseIsEmpty(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "log.db"))
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	defer db.Close()

	docID, ops, err := db.LoadOps()
	if err != nil {
		t.Fatalf("failed to load: %v", err)
	}
	if docID != "" || len(ops) != 0 {
		t.Fatalf("fresh db should be empty, got doc %q with %d ops", docID, len(ops))
	}
}

func TestPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("failed to open: %v", err)
	}
	if err := db.SaveOps("doc-1", sampleOps()); err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("failed to close: %v", err)
	}

	db, err = Open(path)
	if err != nil {
		t.Fatalf("failed to reopen: %v", err)
	}
	defer db.Close()
	docID, ops, err := db.LoadOps()
	if err != nil {
		t.Fatalf("failed to load after reopen: %v", err)
	}
	if docID != "doc-1" || len(ops) != 3 {
		t.Fatalf("data lost across reopen: doc %q, %d ops", docID, len(ops))
	}
}
