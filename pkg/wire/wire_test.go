package wire

import (
	"testing"

	"github.com/telescrawl/telescrawl/pkg/op"
)

func TestEncodeDecodeHello(t *testing.T) {
	raw, err := Encode(&Message{Kind: KindHello, Hello: &Hello{
		DocID:  "d1",
		Actor:  "a1",
		Vector: op.Vector{"a1": 3, "b2": 7},
	}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if m.Kind != KindHello || m.Hello.DocID != "d1" || m.Hello.Vector["b2"] != 7 {
		t.Fatalf("round trip mangled the hello: %+v", m.Hello)
	}
}

func TestDecodeOpsPreservesIDsAndDeps(t *testing.T) {
	o := &op.Operation{
		ID:   op.ID{Actor: "a1", Seq: 4},
		Deps: op.Vector{"b2": 2},
		Payload: op.Payload{
			Kind:  op.PayloadSetCells,
			Cells: []op.CellPut{{At: op.Point{X: 1, Y: 2}, Cell: &op.Cell{Ch: "#", Brush: "solid"}}},
		},
	}
	raw, err := Encode(&Message{Kind: KindOps, Ops: &OpBatch{Ops: []*op.Operation{o}}})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	m, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	got := m.Ops.Ops[0]
	if got.ID != o.ID || got.Deps["b2"] != 2 || got.Payload.Cells[0].Cell.Ch != "#" {
		t.Fatalf("operation did not survive the wire: %+v", got)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"not json", "{{{"},
		{"unknown kind", `{"kind":"gossip"}`},
		{"hello without body", `{"kind":"hello"}`},
		{"ops without body", `{"kind":"ops"}`},
		{"presence without body", `{"kind":"presence"}`},
	}
	for _, c := range cases {
		if _, err := Decode([]byte(c.raw)); err == nil {
			t.Fatalf("%s: expected an error", c.name)
		}
	}
}
