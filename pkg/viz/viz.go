// Package viz renders the operation history as a graphviz DAG, one node per
// operation with edges from its causal dependency frontier. Handy for
// debugging divergence reports: two replicas showing the same graph must
// show the same canvas.
package viz

import (
	"bytes"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"

	"github.com/telescrawl/telescrawl/pkg/op"
)

// RenderHistorySvg writes the DAG of the given operations to outputPath.
// Operations must be a complete, causally-closed set, e.g. Session.History.
func RenderHistorySvg(ops []*op.Operation, outputPath string) error {
	g := graphviz.New()

	graph, err := g.Graph()
	if err != nil {
		return fmt.Errorf("failed to setup graph: %w", err)
	}

	nodeMap := make(map[op.ID]*cgraph.Node)
	var edgeCounter uint64
	for _, o := range ops {
		n, err := graph.CreateNode(nodeName(o.ID))
		if err != nil {
			return fmt.Errorf("failed to create node: %w", err)
		}
		n.SetLabel(fmt.Sprintf("%s@%d %s", shortActor(o.ID.Actor), o.ID.Seq, o.Payload.Kind))
		nodeMap[o.ID] = n
	}
	for _, o := range ops {
		for _, actor := range o.Deps.Actors() {
			dep := op.ID{Actor: actor, Seq: o.Deps[actor]}
			from, ok := nodeMap[dep]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.Itoa(int(atomic.AddUint64(&edgeCounter, 1))), from, nodeMap[o.ID]); err != nil {
				return fmt.Errorf("failed to create edge: %w", err)
			}
		}
	}

	var buff bytes.Buffer
	if err := g.Render(graph, graphviz.SVG, &buff); err != nil {
		return fmt.Errorf("failed to render: %w", err)
	}

	if err := os.WriteFile(outputPath, buff.Bytes(), os.ModePerm); err != nil {
		return fmt.Errorf("failed to write")
	}
	return nil
}

// RenderToTemp renders the history to a fresh file under the temp dir and
// returns its path.
func RenderToTemp(ops []*op.Operation) (string, error) {
	tf := filepath.Join(os.TempDir(), fmt.Sprintf("%d%d.svg", time.Now().UnixNano(), rand.Int()))
	if err := RenderHistorySvg(ops, tf); err != nil {
		return "", err
	}
	return tf, nil
}

func nodeName(id op.ID) string {
	return fmt.Sprintf("%s:%d", id.Actor, id.Seq)
}

func shortActor(actor op.ActorID) string {
	if len(actor) > 8 {
		return string(actor[:8])
	}
	return string(actor)
}
