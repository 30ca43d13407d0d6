package graph

import (
	"errors"
	"fmt"
	"io"
	"strings"

	dgraph "github.com/dominikbraun/graph"
	"github.com/dominikbraun/graph/draw"
)

// CycleError describes a dependency cycle found during validation
type CycleError struct {
	// Cycle lists the paths along the cycle; the first and last entries are equal.
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCyclicDependency, strings.Join(e.Cycle, " -> "))
}

func (e *CycleError) Unwrap() error { return ErrCyclicDependency }

// Validate checks that the dependency references are acyclic. It must run
// before scheduling: the build traversal does not terminate on a cycle.
func (g *Graph) Validate() error {
	dg := dgraph.New(dgraph.StringHash, dgraph.Directed(), dgraph.PreventCycles())

	for _, p := range g.order {
		if err := dg.AddVertex(p); err != nil && !errors.Is(err, dgraph.ErrVertexAlreadyExists) {
			return fmt.Errorf("failed to add vertex %s: %w", p, err)
		}
	}

	for _, p := range g.order {
		for _, d := range g.nodes[p].deps {
			err := dg.AddEdge(p, d)
			switch {
			case err == nil, errors.Is(err, dgraph.ErrEdgeAlreadyExists):
			case errors.Is(err, dgraph.ErrEdgeCreatesCycle):
				return &CycleError{Cycle: cyclePath(dg, p, d)}
			default:
				return fmt.Errorf("failed to add edge %s -> %s: %w", p, d, err)
			}
		}
	}

	return nil
}

// cyclePath reconstructs parent -> dep -> ... -> parent. The edge was
// rejected, so a path from dep back to parent already exists.
func cyclePath(dg dgraph.Graph[string, string], parent, dep string) []string {
	if parent == dep {
		return []string{parent, parent}
	}
	path, err := dgraph.ShortestPath(dg, dep, parent)
	if err != nil {
		return []string{parent, dep, parent}
	}
	return append([]string{parent}, path...)
}

// WriteDOT renders the graph in Graphviz DOT format. Edges point from a
// project to its dependencies; built projects are filled.
func (g *Graph) WriteDOT(w io.Writer) error {
	dg := dgraph.New(dgraph.StringHash, dgraph.Directed())

	for _, p := range g.order {
		n := g.nodes[p]
		attrs := []func(*dgraph.VertexProperties){
			dgraph.VertexAttribute("label", n.Name()),
			dgraph.VertexAttribute("tooltip", n.path),
		}
		if n.external {
			attrs = append(attrs, dgraph.VertexAttribute("shape", "box"))
		}
		if n.build != nil {
			attrs = append(attrs,
				dgraph.VertexAttribute("style", "filled"),
				dgraph.VertexAttribute("fillcolor", "palegreen"),
			)
		}
		if err := dg.AddVertex(p, attrs...); err != nil && !errors.Is(err, dgraph.ErrVertexAlreadyExists) {
			return fmt.Errorf("failed to add vertex %s: %w", p, err)
		}
	}

	for _, p := range g.order {
		for _, d := range g.nodes[p].deps {
			if err := dg.AddEdge(p, d); err != nil && !errors.Is(err, dgraph.ErrEdgeAlreadyExists) {
				return fmt.Errorf("failed to add edge %s -> %s: %w", p, d, err)
			}
		}
	}

	return draw.DOT(dg, w)
}
