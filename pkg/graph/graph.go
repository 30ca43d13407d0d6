// Package graph holds the deduplicated project dependency graph.
//
// Graph is an arena: every ProjectNode lives in a single map keyed by its
// descriptor path and dependency edges are stored as path keys into that map.
// Two parents referencing the same descriptor therefore always resolve to the
// same *ProjectNode, and all state changes go through Graph methods.
package graph

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/projbuild/projbuild/pkg/types"
)

var (
	// ErrUnknownProject is returned when a path has no node in the graph
	ErrUnknownProject = errors.New("unknown project")

	// ErrAlreadyBuilt is returned when a build record is set twice
	ErrAlreadyBuilt = errors.New("project already built")

	// ErrCyclicDependency indicates the dependency references form a cycle
	ErrCyclicDependency = errors.New("cyclic dependency")
)

// BuildRecord is the outcome of a successful build. Timestamp and output
// path only ever exist together.
type BuildRecord struct {
	Timestamp  time.Time `json:"timestamp"`
	OutputPath string    `json:"outputPath"`
}

// ProjectNode is one descriptor in the graph
type ProjectNode struct {
	path       string
	deps       []string
	hasParent  bool
	external   bool
	loaded     bool
	descriptor *types.Descriptor
	conversion types.ConversionStatus
	build      *BuildRecord
}

// Path returns the absolute descriptor path, the node's identity
func (n *ProjectNode) Path() string { return n.path }

// HasParent reports whether some other project depends on this one
func (n *ProjectNode) HasParent() bool { return n.hasParent }

// External reports whether the descriptor lives outside the scanned root
func (n *ProjectNode) External() bool { return n.external }

// Loaded reports whether the descriptor was parsed and its dependencies linked
func (n *ProjectNode) Loaded() bool { return n.loaded }

// Descriptor returns the parsed descriptor, nil until loaded
func (n *ProjectNode) Descriptor() *types.Descriptor { return n.descriptor }

// ConversionStatus returns the conversion state
func (n *ProjectNode) ConversionStatus() types.ConversionStatus { return n.conversion }

// Build returns the build record, nil if the project has not been built
func (n *ProjectNode) Build() *BuildRecord {
	if n.build == nil {
		return nil
	}
	rec := *n.build
	return &rec
}

// IsBuilt reports whether the project carries a build record
func (n *ProjectNode) IsBuilt() bool { return n.build != nil }

// HasDependencies reports whether the project declares any dependency
func (n *ProjectNode) HasDependencies() bool { return len(n.deps) > 0 }

// DependencyPaths returns the dependency keys in discovery order
func (n *ProjectNode) DependencyPaths() []string {
	out := make([]string, len(n.deps))
	copy(out, n.deps)
	return out
}

// Name returns the descriptor's declared name, falling back to the file
// name without its extension.
func (n *ProjectNode) Name() string {
	if n.descriptor != nil && n.descriptor.Name != "" {
		return n.descriptor.Name
	}
	base := filepath.Base(n.path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Dir returns the directory holding the descriptor
func (n *ProjectNode) Dir() string { return filepath.Dir(n.path) }

func (n *ProjectNode) String() string { return n.path }

func (n *ProjectNode) linkedTo(dep string) bool {
	for _, d := range n.deps {
		if d == dep {
			return true
		}
	}
	return false
}

// Graph is the node cache shared by every pass of a run. It is not safe for
// concurrent use; passes run one after the other.
type Graph struct {
	nodes map[string]*ProjectNode
	order []string
}

// New creates an empty graph
func New() *Graph {
	return &Graph{
		nodes: make(map[string]*ProjectNode),
	}
}

// GetOrCreate returns the node for path, creating it if absent. The second
// result reports whether the node was created by this call. external is only
// applied on creation.
func (g *Graph) GetOrCreate(path string, external bool) (*ProjectNode, bool) {
	if n, ok := g.nodes[path]; ok {
		return n, false
	}
	n := &ProjectNode{
		path:       path,
		external:   external,
		conversion: types.ConversionStatusNotConverted,
	}
	g.nodes[path] = n
	g.order = append(g.order, path)
	return n, true
}

// Node looks up a node by path
func (g *Graph) Node(path string) (*ProjectNode, bool) {
	n, ok := g.nodes[path]
	return n, ok
}

// Len returns the number of nodes
func (g *Graph) Len() int { return len(g.nodes) }

// Nodes returns all nodes in discovery order
func (g *Graph) Nodes() []*ProjectNode {
	out := make([]*ProjectNode, 0, len(g.order))
	for _, p := range g.order {
		out = append(out, g.nodes[p])
	}
	return out
}

// Link records that parent depends on dep and flags dep as having a parent.
// Linking the same pair twice is a no-op; the boolean reports whether a new
// edge was added.
func (g *Graph) Link(parent, dep string) (bool, error) {
	p, ok := g.nodes[parent]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProject, parent)
	}
	d, ok := g.nodes[dep]
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownProject, dep)
	}
	d.hasParent = true
	if p.linkedTo(dep) {
		return false, nil
	}
	p.deps = append(p.deps, dep)
	return true, nil
}

// MarkLoaded stores the parsed descriptor and gates further loading
func (g *Graph) MarkLoaded(path string, desc *types.Descriptor) error {
	n, ok := g.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProject, path)
	}
	n.descriptor = desc
	n.loaded = true
	return nil
}

// Dependencies resolves a node's edges to the shared node instances
func (g *Graph) Dependencies(n *ProjectNode) []*ProjectNode {
	out := make([]*ProjectNode, 0, len(n.deps))
	for _, d := range n.deps {
		out = append(out, g.nodes[d])
	}
	return out
}

// Roots returns every node nobody depends on, in discovery order
func (g *Graph) Roots() []*ProjectNode {
	var roots []*ProjectNode
	for _, p := range g.order {
		if n := g.nodes[p]; !n.hasParent {
			roots = append(roots, n)
		}
	}
	return roots
}

// Root returns the first parentless node in discovery order, or nil
func (g *Graph) Root() *ProjectNode {
	for _, p := range g.order {
		if n := g.nodes[p]; !n.hasParent {
			return n
		}
	}
	return nil
}

// MarkBuilt stamps a project as built. A project is built at most once.
func (g *Graph) MarkBuilt(path string, timestamp time.Time, outputPath string) error {
	n, ok := g.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProject, path)
	}
	if n.build != nil {
		return fmt.Errorf("%w: %s", ErrAlreadyBuilt, path)
	}
	n.build = &BuildRecord{Timestamp: timestamp, OutputPath: outputPath}
	return nil
}

// SetConversion updates a project's conversion state
func (g *Graph) SetConversion(path string, status types.ConversionStatus) error {
	n, ok := g.nodes[path]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProject, path)
	}
	n.conversion = status
	return nil
}

// Unbuilt returns the nodes without a build record, in discovery order
func (g *Graph) Unbuilt() []*ProjectNode {
	var out []*ProjectNode
	for _, p := range g.order {
		if n := g.nodes[p]; n.build == nil {
			out = append(out, n)
		}
	}
	return out
}
