package graph_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/types"
)

// chain builds a graph from parent -> dependency pairs, creating nodes in
// the order they first appear.
func chain(t *testing.T, edges ...[2]string) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, e := range edges {
		g.GetOrCreate(e[0], false)
		g.GetOrCreate(e[1], false)
		_, err := g.Link(e[0], e[1])
		require.NoError(t, err)
	}
	return g
}

func TestGetOrCreate_Deduplicates(t *testing.T) {
	g := graph.New()

	first, created := g.GetOrCreate("/r/a.proj", false)
	require.True(t, created)

	second, created := g.GetOrCreate("/r/a.proj", true)
	require.False(t, created)

	assert.Same(t, first, second)
	assert.False(t, second.External(), "external flag is only applied on creation")
	assert.Equal(t, 1, g.Len())
	assert.Equal(t, types.ConversionStatusNotConverted, first.ConversionStatus())
}

func TestLink_SharedDependencyIsSameInstance(t *testing.T) {
	g := chain(t,
		[2]string{"/r/a.proj", "/r/c.proj"},
		[2]string{"/r/b.proj", "/r/c.proj"},
	)

	a, _ := g.Node("/r/a.proj")
	b, _ := g.Node("/r/b.proj")

	aDeps := g.Dependencies(a)
	bDeps := g.Dependencies(b)
	require.Len(t, aDeps, 1)
	require.Len(t, bDeps, 1)
	assert.Same(t, aDeps[0], bDeps[0])
	assert.True(t, aDeps[0].HasParent())
}

func TestLink_IgnoresDuplicateEdge(t *testing.T) {
	g := chain(t, [2]string{"/r/a.proj", "/r/b.proj"})

	added, err := g.Link("/r/a.proj", "/r/b.proj")
	require.NoError(t, err)
	assert.False(t, added)

	a, _ := g.Node("/r/a.proj")
	assert.Equal(t, []string{"/r/b.proj"}, a.DependencyPaths())
}

func TestLink_UnknownProject(t *testing.T) {
	g := graph.New()
	g.GetOrCreate("/r/a.proj", false)

	_, err := g.Link("/r/a.proj", "/r/missing.proj")
	assert.ErrorIs(t, err, graph.ErrUnknownProject)

	_, err = g.Link("/r/missing.proj", "/r/a.proj")
	assert.ErrorIs(t, err, graph.ErrUnknownProject)
}

func TestRoot_FirstParentlessInDiscoveryOrder(t *testing.T) {
	g := chain(t,
		[2]string{"/r/app.proj", "/r/lib.proj"},
		[2]string{"/r/lib.proj", "/r/core.proj"},
	)

	root := g.Root()
	require.NotNil(t, root)
	assert.Equal(t, "/r/app.proj", root.Path())
	assert.Len(t, g.Roots(), 1)
}

func TestRoot_DependencyDiscoveredBeforeParent(t *testing.T) {
	g := graph.New()
	// lib found by directory traversal before app references it
	g.GetOrCreate("/r/lib.proj", false)
	g.GetOrCreate("/r/app.proj", false)
	_, err := g.Link("/r/app.proj", "/r/lib.proj")
	require.NoError(t, err)

	require.NotNil(t, g.Root())
	assert.Equal(t, "/r/app.proj", g.Root().Path())
}

func TestRoots_Disconnected(t *testing.T) {
	g := chain(t,
		[2]string{"/r/a.proj", "/r/b.proj"},
		[2]string{"/r/x.proj", "/r/y.proj"},
	)

	roots := g.Roots()
	require.Len(t, roots, 2)
	assert.Equal(t, "/r/a.proj", roots[0].Path())
	assert.Equal(t, "/r/x.proj", roots[1].Path())
	assert.Equal(t, "/r/a.proj", g.Root().Path())
}

func TestRoot_EmptyGraph(t *testing.T) {
	assert.Nil(t, graph.New().Root())
}

func TestMarkBuilt_SetsRecordOnce(t *testing.T) {
	g := graph.New()
	n, _ := g.GetOrCreate("/r/a.proj", false)
	assert.Nil(t, n.Build())
	assert.False(t, n.IsBuilt())

	ts := time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, g.MarkBuilt("/r/a.proj", ts, "./build"))

	rec := n.Build()
	require.NotNil(t, rec)
	assert.Equal(t, ts, rec.Timestamp)
	assert.Equal(t, "./build", rec.OutputPath)

	err := g.MarkBuilt("/r/a.proj", ts.Add(time.Second), "./other")
	assert.ErrorIs(t, err, graph.ErrAlreadyBuilt)
	assert.Equal(t, "./build", n.Build().OutputPath)

	assert.ErrorIs(t, g.MarkBuilt("/r/nope.proj", ts, "x"), graph.ErrUnknownProject)
}

func TestBuild_ReturnsCopy(t *testing.T) {
	g := graph.New()
	n, _ := g.GetOrCreate("/r/a.proj", false)
	require.NoError(t, g.MarkBuilt("/r/a.proj", time.Now(), "out"))

	rec := n.Build()
	rec.OutputPath = "tampered"
	assert.Equal(t, "out", n.Build().OutputPath)
}

func TestName(t *testing.T) {
	g := graph.New()
	n, _ := g.GetOrCreate("/r/libs/core.proj", false)
	assert.Equal(t, "core", n.Name())

	require.NoError(t, g.MarkLoaded("/r/libs/core.proj", &types.Descriptor{Name: "Core Library"}))
	assert.Equal(t, "Core Library", n.Name())
	assert.True(t, n.Loaded())
	assert.Equal(t, "/r/libs", n.Dir())
}

func TestUnbuilt(t *testing.T) {
	g := chain(t, [2]string{"/r/a.proj", "/r/b.proj"})
	require.NoError(t, g.MarkBuilt("/r/b.proj", time.Now(), "out"))

	unbuilt := g.Unbuilt()
	require.Len(t, unbuilt, 1)
	assert.Equal(t, "/r/a.proj", unbuilt[0].Path())
}

func TestValidate_Acyclic(t *testing.T) {
	g := chain(t,
		[2]string{"/r/a.proj", "/r/b.proj"},
		[2]string{"/r/a.proj", "/r/c.proj"},
		[2]string{"/r/b.proj", "/r/c.proj"},
	)
	assert.NoError(t, g.Validate())
}

func TestValidate_Cycle(t *testing.T) {
	g := chain(t,
		[2]string{"/r/a.proj", "/r/b.proj"},
		[2]string{"/r/b.proj", "/r/c.proj"},
		[2]string{"/r/c.proj", "/r/a.proj"},
	)

	err := g.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, graph.ErrCyclicDependency)

	var cycleErr *graph.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, cycleErr.Cycle[0], cycleErr.Cycle[len(cycleErr.Cycle)-1])
	assert.Len(t, cycleErr.Cycle, 4)
}

func TestValidate_SelfReference(t *testing.T) {
	g := chain(t, [2]string{"/r/a.proj", "/r/a.proj"})

	err := g.Validate()
	var cycleErr *graph.CycleError
	require.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, []string{"/r/a.proj", "/r/a.proj"}, cycleErr.Cycle)
}

func TestWriteDOT(t *testing.T) {
	g := chain(t, [2]string{"/r/app.proj", "/r/lib.proj"})
	require.NoError(t, g.MarkBuilt("/r/lib.proj", time.Now(), "out"))

	var buf bytes.Buffer
	require.NoError(t, g.WriteDOT(&buf))

	dot := buf.String()
	assert.Contains(t, dot, "digraph")
	assert.Contains(t, dot, `"/r/app.proj"`)
	assert.Contains(t, dot, `"/r/lib.proj"`)
	assert.Contains(t, dot, "palegreen")
}
