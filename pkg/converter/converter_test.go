package converter_test

import (
	"context"
	"errors"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projbuild/projbuild/pkg/converter"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/mocks"
	"github.com/projbuild/projbuild/pkg/types"
)

func threeProjects(t *testing.T) *graph.Graph {
	t.Helper()
	g := graph.New()
	for _, p := range []string{"/r/app.proj", "/r/lib.proj", "/r/core.proj"} {
		g.GetOrCreate(p, false)
	}
	_, err := g.Link("/r/app.proj", "/r/lib.proj")
	require.NoError(t, err)
	_, err = g.Link("/r/lib.proj", "/r/core.proj")
	require.NoError(t, err)
	return g
}

func status(t *testing.T, g *graph.Graph, path string) types.ConversionStatus {
	t.Helper()
	n, ok := g.Node(path)
	require.True(t, ok)
	return n.ConversionStatus()
}

func TestPass_ConvertsEveryProjectOnce(t *testing.T) {
	g := threeProjects(t)
	c := mocks.NewRecordingConverter()

	report := converter.New(g, c, nil).Run(context.Background())

	assert.Equal(t, []string{"/r/app.proj", "/r/lib.proj", "/r/core.proj"}, c.Calls())
	assert.Equal(t, types.RunStatusSuccess, report.Status)
	assert.Equal(t, 3, report.ProjectCount)
	assert.Equal(t, 3, report.Completed.Count)
	assert.Equal(t, 0, report.Failed.Count)
	assert.NotEmpty(t, report.ExecutedIn)

	for _, n := range g.Nodes() {
		assert.Equal(t, types.ConversionStatusConverted, n.ConversionStatus())
	}
}

func TestPass_ContinuesPastFailure(t *testing.T) {
	g := threeProjects(t)

	ctrl := gomock.NewController(t)
	c := mocks.NewMockConverter(ctrl)
	app, _ := g.Node("/r/app.proj")
	lib, _ := g.Node("/r/lib.proj")
	core, _ := g.Node("/r/core.proj")
	gomock.InOrder(
		c.EXPECT().Convert(gomock.Any(), app).Return(nil),
		c.EXPECT().Convert(gomock.Any(), lib).Return(errors.New("unsupported format")),
		c.EXPECT().Convert(gomock.Any(), core).Return(nil),
	)

	report := converter.New(g, c, nil).Run(context.Background())

	assert.Equal(t, types.RunStatusFailed, report.Status)
	assert.Equal(t, []string{"/r/app.proj", "/r/core.proj"}, report.Completed.Projects)
	assert.Equal(t, []string{"/r/lib.proj"}, report.Failed.Projects)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "unsupported format", report.Errors[0].Error)

	assert.Equal(t, types.ConversionStatusConverted, status(t, g, "/r/app.proj"))
	assert.Equal(t, types.ConversionStatusFailed, status(t, g, "/r/lib.proj"))
	assert.Equal(t, types.ConversionStatusConverted, status(t, g, "/r/core.proj"))
}

func TestPass_SkipsAlreadyConverted(t *testing.T) {
	g := threeProjects(t)
	require.NoError(t, g.SetConversion("/r/lib.proj", types.ConversionStatusConverted))
	require.NoError(t, g.SetConversion("/r/core.proj", types.ConversionStatusFailed))

	c := mocks.NewRecordingConverter()
	report := converter.New(g, c, nil).Run(context.Background())

	assert.Equal(t, []string{"/r/app.proj"}, c.Calls())
	assert.Equal(t, 1, report.ProjectCount)

	// a second pass has nothing left to do
	again := converter.New(g, c, nil).Run(context.Background())
	assert.Equal(t, 0, again.ProjectCount)
	assert.Equal(t, types.RunStatusSuccess, again.Status)
	assert.Len(t, c.Calls(), 1)
}

func TestPass_Cancelled(t *testing.T) {
	g := threeProjects(t)
	c := mocks.NewRecordingConverter()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := converter.New(g, c, nil).Run(ctx)

	assert.Empty(t, c.Calls())
	assert.Equal(t, types.RunStatusFailed, report.Status)
	assert.Equal(t, types.ConversionStatusNotConverted, status(t, g, "/r/app.proj"))
}
