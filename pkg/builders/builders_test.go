package builders_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/projbuild/projbuild/pkg/builders"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/types"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

// loadedNode creates a project at root/rel with the given descriptor
func loadedNode(t *testing.T, root, rel string, desc *types.Descriptor) *graph.ProjectNode {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0644))

	g := graph.New()
	node, _ := g.GetOrCreate(path, false)
	require.NoError(t, g.MarkLoaded(path, desc))
	return node
}

func TestCommandBuilder_Placeholder(t *testing.T) {
	root := t.TempDir()
	node := loadedNode(t, root, "libs/core/core.proj", &types.Descriptor{})

	b := builders.NewCommandBuilder(root, "", types.CommandConfig{}, nil)
	out, err := b.Build(context.Background(), node)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "output", "core"), out)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr), "placeholder build does not touch the filesystem")
}

func TestCommandBuilder_RunsDescriptorCommand(t *testing.T) {
	requireShell(t)
	root := t.TempDir()
	node := loadedNode(t, root, "app/app.proj", &types.Descriptor{
		Name:         "App",
		BuildCommand: `echo built > "$PROJBUILD_OUTPUT_DIR/artifact.txt" && pwd`,
	})

	b := builders.NewCommandBuilder(root, "dist", types.CommandConfig{Command: "exit 1"}, nil)
	out, err := b.Build(context.Background(), node)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "dist", "App"), out)
	data, err := os.ReadFile(filepath.Join(out, "artifact.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(data))

	logData, err := os.ReadFile(b.LogPath(node))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Build SUCCEEDED")
	assert.Contains(t, string(logData), filepath.Join(root, "app"), "command runs in the project directory")
	assert.Equal(t, 1.0, b.GetSuccessRate())
}

func TestCommandBuilder_ConfiguredDefaultCommand(t *testing.T) {
	requireShell(t)
	root := t.TempDir()
	node := loadedNode(t, root, "app/app.proj", &types.Descriptor{})

	cfg := types.CommandConfig{
		Command:     `echo "$GREETING" > "$PROJBUILD_OUTPUT_DIR/greeting.txt"`,
		Environment: map[string]string{"GREETING": "hello"},
	}
	b := builders.NewCommandBuilder(root, "out", cfg, nil)

	out, err := b.Build(context.Background(), node)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(out, "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(data))
}

func TestCommandBuilder_Failure(t *testing.T) {
	requireShell(t)
	root := t.TempDir()
	node := loadedNode(t, root, "app/app.proj", &types.Descriptor{BuildCommand: "echo broken >&2; exit 3"})

	b := builders.NewCommandBuilder(root, "", types.CommandConfig{}, nil)
	out, err := b.Build(context.Background(), node)

	require.Error(t, err)
	assert.Empty(t, out)
	assert.Contains(t, err.Error(), "Build failed")
	assert.Contains(t, err.Error(), "broken")
	assert.Equal(t, 0.0, b.GetSuccessRate())

	logData, err := os.ReadFile(b.LogPath(node))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "Build FAILED")
}

func TestCommandBuilder_Timeout(t *testing.T) {
	requireShell(t)
	root := t.TempDir()
	node := loadedNode(t, root, "app/app.proj", &types.Descriptor{BuildCommand: "exec sleep 5"})

	b := builders.NewCommandBuilder(root, "", types.CommandConfig{Timeout: 1}, nil)
	_, err := b.Build(context.Background(), node)
	assert.Error(t, err)
	assert.Less(t, b.GetLastRunTime().Seconds(), 5.0)
}

func TestCommandConverter(t *testing.T) {
	requireShell(t)
	root := t.TempDir()

	t.Run("placeholder", func(t *testing.T) {
		node := loadedNode(t, root, "a/a.proj", &types.Descriptor{})
		c := builders.NewCommandConverter(root, types.CommandConfig{}, nil)
		assert.NoError(t, c.Convert(context.Background(), node))
	})

	t.Run("command", func(t *testing.T) {
		node := loadedNode(t, root, "b/b.proj", &types.Descriptor{ConvertCommand: "touch converted.marker"})
		c := builders.NewCommandConverter(root, types.CommandConfig{}, nil)
		require.NoError(t, c.Convert(context.Background(), node))
		_, err := os.Stat(filepath.Join(root, "b", "converted.marker"))
		assert.NoError(t, err)
	})

	t.Run("failure", func(t *testing.T) {
		node := loadedNode(t, root, "c/c.proj", &types.Descriptor{})
		c := builders.NewCommandConverter(root, types.CommandConfig{Command: "false"}, nil)
		err := c.Convert(context.Background(), node)
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "Convert failed"))
	})
}

func TestBuilderFunc(t *testing.T) {
	var called string
	b := builders.BuilderFunc(func(_ context.Context, node *graph.ProjectNode) (string, error) {
		called = node.Path()
		return "out", nil
	})

	g := graph.New()
	node, _ := g.GetOrCreate("/r/a.proj", false)

	out, err := b.Build(context.Background(), node)
	require.NoError(t, err)
	assert.Equal(t, "out", out)
	assert.Equal(t, "/r/a.proj", called)
}
