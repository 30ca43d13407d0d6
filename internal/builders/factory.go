// Package builders wires the per-project actions from configuration
package builders

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/projbuild/projbuild/pkg/builders"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// BuilderFactory creates build and convert actions for a tree
type BuilderFactory struct {
	// DryRun replaces every command with a placeholder that logs and succeeds
	DryRun bool
}

// NewBuilderFactory creates a new builder factory
func NewBuilderFactory(dryRun bool) *BuilderFactory {
	return &BuilderFactory{DryRun: dryRun}
}

// CreateBuilder creates the build action for the tree at root
func (f *BuilderFactory) CreateBuilder(root string, cfg *types.ProjbuildConfig, log logger.Logger) builders.Builder {
	if log == nil {
		log = logger.NewNopLogger()
	}
	cb := builders.NewCommandBuilder(root, cfg.OutputDir, cfg.Build, log)
	if f.DryRun {
		return &dryRunBuilder{inner: cb, log: log}
	}
	return cb
}

// CreateConverter creates the convert action for the tree at root
func (f *BuilderFactory) CreateConverter(root string, cfg *types.ProjbuildConfig, log logger.Logger) builders.Converter {
	if log == nil {
		log = logger.NewNopLogger()
	}
	if f.DryRun {
		return builders.ConverterFunc(func(_ context.Context, node *graph.ProjectNode) error {
			log.WithProject(node.Name()).Info(fmt.Sprintf("Would convert %s", node.Path()))
			return nil
		})
	}
	return builders.NewCommandConverter(root, cfg.Convert, log)
}

type dryRunBuilder struct {
	inner *builders.CommandBuilder
	log   logger.Logger
}

func (d *dryRunBuilder) Build(_ context.Context, node *graph.ProjectNode) (string, error) {
	out := d.inner.OutputPath(node)
	d.log.WithProject(node.Name()).Info(fmt.Sprintf("Would build %s", node.Path()),
		logger.WithField("output", out))
	return out, nil
}

// OutputDir resolves the configured output directory against root
func OutputDir(root string, cfg *types.ProjbuildConfig) string {
	return builders.NewCommandBuilder(root, cfg.OutputDir, cfg.Build, nil).OutputDir
}

// ErrUnsafeOutputDir is returned by Clean when the output directory is not
// strictly inside the tree root
var ErrUnsafeOutputDir = errors.New("output directory is not inside the tree root")

// Clean removes the work directory and the output directory of a tree. The
// root itself and anything outside it are never removed.
func Clean(root string, cfg *types.ProjbuildConfig) ([]string, error) {
	root = filepath.Clean(root)

	dirs := []string{
		filepath.Join(root, builders.WorkDir),
		OutputDir(root, cfg),
	}
	for _, dir := range dirs {
		if dir == root || !utils.IsWithin(root, dir) {
			return nil, fmt.Errorf("%w: %s", ErrUnsafeOutputDir, dir)
		}
	}

	var removed []string
	for _, dir := range dirs {
		if !utils.DirectoryExists(dir) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", dir, err)
		}
		removed = append(removed, dir)
	}
	return removed, nil
}
