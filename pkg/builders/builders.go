// Package builders provides the per-project build and convert actions
package builders

import (
	"context"
	"time"

	"github.com/projbuild/projbuild/pkg/graph"
)

//go:generate mockgen -destination=../mocks/builders_mock.go -package=mocks github.com/projbuild/projbuild/pkg/builders Builder,Converter

// Builder builds a single project whose dependencies are already built and
// returns the path of its output.
type Builder interface {
	Build(ctx context.Context, node *graph.ProjectNode) (string, error)
}

// Converter converts a single project in place
type Converter interface {
	Convert(ctx context.Context, node *graph.ProjectNode) error
}

// RunStats is implemented by actions that run commands and keep counts of
// them
type RunStats interface {
	GetLastRunTime() time.Duration
	GetSuccessRate() float64
}

var (
	_ RunStats = (*CommandBuilder)(nil)
	_ RunStats = (*CommandConverter)(nil)
)

// BuilderFunc adapts a function to the Builder interface
type BuilderFunc func(ctx context.Context, node *graph.ProjectNode) (string, error)

// Build calls f(ctx, node)
func (f BuilderFunc) Build(ctx context.Context, node *graph.ProjectNode) (string, error) {
	return f(ctx, node)
}

// ConverterFunc adapts a function to the Converter interface
type ConverterFunc func(ctx context.Context, node *graph.ProjectNode) error

// Convert calls f(ctx, node)
func (f ConverterFunc) Convert(ctx context.Context, node *graph.ProjectNode) error {
	return f(ctx, node)
}
