// Package scheduler builds the projects of a graph in dependency order.
//
// The traversal uses an explicit stack instead of recursion: the top project
// is built once all of its direct dependencies are built, otherwise its
// unbuilt dependencies are pushed above it. The first failing build stops the
// whole traversal.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/projbuild/projbuild/pkg/builders"
	pcontext "github.com/projbuild/projbuild/pkg/context"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
)

// Observer is told about every build attempt
type Observer interface {
	BuildStarted(node *graph.ProjectNode)
	BuildSucceeded(node *graph.ProjectNode)
	BuildFailed(node *graph.ProjectNode, err error)
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(s *Scheduler) { s.log = log }
}

// WithClock sets the source of build timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver registers an observer
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observers = append(s.observers, o) }
}

// Scheduler drives the build pass over a graph
type Scheduler struct {
	graph     *graph.Graph
	builder   builders.Builder
	log       logger.Logger
	now       func() time.Time
	observers []Observer

	lastStamp time.Time
}

// New creates a scheduler building the projects of g with b
func New(g *graph.Graph, b builders.Builder, opts ...Option) *Scheduler {
	s := &Scheduler{
		graph:   g,
		builder: b,
		log:     logger.NewNopLogger(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CanBuild reports whether node is unbuilt and all of its direct
// dependencies are built
func (s *Scheduler) CanBuild(node *graph.ProjectNode) bool {
	if node.IsBuilt() {
		return false
	}
	for _, dep := range s.graph.Dependencies(node) {
		if !dep.IsBuilt() {
			return false
		}
	}
	return true
}

// Build builds root and everything it depends on. A graph that is already
// built performs no build actions.
func (s *Scheduler) Build(ctx context.Context, root *graph.ProjectNode) *types.BuildReport {
	start := time.Now()
	report := s.newReport(ctx)

	if root != nil {
		s.traverse(ctx, root, report)
	}

	reachable := s.reachable(root)
	report.ProjectCount = len(reachable)
	s.finish(report, reachable, start)
	return report
}

// BuildAll builds every root in discovery order, stopping at the first
// failure
func (s *Scheduler) BuildAll(ctx context.Context) *types.BuildReport {
	start := time.Now()
	report := s.newReport(ctx)

	roots := s.graph.Roots()
	if len(roots) == 0 && s.graph.Len() > 0 {
		report.Failed = &types.ProjectError{Error: graph.ErrCyclicDependency.Error()}
	}
	for _, root := range roots {
		if !s.traverse(ctx, root, report) {
			break
		}
	}

	report.ProjectCount = s.graph.Len()
	s.finish(report, s.graph.Nodes(), start)
	return report
}

func (s *Scheduler) newReport(ctx context.Context) *types.BuildReport {
	s.lastStamp = time.Time{}
	for _, n := range s.graph.Nodes() {
		if rec := n.Build(); rec != nil && rec.Timestamp.After(s.lastStamp) {
			s.lastStamp = rec.Timestamp
		}
	}

	report := &types.BuildReport{ReportDate: s.now()}
	if pcontext.HasRunID(ctx) {
		report.RunID = pcontext.GetRunID(ctx)
	}
	return report
}

// traverse runs the stack loop from root. It returns false once the pass
// has halted.
func (s *Scheduler) traverse(ctx context.Context, root *graph.ProjectNode, report *types.BuildReport) bool {
	log := logger.WithContext(ctx, s.log)

	skipped := make(map[string]bool, len(report.Skipped.Projects))
	for _, p := range report.Skipped.Projects {
		skipped[p] = true
	}
	builtHere := make(map[string]bool, len(report.Built.Projects))
	for _, p := range report.Built.Projects {
		builtHere[p] = true
	}
	expanded := make(map[string]bool)

	stack := []*graph.ProjectNode{root}
	for len(stack) > 0 {
		top := stack[len(stack)-1]

		if err := ctx.Err(); err != nil {
			report.Failed = &types.ProjectError{Path: top.Path(), Error: fmt.Sprintf("build cancelled: %v", err)}
			log.Warn("Build cancelled", logger.WithError(err))
			return false
		}

		builtOnEntry := top.IsBuilt()
		canBuild := s.CanBuild(top)

		if canBuild {
			report.Attempts++
			if err := s.buildOne(ctx, log, top); err != nil {
				report.Failed = &types.ProjectError{Path: top.Path(), Error: err.Error()}
				return false
			}
			report.Built.Add(top.Path())
			builtHere[top.Path()] = true
		}

		if canBuild || builtOnEntry {
			stack = stack[:len(stack)-1]
			if builtOnEntry && !builtHere[top.Path()] && !skipped[top.Path()] {
				skipped[top.Path()] = true
				report.Skipped.Add(top.Path())
				log.WithProject(top.Name()).Debug("Already built")
			}
		} else {
			// A project that comes back to the top still unbuildable sits on
			// a dependency cycle.
			if expanded[top.Path()] {
				err := fmt.Errorf("%w: %s", graph.ErrCyclicDependency, top.Path())
				report.Failed = &types.ProjectError{Path: top.Path(), Error: err.Error()}
				log.Error("Cannot build", logger.WithError(err))
				return false
			}
			expanded[top.Path()] = true
		}

		for _, dep := range s.graph.Dependencies(top) {
			if !dep.IsBuilt() {
				stack = append(stack, dep)
			}
		}
	}

	return true
}

func (s *Scheduler) buildOne(ctx context.Context, log logger.Logger, node *graph.ProjectNode) error {
	plog := log.WithProject(node.Name())
	plog.Info(fmt.Sprintf("Building %s", node.Path()))
	for _, o := range s.observers {
		o.BuildStarted(node)
	}

	outputPath, err := s.builder.Build(ctx, node)
	if err == nil {
		err = s.graph.MarkBuilt(node.Path(), s.stamp(), outputPath)
	}
	if err != nil {
		plog.Error("Build failed", logger.WithError(err))
		for _, o := range s.observers {
			o.BuildFailed(node, err)
		}
		return err
	}

	plog.Success("Build completed", logger.WithField("output", outputPath))
	for _, o := range s.observers {
		o.BuildSucceeded(node)
	}
	return nil
}

// stamp returns a timestamp strictly after every stamp handed out so far
func (s *Scheduler) stamp() time.Time {
	t := s.now()
	if !s.lastStamp.IsZero() && !t.After(s.lastStamp) {
		t = s.lastStamp.Add(time.Nanosecond)
	}
	s.lastStamp = t
	return t
}

// reachable lists root and its transitive dependencies
func (s *Scheduler) reachable(root *graph.ProjectNode) []*graph.ProjectNode {
	if root == nil {
		return nil
	}

	seen := map[string]bool{root.Path(): true}
	out := []*graph.ProjectNode{root}
	stack := []*graph.ProjectNode{root}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, dep := range s.graph.Dependencies(n) {
			if !seen[dep.Path()] {
				seen[dep.Path()] = true
				out = append(out, dep)
				stack = append(stack, dep)
			}
		}
	}
	return out
}

func (s *Scheduler) finish(report *types.BuildReport, scope []*graph.ProjectNode, start time.Time) {
	for _, n := range scope {
		if n.IsBuilt() {
			continue
		}
		if report.Failed != nil && report.Failed.Path == n.Path() {
			continue
		}
		report.Blocked.Add(n.Path())
	}

	report.Status = types.RunStatusSuccess
	if report.Failed != nil {
		report.Status = types.RunStatusFailed
	}

	report.Elapsed = time.Since(start)
	report.ExecutedIn = types.FormatElapsed(report.Elapsed)

	if report.Status == types.RunStatusSuccess {
		s.log.Success(fmt.Sprintf("Build completed in %s", report.ExecutedIn),
			logger.WithField("built", report.Built.Count),
			logger.WithField("already_built", report.Skipped.Count))
	} else {
		s.log.Error(fmt.Sprintf("Build failed after %s", report.ExecutedIn),
			logger.WithField("built", report.Built.Count),
			logger.WithField("blocked", report.Blocked.Count))
	}
}
