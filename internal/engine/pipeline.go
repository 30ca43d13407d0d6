package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/projbuild/projbuild/pkg/builders"
	pcontext "github.com/projbuild/projbuild/pkg/context"
	"github.com/projbuild/projbuild/pkg/converter"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/mapper"
	"github.com/projbuild/projbuild/pkg/scheduler"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// ErrAlreadyRunning is returned when a run is requested while one is active
var ErrAlreadyRunning = errors.New("pipeline is already running")

// Stage selects the passes of a run
type Stage int

const (
	// StageConvert runs the conversion pass
	StageConvert Stage = 1 << iota
	// StageBuild runs the build pass
	StageBuild

	// StageAll runs every pass
	StageAll = StageConvert | StageBuild
)

// RunOptions controls a single run
type RunOptions struct {
	Stages Stage
	// Resume marks projects recorded as built in a previous run as already
	// built
	Resume bool
	// AllRoots builds every parentless project instead of only the first
	AllRoots bool
}

// CommandStats summarizes the commands an action ran
type CommandStats struct {
	SuccessRate float64
	LastRunTime time.Duration
}

// Result is the outcome of a run
type Result struct {
	RunID      string
	Graph      *graph.Graph
	Restored   int
	Pruned     int
	Conversion *types.ConversionReport
	Build      *types.BuildReport
	// Unreached lists the projects left unbuilt because they are not
	// dependencies of the selected root
	Unreached []string

	ConvertCommands *CommandStats
	BuildCommands   *CommandStats
	ReportPaths     []string
}

// Succeeded reports whether every pass that ran succeeded
func (r *Result) Succeeded() bool {
	if r.Conversion != nil && r.Conversion.Status != types.RunStatusSuccess {
		return false
	}
	if r.Build != nil && r.Build.Status != types.RunStatusSuccess {
		return false
	}
	return true
}

// Pipeline maps a tree, converts it and builds it
type Pipeline struct {
	config      *types.ProjbuildConfig
	projectRoot string
	logger      logger.Logger
	deps        Dependencies

	isRunning bool
	mu        sync.Mutex
}

// New creates a pipeline for the tree at projectRoot
func New(config *types.ProjbuildConfig, projectRoot string, log logger.Logger, deps Dependencies) (*Pipeline, error) {
	if log == nil {
		log = logger.NewNopLogger()
	}

	root, err := utils.AbsPath(projectRoot)
	if err != nil {
		return nil, err
	}

	if deps.Builder == nil {
		return nil, errors.New("builder dependency is required")
	}
	if deps.Converter == nil {
		return nil, errors.New("converter dependency is required")
	}

	return &Pipeline{
		config:      config,
		projectRoot: root,
		logger:      log,
		deps:        deps,
	}, nil
}

// Root returns the absolute tree root
func (p *Pipeline) Root() string {
	return p.projectRoot
}

// Map scans the tree and validates that the graph is acyclic
func (p *Pipeline) Map(ctx context.Context) (*graph.Graph, error) {
	opts := []mapper.Option{
		mapper.WithConfig(p.config),
		mapper.WithLogger(logger.WithContext(ctx, p.logger)),
	}
	if p.deps.Loader != nil {
		opts = append(opts, mapper.WithLoader(p.deps.Loader))
	}

	m, err := mapper.New(p.projectRoot, opts...)
	if err != nil {
		return nil, err
	}

	g, err := m.Map(ctx)
	if err != nil {
		return nil, err
	}

	if p.deps.Loader != nil {
		hits, misses := p.deps.Loader.Stats()
		logger.WithContext(ctx, p.logger).Debug("Descriptor cache",
			logger.WithField("hits", hits),
			logger.WithField("misses", misses),
			logger.WithField("cached", p.deps.Loader.Len()))
	}

	if err := g.Validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// Run performs one full run. Structural errors are returned; failed passes
// are reported through the result.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*Result, error) {
	p.mu.Lock()
	if p.isRunning {
		p.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	p.isRunning = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.isRunning = false
		p.mu.Unlock()
	}()

	if opts.Stages == 0 {
		opts.Stages = StageAll
	}
	ctx = pcontext.WithOperation(pcontext.NewRun(ctx), "run")
	log := logger.WithContext(ctx, p.logger)

	result := &Result{RunID: pcontext.GetRunID(ctx)}

	g, err := p.Map(ctx)
	if err != nil {
		log.Error("Mapping failed", logger.WithError(err))
		return nil, err
	}
	result.Graph = g
	log.Info(fmt.Sprintf("Mapped %d projects", g.Len()))

	if p.deps.State != nil {
		p.deps.State.SetRunID(result.RunID)
		if result.Pruned, err = p.deps.State.Prune(g); err != nil {
			log.Warn("Failed to drop stale state", logger.WithError(err))
		} else if result.Pruned > 0 {
			log.Info(fmt.Sprintf("Dropped state of %d projects no longer in the tree", result.Pruned))
		}
	}

	if opts.Resume && p.deps.State != nil {
		if result.Restored, err = p.deps.State.Restore(g); err != nil {
			return nil, fmt.Errorf("failed to restore state: %w", err)
		}
		log.Info(fmt.Sprintf("Restored %d built projects", result.Restored))
	}

	if opts.Stages&StageConvert != 0 {
		result.Conversion = p.convert(pcontext.WithOperation(ctx, "convert"), g)
		result.ConvertCommands = commandStats(p.deps.Converter)
		p.writeReport(log, result, func() (string, error) {
			return p.deps.Reports.WriteConversion(result.Conversion)
		})
	}

	if opts.Stages&StageBuild != 0 {
		result.Build = p.build(pcontext.WithOperation(ctx, "build"), g, opts.AllRoots)
		result.BuildCommands = commandStats(p.deps.Builder)
		if result.Build.Status == types.RunStatusSuccess {
			for _, n := range g.Unbuilt() {
				result.Unreached = append(result.Unreached, n.Path())
			}
			if len(result.Unreached) > 0 {
				log.Warn(fmt.Sprintf("%d projects are not dependencies of %s and were not built",
					len(result.Unreached), g.Root().Name()))
			}
		}
		p.writeReport(log, result, func() (string, error) {
			return p.deps.Reports.WriteBuild(result.Build)
		})
	}

	log.Info(fmt.Sprintf("Run finished in %s", types.FormatElapsed(pcontext.GetDuration(ctx))),
		logger.WithField("succeeded", result.Succeeded()))
	return result, nil
}

func (p *Pipeline) convert(ctx context.Context, g *graph.Graph) *types.ConversionReport {
	rep := converter.New(g, p.deps.Converter, p.logger).Run(ctx)

	if p.deps.State != nil {
		p.deps.State.RecordConversion(g, rep)
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyConversion(rep)
	}
	return rep
}

func (p *Pipeline) build(ctx context.Context, g *graph.Graph, allRoots bool) *types.BuildReport {
	opts := []scheduler.Option{scheduler.WithLogger(p.logger)}
	if p.deps.State != nil {
		opts = append(opts, scheduler.WithObserver(p.deps.State))
	}
	s := scheduler.New(g, p.deps.Builder, opts...)

	var rep *types.BuildReport
	if allRoots {
		rep = s.BuildAll(ctx)
	} else {
		rep = s.Build(ctx, g.Root())
	}

	if p.deps.State != nil {
		p.deps.State.RecordBlocked(rep.Blocked.Projects)
	}
	if p.deps.Notifier != nil {
		p.deps.Notifier.NotifyBuild(rep)
	}
	return rep
}

// commandStats returns the counts of an action that ran at least one
// command, or nil
func commandStats(action interface{}) *CommandStats {
	rs, ok := action.(builders.RunStats)
	if !ok || rs.GetLastRunTime() == 0 {
		return nil
	}
	return &CommandStats{
		SuccessRate: rs.GetSuccessRate(),
		LastRunTime: rs.GetLastRunTime(),
	}
}

func (p *Pipeline) writeReport(log logger.Logger, result *Result, write func() (string, error)) {
	if p.deps.Reports == nil {
		return
	}
	path, err := write()
	if err != nil {
		log.Warn("Failed to write report", logger.WithError(err))
		return
	}
	result.ReportPaths = append(result.ReportPaths, path)
}
