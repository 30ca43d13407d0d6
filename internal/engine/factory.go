package engine

import (
	"path/filepath"

	internalbuilders "github.com/projbuild/projbuild/internal/builders"
	"github.com/projbuild/projbuild/internal/state"
	"github.com/projbuild/projbuild/pkg/builders"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/mapper"
	"github.com/projbuild/projbuild/pkg/notifier"
	"github.com/projbuild/projbuild/pkg/report"
	"github.com/projbuild/projbuild/pkg/types"
)

// Dependencies are the collaborators of a Pipeline
type Dependencies struct {
	Builder   builders.Builder
	Converter builders.Converter
	State     *state.Manager
	Notifier  notifier.Notifier
	Reports   *report.Writer
	Loader    *mapper.DescriptorLoader
}

// DependencyFactory creates default implementations of dependencies
type DependencyFactory struct {
	projectRoot string
	logger      logger.Logger
	config      *types.ProjbuildConfig
	dryRun      bool
}

// NewDependencyFactory creates a new dependency factory
func NewDependencyFactory(projectRoot string, log logger.Logger, config *types.ProjbuildConfig) *DependencyFactory {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &DependencyFactory{
		projectRoot: filepath.Clean(projectRoot),
		logger:      log,
		config:      config,
	}
}

// WithDryRun makes the created actions log instead of running commands
func (f *DependencyFactory) WithDryRun(dryRun bool) *DependencyFactory {
	f.dryRun = dryRun
	return f
}

// CreateDefaults creates all default dependencies
func (f *DependencyFactory) CreateDefaults() (Dependencies, error) {
	actions := internalbuilders.NewBuilderFactory(f.dryRun)

	reports, err := report.NewWriter(
		internalbuilders.OutputDir(f.projectRoot, f.config),
		f.config.ReportFormat,
		f.logger,
	)
	if err != nil {
		return Dependencies{}, err
	}

	loader, err := mapper.NewDescriptorLoader(f.config.DescriptorCacheSize)
	if err != nil {
		return Dependencies{}, err
	}

	deps := Dependencies{
		Builder:   actions.CreateBuilder(f.projectRoot, f.config, f.logger),
		Converter: actions.CreateConverter(f.projectRoot, f.config, f.logger),
		State:     state.NewManager(f.projectRoot, f.logger),
		Reports:   reports,
		Loader:    loader,
	}

	// Desktop notifications only when switched on
	if f.config.Notifications.IsEnabled() {
		deps.Notifier = notifier.New(notifier.FromTypes(f.config.Notifications), f.logger)
	}

	return deps, nil
}

// CreateWithOverrides creates dependencies with specific overrides.
// Non-nil values replace defaults.
func (f *DependencyFactory) CreateWithOverrides(overrides Dependencies) (Dependencies, error) {
	deps, err := f.CreateDefaults()
	if err != nil {
		return deps, err
	}

	if overrides.Builder != nil {
		deps.Builder = overrides.Builder
	}
	if overrides.Converter != nil {
		deps.Converter = overrides.Converter
	}
	if overrides.State != nil {
		deps.State = overrides.State
	}
	if overrides.Notifier != nil {
		deps.Notifier = overrides.Notifier
	}
	if overrides.Reports != nil {
		deps.Reports = overrides.Reports
	}
	if overrides.Loader != nil {
		deps.Loader = overrides.Loader
	}

	return deps, nil
}
