// Package mapper scans a directory tree for project descriptors and builds
// the deduplicated dependency graph.
package mapper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// DefaultDescriptorPattern matches project descriptor file names
const DefaultDescriptorPattern = "*.proj"

// Option configures a Mapper
type Option func(*Mapper)

// WithLogger sets the logger
func WithLogger(log logger.Logger) Option {
	return func(m *Mapper) { m.log = log }
}

// WithDescriptorPattern sets the glob matched against file base names
func WithDescriptorPattern(pattern string) Option {
	return func(m *Mapper) { m.pattern = pattern }
}

// WithExclude sets the directory exclusion patterns
func WithExclude(patterns []string) Option {
	return func(m *Mapper) { m.exclude = patterns }
}

// WithResolveExternal controls whether descriptors outside the root get their
// own dependencies loaded
func WithResolveExternal(resolve bool) Option {
	return func(m *Mapper) { m.resolveExternal = resolve }
}

// WithRequireSingleRoot makes several parentless projects an error
func WithRequireSingleRoot(strict bool) Option {
	return func(m *Mapper) { m.requireSingleRoot = strict }
}

// WithLoader shares a descriptor loader, and its parse cache, across mappers
func WithLoader(loader *DescriptorLoader) Option {
	return func(m *Mapper) { m.loader = loader }
}

// WithConfig applies the mapping settings of a configuration
func WithConfig(cfg *types.ProjbuildConfig) Option {
	return func(m *Mapper) {
		if cfg == nil {
			return
		}
		if cfg.DescriptorPattern != "" {
			m.pattern = cfg.DescriptorPattern
		}
		if cfg.Exclude != nil {
			m.exclude = cfg.Exclude
		}
		m.resolveExternal = cfg.ShouldResolveExternal()
		m.requireSingleRoot = cfg.RequireSingleRoot
		m.cacheSize = cfg.DescriptorCacheSize
	}
}

// Mapper discovers descriptors under a root directory
type Mapper struct {
	root              string
	pattern           string
	exclude           []string
	resolveExternal   bool
	requireSingleRoot bool
	cacheSize         int

	files    *utils.FileMatcher
	excluded *utils.ExclusionMatcher
	loader   *DescriptorLoader
	log      logger.Logger
}

// New creates a mapper for the tree at root
func New(root string, opts ...Option) (*Mapper, error) {
	m := &Mapper{
		pattern:         DefaultDescriptorPattern,
		exclude:         utils.GetDefaultExclusions(),
		resolveExternal: true,
		log:             logger.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}

	abs, err := utils.AbsPath(root)
	if err != nil {
		return nil, newError("new", root, err)
	}
	m.root = canonicalPath(abs)

	if m.files, err = utils.NewFileMatcher(m.pattern); err != nil {
		return nil, newError("new", root, fmt.Errorf("invalid descriptor pattern %q: %w", m.pattern, err))
	}
	if m.excluded, err = utils.NewExclusionMatcher(m.exclude); err != nil {
		return nil, newError("new", root, fmt.Errorf("invalid exclusion pattern: %w", err))
	}
	if m.loader == nil {
		if m.loader, err = NewDescriptorLoader(m.cacheSize); err != nil {
			return nil, newError("new", root, err)
		}
	}

	return m, nil
}

// Root returns the absolute tree root
func (m *Mapper) Root() string {
	return m.root
}

// Map scans the tree and returns the populated graph. Any structural error
// aborts mapping and no graph is returned.
func (m *Mapper) Map(ctx context.Context) (*graph.Graph, error) {
	info, err := os.Stat(m.root)
	if err != nil || !info.IsDir() {
		return nil, newError("map", m.root, ErrRootNotFound)
	}

	g := graph.New()

	stack := []string{m.root}
	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		dir := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		descriptor, subdirs, err := m.scanDirectory(dir)
		if err != nil {
			return nil, err
		}

		if descriptor != "" {
			descriptor = canonicalPath(descriptor)
			m.log.Debug("Found descriptor", logger.WithField("path", descriptor))
			node, _ := g.GetOrCreate(descriptor, !utils.IsWithin(m.root, descriptor))
			if !node.Loaded() {
				if err := m.load(g, node); err != nil {
					return nil, err
				}
			}
		}

		// reverse push keeps the visit order lexical
		for i := len(subdirs) - 1; i >= 0; i-- {
			stack = append(stack, subdirs[i])
		}
	}

	if err := m.drainPending(ctx, g); err != nil {
		return nil, err
	}

	if err := m.checkRoots(g); err != nil {
		return nil, err
	}

	m.log.Info(fmt.Sprintf("Mapped %d projects", g.Len()), logger.WithField("root", m.root))
	return g, nil
}

// scanDirectory lists dir and returns its descriptor, if any, and the child
// directories to visit. Symlinked directories are not followed.
func (m *Mapper) scanDirectory(dir string) (string, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", nil, newError("scan", dir, err)
	}

	var descriptor string
	var subdirs []string
	for _, entry := range entries {
		full := filepath.Join(dir, entry.Name())

		if entry.IsDir() {
			rel, err := filepath.Rel(m.root, full)
			if err == nil && m.excluded.IsExcluded(rel) {
				continue
			}
			subdirs = append(subdirs, full)
			continue
		}

		if !m.files.Match(full) {
			continue
		}
		if !entry.Type().IsRegular() && !(entry.Type()&os.ModeSymlink != 0 && utils.FileExists(full)) {
			continue
		}

		if descriptor != "" {
			return "", nil, newError("scan", dir,
				fmt.Errorf("%w: %s and %s", ErrMalformedTree, filepath.Base(descriptor), entry.Name()))
		}
		descriptor = full
	}

	return descriptor, subdirs, nil
}

// load parses a node's descriptor and links its dependencies. Called at most
// once per node.
func (m *Mapper) load(g *graph.Graph, node *graph.ProjectNode) error {
	desc, err := m.loader.Load(node.Path())
	if err != nil {
		return err
	}

	for _, ref := range desc.References {
		depPath := m.resolve(ref.RelativePath)
		if !utils.FileExists(depPath) {
			return newError("resolve", node.Path(), fmt.Errorf("%w: %s", ErrMissingDependency, depPath))
		}
		depPath = canonicalPath(depPath)

		dep, created := g.GetOrCreate(depPath, !utils.IsWithin(m.root, depPath))
		if created && dep.External() {
			m.log.Debug("Found external dependency",
				logger.WithField("path", depPath),
				logger.WithField("parent", node.Path()),
			)
		}
		if _, err := g.Link(node.Path(), depPath); err != nil {
			return newError("link", node.Path(), err)
		}
	}

	if err := g.MarkLoaded(node.Path(), desc); err != nil {
		return newError("load", node.Path(), err)
	}
	return nil
}

// drainPending loads nodes the directory scan never reached: external
// descriptors and descriptors inside excluded directories. External ones are
// left as leaves unless external resolution is on.
func (m *Mapper) drainPending(ctx context.Context, g *graph.Graph) error {
	var stack []string
	push := func(nodes []*graph.ProjectNode) {
		for i := len(nodes) - 1; i >= 0; i-- {
			n := nodes[i]
			if !n.Loaded() && (!n.External() || m.resolveExternal) {
				stack = append(stack, n.Path())
			}
		}
	}
	push(g.Nodes())

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		path := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		node, ok := g.Node(path)
		if !ok || node.Loaded() {
			continue
		}
		if err := m.load(g, node); err != nil {
			return err
		}
		push(g.Dependencies(node))
	}

	return nil
}

func (m *Mapper) checkRoots(g *graph.Graph) error {
	if g.Len() == 0 {
		m.log.Warn("No project descriptors found", logger.WithField("root", m.root))
		return nil
	}

	roots := g.Roots()
	switch {
	case len(roots) == 0:
		return newError("root", m.root, ErrNoRoot)
	case len(roots) > 1:
		paths := make([]string, len(roots))
		for i, r := range roots {
			paths[i] = r.Path()
		}
		if m.requireSingleRoot {
			return newError("root", m.root, fmt.Errorf("%w: %v", ErrAmbiguousRoot, paths))
		}
		m.log.Warn(fmt.Sprintf("Found %d root projects, using %s", len(roots), roots[0].Path()),
			logger.WithField("roots", paths))
	}
	return nil
}

// resolve turns a reference into an absolute path. Relative references are
// resolved against the tree root.
func (m *Mapper) resolve(ref string) string {
	ref = filepath.FromSlash(ref)
	if filepath.IsAbs(ref) {
		return filepath.Clean(ref)
	}
	return filepath.Join(m.root, ref)
}

// canonicalPath resolves symlinks so one file reached through different
// links maps to one node. Paths that cannot be resolved are kept as given.
func canonicalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return path
}
