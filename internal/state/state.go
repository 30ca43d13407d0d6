// Package state persists per-project build state between runs
package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/projbuild/projbuild/pkg/builders"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// ProjectState is the persisted state of one project
type ProjectState struct {
	Path          string                 `json:"path"`
	Name          string                 `json:"name"`
	BuildStatus   types.BuildStatus      `json:"buildStatus"`
	Conversion    types.ConversionStatus `json:"conversionStatus"`
	LastBuildTime time.Time              `json:"lastBuildTime"`
	OutputPath    string                 `json:"outputPath,omitempty"`
	BuildCount    int                    `json:"buildCount"`
	FailureCount  int                    `json:"failureCount"`
	LastError     string                 `json:"lastError,omitempty"`
	BuildDuration time.Duration          `json:"buildDuration,omitempty"`
	RunID         string                 `json:"runId,omitempty"`
	UpdatedAt     time.Time              `json:"updatedAt"`
}

// Manager handles the state files of one tree
type Manager struct {
	stateDir string
	logger   logger.Logger
	runID    string

	mu      sync.RWMutex
	states  map[string]*ProjectState
	started map[string]time.Time
}

// NewManager creates a state manager for the tree at root
func NewManager(root string, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &Manager{
		stateDir: filepath.Join(root, builders.WorkDir, "state"),
		logger:   log,
		states:   make(map[string]*ProjectState),
		started:  make(map[string]time.Time),
	}
}

// StateDir returns the directory holding the state files
func (m *Manager) StateDir() string {
	return m.stateDir
}

// SetRunID tags every state written from now on with a run ID
func (m *Manager) SetRunID(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runID = id
}

// ReadState reads the state of the project at path
func (m *Manager) ReadState(path string) (*ProjectState, error) {
	m.mu.RLock()
	if s, ok := m.states[path]; ok {
		m.mu.RUnlock()
		return s, nil
	}
	m.mu.RUnlock()

	return m.loadStateFile(path)
}

// List returns every persisted state ordered by project path
func (m *Manager) List() ([]*ProjectState, error) {
	files, err := os.ReadDir(m.stateDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var states []*ProjectState
	for _, file := range files {
		if file.IsDir() || filepath.Ext(file.Name()) != ".json" {
			continue
		}
		s, err := readStateFile(filepath.Join(m.stateDir, file.Name()))
		if err != nil {
			m.logger.Warn("Failed to load state file",
				logger.WithField("file", file.Name()),
				logger.WithError(err))
			continue
		}
		states = append(states, s)
	}

	sort.Slice(states, func(i, j int) bool { return states[i].Path < states[j].Path })
	return states, nil
}

// BuildStarted records that a build began
func (m *Manager) BuildStarted(node *graph.ProjectNode) {
	m.update(node.Path(), node.Name(), func(s *ProjectState) {
		s.BuildStatus = types.BuildStatusBuilding
		s.LastError = ""
	})

	m.mu.Lock()
	m.started[node.Path()] = time.Now()
	m.mu.Unlock()
}

// BuildSucceeded records a finished build with its timestamp and output
func (m *Manager) BuildSucceeded(node *graph.ProjectNode) {
	duration := m.elapsed(node.Path())
	m.update(node.Path(), node.Name(), func(s *ProjectState) {
		s.BuildStatus = types.BuildStatusSucceeded
		s.BuildCount++
		s.BuildDuration = duration
		if rec := node.Build(); rec != nil {
			s.LastBuildTime = rec.Timestamp
			s.OutputPath = rec.OutputPath
		}
	})
}

// BuildFailed records a failed build
func (m *Manager) BuildFailed(node *graph.ProjectNode, err error) {
	duration := m.elapsed(node.Path())
	m.update(node.Path(), node.Name(), func(s *ProjectState) {
		s.BuildStatus = types.BuildStatusFailed
		s.FailureCount++
		s.BuildDuration = duration
		if err != nil {
			s.LastError = err.Error()
		}
	})
}

// RecordBlocked marks projects that could not be built because a
// dependency failed
func (m *Manager) RecordBlocked(paths []string) {
	for _, path := range paths {
		m.update(path, "", func(s *ProjectState) {
			if s.BuildStatus != types.BuildStatusSucceeded {
				s.BuildStatus = types.BuildStatusBlocked
			}
		})
	}
}

// RecordConversion stores the conversion status of every project in g
func (m *Manager) RecordConversion(g *graph.Graph, report *types.ConversionReport) {
	errs := make(map[string]string)
	if report != nil {
		for _, e := range report.Errors {
			errs[e.Path] = e.Error
		}
	}

	for _, node := range g.Nodes() {
		status := node.ConversionStatus()
		m.update(node.Path(), node.Name(), func(s *ProjectState) {
			s.Conversion = status
			if msg, ok := errs[node.Path()]; ok {
				s.LastError = msg
			}
		})
	}
}

// Restore marks every project of g whose state says it was built
// successfully as already built. It returns the number of restored projects.
func (m *Manager) Restore(g *graph.Graph) (int, error) {
	restored := 0
	for _, node := range g.Nodes() {
		if node.IsBuilt() {
			continue
		}

		s, err := m.ReadState(node.Path())
		if err != nil {
			if !os.IsNotExist(err) {
				m.logger.Warn("Ignoring unreadable state",
					logger.WithField("project", node.Path()),
					logger.WithError(err))
			}
			continue
		}
		if s.BuildStatus != types.BuildStatusSucceeded || s.LastBuildTime.IsZero() {
			continue
		}

		if err := g.MarkBuilt(node.Path(), s.LastBuildTime, s.OutputPath); err != nil {
			return restored, err
		}
		restored++
		m.logger.WithProject(node.Name()).Debug("Restored build state",
			logger.WithField("built_at", s.LastBuildTime))
	}
	return restored, nil
}

// RemoveState removes the state of the project at path
func (m *Manager) RemoveState(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, path)

	if err := os.Remove(m.stateFilePath(path)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove state file: %w", err)
	}
	return nil
}

// Prune removes the state of every project that is no longer part of g and
// returns how many were removed
func (m *Manager) Prune(g *graph.Graph) (int, error) {
	states, err := m.List()
	if err != nil {
		return 0, err
	}

	pruned := 0
	for _, s := range states {
		if _, ok := g.Node(s.Path); ok {
			continue
		}
		if err := m.RemoveState(s.Path); err != nil {
			return pruned, err
		}
		pruned++
		m.logger.Debug("Dropped stale state", logger.WithField("project", s.Path))
	}
	return pruned, nil
}

// Private methods

func (m *Manager) update(path, name string, apply func(*ProjectState)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.states[path]
	if !ok {
		loaded, err := m.loadStateFile(path)
		if err != nil {
			loaded = &ProjectState{
				Path:        path,
				BuildStatus: types.BuildStatusIdle,
				Conversion:  types.ConversionStatusNotConverted,
			}
		}
		s = loaded
		m.states[path] = s
	}

	if name != "" {
		s.Name = name
	}
	apply(s)
	s.RunID = m.runID
	s.UpdatedAt = time.Now()

	if err := m.saveStateFile(s); err != nil {
		m.logger.Warn("Failed to save state",
			logger.WithField("project", path),
			logger.WithError(err))
	}
}

func (m *Manager) elapsed(path string) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()

	start, ok := m.started[path]
	if !ok {
		return 0
	}
	delete(m.started, path)
	return time.Since(start)
}

// stateFilePath names the file after the project with a stable suffix
// derived from its full path, so equally named projects do not collide
func (m *Manager) stateFilePath(path string) string {
	base := filepath.Base(path)
	name := utils.SanitizeName(strings.TrimSuffix(base, filepath.Ext(base)))
	id := uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()[:8]
	return filepath.Join(m.stateDir, name+"-"+id+".json")
}

func (m *Manager) loadStateFile(path string) (*ProjectState, error) {
	return readStateFile(m.stateFilePath(path))
}

func readStateFile(file string) (*ProjectState, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var s ProjectState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	return &s, nil
}

func (m *Manager) saveStateFile(s *ProjectState) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := utils.WriteFileAtomic(m.stateFilePath(s.Path), data); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}
