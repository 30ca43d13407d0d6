// Package mocks provides test doubles for the build and convert actions.
// builders_mock.go holds the gomock mocks generated by mockgen; this file
// holds hand-written recorders for tests that check ordering.
package mocks

import (
	"context"
	"sync"

	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/types"
)

// RecordingBuilder records every build call and fails for configured paths
type RecordingBuilder struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	// Before runs ahead of each build, e.g. to check dependency state
	Before func(node *graph.ProjectNode)
}

// NewRecordingBuilder creates a new recording builder
func NewRecordingBuilder() *RecordingBuilder {
	return &RecordingBuilder{
		failures: make(map[string]error),
	}
}

// Build implements builders.Builder
func (m *RecordingBuilder) Build(ctx context.Context, node *graph.ProjectNode) (string, error) {
	if m.Before != nil {
		m.Before(node)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, node.Path())
	if err, ok := m.failures[node.Path()]; ok {
		return "", err
	}
	return "./build/" + node.Name(), nil
}

// FailOn makes builds of path return err
func (m *RecordingBuilder) FailOn(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = err
}

// Calls returns the built paths in call order
func (m *RecordingBuilder) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// RecordingConverter records every convert call and fails for configured paths
type RecordingConverter struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
}

// NewRecordingConverter creates a new recording converter
func NewRecordingConverter() *RecordingConverter {
	return &RecordingConverter{
		failures: make(map[string]error),
	}
}

// Convert implements builders.Converter
func (m *RecordingConverter) Convert(ctx context.Context, node *graph.ProjectNode) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, node.Path())
	return m.failures[node.Path()]
}

// FailOn makes conversions of path return err
func (m *RecordingConverter) FailOn(path string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[path] = err
}

// Calls returns the converted paths in call order
func (m *RecordingConverter) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.calls))
	copy(out, m.calls)
	return out
}

// RecordingNotifier keeps every report it is sent
type RecordingNotifier struct {
	mu          sync.Mutex
	Builds      []*types.BuildReport
	Conversions []*types.ConversionReport
}

// NotifyBuild implements notifier.Notifier
func (m *RecordingNotifier) NotifyBuild(report *types.BuildReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Builds = append(m.Builds, report)
}

// NotifyConversion implements notifier.Notifier
func (m *RecordingNotifier) NotifyConversion(report *types.ConversionReport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Conversions = append(m.Conversions, report)
}

// BuildCount returns the number of build reports received
func (m *RecordingNotifier) BuildCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Builds)
}
