// Package types provides core types and configurations for projbuild
package types

import (
	"fmt"
	"time"
)

// ConversionStatus represents the conversion state of a project
type ConversionStatus string

const (
	ConversionStatusNotConverted ConversionStatus = "not-converted"
	ConversionStatusConverted    ConversionStatus = "converted"
	ConversionStatusFailed       ConversionStatus = "convert-failed"
)

// BuildStatus represents the current state of a project build
type BuildStatus string

const (
	BuildStatusIdle      BuildStatus = "idle"
	BuildStatusBuilding  BuildStatus = "building"
	BuildStatusSucceeded BuildStatus = "succeeded"
	BuildStatusFailed    BuildStatus = "failed"
	BuildStatusBlocked   BuildStatus = "blocked"
)

// RunStatus is the aggregate outcome of a pass
type RunStatus string

const (
	RunStatusSuccess RunStatus = "Success"
	RunStatusFailed  RunStatus = "Failed"
)

// LogLevel represents logging verbosity levels
type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

// ReportFormat selects the serialization used for reports
type ReportFormat string

const (
	ReportFormatJSON ReportFormat = "json"
	ReportFormatYAML ReportFormat = "yaml"
)

// Reference is one dependency entry of a descriptor
type Reference struct {
	RelativePath string `json:"Relative Path" yaml:"Relative Path"`
}

// Descriptor is the parsed content of a project descriptor file
type Descriptor struct {
	Name           string      `json:"Name,omitempty" yaml:"Name,omitempty"`
	References     []Reference `json:"References" yaml:"References"`
	BuildCommand   string      `json:"Build Command,omitempty" yaml:"Build Command,omitempty"`
	ConvertCommand string      `json:"Convert Command,omitempty" yaml:"Convert Command,omitempty"`
}

// CommandConfig configures a shell command run per project
type CommandConfig struct {
	Command     string            `json:"command,omitempty" yaml:"command,omitempty" mapstructure:"command"`
	Timeout     int               `json:"timeout,omitempty" yaml:"timeout,omitempty" mapstructure:"timeout"`
	Environment map[string]string `json:"environment,omitempty" yaml:"environment,omitempty" mapstructure:"environment"`
}

// GetTimeout returns the command timeout, zero meaning none
func (c CommandConfig) GetTimeout() time.Duration {
	if c.Timeout <= 0 {
		return 0
	}
	return time.Duration(c.Timeout) * time.Second
}

// NotificationConfig represents notification preferences
type NotificationConfig struct {
	Enabled      *bool  `json:"enabled,omitempty" yaml:"enabled,omitempty" mapstructure:"enabled"`
	SuccessSound string `json:"successSound,omitempty" yaml:"successSound,omitempty" mapstructure:"successSound"`
	FailureSound string `json:"failureSound,omitempty" yaml:"failureSound,omitempty" mapstructure:"failureSound"`
}

// IsEnabled reports whether notifications are switched on
func (n *NotificationConfig) IsEnabled() bool {
	return n != nil && n.Enabled != nil && *n.Enabled
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	File  string   `json:"file" yaml:"file" mapstructure:"file"`
	Level LogLevel `json:"level" yaml:"level" mapstructure:"level"`
}

// ProjbuildConfig represents the main configuration
type ProjbuildConfig struct {
	Version             string              `json:"version" yaml:"version" mapstructure:"version"`
	DescriptorPattern   string              `json:"descriptorPattern,omitempty" yaml:"descriptorPattern,omitempty" mapstructure:"descriptorPattern"`
	Exclude             []string            `json:"exclude,omitempty" yaml:"exclude,omitempty" mapstructure:"exclude"`
	ResolveExternal     *bool               `json:"resolveExternal,omitempty" yaml:"resolveExternal,omitempty" mapstructure:"resolveExternal"`
	RequireSingleRoot   bool                `json:"requireSingleRoot,omitempty" yaml:"requireSingleRoot,omitempty" mapstructure:"requireSingleRoot"`
	OutputDir           string              `json:"outputDir,omitempty" yaml:"outputDir,omitempty" mapstructure:"outputDir"`
	ReportFormat        ReportFormat        `json:"reportFormat,omitempty" yaml:"reportFormat,omitempty" mapstructure:"reportFormat"`
	DescriptorCacheSize int                 `json:"descriptorCacheSize,omitempty" yaml:"descriptorCacheSize,omitempty" mapstructure:"descriptorCacheSize"`
	Build               CommandConfig       `json:"build,omitempty" yaml:"build,omitempty" mapstructure:"build"`
	Convert             CommandConfig       `json:"convert,omitempty" yaml:"convert,omitempty" mapstructure:"convert"`
	Notifications       *NotificationConfig `json:"notifications,omitempty" yaml:"notifications,omitempty" mapstructure:"notifications"`
	Logging             *LoggingConfig      `json:"logging,omitempty" yaml:"logging,omitempty" mapstructure:"logging"`
}

// ShouldResolveExternal reports whether out-of-tree descriptors get their
// own dependencies loaded. Defaults to true.
func (c *ProjbuildConfig) ShouldResolveExternal() bool {
	return c.ResolveExternal == nil || *c.ResolveExternal
}

// ConversionReport summarizes one conversion pass
type ConversionReport struct {
	RunID        string         `json:"Run ID,omitempty" yaml:"Run ID,omitempty"`
	ReportDate   time.Time      `json:"Report Date" yaml:"Report Date"`
	Elapsed      time.Duration  `json:"-" yaml:"-"`
	ExecutedIn   string         `json:"Executed in" yaml:"Executed in"`
	Status       RunStatus      `json:"Status" yaml:"Status"`
	ProjectCount int            `json:"Project Count" yaml:"Project Count"`
	Completed    ProjectList    `json:"Completed" yaml:"Completed"`
	Failed       ProjectList    `json:"Failed" yaml:"Failed"`
	Errors       []ProjectError `json:"Errors,omitempty" yaml:"Errors,omitempty"`
}

// BuildReport summarizes one build pass
type BuildReport struct {
	RunID        string        `json:"Run ID,omitempty" yaml:"Run ID,omitempty"`
	ReportDate   time.Time     `json:"Report Date" yaml:"Report Date"`
	Elapsed      time.Duration `json:"-" yaml:"-"`
	ExecutedIn   string        `json:"Executed in" yaml:"Executed in"`
	Status       RunStatus     `json:"Status" yaml:"Status"`
	ProjectCount int           `json:"Project Count" yaml:"Project Count"`
	Built        ProjectList   `json:"Built" yaml:"Built"`
	Skipped      ProjectList   `json:"Already Built" yaml:"Already Built"`
	Failed       *ProjectError `json:"Failed,omitempty" yaml:"Failed,omitempty"`
	Blocked      ProjectList   `json:"Blocked" yaml:"Blocked"`
	Attempts     int           `json:"Build Attempts" yaml:"Build Attempts"`
}

// ProjectList is a counted list of project paths
type ProjectList struct {
	Count    int      `json:"Count" yaml:"Count"`
	Projects []string `json:"Projects" yaml:"Projects"`
}

// Add appends a project path
func (l *ProjectList) Add(path string) {
	l.Projects = append(l.Projects, path)
	l.Count = len(l.Projects)
}

// ProjectError pairs a project path with the reason it failed
type ProjectError struct {
	Path  string `json:"Path" yaml:"Path"`
	Error string `json:"Error" yaml:"Error"`
}

// FormatElapsed renders a duration for the "Executed in" report field
func FormatElapsed(d time.Duration) string {
	return fmt.Sprintf("%.3f seconds", d.Seconds())
}
