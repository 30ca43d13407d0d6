// Package config handles configuration loading and management
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// CurrentVersion is the configuration schema version
const CurrentVersion = "1.0"

// FileNames are the configuration file names looked up in a tree root, in
// order of preference
var FileNames = []string{
	"projbuild.config.json",
	"projbuild.config.yaml",
	"projbuild.config.yml",
}

// Defaults maps configuration keys to their default values
var Defaults = map[string]interface{}{
	"version":               CurrentVersion,
	"descriptorPattern":     "*.proj",
	"exclude":               utils.GetDefaultExclusions(),
	"resolveExternal":       true,
	"requireSingleRoot":     false,
	"outputDir":             "output",
	"reportFormat":          string(types.ReportFormatJSON),
	"descriptorCacheSize":   512,
	"build.command":         "",
	"build.timeout":         0,
	"convert.command":       "",
	"convert.timeout":       0,
	"notifications.enabled": false,
	"logging.level":         string(types.LogLevelInfo),
}

// Manager handles configuration operations
type Manager struct{}

// NewManager creates a new configuration manager
func NewManager() *Manager {
	return &Manager{}
}

// FindConfig returns the configuration file in dir, or "" when there is none
func (m *Manager) FindConfig(dir string) string {
	for _, name := range FileNames {
		path := filepath.Join(dir, name)
		if utils.FileExists(path) {
			return path
		}
	}
	return ""
}

// LoadConfig loads configuration from a file
func (m *Manager) LoadConfig(path string) (*types.ProjbuildConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg, err := m.ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault loads the configuration found in dir, falling back to the
// defaults when dir has none
func (m *Manager) LoadOrDefault(dir string) (*types.ProjbuildConfig, string, error) {
	path := m.FindConfig(dir)
	if path == "" {
		return m.GetDefaultConfig(), "", nil
	}
	cfg, err := m.LoadConfig(path)
	return cfg, path, err
}

// ParseConfig decodes JSON, falling back to YAML, then applies defaults and
// validates the result
func (m *Manager) ParseConfig(data []byte) (*types.ProjbuildConfig, error) {
	var cfg types.ProjbuildConfig

	// Try JSON first
	if err := json.Unmarshal(data, &cfg); err != nil {
		cfg = types.ProjbuildConfig{}
		if yerr := yaml.Unmarshal(data, &cfg); yerr != nil {
			return nil, fmt.Errorf("failed to parse config as JSON or YAML: %w", yerr)
		}
	}

	m.ApplyDefaults(&cfg)
	if err := m.ValidateConfig(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills every unset field with its default
func (m *Manager) ApplyDefaults(cfg *types.ProjbuildConfig) {
	if cfg.Version == "" {
		cfg.Version = CurrentVersion
	}
	if cfg.DescriptorPattern == "" {
		cfg.DescriptorPattern = Defaults["descriptorPattern"].(string)
	}
	if cfg.Exclude == nil {
		cfg.Exclude = utils.GetDefaultExclusions()
	}
	if cfg.ResolveExternal == nil {
		resolve := true
		cfg.ResolveExternal = &resolve
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = Defaults["outputDir"].(string)
	}
	if cfg.ReportFormat == "" {
		cfg.ReportFormat = types.ReportFormatJSON
	}
	if cfg.DescriptorCacheSize == 0 {
		cfg.DescriptorCacheSize = Defaults["descriptorCacheSize"].(int)
	}
	if cfg.Logging == nil {
		cfg.Logging = &types.LoggingConfig{}
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = types.LogLevelInfo
	}
}

// ValidateConfig validates a configuration
func (m *Manager) ValidateConfig(cfg *types.ProjbuildConfig) error {
	if cfg.Version != CurrentVersion {
		return fmt.Errorf("unsupported config version: %s", cfg.Version)
	}

	if _, err := utils.NewFileMatcher(cfg.DescriptorPattern); err != nil {
		return fmt.Errorf("invalid descriptor pattern: %w", err)
	}
	if _, err := utils.NewExclusionMatcher(cfg.Exclude); err != nil {
		return fmt.Errorf("invalid exclude pattern: %w", err)
	}

	if err := validateOutputDir(cfg.OutputDir); err != nil {
		return err
	}

	switch cfg.ReportFormat {
	case types.ReportFormatJSON, types.ReportFormatYAML:
	default:
		return fmt.Errorf("invalid report format: %s", cfg.ReportFormat)
	}

	if cfg.DescriptorCacheSize < 0 {
		return fmt.Errorf("descriptor cache size must not be negative: %d", cfg.DescriptorCacheSize)
	}
	if cfg.Build.Timeout < 0 {
		return fmt.Errorf("build timeout must not be negative: %d", cfg.Build.Timeout)
	}
	if cfg.Convert.Timeout < 0 {
		return fmt.Errorf("convert timeout must not be negative: %d", cfg.Convert.Timeout)
	}

	if cfg.Logging != nil {
		switch cfg.Logging.Level {
		case types.LogLevelDebug, types.LogLevelInfo, types.LogLevelWarn, types.LogLevelError:
		default:
			return fmt.Errorf("invalid log level: %s", cfg.Logging.Level)
		}
	}

	return nil
}

// GetDefaultConfig returns the default configuration
func (m *Manager) GetDefaultConfig() *types.ProjbuildConfig {
	cfg := &types.ProjbuildConfig{}
	m.ApplyDefaults(cfg)
	return cfg
}

// SaveConfig writes cfg to path, as YAML when the extension says so and JSON
// otherwise
func (m *Manager) SaveConfig(path string, cfg *types.ProjbuildConfig) error {
	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
		data = append(data, '\n')
	}
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := utils.WriteFileAtomic(path, data); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// validateOutputDir rejects output directories that would be the tree root or
// lie outside it. Absolute paths other than the filesystem root are checked
// against the tree when it is cleaned.
func validateOutputDir(dir string) error {
	if dir == "" {
		return nil
	}
	clean := filepath.Clean(dir)
	if filepath.IsAbs(clean) {
		if clean == filepath.Dir(clean) {
			return fmt.Errorf("invalid output directory %q: filesystem root", dir)
		}
		return nil
	}
	if clean == "." || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("invalid output directory %q: must be inside the tree root", dir)
	}
	return nil
}
