package builders

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// WorkDir is the directory under the tree root holding projbuild's own files
const WorkDir = ".projbuild"

// BaseRunner runs shell commands for projects, teeing their output to a
// per-project log file under <root>/.projbuild/logs.
type BaseRunner struct {
	Root   string
	Config types.CommandConfig
	Logger logger.Logger

	lastRunTime time.Duration
	totalRuns   int
	successRuns int
	mu          sync.RWMutex
}

// NewBaseRunner creates a new base runner
func NewBaseRunner(root string, cfg types.CommandConfig, log logger.Logger) *BaseRunner {
	if log == nil {
		log = logger.NewNopLogger()
	}
	return &BaseRunner{
		Root:   root,
		Config: cfg,
		Logger: log,
	}
}

// Command picks the command for a project: the descriptor's own command wins
// over the configured default.
func (b *BaseRunner) Command(descriptorCommand string) string {
	if descriptorCommand != "" {
		return descriptorCommand
	}
	return b.Config.Command
}

// LogPath returns the log file used for a project
func (b *BaseRunner) LogPath(node *graph.ProjectNode) string {
	return filepath.Join(b.Root, WorkDir, "logs", utils.SanitizeName(node.Name())+".log")
}

// Run executes command through the shell in the project's directory
func (b *BaseRunner) Run(ctx context.Context, node *graph.ProjectNode, phase, command string, env map[string]string) error {
	startTime := time.Now()
	defer func() {
		b.mu.Lock()
		b.lastRunTime = time.Since(startTime)
		b.totalRuns++
		b.mu.Unlock()
	}()

	log := b.Logger.WithProject(node.Name())

	logFile, err := b.prepareLogFile(node)
	if err != nil {
		log.Warn(fmt.Sprintf("Failed to create log file: %v", err))
	}
	defer func() {
		if logFile != nil {
			logFile.Close()
		}
	}()

	timestamp := time.Now().Format("2006-01-02 15:04:05")
	b.logToFile(logFile, fmt.Sprintf("\n=== %s started at %s ===\n", phase, timestamp))
	b.logToFile(logFile, fmt.Sprintf("Executing: %s\n", command))

	if timeout := b.Config.GetTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Dir = node.Dir()
	cmd.WaitDelay = time.Second
	cmd.Env = os.Environ()
	for k, v := range b.Config.Environment {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	for k, v := range env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	var outputBuffer bytes.Buffer
	var multiWriter io.Writer = &outputBuffer
	if logFile != nil {
		multiWriter = io.MultiWriter(&outputBuffer, logFile)
	}
	cmd.Stdout = multiWriter
	cmd.Stderr = multiWriter

	err = cmd.Run()
	output := outputBuffer.Bytes()

	duration := time.Since(startTime)
	if err != nil {
		log.Error(fmt.Sprintf("%s failed", phase),
			logger.WithError(err),
			logger.WithField("output", string(output)))
		b.logToFile(logFile, fmt.Sprintf("\n=== %s FAILED after %s ===\n", phase, duration))
		b.logToFile(logFile, fmt.Sprintf("Error: %v\n", err))
		return fmt.Errorf("%s failed: %w\n%s", phase, err, output)
	}

	b.mu.Lock()
	b.successRuns++
	b.mu.Unlock()

	log.Success(fmt.Sprintf("%s completed in %s", phase, duration.Round(time.Millisecond)))
	if len(output) > 0 {
		log.Debug(fmt.Sprintf("%s output", phase), logger.WithField("output", string(output)))
	}
	b.logToFile(logFile, fmt.Sprintf("\n=== %s SUCCEEDED after %s ===\n", phase, duration))

	return nil
}

// GetLastRunTime returns the last command duration
func (b *BaseRunner) GetLastRunTime() time.Duration {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastRunTime
}

// GetSuccessRate returns the command success rate
func (b *BaseRunner) GetSuccessRate() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.totalRuns == 0 {
		return 1.0
	}

	return float64(b.successRuns) / float64(b.totalRuns)
}

func (b *BaseRunner) prepareLogFile(node *graph.ProjectNode) (*os.File, error) {
	logPath := b.LogPath(node)
	if err := utils.EnsureDirectory(filepath.Dir(logPath)); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return logFile, nil
}

func (b *BaseRunner) logToFile(logFile *os.File, message string) {
	if logFile != nil {
		logFile.WriteString(message)
	}
}

// CommandBuilder builds projects by running their build command. Without a
// command it is a placeholder that only records the output path.
type CommandBuilder struct {
	*BaseRunner
	OutputDir string
}

// NewCommandBuilder creates a builder writing outputs under outputDir,
// resolved against root when relative
func NewCommandBuilder(root, outputDir string, cfg types.CommandConfig, log logger.Logger) *CommandBuilder {
	if outputDir == "" {
		outputDir = "output"
	}
	if !filepath.IsAbs(outputDir) {
		outputDir = filepath.Join(root, outputDir)
	}
	return &CommandBuilder{
		BaseRunner: NewBaseRunner(root, cfg, log),
		OutputDir:  outputDir,
	}
}

// OutputPath returns where a project's build output goes
func (b *CommandBuilder) OutputPath(node *graph.ProjectNode) string {
	return filepath.Join(b.OutputDir, utils.SanitizeName(node.Name()))
}

// Build implements Builder
func (b *CommandBuilder) Build(ctx context.Context, node *graph.ProjectNode) (string, error) {
	outputPath := b.OutputPath(node)

	var command string
	if desc := node.Descriptor(); desc != nil {
		command = b.Command(desc.BuildCommand)
	} else {
		command = b.Command("")
	}

	if command == "" {
		b.Logger.WithProject(node.Name()).Info(fmt.Sprintf("Building %s", node.Path()))
		return outputPath, nil
	}

	if err := utils.EnsureDirectory(outputPath); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	err := b.Run(ctx, node, "Build", command, map[string]string{
		"PROJBUILD_ROOT":       b.Root,
		"PROJBUILD_PROJECT":    node.Path(),
		"PROJBUILD_OUTPUT_DIR": outputPath,
	})
	if err != nil {
		return "", err
	}
	return outputPath, nil
}

// CommandConverter converts projects by running their convert command.
// Without a command it is a placeholder that always succeeds.
type CommandConverter struct {
	*BaseRunner
}

// NewCommandConverter creates a new command converter
func NewCommandConverter(root string, cfg types.CommandConfig, log logger.Logger) *CommandConverter {
	return &CommandConverter{BaseRunner: NewBaseRunner(root, cfg, log)}
}

// Convert implements Converter
func (c *CommandConverter) Convert(ctx context.Context, node *graph.ProjectNode) error {
	var command string
	if desc := node.Descriptor(); desc != nil {
		command = c.Command(desc.ConvertCommand)
	} else {
		command = c.Command("")
	}

	if command == "" {
		c.Logger.WithProject(node.Name()).Info(fmt.Sprintf("Converting %s", node.Path()))
		return nil
	}

	return c.Run(ctx, node, "Convert", command, map[string]string{
		"PROJBUILD_ROOT":    c.Root,
		"PROJBUILD_PROJECT": node.Path(),
	})
}
