// Package cli provides the command-line interface for projbuild
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/projbuild/projbuild/pkg/config"
	"github.com/projbuild/projbuild/pkg/logger"
	"github.com/projbuild/projbuild/pkg/mapper"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

const envPrefix = "PROJBUILD"

// CLI holds the command tree and its output streams
type CLI struct {
	config   *Config
	rootCmd  *cobra.Command
	logger   logger.Logger
	output   io.Writer
	errorOut io.Writer
}

// NewCLI creates a new CLI instance with the given configuration
func NewCLI(config *Config) *CLI {
	if config == nil {
		config = NewConfig()
	}

	cli := &CLI{
		config:   config,
		logger:   logger.NewNopLogger(),
		output:   os.Stdout,
		errorOut: os.Stderr,
	}

	cli.setupCommands()
	return cli
}

// NewCLIWithOutput creates a CLI with custom output writers (for testing)
func NewCLIWithOutput(config *Config, output, errorOut io.Writer) *CLI {
	cli := NewCLI(config)
	cli.output = output
	cli.errorOut = errorOut
	return cli
}

// Execute runs the CLI with the given arguments
func (c *CLI) Execute(args []string) error {
	return c.ExecuteContext(context.Background(), args)
}

// ExecuteContext runs the CLI with context support
func (c *CLI) ExecuteContext(ctx context.Context, args []string) error {
	c.rootCmd.SetOut(c.output)
	c.rootCmd.SetErr(c.errorOut)
	c.rootCmd.SetArgs(args)
	return c.rootCmd.ExecuteContext(ctx)
}

func (c *CLI) setupCommands() {
	c.rootCmd = &cobra.Command{
		Use:   "projbuild",
		Short: "Map, convert and build trees of interdependent projects",
		Long: `projbuild discovers project descriptors under a root directory, links them
into a dependency graph, converts every project and builds the graph so that
each project is built after all of its dependencies.`,

		SilenceUsage:      true,
		PersistentPreRunE: c.initializeConfig,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	c.setupFlags()

	c.rootCmd.Version = c.config.Version
	c.rootCmd.SetVersionTemplate("projbuild v{{.Version}}\n")

	c.rootCmd.AddCommand(c.newRunCmd())
	c.rootCmd.AddCommand(c.newConvertCmd())
	c.rootCmd.AddCommand(c.newBuildCmd())
	c.rootCmd.AddCommand(c.newMapCmd())
	c.rootCmd.AddCommand(c.newGraphCmd())
	c.rootCmd.AddCommand(c.newValidateCmd())
	c.rootCmd.AddCommand(c.newStatusCmd())
	c.rootCmd.AddCommand(c.newCleanCmd())
	c.rootCmd.AddCommand(c.newWatchCmd())
	c.rootCmd.AddCommand(c.newInitCmd())
	c.rootCmd.AddCommand(c.newVersionCmd())
}

func (c *CLI) setupFlags() {
	flags := c.rootCmd.PersistentFlags()

	flags.StringVar(&c.config.ConfigFile, "config", c.config.ConfigFile, "config file (default: projbuild.config.json in the tree root)")
	flags.StringVar(&c.config.ProjectRoot, "root", c.config.ProjectRoot, "tree root for commands without a root argument")
	flags.StringVarP(&c.config.Verbosity, "verbosity", "v", c.config.Verbosity, "log level (debug, info, warn, error)")
	flags.StringVar(&c.config.EnvFile, "env-file", c.config.EnvFile, "dotenv file loaded into the environment")
}

func (c *CLI) initializeConfig(cmd *cobra.Command, args []string) error {
	if c.config.EnvFile != "" {
		if err := godotenv.Load(c.config.EnvFile); err != nil && cmd.Flags().Changed("env-file") {
			return fmt.Errorf("failed to load %s: %w", c.config.EnvFile, err)
		}
	}

	c.logger = c.newLogger(c.config.Verbosity, "")
	return nil
}

func (c *CLI) newLogger(level, file string) logger.Logger {
	if f, ok := c.errorOut.(*os.File); ok && f == os.Stderr {
		return logger.CreateLogger(file, level)
	}
	return logger.CreateLoggerWithOutput(level, c.errorOut)
}

// loadConfig reads the configuration of the tree at root. Later sources win:
// defaults, the config file, then PROJBUILD_* environment variables.
func (c *CLI) loadConfig(root string) (*types.ProjbuildConfig, error) {
	mgr := config.NewManager()

	v := viper.New()
	for key, value := range config.Defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := c.config.ConfigFile
	if path == "" {
		path = mgr.FindConfig(root)
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		c.logger.Debug("Using config file", logger.WithField("file", v.ConfigFileUsed()))
	}

	var cfg types.ProjbuildConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if path != "" {
		raw, err := mgr.LoadConfig(path)
		if err != nil {
			return nil, err
		}
		// viper folds map keys to lower case
		cfg.Build.Environment = raw.Build.Environment
		cfg.Convert.Environment = raw.Convert.Environment
	}

	mgr.ApplyDefaults(&cfg)
	if err := mgr.ValidateConfig(&cfg); err != nil {
		return nil, err
	}

	level := c.config.Verbosity
	if !c.rootCmd.PersistentFlags().Changed("verbosity") {
		level = string(cfg.Logging.Level)
	}
	c.logger = c.newLogger(level, cfg.Logging.File)

	return &cfg, nil
}

// resolveRoot returns the absolute tree root named by args, falling back to
// the --root flag
func (c *CLI) resolveRoot(args []string) (string, error) {
	root := c.config.ProjectRoot
	if len(args) > 0 {
		root = args[0]
	}
	abs, err := utils.AbsPath(root)
	if err != nil {
		return "", err
	}
	return abs, nil
}

// requireRoot is resolveRoot for commands that do not map the tree and so
// need their own existence check
func (c *CLI) requireRoot(args []string) (string, error) {
	root, err := c.resolveRoot(args)
	if err != nil {
		return "", err
	}
	if !utils.DirectoryExists(root) {
		return "", fmt.Errorf("%w: %s", mapper.ErrRootNotFound, root)
	}
	return root, nil
}

// Helper methods for structured output

func (c *CLI) console() *logger.ConsoleLogger {
	return logger.NewConsoleLogger(c.output, c.errorOut)
}

func (c *CLI) printSuccess(message string) {
	c.console().Success(message)
}

func (c *CLI) printError(message string) {
	c.console().Error(message)
}

func (c *CLI) printInfo(message string) {
	c.console().Info(message)
}

func (c *CLI) printWarning(message string) {
	c.console().Warn(message)
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return filepath.ToSlash(rel)
}

// ExecuteWithVersion runs the CLI on the process arguments
func ExecuteWithVersion(ctx context.Context, version string) error {
	config := NewConfig()
	config.Version = version
	return NewCLI(config).ExecuteContext(ctx, os.Args[1:])
}
