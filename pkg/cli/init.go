package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/projbuild/projbuild/pkg/config"
)

func (c *CLI) newInitCmd() *cobra.Command {
	var format string
	var force bool

	cmd := &cobra.Command{
		Use:   "init [root]",
		Short: "Create a default configuration file",
		Long: `Write a configuration file with every default spelled out into the tree root.
Without build and convert commands projbuild runs placeholder actions.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := c.requireRoot(args)
			if err != nil {
				return err
			}
			return c.runInit(root, format, force)
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "config file format (json, yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite existing configuration")

	return cmd
}

func (c *CLI) runInit(root, format string, force bool) error {
	mgr := config.NewManager()

	var path string
	switch format {
	case "json":
		path = filepath.Join(root, config.FileNames[0])
	case "yaml", "yml":
		path = filepath.Join(root, config.FileNames[1])
	default:
		return fmt.Errorf("unsupported config format: %s", format)
	}

	if existing := mgr.FindConfig(root); existing != "" && !force {
		return fmt.Errorf("configuration already exists at %s. Use --force to overwrite", existing)
	}

	if err := mgr.SaveConfig(path, mgr.GetDefaultConfig()); err != nil {
		return err
	}

	c.printSuccess(fmt.Sprintf("Created configuration at %s", path))
	c.printInfo("Set build.command and convert.command to run your own actions")
	return nil
}
