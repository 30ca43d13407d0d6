package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	internalbuilders "github.com/projbuild/projbuild/internal/builders"
	"github.com/projbuild/projbuild/internal/engine"
	"github.com/projbuild/projbuild/internal/watch"
	"github.com/projbuild/projbuild/pkg/mapper"
)

func (c *CLI) newWatchCmd() *cobra.Command {
	var flags runFlags
	var settle time.Duration

	cmd := &cobra.Command{
		Use:   "watch <root>",
		Short: "Re-run the pipeline whenever a descriptor changes",
		Long: `Run the pipeline once, then watch the tree and run it again whenever a
project descriptor or the configuration file changes. Runs never overlap.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := c.requireRoot(args)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return c.runWatch(ctx, root, flags, settle)
		},
	}

	cmd.Flags().BoolVar(&flags.all, "all", false, "build every root project instead of only the first")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log the actions instead of running commands")
	cmd.Flags().DurationVar(&settle, "settle", watch.DefaultSettlingDelay, "quiet period before a re-run")

	return cmd
}

func (c *CLI) runWatch(ctx context.Context, root string, flags runFlags, settle time.Duration) error {
	cfg, err := c.loadConfig(root)
	if err != nil {
		return err
	}

	// one descriptor cache for the whole session
	loader, err := mapper.NewDescriptorLoader(cfg.DescriptorCacheSize)
	if err != nil {
		return err
	}

	w, err := watch.New(root, cfg, c.logger,
		watch.WithSettlingDelay(settle),
		watch.WithIgnore(internalbuilders.OutputDir(root, cfg)))
	if err != nil {
		return err
	}
	defer w.Close()

	c.printInfo(fmt.Sprintf("Watching %s (press Ctrl+C to stop)", root))

	// runs never overlap, so last needs no lock
	last := cfg
	err = w.Run(ctx, func(ctx context.Context) error {
		cfg, err := c.loadConfig(root)
		if err != nil {
			c.printError(fmt.Sprintf("Invalid configuration: %v", err))
			return err
		}
		if !reflect.DeepEqual(cfg, last) {
			loader.Purge()
			c.logger.Info("Configuration changed, descriptor cache cleared")
			last = cfg
		}

		p, err := c.newPipeline(root, cfg, flags.dryRun, engine.Dependencies{Loader: loader})
		if err != nil {
			return err
		}

		result, err := p.Run(ctx, engine.RunOptions{AllRoots: flags.all})
		if err != nil {
			c.printError(err.Error())
			return err
		}
		c.printResult(result)
		return resultError(result)
	})
	if err != nil {
		return err
	}

	c.printSuccess("Stopped watching")
	return nil
}
