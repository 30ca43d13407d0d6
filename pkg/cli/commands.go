package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	internalbuilders "github.com/projbuild/projbuild/internal/builders"
	"github.com/projbuild/projbuild/internal/engine"
	"github.com/projbuild/projbuild/internal/state"
	"github.com/projbuild/projbuild/pkg/graph"
	"github.com/projbuild/projbuild/pkg/types"
	"github.com/projbuild/projbuild/pkg/utils"
)

// ErrRunFailed is returned when a conversion or build pass did not succeed
var ErrRunFailed = errors.New("run failed")

type runFlags struct {
	resume bool
	all    bool
	dryRun bool
}

func (f *runFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&f.resume, "resume", false, "treat projects built by a previous run as already built")
	cmd.Flags().BoolVar(&f.all, "all", false, "build every root project instead of only the first")
	cmd.Flags().BoolVar(&f.dryRun, "dry-run", false, "log the actions instead of running commands")
}

func (c *CLI) newRunCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "run <root>",
		Short: "Map, convert and build a tree",
		Long:  `Map the tree under root, convert every project, then build the graph.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd.Context(), args, engine.StageAll, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) newConvertCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "convert <root>",
		Short: "Convert every project of a tree",
		Long:  `Map the tree under root and convert every project. A failed conversion does not stop the pass.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd.Context(), args, engine.StageConvert, flags)
		},
	}
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "log the actions instead of running commands")
	return cmd
}

func (c *CLI) newBuildCmd() *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "build <root>",
		Short: "Build a tree in dependency order",
		Long: `Map the tree under root and build it, every project after its dependencies.
The build stops at the first failure.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.runPipeline(cmd.Context(), args, engine.StageBuild, flags)
		},
	}
	flags.register(cmd)
	return cmd
}

func (c *CLI) newMapCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "map <root>",
		Short: "Print the project graph of a tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, g, err := c.mapTree(cmd.Context(), args)
			if err != nil {
				return err
			}
			c.printGraph(root, g)
			return nil
		},
	}
}

func (c *CLI) newGraphCmd() *cobra.Command {
	var outputFile string
	cmd := &cobra.Command{
		Use:   "graph <root>",
		Short: "Export the project graph in Graphviz DOT format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, g, err := c.mapTree(cmd.Context(), args)
			if err != nil {
				return err
			}

			if outputFile == "" {
				return g.WriteDOT(c.output)
			}

			var buf bytes.Buffer
			if err := g.WriteDOT(&buf); err != nil {
				return err
			}
			if err := utils.WriteFileAtomic(outputFile, buf.Bytes()); err != nil {
				return fmt.Errorf("failed to write %s: %w", outputFile, err)
			}
			c.printSuccess(fmt.Sprintf("Graph written to %s", outputFile))
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "write the graph to a file instead of stdout")
	return cmd
}

func (c *CLI) newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <root>",
		Short: "Check the configuration and the project graph of a tree",
		Long:  `Load the configuration, map the tree and check that the graph has no cycles.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, g, err := c.mapTree(cmd.Context(), args)
			if err != nil {
				c.printError(fmt.Sprintf("Validation failed: %v", err))
				return err
			}
			if g.Len() == 0 {
				c.printWarning(fmt.Sprintf("No projects found under %s", root))
				return nil
			}
			c.printSuccess(fmt.Sprintf("Configuration and project graph are valid (%d projects, root %s)",
				g.Len(), relPath(root, g.Root().Path())))
			return nil
		},
	}
}

func (c *CLI) newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status [root]",
		Short: "Show the recorded state of every project",
		Long:  `Display the conversion and build state recorded by previous runs.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := c.requireRoot(args)
			if err != nil {
				return err
			}
			return c.runStatus(root)
		},
	}
}

func (c *CLI) newCleanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clean [root]",
		Short: "Remove build outputs and recorded state",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := c.requireRoot(args)
			if err != nil {
				return err
			}
			cfg, err := c.loadConfig(root)
			if err != nil {
				return err
			}

			removed, err := internalbuilders.Clean(root, cfg)
			for _, dir := range removed {
				c.printInfo(fmt.Sprintf("Removed %s", dir))
			}
			if err != nil {
				return err
			}
			if len(removed) == 0 {
				c.printInfo("Nothing to clean")
				return nil
			}
			c.printSuccess("Cleaned build outputs and state")
			return nil
		},
	}
}

func (c *CLI) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of projbuild",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(c.output, "projbuild v%s\n", c.config.Version)
		},
	}
}

// Implementation functions

func (c *CLI) newPipeline(root string, cfg *types.ProjbuildConfig, dryRun bool, overrides engine.Dependencies) (*engine.Pipeline, error) {
	deps, err := engine.NewDependencyFactory(root, c.logger, cfg).
		WithDryRun(dryRun).
		CreateWithOverrides(overrides)
	if err != nil {
		return nil, err
	}
	return engine.New(cfg, root, c.logger, deps)
}

func (c *CLI) runPipeline(ctx context.Context, args []string, stages engine.Stage, flags runFlags) error {
	root, err := c.resolveRoot(args)
	if err != nil {
		return err
	}
	cfg, err := c.loadConfig(root)
	if err != nil {
		return err
	}

	p, err := c.newPipeline(root, cfg, flags.dryRun, engine.Dependencies{})
	if err != nil {
		return err
	}

	result, err := p.Run(ctx, engine.RunOptions{
		Stages:   stages,
		Resume:   flags.resume,
		AllRoots: flags.all,
	})
	if err != nil {
		return err
	}

	c.printResult(result)
	return resultError(result)
}

// mapTree maps and validates the tree named by args without running any pass
func (c *CLI) mapTree(ctx context.Context, args []string) (string, *graph.Graph, error) {
	root, err := c.resolveRoot(args)
	if err != nil {
		return "", nil, err
	}
	cfg, err := c.loadConfig(root)
	if err != nil {
		return "", nil, err
	}

	p, err := c.newPipeline(root, cfg, true, engine.Dependencies{})
	if err != nil {
		return "", nil, err
	}
	g, err := p.Map(ctx)
	if err != nil {
		return "", nil, err
	}
	return root, g, nil
}

func (c *CLI) printGraph(root string, g *graph.Graph) {
	c.printInfo(fmt.Sprintf("Mapped %d projects under %s", g.Len(), root))

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tDEPENDENCIES\tNOTES")
	fmt.Fprintln(w, "-------\t------------\t-----")

	for _, n := range g.Nodes() {
		var deps []string
		for _, d := range n.DependencyPaths() {
			deps = append(deps, relPath(root, d))
		}
		depList := "-"
		if len(deps) > 0 {
			depList = strings.Join(deps, ", ")
		}

		var notes []string
		if !n.HasParent() {
			notes = append(notes, "root")
		}
		if n.External() {
			notes = append(notes, "external")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\n", relPath(root, n.Path()), depList, strings.Join(notes, ","))
	}

	w.Flush()
}

func (c *CLI) printResult(r *engine.Result) {
	if rep := r.Conversion; rep != nil {
		msg := fmt.Sprintf("Converted %d of %d projects in %s", rep.Completed.Count, rep.ProjectCount, rep.ExecutedIn)
		if rep.Status == types.RunStatusSuccess {
			c.printSuccess(msg)
		} else {
			c.printError(msg)
			for _, e := range rep.Errors {
				c.printError(fmt.Sprintf("  %s: %s", e.Path, e.Error))
			}
		}
	}

	if rep := r.Build; rep != nil {
		if rep.Status == types.RunStatusSuccess {
			c.printSuccess(fmt.Sprintf("Built %d projects (%d already built) in %s",
				rep.Built.Count, rep.Skipped.Count, rep.ExecutedIn))
		} else {
			if rep.Failed != nil {
				c.printError(fmt.Sprintf("Build failed at %s: %s", rep.Failed.Path, rep.Failed.Error))
			}
			if rep.Blocked.Count > 0 {
				c.printWarning(fmt.Sprintf("%d projects not built: %s",
					rep.Blocked.Count, strings.Join(rep.Blocked.Projects, ", ")))
			}
		}
	}

	if len(r.Unreached) > 0 {
		c.printWarning(fmt.Sprintf("%d projects are not dependencies of the first root and were not built (use --all)",
			len(r.Unreached)))
	}

	c.printCommandStats("Convert", r.ConvertCommands)
	c.printCommandStats("Build", r.BuildCommands)

	if r.Pruned > 0 {
		c.printInfo(fmt.Sprintf("Dropped state of %d removed projects", r.Pruned))
	}

	for _, path := range r.ReportPaths {
		c.printInfo(fmt.Sprintf("Report written to %s", path))
	}
}

func (c *CLI) printCommandStats(phase string, stats *engine.CommandStats) {
	if stats == nil {
		return
	}
	c.printInfo(fmt.Sprintf("%s commands: %.0f%% succeeded, last took %s",
		phase, stats.SuccessRate*100, stats.LastRunTime.Round(time.Millisecond)))
}

func resultError(r *engine.Result) error {
	if r.Succeeded() {
		return nil
	}
	if r.Build != nil && r.Build.Failed != nil {
		return fmt.Errorf("%w: build of %s failed", ErrRunFailed, r.Build.Failed.Path)
	}
	if r.Conversion != nil && len(r.Conversion.Failed.Projects) > 0 {
		return fmt.Errorf("%w: %d projects failed to convert", ErrRunFailed, r.Conversion.Failed.Count)
	}
	return ErrRunFailed
}

func (c *CLI) runStatus(root string) error {
	mgr := state.NewManager(root, c.logger)
	states, err := mgr.List()
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(states) == 0 {
		c.printWarning(fmt.Sprintf("No recorded state in %s. Run 'projbuild run' first.", relPath(root, mgr.StateDir())))
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PROJECT\tBUILD\tCONVERSION\tLAST BUILD\tBUILDS\tFAILURES")
	fmt.Fprintln(w, "-------\t-----\t----------\t----------\t------\t--------")

	for _, s := range states {
		status := string(s.BuildStatus)
		if status == "" {
			status = string(types.BuildStatusIdle)
		}

		statusColor := color.WhiteString(status)
		switch s.BuildStatus {
		case types.BuildStatusSucceeded:
			statusColor = color.GreenString(status)
		case types.BuildStatusFailed:
			statusColor = color.RedString(status)
		case types.BuildStatusBuilding, types.BuildStatusBlocked:
			statusColor = color.YellowString(status)
		}

		conversion := string(s.Conversion)
		if conversion == "" {
			conversion = "-"
		}

		lastBuild := "-"
		if !s.LastBuildTime.IsZero() {
			lastBuild = s.LastBuildTime.Format("2006-01-02 15:04:05")
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\n",
			relPath(root, s.Path),
			statusColor,
			conversion,
			lastBuild,
			s.BuildCount,
			s.FailureCount,
		)
	}

	w.Flush()
	return nil
}
