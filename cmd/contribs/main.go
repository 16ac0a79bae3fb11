package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X main.Version=..."
var Version = "dev"

type globals struct {
	configPath string
	dataDir    string
	logLevel   string
	logJSON    bool
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:   "contribs",
		Short: "Collect open-source contributions and aggregate them over time",
		Long: `contribs pages through GitHub, Jira, dev.to, git.kernel.org and
lore.kernel.org, merges what it finds into one JSON document per source
and derives a monthly analytics document from them.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", "", "path to YAML config (optional)")
	pf.StringVar(&g.dataDir, "data-dir", "", "directory holding the source documents (overrides config)")
	pf.StringVar(&g.logLevel, "log-level", "", "debug, info, warn or error (overrides config)")
	pf.BoolVar(&g.logJSON, "log-json", false, "log JSON lines instead of console output")

	root.AddCommand(
		newFetchCmd(g),
		newAnalyzeCmd(g),
		newRunCmd(g),
		&cobra.Command{
			Use:   "version",
			Short: "Print version info",
			Run: func(cmd *cobra.Command, _ []string) {
				fmt.Fprintf(cmd.OutOrStdout(), "contribs %s\n", Version)
			},
		},
	)
	return root
}

func newFetchCmd(g *globals) *cobra.Command {
	var only []string
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch every configured source and merge new events into its document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := a.pipeline(only)
			if err != nil {
				return err
			}
			a.fetch(cmd.Context(), p, cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "source", nil, "only fetch these sources, by name or event kind (repeatable)")
	return cmd
}

func newAnalyzeCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "analyze",
		Short: "Rebuild analytics.json from the stored documents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			return a.analyze(cmd.OutOrStdout())
		},
	}
}

func newRunCmd(g *globals) *cobra.Command {
	var (
		only     []string
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Fetch then analyze; with --interval, repeat until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(g, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			p, err := a.pipeline(only)
			if err != nil {
				return err
			}
			ctx, out := cmd.Context(), cmd.OutOrStdout()
			cycle := func() error {
				a.fetch(ctx, p, out)
				return a.analyze(out)
			}
			if err := cycle(); err != nil || interval <= 0 {
				return err
			}

			a.log.Info().Dur("interval", interval).Msg("running periodically")
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					a.log.Info().Err(ctx.Err()).Msg("stopping")
					return nil
				case <-ticker.C:
					if err := cycle(); err != nil {
						return err
					}
				}
			}
		},
	}
	cmd.Flags().StringSliceVar(&only, "source", nil, "only fetch these sources, by name or event kind (repeatable)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "repeat every interval; 0 runs once")
	return cmd
}
