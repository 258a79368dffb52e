// Package cli is the artemia command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/gemarcano/artemia/internal/config"
	"github.com/gemarcano/artemia/internal/node"
	"github.com/gemarcano/artemia/internal/scron"
	"github.com/gemarcano/artemia/pkg/logx"
)

var version = "dev"

type rootFlags struct {
	config string
}

// Build returns the root command.
func Build() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:   "artemia",
		Short: "Energy-aware task scheduler for intermittently powered nodes",
		Long: `artemia runs cron-like tasks on a node that sleeps between them.
Tasks wait until the supply voltage is high enough, late occurrences past a
task's lateness window are skipped, and the last run of every task survives
power loss.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&f.config, "config", "c", "./artemia.yaml", "config file (yaml or json)")

	root.AddCommand(
		runCommand(f),
		checkCommand(f),
		nextCommand(f),
		historyCommand(f),
		previewCommand(),
	)
	return root
}

func runCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node until SIGINT or SIGTERM",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			n, err := node.Open(f.config)
			if err != nil {
				return err
			}
			return n.Run(ctx)
		},
	}
}

func checkCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the config file and list its tasks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.NewConfigManager(f.config).Parse()
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "TASK\tSCHEDULE\tMIN V\tMAX LATENESS\tACTION")
			for _, tc := range cfg.Tasks {
				rt, err := tc.Resolve()
				if err != nil {
					return fmt.Errorf("task %q: %w", tc.Name, err)
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\n", rt.Name, rt.Schedule, rt.MinimumVoltage, lateness(rt.MaxLateness), actionKind(rt.Action.Kind))
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d task(s)\n", len(cfg.Tasks))
			return nil
		},
	}
}

func nextCommand(f *rootFlags) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "next",
		Short: "Show when every task is due, from persisted history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n, err := inspect(cmd.Context(), f.config)
			if err != nil {
				return err
			}
			defer n.Close()

			now := n.Now()
			if at != "" {
				if now, err = time.Parse(time.RFC3339, at); err != nil {
					return fmt.Errorf("--at: %w", err)
				}
			}
			reg := n.Scheduler().Registry()
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "TASK\tSCHEDULE\tMIN V\tNEXT\tIN\tNOTE")
			for _, sl := range n.Scheduler().Plan(now) {
				t, _ := reg.TaskAt(sl.Index)
				note := ""
				if sl.Stale {
					note = "missed " + sl.Skipped.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%.2f\t%s\t%s\t%s\n",
					sl.Task, t.Schedule, t.MinimumVoltage, sl.Next.Format(time.RFC3339), relative(sl.Next, now), note)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			if wake, ok := n.Scheduler().NextWake(now); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "next wake: %s (%s)\n", wake.Format(time.RFC3339), relative(wake, now))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "evaluate at this RFC 3339 time instead of now")
	return cmd
}

func historyCommand(f *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the persisted last run of every task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			n, err := inspect(ctx, f.config)
			if err != nil {
				return err
			}
			defer n.Close()

			now := n.Now()
			reg := n.Scheduler().Registry()
			known := map[string]bool{}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "TASK\tLAST RUN\tAGO")
			for i, t := range reg.Tasks() {
				known[t.Name] = true
				last := reg.LastRun(i)
				if last.Equal(scron.Never) {
					fmt.Fprintf(w, "%s\tnever\t-\n", t.Name)
					continue
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, last.Format(time.RFC3339), relative(last, now))
			}
			if err := w.Flush(); err != nil {
				return err
			}

			names, err := n.Store().Names(ctx)
			if err != nil {
				return err
			}
			var orphans []string
			for _, name := range names {
				if !known[name] {
					orphans = append(orphans, name)
				}
			}
			sort.Strings(orphans)
			if len(orphans) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "stored but not configured: %s\n", strings.Join(orphans, ", "))
			}
			return nil
		},
	}
}

func previewCommand() *cobra.Command {
	var (
		from  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "preview EXPR",
		Short: "Print the next occurrences of a schedule expression",
		Example: `  artemia preview "0 30 * * * *" --count 3
  artemia preview @daily --from 2024-02-28T00:00:00Z`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := scron.ParseSchedule(args[0])
			if err != nil {
				return err
			}
			last := time.Now().UTC()
			if from != "" {
				if last, err = time.Parse(time.RFC3339, from); err != nil {
					return fmt.Errorf("--from: %w", err)
				}
			}
			if count <= 0 {
				return fmt.Errorf("--count must be positive")
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "schedule: %s\n", s)
			for i := 0; i < count; i++ {
				last = s.Next(last, scron.DefaultQuantum)
				fmt.Fprintln(out, last.Format(time.RFC3339))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start after this RFC 3339 time (default now)")
	cmd.Flags().IntVarP(&count, "count", "n", 5, "number of occurrences")
	return cmd
}

// inspect builds a node with persisted history loaded, for read-only use.
func inspect(ctx context.Context, path string) (*node.Node, error) {
	cfg, err := config.NewConfigManager(path).Parse()
	if err != nil {
		return nil, err
	}
	n, err := node.New(cfg,
		node.WithLogger(logx.NewConsole("warn")),
		node.WithNotifier(node.NopNotifier{}),
	)
	if err != nil {
		return nil, err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := n.LoadHistory(ctx); err != nil {
		_ = n.Close()
		return nil, err
	}
	return n, nil
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
}

func relative(t, now time.Time) string {
	if t.Equal(now) {
		return "now"
	}
	return humanize.RelTime(t, now, "ago", "from now")
}

func lateness(d time.Duration) string {
	if d <= 0 {
		return "unbounded"
	}
	return d.String()
}

func actionKind(k string) string {
	k = strings.ToLower(strings.TrimSpace(k))
	if k == "" {
		return "noop"
	}
	return k
}
