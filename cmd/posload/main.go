package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"posload/pkg/collector"
	"posload/pkg/scenario"
)

// exitThresholdsFailed is the exit status of a run that breached a threshold.
const exitThresholdsFailed = 99

// exitError carries a specific exit status out of a command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			fmt.Println("❌", exit.msg)
			os.Exit(exit.code)
		}
		fmt.Println("❌ Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "posload",
		Short:         "posload - peak-hour load scenarios for the POS backend",
		Long:          "posload drives the POS backend through its peak checkout and reporting journeys and checks the latency thresholds.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log diagnostics to stderr")

	rootCmd.AddCommand(newRunCmd(), newCollectCmd(), newProfileCmd())
	return rootCmd
}

// ---------------------------------------------------------------------
// COLLECT COMMAND
// ---------------------------------------------------------------------
func newCollectCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Collect live events and summaries from load nodes",
		Long:  "Start the collector. Nodes started with --report-url post their events here; dashboards subscribe to /api/events (SSE).",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "⚡ Collector running on http://localhost%s\n", addr)
			srv := collector.NewServer(slog.Default())
			if err := srv.ListenAndServe(cmd.Context(), addr); err != nil {
				return err
			}
			fmt.Fprintln(out, "🧹 Collector stopped")
			return nil
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", collector.DefaultAddr, "Address to listen on (e.g. :5055)")
	return cmd
}

// ---------------------------------------------------------------------
// PROFILE COMMAND
// ---------------------------------------------------------------------
func newProfileCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "profile <" + strings.Join(scenario.Names(), "|") + ">",
		Short:     "Print the built-in profile of a journey as YAML",
		Long:      "Print the built-in profile of a journey. Edit the output and pass it to `run --profile` to change stages or thresholds.",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scenario.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := scenario.Profile(args[0])
			if err != nil {
				return err
			}
			data, err := p.Encode()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
