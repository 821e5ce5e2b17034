package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"posload/pkg/collector"
	"posload/pkg/config"
	"posload/pkg/engine"
	"posload/pkg/format"
	"posload/pkg/recorder"
	"posload/pkg/scenario"
)

const summaryTimeout = 10 * time.Second

type runOptions struct {
	profilePath string
	outDir      string
	reportURL   string
	node        int
	metricsAddr string
	quiet       bool
}

// ---------------------------------------------------------------------
// RUN COMMAND
// ---------------------------------------------------------------------
func newRunCmd() *cobra.Command {
	var opts runOptions
	cmd := &cobra.Command{
		Use:       "run <" + strings.Join(scenario.Names(), "|") + ">",
		Short:     "Run a journey against the POS backend",
		Long:      "Run a journey with its ramping profile. Target and entity ids come from the environment (BASE_URL, AUTH_TOKEN, ...).",
		Args:      cobra.ExactArgs(1),
		ValidArgs: scenario.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJourney(cmd.Context(), args[0], opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.profilePath, "profile", "p", "", "Profile file (.yaml, .json, .toml) overriding the built-in stages and thresholds")
	cmd.Flags().StringVarP(&opts.outDir, "out", "o", "", "Directory for the YAML results file (disabled when empty)")
	cmd.Flags().StringVar(&opts.reportURL, "report-url", "", "Collector URL to stream live events to (e.g. http://localhost:5055)")
	cmd.Flags().IntVar(&opts.node, "node", 1, "Node id reported to the collector")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9464)")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "Only print the summary")
	return cmd
}

func runJourney(ctx context.Context, name string, opts runOptions, out io.Writer) error {
	say := func(format string, a ...any) {
		if !opts.quiet {
			fmt.Fprintf(out, format, a...)
		}
	}

	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	profile, err := scenario.Profile(name)
	if err != nil {
		return err
	}
	if opts.profilePath != "" {
		file, err := format.LoadFile(opts.profilePath)
		if err != nil {
			return err
		}
		profile = file.Overlay(profile)
	}
	if err := profile.Validate(); err != nil {
		return fmt.Errorf("invalid profile: %w", err)
	}
	runOpts, _ := profile.Options()
	timeout, _ := profile.Timeout()
	thresholds, _ := engine.ParseThresholds(profile.Thresholds)

	prom := engine.NewPromObserver()
	metrics := engine.NewMetrics(prom)

	var rec *recorder.Recorder
	if opts.outDir != "" {
		rec = recorder.New(afero.NewOsFs(), opts.outDir, name)
		metrics.AddObserver(rec)
	}

	var (
		stream   *engine.EventStream
		reporter *collector.Reporter
	)
	if opts.reportURL != "" {
		reporter, err = collector.NewReporter(opts.reportURL, opts.node, nil, slog.Default())
		if err != nil {
			return err
		}
		stream = engine.NewEventStream(profile.Buffer())
		metrics.AddObserver(stream)
	}

	client := scenario.NewClient(&http.Client{Timeout: timeout}, cfg, metrics)
	journey, err := scenario.New(name, cfg, client)
	if err != nil {
		return err
	}
	runner := engine.New(runOpts, metrics, slog.Default())

	say("🚀 Running journey: %s against %s\n", journey.Name(), cfg.BaseURL)
	say("⚙️ %d stages, %s, up to %d VUs\n", len(runOpts.Stages), runOpts.TotalDuration(), runOpts.MaxVUs())
	if reporter != nil {
		say("📡 Streaming events to %s as node %d\n", opts.reportURL, reporter.Node)
	}

	runCtx, stopServing := context.WithCancel(ctx)
	defer stopServing()
	g, gctx := errgroup.WithContext(runCtx)

	if opts.metricsAddr != "" {
		say("📈 Prometheus metrics on http://localhost%s/metrics\n", opts.metricsAddr)
		g.Go(func() error { return serveMetrics(gctx, opts.metricsAddr, prom.Registry()) })
	}
	if reporter != nil {
		g.Go(func() error { return reporter.Run(ctx, stream.Events()) })
	}
	if !opts.quiet && isTerminal(os.Stderr) && runOpts.TotalDuration() >= time.Second {
		g.Go(func() error {
			showProgress(gctx, runOpts.TotalDuration(), metrics)
			return nil
		})
	}

	var res engine.Result
	g.Go(func() error {
		defer stopServing()
		if stream != nil {
			defer stream.Close()
		}
		var err error
		res, err = runner.Run(gctx, journey.Iterate)
		return err
	})
	if err := g.Wait(); err != nil {
		return err
	}
	if res.Interrupted {
		say("⏹ Interrupted, summarizing what ran\n")
	}
	if stream != nil && stream.Dropped() > 0 {
		say("⚠️ %d live events dropped (collector too slow)\n", stream.Dropped())
	}

	summary := engine.Summarize(metrics, res, thresholds)
	summary.Render(out)

	if rec != nil {
		path, err := rec.WriteYAML(summary)
		if err != nil {
			return err
		}
		say("📁 Results written to %s\n", path)
	}

	if reporter != nil {
		status := collector.StatusSuccess
		if !summary.Passed() {
			status = collector.StatusThresholdsFailed
		}
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryTimeout)
		err := reporter.SendSummary(sctx, collector.NodeSummary{
			Journey: journey.Name(),
			RunID:   res.RunID,
			Status:  status,
			Summary: summary,
		})
		cancel()
		if err != nil {
			say("⚠️ %v\n", err)
		} else {
			say("📤 Node %d summary report sent\n", reporter.Node)
		}
	}

	if !summary.Passed() {
		return &exitError{
			code: exitThresholdsFailed,
			msg:  fmt.Sprintf("%d threshold(s) failed", len(summary.FailedThresholds())),
		}
	}
	say("✅ Journey %s finished successfully!\n", journey.Name())
	return nil
}

// serveMetrics exposes reg on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// showProgress draws the schedule progress on stderr until ctx is done.
func showProgress(ctx context.Context, total time.Duration, metrics *engine.Metrics) {
	steps := int64(total / time.Second)
	bar := progressbar.NewOptions64(steps,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("starting"),
		progressbar.OptionSetWidth(30),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionClearOnFinish(),
	)
	start := time.Now()
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = bar.Finish()
			return
		case <-ticker.C:
			bar.Describe(fmt.Sprintf("%3d VUs %6d iters", metrics.ActiveVUs(), metrics.Iterations()))
			_ = bar.Set64(min(int64(time.Since(start)/time.Second), steps))
		}
	}
}
