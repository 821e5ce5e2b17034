// Package engine runs journey iterations under a ramping virtual-user
// schedule and aggregates what they measure.
//
// A Runner grows and shrinks a pool of VU goroutines following a list of
// stages, each VU running its IterationFunc back to back. Iterations report
// request timings and assertions to a shared Metrics aggregator, which keeps
// every sample for percentile thresholds and forwards them to observers
// (live EventStream, PromObserver, result recorders).
//
//	metrics := engine.NewMetrics(engine.NewPromObserver())
//	runner := engine.New(engine.Options{Stages: stages}, metrics, logger)
//	res, err := runner.Run(ctx, journey.Iterate)
//	summary := engine.Summarize(metrics, res, thresholds)
//	summary.Render(os.Stdout)
package engine
