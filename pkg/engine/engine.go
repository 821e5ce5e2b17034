package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

const (
	DefaultGracefulStop = 30 * time.Second
	defaultTick         = 100 * time.Millisecond
)

// Options configures a ramping-VU run.
type Options struct {
	Stages   []Stage
	StartVUs int
	// GracefulStop is how long in-flight iterations may run after the last
	// stage before their context is cancelled.
	GracefulStop time.Duration
	// Tick is how often the VU target is re-evaluated.
	Tick time.Duration
}

// Validate reports every problem with the options at once.
func (o Options) Validate() error {
	var errs *multierror.Error
	if len(o.Stages) == 0 {
		errs = multierror.Append(errs, errors.New("at least one stage is required"))
	}
	if o.StartVUs < 0 {
		errs = multierror.Append(errs, fmt.Errorf("start VUs must be non-negative, got %d", o.StartVUs))
	}
	if o.GracefulStop < 0 {
		errs = multierror.Append(errs, fmt.Errorf("graceful stop must be non-negative, got %s", o.GracefulStop))
	}
	for i, st := range o.Stages {
		if st.Duration < 0 {
			errs = multierror.Append(errs, fmt.Errorf("stage %d: duration must be non-negative, got %s", i, st.Duration))
		}
		if st.Target < 0 {
			errs = multierror.Append(errs, fmt.Errorf("stage %d: target must be non-negative, got %d", i, st.Target))
		}
	}
	if len(o.Stages) > 0 && o.TotalDuration() == 0 {
		errs = multierror.Append(errs, errors.New("stages must last longer than zero"))
	}
	return errs.ErrorOrNil()
}

// TotalDuration is the sum of all stage durations.
func (o Options) TotalDuration() time.Duration {
	var total time.Duration
	for _, st := range o.Stages {
		total += st.Duration
	}
	return total
}

// MaxVUs is the highest VU count the schedule reaches.
func (o Options) MaxVUs() int {
	maxVUs := o.StartVUs
	for _, st := range o.Stages {
		maxVUs = max(maxVUs, st.Target)
	}
	return maxVUs
}

// TargetAt returns the VU count the schedule asks for at elapsed, and
// whether the schedule is over. Within a stage the count moves linearly
// from the previous target.
func TargetAt(startVUs int, stages []Stage, elapsed time.Duration) (int, bool) {
	from := startVUs
	for _, st := range stages {
		if elapsed < st.Duration {
			frac := float64(elapsed) / float64(st.Duration)
			return from + int(float64(st.Target-from)*frac), false
		}
		elapsed -= st.Duration
		from = st.Target
	}
	return from, true
}

// Result describes a finished run.
type Result struct {
	RunID       string
	Started     time.Time
	Elapsed     time.Duration
	Iterations  int64
	MaxVUs      int
	Interrupted bool
}

// -------------------------------------------------------------
// Runner
// -------------------------------------------------------------

// Runner executes an IterationFunc under a ramping-VU schedule.
type Runner struct {
	opts    Options
	metrics *Metrics
	log     *slog.Logger
}

func New(opts Options, metrics *Metrics, log *slog.Logger) *Runner {
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if log == nil {
		log = slog.Default()
	}
	return &Runner{opts: opts, metrics: metrics, log: log}
}

type vu struct {
	id     int
	iter   int64
	active atomic.Bool
	wake   chan struct{}
}

func (v *vu) activate() {
	v.active.Store(true)
	select {
	case v.wake <- struct{}{}:
	default:
	}
}

func (v *vu) deactivate() {
	v.active.Store(false)
}

// Run blocks until the schedule is over and every VU has stopped, or ctx is
// cancelled. Cancelling ctx interrupts in-flight iterations immediately.
func (r *Runner) Run(ctx context.Context, fn IterationFunc) (Result, error) {
	if err := r.opts.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid run options: %w", err)
	}

	res := Result{RunID: uuid.NewString(), Started: time.Now()}
	iterCtx, cancelIters := context.WithCancel(ctx)
	defer cancelIters()
	stopping := make(chan struct{})

	var (
		wg     sync.WaitGroup
		pool   []*vu
		active int
	)
	apply := func(want int) {
		for active < want {
			if active == len(pool) {
				v := &vu{id: len(pool) + 1, wake: make(chan struct{}, 1)}
				pool = append(pool, v)
				wg.Add(1)
				go func() {
					defer wg.Done()
					r.loop(iterCtx, stopping, res.RunID, v, fn)
				}()
			}
			pool[active].activate()
			active++
		}
		for active > want {
			active--
			pool[active].deactivate()
		}
		res.MaxVUs = max(res.MaxVUs, active)
		r.metrics.setActiveVUs(active)
	}

	r.log.Info("Run started", "run", res.RunID, "stages", len(r.opts.Stages),
		"duration", r.opts.TotalDuration(), "max_vus", r.opts.MaxVUs())

	want, _ := TargetAt(r.opts.StartVUs, r.opts.Stages, 0)
	apply(want)

	ticker := time.NewTicker(r.opts.Tick)
schedule:
	for {
		select {
		case <-ctx.Done():
			res.Interrupted = true
			break schedule
		case <-ticker.C:
			want, done := TargetAt(r.opts.StartVUs, r.opts.Stages, time.Since(res.Started))
			if done {
				break schedule
			}
			if want != active {
				r.log.Debug("Adjusting VUs", "from", active, "to", want)
			}
			apply(want)
		}
	}
	ticker.Stop()

	// VUs leave after their current iteration.
	close(stopping)
	finished := make(chan struct{})
	go func() {
		wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
	case <-time.After(r.opts.GracefulStop):
		r.log.Warn("Graceful stop elapsed, interrupting iterations", "graceful_stop", r.opts.GracefulStop)
		cancelIters()
		<-finished
	}
	r.metrics.setActiveVUs(0)

	res.Elapsed = time.Since(res.Started)
	res.Iterations = r.metrics.Iterations()
	r.log.Info("Run finished", "run", res.RunID, "elapsed", res.Elapsed.Round(time.Millisecond),
		"iterations", res.Iterations, "interrupted", res.Interrupted)
	return res, nil
}

func (r *Runner) loop(ctx context.Context, stopping <-chan struct{}, runID string, v *vu, fn IterationFunc) {
	for {
		select {
		case <-stopping:
			return
		case <-ctx.Done():
			return
		default:
		}
		if !v.active.Load() {
			select {
			case <-stopping:
				return
			case <-ctx.Done():
				return
			case <-v.wake:
			}
			continue
		}

		fn(ctx, VU{RunID: runID, ID: v.id, Iteration: v.iter})
		// The index advances even for interrupted iterations: the target
		// may already have seen their keys.
		v.iter++
		if ctx.Err() == nil {
			r.metrics.iterationDone()
		}
	}
}
