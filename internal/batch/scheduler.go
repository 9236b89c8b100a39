// Package batch runs the round aggregator over many endpoints concurrently
// under a bounded worker pool and a per-unit wall-clock budget.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/errgroup"

	"proxyrank/internal/core"
	"proxyrank/internal/endpoint"
	"proxyrank/internal/round"
)

var (
	// ErrUnitTimeout marks a unit that exceeded its budget and was forced dead.
	ErrUnitTimeout = errors.New("unit budget exceeded")
	// ErrWorkerPanic marks a unit whose runner panicked.
	ErrWorkerPanic = errors.New("worker panicked")
)

// Runner produces a verdict for one endpoint. *round.Aggregator satisfies it.
type Runner interface {
	Run(ctx context.Context, ep endpoint.Endpoint) round.Verdict
}

// Observer is notified as units start and finish. Every UnitStarted is
// followed by exactly one UnitDone. Implementations must be safe for
// concurrent use.
type Observer interface {
	UnitStarted(mode string)
	UnitDone(mode string, v round.Verdict, forced bool)
}

// Report summarizes one batch run.
type Report struct {
	Submitted int
	Completed int
	Alive     int
	Forced    int
	Elapsed   time.Duration
}

// Config parameterizes a Scheduler.
type Config struct {
	// Mode labels logs, events and metrics.
	Mode string
	// Concurrency caps the number of units in flight.
	Concurrency int
	// Budget is the per-unit wall-clock allowance. Zero disables it.
	Budget time.Duration
	// ProgressEvery emits a progress line after that many completions.
	ProgressEvery int
}

// Scheduler fans endpoints out to a Runner.
type Scheduler struct {
	runner   Runner
	cfg      Config
	bus      *core.EventBus
	observer Observer
	clock    clock.Clock
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithEventBus publishes batch lifecycle events on bus.
func WithEventBus(bus *core.EventBus) Option {
	return func(s *Scheduler) { s.bus = bus }
}

// WithObserver attaches a per-unit observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) { s.observer = o }
}

// WithClock sets the clock used for budgets and elapsed time.
func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

// New creates a Scheduler.
func New(runner Runner, cfg Config, opts ...Option) *Scheduler {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.Mode == "" {
		cfg.Mode = "batch"
	}
	s := &Scheduler{
		runner: runner,
		cfg:    cfg,
		clock:  clock.New(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type outcome struct {
	index   int
	verdict round.Verdict
	forced  bool
}

// Run probes every endpoint and returns exactly one copy per input, in
// completion order. The input slice is not modified.
func (s *Scheduler) Run(ctx context.Context, eps []endpoint.Endpoint) ([]endpoint.Endpoint, Report) {
	start := s.clock.Now()
	report := Report{Submitted: len(eps)}
	out := make([]endpoint.Endpoint, 0, len(eps))

	s.publish(core.EventBatchStarted, report)
	core.Log.Infof("Batch", "[%s] Testing %d endpoints (concurrency=%d, budget=%s)",
		s.cfg.Mode, len(eps), s.cfg.Concurrency, s.cfg.Budget)

	// Sized so workers never block on the collector.
	results := make(chan outcome, len(eps))

	go func() {
		var g errgroup.Group
		g.SetLimit(s.cfg.Concurrency)
		for i := range eps {
			g.Go(func() error {
				results <- s.unit(ctx, i, eps[i])
				return nil
			})
		}
		_ = g.Wait()
		close(results)
	}()

	for o := range results {
		out = append(out, o.verdict.Apply(eps[o.index]))
		report.Completed++
		if o.verdict.Alive {
			report.Alive++
		}
		if o.forced {
			report.Forced++
		}
		if s.observer != nil {
			s.observer.UnitDone(s.cfg.Mode, o.verdict, o.forced)
		}
		if s.cfg.ProgressEvery > 0 && report.Completed%s.cfg.ProgressEvery == 0 && report.Completed < report.Submitted {
			report.Elapsed = s.clock.Since(start)
			s.progress(report)
		}
	}

	report.Elapsed = s.clock.Since(start)
	if report.Submitted > 0 {
		s.progress(report)
	}
	core.Log.Infof("Batch", "[%s] Done: %d/%d alive, %d forced, %s",
		s.cfg.Mode, report.Alive, report.Submitted, report.Forced, report.Elapsed.Round(time.Millisecond))
	s.publish(core.EventBatchDone, report)
	return out, report
}

// unit runs one endpoint under its budget. The runner executes in its own
// goroutine so an overrunning or panicking unit can be abandoned.
func (s *Scheduler) unit(ctx context.Context, index int, ep endpoint.Endpoint) outcome {
	if s.observer != nil {
		s.observer.UnitStarted(s.cfg.Mode)
	}
	if err := ctx.Err(); err != nil {
		return outcome{index: index, verdict: round.Dead(endpoint.Target{}, err), forced: true}
	}

	var (
		uctx   context.Context
		cancel context.CancelFunc
	)
	if s.cfg.Budget > 0 {
		uctx, cancel = s.clock.WithTimeout(ctx, s.cfg.Budget)
	} else {
		uctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				core.Log.Errorf("Batch", "[%s] Runner panicked on %s: %v", s.cfg.Mode, ep.Key(), r)
				done <- outcome{
					index:   index,
					verdict: round.Dead(endpoint.Target{}, fmt.Errorf("%w: %v", ErrWorkerPanic, r)),
					forced:  true,
				}
			}
		}()
		done <- outcome{index: index, verdict: s.runner.Run(uctx, ep)}
	}()

	select {
	case o := <-done:
		return o
	case <-uctx.Done():
	}

	// A verdict that raced the deadline still counts.
	select {
	case o := <-done:
		return o
	default:
	}

	err := ctx.Err()
	if err == nil {
		err = fmt.Errorf("%w after %s", ErrUnitTimeout, s.cfg.Budget)
	}
	core.Log.Debugf("Batch", "[%s] Forcing %s dead: %v", s.cfg.Mode, ep.Key(), err)
	return outcome{index: index, verdict: round.Dead(endpoint.Target{}, err), forced: true}
}

func (s *Scheduler) progress(r Report) {
	core.Log.Infof("Batch", "[%s] Progress: %d/%d tested, %d alive", s.cfg.Mode, r.Completed, r.Submitted, r.Alive)
	s.publish(core.EventBatchProgress, r)
}

func (s *Scheduler) publish(t core.EventType, r Report) {
	s.bus.Publish(core.Event{
		Type: t,
		Payload: core.BatchPayload{
			Mode:      s.cfg.Mode,
			Submitted: r.Submitted,
			Completed: r.Completed,
			Alive:     r.Alive,
			Forced:    r.Forced,
			Elapsed:   r.Elapsed,
		},
	})
}
