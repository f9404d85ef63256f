package runner

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"stressq/internal/client"
	"stressq/internal/report"
	"stressq/internal/stats"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
)

// StatsSnapshot is sent over the update channel while a run is in progress.
type StatsSnapshot struct {
	Requests uint64
	Success  uint64
	Fail     uint64
	Inflight int64

	Expected int
	Elapsed  time.Duration
	// Phase is the current stress phase, empty in standard mode.
	Phase string

	// Rolling throughput for the progress line.
	OpsPerSec float64
	Peak      uint64
	Done      bool
}

// StatsUpdateChan is the channel type
type StatsUpdateChan chan StatsSnapshot

type Runner struct {
	Cfg      Config
	Timings  Timings
	Stats    *stats.Aggregator
	Factory  client.Factory
	Reporter report.Generator
	Log      zerolog.Logger

	// Event Channel
	Updates StatsUpdateChan

	StartTime time.Time
	EndTime   time.Time

	clients  registry
	phases   phaseLog
	inflight atomic.Int64
	phase    atomic.Value
}

func NewRunner(cfg Config, factory client.Factory, updates StatsUpdateChan) *Runner {
	if updates == nil {
		// Avoid nil panics if not provided
		updates = make(StatsUpdateChan, 10)
	}
	return &Runner{
		Cfg:     cfg,
		Timings: DefaultTimings(),
		Stats:   stats.NewAggregator(),
		Factory: factory,
		Log:     zerolog.Nop(),
		Updates: updates,
	}
}

// StartTickLoop starts a goroutine that pushes stats updates
func (r *Runner) StartTickLoop(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sendUpdate(false)
			}
		}
	}()
}

func (r *Runner) snapshot(done bool) StatsSnapshot {
	phase, _ := r.phase.Load().(string)
	return StatsSnapshot{
		Requests:  r.Stats.Requests.Load(),
		Success:   r.Stats.Success.Load(),
		Fail:      r.Stats.Fail.Load(),
		Inflight:  r.inflight.Load(),
		Expected:  r.ExpectedOperations(),
		Elapsed:   time.Since(r.StartTime),
		Phase:     phase,
		OpsPerSec: r.Stats.RecentAverage(5),
		Peak:      r.Stats.Peak(),
		Done:      done,
	}
}

func (r *Runner) sendUpdate(done bool) {
	s := r.snapshot(done)

	// Non-blocking send
	select {
	case r.Updates <- s:
	default:
		// Drop update if channel full, the console acts as backpressure
	}
}

// ExpectedOperations is the number of records a fully successful run
// produces.
func (r *Runner) ExpectedOperations() int {
	if !r.Cfg.StressMode {
		return r.Cfg.ConcurrentClients * (1 + r.Cfg.OperationsPerClient)
	}
	total := 0
	for _, p := range StressPhases(r.Cfg.ConcurrentClients) {
		total += p.Clients * (r.Cfg.OperationsPerClient / 2)
	}
	return total
}

// ActiveClients is the number of handles registered and not yet cleaned up.
func (r *Runner) ActiveClients() int { return r.clients.len() }

func (r *Runner) GetInflight() int64 { return r.inflight.Load() }

// Run executes one load test and returns its report. Only an invalid
// configuration is returned as an error; worker failures end up in the
// report.
func (r *Runner) Run(ctx context.Context) (*report.Report, error) {
	if err := r.Cfg.Validate(); err != nil {
		return nil, err
	}
	if r.Factory == nil {
		return nil, fmt.Errorf("%w: no client factory", ErrInvalidConfig)
	}

	r.Stats.Reset()
	r.phases.reset()
	r.phase.Store("")
	r.StartTime = time.Now()

	r.Log.Info().
		Int("clients", r.Cfg.ConcurrentClients).
		Int("ops", r.Cfg.OperationsPerClient).
		Dur("delay", r.Cfg.OperationDelay).
		Bool("persistent", r.Cfg.Persistent).
		Bool("trading", r.Cfg.IncludeTrades).
		Bool("stress", r.Cfg.StressMode).
		Msg("load test starting")

	tickCtx, stopTicks := context.WithCancel(ctx)
	r.StartTickLoop(tickCtx, r.Timings.TickInterval)

	if r.Cfg.StressMode {
		r.runStress(ctx)
	} else {
		r.runStandard(ctx)
	}
	r.EndTime = time.Now()
	stopTicks()

	r.cleanupClients(ctx)
	r.sendUpdate(true)

	rep := r.Reporter.Generate(r.Stats.Snapshot(), r.StartTime, r.EndTime, r.Cfg.Describe())
	r.Log.Info().
		Int("operations", rep.Summary.TotalOperations).
		Float64("success_rate", rep.Summary.SuccessRate).
		Float64("duration", rep.Summary.TotalDuration).
		Msg("load test finished")
	return &rep, nil
}

func (r *Runner) runStandard(ctx context.Context) {
	monCtx, stopMonitor := context.WithCancel(ctx)
	mon := stats.NewMonitor(r.Stats, r.Log)
	mon.Interval = r.Timings.MonitorInterval
	monDone := make(chan struct{})
	go func() {
		defer close(monDone)
		mon.Run(monCtx)
	}()

	wg := conc.NewWaitGroup()
	for i := 0; i < r.Cfg.ConcurrentClients; i++ {
		w := r.newWorker(fmt.Sprintf("client_%d", i), r.Cfg.OperationsPerClient,
			r.Cfg.OperationDelay, r.Cfg.Persistent, r.Cfg.IncludeTrades)
		wg.Go(func() { w.Run(ctx) })
	}
	if rec := wg.WaitAndRecover(); rec != nil {
		r.Log.Error().Msg(rec.String())
	}

	stopMonitor()
	<-monDone
}

// cleanupClients closes every handle the run left open. It runs on a
// detached context so it completes even when ctx is already cancelled.
func (r *Runner) cleanupClients(ctx context.Context) {
	closed := r.clients.drain(context.WithoutCancel(ctx), r.Timings.DisconnectTimeout)
	r.Log.Info().Int("closed", closed).Msg("cleanup finished")
}
