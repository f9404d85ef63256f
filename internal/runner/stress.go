package runner

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"stressq/internal/client"
	"stressq/internal/stats"

	"github.com/sourcegraph/conc"
)

// Phase is one cohort of a stress run.
type Phase struct {
	Name    string
	Clients int
	Delay   time.Duration
}

// StressPhases returns the fixed escalation profile for base concurrency n.
func StressPhases(n int) []Phase {
	return []Phase{
		{Name: "Ramp Up", Clients: n / 3, Delay: 100 * time.Millisecond},
		{Name: "Peak Load", Clients: n, Delay: 50 * time.Millisecond},
		{Name: "Extreme Load", Clients: n * 2, Delay: 10 * time.Millisecond},
		{Name: "Cool Down", Clients: n / 2, Delay: 500 * time.Millisecond},
	}
}

// PhaseResult describes how a phase ended.
type PhaseResult struct {
	Phase
	Started  time.Time
	Elapsed  time.Duration
	TimedOut bool
}

type phaseLog struct {
	mu      sync.Mutex
	results []PhaseResult
}

func (l *phaseLog) add(r PhaseResult) {
	l.mu.Lock()
	l.results = append(l.results, r)
	l.mu.Unlock()
}

func (l *phaseLog) reset() {
	l.mu.Lock()
	l.results = nil
	l.mu.Unlock()
}

func (l *phaseLog) list() []PhaseResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]PhaseResult(nil), l.results...)
}

// Phases returns the phases completed by the last stress run, in order.
func (r *Runner) Phases() []PhaseResult { return r.phases.list() }

func (r *Runner) runStress(ctx context.Context) {
	ops := r.Cfg.OperationsPerClient / 2
	for _, p := range StressPhases(r.Cfg.ConcurrentClients) {
		if ctx.Err() != nil {
			return
		}
		r.phase.Store(p.Name)
		r.Log.Info().
			Str("phase", p.Name).
			Int("clients", p.Clients).
			Dur("delay", p.Delay).
			Msg("stress phase starting")

		res := r.runPhase(ctx, p, ops)
		r.phases.add(res)

		ev := r.Log.Info()
		if res.TimedOut {
			ev = r.Log.Warn()
		}
		ev.Str("phase", p.Name).Dur("elapsed", res.Elapsed).Bool("timed_out", res.TimedOut).Msg("stress phase finished")

		if sleep(ctx, r.Timings.PhaseCoolOff) != nil {
			return
		}
	}
}

func (r *Runner) runPhase(ctx context.Context, p Phase, ops int) PhaseResult {
	res := PhaseResult{Phase: p, Started: time.Now()}

	phaseCtx, cancel := context.WithTimeout(ctx, r.Timings.PhaseBudget)
	defer cancel()

	slug := strings.ToLower(strings.ReplaceAll(p.Name, " ", "_"))
	wg := conc.NewWaitGroup()
	for i := 0; i < p.Clients; i++ {
		id := fmt.Sprintf("stress_%s_%d", slug, i)
		wg.Go(func() {
			r.stressWorker(phaseCtx, id, ops, p.Delay)
		})
	}
	if rec := wg.WaitAndRecover(); rec != nil {
		r.Log.Error().Str("phase", p.Name).Msg(rec.String())
	}

	res.Elapsed = time.Since(res.Started)
	res.TimedOut = errors.Is(phaseCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil
	return res
}

// stressWorker hammers a persistent connection with keep-alive frames.
func (r *Runner) stressWorker(ctx context.Context, id string, ops int, delay time.Duration) {
	log := r.Log.With().Str("client", id).Logger()
	k := r.Factory.NewKeepAlive(client.Options{
		ID:            id,
		SSID:          r.Cfg.SSID,
		Demo:          r.Cfg.Demo,
		Persistent:    true,
		AutoReconnect: true,
		Hooks:         clientHooks(log),
	})
	r.clients.addKeepAlive(k)
	defer func() {
		if err := run(context.WithoutCancel(ctx), r.Timings.DisconnectTimeout, k.Stop); err != nil {
			log.Debug().Err(err).Msg("stop failed")
		}
	}()

	start := time.Now()
	err := run(ctx, r.Timings.PersistentConnectTimeout, k.Start)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		log.Warn().Err(err).Msg("persistent connection failed")
		r.Stats.Record(stats.NewResult(stats.KindStressConnect, start, time.Now(),
			connectError(err).Error(), nil))
		return
	}

	for n := 0; n < ops; n++ {
		start := time.Now()
		err := run(ctx, r.Timings.PingTimeout, func(ctx context.Context) error {
			return k.SendMessage(ctx, client.KeepAliveMessage)
		})
		if err == nil {
			err = sleep(ctx, r.Timings.StressPingPause)
		}
		if ctx.Err() != nil {
			return
		}

		msg := ""
		if err != nil {
			log.Debug().Err(err).Msg("rapid ping failed")
			msg = errorMessage(err)
		}
		r.Stats.Record(stats.NewResult(stats.KindStressRapidPing, start, time.Now(), msg,
			map[string]any{"client_id": id, "messages": 1}))

		if sleep(ctx, delay) != nil {
			return
		}
	}
}
