package stats

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Monitor samples an Aggregator's per-second throughput until its context
// is cancelled.
type Monitor struct {
	Agg      *Aggregator
	Interval time.Duration
	// LogEvery controls how many samples pass between rolling average logs.
	LogEvery int
	Log      zerolog.Logger
}

func NewMonitor(agg *Aggregator, log zerolog.Logger) *Monitor {
	return &Monitor{
		Agg:      agg,
		Interval: time.Second,
		LogEvery: 10,
		Log:      log,
	}
}

// Run blocks until ctx is done. Cancellation is the normal way to stop it.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.Interval)
	defer ticker.Stop()

	samples := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Agg.Sample()
			samples++
			if m.LogEvery > 0 && samples%m.LogEvery == 0 {
				m.Log.Info().
					Float64("avg_ops_per_sec", m.Agg.RecentAverage(m.LogEvery)).
					Uint64("peak", m.Agg.Peak()).
					Msgf("Average ops/s (last %d samples)", m.LogEvery)
			}
		}
	}
}
