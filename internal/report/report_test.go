package report

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"stressq/internal/stats"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func record(agg *stats.Aggregator, kind stats.Kind, d time.Duration, errMsg string, data map[string]any) {
	agg.Record(stats.NewResult(kind, t0, t0.Add(d), errMsg, data))
}

func order(agg *stats.Aggregator, amount, profit float64, win bool) {
	record(agg, stats.KindPlaceOrder, 100*time.Millisecond, "", map[string]any{
		"asset":            "EURUSD",
		"amount":           amount,
		"direction":        "call",
		"success":          win,
		"simulated_profit": profit,
		"payout":           0.8,
		"win":              win,
	})
}

func TestBuildSummary(t *testing.T) {
	agg := stats.NewAggregator()
	for range 3 {
		record(agg, stats.KindConnect, 50*time.Millisecond, "", nil)
	}
	record(agg, stats.KindBalance, 10*time.Millisecond, "", nil)
	record(agg, stats.KindBalance, 0, "operation timeout", nil)

	rep := Build(agg.Snapshot(), t0, t0.Add(2*time.Second))

	assert.Equal(t, 2.0, rep.Summary.TotalDuration)
	assert.Equal(t, 5, rep.Summary.TotalOperations)
	assert.Equal(t, 4, rep.Summary.SuccessfulOperations)
	assert.Equal(t, 1, rep.Summary.FailedOperations)
	assert.Equal(t, 0.8, rep.Summary.SuccessRate)
	assert.Equal(t, 2.5, rep.Summary.AvgOpsPerSecond)
	assert.Equal(t, rep.Summary.AvgOpsPerSecond, rep.Performance.AvgThroughput)

	bal := rep.Operations[stats.KindBalance]
	assert.Equal(t, 1, bal.Count)
	assert.Equal(t, 1, bal.SuccessCount)
	assert.Equal(t, 1, bal.ErrorCount)
	assert.Equal(t, 0.5, bal.SuccessRate)
	assert.Equal(t, map[stats.Kind]int{stats.KindBalance: 1}, rep.Errors)
}

func TestBuildDurationFloor(t *testing.T) {
	agg := stats.NewAggregator()
	record(agg, stats.KindPing, time.Millisecond, "", nil)

	rep := Build(agg.Snapshot(), t0, t0)
	assert.Equal(t, 0.01, rep.Summary.TotalDuration)
	assert.InDelta(t, 100.0, rep.Summary.AvgOpsPerSecond, 1e-9)

	rep = Build(stats.Snapshot{}, t0, t0)
	assert.Equal(t, 0.0, rep.Summary.SuccessRate)
	assert.Empty(t, rep.Operations)
}

func TestOperationStatsOrdering(t *testing.T) {
	agg := stats.NewAggregator()
	for _, ms := range []int{40, 10, 30, 20} {
		record(agg, stats.KindCandles, time.Duration(ms)*time.Millisecond, "", nil)
	}

	op := Build(agg.Snapshot(), t0, t0.Add(time.Second)).Operations[stats.KindCandles]
	assert.Equal(t, 4, op.Count)
	assert.InDelta(t, 0.010, op.MinDuration, 1e-9)
	assert.InDelta(t, 0.040, op.MaxDuration, 1e-9)
	assert.InDelta(t, 0.025, op.MedianDuration, 1e-9)
	assert.InDelta(t, 0.025, op.AvgDuration, 1e-9)
	assert.LessOrEqual(t, op.MinDuration, op.MedianDuration)
	assert.LessOrEqual(t, op.MedianDuration, op.MaxDuration)
	assert.GreaterOrEqual(t, op.P95Duration, op.MedianDuration)
}

func TestP95IndexRule(t *testing.T) {
	durations := func(n int) stats.Snapshot {
		agg := stats.NewAggregator()
		// Insert in reverse so sorting is exercised.
		for i := n; i >= 1; i-- {
			record(agg, stats.KindPing, time.Duration(i)*time.Millisecond, "", nil)
		}
		return agg.Snapshot()
	}

	op := Build(durations(21), t0, t0.Add(time.Second)).Operations[stats.KindPing]
	// Sorted index 19 holds the 20th value.
	assert.InDelta(t, 0.020, op.P95Duration, 1e-9)

	op = Build(durations(20), t0, t0.Add(time.Second)).Operations[stats.KindPing]
	assert.InDelta(t, 0.020, op.P95Duration, 1e-9)
	assert.Equal(t, op.MaxDuration, op.P95Duration)
}

func TestBuildIsIdempotent(t *testing.T) {
	agg := stats.NewAggregator()
	record(agg, stats.KindConnect, 30*time.Millisecond, "", nil)
	record(agg, stats.KindBalance, 3*time.Second, "", nil)
	record(agg, stats.KindCandles, 0, "boom", nil)
	order(agg, 5, 4, true)
	agg.Sample()

	snap := agg.Snapshot()
	first := Build(snap, t0, t0.Add(time.Second))
	second := Build(snap, t0, t0.Add(time.Second))
	assert.Equal(t, first, second)
}

func TestTradingMetrics(t *testing.T) {
	agg := stats.NewAggregator()
	order(agg, 10, 8, true)
	order(agg, 10, -10, false)
	order(agg, 5, 4, true)
	record(agg, stats.KindPlaceOrder, 0, "no data", nil)

	rep := Build(agg.Snapshot(), t0, t0.Add(time.Second))
	require.NotNil(t, rep.Trading)
	assert.Equal(t, 3, rep.Trading.Trades)
	assert.Equal(t, 2, rep.Trading.Wins)
	assert.InDelta(t, 2.0, rep.Trading.TotalPnL, 1e-9)
	assert.InDelta(t, 2.0/3, rep.Trading.AvgPnL, 1e-9)
	assert.InDelta(t, 2.0/3, rep.Trading.WinRate, 1e-9)
	assert.Len(t, rep.Trades, 3)
}

func TestNoTradingMetricsWithoutOrders(t *testing.T) {
	agg := stats.NewAggregator()
	record(agg, stats.KindPlaceOrder, 0, "timeout", nil)

	rep := Build(agg.Snapshot(), t0, t0.Add(time.Second))
	assert.Nil(t, rep.Trading)

	data, err := json.Marshal(rep)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "trading_metrics")
}

func TestRecommendations(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		agg := stats.NewAggregator()
		for range 10 {
			record(agg, stats.KindPing, 10*time.Millisecond, "", nil)
		}
		rep := Build(agg.Snapshot(), t0, t0.Add(time.Second))
		assert.Equal(t, []string{"Performance looks good under this load."}, rep.Recommendations)
	})

	t.Run("every warning", func(t *testing.T) {
		agg := stats.NewAggregator()
		record(agg, stats.KindBalance, 3*time.Second, "", nil)
		record(agg, stats.KindPing, 10*time.Millisecond, "", nil)
		record(agg, stats.KindPing, 0, "operation timeout", nil)

		rep := Build(agg.Snapshot(), t0, t0.Add(10*time.Second))
		require.Len(t, rep.Recommendations, 4)
		assert.Contains(t, rep.Recommendations[0], "66.7%")
		assert.Contains(t, rep.Recommendations[1], "Low throughput")
		assert.Equal(t, "Slow operations: balance (3.00s).", rep.Recommendations[2])
		assert.Equal(t, "High error rate: ping (50.0%).", rep.Recommendations[3])
	})
}

func TestWriteTrades(t *testing.T) {
	trades := []stats.Result{
		stats.NewResult(stats.KindPlaceOrder, t0, t0.Add(time.Second), "", map[string]any{
			"asset": "EURUSD", "amount": 10.0, "direction": "call",
			"simulated_profit": 8.0, "payout": 0.8, "win": true,
		}),
		stats.NewResult(stats.KindPlaceOrder, t0, t0.Add(2*time.Second), "", map[string]any{
			"amount": 2.5, "simulated_profit": -2.5, "win": false,
		}),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTrades(&buf, trades))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Timestamp", "Asset", "Amount", "Direction", "P&L", "Payout", "Win"}, rows[0])
	assert.Equal(t, []string{"2024-05-01T12:00:01Z", "EURUSD", "10.00", "call", "8.00", "0.80", "YES"}, rows[1])
	assert.Equal(t, []string{"2024-05-01T12:00:02Z", "N/A", "2.50", "N/A", "-2.50", "0.80", "NO"}, rows[2])
}

func TestGeneratorExportsTrades(t *testing.T) {
	dir := t.TempDir()
	agg := stats.NewAggregator()
	order(agg, 10, 8, true)

	g := Generator{Dir: dir, Now: func() time.Time { return t0 }, Log: zerolog.Nop()}
	cfg := &TestConfig{ConcurrentClients: 1}
	rep := g.Generate(agg.Snapshot(), t0, t0.Add(time.Second), cfg)
	assert.Same(t, cfg, rep.Summary.Config)

	data, err := os.ReadFile(filepath.Join(dir, "trading_sim_20240501_120000.csv"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "EURUSD")
}

func TestGeneratorSkipsExportWithoutTrades(t *testing.T) {
	dir := t.TempDir()
	agg := stats.NewAggregator()
	record(agg, stats.KindPing, time.Millisecond, "", nil)

	Generator{Dir: dir}.Generate(agg.Snapshot(), t0, t0.Add(time.Second), nil)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestExportJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	rep := Build(stats.Snapshot{}, t0, t0.Add(time.Second))
	require.NoError(t, ExportJSON(rep, path))

	var decoded map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &decoded))
	for _, key := range []string{"test_summary", "operation_analysis", "error_summary", "performance_metrics", "recommendations"} {
		assert.Contains(t, decoded, key)
	}
}

func TestCompare(t *testing.T) {
	run := func(throughput, rate float64) Entry {
		return Entry{Report: Report{Summary: Summary{AvgOpsPerSecond: throughput, SuccessRate: rate, TotalOperations: 10, TotalDuration: 2}}}
	}

	c := Compare([]Entry{run(5, 1), run(9, 0.9), run(9, 1)})
	require.Len(t, c.Runs, 3)
	assert.Equal(t, 2, c.Runs[1].TestNumber)
	assert.Equal(t, 9.0, c.Runs[1].Throughput)
	assert.Equal(t, "Test 2", c.Best.Throughput, "ties keep the earlier run")
	assert.Equal(t, "Test 1", c.Best.Reliability)

	c = Compare([]Entry{{Label: "zero", Report: Report{}}})
	assert.Empty(t, c.Best.Throughput)
	assert.Empty(t, c.Best.Reliability)
}
