// Package report turns the frozen state of a load test into the summary,
// per-operation statistics and recommendations persisted after a run.
package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"stressq/internal/stats"
)

const (
	minDuration = 10 * time.Millisecond

	reliabilityThreshold = 0.95
	throughputThreshold  = 1.0
	slowThreshold        = 2.0
	errorProneThreshold  = 0.9
)

// TestConfig echoes the configuration a report was produced with.
type TestConfig struct {
	ConcurrentClients   int     `json:"concurrent_clients"`
	OperationsPerClient int     `json:"operations_per_client"`
	OperationDelay      float64 `json:"operation_delay"`
	Persistent          bool    `json:"use_persistent_connection"`
	IncludeTrading      bool    `json:"include_trading_operations"`
	StressMode          bool    `json:"stress_mode"`
}

type Summary struct {
	StartTime            time.Time   `json:"start_time"`
	EndTime              time.Time   `json:"end_time"`
	TotalDuration        float64     `json:"total_duration"`
	TotalOperations      int         `json:"total_operations"`
	SuccessfulOperations int         `json:"successful_operations"`
	FailedOperations     int         `json:"failed_operations"`
	SuccessRate          float64     `json:"success_rate"`
	AvgOpsPerSecond      float64     `json:"avg_operations_per_second"`
	PeakOpsPerSecond     uint64      `json:"peak_operations_per_second"`
	Config               *TestConfig `json:"test_config,omitempty"`
}

// OperationStats holds latency statistics in seconds. Count is the number of
// successful, timed attempts.
type OperationStats struct {
	Count          int     `json:"count"`
	SuccessCount   int     `json:"success_count"`
	ErrorCount     int     `json:"error_count"`
	SuccessRate    float64 `json:"success_rate"`
	AvgDuration    float64 `json:"avg_duration"`
	MinDuration    float64 `json:"min_duration"`
	MaxDuration    float64 `json:"max_duration"`
	MedianDuration float64 `json:"median_duration"`
	P95Duration    float64 `json:"p95_duration"`
}

// TradingMetrics summarizes simulated order outcomes.
type TradingMetrics struct {
	Trades   int     `json:"total_trades"`
	Wins     int     `json:"wins"`
	TotalPnL float64 `json:"total_pnl"`
	AvgPnL   float64 `json:"avg_pnl"`
	WinRate  float64 `json:"win_rate"`
}

type Performance struct {
	History        []uint64 `json:"operations_per_second_history"`
	PeakThroughput uint64   `json:"peak_throughput"`
	AvgThroughput  float64  `json:"avg_throughput"`
}

type Report struct {
	Summary         Summary                       `json:"test_summary"`
	Operations      map[stats.Kind]OperationStats `json:"operation_analysis"`
	Trading         *TradingMetrics               `json:"trading_metrics,omitempty"`
	Errors          map[stats.Kind]int            `json:"error_summary"`
	Performance     Performance                   `json:"performance_metrics"`
	Recommendations []string                      `json:"recommendations"`

	// Trades holds the successful place_order records behind Trading.
	Trades []stats.Result `json:"-"`
}

// Build summarizes snap. It does not mutate its input, so building twice
// from the same snapshot yields equal reports.
func Build(snap stats.Snapshot, start, end time.Time) Report {
	elapsed := max(end.Sub(start), minDuration)
	seconds := elapsed.Seconds()

	total := len(snap.Results)
	success := 0
	for _, r := range snap.Results {
		if r.Success {
			success++
		}
	}
	rate := float64(success) / float64(max(total, 1))
	avg := float64(total) / seconds

	rep := Report{
		Summary: Summary{
			StartTime:            start,
			EndTime:              end,
			TotalDuration:        seconds,
			TotalOperations:      total,
			SuccessfulOperations: success,
			FailedOperations:     total - success,
			SuccessRate:          rate,
			AvgOpsPerSecond:      avg,
			PeakOpsPerSecond:     snap.Peak,
		},
		Operations: make(map[stats.Kind]OperationStats),
		Errors:     make(map[stats.Kind]int),
		Performance: Performance{
			History:        append([]uint64{}, snap.Throughput...),
			PeakThroughput: snap.Peak,
			AvgThroughput:  avg,
		},
	}

	for _, kind := range snap.SortedKinds() {
		ks := snap.Kinds[kind]
		if ks.Errors > 0 {
			rep.Errors[kind] = ks.Errors
		}
		if len(ks.Durations) == 0 {
			continue
		}
		rep.Operations[kind] = operationStats(ks)
	}

	if _, ok := rep.Operations[stats.KindPlaceOrder]; ok {
		rep.Trades = successfulTrades(snap.Results)
		rep.Trading = tradingMetrics(rep.Trades)
	}
	rep.Recommendations = recommendations(rep)
	return rep
}

func operationStats(ks stats.KindStats) OperationStats {
	sorted := make([]float64, len(ks.Durations))
	for i, d := range ks.Durations {
		sorted[i] = d.Seconds()
	}
	sort.Float64s(sorted)

	n := len(sorted)
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	return OperationStats{
		Count:          n,
		SuccessCount:   ks.Success,
		ErrorCount:     ks.Errors,
		SuccessRate:    float64(ks.Success) / float64(max(ks.Success+ks.Errors, 1)),
		AvgDuration:    sum / float64(n),
		MinDuration:    sorted[0],
		MaxDuration:    sorted[n-1],
		MedianDuration: median(sorted),
		P95Duration:    p95(sorted),
	}
}

func median(sorted []float64) float64 {
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// p95 takes index ⌊0.95n⌋ of the sorted list once it holds more than 20
// values, and the maximum below that.
func p95(sorted []float64) float64 {
	n := len(sorted)
	if n > 20 {
		return sorted[int(float64(n)*0.95)]
	}
	return sorted[n-1]
}

func successfulTrades(results []stats.Result) []stats.Result {
	var out []stats.Result
	for _, r := range results {
		if r.Kind == stats.KindPlaceOrder && r.Success && r.Data != nil {
			out = append(out, r)
		}
	}
	return out
}

func tradingMetrics(trades []stats.Result) *TradingMetrics {
	if len(trades) == 0 {
		return nil
	}
	m := &TradingMetrics{Trades: len(trades)}
	for _, t := range trades {
		pnl, _ := t.Float("simulated_profit")
		m.TotalPnL += pnl
		if t.Bool("win") {
			m.Wins++
		}
	}
	m.AvgPnL = m.TotalPnL / float64(m.Trades)
	m.WinRate = float64(m.Wins) / float64(m.Trades)
	return m
}

func recommendations(rep Report) []string {
	var out []string
	if rep.Summary.SuccessRate < reliabilityThreshold {
		out = append(out, fmt.Sprintf("Low success rate (%.1f%%). Check network stability and API availability.", rep.Summary.SuccessRate*100))
	}
	if rep.Summary.AvgOpsPerSecond < throughputThreshold {
		out = append(out, "Low throughput. Reuse persistent connections instead of reconnecting per client.")
	}

	kinds := make([]stats.Kind, 0, len(rep.Operations))
	for k := range rep.Operations {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	var slow, failing []string
	for _, k := range kinds {
		op := rep.Operations[k]
		if op.AvgDuration > slowThreshold {
			slow = append(slow, fmt.Sprintf("%s (%.2fs)", k, op.AvgDuration))
		}
		if op.SuccessRate < errorProneThreshold {
			failing = append(failing, fmt.Sprintf("%s (%.1f%%)", k, op.SuccessRate*100))
		}
	}
	if len(slow) > 0 {
		out = append(out, fmt.Sprintf("Slow operations: %s.", strings.Join(slow, ", ")))
	}
	if len(failing) > 0 {
		out = append(out, fmt.Sprintf("High error rate: %s.", strings.Join(failing, ", ")))
	}
	if len(out) == 0 {
		out = append(out, "Performance looks good under this load.")
	}
	return out
}
