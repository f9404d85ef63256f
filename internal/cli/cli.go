package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"stressq/internal/banner"
	"stressq/internal/report"
	"stressq/internal/runner"
	"stressq/internal/stats"
	"stressq/internal/storage"
	"stressq/internal/styles"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

const rule = "======================================================================"

type outcome struct {
	rep *report.Report
	err error
}

// Start runs r while drawing a progress line on out, then prints the
// summary.
func Start(ctx context.Context, r *runner.Runner, out io.Writer) (*report.Report, error) {
	printHeader(out, r.Cfg)

	done := make(chan outcome, 1)
	go func() {
		rep, err := r.Run(ctx)
		done <- outcome{rep, err}
	}()

	bar := progress.New(
		progress.WithDefaultGradient(),
		progress.WithWidth(24),
		progress.WithoutPercentage(),
	)

	for {
		select {
		case s := <-r.Updates:
			printProgress(out, bar, s)
		case o := <-done:
			fmt.Fprint(out, "\n")
			if o.err != nil {
				return nil, o.err
			}
			PrintSummary(out, o.rep, percentiles(r.Stats, o.rep))
			return o.rep, nil
		}
	}
}

func percentiles(agg *stats.Aggregator, rep *report.Report) map[stats.Kind]time.Duration {
	p99 := make(map[stats.Kind]time.Duration, len(rep.Operations))
	for kind := range rep.Operations {
		p99[kind] = agg.P99(kind)
	}
	return p99
}

func printHeader(out io.Writer, cfg runner.Config) {
	mode := "standard"
	if cfg.StressMode {
		mode = "stress"
	}
	fmt.Fprint(out, banner.GetString())
	fmt.Fprintf(out, "\n🚀 STARTING STRESSQ LOAD TEST\n")
	fmt.Fprintf(out, "%s\n", rule)
	fmt.Fprintf(out, "Mode        : %s\n", mode)
	fmt.Fprintf(out, "Clients     : %d\n", cfg.ConcurrentClients)
	fmt.Fprintf(out, "Ops/Client  : %d\n", cfg.OperationsPerClient)
	fmt.Fprintf(out, "Delay       : %s\n", cfg.OperationDelay)
	fmt.Fprintf(out, "Persistent  : %t\n", cfg.Persistent)
	fmt.Fprintf(out, "Trading     : %t\n", cfg.IncludeTrades)
	fmt.Fprintf(out, "%s\n\n", rule)
}

func printProgress(out io.Writer, bar progress.Model, s runner.StatsSnapshot) {
	frac := 1.0
	if s.Expected > 0 {
		frac = min(float64(s.Requests)/float64(s.Expected), 1)
	}
	phase := ""
	if s.Phase != "" {
		phase = " | " + s.Phase
	}
	fmt.Fprintf(out, "\r%s %3.0f%% | %s | Inf: %3d | Ops/s: %.1f | OK: %d | Err: %d%s   ",
		bar.ViewAs(frac), frac*100,
		s.Elapsed.Round(time.Second),
		s.Inflight,
		s.OpsPerSec,
		s.Success,
		s.Fail,
		phase,
	)
}

func millis(v float64) string {
	return strconv.FormatFloat(v*1000, 'f', 1, 64)
}

func pct(v float64) string {
	return fmt.Sprintf("%.1f%%", v*100)
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(styles.Border).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.Header
			}
			return styles.Cell
		})
}

// PrintSummary renders a finished report. p99 may be nil.
func PrintSummary(out io.Writer, rep *report.Report, p99 map[stats.Kind]time.Duration) {
	s := rep.Summary
	fmt.Fprintf(out, "\n📊 LOAD TEST RESULTS\n")
	fmt.Fprintf(out, "%s\n", rule)
	fmt.Fprintf(out, "Total Duration : %.2fs\n", s.TotalDuration)
	fmt.Fprintf(out, "Operations     : %d\n", s.TotalOperations)
	fmt.Fprintf(out, "Success        : %d\n", s.SuccessfulOperations)
	fmt.Fprintf(out, "Failures       : %d\n", s.FailedOperations)
	fmt.Fprintf(out, "Success Rate   : %s\n", styles.Rate(s.SuccessRate).Render(pct(s.SuccessRate)))
	fmt.Fprintf(out, "Throughput     : %.2f ops/s (peak %d)\n", s.AvgOpsPerSecond, s.PeakOpsPerSecond)

	if len(rep.Performance.History) > 0 {
		spark := NewSparkline(60, styles.Value)
		spark.Add(rep.Performance.History...)
		fmt.Fprintf(out, "Ops/s history  : %s\n", spark.View())
	}

	if len(rep.Operations) > 0 {
		fmt.Fprintf(out, "\n⏱️  OPERATIONS (ms) [Success Only]\n")
		t := newTable("Operation", "Count", "OK", "Err", "Success", "Avg", "Median", "P95", "P99", "Max")
		for _, kind := range sortedKinds(rep.Operations) {
			op := rep.Operations[kind]
			p := "-"
			if d, ok := p99[kind]; ok {
				p = millis(d.Seconds())
			}
			t.Row(
				string(kind),
				strconv.Itoa(op.Count),
				strconv.Itoa(op.SuccessCount),
				strconv.Itoa(op.ErrorCount),
				pct(op.SuccessRate),
				millis(op.AvgDuration),
				millis(op.MedianDuration),
				millis(op.P95Duration),
				p,
				millis(op.MaxDuration),
			)
		}
		fmt.Fprintln(out, t.String())
	}

	if tm := rep.Trading; tm != nil {
		fmt.Fprintf(out, "\n💹 SIMULATED TRADING\n")
		fmt.Fprintf(out, "   Trades   : %d\n", tm.Trades)
		fmt.Fprintf(out, "   Win Rate : %s\n", pct(tm.WinRate))
		fmt.Fprintf(out, "   P&L      : %.2f (avg %.2f)\n", tm.TotalPnL, tm.AvgPnL)
	}

	if len(rep.Errors) > 0 {
		fmt.Fprintf(out, "\n❌ FAILURE SUMMARY\n")
		for _, kind := range sortedKinds(rep.Errors) {
			fmt.Fprintf(out, "   %d x %s\n", rep.Errors[kind], kind)
		}
	}

	fmt.Fprintf(out, "\n💡 RECOMMENDATIONS\n")
	for _, rec := range rep.Recommendations {
		fmt.Fprintf(out, "   • %s\n", rec)
	}
	fmt.Fprintf(out, "%s\n", rule)
}

// PrintRunBlock prints the short per-run block used by batch runs.
func PrintRunBlock(out io.Writer, n int, s report.Summary) {
	fmt.Fprintf(out, "\n=== TEST %d SUMMARY ===\n", n)
	fmt.Fprintf(out, "Duration: %.2fs\n", s.TotalDuration)
	fmt.Fprintf(out, "Operations: %d\n", s.TotalOperations)
	fmt.Fprintf(out, "Success Rate: %s\n", pct(s.SuccessRate))
	fmt.Fprintf(out, "Throughput: %.1f ops/sec\n", s.AvgOpsPerSecond)
}

func PrintComparison(out io.Writer, c report.Comparison) {
	fmt.Fprintf(out, "\n=== LOAD TEST COMPARISON ===\n")
	t := newTable("Test", "Throughput", "Success Rate", "Total", "Duration")
	for _, run := range c.Runs {
		name := run.Label
		if name == "" {
			name = strconv.Itoa(run.TestNumber)
		}
		t.Row(
			name,
			fmt.Sprintf("%.1f", run.Throughput),
			pct(run.SuccessRate),
			strconv.Itoa(run.TotalOperations),
			fmt.Sprintf("%.1fs", run.Duration),
		)
	}
	fmt.Fprintln(out, t.String())
	if c.Best.Throughput != "" {
		fmt.Fprintf(out, "Best throughput : %s\n", styles.Value.Render(c.Best.Throughput))
	}
	if c.Best.Reliability != "" {
		fmt.Fprintf(out, "Best reliability: %s\n", styles.Value.Render(c.Best.Reliability))
	}
}

func PrintHistory(out io.Writer, runs []storage.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(out, styles.Subtle.Render("No runs recorded yet."))
		return
	}
	t := newTable("ID", "Time", "Label", "Ops", "Success", "Ops/s")
	for _, run := range runs {
		s := run.Report.Summary
		t.Row(
			run.ID,
			run.Timestamp.Format(time.DateTime),
			run.Label,
			strconv.Itoa(s.TotalOperations),
			pct(s.SuccessRate),
			fmt.Sprintf("%.2f", s.AvgOpsPerSecond),
		)
	}
	fmt.Fprintln(out, t.String())
}

func sortedKinds[V any](m map[stats.Kind]V) []stats.Kind {
	kinds := make([]stats.Kind, 0, len(m))
	for k := range m {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}
