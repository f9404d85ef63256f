package report

import "fmt"

// Entry is one run fed into a comparison.
type Entry struct {
	Label  string
	Report Report
}

type RunComparison struct {
	TestNumber      int     `json:"test_number"`
	Label           string  `json:"label,omitempty"`
	Throughput      float64 `json:"throughput"`
	SuccessRate     float64 `json:"success_rate"`
	TotalOperations int     `json:"total_operations"`
	Duration        float64 `json:"duration"`
}

type Best struct {
	Throughput  string `json:"throughput,omitempty"`
	Reliability string `json:"reliability,omitempty"`
}

type Comparison struct {
	Runs []RunComparison `json:"test_comparison"`
	Best Best            `json:"best_performance"`
}

// Compare lines up runs in order. A later run only takes a best slot by
// strictly beating the current holder, and a zero score never does.
func Compare(entries []Entry) Comparison {
	c := Comparison{Runs: make([]RunComparison, 0, len(entries))}
	var bestThroughput, bestRate float64
	for i, e := range entries {
		s := e.Report.Summary
		label := e.Label
		if label == "" {
			label = fmt.Sprintf("Test %d", i+1)
		}
		c.Runs = append(c.Runs, RunComparison{
			TestNumber:      i + 1,
			Label:           e.Label,
			Throughput:      s.AvgOpsPerSecond,
			SuccessRate:     s.SuccessRate,
			TotalOperations: s.TotalOperations,
			Duration:        s.TotalDuration,
		})
		if s.AvgOpsPerSecond > bestThroughput {
			bestThroughput = s.AvgOpsPerSecond
			c.Best.Throughput = label
		}
		if s.SuccessRate > bestRate {
			bestRate = s.SuccessRate
			c.Best.Reliability = label
		}
	}
	return c
}
