package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"stressq/internal/cli"
	"stressq/internal/report"
	"stressq/internal/runner"
)

const batchPause = 2 * time.Second

type scenario struct {
	label string
	cfg   runner.Config
}

// demoScenarios grow from a light burst to a short stress profile. Session,
// account and trading settings come from base.
func demoScenarios(base runner.Config) []scenario {
	with := func(clients, ops int, delay time.Duration, persistent, stress bool) runner.Config {
		cfg := base
		cfg.ConcurrentClients = clients
		cfg.OperationsPerClient = ops
		cfg.OperationDelay = delay
		cfg.Persistent = persistent
		cfg.StressMode = stress
		return cfg
	}
	return []scenario{
		{"Light Load", with(3, 10, 500*time.Millisecond, false, false)},
		{"Medium Load", with(5, 15, 200*time.Millisecond, true, false)},
		{"Stress Test", with(2, 5, 100*time.Millisecond, true, true)},
	}
}

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Run three load configurations back to back and compare them",
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signalContext()
		defer stop()

		s, err := newSession(ctx)
		if err != nil {
			return err
		}
		defer s.Close()

		ts := time.Now().Format("02012006_150405")
		entries, err := runBatch(ctx, s, demoScenarios(base), ts)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return ctx.Err()
		}

		c := report.Compare(entries)
		path := filepath.Join(s.outDir, fmt.Sprintf("load_test_comparison_%s.json", ts))
		if err := report.ExportJSON(c, path); err != nil {
			return fmt.Errorf("write comparison: %w", err)
		}
		cli.PrintComparison(os.Stdout, c)
		fmt.Printf("💾 Comparison saved to %s\n", path)
		return nil
	},
}

func runBatch(ctx context.Context, s *session, scenarios []scenario, ts string) ([]report.Entry, error) {
	var entries []report.Entry
	for i, sc := range scenarios {
		if i > 0 {
			select {
			case <-ctx.Done():
				return entries, nil
			case <-time.After(batchPause):
			}
		}

		rep, err := s.run(ctx, sc.cfg)
		if err != nil {
			return entries, fmt.Errorf("%s: %w", sc.label, err)
		}
		n := i + 1
		cli.PrintRunBlock(os.Stdout, n, rep.Summary)

		path := filepath.Join(s.outDir, fmt.Sprintf("load_test_%d_%s.json", n, ts))
		if err := report.ExportJSON(rep, path); err != nil {
			return entries, fmt.Errorf("write report: %w", err)
		}
		s.remember(sc.label, rep)
		entries = append(entries, report.Entry{Label: sc.label, Report: *rep})

		if ctx.Err() != nil {
			break
		}
	}
	return entries, nil
}
