package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stressq/internal/cli"
	"stressq/internal/client"
	"stressq/internal/client/sim"
	"stressq/internal/client/ws"
	"stressq/internal/metrics"
	"stressq/internal/report"
	"stressq/internal/runner"
	"stressq/internal/stats"
	"stressq/internal/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one load test",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
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

		rep, err := s.run(ctx, cfg)
		if err != nil {
			return err
		}

		path := filepath.Join(s.outDir, fmt.Sprintf("load_test_%s.json", time.Now().Format("02012006_150405")))
		if err := report.ExportJSON(rep, path); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("💾 Report saved to %s\n", path)
		s.remember(viper.GetString("label"), rep)
		return nil
	},
}

func init() {
	f := runCmd.Flags()
	def := runner.DefaultConfig()
	f.IntP("clients", "c", def.ConcurrentClients, "concurrent clients")
	f.IntP("ops", "n", def.OperationsPerClient, "operations per client")
	f.Duration("delay", def.OperationDelay, "pause between operations of one client")
	f.Duration("duration", def.TestDuration, "advisory test duration")
	f.Bool("persistent", def.Persistent, "use persistent connections")
	f.Bool("trading", def.IncludeTrades, "include order operations")
	f.Bool("stress", false, "run the phased stress profile")
	f.String("ssid", "", "session id (or STRESSQ_SSID)")
	f.Bool("demo", def.Demo, "use the demo account")
	f.String("label", "", "label stored with the run in history")
	for _, name := range []string{"clients", "ops", "delay", "duration", "persistent", "trading", "stress", "ssid", "demo", "label"} {
		viper.BindPFlag(name, f.Lookup(name))
	}
}

func loadConfig() (runner.Config, error) {
	var cfg runner.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return cfg, cfg.Validate()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newFactory(target string) (client.Factory, error) {
	switch {
	case target == "" || target == "sim":
		return sim.NewFactory(sim.DefaultProfile()), nil
	case strings.HasPrefix(target, "ws://"), strings.HasPrefix(target, "wss://"):
		return ws.NewFactory(target, log.Logger), nil
	}
	return nil, fmt.Errorf("%w: unknown target %q", runner.ErrInvalidConfig, target)
}

// session holds what a run or batch shares: client factory, metrics,
// output directory and history.
type session struct {
	factory client.Factory
	metrics *metrics.LoadMetrics
	outDir  string
	history *storage.Store
}

func newSession(ctx context.Context) (*session, error) {
	flags := func(name string) string { return viper.GetString(name) }
	s := &session{outDir: flags("out")}

	var err error
	if s.factory, err = newFactory(flags("target")); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	reg := prometheus.NewRegistry()
	s.metrics = metrics.New(reg)
	if addr := flags("metrics-addr"); addr != "" {
		go func() {
			if err := metrics.Serve(ctx, addr, reg, log.Logger); err != nil {
				log.Error().Err(err).Msg("metrics endpoint stopped")
			}
		}()
	}

	if !viper.GetBool("no-history") {
		path, err := storage.DefaultPath()
		if err == nil {
			s.history, err = storage.Open(path)
		}
		if err != nil {
			log.Warn().Err(err).Msg("run history disabled")
		}
	}
	return s, nil
}

func (s *session) Close() {
	if s.history != nil {
		s.history.Close()
	}
}

func (s *session) run(ctx context.Context, cfg runner.Config) (*report.Report, error) {
	r := runner.NewRunner(cfg, s.factory, make(runner.StatsUpdateChan, 100))
	r.Stats = stats.NewAggregator(s.metrics)
	r.Log = log.Logger
	r.Reporter = report.Generator{Dir: s.outDir, Log: log.Logger}
	return cli.Start(ctx, r, os.Stdout)
}

func (s *session) remember(label string, rep *report.Report) {
	if s.history == nil {
		return
	}
	run, err := s.history.Save(storage.Run{Label: label, Report: *rep})
	if err != nil {
		log.Warn().Err(err).Msg("could not store run")
		return
	}
	fmt.Printf("🗂️  Stored as %s\n", run.ID)
}
