package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"stressq/internal/banner"
	"stressq/internal/logging"
)

var (
	cfgFile  string
	logLevel string
	logFile  string
	envFile  string
)

var rootCmd = &cobra.Command{
	Use:   "stressq",
	Short: "stressq - load and stress tester for trading-style services",
	Long: `
stressq drives many simulated clients against a trading-style service,
measures every operation and reports throughput, latency and reliability.

Commands:
1. run     One load test (standard or --stress)
2. demo    The three-configuration batch plus a comparison
3. history Runs stored in the local history
4. compare Compare stored runs
5. dummy   Local websocket stand-in for the service`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_, err := logging.Setup(logging.Options{Level: logLevel, File: logFile})
		return err
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Teardown()
	},
}

func Execute() {
	// Custom Help with Banner
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.stressq.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this file")

	pf := rootCmd.PersistentFlags()
	pf.String("target", "sim", `"sim" or a websocket URL such as ws://localhost:8080/ws/fast`)
	pf.StringP("out", "o", ".", "directory for report and trade files")
	pf.String("metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
	pf.Bool("no-history", false, "do not store runs in the local history")
	for _, name := range []string{"target", "out", "metrics-addr", "no-history"} {
		viper.BindPFlag(name, pf.Lookup(name))
	}

	rootCmd.AddCommand(runCmd, demoCmd, historyCmd, compareCmd, dummyCmd)
}

func initConfig() {
	// A missing dotenv file is normal.
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("file", envFile).Msg("could not load env file")
	}

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home)
			viper.SetConfigType("yaml")
			viper.SetConfigName(".stressq")
		}
	}
	viper.SetEnvPrefix("stressq")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.ReadInConfig()
}
