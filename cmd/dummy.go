package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"stressq/internal/dummy"
)

// --- Dummy Subcommand ---
var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run a local websocket server that speaks the client protocol",
	RunE: func(cmd *cobra.Command, args []string) error {
		port, _ := cmd.Flags().GetInt("port")
		balance, _ := cmd.Flags().GetFloat64("balance")

		fmt.Printf("🧪 Dummy server on :%d (profiles: %s)\n", port, strings.Join(dummy.Profiles(), ", "))
		fmt.Printf("   e.g. stressq run --target ws://localhost:%d/ws/fast\n", port)

		ctx, stop := signalContext()
		defer stop()
		return dummy.Run(ctx, dummy.ServerConfig{Port: port, Balance: balance})
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	dummyCmd.Flags().Float64("balance", 10000, "Balance reported to clients")
}
