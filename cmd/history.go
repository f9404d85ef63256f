package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"stressq/internal/cli"
	"stressq/internal/report"
	"stressq/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.List()
		if err != nil {
			return err
		}
		cli.PrintHistory(os.Stdout, runs)
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <run-id> <run-id>...",
	Short: "Compare stored runs",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		entries := make([]report.Entry, 0, len(args))
		for _, id := range args {
			run, err := store.Get(id)
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("run %s: %w", id, err)
			}
			if err != nil {
				return err
			}
			entries = append(entries, run.Entry())
		}
		cli.PrintComparison(os.Stdout, report.Compare(entries))
		return nil
	},
}

func openHistory() (*storage.Store, error) {
	path, err := storage.DefaultPath()
	if err != nil {
		return nil, err
	}
	return storage.Open(path)
}
