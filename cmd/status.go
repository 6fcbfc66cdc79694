package cmd

import (
	"errors"
	"fmt"

	"github.com/brogergvhs/noveld/internal/config"
	"github.com/brogergvhs/noveld/internal/output"
	"github.com/brogergvhs/noveld/internal/state"
	"github.com/brogergvhs/noveld/internal/ui"

	"github.com/spf13/cobra"
)

var (
	flagStatusClear bool
	flagStatusIDs   bool
)

var statusCmd = &cobra.Command{
	Use:   "status <book_id>",
	Short: "Show or clear the saved download progress of a book",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		bookID := args[0]

		cfg, _, err := config.LoadMerged(config.Options{
			IgnoreConfig: flagIgnoreConfig,
			Debug:        flagDebug,
			Output:       flagOutput,
		})
		if err != nil {
			return err
		}

		logSvc := ui.NewLogger(cfg.Debug)
		store := state.Open(state.PathFor(cfg.Output, cfg.StatusFile), bookID, logSvc)
		cache := output.NewCache(cfg.Output, bookID)

		if flagStatusClear {
			err := errors.Join(store.Clear(), cache.Clear())
			if err != nil {
				return fmt.Errorf("clear progress of %s: %w", bookID, err)
			}
			fmt.Printf("Cleared progress of %s\n", bookID)
			return nil
		}

		fmt.Printf("Status file: %s\n", store.Path())
		fmt.Printf("Book:        %s\n", bookID)
		fmt.Printf("Completed:   %d chapters\n", store.Len())
		fmt.Printf("Cache:       %s\n", cache.Dir())

		if flagStatusIDs {
			for _, id := range store.Completed() {
				fmt.Println("  ", id)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&flagOutput, "output", "", "output folder holding the status file")
	statusCmd.Flags().BoolVar(&flagStatusClear, "clear", false, "forget the progress of this book")
	statusCmd.Flags().BoolVar(&flagStatusIDs, "ids", false, "list completed chapter ids")
	rootCmd.AddCommand(statusCmd)
}
