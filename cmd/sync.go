package cmd

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/engine"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirror the trakt account once",
	Long:  `Fetch collection, watched, history, ratings, watchlist and favorites of movies and shows from trakt and store them locally.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, e, closeEngine, err := openEngine(engine.WithoutSchedule())
		if err != nil {
			return err
		}
		defer closeEngine()

		report, err := e.SyncTrakt(cmd.Context())
		if report != nil {
			for _, r := range report.Results {
				status := "ok"
				if r.Err != nil {
					status = r.Err.Error()
				}
				fmt.Printf("%-10s %-7s %6d  %s\n", r.Category, r.Scope, r.Items, status)
			}
		}
		if err != nil {
			return fmt.Errorf("trakt sync failed: %w", err)
		}
		log.Info("Trakt sync completed")
		return nil
	},
}

var autoSyncCmd = &cobra.Command{
	Use:   "autosync",
	Short: "Push locally watched items to the trakt history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, e, closeEngine, err := openEngine(engine.WithoutSchedule())
		if err != nil {
			return err
		}
		defer closeEngine()

		result, err := e.AutoSync(cmd.Context())
		if err != nil {
			return fmt.Errorf("trakt auto sync failed: %w", err)
		}
		fmt.Printf("Pushed %d movies and %d episodes, %d marked synced\n", result.Movies, result.Episodes, result.Marked)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(autoSyncCmd)
}
