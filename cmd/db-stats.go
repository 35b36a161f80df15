package cmd

import (
	"fmt"
	"slices"

	"github.com/ccoveille/go-safecast"
	"github.com/dustin/go-humanize"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/config"
	"github.com/wirelessalien/moviesync/internal/database"
)

var dbStatsCmd = &cobra.Command{
	Use:   "db-stats",
	Short: "Show database statistics",
	Long:  `Display row counts, file sizes and the most recent sync runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(rootCmdPersistentFlags.ConfigFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		db, err := database.New(cfg.Database.Dir)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		defer db.Close() //nolint: errcheck

		stats, err := db.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to get database stats: %w", err)
		}

		fmt.Println("Database Statistics:")
		tables := lo.Keys(stats.Tables)
		slices.Sort(tables)
		for _, name := range tables {
			fmt.Printf("  %-18s %s rows\n", name, humanize.Comma(stats.Tables[name]))
		}

		fmt.Println("\nFiles:")
		files := lo.Keys(stats.Files)
		slices.Sort(files)
		for _, name := range files {
			size, err := safecast.Convert[uint64](stats.Files[name])
			if err != nil {
				continue
			}
			fmt.Printf("  %-18s %s\n", name, humanize.Bytes(size))
		}

		// Get recent sync runs
		runs, err := db.GetSyncRuns(cmd.Context(), 10)
		if err == nil && len(runs) > 0 {
			fmt.Println("\nRecent Sync Runs:")
			for _, run := range runs {
				status := "ok"
				if !run.Succeeded() {
					status = "failed: " + run.Error
				}
				fmt.Printf("  %s  %-10s %-12s %-7s items: %d, %s\n",
					run.StartedAt.Local().Format("2006-01-02 15:04:05"), run.Kind, run.Category, humanize.Time(run.StartedAt), run.Items, status)
			}
		}

		return nil
	},
}

func init() {
	rootCmd.AddCommand(dbStatsCmd)
}
