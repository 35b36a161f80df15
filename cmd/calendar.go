package cmd

import (
	"fmt"
	"time"

	"github.com/mergestat/timediff"
	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/calendar"
	"github.com/wirelessalien/moviesync/internal/engine"
	"github.com/wirelessalien/moviesync/internal/media"
)

var calendarCmdFlags struct {
	Scope     string
	NoRefresh bool
}

var calendarCmd = &cobra.Command{
	Use:   "calendar",
	Short: "Refresh and show upcoming releases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		switch calendarCmdFlags.Scope {
		case calendar.ScopeMy, calendar.ScopeGlobal, "":
		default:
			return fmt.Errorf("unknown scope %q", calendarCmdFlags.Scope)
		}

		_, e, closeEngine, err := openEngine(engine.WithoutSchedule())
		if err != nil {
			return err
		}
		defer closeEngine()

		if !calendarCmdFlags.NoRefresh {
			report, err := e.RefreshCalendar(cmd.Context())
			if report != nil {
				for _, r := range report.Results {
					if r.Err != nil {
						fmt.Printf("refresh of %s %s failed: %v\n", r.Scope, r.Kind, r.Err)
					}
				}
			}
			if err != nil && report == nil {
				return fmt.Errorf("calendar refresh failed: %w", err)
			}
		}

		entries, err := e.Calendar(cmd.Context(), calendarCmdFlags.Scope)
		if err != nil {
			return fmt.Errorf("failed to read calendar: %w", err)
		}
		now := time.Now()
		for _, entry := range entries {
			title := entry.Title
			if entry.Type == media.KindEpisode {
				title = fmt.Sprintf("%s S%02dE%02d", entry.Title, entry.Season, entry.Number)
			}
			fmt.Printf("%s  %-6s  %-50s  %s\n",
				entry.AirsAt.Local().Format("Mon 02 Jan 15:04"), entry.Scope, title,
				timediff.TimeDiff(entry.AirsAt, timediff.WithStartTime(now)))
		}
		return nil
	},
}

func init() {
	calendarCmd.Flags().StringVar(&calendarCmdFlags.Scope, "scope", calendar.ScopeMy, "Calendar scope (my, global, or empty for both)")
	calendarCmd.Flags().BoolVar(&calendarCmdFlags.NoRefresh, "no-refresh", false, "Only show the stored calendar")
	rootCmd.AddCommand(calendarCmd)
}
