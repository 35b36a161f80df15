package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/engine"
)

var remindersCmd = &cobra.Command{
	Use:   "reminders",
	Short: "Send reminders for upcoming releases",
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, e, closeEngine, err := openEngine(engine.WithoutSchedule())
		if err != nil {
			return err
		}
		defer closeEngine()

		result, err := e.SendReminders(cmd.Context())
		if result != nil {
			fmt.Printf("Due: %d, sent: %d, failed: %d\n", result.Due, result.Sent, result.Failed)
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(remindersCmd)
}
