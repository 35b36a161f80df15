package cmd

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/engine"
	"github.com/wirelessalien/moviesync/internal/trakt"
)

var authCmdFlags struct {
	Logout bool
}

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Link a trakt account",
	Long:  `Link a trakt account with the device flow. The token is stored in the library database and refreshed automatically.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		_, e, closeEngine, err := openEngine(engine.WithoutSchedule())
		if err != nil {
			return err
		}
		defer closeEngine()

		if authCmdFlags.Logout {
			if err := e.Session().ClearToken(cmd.Context()); err != nil {
				return fmt.Errorf("failed to remove trakt token: %w", err)
			}
			log.Info("Trakt account unlinked")
			return nil
		}

		if e.Authenticated(cmd.Context()) {
			log.Info("A trakt account is already linked, linking again replaces it")
		}

		err = e.Authenticate(cmd.Context(), func(code *trakt.DeviceCode) {
			fmt.Printf("Open %s and enter the code %s\n", code.VerificationURL, code.UserCode)
			fmt.Printf("The code expires in %s\n", time.Duration(code.ExpiresIn)*time.Second)
		})
		if err != nil {
			return fmt.Errorf("trakt authentication failed: %w", err)
		}
		log.Info("Trakt account linked successfully")
		return nil
	},
}

func init() {
	authCmd.Flags().BoolVar(&authCmdFlags.Logout, "logout", false, "Remove the stored trakt token")
	rootCmd.AddCommand(authCmd)
}
