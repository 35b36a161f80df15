package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/wirelessalien/moviesync/internal/engine"
	"github.com/wirelessalien/moviesync/internal/fetcher"
	"github.com/wirelessalien/moviesync/internal/media"
)

var fetchCmdFlags struct {
	Force bool
	Kinds []string
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch missing TMDB details",
	Long:  `Fetch the TMDB details of every movie and show of the library and the trakt mirror that are not cached yet.`,
	Example: `moviesync fetch
moviesync fetch --force --kind movie`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		opts := fetcher.Options{Force: fetchCmdFlags.Force}
		for _, k := range fetchCmdFlags.Kinds {
			kind := media.ParseKind(k)
			if kind != media.KindMovie && kind != media.KindShow {
				return fmt.Errorf("unsupported kind %q", k)
			}
			opts.Kinds = append(opts.Kinds, kind)
		}

		_, e, closeEngine, err := openEngine(engine.WithoutSchedule())
		if err != nil {
			return err
		}
		defer closeEngine()

		result, err := e.FetchMissing(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("fetch failed: %w", err)
		}
		fmt.Printf("Requested: %d, fetched: %d, skipped: %d, failed: %d\n",
			result.Requested, result.Fetched, result.Skipped, len(result.Failed))
		for _, id := range result.Failed {
			fmt.Printf("  failed: %s\n", id)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchCmdFlags.Force, "force", false, "Refetch details that are already cached")
	fetchCmd.Flags().StringSliceVar(&fetchCmdFlags.Kinds, "kind", nil, "Only fetch these kinds (movie, show)")
	rootCmd.AddCommand(fetchCmd)
}
