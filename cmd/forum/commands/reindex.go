package commands

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/forum/backend/internal/search"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every thread, post, user, category and tag to the search service",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !cfg.SearchEnabled() {
			return errors.New("ALGOLIA_APP_ID and ALGOLIA_API_KEY must be set")
		}
		svc, db, err := openDB()
		if err != nil {
			return err
		}
		defer svc.Close()

		backend := search.NewAlgolia(cfg.AlgoliaAppID, cfg.AlgoliaAPIKey, cfg.AlgoliaIndexPrefix)
		counts, err := search.NewIndexer(backend, db).Reindex(cmd.Context())
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tRECORDS")
		for _, index := range search.Indices {
			fmt.Fprintf(w, "%s\t%d\n", cfg.AlgoliaIndexPrefix+index, counts[index])
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}
