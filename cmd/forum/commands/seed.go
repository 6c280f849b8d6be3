package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/forum/backend/internal/seed"
)

var seedFile string

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load categories and tags from a YAML file",
	Long: `Load categories and tags from a YAML file. Rows are matched by slug, so
the command can be re-run after editing the file.

Examples:
  forum seed --file categories.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(seedFile)
		if err != nil {
			return err
		}
		defer f.Close()

		data, err := seed.Parse(f)
		if err != nil {
			return err
		}

		svc, db, err := openDB()
		if err != nil {
			return err
		}
		defer svc.Close()

		res, err := seed.Apply(cmd.Context(), db, data)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "categories: %d created, %d updated; tags: %d created\n",
			res.CategoriesCreated, res.CategoriesUpdated, res.TagsCreated)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
	seedCmd.Flags().StringVarP(&seedFile, "file", "f", "categories.yaml", "Seed file")
}
