package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/emilythestrangee/forum/backend/internal/models"
)

var promoteCmd = &cobra.Command{
	Use:   "promote <username> <role>",
	Short: "Set a user's role (user, moderator or admin)",
	Long: `Set a user's role. This is how the first admin is created.

Examples:
  forum promote alice admin
  forum promote bob user`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		role := models.Role(args[1])
		if !role.Valid() {
			return fmt.Errorf("unknown role %q", args[1])
		}

		svc, db, err := openDB()
		if err != nil {
			return err
		}
		defer svc.Close()

		result := db.Model(&models.User{}).Where("username = ?", args[0]).Update("role", role)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("user %q not found", args[0])
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], role)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(promoteCmd)
}
