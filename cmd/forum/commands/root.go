package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"github.com/emilythestrangee/forum/backend/internal/config"
	"github.com/emilythestrangee/forum/backend/internal/database"
	"github.com/emilythestrangee/forum/backend/internal/logging"
)

var (
	// Global flags
	logLevel string

	cfg config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "forum",
	Short: "Forum backend - JSON API for categories, threads and posts",
	Long: `forum runs the discussion forum API and its maintenance tasks.

Configuration is read from the environment; a .env file in the working
directory is loaded first when present.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if logLevel != "" {
			cfg.LogLevel = logLevel
		}
		logging.Init(cfg.LogLevel, cfg.LogFile)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override LOG_LEVEL (debug, info, warn, error)")
}

// openDB connects and migrates for the maintenance commands.
func openDB() (database.Service, *gorm.DB, error) {
	svc, err := database.New(cfg)
	if err != nil {
		return nil, nil, err
	}
	db := svc.GetDB()
	if err := database.Migrate(db); err != nil {
		svc.Close()
		return nil, nil, err
	}
	return svc, db, nil
}
