package admin

import (
	"fmt"

	"github.com/cloo-solutions/chimera/internal/database"
	"github.com/spf13/cobra"
)

// MigrateCmd returns the migrate command
func MigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Long:  "Apply the embedded migrations for the sync run log and the pgvector chunk table.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, cleanup, err := setup()
			if err != nil {
				return err
			}
			defer cleanup()

			if !cfg.HasDatabase() {
				return fmt.Errorf("CHIMERA_DATABASE_URL is required")
			}
			return database.Migrate(cfg.DatabaseURL, logger)
		},
	}
}
