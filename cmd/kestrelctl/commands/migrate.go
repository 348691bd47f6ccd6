package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelchat/kestrel/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.DBURL == "" {
				return errors.New("KESTREL_DB_URL is required")
			}
			if err := storage.Migrate(cmd.Context(), cfg.DBURL); err != nil {
				return err
			}
			fmt.Println("Migrations applied")
			return nil
		},
	}
}
