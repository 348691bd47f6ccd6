// Package commands implements the kestrelctl CLI: migrations, whitelist
// management, profile inspection, manual key rotation, and request
// descriptor dumps for debugging against the backend.
package commands

import (
	"context"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kestrelchat/kestrel/internal/config"
	"github.com/kestrelchat/kestrel/internal/storage"
)

var cfg config.Config

func Execute() error {
	root := &cobra.Command{
		Use:           "kestrelctl",
		Short:         "Backend client maintenance tool",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadFromEnv(); err != nil {
				return err
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return errors.New("unknown log level: " + cfg.LogLevel)
			}
			logrus.SetLevel(level)
			return nil
		},
	}

	root.AddCommand(migrateCmd(), whitelistCmd(), profileCmd(), rotateCmd(), requestCmd())
	return root.Execute()
}

// openDB connects to the configured database. Commands that touch
// persistent state call this; descriptor dumps do not.
func openDB(ctx context.Context) (*storage.DB, error) {
	if cfg.DBURL == "" {
		return nil, errors.New("KESTREL_DB_URL is required")
	}
	return storage.New(ctx, cfg.DBURL)
}
