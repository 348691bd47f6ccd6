package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/rotation"
	"github.com/kestrelchat/kestrel/internal/storage/postgres"
	"github.com/kestrelchat/kestrel/internal/transport"
	"github.com/kestrelchat/kestrel/internal/whitelist"
)

func rotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rotate",
		Short: "Force a profile key rotation and re-upload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.ServiceURL == "" {
				return errors.New("KESTREL_SERVICE_URL is required")
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewProfileRepo()
			wl := whitelist.NewEngine(postgres.NewWhitelistRepo(), repo)
			sender := transport.NewHTTPSender(cfg.ServiceURL, transport.Credentials{
				Username: cfg.Username,
				Password: cfg.Password,
			})
			engine := rotation.NewEngine(db, profile.NewStore(repo), wl, sender, nil)

			if err := engine.ForceRotate(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Profile key rotated and re-uploaded")
			return nil
		},
	}
}
