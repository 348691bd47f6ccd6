package commands

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/storage/postgres"
)

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Inspect stored profiles",
	}
	cmd.AddCommand(profileShowCmd())
	cmd.AddCommand(profileExportKeyCmd())
	cmd.AddCommand(profileImportKeyCmd())
	return cmd
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [service-id]",
		Short: "Show a stored profile; omit the id for the local profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewProfileRepo()
			return db.InReadTx(cmd.Context(), func(tx storage.ReadTx) error {
				var p profile.Profile
				if len(args) == 0 {
					p, err = repo.Local(cmd.Context(), tx)
				} else {
					var id ident.ServiceID
					if id, err = ident.ParseServiceID(args[0]); err != nil {
						return err
					}
					p, err = repo.Get(cmd.Context(), tx, id)
				}
				if err != nil {
					return err
				}
				printProfile(p)
				return nil
			})
		},
	}
}

func profileExportKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export-key",
		Short: "Print the local profile key wrapped under KESTREL_MASTER_KEY",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.MasterKey) == 0 {
				return errors.New("KESTREL_MASTER_KEY is required")
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewProfileRepo()
			return db.InReadTx(cmd.Context(), func(tx storage.ReadTx) error {
				p, err := repo.Local(cmd.Context(), tx)
				if err != nil {
					return err
				}
				if p.Key == nil {
					return errors.New("local profile has no key")
				}
				wrapped, err := crypto.WrapKey(cfg.MasterKey, *p.Key)
				if err != nil {
					return err
				}
				fmt.Println(base64.StdEncoding.EncodeToString(wrapped))
				return nil
			})
		},
	}
}

func profileImportKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-key <wrapped-key>",
		Short: "Install a wrapped profile key as the local profile key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(cfg.MasterKey) == 0 {
				return errors.New("KESTREL_MASTER_KEY is required")
			}
			wrapped, err := base64.StdEncoding.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode wrapped key: %w", err)
			}
			key, err := crypto.UnwrapKey(cfg.MasterKey, wrapped)
			if err != nil {
				return err
			}

			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewProfileRepo()
			err = db.InWriteTx(cmd.Context(), func(tx storage.WriteTx) error {
				return repo.SetLocalProfileKey(cmd.Context(), tx, key, profile.WriterDebugging)
			})
			if err != nil {
				return err
			}
			fmt.Println("Local profile key installed")
			return nil
		},
	}
}

func printProfile(p profile.Profile) {
	fmt.Printf("service id:  %s\n", p.Address.ServiceID)
	if p.Address.E164 != "" {
		fmt.Printf("e164:        %s\n", p.Address.E164)
	}
	fmt.Printf("local:       %v\n", p.IsLocal)
	fmt.Printf("registered:  %v\n", p.Registered)
	if p.Key != nil {
		given, errG := crypto.DecryptName(*p.Key, p.GivenNameEnc)
		family, errF := crypto.DecryptName(*p.Key, p.FamilyNameEnc)
		if errG == nil && errF == nil {
			fmt.Printf("name:        %s %s\n", given, family)
		}
		fmt.Printf("profile key: %s\n", p.Key.Base64())
	} else {
		fmt.Println("profile key: (unknown)")
	}
	if p.AvatarURLPath != "" {
		fmt.Printf("avatar:      %s\n", p.AvatarURLPath)
	}
	if len(p.Badges) > 0 {
		fmt.Printf("badges:      %v\n", p.Badges)
	}
	if !p.LastFetchAt.IsZero() {
		fmt.Printf("fetched at:  %s\n", p.LastFetchAt.Format("2006-01-02 15:04:05 MST"))
	}
}
