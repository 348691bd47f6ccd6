package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/storage/postgres"
	"github.com/kestrelchat/kestrel/internal/whitelist"
)

func whitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "Manage sharing whitelist membership",
	}
	cmd.AddCommand(whitelistAddCmd(), whitelistRemoveCmd(), whitelistListCmd(), whitelistNormalizeCmd())
	return cmd
}

func newWhitelistEngine() *whitelist.Engine {
	return whitelist.NewEngine(postgres.NewWhitelistRepo(), postgres.NewProfileRepo())
}

func whitelistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add [service-id]",
		Short: "Whitelist an address for profile key sharing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ident.ParseServiceID(args[0])
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			engine := newWhitelistEngine()
			return db.InWriteTx(cmd.Context(), func(tx storage.WriteTx) error {
				return engine.AddAddress(cmd.Context(), tx, ident.NewAddress(id), profile.WriterLocalUser)
			})
		},
	}
}

func whitelistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [service-id]",
		Short: "Remove an address from the whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := ident.ParseServiceID(args[0])
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			engine := newWhitelistEngine()
			return db.InWriteTx(cmd.Context(), func(tx storage.WriteTx) error {
				return engine.RemoveAddress(cmd.Context(), tx, ident.NewAddress(id), profile.WriterLocalUser)
			})
		},
	}
}

func whitelistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List whitelisted addresses",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			repo := postgres.NewWhitelistRepo()
			return db.InReadTx(cmd.Context(), func(tx storage.ReadTx) error {
				ids, err := repo.Addresses(cmd.Context(), tx)
				if err != nil {
					return err
				}
				for _, id := range ids {
					fmt.Println(id)
				}
				return nil
			})
		},
	}
}

func whitelistNormalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "normalize [stale-id] [canonical-id]",
		Short: "Migrate whitelist membership after a recipient merge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			stale, err := ident.ParseServiceID(args[0])
			if err != nil {
				return err
			}
			canonical, err := ident.ParseServiceID(args[1])
			if err != nil {
				return err
			}
			db, err := openDB(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			engine := newWhitelistEngine()
			return db.InWriteTx(cmd.Context(), func(tx storage.WriteTx) error {
				return engine.NormalizeRecipient(cmd.Context(), tx,
					ident.NewAddress(stale), ident.NewAddress(canonical), profile.WriterStorageService)
			})
		},
	}
}
