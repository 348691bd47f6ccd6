package postgres

import (
	"context"
	"fmt"

	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
	"github.com/kestrelchat/kestrel/internal/whitelist"
)

// WhitelistRepo implements whitelist.Repository.
type WhitelistRepo struct{}

var _ whitelist.Repository = WhitelistRepo{}

// NewWhitelistRepo constructs a whitelist repository.
func NewWhitelistRepo() WhitelistRepo { return WhitelistRepo{} }

func (WhitelistRepo) ContainsAddress(ctx context.Context, tx storage.ReadTx, id ident.ServiceID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM whitelist_addresses WHERE service_id=$1)`
	var ok bool
	if err := tx.QueryRow(ctx, q, id.String()).Scan(&ok); err != nil {
		return false, fmt.Errorf("contains address: %w", err)
	}
	return ok, nil
}

func (WhitelistRepo) ContainsGroup(ctx context.Context, tx storage.ReadTx, g ident.GroupID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM whitelist_groups WHERE group_id=$1)`
	var ok bool
	if err := tx.QueryRow(ctx, q, g[:]).Scan(&ok); err != nil {
		return false, fmt.Errorf("contains group: %w", err)
	}
	return ok, nil
}

func (WhitelistRepo) InsertAddress(ctx context.Context, tx storage.WriteTx, id ident.ServiceID, writer profile.Writer) (bool, error) {
	const q = `INSERT INTO whitelist_addresses (service_id, added_by) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	tag, err := tx.Exec(ctx, q, id.String(), int(writer))
	if err != nil {
		return false, fmt.Errorf("insert address: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (WhitelistRepo) DeleteAddress(ctx context.Context, tx storage.WriteTx, id ident.ServiceID) (bool, error) {
	const q = `DELETE FROM whitelist_addresses WHERE service_id=$1`
	tag, err := tx.Exec(ctx, q, id.String())
	if err != nil {
		return false, fmt.Errorf("delete address: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (WhitelistRepo) InsertGroup(ctx context.Context, tx storage.WriteTx, g ident.GroupID, writer profile.Writer) (bool, error) {
	const q = `INSERT INTO whitelist_groups (group_id, added_by) VALUES ($1,$2) ON CONFLICT DO NOTHING`
	tag, err := tx.Exec(ctx, q, g[:], int(writer))
	if err != nil {
		return false, fmt.Errorf("insert group: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (WhitelistRepo) DeleteGroup(ctx context.Context, tx storage.WriteTx, g ident.GroupID) (bool, error) {
	const q = `DELETE FROM whitelist_groups WHERE group_id=$1`
	tag, err := tx.Exec(ctx, q, g[:])
	if err != nil {
		return false, fmt.Errorf("delete group: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (WhitelistRepo) Addresses(ctx context.Context, tx storage.ReadTx) ([]ident.ServiceID, error) {
	const q = `SELECT service_id FROM whitelist_addresses ORDER BY added_at`
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list addresses: %w", err)
	}
	defer rows.Close()

	var out []ident.ServiceID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("list addresses: %w", err)
		}
		id, err := ident.ParseServiceID(s)
		if err != nil {
			return nil, fmt.Errorf("list addresses: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
