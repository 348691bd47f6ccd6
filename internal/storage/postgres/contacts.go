package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelchat/kestrel/internal/contact"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// ContactRepo implements contact.Repository.
type ContactRepo struct{}

var _ contact.Repository = ContactRepo{}

// NewContactRepo constructs a contact repository.
func NewContactRepo() ContactRepo { return ContactRepo{} }

func (ContactRepo) Get(ctx context.Context, tx storage.ReadTx, id ident.ServiceID) (contact.Contact, error) {
	const q = `SELECT service_id, e164, given_name, family_name, nickname, username FROM contacts WHERE service_id=$1`
	c, err := scanContact(tx.QueryRow(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return contact.Contact{}, storage.ErrNotFound
		}
		return contact.Contact{}, fmt.Errorf("get contact: %w", err)
	}
	return c, nil
}

func (ContactRepo) Upsert(ctx context.Context, tx storage.WriteTx, c contact.Contact) error {
	const q = `
INSERT INTO contacts (service_id, e164, given_name, family_name, nickname, username)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (service_id) DO UPDATE SET
    e164=EXCLUDED.e164,
    given_name=EXCLUDED.given_name,
    family_name=EXCLUDED.family_name,
    nickname=EXCLUDED.nickname,
    username=EXCLUDED.username`
	_, err := tx.Exec(ctx, q, c.ServiceID.String(), c.E164, c.GivenName, c.FamilyName, c.Nickname, c.Username)
	if err != nil {
		return fmt.Errorf("upsert contact: %w", err)
	}
	return nil
}

func (ContactRepo) Delete(ctx context.Context, tx storage.WriteTx, id ident.ServiceID) error {
	const q = `DELETE FROM contacts WHERE service_id=$1`
	if _, err := tx.Exec(ctx, q, id.String()); err != nil {
		return fmt.Errorf("delete contact: %w", err)
	}
	return nil
}

func (ContactRepo) All(ctx context.Context, tx storage.ReadTx) ([]contact.Contact, error) {
	const q = `SELECT service_id, e164, given_name, family_name, nickname, username FROM contacts ORDER BY given_name, family_name`
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list contacts: %w", err)
	}
	defer rows.Close()

	var out []contact.Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("list contacts: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanContact(row pgx.Row) (contact.Contact, error) {
	var (
		c     contact.Contact
		rawID string
	)
	err := row.Scan(&rawID, &c.E164, &c.GivenName, &c.FamilyName, &c.Nickname, &c.Username)
	if err != nil {
		return contact.Contact{}, err
	}
	if c.ServiceID, err = ident.ParseServiceID(rawID); err != nil {
		return contact.Contact{}, err
	}
	return c, nil
}
