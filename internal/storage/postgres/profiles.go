// Package postgres implements the backend's persistence interfaces on
// PostgreSQL. Repositories are stateless over the transaction handles
// they are given; they never open connections of their own.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kestrelchat/kestrel/internal/crypto"
	"github.com/kestrelchat/kestrel/internal/ident"
	"github.com/kestrelchat/kestrel/internal/profile"
	"github.com/kestrelchat/kestrel/internal/storage"
)

// ProfileRepo implements profile.Repository.
type ProfileRepo struct{}

var _ profile.Repository = ProfileRepo{}

// NewProfileRepo constructs a profile repository.
func NewProfileRepo() ProfileRepo { return ProfileRepo{} }

const profileColumns = `service_id, is_local, e164, given_name_enc, family_name_enc,
avatar_url_path, avatar_data, badges, profile_key, registered, last_fetch_at`

func (ProfileRepo) Get(ctx context.Context, tx storage.ReadTx, id ident.ServiceID) (profile.Profile, error) {
	const q = `SELECT ` + profileColumns + ` FROM profiles WHERE service_id=$1`
	p, err := scanProfile(tx.QueryRow(ctx, q, id.String()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, storage.ErrNotFound
		}
		return profile.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	return p, nil
}

func (ProfileRepo) Local(ctx context.Context, tx storage.ReadTx) (profile.Profile, error) {
	const q = `SELECT ` + profileColumns + ` FROM profiles WHERE is_local`
	p, err := scanProfile(tx.QueryRow(ctx, q))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return profile.Profile{}, storage.ErrNotFound
		}
		return profile.Profile{}, fmt.Errorf("get local profile: %w", err)
	}
	return p, nil
}

func (ProfileRepo) Upsert(ctx context.Context, tx storage.WriteTx, p profile.Profile, writer profile.Writer) error {
	const q = `
INSERT INTO profiles (service_id, is_local, e164, given_name_enc, family_name_enc,
    avatar_url_path, avatar_data, badges, profile_key, registered, last_fetch_at, updated_by, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,now())
ON CONFLICT (service_id) DO UPDATE SET
    is_local=EXCLUDED.is_local,
    e164=EXCLUDED.e164,
    given_name_enc=EXCLUDED.given_name_enc,
    family_name_enc=EXCLUDED.family_name_enc,
    avatar_url_path=EXCLUDED.avatar_url_path,
    avatar_data=EXCLUDED.avatar_data,
    badges=EXCLUDED.badges,
    profile_key=EXCLUDED.profile_key,
    registered=EXCLUDED.registered,
    last_fetch_at=EXCLUDED.last_fetch_at,
    updated_by=EXCLUDED.updated_by,
    updated_at=now()`

	var key []byte
	if p.Key != nil {
		key = p.Key.Bytes()
	}
	var lastFetch *time.Time
	if !p.LastFetchAt.IsZero() {
		lastFetch = &p.LastFetchAt
	}
	badges := p.Badges
	if badges == nil {
		badges = []string{}
	}

	_, err := tx.Exec(ctx, q,
		p.Address.ServiceID.String(), p.IsLocal, p.Address.E164,
		p.GivenNameEnc, p.FamilyNameEnc, p.AvatarURLPath, p.AvatarData,
		badges, key, p.Registered, lastFetch, int(writer))
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (ProfileRepo) SetProfileKey(ctx context.Context, tx storage.WriteTx, id ident.ServiceID, key crypto.ProfileKey, fetchedAt time.Time, writer profile.Writer) error {
	// Last writer wins by fetch recency, not call order: a key fetched
	// earlier than the stored one never overwrites it.
	const q = `
INSERT INTO profiles (service_id, profile_key, last_fetch_at, updated_by)
VALUES ($1,$2,$3,$4)
ON CONFLICT (service_id) DO UPDATE SET
    profile_key=EXCLUDED.profile_key,
    last_fetch_at=EXCLUDED.last_fetch_at,
    updated_by=EXCLUDED.updated_by,
    updated_at=now()
WHERE profiles.last_fetch_at IS NULL OR profiles.last_fetch_at <= EXCLUDED.last_fetch_at`

	if _, err := tx.Exec(ctx, q, id.String(), key.Bytes(), fetchedAt, int(writer)); err != nil {
		return fmt.Errorf("set profile key: %w", err)
	}
	return nil
}

func (ProfileRepo) SetLocalProfileKey(ctx context.Context, tx storage.WriteTx, key crypto.ProfileKey, writer profile.Writer) error {
	const q = `UPDATE profiles SET profile_key=$1, updated_by=$2, updated_at=now() WHERE is_local`
	tag, err := tx.Exec(ctx, q, key.Bytes(), int(writer))
	if err != nil {
		return fmt.Errorf("set local profile key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (ProfileRepo) Registered(ctx context.Context, tx storage.ReadTx, ids []ident.ServiceID) ([]ident.ServiceID, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = id.String()
	}
	const q = `SELECT service_id FROM profiles WHERE registered AND service_id = ANY($1)`
	rows, err := tx.Query(ctx, q, raw)
	if err != nil {
		return nil, fmt.Errorf("filter registered: %w", err)
	}
	defer rows.Close()

	var out []ident.ServiceID
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("filter registered: %w", err)
		}
		id, err := ident.ParseServiceID(s)
		if err != nil {
			return nil, fmt.Errorf("filter registered: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (ProfileRepo) All(ctx context.Context, tx storage.ReadTx) ([]profile.Profile, error) {
	const q = `SELECT ` + profileColumns + ` FROM profiles`
	rows, err := tx.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list profiles: %w", err)
	}
	defer rows.Close()

	var out []profile.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("list profiles: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanProfile(row pgx.Row) (profile.Profile, error) {
	var (
		p         profile.Profile
		rawID     string
		rawKey    []byte
		lastFetch *time.Time
	)
	err := row.Scan(&rawID, &p.IsLocal, &p.Address.E164, &p.GivenNameEnc, &p.FamilyNameEnc,
		&p.AvatarURLPath, &p.AvatarData, &p.Badges, &rawKey, &p.Registered, &lastFetch)
	if err != nil {
		return profile.Profile{}, err
	}
	if p.Address.ServiceID, err = ident.ParseServiceID(rawID); err != nil {
		return profile.Profile{}, err
	}
	if len(rawKey) > 0 {
		key, err := crypto.ProfileKeyFromBytes(rawKey)
		if err != nil {
			return profile.Profile{}, err
		}
		p.Key = &key
	}
	if lastFetch != nil {
		p.LastFetchAt = *lastFetch
	}
	return p, nil
}
