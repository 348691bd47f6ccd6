package storage_test

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/kestrelchat/kestrel/internal/storage"
)

func newDB(t *testing.T) (*storage.DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mock.ExpectationsWereMet())
	})
	return storage.NewWithPool(mock), mock
}

func TestInWriteTxCommits(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectExec(`UPDATE profiles`).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	err := db.InWriteTx(context.Background(), func(tx storage.WriteTx) error {
		_, err := tx.Exec(context.Background(), `UPDATE profiles SET registered=true`)
		return err
	})
	require.NoError(t, err)
}

func TestInWriteTxRollsBackOnError(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectBeginTx(pgx.TxOptions{})
	mock.ExpectRollback()

	boom := errors.New("boom")
	err := db.InWriteTx(context.Background(), func(tx storage.WriteTx) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestInReadTxUsesReadOnlyMode(t *testing.T) {
	db, mock := newDB(t)
	mock.ExpectBeginTx(pgx.TxOptions{AccessMode: pgx.ReadOnly})
	mock.ExpectQuery(`SELECT service_id FROM whitelist_addresses`).
		WillReturnRows(pgxmock.NewRows([]string{"service_id"}))
	mock.ExpectCommit()

	err := db.InReadTx(context.Background(), func(tx storage.ReadTx) error {
		rows, err := tx.Query(context.Background(), `SELECT service_id FROM whitelist_addresses`)
		if err != nil {
			return err
		}
		rows.Close()
		return nil
	})
	require.NoError(t, err)
}
