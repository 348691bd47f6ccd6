// Package storage provides the transaction capability consumed by every
// persistence operation in the client backend, plus the Postgres pool it is
// implemented on. Data-access code never sees an ambient connection: reads
// take a ReadTx and writes take a WriteTx, both supplied by the caller, so
// every operation is atomic within its transaction scope.
package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("storage: not found")

// ReadTx is the read-scoped transaction handle. All reads through one
// ReadTx observe a single consistent snapshot.
type ReadTx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WriteTx is the write-scoped transaction handle. Mutations through one
// WriteTx are atomic: no partial update is observable outside it.
type WriteTx interface {
	ReadTx
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Pool is the minimal connection-pool surface the DB wrapper needs. It is
// satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, txOptions pgx.TxOptions) (pgx.Tx, error)
	Close()
}

// DB hands out transaction handles over a Postgres pool.
type DB struct {
	pool Pool
}

// New opens a connection pool for the given DSN and verifies connectivity.
func New(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, fmt.Errorf("db url is required")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return &DB{pool: pool}, nil
}

// NewWithPool wraps an existing pool. Used by tests with mock pools.
func NewWithPool(pool Pool) *DB {
	return &DB{pool: pool}
}

// Close shuts down the underlying pool.
func (db *DB) Close() {
	db.pool.Close()
}

// InReadTx runs fn inside a read-only transaction.
func (db *DB) InReadTx(ctx context.Context, fn func(tx ReadTx) error) error {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return fmt.Errorf("begin read tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit read tx: %w", err)
	}
	return nil
}

// InWriteTx runs fn inside a read-write transaction, committing on success
// and rolling back on error.
func (db *DB) InWriteTx(ctx context.Context, fn func(tx WriteTx) error) (err error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
			return
		}
		if e := tx.Commit(ctx); e != nil {
			err = fmt.Errorf("commit write tx: %w", e)
		}
	}()
	return fn(tx)
}
