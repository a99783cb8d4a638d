package ledgercache

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresWallet implements WalletStore using github.com/jackc/pgx/v5.
// It is designed to work with pgxpool, so the same pool can back River.
type PostgresWallet struct {
	pool      *pgxpool.Pool
	tableName string
}

// NewPostgresWallet creates a new Postgres-backed wallet store.
func NewPostgresWallet(pool *pgxpool.Pool, tableName string) *PostgresWallet {
	if tableName == "" {
		tableName = "ledgercache_records"
	}
	return &PostgresWallet{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the records table if it doesn't exist.
func (s *PostgresWallet) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			wallet INTEGER NOT NULL,
			record_key TEXT NOT NULL,
			value BYTEA,
			PRIMARY KEY (wallet, record_key)
		);
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	return err
}

func (s *PostgresWallet) Get(ctx context.Context, wallet WalletHandle, key string) ([]byte, bool, error) {
	query := fmt.Sprintf(`SELECT value FROM %s WHERE wallet = $1 AND record_key = $2`, s.tableName)

	var value []byte
	err := s.pool.QueryRow(ctx, query, int32(wallet), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	return value, true, nil
}

func (s *PostgresWallet) Put(ctx context.Context, wallet WalletHandle, key string, value []byte) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (wallet, record_key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT(wallet, record_key) DO UPDATE SET value = excluded.value
	`, s.tableName)

	if _, err := s.pool.Exec(ctx, query, int32(wallet), key, value); err != nil {
		return fmt.Errorf("failed to put record %s: %w", key, err)
	}
	return nil
}

func (s *PostgresWallet) Delete(ctx context.Context, wallet WalletHandle, key string) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE wallet = $1 AND record_key = $2", s.tableName)
	if _, err := s.pool.Exec(ctx, query, int32(wallet), key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

func (s *PostgresWallet) Scan(ctx context.Context, wallet WalletHandle, prefix string) (WalletIterator, error) {
	query := fmt.Sprintf(`
		SELECT record_key, value FROM %s
		WHERE wallet = $1 AND starts_with(record_key, $2)
		ORDER BY record_key
	`, s.tableName)

	rows, err := s.pool.Query(ctx, query, int32(wallet), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}
	return &pgxIterator{rows: rows}, nil
}

// pgxIterator streams rows from an open pgx query.
type pgxIterator struct {
	rows  pgx.Rows
	key   string
	value []byte
	err   error
}

func (it *pgxIterator) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	if err := it.rows.Scan(&it.key, &it.value); err != nil {
		it.err = err
		return false
	}
	return true
}

func (it *pgxIterator) Key() string   { return it.key }
func (it *pgxIterator) Value() []byte { return it.value }

func (it *pgxIterator) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *pgxIterator) Close() error {
	it.rows.Close()
	return nil
}
