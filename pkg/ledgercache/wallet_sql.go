package ledgercache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// SQLDialect defines the SQL syntax variant.
type SQLDialect string

const (
	DialectSQLite   SQLDialect = "sqlite"
	DialectPostgres SQLDialect = "postgres"
	DialectMySQL    SQLDialect = "mysql"
)

// SQLWallet implements WalletStore using database/sql.
// It supports SQLite, Postgres, and MySQL.
type SQLWallet struct {
	db        *sql.DB
	tableName string
	dialect   SQLDialect
}

// NewSQLWallet creates a new SQL-backed wallet store.
// The user is responsible for opening the *sql.DB with their preferred driver.
func NewSQLWallet(db *sql.DB, tableName string, dialect SQLDialect) *SQLWallet {
	if tableName == "" {
		tableName = "ledgercache_records"
	}
	return &SQLWallet{
		db:        db,
		tableName: tableName,
		dialect:   dialect,
	}
}

// InitSchema creates the records table if it doesn't exist.
func (s *SQLWallet) InitSchema(ctx context.Context) error {
	keyType := "TEXT"
	blobType := "BLOB"

	switch s.dialect {
	case DialectPostgres:
		blobType = "BYTEA"
	case DialectMySQL:
		// MySQL cannot index an unbounded TEXT column
		keyType = "VARCHAR(255)"
		blobType = "LONGBLOB"
	}

	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			wallet INTEGER NOT NULL,
			record_key %s NOT NULL,
			value %s,
			PRIMARY KEY (wallet, record_key)
		)
	`, s.tableName, keyType, blobType)

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// placeholders returns n bind parameters for the dialect.
func (s *SQLWallet) placeholders(n int) []string {
	ph := make([]string, n)
	for i := range ph {
		if s.dialect == DialectPostgres {
			ph[i] = fmt.Sprintf("$%d", i+1)
		} else {
			ph[i] = "?"
		}
	}
	return ph
}

func (s *SQLWallet) Get(ctx context.Context, wallet WalletHandle, key string) ([]byte, bool, error) {
	ph := s.placeholders(2)
	query := fmt.Sprintf(`SELECT value FROM %s WHERE wallet = %s AND record_key = %s`,
		s.tableName, ph[0], ph[1])

	var value []byte
	err := s.db.QueryRowContext(ctx, query, int32(wallet), key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get record %s: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLWallet) Put(ctx context.Context, wallet WalletHandle, key string, value []byte) error {
	ph := s.placeholders(3)

	// Build upsert query based on dialect
	var query string
	if s.dialect == DialectMySQL {
		query = fmt.Sprintf(`
			INSERT INTO %s (wallet, record_key, value)
			VALUES (%s, %s, %s)
			ON DUPLICATE KEY UPDATE value = VALUES(value)
		`, s.tableName, ph[0], ph[1], ph[2])
	} else {
		// SQLite and Postgres use ON CONFLICT
		query = fmt.Sprintf(`
			INSERT INTO %s (wallet, record_key, value)
			VALUES (%s, %s, %s)
			ON CONFLICT(wallet, record_key) DO UPDATE SET value = excluded.value
		`, s.tableName, ph[0], ph[1], ph[2])
	}

	if _, err := s.db.ExecContext(ctx, query, int32(wallet), key, value); err != nil {
		return fmt.Errorf("failed to put record %s: %w", key, err)
	}
	return nil
}

func (s *SQLWallet) Delete(ctx context.Context, wallet WalletHandle, key string) error {
	ph := s.placeholders(2)
	query := fmt.Sprintf("DELETE FROM %s WHERE wallet = %s AND record_key = %s",
		s.tableName, ph[0], ph[1])
	if _, err := s.db.ExecContext(ctx, query, int32(wallet), key); err != nil {
		return fmt.Errorf("failed to delete record %s: %w", key, err)
	}
	return nil
}

// Scan reads the matching rows eagerly so the connection is released before
// callers issue deletes. Prefix matching uses SUBSTR rather than LIKE because
// record prefixes contain '_'.
func (s *SQLWallet) Scan(ctx context.Context, wallet WalletHandle, prefix string) (WalletIterator, error) {
	ph := s.placeholders(2)
	query := fmt.Sprintf(`
		SELECT record_key, value FROM %s
		WHERE wallet = %s AND SUBSTR(record_key, 1, %d) = %s
		ORDER BY record_key
	`, s.tableName, ph[0], len(prefix), ph[1])

	rows, err := s.db.QueryContext(ctx, query, int32(wallet), prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var out []walletRow
	for rows.Next() {
		var row walletRow
		if err := rows.Scan(&row.key, &row.value); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan prefix %s: %w", prefix, err)
	}
	return &sliceIterator{rows: out, pos: -1}, nil
}
