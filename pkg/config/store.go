package config

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"

	"ledgercache/pkg/ledgercache"
)

// OpenWallet opens the configured wallet store, creating its table when the
// backend is SQL. The returned close function releases the connection.
func OpenWallet(ctx context.Context, cfg StoreConfig) (ledgercache.WalletStore, func() error, error) {
	switch cfg.Backend {
	case StoreMemory:
		return ledgercache.NewInMemoryWallet(), func() error { return nil }, nil

	case StoreSQLite, StoreMySQL:
		driver, dialect := "sqlite3", ledgercache.DialectSQLite
		if cfg.Backend == StoreMySQL {
			driver, dialect = "mysql", ledgercache.DialectMySQL
		}
		db, err := sql.Open(driver, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open %s: %w", cfg.Backend, err)
		}
		if cfg.Backend == StoreSQLite {
			// One writer at a time; avoids SQLITE_BUSY under concurrent puts
			db.SetMaxOpenConns(1)
		}
		wallet := ledgercache.NewSQLWallet(db, cfg.Table, dialect)
		if err := wallet.InitSchema(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to init %s schema: %w", cfg.Backend, err)
		}
		return wallet, db.Close, nil

	case StorePostgres:
		pool, err := pgxpool.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		wallet := ledgercache.NewPostgresWallet(pool, cfg.Table)
		if err := wallet.InitSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("failed to init postgres schema: %w", err)
		}
		return wallet, func() error { pool.Close(); return nil }, nil

	case StoreRedis:
		wallet, err := ledgercache.NewRedisWalletFromURL(cfg.RedisURL, cfg.RedisPrefix)
		if err != nil {
			return nil, nil, err
		}
		if err := wallet.Ping(ctx); err != nil {
			wallet.Close()
			return nil, nil, fmt.Errorf("failed to reach redis: %w", err)
		}
		return wallet, wallet.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}
