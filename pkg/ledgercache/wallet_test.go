package ledgercache

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/mattn/go-sqlite3"
)

// testWalletStore runs the WalletStore contract against a fresh store.
func testWalletStore(t *testing.T, store WalletStore) {
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		value, ok, err := store.Get(ctx, 1, "cache_schema:missing")
		if err != nil {
			t.Fatal(err)
		}
		if ok || value != nil {
			t.Errorf("Expected miss, got %q", value)
		}
	})

	t.Run("PutOverwrites", func(t *testing.T) {
		if err := store.Put(ctx, 1, "cache_schema:a", []byte("v1")); err != nil {
			t.Fatal(err)
		}
		if err := store.Put(ctx, 1, "cache_schema:a", []byte("v2")); err != nil {
			t.Fatal(err)
		}
		value, ok, err := store.Get(ctx, 1, "cache_schema:a")
		if err != nil || !ok {
			t.Fatalf("Expected hit, got ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(value, []byte("v2")) {
			t.Errorf("Expected v2, got %q", value)
		}
	})

	t.Run("WalletsAreIsolated", func(t *testing.T) {
		if err := store.Put(ctx, 2, "cache_schema:a", []byte("other")); err != nil {
			t.Fatal(err)
		}
		value, _, _ := store.Get(ctx, 1, "cache_schema:a")
		if bytes.Equal(value, []byte("other")) {
			t.Error("Expected wallet 1 unaffected by wallet 2 write")
		}
	})

	t.Run("ScanByPrefix", func(t *testing.T) {
		for _, key := range []string{"cache_schema:b", "cache_cred_def:x", "cacheXschema:c"} {
			if err := store.Put(ctx, 1, key, []byte(key)); err != nil {
				t.Fatal(err)
			}
		}

		it, err := store.Scan(ctx, 1, "cache_schema:")
		if err != nil {
			t.Fatal(err)
		}
		var keys []string
		for it.Next() {
			keys = append(keys, it.Key())
		}
		if err := it.Err(); err != nil {
			t.Fatal(err)
		}
		if err := it.Close(); err != nil {
			t.Fatal(err)
		}
		sort.Strings(keys)

		want := []string{"cache_schema:a", "cache_schema:b"}
		if fmt.Sprint(keys) != fmt.Sprint(want) {
			t.Errorf("Expected %v, got %v", want, keys)
		}
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		if err := store.Delete(ctx, 1, "cache_schema:b"); err != nil {
			t.Fatal(err)
		}
		if err := store.Delete(ctx, 1, "cache_schema:b"); err != nil {
			t.Errorf("Expected deleting a missing record to succeed, got %v", err)
		}
		if _, ok, _ := store.Get(ctx, 1, "cache_schema:b"); ok {
			t.Error("Expected record to be gone")
		}
	})

	t.Run("ConcurrentPuts", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				errs <- store.Put(ctx, 3, fmt.Sprintf("cache_cred_def:%02d", i), []byte{byte(i)})
			}(i)
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			if err != nil {
				t.Fatal(err)
			}
		}

		it, err := store.Scan(ctx, 3, "cache_cred_def:")
		if err != nil {
			t.Fatal(err)
		}
		defer it.Close()
		n := 0
		for it.Next() {
			n++
		}
		if n != 20 {
			t.Errorf("Expected 20 records, got %d", n)
		}
	})
}

// ============ Memory ============

func TestInMemoryWallet(t *testing.T) {
	testWalletStore(t, NewInMemoryWallet())
}

func TestInMemoryWallet_CopiesValues(t *testing.T) {
	ctx := context.Background()
	w := NewInMemoryWallet()
	value := []byte("abc")
	if err := w.Put(ctx, 1, "k", value); err != nil {
		t.Fatal(err)
	}
	value[0] = 'X'

	got, _, _ := w.Get(ctx, 1, "k")
	if string(got) != "abc" {
		t.Errorf("Expected stored copy to be unaffected, got %q", got)
	}
	got[1] = 'Y'
	again, _, _ := w.Get(ctx, 1, "k")
	if string(again) != "abc" {
		t.Errorf("Expected returned copy to be detached, got %q", again)
	}
}

// ============ SQLite ============

func TestSQLWallet_SQLite(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "wallet.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	db.SetMaxOpenConns(1)

	store := NewSQLWallet(db, "", DialectSQLite)
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	// Running it twice must be harmless
	if err := store.InitSchema(context.Background()); err != nil {
		t.Fatalf("second InitSchema failed: %v", err)
	}
	testWalletStore(t, store)
}

// ============ External backends ============

func TestRedisWallet(t *testing.T) {
	url := os.Getenv("LEDGERCACHE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LEDGERCACHE_TEST_REDIS_URL not set")
	}
	prefix := fmt.Sprintf("ledgercache_test_%d:", time.Now().UnixNano())
	store, err := NewRedisWalletFromURL(url, prefix)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("redis unreachable: %v", err)
	}
	testWalletStore(t, store)
}

func TestPostgresWallet(t *testing.T) {
	dsn := os.Getenv("LEDGERCACHE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEDGERCACHE_TEST_POSTGRES_DSN not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	table := fmt.Sprintf("ledgercache_test_%d", time.Now().UnixNano())
	store := NewPostgresWallet(pool, table)
	if err := store.InitSchema(ctx); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}
	defer pool.Exec(ctx, "DROP TABLE "+table)
	testWalletStore(t, store)
}

func TestEscapeGlob(t *testing.T) {
	if got := escapeGlob("a*b?[c]\\"); got != `a\*b\?\[c\]\\` {
		t.Errorf("Unexpected escape: %s", got)
	}
}
