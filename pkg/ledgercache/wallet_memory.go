package ledgercache

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// InMemoryWallet is a thread-safe map-based WalletStore for testing and local dev.
// It loses data on restart.
type InMemoryWallet struct {
	mu      sync.RWMutex
	records map[WalletHandle]map[string][]byte
}

// NewInMemoryWallet creates a new in-memory wallet store.
func NewInMemoryWallet() *InMemoryWallet {
	return &InMemoryWallet{
		records: make(map[WalletHandle]map[string][]byte),
	}
}

func (s *InMemoryWallet) Get(ctx context.Context, wallet WalletHandle, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	value, ok := s.records[wallet][key]
	if !ok {
		return nil, false, nil
	}
	// Return a copy so callers cannot mutate the stored record
	return append([]byte(nil), value...), true, nil
}

func (s *InMemoryWallet) Put(ctx context.Context, wallet WalletHandle, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok := s.records[wallet]
	if !ok {
		records = make(map[string][]byte)
		s.records[wallet] = records
	}
	records[key] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryWallet) Delete(ctx context.Context, wallet WalletHandle, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records[wallet], key)
	return nil
}

// Scan snapshots the matching records in key order.
func (s *InMemoryWallet) Scan(ctx context.Context, wallet WalletHandle, prefix string) (WalletIterator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []walletRow
	for key, value := range s.records[wallet] {
		if strings.HasPrefix(key, prefix) {
			rows = append(rows, walletRow{key: key, value: append([]byte(nil), value...)})
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].key < rows[j].key })
	return &sliceIterator{rows: rows, pos: -1}, nil
}

// Len returns the number of records held for wallet.
func (s *InMemoryWallet) Len(wallet WalletHandle) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[wallet])
}

type walletRow struct {
	key   string
	value []byte
}

// sliceIterator walks a materialized scan result.
type sliceIterator struct {
	rows []walletRow
	pos  int
	err  error
}

func (it *sliceIterator) Next() bool {
	if it.err != nil || it.pos+1 >= len(it.rows) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Key() string   { return it.rows[it.pos].key }
func (it *sliceIterator) Value() []byte { return it.rows[it.pos].value }
func (it *sliceIterator) Err() error    { return it.err }
func (it *sliceIterator) Close() error  { return nil }
