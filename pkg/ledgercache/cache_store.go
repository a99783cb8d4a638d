package ledgercache

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-multierror"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire field numbers of an encoded CacheEntry record.
const (
	entryFieldPayload   protowire.Number = 1
	entryFieldFetchedAt protowire.Number = 2
)

// CacheStore keeps CacheEntry records in a WalletStore, one record per
// (wallet, kind, id).
type CacheStore struct {
	wallet WalletStore
}

// NewCacheStore creates a cache store on top of the given wallet store.
func NewCacheStore(wallet WalletStore) *CacheStore {
	return &CacheStore{wallet: wallet}
}

// Get returns the entry for key, or nil on a miss. A record that cannot be
// decoded is reported as a miss so the next fetch overwrites it.
func (s *CacheStore) Get(ctx context.Context, key CacheKey) (*CacheEntry, error) {
	data, ok, err := s.wallet.Get(ctx, key.Wallet, key.recordID())
	if err != nil {
		return nil, &StorageError{Op: "get", Wallet: key.Wallet, Key: key.recordID(), Cause: err}
	}
	if !ok {
		return nil, nil
	}
	entry, err := decodeEntry(data)
	if err != nil {
		return nil, nil
	}
	return entry, nil
}

// Put upserts the entry for key.
func (s *CacheStore) Put(ctx context.Context, key CacheKey, entry CacheEntry) error {
	if err := s.wallet.Put(ctx, key.Wallet, key.recordID(), encodeEntry(entry)); err != nil {
		return &StorageError{Op: "put", Wallet: key.Wallet, Key: key.recordID(), Cause: err}
	}
	return nil
}

// Purge deletes the entries of kind in wallet selected by minFresh at time
// now: every entry for -1, otherwise entries older than minFresh seconds.
// Individual delete failures do not stop the sweep; they are returned
// together. It returns the number of entries removed.
func (s *CacheStore) Purge(ctx context.Context, wallet WalletHandle, kind Kind, minFresh, now int64) (int, error) {
	prefix := kind.recordPrefix()
	it, err := s.wallet.Scan(ctx, wallet, prefix)
	if err != nil {
		return 0, &StorageError{Op: "scan", Wallet: wallet, Key: prefix, Cause: err}
	}

	// Collect first; some backends do not allow deletes during iteration.
	var doomed []string
	for it.Next() {
		entry, err := decodeEntry(it.Value())
		if err != nil || Expired(entry, minFresh, now) {
			doomed = append(doomed, it.Key())
		}
	}
	if err := it.Err(); err != nil {
		it.Close()
		return 0, &StorageError{Op: "scan", Wallet: wallet, Key: prefix, Cause: err}
	}
	if err := it.Close(); err != nil {
		return 0, &StorageError{Op: "scan", Wallet: wallet, Key: prefix, Cause: err}
	}

	var result *multierror.Error
	removed := 0
	for _, key := range doomed {
		if err := s.wallet.Delete(ctx, wallet, key); err != nil {
			result = multierror.Append(result, &StorageError{Op: "delete", Wallet: wallet, Key: key, Cause: err})
			continue
		}
		removed++
	}
	return removed, result.ErrorOrNil()
}

func encodeEntry(e CacheEntry) []byte {
	var b []byte
	b = protowire.AppendTag(b, entryFieldPayload, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Payload)
	b = protowire.AppendTag(b, entryFieldFetchedAt, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(e.FetchedAt))
	return b
}

var errBadEntry = errors.New("malformed cache entry")

func decodeEntry(b []byte) (*CacheEntry, error) {
	entry := &CacheEntry{}
	var sawFetchedAt bool
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", errBadEntry, protowire.ParseError(n))
		}
		b = b[n:]

		switch {
		case num == entryFieldPayload && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", errBadEntry, protowire.ParseError(n))
			}
			entry.Payload = append([]byte(nil), v...)
			b = b[n:]
		case num == entryFieldFetchedAt && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", errBadEntry, protowire.ParseError(n))
			}
			entry.FetchedAt = protowire.DecodeZigZag(v)
			sawFetchedAt = true
			b = b[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return nil, fmt.Errorf("%w: %v", errBadEntry, protowire.ParseError(n))
			}
			b = b[n:]
		}
	}
	if !sawFetchedAt {
		return nil, fmt.Errorf("%w: missing fetched_at", errBadEntry)
	}
	return entry, nil
}
