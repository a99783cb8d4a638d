package ledgercache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisWallet implements WalletStore using Redis.
// It is designed to work with github.com/redis/go-redis/v9.
// Records are plain string keys of the form {prefix}{wallet}:{key}.
type RedisWallet struct {
	client    *redis.Client
	prefix    string
	scanBatch int64
}

// NewRedisWallet creates a new Redis-backed wallet store.
// The prefix parameter allows namespacing keys to avoid conflicts.
// If prefix is empty, "ledgercache:" is used by default.
func NewRedisWallet(client *redis.Client, prefix string) *RedisWallet {
	if prefix == "" {
		prefix = "ledgercache:"
	}
	return &RedisWallet{
		client:    client,
		prefix:    prefix,
		scanBatch: 100,
	}
}

// NewRedisWalletFromURL creates a Redis wallet store from a connection URL.
// Example: "redis://localhost:6379/0" or "redis://:password@localhost:6379/1"
func NewRedisWalletFromURL(url string, prefix string) (*RedisWallet, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	return NewRedisWallet(client, prefix), nil
}

func (s *RedisWallet) walletPrefix(wallet WalletHandle) string {
	return s.prefix + strconv.Itoa(int(wallet)) + ":"
}

func (s *RedisWallet) Get(ctx context.Context, wallet WalletHandle, key string) ([]byte, bool, error) {
	data, err := s.client.Get(ctx, s.walletPrefix(wallet)+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return data, true, nil
}

func (s *RedisWallet) Put(ctx context.Context, wallet WalletHandle, key string, value []byte) error {
	// Cache entries never expire on their own; purge decides.
	if err := s.client.Set(ctx, s.walletPrefix(wallet)+key, value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisWallet) Delete(ctx context.Context, wallet WalletHandle, key string) error {
	if err := s.client.Del(ctx, s.walletPrefix(wallet)+key).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// Scan walks matching keys with SCAN MATCH and loads their values. Keys that
// vanish between SCAN and GET are skipped.
func (s *RedisWallet) Scan(ctx context.Context, wallet WalletHandle, prefix string) (WalletIterator, error) {
	base := s.walletPrefix(wallet)
	pattern := escapeGlob(base+prefix) + "*"

	var rows []walletRow
	iter := s.client.Scan(ctx, 0, pattern, s.scanBatch).Iterator()
	for iter.Next(ctx) {
		fullKey := iter.Val()
		data, err := s.client.Get(ctx, fullKey).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("redis get failed: %w", err)
		}
		rows = append(rows, walletRow{key: strings.TrimPrefix(fullKey, base), value: data})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return &sliceIterator{rows: rows, pos: -1}, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisWallet) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *RedisWallet) Close() error {
	return s.client.Close()
}

// escapeGlob quotes the characters SCAN MATCH treats as pattern syntax.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
