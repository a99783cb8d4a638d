package ledgercache

import "fmt"

// WalletHandle identifies an opened wallet.
type WalletHandle int32

// PoolHandle identifies an opened pool ledger.
type PoolHandle int32

// CommandHandle identifies a pending asynchronous command.
type CommandHandle int32

// Kind is the artifact kind held in the cache.
type Kind int

const (
	// KindSchema is a credential schema.
	KindSchema Kind = iota + 1

	// KindCredDef is a credential definition.
	KindCredDef

	// KindRevocRegDef is a revocation registry definition. It is read
	// through the fetcher only and never cached.
	KindRevocRegDef
)

func (k Kind) String() string {
	switch k {
	case KindSchema:
		return "schema"
	case KindCredDef:
		return "cred_def"
	case KindRevocRegDef:
		return "revoc_reg_def"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// recordPrefix is the wallet record id prefix for cache entries of this kind.
func (k Kind) recordPrefix() string {
	return "cache_" + k.String() + ":"
}

// CacheKey identifies one cached artifact.
type CacheKey struct {
	Wallet WalletHandle
	Kind   Kind
	ID     string
}

func (k CacheKey) recordID() string {
	return k.Kind.recordPrefix() + k.ID
}

func (k CacheKey) String() string {
	return fmt.Sprintf("%d/%s/%s", k.Wallet, k.Kind, k.ID)
}

// CacheEntry is a cached artifact and the time it was fetched.
type CacheEntry struct {
	// Payload is the serialized artifact as returned to callers
	Payload []byte

	// FetchedAt is the verified fetch time in seconds since the epoch
	FetchedAt int64
}

// Age returns the entry age in seconds relative to now.
func (e *CacheEntry) Age(now int64) int64 {
	return now - e.FetchedAt
}
