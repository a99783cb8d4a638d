package ledgercache

import "context"

// RequestBuilder builds ledger read requests.
type RequestBuilder interface {
	BuildGetSchemaRequest(submitterDID, id string) ([]byte, error)
	BuildGetCredDefRequest(submitterDID, id string) ([]byte, error)
	BuildGetRevocRegDefRequest(submitterDID, id string) ([]byte, error)

	// StateKey is the state trie key a reply for kind/id must prove. Replies
	// proving any other key are rejected.
	StateKey(kind Kind, id string) (string, error)
}

// ResponseParser turns a verified GET reply into the artifact handed to callers.
// Implementations return an error wrapping ErrNotFound when the reply carries
// no data.
type ResponseParser interface {
	ParseGetSchemaResponse(reply []byte) ([]byte, error)
	ParseGetCredDefResponse(reply []byte) ([]byte, error)
	ParseGetRevocRegDefResponse(reply []byte) ([]byte, error)
}

// Transport submits a read request to one validator node of a pool and
// returns its raw reply.
type Transport interface {
	SubmitRead(ctx context.Context, pool PoolHandle, request []byte) ([]byte, error)
}

// ProofVerifier checks parsed state proof fragments against the signed ledger root.
type ProofVerifier interface {
	Verify(parsed []ParsedStateProof, signedRoot *MultiSignature) (bool, error)
}

// WalletStore is the wallet's record storage. All operations are scoped to a
// wallet handle and atomic per record; there are no cross-record transactions.
// Implementations must be safe for concurrent use.
type WalletStore interface {
	// Get returns (nil, false, nil) when the record does not exist.
	Get(ctx context.Context, wallet WalletHandle, key string) ([]byte, bool, error)

	// Put inserts or overwrites a record.
	Put(ctx context.Context, wallet WalletHandle, key string, value []byte) error

	// Delete removes a record; absence is not an error.
	Delete(ctx context.Context, wallet WalletHandle, key string) error

	// Scan iterates every record whose key starts with prefix.
	Scan(ctx context.Context, wallet WalletHandle, prefix string) (WalletIterator, error)
}

// WalletIterator walks scan results. Callers must Close it.
type WalletIterator interface {
	Next() bool
	Key() string
	Value() []byte
	Err() error
	Close() error
}
