package ledgercache

import (
	"sort"
	"sync"
)

// KeyValues lists the key/value pairs a parsed state proof commits to.
type KeyValues struct {
	// Type is the verification strategy; only "Simple" is defined
	Type string `json:"type"`

	// KVs are [key, value] pairs; a nil value asserts absence
	KVs [][2]*string `json:"kvs"`
}

// MultiSignatureValue is the ledger state signed by the validator quorum.
type MultiSignatureValue struct {
	LedgerID          uint64 `json:"ledger_id"`
	PoolStateRootHash string `json:"pool_state_root_hash"`
	StateRootHash     string `json:"state_root_hash"`
	Timestamp         uint64 `json:"timestamp"`
	TxnRootHash       string `json:"txn_root_hash"`
}

// MultiSignature is the signed ledger root carried in a reply's state proof.
type MultiSignature struct {
	Participants []string            `json:"participants"`
	Signature    string              `json:"signature"`
	Value        MultiSignatureValue `json:"value"`
}

// ParsedStateProof is one verifiable fragment extracted from a reply.
type ParsedStateProof struct {
	ProofNodes     string          `json:"proof_nodes"`
	RootHash       string          `json:"root_hash"`
	KVsToVerify    KeyValues       `json:"kvs_to_verify"`
	MultiSignature *MultiSignature `json:"multi_signature,omitempty"`
}

// ParseFunc extracts state proof fragments from a raw node reply.
type ParseFunc func(reply []byte) ([]ParsedStateProof, error)

// ReleaseFunc frees whatever a ParseFunc allocated for its result.
type ReleaseFunc func(parsed []ParsedStateProof) error

// StateProofParser is the verification strategy for one transaction type.
type StateProofParser struct {
	TxnType string
	Parse   ParseFunc
	Release ReleaseFunc
}

// Registry maps transaction types to state proof parsers.
// It is safe for concurrent registration and lookup.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]StateProofParser
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		parsers: make(map[string]StateProofParser),
	}
}

// Register inserts or replaces the parser for txnType.
func (r *Registry) Register(txnType string, parse ParseFunc, release ReleaseFunc) error {
	if txnType == "" {
		return invalidArgf("transaction type is required")
	}
	if parse == nil {
		return invalidArgf("parse callback is required for %s", txnType)
	}
	if release == nil {
		return invalidArgf("release callback is required for %s", txnType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.parsers[txnType] = StateProofParser{
		TxnType: txnType,
		Parse:   parse,
		Release: release,
	}
	return nil
}

// Lookup returns the parser registered for txnType.
func (r *Registry) Lookup(txnType string) (StateProofParser, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parsers[txnType]
	return p, ok
}

// TxnTypes lists the registered transaction types in sorted order.
func (r *Registry) TxnTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.parsers))
	for t := range r.parsers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
