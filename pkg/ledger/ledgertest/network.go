// Package ledgertest provides an in-process validator pool that answers
// GET_SCHEMA and GET_CLAIM_DEF requests with signed state proofs.
package ledgertest

import (
	"context"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mr-tron/base58"
	"github.com/tidwall/gjson"

	"ledgercache/pkg/ledger"
	"ledgercache/pkg/ledgercache"
)

// DID derives a deterministic unqualified DID from seed.
func DID(seed string) string {
	sum := sha256.Sum256([]byte(seed))
	return base58.Encode(sum[:16])
}

type schemaRecord struct {
	dest, name, version string
	attrs               []string
	seqNo, txnTime      uint64
}

type revocRegDefRecord struct {
	data    json.RawMessage
	seqNo   uint64
	txnTime uint64
}

type credDefRecord struct {
	origin  string
	ref     uint64
	tag     string
	value   json.RawMessage
	seqNo   uint64
	txnTime uint64
}

// Network is a fake validator pool. It is safe for concurrent use and
// implements ledgercache.Transport.
type Network struct {
	names []string
	keys  map[string]ed25519.PrivateKey

	mu       sync.Mutex
	now      func() time.Time
	seqNo    uint64
	schemas  map[string]schemaRecord
	credDefs map[string]credDefRecord
	revRegs  map[string]revocRegDefRecord

	submits atomic.Int64

	// BeforeReply, if set, runs on every submit before the reply is built.
	// Returning an error fails the submit.
	BeforeReply func(ctx context.Context, request []byte) error

	// Tamper, if set, rewrites every reply before it is returned.
	Tamper func(reply []byte) []byte
}

var _ ledgercache.Transport = (*Network)(nil)

// New creates a pool of n validators with deterministic keys.
func New(n int) *Network {
	net := &Network{
		keys:     make(map[string]ed25519.PrivateKey, n),
		now:      time.Now,
		schemas:  make(map[string]schemaRecord),
		credDefs: make(map[string]credDefRecord),
		revRegs:  make(map[string]revocRegDefRecord),
	}
	for i := 1; i <= n; i++ {
		name := fmt.Sprintf("Node%d", i)
		seed := sha256.Sum256([]byte(name))
		net.names = append(net.names, name)
		net.keys[name] = ed25519.NewKeyFromSeed(seed[:])
	}
	sort.Strings(net.names)
	return net
}

// SetClock overrides the time used for txnTime and the signed timestamp.
func (n *Network) SetClock(now func() time.Time) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.now = now
}

// VerKeys returns validator names mapped to base58 verkeys.
func (n *Network) VerKeys() map[string]string {
	out := make(map[string]string, len(n.keys))
	for name, key := range n.keys {
		out[name] = base58.Encode(key.Public().(ed25519.PublicKey))
	}
	return out
}

// Verifier returns a proof verifier for this pool.
func (n *Network) Verifier() *ledger.Verifier {
	v, err := ledger.NewVerifier(n.VerKeys())
	if err != nil {
		panic(err)
	}
	return v
}

// Submits returns how many reads were submitted.
func (n *Network) Submits() int {
	return int(n.submits.Load())
}

// WriteSchema records a schema and returns its id.
func (n *Network) WriteSchema(dest, name, version string, attrs ...string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seqNo++
	key := ledger.SchemaStateKey(dest, name, version)
	n.schemas[key] = schemaRecord{
		dest: dest, name: name, version: version,
		attrs:   append([]string(nil), attrs...),
		seqNo:   n.seqNo,
		txnTime: uint64(n.now().Unix()),
	}
	return key
}

// SchemaSeqNo returns the sequence number of a written schema.
func (n *Network) SchemaSeqNo(id string) uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.schemas[id].seqNo
}

// WriteCredDef records a CL credential definition and returns its id. It
// panics if value is not valid JSON.
func (n *Network) WriteCredDef(origin string, schemaSeqNo uint64, tag string, value json.RawMessage) string {
	// Store the form json.Marshal emits so replies and state values agree.
	norm, err := json.Marshal(value)
	if err != nil {
		panic(fmt.Sprintf("ledgertest: cred def value: %v", err))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.seqNo++
	key := ledger.CredDefStateKey(origin, "CL", schemaSeqNo, tag)
	n.credDefs[key] = credDefRecord{
		origin: origin, ref: schemaSeqNo, tag: tag,
		value:   json.RawMessage(norm),
		seqNo:   n.seqNo,
		txnTime: uint64(n.now().Unix()),
	}
	return key
}

// WriteRevocRegDef records a CL_ACCUM revocation registry definition for
// credDefID and returns its id. It panics if credDefID is malformed.
func (n *Network) WriteRevocRegDef(credDefID, tag string, value json.RawMessage) string {
	cid, err := ledger.ParseCredDefID(credDefID)
	if err != nil {
		panic(fmt.Sprintf("ledgertest: %v", err))
	}
	id := ledger.RevocRegDefID{DID: cid.DID, CredDef: cid, RevocDefType: "CL_ACCUM", Tag: tag}.String()
	data, err := json.Marshal(map[string]any{
		"id":           id,
		"revocDefType": "CL_ACCUM",
		"tag":          tag,
		"credDefId":    credDefID,
		"value":        value,
	})
	if err != nil {
		panic(fmt.Sprintf("ledgertest: revoc reg def value: %v", err))
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.seqNo++
	n.revRegs[id] = revocRegDefRecord{data: data, seqNo: n.seqNo, txnTime: uint64(n.now().Unix())}
	return id
}

// SubmitRead answers a read request as one validator would.
func (n *Network) SubmitRead(ctx context.Context, pool ledgercache.PoolHandle, request []byte) ([]byte, error) {
	n.submits.Add(1)
	if n.BeforeReply != nil {
		if err := n.BeforeReply(ctx, request); err != nil {
			return nil, err
		}
	}
	reply, err := n.Reply(request)
	if err != nil {
		return nil, err
	}
	if n.Tamper != nil {
		reply = n.Tamper(reply)
	}
	return reply, nil
}

// Reply builds the signed reply for request.
func (n *Network) Reply(request []byte) ([]byte, error) {
	req := gjson.ParseBytes(request)
	op := req.Get("operation")
	switch op.Get("type").String() {
	case ledger.TxnTypeGetSchema:
		return n.schemaReply(req, op)
	case ledger.TxnTypeGetCredDef:
		return n.credDefReply(req, op)
	case ledger.TxnTypeGetRevocRegDef:
		return n.revocRegDefReply(req, op)
	default:
		return json.Marshal(map[string]any{
			"op":         "REQNACK",
			"identifier": req.Get("identifier").String(),
			"reqId":      req.Get("reqId").Uint(),
			"reason":     fmt.Sprintf("unsupported operation type %q", op.Get("type").String()),
		})
	}
}

func (n *Network) schemaReply(req, op gjson.Result) ([]byte, error) {
	dest := op.Get("dest").String()
	name := op.Get("data.name").String()
	version := op.Get("data.version").String()
	key := ledger.SchemaStateKey(dest, name, version)

	n.mu.Lock()
	rec, found := n.schemas[key]
	n.mu.Unlock()

	result := map[string]any{
		"type":       ledger.TxnTypeGetSchema,
		"identifier": req.Get("identifier").String(),
		"reqId":      req.Get("reqId").Uint(),
		"dest":       dest,
		"data":       map[string]any{"name": name, "version": version},
		"seqNo":      nil,
		"txnTime":    nil,
	}

	var value *string
	if found {
		attrs, err := json.Marshal(map[string]any{"attr_names": rec.attrs})
		if err != nil {
			return nil, err
		}
		v, err := ledger.StateValue(rec.seqNo, rec.txnTime, attrs)
		if err != nil {
			return nil, err
		}
		value = &v
		result["data"] = map[string]any{"name": name, "version": version, "attr_names": rec.attrs}
		result["seqNo"] = rec.seqNo
		result["txnTime"] = rec.txnTime
	}
	return n.signed(result, key, value)
}

func (n *Network) credDefReply(req, op gjson.Result) ([]byte, error) {
	origin := op.Get("origin").String()
	ref := op.Get("ref").Uint()
	sigType := op.Get("signature_type").String()
	tag := op.Get("tag").String()
	key := ledger.CredDefStateKey(origin, sigType, ref, tag)

	n.mu.Lock()
	rec, found := n.credDefs[key]
	n.mu.Unlock()

	result := map[string]any{
		"type":           ledger.TxnTypeGetCredDef,
		"identifier":     req.Get("identifier").String(),
		"reqId":          req.Get("reqId").Uint(),
		"origin":         origin,
		"ref":            ref,
		"signature_type": sigType,
		"tag":            tag,
		"data":           nil,
		"seqNo":          nil,
		"txnTime":        nil,
	}

	var value *string
	if found {
		v, err := ledger.StateValue(rec.seqNo, rec.txnTime, rec.value)
		if err != nil {
			return nil, err
		}
		value = &v
		result["data"] = rec.value
		result["seqNo"] = rec.seqNo
		result["txnTime"] = rec.txnTime
	}
	return n.signed(result, key, value)
}

func (n *Network) revocRegDefReply(req, op gjson.Result) ([]byte, error) {
	key := op.Get("id").String()

	n.mu.Lock()
	rec, found := n.revRegs[key]
	n.mu.Unlock()

	result := map[string]any{
		"type":       ledger.TxnTypeGetRevocRegDef,
		"identifier": req.Get("identifier").String(),
		"reqId":      req.Get("reqId").Uint(),
		"id":         key,
		"data":       nil,
		"seqNo":      nil,
		"txnTime":    nil,
	}

	var value *string
	if found {
		v, err := ledger.StateValue(rec.seqNo, rec.txnTime, rec.data)
		if err != nil {
			return nil, err
		}
		value = &v
		result["data"] = rec.data
		result["seqNo"] = rec.seqNo
		result["txnTime"] = rec.txnTime
	}
	return n.signed(result, key, value)
}

// signed attaches a state proof for key/value to result and wraps it in a REPLY.
func (n *Network) signed(result map[string]any, key string, value *string) ([]byte, error) {
	leaves := [][sha256.Size]byte{ledger.LeafHash(key, value)}
	for i := 0; i < 4; i++ {
		filler := fmt.Sprintf("%s#%d", key, i)
		leaves = append(leaves, ledger.LeafHash(filler, &filler))
	}
	root, path := auditPath(leaves, 0)

	n.mu.Lock()
	ts := uint64(n.now().Unix())
	n.mu.Unlock()

	poolRoot := sha256.Sum256([]byte("pool"))
	txnRoot := sha256.Sum256([]byte(fmt.Sprintf("txn:%d", ts)))
	ms := ledgercache.MultiSignature{
		Participants: append([]string(nil), n.names...),
		Value: ledgercache.MultiSignatureValue{
			LedgerID:          1,
			PoolStateRootHash: base58.Encode(poolRoot[:]),
			StateRootHash:     base58.Encode(root[:]),
			Timestamp:         ts,
			TxnRootHash:       base58.Encode(txnRoot[:]),
		},
	}
	msg, err := ledger.SignedMessage(ms.Value)
	if err != nil {
		return nil, err
	}
	var sigs []byte
	for _, name := range ms.Participants {
		sigs = append(sigs, ed25519.Sign(n.keys[name], msg)...)
	}
	ms.Signature = base58.Encode(sigs)

	result["state_proof"] = map[string]any{
		"root_hash":       ms.Value.StateRootHash,
		"proof_nodes":     base64.StdEncoding.EncodeToString(path),
		"multi_signature": ms,
	}
	return json.Marshal(map[string]any{"op": "REPLY", "result": result})
}

// auditPath returns the Merkle root over leaves and the proof nodes for
// leaves[index]. Odd levels duplicate their last hash.
func auditPath(leaves [][sha256.Size]byte, index int) ([sha256.Size]byte, []byte) {
	var path []byte
	level := leaves
	for len(level) > 1 {
		if len(level)%2 == 1 {
			level = append(level, level[len(level)-1])
		}
		if index%2 == 0 {
			path = append(path, ledger.SiblingRight)
			path = append(path, level[index+1][:]...)
		} else {
			path = append(path, ledger.SiblingLeft)
			path = append(path, level[index-1][:]...)
		}
		next := make([][sha256.Size]byte, 0, len(level)/2)
		for i := 0; i < len(level); i += 2 {
			next = append(next, ledger.NodeHash(level[i], level[i+1]))
		}
		level = next
		index /= 2
	}
	return level[0], path
}

// NewFetcher wires a fetcher to this network with the built-in parsers, the
// reference builder and a verifier for the network's validators.
func (n *Network) NewFetcher(opts ...ledgercache.FetcherOption) *ledgercache.Fetcher {
	registry := ledgercache.NewRegistry()
	if err := ledger.RegisterBuiltinParsers(registry); err != nil {
		panic(err)
	}
	builder := ledger.NewBuilder()
	return ledgercache.NewFetcher(registry, builder, builder, n, n.Verifier(), opts...)
}
