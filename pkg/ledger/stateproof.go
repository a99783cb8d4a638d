package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/tidwall/gjson"

	"ledgercache/pkg/ledgercache"
)

// KVTypeSimple is the only key/value verification strategy: each fragment
// proves one key by a Merkle audit path.
const KVTypeSimple = "Simple"

// RegisterBuiltinParsers installs the state proof parsers for GET_SCHEMA,
// GET_CLAIM_DEF and GET_REVOC_REG_DEF replies.
func RegisterBuiltinParsers(r *ledgercache.Registry) error {
	if err := r.Register(TxnTypeGetSchema, parseSchemaProof, releaseNothing); err != nil {
		return err
	}
	if err := r.Register(TxnTypeGetCredDef, parseCredDefProof, releaseNothing); err != nil {
		return err
	}
	return r.Register(TxnTypeGetRevocRegDef, parseRevocRegDefProof, releaseNothing)
}

// SchemaStateKey is the state trie key of a schema.
func SchemaStateKey(dest, name, version string) string {
	return SchemaID{DID: dest, Name: name, Version: version}.String()
}

// CredDefStateKey is the state trie key of a credential definition.
func CredDefStateKey(origin, signatureType string, ref uint64, tag string) string {
	return CredDefID{DID: origin, SignatureType: signatureType, SchemaRef: ref, Tag: tag}.String()
}

// StateValue is the value committed to the state trie for a written artifact:
// {"lsn":seqNo,"lut":txnTime,"val":data} with data compacted.
func StateValue(seqNo, txnTime uint64, data []byte) (string, error) {
	var compact bytes.Buffer
	if err := json.Compact(&compact, data); err != nil {
		return "", fmt.Errorf("compact state value: %w", err)
	}
	return `{"lsn":` + strconv.FormatUint(seqNo, 10) +
		`,"lut":` + strconv.FormatUint(txnTime, 10) +
		`,"val":` + compact.String() + `}`, nil
}

func parseSchemaProof(reply []byte) ([]ledgercache.ParsedStateProof, error) {
	result, err := replyResultOf(reply, TxnTypeGetSchema)
	if err != nil {
		return nil, err
	}
	data := result.Get("data")
	key := SchemaStateKey(result.Get("dest").String(), data.Get("name").String(), data.Get("version").String())

	var value *string
	if result.Get("seqNo").Type == gjson.Number {
		v, err := StateValue(result.Get("seqNo").Uint(), result.Get("txnTime").Uint(), stripIdentity(data))
		if err != nil {
			return nil, err
		}
		value = &v
	}
	return singleProof(result, key, value)
}

func parseCredDefProof(reply []byte) ([]ledgercache.ParsedStateProof, error) {
	result, err := replyResultOf(reply, TxnTypeGetCredDef)
	if err != nil {
		return nil, err
	}
	key := credDefIDOf(result).String()

	var value *string
	if data := result.Get("data"); data.IsObject() {
		v, err := StateValue(result.Get("seqNo").Uint(), result.Get("txnTime").Uint(), []byte(data.Raw))
		if err != nil {
			return nil, err
		}
		value = &v
	}
	return singleProof(result, key, value)
}

func parseRevocRegDefProof(reply []byte) ([]ledgercache.ParsedStateProof, error) {
	result, err := replyResultOf(reply, TxnTypeGetRevocRegDef)
	if err != nil {
		return nil, err
	}
	key := result.Get("id").String()

	var value *string
	if data := result.Get("data"); data.IsObject() {
		v, err := StateValue(result.Get("seqNo").Uint(), result.Get("txnTime").Uint(), []byte(data.Raw))
		if err != nil {
			return nil, err
		}
		value = &v
	}
	return singleProof(result, key, value)
}

// stripIdentity drops name and version from schema data; they are part of
// the state key rather than the committed value.
func stripIdentity(data gjson.Result) []byte {
	out := map[string]json.RawMessage{}
	data.ForEach(func(k, v gjson.Result) bool {
		if k.String() != "name" && k.String() != "version" {
			out[k.String()] = json.RawMessage(v.Raw)
		}
		return true
	})
	b, _ := json.Marshal(out)
	return b
}

func singleProof(result gjson.Result, key string, value *string) ([]ledgercache.ParsedStateProof, error) {
	sp := result.Get("state_proof")
	if !sp.IsObject() {
		return nil, errors.New("reply has no state proof")
	}
	rootHash := sp.Get("root_hash").String()
	proofNodes := sp.Get("proof_nodes").String()
	if rootHash == "" || proofNodes == "" {
		return nil, errors.New("state proof is missing root hash or proof nodes")
	}
	return []ledgercache.ParsedStateProof{{
		ProofNodes: proofNodes,
		RootHash:   rootHash,
		KVsToVerify: ledgercache.KeyValues{
			Type: KVTypeSimple,
			KVs:  [][2]*string{{&key, value}},
		},
	}}, nil
}

// releaseNothing is the release step of parsers that allocate nothing
// outside the Go heap.
func releaseNothing([]ledgercache.ParsedStateProof) error { return nil }
