package ledger

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/mr-tron/base58"

	"ledgercache/pkg/ledgercache"
)

// Merkle hashing domain separators.
const (
	leafPrefix = 0x00
	nodePrefix = 0x01
)

// Audit path sides. A proof node is one side byte followed by a sha256 hash.
const (
	SiblingLeft  byte = 0
	SiblingRight byte = 1

	proofNodeSize = 1 + sha256.Size
)

// LeafHash is the Merkle leaf of a state entry. An absent value commits the
// key to the empty string.
func LeafHash(key string, value *string) [sha256.Size]byte {
	h := sha256.New()
	h.Write([]byte{leafPrefix})
	h.Write([]byte(key))
	h.Write([]byte{leafPrefix})
	if value != nil {
		h.Write([]byte(*value))
	}
	var out [sha256.Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// NodeHash combines two child hashes.
func NodeHash(left, right [sha256.Size]byte) [sha256.Size]byte {
	buf := make([]byte, 0, 1+2*sha256.Size)
	buf = append(buf, nodePrefix)
	buf = append(buf, left[:]...)
	buf = append(buf, right[:]...)
	return sha256.Sum256(buf)
}

// SignedMessage is the byte string each validator signs for a multi signature.
func SignedMessage(v ledgercache.MultiSignatureValue) ([]byte, error) {
	return json.Marshal(v)
}

// Verifier checks state proofs against a validator set: the audit path must
// lead to the signed state root, and the root must be signed by at least
// n - f distinct validators, f = (n-1)/3.
type Verifier struct {
	nodes map[string]ed25519.PublicKey
}

var _ ledgercache.ProofVerifier = (*Verifier)(nil)

// NewVerifier creates a verifier from validator names to base58 ed25519 verkeys.
func NewVerifier(verkeys map[string]string) (*Verifier, error) {
	if len(verkeys) == 0 {
		return nil, errors.New("verifier needs at least one validator key")
	}
	nodes := make(map[string]ed25519.PublicKey, len(verkeys))
	for name, vk := range verkeys {
		raw, err := base58.Decode(vk)
		if err != nil {
			return nil, fmt.Errorf("validator %s: verkey is not base58: %w", name, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("validator %s: verkey has %d bytes", name, len(raw))
		}
		nodes[name] = ed25519.PublicKey(raw)
	}
	return &Verifier{nodes: nodes}, nil
}

// Quorum returns the number of signatures required.
func (v *Verifier) Quorum() int {
	n := len(v.nodes)
	return n - (n-1)/3
}

// Validators returns the validator names in sorted order.
func (v *Verifier) Validators() []string {
	names := make([]string, 0, len(v.nodes))
	for name := range v.nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Verify reports whether every fragment proves its key/value pair under a
// quorum-signed root. Fragments without their own multi signature use
// signedRoot. Malformed input is an error; a well-formed proof that does not
// match is (false, nil).
func (v *Verifier) Verify(parsed []ledgercache.ParsedStateProof, signedRoot *ledgercache.MultiSignature) (bool, error) {
	if len(parsed) == 0 {
		return false, errors.New("no state proof fragments")
	}
	for i, p := range parsed {
		ms := p.MultiSignature
		if ms == nil {
			ms = signedRoot
		}
		if ms == nil {
			return false, fmt.Errorf("fragment %d has no multi signature", i)
		}

		ok, err := v.verifySignature(ms)
		if err != nil || !ok {
			return false, err
		}
		if p.RootHash != ms.Value.StateRootHash {
			return false, nil
		}
		ok, err = verifyPath(p)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

func (v *Verifier) verifySignature(ms *ledgercache.MultiSignature) (bool, error) {
	if len(ms.Participants) < v.Quorum() {
		return false, nil
	}
	sigs, err := base58.Decode(ms.Signature)
	if err != nil {
		return false, fmt.Errorf("multi signature is not base58: %w", err)
	}
	if len(sigs) != len(ms.Participants)*ed25519.SignatureSize {
		return false, fmt.Errorf("multi signature has %d bytes for %d participants", len(sigs), len(ms.Participants))
	}
	msg, err := SignedMessage(ms.Value)
	if err != nil {
		return false, err
	}

	seen := make(map[string]bool, len(ms.Participants))
	for i, name := range ms.Participants {
		key, ok := v.nodes[name]
		if !ok || seen[name] {
			return false, nil
		}
		seen[name] = true
		sig := sigs[i*ed25519.SignatureSize : (i+1)*ed25519.SignatureSize]
		if !ed25519.Verify(key, msg, sig) {
			return false, nil
		}
	}
	return true, nil
}

func verifyPath(p ledgercache.ParsedStateProof) (bool, error) {
	kvs := p.KVsToVerify
	if kvs.Type != "" && kvs.Type != KVTypeSimple {
		return false, fmt.Errorf("unsupported kvs type %q", kvs.Type)
	}
	if len(kvs.KVs) != 1 || kvs.KVs[0][0] == nil {
		return false, fmt.Errorf("simple proofs verify exactly one key, got %d", len(kvs.KVs))
	}
	root, err := base58.Decode(p.RootHash)
	if err != nil || len(root) != sha256.Size {
		return false, fmt.Errorf("root hash %q is not a base58 sha256 digest", p.RootHash)
	}
	nodes, err := base64.StdEncoding.DecodeString(p.ProofNodes)
	if err != nil {
		return false, fmt.Errorf("proof nodes are not base64: %w", err)
	}
	if len(nodes)%proofNodeSize != 0 {
		return false, fmt.Errorf("proof nodes have %d bytes", len(nodes))
	}

	h := LeafHash(*kvs.KVs[0][0], kvs.KVs[0][1])
	for off := 0; off < len(nodes); off += proofNodeSize {
		var sibling [sha256.Size]byte
		copy(sibling[:], nodes[off+1:off+proofNodeSize])
		switch nodes[off] {
		case SiblingLeft:
			h = NodeHash(sibling, h)
		case SiblingRight:
			h = NodeHash(h, sibling)
		default:
			return false, fmt.Errorf("proof node %d has side %d", off/proofNodeSize, nodes[off])
		}
	}
	return bytes.Equal(h[:], root), nil
}
