package ledger_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"ledgercache/pkg/ledger"
	"ledgercache/pkg/ledger/ledgertest"
	"ledgercache/pkg/ledgercache"
)

// proofFor returns the parsed schema proof and signed root of a reply.
func proofFor(t *testing.T, net *ledgertest.Network, schemaID string) ([]ledgercache.ParsedStateProof, *ledgercache.MultiSignature) {
	t.Helper()
	req, err := ledger.NewBuilder().BuildGetSchemaRequest(ledgertest.DID("s"), schemaID)
	require.NoError(t, err)
	reply, err := net.Reply(req)
	require.NoError(t, err)

	r := ledgercache.NewRegistry()
	require.NoError(t, ledger.RegisterBuiltinParsers(r))
	parser, ok := r.Lookup(ledger.TxnTypeGetSchema)
	require.True(t, ok)
	parsed, err := parser.Parse(reply)
	require.NoError(t, err)

	ms := gjson.GetBytes(reply, "result.state_proof.multi_signature")
	require.True(t, ms.IsObject())
	var signed ledgercache.MultiSignature
	require.NoError(t, json.Unmarshal([]byte(ms.Raw), &signed))
	return parsed, &signed
}

func TestVerifier_Quorum(t *testing.T) {
	for n, want := range map[int]int{1: 1, 3: 3, 4: 3, 7: 5, 10: 7} {
		v, err := ledger.NewVerifier(ledgertest.New(n).VerKeys())
		require.NoError(t, err)
		assert.Equal(t, want, v.Quorum(), "n=%d", n)
	}
}

func TestNewVerifier_RejectsBadKeys(t *testing.T) {
	_, err := ledger.NewVerifier(nil)
	assert.Error(t, err)
	_, err = ledger.NewVerifier(map[string]string{"Node1": "0OIl"})
	assert.Error(t, err)
	_, err = ledger.NewVerifier(map[string]string{"Node1": base58.Encode([]byte("short"))})
	assert.Error(t, err)
}

func TestVerify_ValidProof(t *testing.T) {
	net := ledgertest.New(4)
	id := net.WriteSchema(issuer, "degree", "1.0", "name")
	parsed, signed := proofFor(t, net, id)

	ok, err := net.Verifier().Verify(parsed, signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_AbsenceProof(t *testing.T) {
	net := ledgertest.New(4)
	parsed, signed := proofFor(t, net, issuer+":2:absent:1.0")
	require.Nil(t, parsed[0].KVsToVerify.KVs[0][1], "absent value")

	ok, err := net.Verifier().Verify(parsed, signed)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerify_Tampering(t *testing.T) {
	net := ledgertest.New(4)
	id := net.WriteSchema(issuer, "degree", "1.0", "name")

	tests := []struct {
		name    string
		tamper  func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature)
		wantErr bool
	}{
		{"changed value", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			forged := `{"lsn":1,"lut":1,"val":{}}`
			p.KVsToVerify.KVs[0][1] = &forged
		}, false},
		{"claims absence", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			p.KVsToVerify.KVs[0][1] = nil
		}, false},
		{"other key", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			other := issuer + ":2:other:1.0"
			p.KVsToVerify.KVs[0][0] = &other
		}, false},
		{"root differs from signed root", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			p.RootHash = base58.Encode(make([]byte, 32))
		}, false},
		{"signed value changed", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			ms.Value.Timestamp++
		}, false},
		{"below quorum", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			raw, _ := base58.Decode(ms.Signature)
			ms.Participants = ms.Participants[:2]
			ms.Signature = base58.Encode(raw[:2*64])
		}, false},
		{"duplicate participant", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			raw, _ := base58.Decode(ms.Signature)
			ms.Participants = []string{ms.Participants[0], ms.Participants[0], ms.Participants[0]}
			ms.Signature = base58.Encode(append(append(raw[:64:64], raw[:64]...), raw[:64]...))
		}, false},
		{"unknown participant", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			ms.Participants[0] = "Mallory"
		}, false},
		{"signature length mismatch", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			ms.Signature = base58.Encode(make([]byte, 10))
		}, true},
		{"proof nodes not base64", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			p.ProofNodes = "!!!"
		}, true},
		{"truncated proof node", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			raw, _ := base64.StdEncoding.DecodeString(p.ProofNodes)
			p.ProofNodes = base64.StdEncoding.EncodeToString(raw[:len(raw)-1])
		}, true},
		{"unsupported kv type", func(p *ledgercache.ParsedStateProof, ms *ledgercache.MultiSignature) {
			p.KVsToVerify.Type = "Subtrie"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parsed, signed := proofFor(t, net, id)
			tt.tamper(&parsed[0], signed)

			ok, err := net.Verifier().Verify(parsed, signed)
			assert.False(t, ok)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_ForeignValidatorSet(t *testing.T) {
	net := ledgertest.New(4)
	id := net.WriteSchema(issuer, "degree", "1.0", "name")
	parsed, signed := proofFor(t, net, id)

	// Same names, different keys
	other := make(map[string]string)
	for name := range net.VerKeys() {
		other[name] = base58.Encode(make([]byte, 32))
	}
	v, err := ledger.NewVerifier(other)
	require.NoError(t, err)

	ok, err := v.Verify(parsed, signed)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestVerify_NoFragments(t *testing.T) {
	_, err := ledgertest.New(4).Verifier().Verify(nil, nil)
	assert.Error(t, err)
}

func TestStateValue(t *testing.T) {
	v, err := ledger.StateValue(3, 1500, []byte(`{ "attr_names" : ["a"] }`))
	require.NoError(t, err)
	assert.Equal(t, `{"lsn":3,"lut":1500,"val":{"attr_names":["a"]}}`, v)

	_, err = ledger.StateValue(1, 1, []byte(`{`))
	assert.Error(t, err)
}

func TestLeafHash_AbsenceCommitsEmptyValue(t *testing.T) {
	empty := ""
	assert.Equal(t, ledger.LeafHash("k", nil), ledger.LeafHash("k", &empty))
	value := "v"
	assert.NotEqual(t, ledger.LeafHash("k", nil), ledger.LeafHash("k", &value))
	assert.NotEqual(t, ledger.LeafHash("k", &value), ledger.LeafHash("kv", nil))
}
