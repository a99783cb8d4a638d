package ledger

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/tidwall/gjson"

	"ledgercache/pkg/ledgercache"
)

// Ledger transaction types.
const (
	TxnTypeGetSchema      = "107"
	TxnTypeGetCredDef     = "108"
	TxnTypeGetRevocRegDef = "115"
)

const protocolVersion = 2

// Builder builds GET_SCHEMA / GET_CLAIM_DEF requests and turns verified
// replies into artifact JSON.
type Builder struct {
	lastReqID atomic.Uint64
	now       func() time.Time
}

var (
	_ ledgercache.RequestBuilder = (*Builder)(nil)
	_ ledgercache.ResponseParser = (*Builder)(nil)
)

// NewBuilder creates a request builder.
func NewBuilder() *Builder {
	return &Builder{now: time.Now}
}

type request struct {
	ReqID           uint64 `json:"reqId"`
	Identifier      string `json:"identifier"`
	Operation       any    `json:"operation"`
	ProtocolVersion int    `json:"protocolVersion"`
}

type getSchemaOperation struct {
	Type string        `json:"type"`
	Dest string        `json:"dest"`
	Data getSchemaData `json:"data"`
}

type getSchemaData struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type getCredDefOperation struct {
	Type          string `json:"type"`
	Ref           uint64 `json:"ref"`
	SignatureType string `json:"signature_type"`
	Origin        string `json:"origin"`
	Tag           string `json:"tag"`
}

type getRevocRegDefOperation struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// BuildGetSchemaRequest builds a GET_SCHEMA request for a schema id.
func (b *Builder) BuildGetSchemaRequest(submitterDID, id string) ([]byte, error) {
	if err := ValidateDID(submitterDID); err != nil {
		return nil, err
	}
	sid, err := ParseSchemaID(id)
	if err != nil {
		return nil, err
	}
	return b.build(submitterDID, getSchemaOperation{
		Type: TxnTypeGetSchema,
		Dest: sid.DID,
		Data: getSchemaData{Name: sid.Name, Version: sid.Version},
	})
}

// BuildGetCredDefRequest builds a GET_CLAIM_DEF request for a cred def id.
func (b *Builder) BuildGetCredDefRequest(submitterDID, id string) ([]byte, error) {
	if err := ValidateDID(submitterDID); err != nil {
		return nil, err
	}
	cid, err := ParseCredDefID(id)
	if err != nil {
		return nil, err
	}
	return b.build(submitterDID, getCredDefOperation{
		Type:          TxnTypeGetCredDef,
		Ref:           cid.SchemaRef,
		SignatureType: cid.SignatureType,
		Origin:        cid.DID,
		Tag:           cid.Tag,
	})
}

// BuildGetRevocRegDefRequest builds a GET_REVOC_REG_DEF request.
func (b *Builder) BuildGetRevocRegDefRequest(submitterDID, id string) ([]byte, error) {
	if err := ValidateDID(submitterDID); err != nil {
		return nil, err
	}
	rid, err := ParseRevocRegDefID(id)
	if err != nil {
		return nil, err
	}
	return b.build(submitterDID, getRevocRegDefOperation{
		Type: TxnTypeGetRevocRegDef,
		ID:   rid.String(),
	})
}

// StateKey returns the state trie key that proves the artifact kind/id.
func (b *Builder) StateKey(kind ledgercache.Kind, id string) (string, error) {
	switch kind {
	case ledgercache.KindSchema:
		sid, err := ParseSchemaID(id)
		if err != nil {
			return "", err
		}
		return SchemaStateKey(sid.DID, sid.Name, sid.Version), nil
	case ledgercache.KindCredDef:
		cid, err := ParseCredDefID(id)
		if err != nil {
			return "", err
		}
		return CredDefStateKey(cid.DID, cid.SignatureType, cid.SchemaRef, cid.Tag), nil
	case ledgercache.KindRevocRegDef:
		rid, err := ParseRevocRegDefID(id)
		if err != nil {
			return "", err
		}
		return rid.String(), nil
	default:
		return "", invalidf("no state key for %s", kind)
	}
}

func (b *Builder) build(submitterDID string, op any) ([]byte, error) {
	return json.Marshal(request{
		ReqID:           b.nextReqID(),
		Identifier:      submitterDID,
		Operation:       op,
		ProtocolVersion: protocolVersion,
	})
}

// nextReqID returns a strictly increasing id seeded from the clock.
func (b *Builder) nextReqID() uint64 {
	for {
		last := b.lastReqID.Load()
		next := uint64(b.now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if b.lastReqID.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Schema is the artifact JSON returned for schemas.
type Schema struct {
	Ver       string   `json:"ver"`
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Version   string   `json:"version"`
	AttrNames []string `json:"attrNames"`
	SeqNo     uint64   `json:"seqNo"`
}

// CredDef is the artifact JSON returned for credential definitions.
type CredDef struct {
	Ver      string          `json:"ver"`
	ID       string          `json:"id"`
	SchemaID string          `json:"schemaId"`
	Type     string          `json:"type"`
	Tag      string          `json:"tag"`
	Value    json.RawMessage `json:"value"`
}

// RevocRegDef is the artifact JSON returned for revocation registry
// definitions.
type RevocRegDef struct {
	Ver          string          `json:"ver"`
	ID           string          `json:"id"`
	RevocDefType string          `json:"revocDefType"`
	Tag          string          `json:"tag"`
	CredDefID    string          `json:"credDefId"`
	Value        json.RawMessage `json:"value"`
}

const artifactVersion = "1.0"

// ParseGetSchemaResponse converts a GET_SCHEMA reply into Schema JSON.
func (b *Builder) ParseGetSchemaResponse(reply []byte) ([]byte, error) {
	result, err := replyResultOf(reply, TxnTypeGetSchema)
	if err != nil {
		return nil, err
	}
	seqNo := result.Get("seqNo")
	data := result.Get("data")
	if seqNo.Type != gjson.Number || !data.IsObject() || !data.Get("attr_names").Exists() {
		return nil, notFoundf("schema %s:%s:%s:%s", result.Get("dest").String(), schemaMarker,
			data.Get("name").String(), data.Get("version").String())
	}

	schema := Schema{
		Ver: artifactVersion,
		ID: SchemaID{
			DID:     result.Get("dest").String(),
			Name:    data.Get("name").String(),
			Version: data.Get("version").String(),
		}.String(),
		Name:      data.Get("name").String(),
		Version:   data.Get("version").String(),
		AttrNames: []string{},
		SeqNo:     seqNo.Uint(),
	}
	for _, attr := range data.Get("attr_names").Array() {
		schema.AttrNames = append(schema.AttrNames, attr.String())
	}
	return json.Marshal(schema)
}

// ParseGetCredDefResponse converts a GET_CLAIM_DEF reply into CredDef JSON.
func (b *Builder) ParseGetCredDefResponse(reply []byte) ([]byte, error) {
	result, err := replyResultOf(reply, TxnTypeGetCredDef)
	if err != nil {
		return nil, err
	}
	id := credDefIDOf(result)
	data := result.Get("data")
	if !data.IsObject() {
		return nil, notFoundf("cred def %s", id)
	}

	return json.Marshal(CredDef{
		Ver:      artifactVersion,
		ID:       id.String(),
		SchemaID: strconv.FormatUint(id.SchemaRef, 10),
		Type:     id.SignatureType,
		Tag:      id.Tag,
		Value:    json.RawMessage(data.Raw),
	})
}

// ParseGetRevocRegDefResponse converts a GET_REVOC_REG_DEF reply into
// RevocRegDef JSON.
func (b *Builder) ParseGetRevocRegDefResponse(reply []byte) ([]byte, error) {
	result, err := replyResultOf(reply, TxnTypeGetRevocRegDef)
	if err != nil {
		return nil, err
	}
	data := result.Get("data")
	if !data.IsObject() {
		return nil, notFoundf("revoc reg def %s", result.Get("id").String())
	}

	return json.Marshal(RevocRegDef{
		Ver:          artifactVersion,
		ID:           result.Get("id").String(),
		RevocDefType: data.Get("revocDefType").String(),
		Tag:          data.Get("tag").String(),
		CredDefID:    data.Get("credDefId").String(),
		Value:        json.RawMessage(data.Get("value").Raw),
	})
}

func credDefIDOf(result gjson.Result) CredDefID {
	return CredDefID{
		DID:           result.Get("origin").String(),
		SignatureType: result.Get("signature_type").String(),
		SchemaRef:     result.Get("ref").Uint(),
		Tag:           result.Get("tag").String(),
	}
}

// replyResultOf returns the result object of a REPLY of the given type.
func replyResultOf(reply []byte, txnType string) (gjson.Result, error) {
	if !gjson.ValidBytes(reply) {
		return gjson.Result{}, fmt.Errorf("reply is not valid JSON")
	}
	doc := gjson.ParseBytes(reply)
	if op := doc.Get("op").String(); op != "REPLY" {
		return gjson.Result{}, fmt.Errorf("unexpected reply op %q", op)
	}
	result := doc.Get("result")
	if got := result.Get("type").String(); got != txnType {
		return gjson.Result{}, fmt.Errorf("reply type %q, want %q", got, txnType)
	}
	return result, nil
}
