package ledger

import (
	"strconv"
	"strings"

	"github.com/mr-tron/base58"

	"ledgercache/pkg/ledgercache"
)

// Identifier markers used in composite artifact ids.
const (
	schemaMarker      = "2"
	credDefMarker     = "3"
	revocRegDefMarker = "4"
	signatureTypeCL   = "CL"
	revocTypeCLAccum  = "CL_ACCUM"
)

// SchemaID is a parsed schema identifier: did:2:name:version.
type SchemaID struct {
	DID     string
	Name    string
	Version string
}

func (id SchemaID) String() string {
	return strings.Join([]string{id.DID, schemaMarker, id.Name, id.Version}, ":")
}

// CredDefID is a parsed credential definition identifier: did:3:CL:ref:tag,
// where ref is the sequence number of the schema transaction.
type CredDefID struct {
	DID           string
	SignatureType string
	SchemaRef     uint64
	Tag           string
}

func (id CredDefID) String() string {
	return strings.Join([]string{
		id.DID, credDefMarker, id.SignatureType, strconv.FormatUint(id.SchemaRef, 10), id.Tag,
	}, ":")
}

// RevocRegDefID is a parsed revocation registry definition identifier:
// did:4:<cred def id>:CL_ACCUM:tag.
type RevocRegDefID struct {
	DID          string
	CredDef      CredDefID
	RevocDefType string
	Tag          string
}

func (id RevocRegDefID) String() string {
	return strings.Join([]string{
		id.DID, revocRegDefMarker, id.CredDef.String(), id.RevocDefType, id.Tag,
	}, ":")
}

// ValidateDID checks that did is an unqualified DID: base58 of a 16 byte
// identifier or a 32 byte verkey. A "did:sov:" style method prefix is accepted.
func ValidateDID(did string) error {
	raw := unqualify(did)
	if raw == "" {
		return invalidf("empty DID")
	}
	decoded, err := base58.Decode(raw)
	if err != nil {
		return invalidf("DID %q is not base58: %v", did, err)
	}
	if n := len(decoded); n != 16 && n != 32 {
		return invalidf("DID %q decodes to %d bytes, want 16 or 32", did, n)
	}
	return nil
}

// ParseSchemaID parses and validates a schema id.
func ParseSchemaID(s string) (SchemaID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 4 || parts[1] != schemaMarker {
		return SchemaID{}, invalidf("schema id %q is not did:2:name:version", s)
	}
	if err := ValidateDID(parts[0]); err != nil {
		return SchemaID{}, err
	}
	if parts[2] == "" || parts[3] == "" {
		return SchemaID{}, invalidf("schema id %q has empty name or version", s)
	}
	return SchemaID{DID: parts[0], Name: parts[2], Version: parts[3]}, nil
}

// ParseCredDefID parses and validates a credential definition id.
func ParseCredDefID(s string) (CredDefID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 5 || parts[1] != credDefMarker {
		return CredDefID{}, invalidf("cred def id %q is not did:3:CL:ref:tag", s)
	}
	if err := ValidateDID(parts[0]); err != nil {
		return CredDefID{}, err
	}
	if parts[2] != signatureTypeCL {
		return CredDefID{}, invalidf("cred def id %q: unsupported signature type %q", s, parts[2])
	}
	ref, err := strconv.ParseUint(parts[3], 10, 64)
	if err != nil {
		return CredDefID{}, invalidf("cred def id %q: schema ref is not a sequence number", s)
	}
	if parts[4] == "" {
		return CredDefID{}, invalidf("cred def id %q has an empty tag", s)
	}
	return CredDefID{DID: parts[0], SignatureType: parts[2], SchemaRef: ref, Tag: parts[4]}, nil
}

// ParseRevocRegDefID parses and validates a revocation registry definition id.
func ParseRevocRegDefID(s string) (RevocRegDefID, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 9 || parts[1] != revocRegDefMarker {
		return RevocRegDefID{}, invalidf("revoc reg def id %q is not did:4:<cred def id>:CL_ACCUM:tag", s)
	}
	if err := ValidateDID(parts[0]); err != nil {
		return RevocRegDefID{}, err
	}
	credDef, err := ParseCredDefID(strings.Join(parts[2:7], ":"))
	if err != nil {
		return RevocRegDefID{}, err
	}
	if parts[7] != revocTypeCLAccum {
		return RevocRegDefID{}, invalidf("revoc reg def id %q: unsupported registry type %q", s, parts[7])
	}
	if parts[8] == "" {
		return RevocRegDefID{}, invalidf("revoc reg def id %q has an empty tag", s)
	}
	return RevocRegDefID{DID: parts[0], CredDef: credDef, RevocDefType: parts[7], Tag: parts[8]}, nil
}

// Validator checks identifiers for ledgercache.Client.
type Validator struct{}

var _ ledgercache.IdentifierValidator = Validator{}

func (Validator) ValidateDID(did string) error { return ValidateDID(did) }

func (Validator) ValidateSchemaID(id string) error {
	_, err := ParseSchemaID(id)
	return err
}

func (Validator) ValidateCredDefID(id string) error {
	_, err := ParseCredDefID(id)
	return err
}

func (Validator) ValidateRevocRegDefID(id string) error {
	_, err := ParseRevocRegDefID(id)
	return err
}

// unqualify strips a did:<method>: prefix.
func unqualify(did string) string {
	if strings.HasPrefix(did, "did:") {
		if i := strings.LastIndex(did, ":"); i >= 0 {
			return did[i+1:]
		}
	}
	return did
}
