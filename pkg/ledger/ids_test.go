package ledger_test

import (
	"testing"

	"github.com/mr-tron/base58"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ledgercache/pkg/ledger"
	"ledgercache/pkg/ledgercache"
)

var issuer = base58.Encode(make([]byte, 16))

func TestValidateDID(t *testing.T) {
	assert.NoError(t, ledger.ValidateDID(issuer))
	assert.NoError(t, ledger.ValidateDID(base58.Encode(make([]byte, 32))), "verkey length")
	assert.NoError(t, ledger.ValidateDID("did:sov:"+issuer), "qualified")

	for _, bad := range []string{"", "did:sov:", "0OIl", base58.Encode(make([]byte, 20))} {
		assert.ErrorIs(t, ledger.ValidateDID(bad), ledgercache.ErrInvalidArgument, bad)
	}
}

func TestSchemaID(t *testing.T) {
	id := ledger.SchemaID{DID: issuer, Name: "degree", Version: "1.0"}
	assert.Equal(t, issuer+":2:degree:1.0", id.String())

	parsed, err := ledger.ParseSchemaID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{
		"degree",
		issuer + ":3:degree:1.0",
		issuer + ":2::1.0",
		issuer + ":2:degree:",
		"xx:2:degree:1.0",
	} {
		_, err := ledger.ParseSchemaID(bad)
		assert.ErrorIs(t, err, ledgercache.ErrInvalidArgument, bad)
	}
}

func TestCredDefID(t *testing.T) {
	id := ledger.CredDefID{DID: issuer, SignatureType: "CL", SchemaRef: 14, Tag: "default"}
	assert.Equal(t, issuer+":3:CL:14:default", id.String())

	parsed, err := ledger.ParseCredDefID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{
		issuer + ":3:CL:14",
		issuer + ":3:BLS:14:default",
		issuer + ":3:CL:abc:default",
		issuer + ":3:CL:14:",
		issuer + ":2:CL:14:default",
	} {
		_, err := ledger.ParseCredDefID(bad)
		assert.ErrorIs(t, err, ledgercache.ErrInvalidArgument, bad)
	}
}

func TestRevocRegDefID(t *testing.T) {
	credDef := ledger.CredDefID{DID: issuer, SignatureType: "CL", SchemaRef: 14, Tag: "default"}
	id := ledger.RevocRegDefID{DID: issuer, CredDef: credDef, RevocDefType: "CL_ACCUM", Tag: "reg1"}
	assert.Equal(t, issuer+":4:"+issuer+":3:CL:14:default:CL_ACCUM:reg1", id.String())

	parsed, err := ledger.ParseRevocRegDefID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	for _, bad := range []string{
		issuer + ":3:CL:14:default",
		issuer + ":4:" + issuer + ":3:CL:14:default:CL_ACCUM",
		issuer + ":4:" + issuer + ":3:CL:14:default:CL_ACCUM:",
		issuer + ":4:" + issuer + ":3:CL:14:default:OTHER:reg1",
		issuer + ":4:" + issuer + ":2:CL:14:default:CL_ACCUM:reg1",
		issuer + ":5:" + issuer + ":3:CL:14:default:CL_ACCUM:reg1",
		"0OIl:4:" + issuer + ":3:CL:14:default:CL_ACCUM:reg1",
	} {
		_, err := ledger.ParseRevocRegDefID(bad)
		assert.ErrorIs(t, err, ledgercache.ErrInvalidArgument, bad)
	}
}

func TestValidator(t *testing.T) {
	var v ledgercache.IdentifierValidator = ledger.Validator{}
	assert.NoError(t, v.ValidateDID(issuer))
	assert.NoError(t, v.ValidateSchemaID(issuer+":2:a:1"))
	assert.NoError(t, v.ValidateCredDefID(issuer+":3:CL:1:t"))
	assert.Error(t, v.ValidateCredDefID(issuer+":2:a:1"))
	assert.NoError(t, v.ValidateRevocRegDefID(issuer+":4:"+issuer+":3:CL:1:t:CL_ACCUM:r"))
	assert.Error(t, v.ValidateRevocRegDefID(issuer+":3:CL:1:t"))
}
