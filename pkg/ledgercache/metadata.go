package ledgercache

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
)

// Reply operations sent by validator nodes.
const (
	opReply   = "REPLY"
	opReject  = "REJECT"
	opReqNack = "REQNACK"

	txnTypeGetValidatorInfo = "119"
)

// ResponseMetadata holds the freshness facts carried by a ledger reply.
// Every field is optional.
type ResponseMetadata struct {
	// SeqNo is the sequence number of the transaction the reply is about
	SeqNo *uint64 `json:"seqNo,omitempty"`

	// TxnTime is the ordering time of that transaction
	TxnTime *uint64 `json:"txnTime,omitempty"`

	// LastSeqNo is the latest sequence number known to the replying node
	LastSeqNo *uint64 `json:"lastSeqNo,omitempty"`

	// LastTxnTime is the latest ordering time known to the replying node
	LastTxnTime *uint64 `json:"lastTxnTime,omitempty"`
}

// MarshalJSON always emits all four keys, using null for absent values.
func (m ResponseMetadata) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		SeqNo       *uint64 `json:"seqNo"`
		TxnTime     *uint64 `json:"txnTime"`
		LastSeqNo   *uint64 `json:"lastSeqNo"`
		LastTxnTime *uint64 `json:"lastTxnTime"`
	}{m.SeqNo, m.TxnTime, m.LastSeqNo, m.LastTxnTime})
}

// GetResponseMetadata extracts ResponseMetadata from any write or read reply.
// GET_VALIDATOR_INFO replies carry no transaction metadata and are rejected
// with ErrInvalidArgument.
func GetResponseMetadata(reply []byte) (ResponseMetadata, error) {
	result, err := replyResult(reply)
	if err != nil {
		if errors.Is(err, ErrLedgerRejected) {
			return ResponseMetadata{}, err
		}
		return ResponseMetadata{}, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if result.Get("type").String() == txnTypeGetValidatorInfo {
		return ResponseMetadata{}, invalidArgf("GET_VALIDATOR_INFO replies carry no transaction metadata")
	}

	ver := result.Get("ver")
	switch {
	case !ver.Exists():
		return metadataV0(result), nil
	case ver.String() == "1":
		return metadataV1(result), nil
	default:
		return ResponseMetadata{}, invalidArgf("unsupported reply result version %q", ver.String())
	}
}

// replyResult validates a raw reply and returns its "result" object.
// Rejections are reported as ErrLedgerRejected; other errors describe a
// malformed reply and wrap no package sentinel.
func replyResult(reply []byte) (gjson.Result, error) {
	if !gjson.ValidBytes(reply) {
		return gjson.Result{}, errors.New("reply is not valid json")
	}
	root := gjson.ParseBytes(reply)
	if !root.IsObject() {
		return gjson.Result{}, errors.New("reply is not a json object")
	}

	switch op := root.Get("op").String(); op {
	case opReply:
	case opReject, opReqNack:
		return gjson.Result{}, &LedgerRejection{Op: op, Reason: root.Get("reason").String()}
	default:
		return gjson.Result{}, fmt.Errorf("unexpected reply op %q", op)
	}

	result := root.Get("result")
	if !result.IsObject() {
		return gjson.Result{}, errors.New("reply has no result object")
	}
	return result, nil
}

func metadataV0(result gjson.Result) ResponseMetadata {
	return ResponseMetadata{
		SeqNo:       optUint(result.Get("seqNo")),
		TxnTime:     optUint(result.Get("txnTime")),
		LastTxnTime: optUint(result.Get("state_proof.multi_signature.value.timestamp")),
	}
}

func metadataV1(result gjson.Result) ResponseMetadata {
	return ResponseMetadata{
		SeqNo:       optUint(result.Get("txnMetadata.seqNo")),
		TxnTime:     optUint(result.Get("txnMetadata.txnTime")),
		LastSeqNo:   optUint(result.Get("multiSignature.signedState.ledgerMetadata.size")),
		LastTxnTime: optUint(result.Get("multiSignature.signedState.stateMetadata.timestamp")),
	}
}

func optUint(r gjson.Result) *uint64 {
	if r.Type != gjson.Number {
		return nil
	}
	v := r.Uint()
	return &v
}

// LedgerRejection is a REQNACK or REJECT reply.
type LedgerRejection struct {
	Op     string
	Reason string
}

func (e *LedgerRejection) Error() string {
	return "ledger " + e.Op + ": " + e.Reason
}

func (e *LedgerRejection) Unwrap() error {
	return ErrLedgerRejected
}

func unmarshalResult(r gjson.Result, into any) error {
	return json.Unmarshal([]byte(r.Raw), into)
}
