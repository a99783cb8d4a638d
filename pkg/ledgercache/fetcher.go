package ledgercache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/tidwall/gjson"
)

// FetcherOption is a functional option for configuring a Fetcher.
type FetcherOption interface {
	applyFetcher(*Fetcher)
}

type fetcherOptionFunc func(*Fetcher)

func (f fetcherOptionFunc) applyFetcher(c *Fetcher) {
	f(c)
}

// WithReplyFreshness rejects replies whose node has not ordered a transaction
// within d (measured on the state proof timestamp). 0 disables the check.
func WithReplyFreshness(d time.Duration) FetcherOption {
	return fetcherOptionFunc(func(f *Fetcher) {
		f.replyFreshness = d
	})
}

// WithFetcherClock overrides the time source.
func WithFetcherClock(now func() time.Time) FetcherOption {
	return fetcherOptionFunc(func(f *Fetcher) {
		f.now = now
	})
}

// WithFetcherObserver sets the observer notified after every fetch.
func WithFetcherObserver(o Observer) FetcherOption {
	return fetcherOptionFunc(func(f *Fetcher) {
		f.observer = o
	})
}

// WithFetcherLogger sets the logger used for release failures.
func WithFetcherLogger(l *slog.Logger) FetcherOption {
	return fetcherOptionFunc(func(f *Fetcher) {
		f.logger = l
	})
}

// FetchResult is a verified artifact and the freshness facts of its reply.
type FetchResult struct {
	Payload  []byte
	Metadata ResponseMetadata
	TxnType  string
}

// Fetcher performs consensus-verified ledger reads.
// A reply is only accepted once its state proof verifies; the parser for the
// reply's transaction type is taken from the Registry.
type Fetcher struct {
	registry  *Registry
	builder   RequestBuilder
	parser    ResponseParser
	transport Transport
	verifier  ProofVerifier

	replyFreshness time.Duration
	now            func() time.Time
	observer       Observer
	logger         *slog.Logger
}

// NewFetcher creates a Fetcher from its collaborators.
func NewFetcher(
	registry *Registry,
	builder RequestBuilder,
	parser ResponseParser,
	transport Transport,
	verifier ProofVerifier,
	opts ...FetcherOption,
) *Fetcher {
	f := &Fetcher{
		registry:  registry,
		builder:   builder,
		parser:    parser,
		transport: transport,
		verifier:  verifier,
		now:       time.Now,
		observer:  NoOpObserver{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt.applyFetcher(f)
	}
	return f
}

// Registry returns the parser registry consulted by this fetcher.
func (f *Fetcher) Registry() *Registry {
	return f.registry
}

// Fetch reads the artifact kind/id from one node of pool and verifies it.
func (f *Fetcher) Fetch(ctx context.Context, pool PoolHandle, submitterDID string, kind Kind, id string) (*FetchResult, error) {
	start := f.now()
	res, err := f.fetch(ctx, pool, submitterDID, kind, id)

	event := &FetchEvent{
		Pool:     pool,
		Kind:     kind,
		ID:       id,
		Duration: f.now().Sub(start),
		Error:    err,
	}
	if res != nil {
		event.TxnType = res.TxnType
		event.Metadata = res.Metadata
	}
	f.observer.OnFetch(ctx, event)

	return res, err
}

func (f *Fetcher) fetch(ctx context.Context, pool PoolHandle, submitterDID string, kind Kind, id string) (*FetchResult, error) {
	fail := func(txnType string, sentinel, cause error) (*FetchResult, error) {
		return nil, &FetchError{Kind: kind, ID: id, TxnType: txnType, Sentinel: sentinel, Cause: cause}
	}

	request, err := f.buildRequest(kind, submitterDID, id)
	if err != nil {
		return fail("", ErrInvalidArgument, err)
	}
	stateKey, err := f.builder.StateKey(kind, id)
	if err != nil {
		return fail("", ErrInvalidArgument, err)
	}

	reply, err := f.transport.SubmitRead(ctx, pool, request)
	if err != nil {
		return fail("", ErrTransportFailure, err)
	}

	result, err := replyResult(reply)
	if err != nil {
		if errors.Is(err, ErrLedgerRejected) {
			return fail("", ErrLedgerRejected, err)
		}
		return fail("", ErrTransportFailure, err)
	}

	txnType := result.Get("type").String()
	parser, ok := f.registry.Lookup(txnType)
	if !ok {
		return fail(txnType, ErrUnknownTransactionType, nil)
	}

	if err := f.verify(parser, reply, result, stateKey); err != nil {
		return fail(txnType, ErrStateProofVerificationFailed, err)
	}

	metadata := metadataV0(result)
	if result.Get("ver").String() == "1" {
		metadata = metadataV1(result)
	}
	if err := f.checkReplyFreshness(metadata); err != nil {
		return fail(txnType, ErrStaleReply, err)
	}

	payload, err := f.parseResponse(kind, reply)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fail(txnType, ErrNotFound, nil)
		}
		return fail(txnType, ErrTransportFailure, err)
	}

	return &FetchResult{
		Payload:  payload,
		Metadata: metadata,
		TxnType:  txnType,
	}, nil
}

// verify runs the registered parser and the proof verifier. Every proven key
// must be stateKey, so a node cannot answer with a genuine proof for another
// artifact. The parser's release callback runs on every path once parse has
// returned a result.
func (f *Fetcher) verify(parser StateProofParser, reply []byte, result gjson.Result, stateKey string) error {
	parsed, err := parser.Parse(reply)
	if parsed != nil {
		defer func() {
			if rerr := parser.Release(parsed); rerr != nil {
				f.logger.Warn("state proof release failed",
					slog.String("txn_type", parser.TxnType),
					slog.String("error", rerr.Error()),
				)
			}
		}()
	}
	if err != nil {
		return err
	}
	if len(parsed) == 0 {
		return errors.New("reply carries no state proof")
	}
	for _, p := range parsed {
		if len(p.KVsToVerify.KVs) == 0 {
			return errors.New("state proof verifies no keys")
		}
		for _, kv := range p.KVsToVerify.KVs {
			if kv[0] == nil || *kv[0] != stateKey {
				return fmt.Errorf("state proof is not for the requested key %q", stateKey)
			}
		}
	}

	signedRoot, err := replySignedRoot(result)
	if err != nil {
		return err
	}
	if signedRoot == nil {
		for _, p := range parsed {
			if p.MultiSignature == nil {
				return errors.New("state proof has no multi signature")
			}
		}
	}

	ok, err := f.verifier.Verify(parsed, signedRoot)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("proof does not match signed root")
	}
	return nil
}

func (f *Fetcher) checkReplyFreshness(m ResponseMetadata) error {
	if f.replyFreshness <= 0 || m.LastTxnTime == nil {
		return nil
	}
	lastOrdered := time.Unix(int64(*m.LastTxnTime), 0)
	if age := f.now().Sub(lastOrdered); age > f.replyFreshness {
		return errors.New("node last ordered " + age.Truncate(time.Second).String() + " ago")
	}
	return nil
}

func (f *Fetcher) buildRequest(kind Kind, submitterDID, id string) ([]byte, error) {
	switch kind {
	case KindSchema:
		return f.builder.BuildGetSchemaRequest(submitterDID, id)
	case KindCredDef:
		return f.builder.BuildGetCredDefRequest(submitterDID, id)
	case KindRevocRegDef:
		return f.builder.BuildGetRevocRegDefRequest(submitterDID, id)
	default:
		return nil, invalidArgf("unsupported artifact kind %s", kind)
	}
}

func (f *Fetcher) parseResponse(kind Kind, reply []byte) ([]byte, error) {
	switch kind {
	case KindSchema:
		return f.parser.ParseGetSchemaResponse(reply)
	case KindCredDef:
		return f.parser.ParseGetCredDefResponse(reply)
	case KindRevocRegDef:
		return f.parser.ParseGetRevocRegDefResponse(reply)
	default:
		return nil, invalidArgf("unsupported artifact kind %s", kind)
	}
}

// replySignedRoot decodes result.state_proof.multi_signature, if present.
func replySignedRoot(result gjson.Result) (*MultiSignature, error) {
	raw := result.Get("state_proof.multi_signature")
	if !raw.IsObject() {
		return nil, nil
	}
	var ms MultiSignature
	if err := unmarshalResult(raw, &ms); err != nil {
		return nil, err
	}
	return &ms, nil
}
