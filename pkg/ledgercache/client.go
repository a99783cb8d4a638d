package ledgercache

import (
	"context"
	"strings"
)

// IdentifierValidator checks caller supplied identifiers before a command is
// queued.
type IdentifierValidator interface {
	ValidateDID(did string) error
	ValidateSchemaID(id string) error
	ValidateCredDefID(id string) error
	ValidateRevocRegDefID(id string) error
}

// PayloadCallback receives the artifact JSON of a GET command.
type PayloadCallback func(handle CommandHandle, payload []byte, err error)

// PurgeCallback receives the outcome of a purge command.
type PurgeCallback func(handle CommandHandle, removed int, err error)

// ClientOption is a functional option for configuring a Client.
type ClientOption interface {
	applyClient(*Client)
}

type clientOptionFunc func(*Client)

func (f clientOptionFunc) applyClient(c *Client) {
	f(c)
}

// WithIdentifierValidator replaces the default check, which only rejects
// empty identifiers.
func WithIdentifierValidator(v IdentifierValidator) ClientOption {
	return clientOptionFunc(func(c *Client) {
		c.validator = v
	})
}

// Client is the asynchronous caller-facing API. Every GET and purge validates
// its arguments synchronously, queues a command on the dispatcher and returns
// the command handle; the outcome arrives through the callback.
type Client struct {
	coordinator *Coordinator
	dispatcher  *Dispatcher
	validator   IdentifierValidator
}

// NewClient creates a client that runs coordinator operations on dispatcher.
func NewClient(coordinator *Coordinator, dispatcher *Dispatcher, opts ...ClientOption) *Client {
	c := &Client{
		coordinator: coordinator,
		dispatcher:  dispatcher,
		validator:   nonEmptyIdentifiers{},
	}
	for _, opt := range opts {
		opt.applyClient(c)
	}
	return c
}

// GetSchema queues a cached schema read. optionsJSON holds SchemaOptions;
// empty means defaults.
func (c *Client) GetSchema(pool PoolHandle, wallet WalletHandle, submitterDID, id, optionsJSON string, cb PayloadCallback) (CommandHandle, error) {
	if cb == nil {
		return 0, invalidArgf("nil callback")
	}
	if err := c.validator.ValidateDID(submitterDID); err != nil {
		return 0, err
	}
	if err := c.validator.ValidateSchemaID(id); err != nil {
		return 0, err
	}
	opts, err := ParseSchemaOptions(optionsJSON)
	if err != nil {
		return 0, err
	}

	return c.dispatcher.Submit("get_schema",
		func(ctx context.Context) (any, error) {
			return c.coordinator.GetSchema(ctx, pool, wallet, submitterDID, id, opts)
		},
		payloadCompletion(cb),
	)
}

// GetCredDef queues a cached credential definition read. optionsJSON holds
// CredDefOptions; empty means defaults.
func (c *Client) GetCredDef(pool PoolHandle, wallet WalletHandle, submitterDID, id, optionsJSON string, cb PayloadCallback) (CommandHandle, error) {
	if cb == nil {
		return 0, invalidArgf("nil callback")
	}
	if err := c.validator.ValidateDID(submitterDID); err != nil {
		return 0, err
	}
	if err := c.validator.ValidateCredDefID(id); err != nil {
		return 0, err
	}
	opts, err := ParseCredDefOptions(optionsJSON)
	if err != nil {
		return 0, err
	}

	return c.dispatcher.Submit("get_cred_def",
		func(ctx context.Context) (any, error) {
			return c.coordinator.GetCredDef(ctx, pool, wallet, submitterDID, id, opts)
		},
		payloadCompletion(cb),
	)
}

// GetRevocRegDef queues a revocation registry definition read. It always
// asks the ledger; revocation data is not cached.
func (c *Client) GetRevocRegDef(pool PoolHandle, submitterDID, id string, cb PayloadCallback) (CommandHandle, error) {
	if cb == nil {
		return 0, invalidArgf("nil callback")
	}
	if err := c.validator.ValidateDID(submitterDID); err != nil {
		return 0, err
	}
	if err := c.validator.ValidateRevocRegDefID(id); err != nil {
		return 0, err
	}

	return c.dispatcher.Submit("get_revoc_reg_def",
		func(ctx context.Context) (any, error) {
			return c.coordinator.GetRevocRegDef(ctx, pool, submitterDID, id)
		},
		payloadCompletion(cb),
	)
}

// PurgeSchemaCache queues a purge of cached schemas. optionsJSON holds
// PurgeOptions; empty purges everything.
func (c *Client) PurgeSchemaCache(wallet WalletHandle, optionsJSON string, cb PurgeCallback) (CommandHandle, error) {
	return c.purge("purge_schema_cache", wallet, optionsJSON, cb, c.coordinator.PurgeSchemaCache)
}

// PurgeCredDefCache queues a purge of cached credential definitions.
func (c *Client) PurgeCredDefCache(wallet WalletHandle, optionsJSON string, cb PurgeCallback) (CommandHandle, error) {
	return c.purge("purge_cred_def_cache", wallet, optionsJSON, cb, c.coordinator.PurgeCredDefCache)
}

type purgeFunc func(ctx context.Context, wallet WalletHandle, opts PurgeOptions) (int, error)

func (c *Client) purge(name string, wallet WalletHandle, optionsJSON string, cb PurgeCallback, fn purgeFunc) (CommandHandle, error) {
	if cb == nil {
		return 0, invalidArgf("nil callback")
	}
	opts, err := ParsePurgeOptions(optionsJSON)
	if err != nil {
		return 0, err
	}

	return c.dispatcher.Submit(name,
		func(ctx context.Context) (any, error) {
			return fn(ctx, wallet, opts)
		},
		func(handle CommandHandle, result any, err error) {
			removed, _ := result.(int)
			cb(handle, removed, err)
		},
	)
}

// RegisterTransactionParser installs the state proof parser for txnType.
// It takes effect for every fetch started afterwards.
func (c *Client) RegisterTransactionParser(txnType string, parse ParseFunc, release ReleaseFunc) error {
	return c.coordinator.Registry().Register(txnType, parse, release)
}

// GetResponseMetadata extracts freshness metadata from a raw ledger reply
// and returns it as JSON.
func (c *Client) GetResponseMetadata(reply string) (string, error) {
	m, err := GetResponseMetadata([]byte(reply))
	if err != nil {
		return "", err
	}
	out, err := m.MarshalJSON()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func payloadCompletion(cb PayloadCallback) Completion {
	return func(handle CommandHandle, result any, err error) {
		payload, _ := result.([]byte)
		if err != nil {
			payload = nil
		}
		cb(handle, payload, err)
	}
}

type nonEmptyIdentifiers struct{}

func (nonEmptyIdentifiers) ValidateDID(did string) error {
	return requireNonEmpty("submitter DID", did)
}

func (nonEmptyIdentifiers) ValidateSchemaID(id string) error {
	return requireNonEmpty("schema id", id)
}

func (nonEmptyIdentifiers) ValidateCredDefID(id string) error {
	return requireNonEmpty("cred def id", id)
}

func (nonEmptyIdentifiers) ValidateRevocRegDefID(id string) error {
	return requireNonEmpty("revoc reg def id", id)
}

func requireNonEmpty(what, v string) error {
	if strings.TrimSpace(v) == "" {
		return invalidArgf("empty %s", what)
	}
	return nil
}
