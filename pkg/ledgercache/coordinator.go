package ledgercache

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Option is a functional option for configuring a Coordinator.
type Option interface {
	apply(*Coordinator)
}

type optionFunc func(*Coordinator)

func (f optionFunc) apply(c *Coordinator) {
	f(c)
}

// WithClock overrides the time source used for fetch timestamps and freshness.
func WithClock(now func() time.Time) Option {
	return optionFunc(func(c *Coordinator) {
		c.now = now
	})
}

// WithObserver sets the observer notified of cache checks, stores and purges.
func WithObserver(o Observer) Option {
	return optionFunc(func(c *Coordinator) {
		c.observer = o
	})
}

// WithLogger sets the logger. Store failures after a good fetch are logged
// here since they do not fail the call.
func WithLogger(l *slog.Logger) Option {
	return optionFunc(func(c *Coordinator) {
		c.logger = l
	})
}

// Coordinator serves schema and credential definition reads through the cache.
//
// At most one ledger fetch runs per (wallet, kind, id). Concurrent GETs that
// need a refetch for the same key wait for the running fetch and share its
// outcome.
type Coordinator struct {
	fetcher *Fetcher
	store   *CacheStore

	now      func() time.Time
	observer Observer
	logger   *slog.Logger

	mu       sync.Mutex
	inFlight map[CacheKey]*inflightFetch
}

// inflightFetch tracks an in-progress fetch to avoid duplicate ledger reads.
type inflightFetch struct {
	done chan struct{}

	// store is raised by any waiter that wants the result cached; guarded by
	// Coordinator.mu until sealed.
	store  bool
	sealed bool

	payload []byte
	err     error
}

// NewCoordinator creates a coordinator over fetcher and store.
func NewCoordinator(fetcher *Fetcher, store *CacheStore, opts ...Option) *Coordinator {
	c := &Coordinator{
		fetcher:  fetcher,
		store:    store,
		now:      time.Now,
		observer: NoOpObserver{},
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		inFlight: make(map[CacheKey]*inflightFetch),
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c
}

// Registry returns the state proof parser registry used by the fetcher.
func (c *Coordinator) Registry() *Registry {
	return c.fetcher.Registry()
}

// GetSchema returns the schema id, from the cache when opts allow it and
// from the ledger otherwise.
func (c *Coordinator) GetSchema(ctx context.Context, pool PoolHandle, wallet WalletHandle, submitterDID, id string, opts SchemaOptions) ([]byte, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	key := CacheKey{Wallet: wallet, Kind: KindSchema, ID: id}

	var (
		entry   *CacheEntry
		latency time.Duration
	)
	if !opts.NoCache {
		var err error
		if entry, latency, err = c.readCache(ctx, key); err != nil {
			return nil, err
		}
	}

	decision := DecideSchema(opts, entry, c.now().Unix())
	c.observeCheck(ctx, key, entry, decision, latency)

	switch decision {
	case ServeCached:
		return entry.Payload, nil
	case ErrorStaleRequired:
		return nil, fmt.Errorf("%w: %s", ErrStaleRequired, key)
	default:
		return c.fetchShared(ctx, pool, submitterDID, key, !opts.NoStore)
	}
}

// GetCredDef returns the credential definition id, from the cache unless
// opts.ForceUpdate is set or nothing is cached. Fetched results are always
// stored.
func (c *Coordinator) GetCredDef(ctx context.Context, pool PoolHandle, wallet WalletHandle, submitterDID, id string, opts CredDefOptions) ([]byte, error) {
	key := CacheKey{Wallet: wallet, Kind: KindCredDef, ID: id}

	var (
		entry   *CacheEntry
		latency time.Duration
	)
	if !opts.ForceUpdate {
		var err error
		if entry, latency, err = c.readCache(ctx, key); err != nil {
			return nil, err
		}
	}

	decision := DecideCredDef(opts, entry)
	c.observeCheck(ctx, key, entry, decision, latency)

	if decision == ServeCached {
		return entry.Payload, nil
	}
	return c.fetchShared(ctx, pool, submitterDID, key, true)
}

// GetRevocRegDef reads a revocation registry definition from the ledger. The
// reply is verified like any other but never cached.
func (c *Coordinator) GetRevocRegDef(ctx context.Context, pool PoolHandle, submitterDID, id string) ([]byte, error) {
	res, err := c.fetcher.Fetch(ctx, pool, submitterDID, KindRevocRegDef, id)
	if err != nil {
		return nil, err
	}
	return res.Payload, nil
}

// PurgeSchemaCache removes cached schemas of wallet selected by opts.MinFresh.
func (c *Coordinator) PurgeSchemaCache(ctx context.Context, wallet WalletHandle, opts PurgeOptions) (int, error) {
	return c.purge(ctx, wallet, KindSchema, opts)
}

// PurgeCredDefCache removes cached credential definitions of wallet selected
// by opts.MinFresh.
func (c *Coordinator) PurgeCredDefCache(ctx context.Context, wallet WalletHandle, opts PurgeOptions) (int, error) {
	return c.purge(ctx, wallet, KindCredDef, opts)
}

func (c *Coordinator) purge(ctx context.Context, wallet WalletHandle, kind Kind, opts PurgeOptions) (int, error) {
	if err := opts.Validate(); err != nil {
		return 0, err
	}
	start := c.now()
	removed, err := c.store.Purge(ctx, wallet, kind, opts.MinFresh, start.Unix())
	c.observer.OnPurge(ctx, &PurgeEvent{
		Wallet:   wallet,
		Kind:     kind,
		MinFresh: opts.MinFresh,
		Removed:  removed,
		Duration: c.now().Sub(start),
		Error:    err,
	})
	return removed, err
}

func (c *Coordinator) readCache(ctx context.Context, key CacheKey) (*CacheEntry, time.Duration, error) {
	start := c.now()
	entry, err := c.store.Get(ctx, key)
	latency := c.now().Sub(start)
	if err != nil {
		c.observer.OnCacheCheck(ctx, &CacheCheckEvent{
			Wallet:  key.Wallet,
			Kind:    key.Kind,
			ID:      key.ID,
			Latency: latency,
			Error:   err,
		})
		return nil, latency, err
	}
	return entry, latency, nil
}

func (c *Coordinator) observeCheck(ctx context.Context, key CacheKey, entry *CacheEntry, decision Decision, latency time.Duration) {
	c.observer.OnCacheCheck(ctx, &CacheCheckEvent{
		Wallet:   key.Wallet,
		Kind:     key.Kind,
		ID:       key.ID,
		Hit:      entry != nil,
		Decision: decision,
		Latency:  latency,
	})
}

// fetchShared runs or joins the fetch for key. The leader stores the result
// if any participant asked for it before the flight was sealed; sealing
// happens before the write so the leader is the only writer for the key.
// Waiters get their own copy of the payload.
func (c *Coordinator) fetchShared(ctx context.Context, pool PoolHandle, submitterDID string, key CacheKey, store bool) ([]byte, error) {
	c.mu.Lock()

	// Check if already in-flight (another goroutine is fetching this key)
	if flight, ok := c.inFlight[key]; ok {
		if store && !flight.sealed {
			flight.store = true
		}
		c.mu.Unlock()
		// Wait for the other goroutine to finish
		select {
		case <-flight.done:
			return bytes.Clone(flight.payload), flight.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	flight := &inflightFetch{done: make(chan struct{}), store: store}
	c.inFlight[key] = flight
	c.mu.Unlock()

	// A panicking parser or store must not leave the key wedged: waiters
	// fail and the panic continues to the caller.
	landed := false
	defer func() {
		if landed {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit
			c.land(key, flight, nil, fmt.Errorf("shared fetch of %s aborted", key))
			return
		}
		c.land(key, flight, nil, fmt.Errorf("shared fetch of %s panicked: %v", key, r))
		panic(r)
	}()

	res, err := c.fetcher.Fetch(ctx, pool, submitterDID, key.Kind, key.ID)

	c.mu.Lock()
	flight.sealed = true
	shouldStore := flight.store
	c.mu.Unlock()

	var payload []byte
	if err == nil {
		payload = res.Payload
		if shouldStore {
			c.put(ctx, key, payload)
		}
	}

	c.land(key, flight, payload, err)
	landed = true
	return payload, err
}

// land publishes the outcome of a flight and releases its waiters.
func (c *Coordinator) land(key CacheKey, flight *inflightFetch, payload []byte, err error) {
	c.mu.Lock()
	flight.sealed = true
	delete(c.inFlight, key)
	c.mu.Unlock()

	flight.payload = bytes.Clone(payload)
	flight.err = err
	close(flight.done)
}

// put writes a fetched payload. Failures only mean the result is not cached.
func (c *Coordinator) put(ctx context.Context, key CacheKey, payload []byte) {
	err := c.store.Put(ctx, key, CacheEntry{Payload: payload, FetchedAt: c.now().Unix()})
	if err != nil {
		c.logger.WarnContext(ctx, "failed to cache ledger result",
			slog.String("key", key.String()),
			slog.String("error", err.Error()),
		)
	}
	c.observer.OnStore(ctx, &StoreEvent{
		Wallet: key.Wallet,
		Kind:   key.Kind,
		ID:     key.ID,
		Error:  err,
	})
}
