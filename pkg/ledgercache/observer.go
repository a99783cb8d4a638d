package ledgercache

import (
	"context"
	"time"
)

// Observer is the interface for observing cache, fetch and command events.
// Implementations can emit metrics, logs, or traces to their observability backend.
//
// Observer methods are called synchronously on the hot path, so implementations
// should be fast and non-blocking.
type Observer interface {
	// OnCacheCheck is called after a GET consulted the cache policy.
	OnCacheCheck(ctx context.Context, event *CacheCheckEvent)

	// OnFetch is called when a ledger fetch completes (success or failure).
	OnFetch(ctx context.Context, event *FetchEvent)

	// OnStore is called after a fetched payload was written to the cache.
	OnStore(ctx context.Context, event *StoreEvent)

	// OnPurge is called when a purge sweep completes.
	OnPurge(ctx context.Context, event *PurgeEvent)

	// OnCommandStart is called when the dispatcher starts executing a command.
	OnCommandStart(ctx context.Context, event *CommandStartEvent)

	// OnCommandEnd is called right before a command's completion fires.
	OnCommandEnd(ctx context.Context, event *CommandEndEvent)
}

// CacheCheckEvent is emitted when a GET evaluates its cache policy.
type CacheCheckEvent struct {
	Wallet   WalletHandle
	Kind     Kind
	ID       string
	Hit      bool     // an entry was present
	Decision Decision // what the policy decided
	Latency  time.Duration
	Error    error // nil if the cache read succeeded
}

// FetchEvent is emitted when a consensus-verified fetch completes.
type FetchEvent struct {
	Pool     PoolHandle
	Kind     Kind
	ID       string
	TxnType  string
	Duration time.Duration
	Metadata ResponseMetadata
	Error    error
}

// StoreEvent is emitted after writing a fetched payload to the cache.
type StoreEvent struct {
	Wallet WalletHandle
	Kind   Kind
	ID     string
	Error  error // store failures do not fail the GET
}

// PurgeEvent is emitted when a purge sweep completes.
type PurgeEvent struct {
	Wallet   WalletHandle
	Kind     Kind
	MinFresh int64
	Removed  int
	Duration time.Duration
	Error    error
}

// CommandStartEvent is emitted when a queued command starts executing.
type CommandStartEvent struct {
	Handle     CommandHandle
	Command    string
	QueueDepth int           // commands still waiting after this one
	Waited     time.Duration // time spent queued
}

// CommandEndEvent is emitted when a command finishes.
type CommandEndEvent struct {
	Handle   CommandHandle
	Command  string
	Duration time.Duration
	Error    error
	Panicked bool
}

// NoOpObserver is a no-op implementation of Observer.
// Useful as a base for partial implementations.
type NoOpObserver struct{}

func (NoOpObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent)     {}
func (NoOpObserver) OnFetch(ctx context.Context, event *FetchEvent)               {}
func (NoOpObserver) OnStore(ctx context.Context, event *StoreEvent)               {}
func (NoOpObserver) OnPurge(ctx context.Context, event *PurgeEvent)               {}
func (NoOpObserver) OnCommandStart(ctx context.Context, event *CommandStartEvent) {}
func (NoOpObserver) OnCommandEnd(ctx context.Context, event *CommandEndEvent)     {}

// MultiObserver combines multiple observers into one.
// Events are sent to all observers in order.
type MultiObserver struct {
	Observers []Observer
}

func (m *MultiObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	for _, obs := range m.Observers {
		obs.OnCacheCheck(ctx, event)
	}
}

func (m *MultiObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	for _, obs := range m.Observers {
		obs.OnFetch(ctx, event)
	}
}

func (m *MultiObserver) OnStore(ctx context.Context, event *StoreEvent) {
	for _, obs := range m.Observers {
		obs.OnStore(ctx, event)
	}
}

func (m *MultiObserver) OnPurge(ctx context.Context, event *PurgeEvent) {
	for _, obs := range m.Observers {
		obs.OnPurge(ctx, event)
	}
}

func (m *MultiObserver) OnCommandStart(ctx context.Context, event *CommandStartEvent) {
	for _, obs := range m.Observers {
		obs.OnCommandStart(ctx, event)
	}
}

func (m *MultiObserver) OnCommandEnd(ctx context.Context, event *CommandEndEvent) {
	for _, obs := range m.Observers {
		obs.OnCommandEnd(ctx, event)
	}
}
