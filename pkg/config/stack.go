package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"ledgercache/pkg/ledger"
	"ledgercache/pkg/ledgercache"
	"ledgercache/pkg/pool"
)

// Stack is a fully wired ledgercache runtime.
type Stack struct {
	Client      *ledgercache.Client
	Coordinator *ledgercache.Coordinator
	Dispatcher  *ledgercache.Dispatcher
	Transport   ledgercache.Transport
	Pool        ledgercache.PoolHandle

	closeWallet func() error
}

// StackOption customises Build.
type StackOption interface {
	apply(*stackOptions)
}

type stackOptions struct {
	observer  ledgercache.Observer
	transport ledgercache.Transport
	verkeys   map[string]string
}

type stackOptionFunc func(*stackOptions)

func (f stackOptionFunc) apply(o *stackOptions) {
	f(o)
}

// WithStackObserver sets the observer shared by fetcher, coordinator and
// dispatcher.
func WithStackObserver(o ledgercache.Observer) StackOption {
	return stackOptionFunc(func(s *stackOptions) {
		s.observer = o
	})
}

// WithTransport replaces the ZeroMQ transport, e.g. with an in-process pool.
// verkeys are the validator keys used to verify its replies.
func WithTransport(t ledgercache.Transport, verkeys map[string]string) StackOption {
	return stackOptionFunc(func(s *stackOptions) {
		s.transport = t
		s.verkeys = verkeys
	})
}

// Build wires wallet store, pool transport, verifier, fetcher, coordinator,
// dispatcher and client from cfg.
func Build(ctx context.Context, cfg *Config, logger *slog.Logger, opts ...StackOption) (*Stack, error) {
	o := stackOptions{observer: ledgercache.NoOpObserver{}}
	for _, opt := range opts {
		opt.apply(&o)
	}

	stack := &Stack{Transport: o.transport, Pool: 1}
	verkeys := o.verkeys
	if stack.Transport == nil {
		t, handle, keys, err := openPool(cfg.Pool, logger)
		if err != nil {
			return nil, err
		}
		stack.Transport, stack.Pool, verkeys = t, handle, keys
	}

	verifier, err := ledger.NewVerifier(verkeys)
	if err != nil {
		return nil, err
	}
	registry := ledgercache.NewRegistry()
	if err := ledger.RegisterBuiltinParsers(registry); err != nil {
		return nil, err
	}

	wallet, closeWallet, err := OpenWallet(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	stack.closeWallet = closeWallet

	builder := ledger.NewBuilder()
	fetcher := ledgercache.NewFetcher(registry, builder, builder, stack.Transport, verifier,
		ledgercache.WithReplyFreshness(cfg.Pool.ReplyFreshness),
		ledgercache.WithFetcherObserver(o.observer),
		ledgercache.WithFetcherLogger(logger),
	)
	stack.Coordinator = ledgercache.NewCoordinator(fetcher, ledgercache.NewCacheStore(wallet),
		ledgercache.WithObserver(o.observer),
		ledgercache.WithLogger(logger),
	)
	stack.Dispatcher = ledgercache.NewDispatcher(
		ledgercache.WithMaxInflight(cfg.Dispatcher.MaxInflight),
		ledgercache.WithDispatcherObserver(o.observer),
		ledgercache.WithDispatcherLogger(logger),
	)
	stack.Client = ledgercache.NewClient(stack.Coordinator, stack.Dispatcher,
		ledgercache.WithIdentifierValidator(ledger.Validator{}),
	)
	return stack, nil
}

// Close stops the dispatcher, waiting for queued commands, then closes the
// wallet store.
func (s *Stack) Close() error {
	s.Dispatcher.Stop()
	if s.closeWallet != nil {
		return s.closeWallet()
	}
	return nil
}

func openPool(cfg PoolConfig, logger *slog.Logger) (*pool.Transport, ledgercache.PoolHandle, map[string]string, error) {
	if cfg.GenesisFile == "" {
		return nil, 0, nil, errors.New("LEDGERCACHE_GENESIS_FILE is required without a custom transport")
	}
	f, err := os.Open(cfg.GenesisFile)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("failed to open genesis: %w", err)
	}
	defer f.Close()

	nodes, err := pool.ParseGenesis(f)
	if err != nil {
		return nil, 0, nil, err
	}
	t := pool.NewTransport(pool.WithTimeout(cfg.Timeout), pool.WithLogger(logger))
	handle, err := t.OpenPool(nodes)
	if err != nil {
		return nil, 0, nil, err
	}
	return t, handle, pool.VerKeys(nodes), nil
}
