// Package river runs cache maintenance as River jobs.
//
// This package provides workers that drive a ledgercache.Coordinator from a
// River queue. It handles:
//   - Scheduled purges of stale schema and cred def entries
//   - Cache warm-up for known artifact ids, fanned out with a bounded group
//   - Error classification for River's retry logic
package river

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"golang.org/x/sync/errgroup"

	"ledgercache/pkg/ledgercache"
)

// Artifact kinds accepted in job args.
const (
	KindSchema  = "schema"
	KindCredDef = "cred_def"
)

// DefaultWarmConcurrency bounds parallel fetches of one warm-up job.
const DefaultWarmConcurrency = 4

// PurgeArgs selects what a purge job removes.
type PurgeArgs struct {
	Wallet int32 `json:"wallet"`

	// Kinds lists the caches to purge; empty means both
	Kinds []string `json:"kinds,omitempty"`

	// MinFresh removes entries older than this many seconds (-1 = all)
	MinFresh int64 `json:"min_fresh"`
}

func (PurgeArgs) Kind() string { return "ledgercache_purge" }

// WarmArgs lists artifacts to load into a wallet's cache.
type WarmArgs struct {
	Pool         int32    `json:"pool"`
	Wallet       int32    `json:"wallet"`
	SubmitterDID string   `json:"submitter_did"`
	SchemaIDs    []string `json:"schema_ids,omitempty"`
	CredDefIDs   []string `json:"cred_def_ids,omitempty"`

	// Refresh refetches even when a cached entry exists
	Refresh bool `json:"refresh,omitempty"`

	// Concurrency bounds parallel fetches; 0 means DefaultWarmConcurrency
	Concurrency int `json:"concurrency,omitempty"`
}

func (WarmArgs) Kind() string { return "ledgercache_warm" }

// PurgeWorker executes PurgeArgs jobs.
type PurgeWorker struct {
	river.WorkerDefaults[PurgeArgs]

	Coordinator *ledgercache.Coordinator
}

// NewPurgeWorker creates a purge worker.
func NewPurgeWorker(coord *ledgercache.Coordinator) *PurgeWorker {
	return &PurgeWorker{Coordinator: coord}
}

// Work purges every requested kind, attempting all of them before reporting.
func (w *PurgeWorker) Work(ctx context.Context, job *river.Job[PurgeArgs]) error {
	kinds := job.Args.Kinds
	if len(kinds) == 0 {
		kinds = []string{KindSchema, KindCredDef}
	}
	opts := ledgercache.PurgeOptions{MinFresh: job.Args.MinFresh}
	wallet := ledgercache.WalletHandle(job.Args.Wallet)

	var errs []error
	for _, kind := range kinds {
		var err error
		switch kind {
		case KindSchema:
			_, err = w.Coordinator.PurgeSchemaCache(ctx, wallet, opts)
		case KindCredDef:
			_, err = w.Coordinator.PurgeCredDefCache(ctx, wallet, opts)
		default:
			err = fmt.Errorf("%w: unknown cache kind %q", ledgercache.ErrInvalidArgument, kind)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("purge %s: %w", kind, err))
		}
	}
	return classifyError(errors.Join(errs...))
}

// WarmWorker executes WarmArgs jobs.
type WarmWorker struct {
	river.WorkerDefaults[WarmArgs]

	Coordinator *ledgercache.Coordinator
}

// NewWarmWorker creates a warm-up worker.
func NewWarmWorker(coord *ledgercache.Coordinator) *WarmWorker {
	return &WarmWorker{Coordinator: coord}
}

// Work fetches every listed artifact through the cache. The first failure
// cancels the remaining fetches.
func (w *WarmWorker) Work(ctx context.Context, job *river.Job[WarmArgs]) error {
	args := job.Args
	pool := ledgercache.PoolHandle(args.Pool)
	wallet := ledgercache.WalletHandle(args.Wallet)

	schemaOpts := ledgercache.DefaultSchemaOptions()
	schemaOpts.NoCache = args.Refresh
	credDefOpts := ledgercache.CredDefOptions{ForceUpdate: args.Refresh}

	limit := args.Concurrency
	if limit <= 0 {
		limit = DefaultWarmConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, id := range args.SchemaIDs {
		g.Go(func() error {
			if _, err := w.Coordinator.GetSchema(gctx, pool, wallet, args.SubmitterDID, id, schemaOpts); err != nil {
				return fmt.Errorf("warm schema %s: %w", id, err)
			}
			return nil
		})
	}
	for _, id := range args.CredDefIDs {
		g.Go(func() error {
			if _, err := w.Coordinator.GetCredDef(gctx, pool, wallet, args.SubmitterDID, id, credDefOpts); err != nil {
				return fmt.Errorf("warm cred def %s: %w", id, err)
			}
			return nil
		})
	}
	return classifyError(g.Wait())
}

// classifyError converts cache errors to River-appropriate errors.
// This helps River decide whether to retry or discard the job.
func classifyError(err error) error {
	if err == nil {
		return nil
	}

	// Retrying cannot fix bad arguments or a missing parser
	if errors.Is(err, ledgercache.ErrInvalidArgument) ||
		errors.Is(err, ledgercache.ErrUnknownTransactionType) ||
		errors.Is(err, ledgercache.ErrNotFound) {
		return river.JobCancel(err)
	}

	// Context cancellation - don't retry, job was cancelled
	if errors.Is(err, context.Canceled) {
		return river.JobCancel(err)
	}

	// Transport, storage, proof and stale reply failures may be transient:
	// return error as-is, let River retry
	return err
}

// PeriodicPurge schedules a purge job every interval, starting at client start.
func PeriodicPurge(interval time.Duration, args PurgeArgs) *river.PeriodicJob {
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return args, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

// Config configures NewClient.
type Config struct {
	// MaxWorkers for the default queue; 0 means 5
	MaxWorkers int

	// PeriodicJobs are registered with the client (see PeriodicPurge)
	PeriodicJobs []*river.PeriodicJob
}

// NewClient creates a River client on pool with the purge and warm workers
// registered.
func NewClient(pool *pgxpool.Pool, coord *ledgercache.Coordinator, cfg Config) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	river.AddWorker(workers, NewPurgeWorker(coord))
	river.AddWorker(workers, NewWarmWorker(coord))

	maxWorkers := cfg.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 5
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: maxWorkers},
		},
		Workers:      workers,
		PeriodicJobs: cfg.PeriodicJobs,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create river client: %w", err)
	}
	return client, nil
}
