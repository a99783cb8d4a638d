package ledgercache

import (
	"context"
	"log/slog"
)

// SlogObserver implements Observer using Go's structured logging (log/slog).
//
// Example:
//
//	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
//	observer := ledgercache.NewSlogObserver(logger, slog.LevelInfo)
//	coord := ledgercache.NewCoordinator(fetcher, store, ledgercache.WithObserver(observer))
type SlogObserver struct {
	logger   *slog.Logger
	minLevel slog.Level
}

// NewSlogObserver creates an observer that logs to the given slog.Logger.
// Only events at or above minLevel will be logged.
func NewSlogObserver(logger *slog.Logger, minLevel slog.Level) *SlogObserver {
	return &SlogObserver{
		logger:   logger,
		minLevel: minLevel,
	}
}

func (o *SlogObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "cache read failed",
				slog.Int("wallet", int(event.Wallet)),
				slog.String("kind", event.Kind.String()),
				slog.String("id", event.ID),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "cache check",
			slog.Int("wallet", int(event.Wallet)),
			slog.String("kind", event.Kind.String()),
			slog.String("id", event.ID),
			slog.Bool("hit", event.Hit),
			slog.String("decision", event.Decision.String()),
			slog.Duration("latency", event.Latency),
		)
	}
}

func (o *SlogObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "ledger fetch failed",
				slog.Int("pool", int(event.Pool)),
				slog.String("kind", event.Kind.String()),
				slog.String("id", event.ID),
				slog.Duration("duration", event.Duration),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelInfo {
		attrs := []any{
			slog.Int("pool", int(event.Pool)),
			slog.String("kind", event.Kind.String()),
			slog.String("id", event.ID),
			slog.String("txn_type", event.TxnType),
			slog.Duration("duration", event.Duration),
		}
		if event.Metadata.SeqNo != nil {
			attrs = append(attrs, slog.Uint64("seq_no", *event.Metadata.SeqNo))
		}
		if event.Metadata.LastTxnTime != nil {
			attrs = append(attrs, slog.Uint64("last_txn_time", *event.Metadata.LastTxnTime))
		}
		o.logger.InfoContext(ctx, "ledger fetch verified", attrs...)
	}
}

func (o *SlogObserver) OnStore(ctx context.Context, event *StoreEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelWarn {
			o.logger.WarnContext(ctx, "cache store failed, result not cached",
				slog.Int("wallet", int(event.Wallet)),
				slog.String("kind", event.Kind.String()),
				slog.String("id", event.ID),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "cache entry stored",
			slog.Int("wallet", int(event.Wallet)),
			slog.String("kind", event.Kind.String()),
			slog.String("id", event.ID),
		)
	}
}

func (o *SlogObserver) OnPurge(ctx context.Context, event *PurgeEvent) {
	if event.Error != nil {
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "cache purge failed",
				slog.Int("wallet", int(event.Wallet)),
				slog.String("kind", event.Kind.String()),
				slog.Int64("min_fresh", event.MinFresh),
				slog.Int("removed", event.Removed),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelInfo {
		o.logger.InfoContext(ctx, "cache purged",
			slog.Int("wallet", int(event.Wallet)),
			slog.String("kind", event.Kind.String()),
			slog.Int64("min_fresh", event.MinFresh),
			slog.Int("removed", event.Removed),
			slog.Duration("duration", event.Duration),
		)
	}
}

func (o *SlogObserver) OnCommandStart(ctx context.Context, event *CommandStartEvent) {
	if o.minLevel <= slog.LevelDebug {
		o.logger.DebugContext(ctx, "command started",
			slog.Int("handle", int(event.Handle)),
			slog.String("command", event.Command),
			slog.Int("queue_depth", event.QueueDepth),
			slog.Duration("waited", event.Waited),
		)
	}
}

func (o *SlogObserver) OnCommandEnd(ctx context.Context, event *CommandEndEvent) {
	if event.Panicked {
		if o.minLevel <= slog.LevelError {
			o.logger.ErrorContext(ctx, "command panicked",
				slog.Int("handle", int(event.Handle)),
				slog.String("command", event.Command),
				slog.String("error", event.Error.Error()),
			)
		}
		return
	}
	if o.minLevel <= slog.LevelDebug {
		attrs := []any{
			slog.Int("handle", int(event.Handle)),
			slog.String("command", event.Command),
			slog.Duration("duration", event.Duration),
		}
		if event.Error != nil {
			attrs = append(attrs, slog.String("error", event.Error.Error()))
		}
		o.logger.DebugContext(ctx, "command completed", attrs...)
	}
}
