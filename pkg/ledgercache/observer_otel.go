package ledgercache

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// timeNow stamps span ends; spans are recorded after the event completes.
var timeNow = time.Now

// OTelObserver implements Observer using OpenTelemetry for traces and metrics.
//
// Example:
//
//	tracer := otel.Tracer("ledgercache")
//	meter := otel.Meter("ledgercache")
//	observer, _ := ledgercache.NewOTelObserver(tracer, meter)
type OTelObserver struct {
	tracer trace.Tracer

	cacheHits       metric.Int64Counter
	cacheMisses     metric.Int64Counter
	fetchDuration   metric.Float64Histogram
	fetchErrors     metric.Int64Counter
	purged          metric.Int64Counter
	commandDuration metric.Float64Histogram
}

// NewOTelObserver creates an OpenTelemetry observer.
func NewOTelObserver(tracer trace.Tracer, meter metric.Meter) (*OTelObserver, error) {
	cacheHits, err := meter.Int64Counter(
		"ledgercache.cache.hits",
		metric.WithDescription("Number of GETs served from cache"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache hits counter: %w", err)
	}

	cacheMisses, err := meter.Int64Counter(
		"ledgercache.cache.misses",
		metric.WithDescription("Number of GETs that required a ledger fetch"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cache misses counter: %w", err)
	}

	fetchDuration, err := meter.Float64Histogram(
		"ledgercache.fetch.duration",
		metric.WithDescription("Duration of verified ledger fetches in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch duration histogram: %w", err)
	}

	fetchErrors, err := meter.Int64Counter(
		"ledgercache.fetch.errors",
		metric.WithDescription("Number of failed ledger fetches"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create fetch errors counter: %w", err)
	}

	purged, err := meter.Int64Counter(
		"ledgercache.purge.removed",
		metric.WithDescription("Number of cache entries removed by purge"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create purge counter: %w", err)
	}

	commandDuration, err := meter.Float64Histogram(
		"ledgercache.command.duration",
		metric.WithDescription("Execution time of dispatched commands in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create command duration histogram: %w", err)
	}

	return &OTelObserver{
		tracer:          tracer,
		cacheHits:       cacheHits,
		cacheMisses:     cacheMisses,
		fetchDuration:   fetchDuration,
		fetchErrors:     fetchErrors,
		purged:          purged,
		commandDuration: commandDuration,
	}, nil
}

func (o *OTelObserver) OnCacheCheck(ctx context.Context, event *CacheCheckEvent) {
	attrs := metric.WithAttributes(attribute.String("kind", event.Kind.String()))
	if event.Decision == ServeCached {
		o.cacheHits.Add(ctx, 1, attrs)
	} else {
		o.cacheMisses.Add(ctx, 1, attrs)
	}

	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		span.AddEvent("cache_check", trace.WithAttributes(
			attribute.String("id", event.ID),
			attribute.Bool("hit", event.Hit),
			attribute.String("decision", event.Decision.String()),
		))
	}
}

func (o *OTelObserver) OnFetch(ctx context.Context, event *FetchEvent) {
	// The fetch already happened; record it as a span with explicit timestamps.
	end := trace.WithTimestamp(timeNow())
	_, span := o.tracer.Start(ctx, "ledger.fetch",
		trace.WithTimestamp(timeNow().Add(-event.Duration)),
		trace.WithAttributes(
			attribute.Int("pool", int(event.Pool)),
			attribute.String("kind", event.Kind.String()),
			attribute.String("id", event.ID),
			attribute.String("txn_type", event.TxnType),
		),
	)
	if event.Error != nil {
		span.SetStatus(codes.Error, event.Error.Error())
		span.RecordError(event.Error)
		o.fetchErrors.Add(ctx, 1, metric.WithAttributes(
			attribute.String("kind", event.Kind.String()),
			attribute.String("reason", ErrorReason(event.Error)),
		))
	} else {
		span.SetStatus(codes.Ok, "")
		if event.Metadata.SeqNo != nil {
			span.SetAttributes(attribute.Int64("seq_no", int64(*event.Metadata.SeqNo)))
		}
	}
	span.End(end)

	o.fetchDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
		attribute.String("kind", event.Kind.String()),
		attribute.Bool("success", event.Error == nil),
	))
}

func (o *OTelObserver) OnStore(ctx context.Context, event *StoreEvent) {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() && event.Error != nil {
		span.AddEvent("cache_store_failed", trace.WithAttributes(
			attribute.String("id", event.ID),
			attribute.String("error", event.Error.Error()),
		))
	}
}

func (o *OTelObserver) OnPurge(ctx context.Context, event *PurgeEvent) {
	o.purged.Add(ctx, int64(event.Removed), metric.WithAttributes(
		attribute.String("kind", event.Kind.String()),
	))
}

func (o *OTelObserver) OnCommandStart(ctx context.Context, event *CommandStartEvent) {}

func (o *OTelObserver) OnCommandEnd(ctx context.Context, event *CommandEndEvent) {
	o.commandDuration.Record(ctx, event.Duration.Seconds(), metric.WithAttributes(
		attribute.String("command", event.Command),
		attribute.Bool("success", event.Error == nil),
		attribute.Bool("panicked", event.Panicked),
	))
}
