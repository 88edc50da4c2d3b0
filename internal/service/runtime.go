package service

import (
	"context"

	"salvage-settlement/internal/clock"
	"salvage-settlement/internal/core/domain"
	"salvage-settlement/internal/core/ports"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "salvage-settlement/internal/service"

// Runtime bundles the collaborators shared by every service.
type Runtime struct {
	Transactor ports.DBTransactor
	Audit      ports.AuditService
	Clock      clock.Clock
	Tracer     trace.TracerProvider
	Meter      metric.MeterProvider
	Log        zerolog.Logger
}

func (rt Runtime) withDefaults() Runtime {
	if rt.Clock == nil {
		rt.Clock = clock.Real{}
	}
	if rt.Tracer == nil {
		rt.Tracer = tracenoop.NewTracerProvider()
	}
	if rt.Meter == nil {
		rt.Meter = metricnoop.NewMeterProvider()
	}
	if rt.Audit == nil {
		rt.Audit = NewAuditService(nil, rt.Log)
	}
	return rt
}

func (rt Runtime) tracer() trace.Tracer {
	return rt.Tracer.Tracer(instrumentationName)
}

// counter returns a named counter, falling back to a no-op instrument.
func (rt Runtime) counter(name, desc string) metric.Int64Counter {
	c, err := rt.Meter.Meter(instrumentationName).Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		rt.Log.Warn().Err(err).Str("instrument", name).Msg("metric instrument unavailable")
		return metricnoop.Int64Counter{}
	}
	return c
}

// endSpan records err on the span before ending it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func uuidAttr(key string, id interface{ String() string }) attribute.KeyValue {
	return attribute.String(key, id.String())
}

// auditBatch collects entries produced inside a transaction. They are only
// logged once the transaction has committed.
type auditBatch []*domain.AuditLog

func (b *auditBatch) add(entries ...*domain.AuditLog) {
	for _, e := range entries {
		if e != nil {
			*b = append(*b, e)
		}
	}
}

func (b auditBatch) flush(ctx context.Context, svc ports.AuditService) {
	for _, e := range b {
		svc.Log(ctx, e)
	}
}

// notifications are likewise delivered after commit.
type notificationBatch []domain.NotificationEvent

func (b notificationBatch) send(ctx context.Context, n ports.Notifier) {
	if n == nil {
		return
	}
	for _, ev := range b {
		n.Notify(ctx, ev)
	}
}
