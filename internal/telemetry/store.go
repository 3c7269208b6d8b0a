package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/witmigrate/witmigrate/internal/linkfix"
	"github.com/witmigrate/witmigrate/internal/types"
)

const storeScopeName = "github.com/witmigrate/witmigrate/store"

// InstrumentedStore wraps linkfix.WorkItemStore with OTel tracing and metrics.
// Every method gets a span and is counted in witm.store.* metrics.
type InstrumentedStore struct {
	inner  linkfix.WorkItemStore
	tracer trace.Tracer
	ops    metric.Int64Counter
	dur    metric.Float64Histogram
	errs   metric.Int64Counter
}

// WrapStore returns s decorated with OTel instrumentation.
// When telemetry is disabled, s is returned as-is.
func WrapStore(s linkfix.WorkItemStore) linkfix.WorkItemStore {
	if !Enabled() {
		return s
	}
	return newInstrumentedStore(s, Meter(storeScopeName), Tracer(storeScopeName))
}

func newInstrumentedStore(s linkfix.WorkItemStore, m metric.Meter, tr trace.Tracer) *InstrumentedStore {
	ops, _ := m.Int64Counter("witm.store.operations",
		metric.WithDescription("Total work item store operations executed"),
	)
	dur, _ := m.Float64Histogram("witm.store.operation.duration",
		metric.WithDescription("Store operation duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	errs, _ := m.Int64Counter("witm.store.errors",
		metric.WithDescription("Total work item store errors"),
	)
	return &InstrumentedStore{inner: s, tracer: tr, ops: ops, dur: dur, errs: errs}
}

func (s *InstrumentedStore) op(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	all := append([]attribute.KeyValue{attribute.String("witm.store.operation", name)}, attrs...)
	ctx, span := s.tracer.Start(ctx, "store."+name,
		trace.WithAttributes(all...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	s.ops.Add(ctx, 1, metric.WithAttributes(all...))
	return ctx, span, time.Now()
}

func (s *InstrumentedStore) done(ctx context.Context, span trace.Span, start time.Time, err error, attrs ...attribute.KeyValue) {
	ms := float64(time.Since(start).Milliseconds())
	s.dur.Record(ctx, ms, metric.WithAttributes(attrs...))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.errs.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
	span.End()
}

func (s *InstrumentedStore) GetWorkItem(ctx context.Context, id int) (*types.WorkItem, error) {
	attrs := []attribute.KeyValue{attribute.Int("witm.item.id", id)}
	ctx, span, t := s.op(ctx, "GetWorkItem", attrs...)
	wi, err := s.inner.GetWorkItem(ctx, id)
	s.done(ctx, span, t, err, attrs...)
	return wi, err
}

func (s *InstrumentedStore) AddLink(ctx context.Context, wi *types.WorkItem, link types.ExternalLink) error {
	attrs := []attribute.KeyValue{
		attribute.Int("witm.item.id", wi.ID),
		attribute.String("witm.link.type", string(link.Type)),
	}
	ctx, span, t := s.op(ctx, "AddLink", attrs...)
	err := s.inner.AddLink(ctx, wi, link)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) RemoveLink(ctx context.Context, wi *types.WorkItem, link types.ExternalLink) error {
	attrs := []attribute.KeyValue{
		attribute.Int("witm.item.id", wi.ID),
		attribute.String("witm.link.type", string(link.Type)),
	}
	ctx, span, t := s.op(ctx, "RemoveLink", attrs...)
	err := s.inner.RemoveLink(ctx, wi, link)
	s.done(ctx, span, t, err, attrs...)
	return err
}

func (s *InstrumentedStore) Save(ctx context.Context, wi *types.WorkItem) error {
	attrs := []attribute.KeyValue{attribute.Int("witm.item.id", wi.ID)}
	ctx, span, t := s.op(ctx, "Save", attrs...)
	err := s.inner.Save(ctx, wi)
	s.done(ctx, span, t, err, attrs...)
	return err
}
